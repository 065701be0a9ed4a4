package ml

import (
	"fmt"
	"sort"
)

// Vocabulary is the bijection between activity labels and dense integer codes
// 0..k-1. It is immutable once built and travels with the model it encoded.
type Vocabulary struct {
	labels []string
	codes  map[string]int
}

// NewVocabulary builds a vocabulary from observed labels. Duplicates collapse
// and codes follow ascending label order.
func NewVocabulary(observed []string) (*Vocabulary, error) {
	seen := make(map[string]struct{}, len(observed))
	var labels []string
	for _, l := range observed {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return VocabularyFromLabels(labels)
}

// VocabularyFromLabels rebuilds a vocabulary where labels[i] has code i, as
// read back from an artifact.
func VocabularyFromLabels(labels []string) (*Vocabulary, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("vocabulary has no labels")
	}
	v := &Vocabulary{
		labels: make([]string, len(labels)),
		codes:  make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("vocabulary label %d is empty", i)
		}
		if _, dup := v.codes[l]; dup {
			return nil, fmt.Errorf("vocabulary label %q repeated", l)
		}
		v.labels[i] = l
		v.codes[l] = i
	}
	return v, nil
}

// Len returns the number of labels.
func (v *Vocabulary) Len() int {
	return len(v.labels)
}

// Labels returns the labels in code order. The slice is a copy.
func (v *Vocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

// Encode returns the code of a label.
func (v *Vocabulary) Encode(label string) (int, error) {
	code, ok := v.codes[label]
	if !ok {
		return 0, fmt.Errorf("label %q is not in the vocabulary", label)
	}
	return code, nil
}

// EncodeAll encodes every label, failing on the first unknown one.
func (v *Vocabulary) EncodeAll(labels []string) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		code, err := v.Encode(l)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = code
	}
	return out, nil
}

// Decode returns the label of a code.
func (v *Vocabulary) Decode(code int) (string, error) {
	if code < 0 || code >= len(v.labels) {
		return "", fmt.Errorf("code %d outside vocabulary of %d labels", code, len(v.labels))
	}
	return v.labels[code], nil
}
