package ml

import "errors"

// Error kinds shared by the trainer, the artifact store and the prediction
// paths. Callers test for them with errors.Is. Every error returned by the
// Trainer, Predictor, Evaluator, InferenceService and artifact store wraps
// exactly one kind, except cancellation, which is returned as ctx.Err().
// Lower-level helpers such as the Vocabulary return plain errors that these
// callers wrap.
var (
	// ErrValidation is caused by the client: wrong input shape or values.
	ErrValidation = errors.New("validation error")
	// ErrSchemaMismatch means input columns do not match the model schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrSchema means a dataset cannot be trained on as given.
	ErrSchema = errors.New("schema error")
	// ErrNotFound means no artifact has been published yet.
	ErrNotFound = errors.New("artifact not found")
	// ErrCorruptArtifact means a version has a missing or inconsistent half.
	ErrCorruptArtifact = errors.New("corrupt artifact")
	// ErrInsufficientData means a stratified split is infeasible.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrPersistence means a write to disk failed. For an artifact, nothing
	// was published.
	ErrPersistence = errors.New("persistence error")
	// ErrPrediction means the model failed after the input passed validation.
	ErrPrediction = errors.New("prediction error")
	// ErrQualityGate means a trained model scored below the configured floor
	// and was not published.
	ErrQualityGate = errors.New("quality gate failed")
)

var kinds = []error{
	ErrValidation,
	ErrSchemaMismatch,
	ErrSchema,
	ErrNotFound,
	ErrCorruptArtifact,
	ErrInsufficientData,
	ErrPersistence,
	ErrPrediction,
	ErrQualityGate,
}

// Kind returns the error kind err wraps, or nil for foreign errors.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
