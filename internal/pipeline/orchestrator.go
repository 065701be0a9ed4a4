// Package pipeline runs the ingest, train, predict and evaluate stages in
// order and reports per-stage outcomes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Policy decides what happens after a stage fails.
type Policy int

const (
	// AbortOnFailure stops at the first failed stage and skips the rest.
	AbortOnFailure Policy = iota
	// BestEffort records the failure and runs the remaining stages.
	BestEffort
)

func (p Policy) String() string {
	switch p {
	case AbortOnFailure:
		return "abort"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts "abort" and "best-effort".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort", "abort-on-failure", "fail-fast":
		return AbortOnFailure, nil
	case "best-effort", "besteffort", "continue":
		return BestEffort, nil
	default:
		return 0, fmt.Errorf("unknown pipeline policy %q", s)
	}
}

// Stage is one unit of pipeline work. Its effects must be atomic: a failed
// stage leaves the outputs of earlier stages untouched.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Status of a stage after a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StageResult records one stage execution.
type StageResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`

	err error
}

// Err returns the stage error, if any.
func (r StageResult) Err() error {
	return r.err
}

// Summary is the terminal report of a run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Policy    string        `json:"policy"`
	Outcome   string        `json:"outcome"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Stages    []StageResult `json:"stages"`
}

// Succeeded reports whether every stage succeeded.
func (s Summary) Succeeded() bool {
	for _, r := range s.Stages {
		if r.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Failed returns the failed stages.
func (s Summary) Failed() []StageResult {
	var out []StageResult
	for _, r := range s.Stages {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// Err joins the stage errors, or returns nil when nothing failed.
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Failed() {
		errs = append(errs, fmt.Errorf("stage %s: %w", r.Name, r.err))
	}
	return errors.Join(errs...)
}

// MetricsInterface defines metrics methods needed by the orchestrator.
type MetricsInterface interface {
	StageObserve(stage string, d time.Duration, err error)
	PipelineRunsInc(outcome string)
}

// Orchestrator runs stages sequentially under a failure policy.
type Orchestrator struct {
	policy  Policy
	metrics MetricsInterface
	now     func() time.Time
}

func New(policy Policy, metrics MetricsInterface) *Orchestrator {
	return &Orchestrator{policy: policy, metrics: metrics, now: time.Now}
}

// Run executes stages in order. A panicking stage is recorded as failed.
// Once a stage fails under AbortOnFailure, or ctx is done, the remaining
// stages are marked skipped.
func (o *Orchestrator) Run(ctx context.Context, stages []Stage) Summary {
	summary := Summary{
		RunID:     uuid.NewString(),
		Policy:    o.policy.String(),
		StartedAt: o.now(),
		Stages:    make([]StageResult, 0, len(stages)),
	}
	logger := log.With().Str("run_id", summary.RunID).Str("policy", summary.Policy).Logger()
	logger.Info().Int("stages", len(stages)).Msg("Pipeline started")

	stop := ""
	for _, st := range stages {
		if stop == "" && ctx.Err() != nil {
			stop = "canceled"
		}
		if stop != "" {
			summary.Stages = append(summary.Stages, StageResult{Name: st.Name, Status: StatusSkipped})
			logger.Warn().Str("stage", st.Name).Str("reason", stop).Msg("Stage skipped")
			continue
		}

		res := o.runStage(ctx, st)
		summary.Stages = append(summary.Stages, res)
		if o.metrics != nil {
			o.metrics.StageObserve(st.Name, res.Duration, res.err)
		}

		if res.Status == StatusFailed {
			logger.Error().Err(res.err).Str("stage", st.Name).Dur("duration", res.Duration).Msg("Stage failed")
			if o.policy == AbortOnFailure {
				stop = "aborted"
			}
			continue
		}
		logger.Info().Str("stage", st.Name).Dur("duration", res.Duration).Msg("Stage completed")
	}

	summary.Elapsed = o.now().Sub(summary.StartedAt)
	switch {
	case stop != "":
		summary.Outcome = stop
	case len(summary.Failed()) > 0:
		summary.Outcome = "failed"
	default:
		summary.Outcome = "succeeded"
	}
	if o.metrics != nil {
		o.metrics.PipelineRunsInc(summary.Outcome)
	}

	logger.Info().
		Str("outcome", summary.Outcome).
		Int("failed", len(summary.Failed())).
		Dur("elapsed", summary.Elapsed).
		Msg("Pipeline finished")
	return summary
}

func (o *Orchestrator) runStage(ctx context.Context, st Stage) (res StageResult) {
	res = StageResult{Name: st.Name, StartedAt: o.now()}
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("stage panicked: %v", r)
		}
		res.Duration = o.now().Sub(res.StartedAt)
		if res.err != nil {
			res.Status = StatusFailed
			res.Error = res.err.Error()
		} else {
			res.Status = StatusSucceeded
		}
	}()

	if st.Run == nil {
		res.err = errors.New("stage has no run function")
		return res
	}
	res.err = st.Run(ctx)
	return res
}
