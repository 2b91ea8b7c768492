package pipeline

import (
	"errors"
	"fmt"
)

// State is a queue item's position in the reply pipeline.
type State string

const (
	StateEnqueued    State = "ENQUEUED"
	StateReplied     State = "REPLIED"
	StateSynthesized State = "SYNTHESIZED"
	StateCaptured    State = "CAPTURED"
	StateMuxed       State = "MUXED"
	StateFailed      State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StateMuxed || s == StateFailed
}

// Stage names the step that failed.
type Stage string

const (
	StageReply     Stage = "reply"
	StageSynthesis Stage = "synthesis"
	StageCapture   Stage = "capture"
	StageMux       Stage = "mux"
)

var (
	ErrMissingPrecondition = errors.New("missing precondition")
	ErrSynthesis           = errors.New("synthesis failure")
	ErrCapture             = errors.New("capture failure")
	ErrMux                 = errors.New("mux failure")
)

// StageError carries the item and stage of a per-item failure.
type StageError struct {
	ID    string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("item %s failed at %s: %v", e.ID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(id string, stage Stage, kind, cause error) *StageError {
	if cause == nil {
		return &StageError{ID: id, Stage: stage, Err: kind}
	}
	if kind == nil || errors.Is(cause, kind) {
		return &StageError{ID: id, Stage: stage, Err: cause}
	}
	return &StageError{ID: id, Stage: stage, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// Transition is one state change reported to the ledger.
type Transition struct {
	RunID     string
	ID        string
	State     State
	Stage     Stage
	Err       error
	VideoPath string
}
