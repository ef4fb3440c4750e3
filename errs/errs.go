// Package errs defines the collection's error kinds (spec §7): sentinel
// errors for the common cases, plus structured ParseError/InvariantError
// types following the teacher's nodestorage/v2 VersionError pattern, so
// callers can errors.Is/errors.As against either the sentinel or the
// detail.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a row-id or group key is not present.
	ErrNotFound = errors.New("not found")

	// ErrPoisoned is returned by every operation on a collection after an
	// invariant violation has been detected.
	ErrPoisoned = errors.New("collection is poisoned")

	// ErrClosed is returned when operating on a destroyed collection.
	ErrClosed = errors.New("collection is closed")

	// ErrCapacity is returned by a collection's producer calls (Insert,
	// InsertBatch, Update, Remove) when backpressure rejects the delta or
	// the ring buffer is full.
	ErrCapacity = errors.New("ring buffer at capacity")

	// ErrUnsupportedStage is returned (as the Unwrap target of a
	// ParseError) when a pipeline stage name falls outside the
	// incremental core's supported set.
	ErrUnsupportedStage = errors.New("unsupported stage")

	// ErrUnsupportedOperator is returned (as the Unwrap target of a
	// ParseError) when an expression operator falls outside the
	// incremental core's supported set.
	ErrUnsupportedOperator = errors.New("unsupported operator")
)

// ParseError reports a malformed stage or expression detected at
// Install time (spec §7, "surfaced at install time before any delta is
// processed").
type ParseError struct {
	StageIndex int
	StageName  string
	Reason     string
	cause      error // ErrUnsupportedStage, ErrUnsupportedOperator, or nil
}

// NewParseError returns a ParseError unwrapping to no particular
// sentinel (a plain shape/arity mistake).
func NewParseError(stageIndex int, stageName, reason string) *ParseError {
	return &ParseError{StageIndex: stageIndex, StageName: stageName, Reason: reason}
}

// NewUnsupportedStageError returns a ParseError that unwraps to
// ErrUnsupportedStage, signaling the caller should fall back to the
// external one-shot evaluator rather than treat this as a hard failure.
func NewUnsupportedStageError(stageIndex int, stageName, reason string) *ParseError {
	return &ParseError{StageIndex: stageIndex, StageName: stageName, Reason: reason, cause: ErrUnsupportedStage}
}

// NewUnsupportedOperatorError returns a ParseError that unwraps to
// ErrUnsupportedOperator.
func NewUnsupportedOperatorError(stageIndex int, stageName, reason string) *ParseError {
	return &ParseError{StageIndex: stageIndex, StageName: stageName, Reason: reason, cause: ErrUnsupportedOperator}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stage %d (%s): %s", e.StageIndex, e.StageName, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return e.cause != nil && errors.Is(e.cause, target)
}

func (e *ParseError) Unwrap() error {
	return e.cause
}

// InvariantError reports detected state corruption (spec §7, e.g.
// "removing a row-id not in a group"). Any InvariantError transitions
// the owning collection to the poisoned state; every subsequent
// operation on it returns an error wrapping ErrPoisoned.
type InvariantError struct {
	Stage   string
	Detail  string
}

func NewInvariantError(stage, detail string) *InvariantError {
	return &InvariantError{Stage: stage, Detail: detail}
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Stage, e.Detail)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrPoisoned
}

func (e *InvariantError) Unwrap() error {
	return ErrPoisoned
}
