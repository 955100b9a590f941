package domain

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageDecode  Stage = "decode"
	StageFit     Stage = "fit"
	StageExtract Stage = "extract"
	StageEncode  Stage = "encode"
)

var (
	// ErrInvalidGeometry marks zero dimensions or a transform that leaves part
	// of the crop box uncovered. It always indicates a caller bug.
	ErrInvalidGeometry = errors.New("invalid geometry")

	ErrUnsupportedMime = errors.New("unsupported output mime type")

	ErrApplyInFlight    = errors.New("apply already in flight")
	ErrSessionState     = errors.New("operation not allowed in current session state")
	ErrSessionCancelled = errors.New("session cancelled")
)

type DecodeError struct {
	MimeType string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.MimeType == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode image (%s): %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// BudgetUnreachableError reports that no quality down to the search floor
// produced an encoding within MaxBytes.
type BudgetUnreachableError struct {
	MinAchievedBytes int
	MaxBytes         int
}

func (e *BudgetUnreachableError) Error() string {
	return fmt.Sprintf("byte budget unreachable: smallest encoding %d bytes exceeds max %d bytes", e.MinAchievedBytes, e.MaxBytes)
}

// StageError tags a failure with the pipeline stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func StageFailure(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Recoverable reports whether err is an expected business failure that the
// user can fix by adjusting the crop or the budget.
func Recoverable(err error) bool {
	var budgetErr *BudgetUnreachableError
	return errors.As(err, &budgetErr)
}

// Permanent reports whether retrying the same input can never succeed.
func Permanent(err error) bool {
	if Recoverable(err) || errors.Is(err, ErrInvalidGeometry) || errors.Is(err, ErrUnsupportedMime) {
		return true
	}
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}
