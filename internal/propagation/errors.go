package propagation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSolution means the model produced a position that cannot be an orbit,
	// typically a decayed satellite below the surface.
	ErrNoSolution = errors.New("no orbital solution")

	// ErrComputation means the model produced non-finite or otherwise unusable output.
	ErrComputation = errors.New("propagation computation failed")

	// ErrInputUnavailable means the model could not be initialised from the record.
	ErrInputUnavailable = errors.New("propagation input unavailable")
)

// PropagationError is a per-satellite failure. Kind is one of the package sentinels.
type PropagationError struct {
	Model   string
	NORADID int
	Kind    error
	Detail  string
}

func (e *PropagationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: NORAD %d: %v", e.Model, e.NORADID, e.Kind)
	}
	return fmt.Sprintf("%s: NORAD %d: %v: %s", e.Model, e.NORADID, e.Kind, e.Detail)
}

func (e *PropagationError) Unwrap() error {
	return e.Kind
}

func newError(model string, noradID int, kind error, format string, args ...any) *PropagationError {
	return &PropagationError{
		Model:   model,
		NORADID: noradID,
		Kind:    kind,
		Detail:  fmt.Sprintf(format, args...),
	}
}
