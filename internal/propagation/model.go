package propagation

import (
	"errors"
	"fmt"
	"time"

	"github.com/star/skytrack/internal/tle"
)

// Propagator turns an element record and a time into a geodetic state.
// Implementations must be safe for concurrent use.
type Propagator interface {
	Name() string
	Propagate(rec tle.ElementRecord, t time.Time) (State, error)
}

// fallback uses secondary only when primary cannot be initialised for a record.
// Numeric failures from primary are returned as-is.
type fallback struct {
	primary   Propagator
	secondary Propagator
}

// Fallback returns a Propagator that tries primary and, when primary reports
// ErrInputUnavailable, retries the record with secondary.
func Fallback(primary, secondary Propagator) Propagator {
	return &fallback{primary: primary, secondary: secondary}
}

func (f *fallback) Name() string {
	return f.primary.Name()
}

func (f *fallback) Propagate(rec tle.ElementRecord, t time.Time) (State, error) {
	st, err := f.primary.Propagate(rec, t)
	if err == nil || !errors.Is(err, ErrInputUnavailable) {
		return st, err
	}
	return f.secondary.Propagate(rec, t)
}

// New builds the Propagator for a configured model name. An empty name selects
// SGP4 with the Kepler model as fallback.
func New(model string) (Propagator, error) {
	switch model {
	case "", ModelSGP4:
		return Fallback(NewSGP4(), NewKepler()), nil
	case ModelKepler:
		return NewKepler(), nil
	default:
		return nil, fmt.Errorf("unknown propagation model %q", model)
	}
}
