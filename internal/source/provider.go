// Package source implements the constellation data providers: network feeds
// that report positions directly, element catalogs that are propagated
// locally, and a deterministic synthetic generator used when everything else
// is down.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSourceUnavailable wraps every provider failure: network, timeout,
	// authentication or an unusable response.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrConfiguration marks a provider that cannot run without credentials.
	// Such a provider never makes a network call.
	ErrConfiguration = errors.New("provider not configured")
)

// Provider fetches a constellation snapshot from one data source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, now time.Time) (*Snapshot, error)
}

// SourceError is a failure from a named provider. It matches both
// ErrSourceUnavailable and the underlying cause with errors.Is.
type SourceError struct {
	Provider string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Provider, ErrSourceUnavailable, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

func unavailable(provider string, err error) error {
	return &SourceError{Provider: provider, Err: err}
}

func unavailablef(provider, format string, args ...any) error {
	return unavailable(provider, fmt.Errorf(format, args...))
}
