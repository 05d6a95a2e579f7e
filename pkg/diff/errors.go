package diff

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes a table run can surface. Callers
// classify with errors.Is; VersionConflict and SourceUnavailable are
// retryable, the others are not.
var (
	// ErrStateNotFound signals that no prior state exists for a table.
	// It is not a failure: it marks the first run, which the strategies
	// treat as a 100% additions baseline.
	ErrStateNotFound = errors.New("table state not found")

	// ErrVersionConflict signals that a concurrent run won the
	// conditional state write. The losing run's change set must be
	// discarded, never emitted as authoritative.
	ErrVersionConflict = errors.New("state version conflict")

	// ErrUnknownMethod signals a table configured with a method that has
	// no registered strategy. Fatal for that table only.
	ErrUnknownMethod = errors.New("unknown change detection method")

	// ErrSourceUnavailable signals a row source fetch failure.
	ErrSourceUnavailable = errors.New("row source unavailable")
)

// SchemaMismatchError reports a declared column absent from a fetched row.
// It aborts the table's run rather than silently hashing a partial row.
type SchemaMismatchError struct {
	Table  string
	Column string
}

func (e *SchemaMismatchError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("schema mismatch: column %s missing from row", e.Column)
	}
	return fmt.Sprintf("schema mismatch: column %s missing from row of table %s", e.Column, e.Table)
}

// SourceError wraps a row source failure so callers can match it against
// ErrSourceUnavailable while keeping the underlying cause.
type SourceError struct {
	Op    string
	Table string
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }
