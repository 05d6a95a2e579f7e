package diff

import (
	"context"
	"time"
)

// RowSource is the database-facing interface the detection strategies fetch
// through. Implementations return rows as ordered-field records; no
// ordering is guaranteed across calls unless a method says otherwise. A
// fetch failure must be retryable by the caller, so implementations wrap
// errors to match ErrSourceUnavailable.
type RowSource interface {
	// FetchFull returns every row of the table. A nil or empty columns
	// slice selects all columns.
	FetchFull(ctx context.Context, table string, columns []string) ([]Row, error)

	// FetchRange returns the rows whose key falls inside r, ordered by
	// ascending key.
	FetchRange(ctx context.Context, table, keyColumn string, r KeyRange, columns []string) ([]Row, error)

	// FetchSince returns the rows whose timestamp column is strictly
	// greater than after.
	FetchSince(ctx context.Context, table, tsColumn string, after time.Time) ([]Row, error)

	// PartitionBounds splits the table's current key space into
	// contiguous ranges of roughly targetRows rows each, recomputed from
	// the live table. The returned ranges are ordered and tile the whole
	// key space (first range unbounded low, last unbounded high).
	PartitionBounds(ctx context.Context, table, keyColumn string, targetRows int) ([]KeyRange, error)
}

// RangeChecksummer is an optional RowSource capability: a cheap,
// source-computed fingerprint of a key range. When available, the
// partitioned strategy uses it to skip fetching and hashing ranges whose
// fingerprint is unchanged since the prior run.
type RangeChecksummer interface {
	RangeChecksum(ctx context.Context, table, keyColumn string, r KeyRange) (rows int64, sum int64, err error)
}
