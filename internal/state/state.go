// Package state defines the persisted per-table comparison baseline and
// the store interface it is read from and written back through. The store
// is a key/blob store reached over the network, so writes are guarded by
// version-based compare-and-swap rather than locking.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rindang/driftwatch/pkg/diff"
)

// TableState is the persisted record for one (datasource, table) pair.
// Exactly one of the three payload pointers is populated, selected by the
// Strategy tag; Validate enforces the invariant since Go cannot express a
// closed sum directly. Switching a table's strategy invalidates prior
// state and forces a full baseline rebuild.
type TableState struct {
	Version     int64             `json:"version"`
	Strategy    string            `json:"strategy"`
	LastRunAt   time.Time         `json:"last_run_at"`
	Hash        *HashState        `json:"hash,omitempty"`
	Timestamp   *TimestampState   `json:"timestamp,omitempty"`
	Partitioned *PartitionedState `json:"partitioned,omitempty"`
}

// HashState is the full-hash payload: the complete per-key digest map of
// the last successful run.
type HashState struct {
	KeyDigests map[diff.Key]diff.Digest `json:"key_digests"`
}

// TimestampState is the timestamp payload. RecentKeys is a best-effort,
// bounded window of keys already observed, used to split added from
// modified; keys aged out of the window are re-reported as added.
type TimestampState struct {
	LastSeen   time.Time  `json:"last_timestamp_seen"`
	RecentKeys []diff.Key `json:"recent_keys,omitempty"`
}

// PartitionedState is the partitioned-hash payload: an ordered sequence of
// contiguous, non-overlapping partitions covering the key space observed
// at the last run.
type PartitionedState struct {
	Partitions []PartitionState `json:"partitions"`
}

// PartitionState describes one hashed key range. RowCount equals the
// number of keys folded into Aggregate; the fold is order sensitive
// (ascending key order). SourceChecksum holds the database-computed range
// fingerprint when the row source supports one.
type PartitionState struct {
	Range          diff.KeyRange            `json:"range"`
	Aggregate      diff.Digest              `json:"aggregate_digest"`
	RowCount       int64                    `json:"row_count"`
	SourceChecksum *SourceChecksum          `json:"source_checksum,omitempty"`
	KeyDigests     map[diff.Key]diff.Digest `json:"key_digests"`
}

// SourceChecksum is a cheap range fingerprint computed by the source
// database (row count plus an aggregate checksum).
type SourceChecksum struct {
	Rows int64 `json:"rows"`
	Sum  int64 `json:"sum"`
}

// Equal reports whether two fingerprints match.
func (c *SourceChecksum) Equal(o *SourceChecksum) bool {
	return c != nil && o != nil && c.Rows == o.Rows && c.Sum == o.Sum
}

// Validate checks the one-populated-payload invariant against the
// Strategy tag.
func (s *TableState) Validate() error {
	populated := 0
	if s.Hash != nil {
		populated++
	}
	if s.Timestamp != nil {
		populated++
	}
	if s.Partitioned != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("table state must carry exactly one payload, has %d", populated)
	}
	switch s.Strategy {
	case "timestamp":
		if s.Timestamp == nil {
			return fmt.Errorf("strategy %q does not match populated payload", s.Strategy)
		}
	case "hash":
		if s.Hash == nil {
			return fmt.Errorf("strategy %q does not match populated payload", s.Strategy)
		}
	case "hash-partition":
		if s.Partitioned == nil {
			return fmt.Errorf("strategy %q does not match populated payload", s.Strategy)
		}
	default:
		return fmt.Errorf("unknown strategy %q in persisted state", s.Strategy)
	}
	return nil
}

// Encode serializes the state for storage.
func Encode(s *TableState) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to encode invalid state: %w", err)
	}
	return json.Marshal(s)
}

// Decode parses a stored state blob.
func Decode(data []byte) (*TableState, error) {
	var s TableState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode table state: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Store is the state store adapter. Get returns diff.ErrStateNotFound on
// first run. Put is a conditional write: it succeeds only when the stored
// version still equals expectedVersion (0 for "no state yet"), otherwise
// it returns diff.ErrVersionConflict and writes nothing. This is the sole
// concurrency-control mechanism between runs of the same table.
type Store interface {
	Get(ctx context.Context, datasource, table string) (*TableState, error)
	Put(ctx context.Context, datasource, table string, s *TableState, expectedVersion int64) error
}

// ObjectKey is the blob key a table's state lives under, shared by all
// store backends so operators can switch backends by copying objects.
func ObjectKey(prefix, datasource, table string) string {
	key := fmt.Sprintf("state/%s/%s.json", datasource, table)
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}
