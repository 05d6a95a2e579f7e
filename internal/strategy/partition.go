package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/rindang/driftwatch/internal/config"
	"github.com/rindang/driftwatch/internal/hash"
	"github.com/rindang/driftwatch/internal/logging"
	"github.com/rindang/driftwatch/internal/state"
	"github.com/rindang/driftwatch/pkg/diff"
)

// PartitionedHash splits the key space into contiguous ranges and hashes
// each range into one order-sensitive aggregate so unchanged regions of
// very large tables are skipped. Partition boundaries are recomputed from
// the live table every run; correctness under boundary drift (no key
// double-counted or dropped) takes priority over partition stability,
// which works because both the prior and the current partition lists tile
// the entire key space.
//
// Per-key digests are retained for every partition, not just changed
// ones. The aggregate and the source checksum skip fetch, hash and
// per-row diff work for unchanged ranges.
type PartitionedHash struct {
	log hclog.Logger
}

func NewPartitionedHash() *PartitionedHash {
	return &PartitionedHash{log: logging.GetLogger()}
}

func (p *PartitionedHash) Name() config.Method { return config.MethodHashPartition }

func (p *PartitionedHash) Detect(ctx context.Context, in Input) (*Result, error) {
	ranges, err := in.Source.PartitionBounds(ctx, in.Table, in.Config.PrimaryKey, in.Config.PartitionSizeOrDefault())
	if err != nil {
		return nil, err
	}

	var priorParts []state.PartitionState
	if in.Prior != nil {
		priorParts = in.Prior.Partitioned.Partitions
	}
	checksummer, canChecksum := in.Source.(diff.RangeChecksummer)

	changes := &diff.ChangeSet{Datasource: in.Datasource, Table: in.Table}
	newParts := make([]state.PartitionState, 0, len(ranges))
	skipped := 0

	for _, r := range ranges {
		aligned := alignedPartition(priorParts, r)

		// Cheap pre-check: if the source can fingerprint the range and
		// the fingerprint matches the stored one, the partition is
		// carried forward without fetching a single row.
		if aligned != nil && canChecksum && aligned.SourceChecksum != nil {
			rows, sum, err := checksummer.RangeChecksum(ctx, in.Table, in.Config.PrimaryKey, r)
			if err != nil {
				return nil, err
			}
			if aligned.SourceChecksum.Equal(&state.SourceChecksum{Rows: rows, Sum: sum}) {
				newParts = append(newParts, *aligned)
				skipped++
				continue
			}
		}

		cur, keys, err := p.hashRange(ctx, in, r)
		if err != nil {
			return nil, err
		}
		if canChecksum {
			rows, sum, err := checksummer.RangeChecksum(ctx, in.Table, in.Config.PrimaryKey, r)
			if err != nil {
				return nil, err
			}
			cur.part.SourceChecksum = &state.SourceChecksum{Rows: rows, Sum: sum}
		}

		// Aligned range with an identical aggregate: content unchanged,
		// skip the per-row diff.
		if aligned != nil && aligned.Aggregate == cur.part.Aggregate && aligned.RowCount == cur.part.RowCount {
			newParts = append(newParts, cur.part)
			continue
		}

		p.diffPartition(changes, priorParts, cur, keys, r)
		newParts = append(newParts, cur.part)
	}

	p.log.Debug("partitioned run complete", "table", in.Table,
		"partitions", len(ranges), "skipped", skipped)
	sortChangeSet(changes, in.Config.PrimaryKey)

	return &Result{
		Changes: changes,
		State: &state.TableState{
			Strategy:    string(config.MethodHashPartition),
			Partitioned: &state.PartitionedState{Partitions: newParts},
		},
	}, nil
}

type hashedRange struct {
	part state.PartitionState
	rows map[diff.Key]diff.Row
}

// hashRange fetches one key range in ascending key order, digests every
// row and folds the digests into the partition aggregate.
func (p *PartitionedHash) hashRange(ctx context.Context, in Input, r diff.KeyRange) (*hashedRange, []diff.Key, error) {
	rows, err := in.Source.FetchRange(ctx, in.Table, in.Config.PrimaryKey, r, nil)
	if err != nil {
		return nil, nil, err
	}

	part := state.PartitionState{
		Range:      r,
		KeyDigests: make(map[diff.Key]diff.Digest, len(rows)),
	}
	byKey := make(map[diff.Key]diff.Row, len(rows))
	keys := make([]diff.Key, 0, len(rows))

	for _, row := range rows {
		key, err := diff.KeyOf(row, in.Config.PrimaryKey)
		if err != nil {
			if _, ok := err.(*diff.SchemaMismatchError); ok {
				return nil, nil, fmt.Errorf("table %s: %w", in.Table, err)
			}
			p.log.Warn("skipping row without usable primary key", "table", in.Table, "error", err)
			continue
		}
		cols := hash.ResolveColumns(in.Config.HashColumns, row)
		digest, err := hash.RowDigest(row, cols)
		if err != nil {
			return nil, nil, fmt.Errorf("table %s: %w", in.Table, err)
		}
		part.KeyDigests[key] = digest
		byKey[key] = row
		keys = append(keys, key)
	}

	// The fetch is ordered by key, but the fold re-sorts defensively so
	// the aggregate stays comparable even if a source implementation
	// forgets the ORDER BY.
	sort.Slice(keys, func(i, j int) bool { return diff.CompareKeys(keys[i], keys[j]) < 0 })
	var agg diff.Digest
	for _, k := range keys {
		agg = hash.Fold(agg, part.KeyDigests[k])
	}
	part.Aggregate = agg
	part.RowCount = int64(len(keys))

	return &hashedRange{part: part, rows: byKey}, keys, nil
}

// diffPartition classifies the rows of one changed range against the
// prior per-key view restricted to that range. Because both partition
// lists tile the key space, every prior key lands in exactly one current
// range, so per-range deletion detection neither drops nor duplicates
// keys even when boundaries drift.
func (p *PartitionedHash) diffPartition(
	changes *diff.ChangeSet,
	priorParts []state.PartitionState,
	cur *hashedRange,
	keys []diff.Key,
	r diff.KeyRange,
) {
	priorView := make(map[diff.Key]diff.Digest)
	for i := range priorParts {
		if !priorParts[i].Range.Overlaps(r) {
			continue
		}
		for k, d := range priorParts[i].KeyDigests {
			if r.Contains(k) {
				priorView[k] = d
			}
		}
	}

	for _, key := range keys {
		digest := cur.part.KeyDigests[key]
		old, seen := priorView[key]
		switch {
		case !seen:
			changes.Added = append(changes.Added, cur.rows[key])
		case old != digest:
			oldCopy := old
			changes.Modified = append(changes.Modified, diff.Modification{
				Key: key, OldDigest: &oldCopy, Row: cur.rows[key],
			})
		}
	}
	for key := range priorView {
		if _, ok := cur.part.KeyDigests[key]; !ok {
			changes.Deleted = append(changes.Deleted, key)
		}
	}
}

// alignedPartition finds a stored partition whose range is identical to r.
func alignedPartition(parts []state.PartitionState, r diff.KeyRange) *state.PartitionState {
	for i := range parts {
		if parts[i].Range == r {
			return &parts[i]
		}
	}
	return nil
}
