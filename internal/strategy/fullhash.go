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

// FullHash fetches the entire table, digests every row and classifies
// against the prior per-key digest map. Strongest detection, O(table)
// I/O and hashing every run; the partitioned variant exists for tables
// where that is too expensive.
type FullHash struct {
	log hclog.Logger
}

func NewFullHash() *FullHash {
	return &FullHash{log: logging.GetLogger()}
}

func (f *FullHash) Name() config.Method { return config.MethodHash }

func (f *FullHash) Detect(ctx context.Context, in Input) (*Result, error) {
	rows, err := in.Source.FetchFull(ctx, in.Table, nil)
	if err != nil {
		return nil, err
	}

	var prior map[diff.Key]diff.Digest
	if in.Prior != nil {
		prior = in.Prior.Hash.KeyDigests
	}

	current := make(map[diff.Key]diff.Digest, len(rows))
	changes := &diff.ChangeSet{Datasource: in.Datasource, Table: in.Table}

	for _, row := range rows {
		key, err := diff.KeyOf(row, in.Config.PrimaryKey)
		if err != nil {
			if _, ok := err.(*diff.SchemaMismatchError); ok {
				return nil, fmt.Errorf("table %s: %w", in.Table, err)
			}
			// Rows without a usable key cannot be tracked across runs.
			f.log.Warn("skipping row without usable primary key", "table", in.Table, "error", err)
			continue
		}

		cols := hash.ResolveColumns(in.Config.HashColumns, row)
		digest, err := hash.RowDigest(row, cols)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", in.Table, err)
		}
		current[key] = digest

		old, seen := prior[key]
		switch {
		case !seen:
			changes.Added = append(changes.Added, row)
		case old != digest:
			oldCopy := old
			changes.Modified = append(changes.Modified, diff.Modification{
				Key: key, OldDigest: &oldCopy, Row: row,
			})
		}
	}

	for key := range prior {
		if _, ok := current[key]; !ok {
			changes.Deleted = append(changes.Deleted, key)
		}
	}
	sortChangeSet(changes, in.Config.PrimaryKey)

	return &Result{
		Changes: changes,
		State: &state.TableState{
			Strategy: string(config.MethodHash),
			Hash:     &state.HashState{KeyDigests: current},
		},
	}, nil
}

// sortChangeSet orders a change set by key so output is deterministic for
// identical input, which keeps reruns and exported snapshots comparable.
func sortChangeSet(cs *diff.ChangeSet, keyColumn string) {
	sort.Slice(cs.Added, func(i, j int) bool {
		a, _ := diff.KeyOf(cs.Added[i], keyColumn)
		b, _ := diff.KeyOf(cs.Added[j], keyColumn)
		return diff.CompareKeys(a, b) < 0
	})
	sort.Slice(cs.Modified, func(i, j int) bool {
		return diff.CompareKeys(cs.Modified[i].Key, cs.Modified[j].Key) < 0
	})
	sort.Slice(cs.Deleted, func(i, j int) bool {
		return diff.CompareKeys(cs.Deleted[i], cs.Deleted[j]) < 0
	})
}
