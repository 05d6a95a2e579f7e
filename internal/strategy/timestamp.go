package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/rindang/driftwatch/internal/config"
	"github.com/rindang/driftwatch/internal/logging"
	"github.com/rindang/driftwatch/internal/state"
	"github.com/rindang/driftwatch/pkg/diff"
)

// Timestamp detects changes through a monotonic update-timestamp column.
// Cheapest strategy and the weakest: deletions are undetectable by
// construction, so this strategy never emits them. The source system must
// guarantee the column is non-decreasing on update; that guarantee is not
// re-verified here.
type Timestamp struct {
	log hclog.Logger
}

func NewTimestamp() *Timestamp {
	return &Timestamp{log: logging.GetLogger()}
}

func (t *Timestamp) Name() config.Method { return config.MethodTimestamp }

func (t *Timestamp) Detect(ctx context.Context, in Input) (*Result, error) {
	var after time.Time
	var recent []diff.Key
	if in.Prior != nil {
		after = in.Prior.Timestamp.LastSeen
		recent = in.Prior.Timestamp.RecentKeys
	}

	rows, err := in.Source.FetchSince(ctx, in.Table, in.Config.TimestampColumn, after)
	if err != nil {
		return nil, err
	}

	seen := make(map[diff.Key]struct{}, len(recent))
	for _, k := range recent {
		seen[k] = struct{}{}
	}

	changes := &diff.ChangeSet{Datasource: in.Datasource, Table: in.Table}
	latest := after

	for _, row := range rows {
		ts, err := rowTimestamp(row, in.Config.TimestampColumn)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", in.Table, err)
		}
		if ts.After(latest) {
			latest = ts
		}

		// The primary key splits added from modified when configured;
		// without one every returned row counts as added.
		if in.Config.PrimaryKey == "" {
			changes.Added = append(changes.Added, row)
			continue
		}
		key, err := diff.KeyOf(row, in.Config.PrimaryKey)
		if err != nil {
			t.log.Warn("skipping row without usable primary key", "table", in.Table, "error", err)
			continue
		}
		if _, ok := seen[key]; ok {
			changes.Modified = append(changes.Modified, diff.Modification{Key: key, Row: row})
		} else {
			changes.Added = append(changes.Added, row)
			seen[key] = struct{}{}
			recent = append(recent, key)
		}
	}

	// The recent-key window is best effort and bounded; oldest entries
	// age out first, and an aged-out key that updates again will be
	// re-reported as added.
	if window := in.Config.RecentKeyWindowOrDefault(); len(recent) > window {
		recent = append([]diff.Key(nil), recent[len(recent)-window:]...)
	}

	return &Result{
		Changes: changes,
		State: &state.TableState{
			Strategy: string(config.MethodTimestamp),
			Timestamp: &state.TimestampState{
				LastSeen:   latest,
				RecentKeys: recent,
			},
		},
	}, nil
}

// rowTimestamp reads and parses the timestamp column from a fetched row.
// A missing column is a schema mismatch and aborts the table's run.
func rowTimestamp(row diff.Row, column string) (time.Time, error) {
	v, ok := row[column]
	if !ok {
		return time.Time{}, &diff.SchemaMismatchError{Column: column}
	}
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range []string{
			time.RFC3339Nano,
			"2006-01-02 15:04:05.999999999Z07:00",
			"2006-01-02 15:04:05.999999999",
			"2006-01-02T15:04:05.999999999",
			"2006-01-02",
		} {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q in column %s", x, column)
	case nil:
		return time.Time{}, fmt.Errorf("null timestamp in column %s", column)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T in column %s", v, column)
	}
}
