// Package strategy implements the change detection strategies and the
// selector that dispatches to them. A strategy turns a stored prior state
// and a fresh fetch into a classified ChangeSet plus the replacement
// state; the selector owns the surrounding read-state / write-state
// protocol, including the conditional write that makes concurrent runs
// safe.
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

// Input carries everything a strategy needs for one run. Prior is nil on
// the first run and after a strategy switch; strategies must then treat
// the current fetch as a 100% additions baseline.
type Input struct {
	Datasource string
	Table      string
	Config     config.TableConfig
	Prior      *state.TableState
	Source     diff.RowSource
}

// Result is a strategy's output: the classified changes and the state to
// persist if this run wins the conditional write.
type Result struct {
	Changes *diff.ChangeSet
	State   *state.TableState
}

// Strategy is one change detection algorithm. Detect is single-shot and
// idempotent on retry: the same prior state over the same data yields the
// same result.
type Strategy interface {
	Name() config.Method
	Detect(ctx context.Context, in Input) (*Result, error)
}

// Selector routes a table to its configured strategy. The handler table
// is closed and built once at construction; there is no ambient
// registration.
type Selector struct {
	handlers map[config.Method]Strategy
	log      hclog.Logger
}

// NewSelector builds a selector with the three built-in strategies.
func NewSelector() *Selector {
	s := &Selector{
		handlers: make(map[config.Method]Strategy),
		log:      logging.GetLogger(),
	}
	for _, h := range []Strategy{
		NewTimestamp(),
		NewFullHash(),
		NewPartitionedHash(),
	} {
		s.handlers[h.Name()] = h
	}
	return s
}

// DetectChanges runs one comparison for a table: read prior state,
// dispatch to the configured strategy, then replace the state through a
// conditional write. On diff.ErrVersionConflict the returned ChangeSet is
// nil; a concurrent run won and this run's result must be discarded.
func (s *Selector) DetectChanges(
	ctx context.Context,
	datasource, table string,
	cfg config.TableConfig,
	store state.Store,
	source diff.RowSource,
) (*diff.ChangeSet, error) {
	handler, ok := s.handlers[cfg.Method]
	if !ok {
		return nil, fmt.Errorf("table %s method %q: %w", table, cfg.Method, diff.ErrUnknownMethod)
	}

	prior, err := store.Get(ctx, datasource, table)
	switch {
	case err == nil:
	case err == diff.ErrStateNotFound:
		s.log.Info("no prior state, building baseline", "datasource", datasource, "table", table)
		prior = nil
	default:
		return nil, fmt.Errorf("read state for %s: %w", table, err)
	}

	// The conditional write still races against the stored version even
	// when the strategy changed, so capture it before the prior state is
	// discarded below.
	var expected int64
	if prior != nil {
		expected = prior.Version
	}

	// A strategy switch invalidates prior state: the payload shape no
	// longer matches, so the run rebuilds its baseline from scratch.
	if prior != nil && prior.Strategy != string(cfg.Method) {
		s.log.Warn("strategy changed, discarding prior state",
			"table", table, "was", prior.Strategy, "now", cfg.Method)
		prior = nil
	}

	res, err := handler.Detect(ctx, Input{
		Datasource: datasource,
		Table:      table,
		Config:     cfg,
		Prior:      prior,
		Source:     source,
	})
	if err != nil {
		return nil, err
	}

	res.State.Version = expected + 1
	res.State.LastRunAt = time.Now().UTC()

	if err := store.Put(ctx, datasource, table, res.State, expected); err != nil {
		return nil, fmt.Errorf("write state for %s: %w", table, err)
	}
	return res.Changes, nil
}
