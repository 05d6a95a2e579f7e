// Package runner executes one detection pass over the configured
// tables: a bounded worker pool, per-table timeouts, and bounded
// retries for the two transient failure classes (lost conditional
// writes and unreachable sources).
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/rindang/driftwatch/internal/config"
	"github.com/rindang/driftwatch/internal/logging"
	"github.com/rindang/driftwatch/internal/snapshot"
	"github.com/rindang/driftwatch/internal/state"
	"github.com/rindang/driftwatch/pkg/diff"
)

// Detector is the strategy selector surface the runner drives.
type Detector interface {
	DetectChanges(ctx context.Context, datasource, table string, cfg config.TableConfig,
		store state.Store, source diff.RowSource) (*diff.ChangeSet, error)
}

// Publisher pushes a change set downstream after a successful run.
type Publisher interface {
	Publish(ctx context.Context, cs *diff.ChangeSet, runID string) error
}

// TableRun is the outcome of one table's detection pass.
type TableRun struct {
	Table    string
	Attempts int
	Changes  *diff.ChangeSet
	Snapshot string
	Err      error
}

// Runner fans the configured tables out over a worker pool.
type Runner struct {
	cfg      *config.Config
	detector Detector
	store    state.Store
	sources  map[string]diff.RowSource
	snaps    *snapshot.Service
	pub      Publisher
	log      hclog.Logger
}

func New(cfg *config.Config, detector Detector, store state.Store,
	sources map[string]diff.RowSource, snaps *snapshot.Service, pub Publisher) *Runner {
	return &Runner{
		cfg:      cfg,
		detector: detector,
		store:    store,
		sources:  sources,
		snaps:    snaps,
		pub:      pub,
		log:      logging.GetLogger(),
	}
}

// Run executes one pass over tables (all configured tables when nil)
// and returns per-table outcomes sorted by table name. The pass itself
// always completes; individual failures are reported in the results.
func (r *Runner) Run(ctx context.Context, tables []string) ([]TableRun, error) {
	runID := uuid.NewString()

	names := tables
	if len(names) == 0 {
		for name := range r.cfg.Tables {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	concurrency := r.cfg.Runner.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	r.log.Info("Starting detection pass", "run_id", runID,
		"tables", len(names), "concurrency", concurrency)
	start := time.Now()

	sem := make(chan struct{}, concurrency)
	results := make([]TableRun, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.runTable(ctx, runID, name)
		}(i, name)
	}
	wg.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	r.log.Info("Detection pass complete", "run_id", runID,
		"tables", len(names), "failed", failed, "elapsed", time.Since(start))
	return results, nil
}

func (r *Runner) runTable(ctx context.Context, runID, name string) TableRun {
	run := TableRun{Table: name}

	tcfg, ok := r.cfg.Tables[name]
	if !ok {
		run.Err = fmt.Errorf("table %q is not configured", name)
		return run
	}
	source, ok := r.sources[tcfg.Datasource]
	if !ok {
		run.Err = fmt.Errorf("datasource %q for table %s is not connected", tcfg.Datasource, name)
		return run
	}

	timeout, err := r.cfg.Runner.GetTimeout()
	if err != nil {
		run.Err = err
		return run
	}
	initial, err := r.cfg.Runner.GetRetryBackoff()
	if err != nil {
		run.Err = err
		return run
	}
	ceiling, err := r.cfg.Runner.GetMaxBackoff()
	if err != nil {
		run.Err = err
		return run
	}

	maxAttempts := r.cfg.Runner.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := NewBackoffManager(initial, ceiling)

	var cs *diff.ChangeSet
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run.Attempts = attempt

		cs, err = r.detectOnce(ctx, timeout, tcfg.Datasource, name, tcfg, source)
		if err == nil {
			break
		}
		if !retryable(err) || attempt == maxAttempts {
			run.Err = err
			return run
		}

		r.log.Warn("Retrying table after transient failure",
			"table", name, "attempt", attempt, "error", err)
		if werr := backoff.Wait(ctx); werr != nil {
			run.Err = werr
			return run
		}
	}

	run.Changes = cs
	r.log.Info("Detected changes", "run_id", runID, "table", name,
		"summary", cs.Summary(), "attempts", run.Attempts)

	// Snapshots and publication are one-way sinks: their failures are
	// logged against the run but never fail a completed detection.
	if r.snaps != nil && r.cfg.Snapshot.Enabled {
		format := tcfg.SnapshotFormat
		if format == "" {
			format = r.cfg.Snapshot.Format
		}
		if format == "" {
			format = "json"
		}
		key, serr := r.snaps.Write(ctx, cs, snapshot.Meta{
			Datasource: tcfg.Datasource,
			Table:      name,
			KeyColumn:  tcfg.PrimaryKey,
			RunID:      runID,
			Timestamp:  time.Now().UTC(),
		}, format)
		if serr != nil {
			r.log.Error("Snapshot write failed", "table", name, "error", serr)
		} else {
			run.Snapshot = key
		}
	}

	if r.pub != nil {
		if perr := r.pub.Publish(ctx, cs, runID); perr != nil {
			r.log.Error("Publish failed", "table", name, "error", perr)
		}
	}
	return run
}

func (r *Runner) detectOnce(ctx context.Context, timeout time.Duration,
	datasource, table string, tcfg config.TableConfig, source diff.RowSource) (*diff.ChangeSet, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.detector.DetectChanges(tctx, datasource, table, tcfg, r.store, source)
}

// retryable reports whether another attempt can change the outcome: a
// lost conditional write means rereading state, an unavailable source
// may come back. Schema and configuration errors never heal on retry.
func retryable(err error) bool {
	return errors.Is(err, diff.ErrVersionConflict) || errors.Is(err, diff.ErrSourceUnavailable)
}
