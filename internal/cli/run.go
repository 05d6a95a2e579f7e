package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rindang/driftwatch/internal/config"
	"github.com/rindang/driftwatch/internal/logging"
	"github.com/rindang/driftwatch/internal/publish"
	"github.com/rindang/driftwatch/internal/runner"
	"github.com/rindang/driftwatch/internal/snapshot"
	"github.com/rindang/driftwatch/internal/source"
	"github.com/rindang/driftwatch/internal/state"
	azurestate "github.com/rindang/driftwatch/internal/state/azure"
	s3state "github.com/rindang/driftwatch/internal/state/s3"
	"github.com/rindang/driftwatch/internal/strategy"
	"github.com/rindang/driftwatch/pkg/diff"
)

var runTables []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one detection pass over the configured tables",
	RunE:  runDetection,
}

func init() {
	runCmd.Flags().StringSliceVar(&runTables, "tables", nil, "Restrict the pass to these tables (default: all)")
	rootCmd.AddCommand(runCmd)
}

func runDetection(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.GetLogger()
	ctx := cmd.Context()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	sources, closeSources, err := connectSources(cfg, runTables)
	if err != nil {
		return err
	}
	defer closeSources()

	var snaps *snapshot.Service
	if cfg.Snapshot.Enabled {
		uploader, ok := store.(snapshot.Uploader)
		if !ok {
			return fmt.Errorf("snapshots require an object store backend, not %q", cfg.Storage.Type)
		}
		snaps = snapshot.NewService(uploader)
	}

	var pub runner.Publisher
	if cfg.Publish != nil {
		if cfg.Publish.Type != "azure_servicebus" {
			return fmt.Errorf("unsupported publish type %q", cfg.Publish.Type)
		}
		sb, err := publish.NewServiceBusPublisher(cfg.Publish.ConnectionString, cfg.Publish.Queue)
		if err != nil {
			return err
		}
		defer sb.Close(context.Background())
		pub = sb
	}

	r := runner.New(cfg, strategy.NewSelector(), store, sources, snaps, pub)
	results, err := r.Run(ctx, runTables)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			log.Error("Table failed", "table", res.Table, "attempts", res.Attempts, "error", res.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tables failed", failed, len(results))
	}
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config) (state.Store, error) {
	switch cfg.Storage.Type {
	case "s3":
		return s3state.New(ctx, s3state.Options{
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
			Bucket:   cfg.Storage.Bucket,
			Prefix:   cfg.Storage.Prefix,
		})
	case "azure_blob":
		return azurestate.New(cfg.Storage.ConnectionString, cfg.Storage.Container, cfg.Storage.Prefix)
	case "memory", "":
		return state.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
}

// connectSources opens one connection per datasource actually used by
// the selected tables.
func connectSources(cfg *config.Config, tables []string) (map[string]diff.RowSource, func(), error) {
	needed := make(map[string]bool)
	if len(tables) == 0 {
		for _, t := range cfg.Tables {
			needed[t.Datasource] = true
		}
	} else {
		for _, name := range tables {
			if t, ok := cfg.Tables[name]; ok {
				needed[t.Datasource] = true
			}
		}
	}

	sources := make(map[string]diff.RowSource, len(needed))
	var open []*source.SQLServerSource
	closeAll := func() {
		for _, s := range open {
			s.Close()
		}
	}

	for name := range needed {
		ds := cfg.Datasources[name]
		if ds.Driver != "sqlserver" {
			closeAll()
			return nil, nil, fmt.Errorf("datasource %s: unsupported driver %q", name, ds.Driver)
		}
		s, err := source.Connect(ds.ConnectionString)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect datasource %s: %w", name, err)
		}
		open = append(open, s)
		sources[name] = s
	}
	return sources, closeAll, nil
}
