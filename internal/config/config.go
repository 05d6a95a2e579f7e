// Package config loads and validates the JSON configuration file. The
// layout mirrors the service's deployment config: named datasources, a
// storage section for the state/snapshot store, and per-table change
// detection settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Method selects the change detection strategy for a table.
type Method string

const (
	MethodTimestamp     Method = "timestamp"
	MethodHash          Method = "hash"
	MethodHashPartition Method = "hash-partition"
)

// Config is the root of the configuration file.
type Config struct {
	LogLevel    string                      `json:"log_level"`
	Datasources map[string]DatasourceConfig `json:"datasources"`
	Storage     StorageConfig               `json:"storage"`
	Snapshot    SnapshotConfig              `json:"snapshot"`
	Publish     *PublishConfig              `json:"publish,omitempty"`
	Runner      RunnerConfig                `json:"runner"`
	Tables      map[string]TableConfig      `json:"tables"`
}

// DatasourceConfig describes one source database.
type DatasourceConfig struct {
	Driver           string `json:"driver"` // currently "sqlserver"
	ConnectionString string `json:"connection_string"`
}

// StorageConfig selects and configures the state store backend.
type StorageConfig struct {
	Type string `json:"type"` // "s3", "azure_blob" or "memory"

	// S3 / MinIO settings.
	Bucket   string `json:"bucket,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// Azure Blob settings.
	ConnectionString string `json:"connection_string,omitempty"`
	Container        string `json:"container,omitempty"`

	Prefix string `json:"prefix,omitempty"`
}

// SnapshotConfig controls change-set export to the object store.
type SnapshotConfig struct {
	Enabled bool   `json:"enabled"`
	Format  string `json:"format"` // "json" or "parquet", default json
}

// PublishConfig controls downstream publication of change sets.
type PublishConfig struct {
	Type             string `json:"type"` // "azure_servicebus"
	ConnectionString string `json:"connection_string"`
	Queue            string `json:"queue"`
}

// RunnerConfig tunes the batch runner. Durations are strings like "5m".
type RunnerConfig struct {
	Timeout      string `json:"timeout"`
	MaxAttempts  int    `json:"max_attempts"`
	RetryBackoff string `json:"retry_backoff"`
	MaxBackoff   string `json:"max_backoff"`
	Concurrency  int    `json:"concurrency"`
}

// GetTimeout returns the per-table run timeout (default 10m).
func (r RunnerConfig) GetTimeout() (time.Duration, error) {
	return parseDurationDefault(r.Timeout, 10*time.Minute)
}

// GetRetryBackoff returns the initial retry backoff (default 2s).
func (r RunnerConfig) GetRetryBackoff() (time.Duration, error) {
	return parseDurationDefault(r.RetryBackoff, 2*time.Second)
}

// GetMaxBackoff returns the backoff ceiling (default 1m).
func (r RunnerConfig) GetMaxBackoff() (time.Duration, error) {
	return parseDurationDefault(r.MaxBackoff, time.Minute)
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// TableConfig holds per-table change detection settings.
type TableConfig struct {
	Datasource      string   `json:"datasource"`
	Method          Method   `json:"method"`
	PrimaryKey      string   `json:"primary_key"`
	HashColumns     []string `json:"hash_columns,omitempty"` // ["*"] = all columns
	TimestampColumn string   `json:"timestamp_column,omitempty"`
	PartitionSize   int      `json:"partition_size,omitempty"`
	RecentKeyWindow int      `json:"recent_key_window,omitempty"`
	SnapshotFormat  string   `json:"snapshot_format,omitempty"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements. A table with an unknown
// method is left for the strategy selector to reject at run time so the
// error surfaces per table, not for the whole batch.
func (c *Config) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("no tables configured")
	}
	switch c.Storage.Type {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage: s3 requires a bucket")
		}
	case "azure_blob":
		if c.Storage.ConnectionString == "" || c.Storage.Container == "" {
			return fmt.Errorf("storage: azure_blob requires connection_string and container")
		}
	case "memory", "":
	default:
		return fmt.Errorf("storage: unsupported type %q", c.Storage.Type)
	}

	for name, t := range c.Tables {
		if t.Datasource == "" {
			return fmt.Errorf("table %s: no datasource specified", name)
		}
		if _, ok := c.Datasources[t.Datasource]; !ok {
			return fmt.Errorf("table %s: datasource %q not defined", name, t.Datasource)
		}
		switch t.Method {
		case MethodTimestamp:
			if t.TimestampColumn == "" {
				return fmt.Errorf("table %s: no timestamp column specified", name)
			}
			if t.PrimaryKey == "" {
				return fmt.Errorf("table %s: no primary key specified", name)
			}
		case MethodHash, MethodHashPartition:
			if t.PrimaryKey == "" {
				return fmt.Errorf("table %s: no primary key specified", name)
			}
			if len(t.HashColumns) == 0 {
				return fmt.Errorf("table %s: no hash columns specified", name)
			}
		}
	}
	return nil
}

// PartitionSizeOrDefault returns the configured partition row target,
// defaulting to 10000 rows per partition.
func (t TableConfig) PartitionSizeOrDefault() int {
	if t.PartitionSize > 0 {
		return t.PartitionSize
	}
	return 10000
}

// RecentKeyWindowOrDefault bounds the timestamp strategy's recent-key set.
func (t TableConfig) RecentKeyWindowOrDefault() int {
	if t.RecentKeyWindow > 0 {
		return t.RecentKeyWindow
	}
	return 10000
}
