// Package logging holds the process-wide structured logger.
package logging

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu     sync.Mutex
	logger hclog.Logger
)

// Setup initializes the global logger at the given level. Call once from
// the CLI before anything logs.
func Setup(level string) hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	logger = hclog.New(&hclog.LoggerOptions{
		Name:   "driftwatch",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
	})
	return logger
}

// GetLogger returns the global logger, initializing it at info level if
// Setup was never called.
func GetLogger() hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "driftwatch",
			Level:  hclog.Info,
			Output: os.Stderr,
		})
	}
	return logger
}
