package main

import (
	"os"

	"github.com/rindang/driftwatch/internal/cli"
	"github.com/rindang/driftwatch/internal/logging"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.GetLogger().Error("Run failed", "error", err)
		os.Exit(1)
	}
}
