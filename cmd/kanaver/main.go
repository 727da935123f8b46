package main

import (
	"os"

	"github.com/Seiaaxn/kanaver3/internal/app"
	"github.com/Seiaaxn/kanaver3/internal/config"
	"github.com/Seiaaxn/kanaver3/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application := app.New(cfg, logger)
	defer application.Close()

	if err := newRootCommand(application).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
