package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vibro/internal/app"
	"github.com/srg/vibro/internal/config"
)

// appFactory builds the application state for a command.
// This is a variable so that it can be overridden in tests.
var appFactory = func(ctx context.Context, cfg *config.AppConfig, logger *logrus.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// loadConfig reads --config and the environment, then configures the logger.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openApp loads configuration and opens the application state.
// The caller must Close the returned App.
func openApp(cmd *cobra.Command) (*app.App, *logrus.Logger, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	a, err := appFactory(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
