package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vikthevar/Heimdall/internal/app"
	"github.com/vikthevar/Heimdall/internal/config"
	"github.com/vikthevar/Heimdall/internal/logging"
	"go.uber.org/zap"
)

var Version = "dev"

// global flags
var (
	configFile string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "heimdall",
		Short:         "Heimdall - desktop assistant that reads the screen and drives the mouse and keyboard",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "JSONC config file (default heimdall.jsonc)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL, warn for one-shot commands)")

	root.AddCommand(serveCmd())
	root.AddCommand(askCmd())
	root.AddCommand(readCmd())
	root.AddCommand(windowsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(listenCmd())
	root.AddCommand(capabilitiesCmd())
	root.AddCommand(settingsCmd())
	return root
}

// openApp loads configuration and wires the assistant. One-shot commands
// log at warn unless asked otherwise so their output stays readable.
func openApp(cmd *cobra.Command, quiet bool) (*app.App, *zap.Logger, error) {
	if configFile != "" {
		os.Setenv("HEIMDALL_CONFIG", configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	switch {
	case logLevel != "":
		level = logLevel
	case quiet:
		level = "warn"
	}
	logger, err := logging.New(level, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.Build(cmd.Context(), cfg, app.Deps{}, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}
