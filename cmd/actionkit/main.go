package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/actionkit/internal/logging"
)

var (
	configFile string
	logLevel   string
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "actionkit",
		Short: "Expand IDE action menus and toolbars",
		Long: `actionkit loads a YAML menu definition and a JSON state document and
computes what each toolbar or popup would show, the way an IDE updates its
actions in the background.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "settings file (default: ~/.actionkit/settings.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		expandCmd(),
		watchCmd(),
		serveCmd(),
		versionCmd(),
	)
	return root
}

// setup loads the configuration and builds the process logger.
func setup() (Config, *slog.Logger, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return cfg, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(cfg.LogLevel)}),
	))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
