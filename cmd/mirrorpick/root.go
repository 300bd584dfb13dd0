package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BadgerOps/mirrorpick/internal/config"
	"github.com/BadgerOps/mirrorpick/internal/history"
	"github.com/BadgerOps/mirrorpick/internal/mirror"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	// Global flags
	cfgPath     string
	logLevel    string
	logFormat   string
	logFile     string
	quiet       bool
	historyDB   string
	metricsFile string

	globalCfg *config.Config
	logger    *slog.Logger
	logCloser io.Closer

	// Global components
	globalRegistry *prometheus.Registry
	globalMetrics  *mirror.Metrics
	globalHistory  *history.Store
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrorpick",
		Short: "Pick the fastest mirror for a download",
		Long: `mirrorpick expands a download URL on a canonical host into the equivalent
URLs on its configured mirrors, probes each one with a short ranged read, and
picks the one with the best observed throughput. URLs on any other host are
used as-is.`,
		Example: `  mirrorpick candidates https://github.com/owner/repo/releases/download/v1/app.jar
  mirrorpick resolve https://github.com/owner/repo/releases/download/v1/app.jar
  mirrorpick fetch --dir ./libs https://github.com/owner/repo/releases/download/v1/app.jar
  mirrorpick serve --listen 127.0.0.1:8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return err
			}

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if err := loadConfig(); err != nil {
				return err
			}

			initializeComponents()
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			defer closeLogFile()
			defer closeHistory()
			return writeMetricsFile()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress progress output and non-error logs")
	cmd.PersistentFlags().StringVar(&historyDB, "history-db", "", "record resolutions in this SQLite ledger (enables history)")
	cmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write probe metrics in Prometheus text format on exit")

	cmd.AddCommand(
		newCandidatesCmd(),
		newResolveCmd(),
		newFetchCmd(),
		newHistoryCmd(),
		newServeCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return cmd
}

func loadConfig() error {
	if cfgPath == "" {
		found, err := config.FindConfigFile()
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
		cfgPath = found
	}

	if cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		globalCfg = cfg
	} else {
		globalCfg = config.DefaultConfig()
	}

	if historyDB != "" {
		globalCfg.History.Enabled = true
		globalCfg.History.DBPath = historyDB
	}

	logger.Debug("config loaded", "path", cfgPath, "canonical", globalCfg.Mirrors.Canonical,
		"alternates", len(globalCfg.Mirrors.Alternates))
	return nil
}

func initializeComponents() {
	globalRegistry = prometheus.NewRegistry()
	globalMetrics = mirror.NewMetrics(globalRegistry)
}

// newSelector builds a selector from the loaded config. Progress lines go
// to stderr so stdout stays clean for the selected URL.
func newSelector() *mirror.Selector {
	opts := globalCfg.ProbeOptions()
	opts.Metrics = globalMetrics
	opts.Output = progressWriter()
	return mirror.NewSelector(opts, logger)
}

func progressWriter() io.Writer {
	if quiet {
		return io.Discard
	}
	return os.Stderr
}

// openHistory opens the ledger when history is enabled, or unconditionally
// when required is set.
func openHistory(required bool) (*history.Store, error) {
	if globalHistory != nil {
		return globalHistory, nil
	}
	if !globalCfg.History.Enabled && !required {
		return nil, nil
	}
	st, err := history.New(globalCfg.HistoryDBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	globalHistory = st
	return st, nil
}

func closeHistory() {
	if globalHistory == nil {
		return
	}
	if err := globalHistory.Close(); err != nil {
		logger.Error("failed to close history", "error", err)
	}
	globalHistory = nil
}

func writeMetricsFile() error {
	if metricsFile == "" || globalRegistry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(metricsFile, globalRegistry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	logger.Debug("metrics written", "path", metricsFile)
	return nil
}

// setupLogging initializes the slog logger based on flags
func setupLogging() error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	switch {
	case logFile != "":
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		logCloser = rotator
		if strings.ToLower(logFormat) == "json" {
			handler = slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})
		} else {
			handler = slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: level})
		}
	case strings.ToLower(logFormat) == "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
		})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func closeLogFile() {
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
