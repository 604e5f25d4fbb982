package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpzk/throttleguard/pkg/cli"
	"github.com/rpzk/throttleguard/pkg/config"
	"github.com/rpzk/throttleguard/pkg/telemetry/logging"
)

// closeTimeout bounds the close of background components once the server
// has drained.
const closeTimeout = 10 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the guarded API server",
	Long: `Start the server with the specified configuration.

The limiter is chosen once at start-up: the Redis-coordinated limiter in
production or when limits.redis.enabled is set, otherwise the in-process
limiter. If Redis does not answer the start-up probe the in-process limiter
is used instead.

While running, edits to the config file hot-reload the rate limit policies,
the API keys and the log level.

Examples:
  # Start with config.yaml from the working directory
  throttleguard run

  # Override listen address
  throttleguard run --listen 0.0.0.0:8080

  # Validate config without starting the server
  throttleguard run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

// configPath returns the config file to load. The default path may be
// absent, in which case the built-in defaults are used.
func configPath(cmd *cobra.Command) (string, error) {
	if _, err := os.Stat(cfgFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
			return "", nil
		}
		return "", cli.NewConfigError("config", err)
	}
	return cfgFile, nil
}

// loadConfig loads the config file with environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, "", cli.NewConfigError("", err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from the telemetry config.
func newLogger(cfg *config.LoggingConfig, w io.Writer) (*logging.Logger, error) {
	patterns := make([]logging.RedactPattern, 0, len(cfg.RedactPatterns))
	for _, p := range cfg.RedactPatterns {
		patterns = append(patterns, logging.RedactPattern{
			Name:        p.Name,
			Pattern:     p.Pattern,
			Replacement: p.Replacement,
		})
	}
	return logging.New(logging.Config{
		Level:          cfg.Level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		RedactPII:      cfg.RedactPII,
		RedactPatterns: patterns,
		Writer:         w,
	})
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := newLogger(&cfg.Telemetry.Logging, cmd.ErrOrStderr())
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err)
	}
	slog.SetDefault(logger.Slog())

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			slog.Error("shutdown incomplete", "error", err)
		}
	}()

	if a.reloader != nil {
		go a.reloader.Run(ctx)
	}

	if path != "" {
		watcher, err := config.NewWatcher(path, config.DefaultWatchDebounce)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer watcher.Stop()

		// A level pinned on the command line survives reloads.
		setLevel := logger.SetLevel
		if runFlags.logLevel != "" || verbose {
			setLevel = nil
		}
		go func() {
			err := watcher.Watch(ctx, func(next *config.Config) {
				a.applyReload(ctx, next, setLevel)
			})
			if err != nil {
				slog.Error("config watcher stopped", "error", err)
			}
		}()
	}

	printBanner(out, cfg, a, path)

	if err := a.server.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(w io.Writer, cfg *config.Config, a *app, path string) {
	if path == "" {
		path = "(defaults)"
	}
	info := a.selection.Info()

	fmt.Fprintf(w, "throttleguard v%s\n", Version)
	fmt.Fprintf(w, "✓ Configuration loaded from %s\n", path)
	fmt.Fprintf(w, "✓ Limiter: %s (environment %s)\n", info.Name, cfg.Limits.Environment)
	fmt.Fprintf(w, "✓ Audit backend: %s\n", cfg.Audit.Backend)
	if cfg.Anomaly.Snapshot.Enabled {
		fmt.Fprintf(w, "✓ Anomaly state restored from %s\n", cfg.Anomaly.Snapshot.Path)
	}
	scheme := "http"
	if cfg.Security.TLS.Enabled {
		scheme = "https"
	}
	fmt.Fprintf(w, "✓ Listening on %s://%s\n", scheme, cfg.Server.ListenAddress)
	fmt.Fprintln(w, "\nPress Ctrl+C to stop")
}
