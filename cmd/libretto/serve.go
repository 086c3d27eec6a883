package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/server"
	"github.com/librettohq/libretto/internal/server/endpoints"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Libretto server",
	Long: `Start the Libretto HTTP server.

This starts the HTTP API server and, when enabled in config, the
whisperd transcription container. When the server shuts down (via
Ctrl+C or SIGTERM), whisperd is also stopped.

Configuration is read from --config, falling back to config.yaml in
the home directory. The config file is watched, so provider changes
apply without a restart.

Examples:
  libretto serve                 # Start on default port 8080
  libretto serve --port 3000     # Start on custom port
  libretto serve --host 0.0.0.0  # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := newConfigManager(h)
		if err != nil {
			return err
		}
		conf := mgr.Get()

		logger := newLogger(conf.Log)

		if conf.Whisperd.Enabled {
			if err := h.EnsureWhisperCache(); err != nil {
				return err
			}
		}

		srvConfig := server.Config{
			Host:            serveHost,
			Port:            servePort,
			ConfigManager:   mgr,
			Logger:          logger,
			SwaggerSpecPath: endpoints.GetSwaggerSpecPath(),
		}
		// An explicit --home keeps book data under that directory
		// rather than the config's storage root.
		if homeDir != "" {
			srvConfig.StorageRoot = h.DataPath()
		}

		srv, err := server.New(srvConfig)
		if err != nil {
			return err
		}

		mgr.WatchConfig()

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

// newLogger builds the process logger from the log section of config.
func newLogger(cfg config.LogCfg) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
