// Sparkrelay is a real-time message relay for authenticated WebSocket clients.
//
// Clients connect to /ws with the project key and exchange events that are
// broadcast to every connection or to the members of a room.
//
// Usage:
//
//	sparkrelay serve [flags]
//
// See 'sparkrelay serve --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tyrowin/sparkrelay/internal/auth"
	"github.com/Tyrowin/sparkrelay/internal/config"
	"github.com/Tyrowin/sparkrelay/internal/logging"
	"github.com/Tyrowin/sparkrelay/internal/server"
	"github.com/Tyrowin/sparkrelay/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sparkrelay",
	Short: "Spark real-time message relay",
	Long: `A WebSocket relay that broadcasts client events globally or to named rooms.

Connections authenticate with a shared project key sent in the x-project-key
header or the key query parameter.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	configPath string
	port       string
	logLevel   string
	logFormat  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	Long: `Start the relay and accept WebSocket connections on /ws.

Settings come from defaults, then the YAML file given with --config, then
environment variables (PORT, PROJECT_KEY, ALLOWED_ORIGINS, ...), then flags.`,
	Example: `  # Start with defaults on :3000
  sparkrelay serve

  # Start from a config file with debug logging
  sparkrelay serve --config relay.yaml --log-level debug

  # Override the port and log as JSON
  PROJECT_KEY=secret sparkrelay serve --port 8080 --log-format json`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file (optional)")
	serveCmd.Flags().StringVar(&port, "port", "", "Listen port, e.g. 3000 or :3000")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	cfg.Sanitize()

	if err := logging.Initialize(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	defer logging.Sync()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	for _, origin := range cfg.IgnoredOrigins() {
		logging.Warn("Ignoring invalid origin in configuration", zap.String("origin", origin))
	}

	if cfg.UsingDefaultKey() {
		logging.Warn("Using the default project key; set PROJECT_KEY before exposing this server")
	}

	logging.Info("Starting relay server",
		zap.String("server", version.ServerName),
		zap.String("version", version.Full()),
		zap.String("port", cfg.Port),
		zap.String("project_key", auth.KeyPrefix(cfg.ProjectKey, 10)),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg).Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	logging.Info("Server stopped")
	return nil
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("sparkrelay %s\n", version.Full())
	},
}
