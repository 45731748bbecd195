// Package main is the entry point for the labrig-agent binary.
// It wires all internal packages together and starts the RPC and discovery
// listeners.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Build the Job Registry and Plugin Registry
//  4. Load any configured plugins
//  5. Start the JSON-RPC server and UDP discovery responder
//  6. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labrig/agent/internal/job"
	"github.com/labrig/agent/internal/plugin"
	"github.com/labrig/agent/internal/rpcserver"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	rpcAddr       string
	discoveryAddr string
	stateDir      string
	logLevel      string
	pluginDir     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "labrig-agent",
		Short: "labrig-agent — remote-execution agent for hardware test labs",
		Long: `labrig-agent runs on a device-under-test host.
It accepts JSON-RPC requests over TCP to launch processes, stream their
output and transfer files as tar archives, and answers UDP broadcast
discovery pings. Plugin libraries in --plugin-dir are loaded at startup;
no RPC method calls into them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.rpcAddr, "rpc-addr", envOrDefault("LABRIG_RPC_ADDR", ":7777"), "JSON-RPC listen address (host:port)")
	root.PersistentFlags().StringVar(&cfg.discoveryAddr, "discovery-addr", envOrDefault("LABRIG_DISCOVERY_ADDR", ":7778"), "UDP discovery listen address (host:port)")
	root.PersistentFlags().StringVar(&cfg.stateDir, "state-dir", envOrDefault("LABRIG_STATE_DIR", defaultStateDir()), "Directory for agent state")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("LABRIG_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.pluginDir, "plugin-dir", envOrDefault("LABRIG_PLUGIN_DIR", ""), "Directory of plugin shared libraries to load at startup (empty = no plugins)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("labrig-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	rpcserver.Version = version

	logger.Info("starting labrig agent",
		zap.String("version", version),
		zap.String("rpc_addr", cfg.rpcAddr),
		zap.String("discovery_addr", cfg.discoveryAddr),
		zap.String("state_dir", cfg.stateDir),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// --- Plugin Registry ---
	plugins := plugin.NewRegistry(logger)
	if cfg.pluginDir != "" {
		if err := loadPlugins(plugins, cfg.pluginDir, logger); err != nil {
			logger.Warn("plugin directory load incomplete", zap.Error(err))
		}
	}
	defer plugins.Close()

	// --- Job Registry ---
	registry := job.NewRegistry()

	// --- RPC + discovery servers ---
	srv := rpcserver.New(registry, plugins, logger)

	rpcPort, err := srv.Listen(cfg.rpcAddr)
	if err != nil {
		return err
	}

	errs := make(chan error, 2)
	go func() { errs <- srv.Serve(ctx) }()
	go func() { errs <- srv.ServeDiscovery(ctx, cfg.discoveryAddr, rpcPort) }()

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil {
			logger.Error("server stopped unexpectedly", zap.Error(err))
		}
	}

	logger.Info("labrig agent stopped")
	return nil
}

func loadPlugins(reg *plugin.Registry, dir string, logger *zap.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugin directory %q: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".so" && ext != ".dll" && ext != ".dylib" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		identifier := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if err := reg.Load(identifier, path); err != nil {
			logger.Warn("failed to load plugin", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// defaultStateDir returns the platform-appropriate default state directory.
func defaultStateDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".labrig")
	}
	return ".labrig"
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
