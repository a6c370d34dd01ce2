// Package main provides the automaton binary entry point. Automaton is an
// agent-orchestration server whose core is an event-driven automation
// engine: declarative rules fire skills in response to system events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/automatonhq/automaton/api"
	"github.com/automatonhq/automaton/automation"
	"github.com/automatonhq/automaton/bus"
	"github.com/automatonhq/automaton/config"
	"github.com/automatonhq/automaton/registry"
)

const (
	version = "0.1.0"
	appName = "automaton"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Agent-orchestration automation server",
		Long: `Automaton routes system events through declarative automation rules
and fires agent skills when they match.

Rules declare event matchers, runtime conditions, throttle windows, retry
policy, and parameter mappings. The server exposes an HTTP command surface
for rule CRUD, manual triggers, execution history, and the review queue,
and bridges events from NATS when configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, version)
		},
	})

	cmd.AddCommand(validateCmd())
	return cmd
}

// validateCmd checks a rules file without starting the server.
func validateCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rules file",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := automation.NewFileStore(rulesPath).LoadRules()
			if err != nil {
				return err
			}
			var bad int
			for _, r := range rules {
				if err := r.Validate(); err != nil {
					fmt.Fprintf(os.Stderr, "rule %q: %v\n", r.ID, err)
					bad++
				}
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d rules invalid", bad, len(rules))
			}
			fmt.Printf("%d rules OK\n", len(rules))
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "automation-rules.yaml", "Rules file path")
	return cmd
}

func run(configPath, logLevel string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Collaborators.
	agents := registry.NewAgentRegistry()
	skills := registry.NewSkillRegistry()

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain() //nolint:errcheck
	}

	var router automation.SkillRouter
	if nc != nil {
		router = bus.NewSkillRouter(nc, "", 0, logger)
	} else {
		logger.Warn("no nats url configured, using local skill router")
		router = &bus.LocalRouter{Logger: logger}
	}

	// Metrics registry with the standard process/go collectors.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Rule store and engine.
	store := automation.NewStore(automation.NewFileStore(cfg.Rules.Path), logger)
	if err := store.Load(); err != nil {
		return err
	}

	engine := automation.NewEngine(automation.EngineOptions{
		Store:        store,
		Agents:       agents,
		Skills:       skills,
		Router:       router,
		Metrics:      automation.NewMetrics(promReg),
		Logger:       logger,
		HistorySize:  cfg.Engine.HistorySize,
		RecentWindow: cfg.Engine.RecentWindow,
	})

	if cfg.Rules.Watch {
		watcher := automation.NewFileWatcher(cfg.Rules.Path, store, cfg.Rules.WatchDebounce, logger)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
	}

	if nc != nil {
		bridge, err := bus.New(bus.Config{
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			AllowPatterns: cfg.NATS.AllowPatterns,
			PublishPrefix: cfg.NATS.PublishPrefix,
		}, nc, engine, logger)
		if err != nil {
			return err
		}
		if err := bridge.Start(ctx); err != nil {
			return err
		}
	}

	// HTTP command surface.
	mux := http.NewServeMux()
	api.NewServer(engine, agents, skills, logger).RegisterHTTPHandlers("/api/", mux)
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("automaton started", "addr", cfg.HTTP.Addr, "rules_path", cfg.Rules.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	engine.SetEnabled(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
