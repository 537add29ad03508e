// Package main provides the CLI entry point for the pearlgate LLM proxy
// gateway.
//
// # Basic Usage
//
// Start the server:
//
//	pearlgate serve --config pearlgate.yaml
//
// Validate a configuration file without starting the server:
//
//	pearlgate validate --config pearlgate.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pearlgate/gateway/internal/accounts"
	"github.com/pearlgate/gateway/internal/api"
	"github.com/pearlgate/gateway/internal/auth"
	"github.com/pearlgate/gateway/internal/config"
	"github.com/pearlgate/gateway/internal/filter"
	"github.com/pearlgate/gateway/internal/inject"
	"github.com/pearlgate/gateway/internal/memory"
	"github.com/pearlgate/gateway/internal/metrics"
	"github.com/pearlgate/gateway/internal/pipeline"
	"github.com/pearlgate/gateway/internal/providers"
	"github.com/pearlgate/gateway/internal/ratelimit"
	"github.com/pearlgate/gateway/internal/rules"
	"github.com/pearlgate/gateway/internal/transcript"
	"github.com/pearlgate/gateway/internal/usage"
	"github.com/pearlgate/gateway/pkg/models"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "pearlgate",
		Short:        "pearlgate - LLM proxy gateway",
		Long:         "pearlgate routes, screens, augments, and streams chat completions across multiple LLM backend accounts.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "pearlgate.yaml", "path to the gateway configuration file")

	root.AddCommand(buildServeCmd(&configPath))
	root.AddCommand(buildValidateCmd(&configPath))
	return root
}

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func buildValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(*configPath); err != nil {
				return err
			}
			fmt.Println("config valid")
			return nil
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("pearlgate: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	acctPtrs := make([]*models.Account, len(cfg.Accounts))
	for i := range cfg.Accounts {
		acctPtrs[i] = &cfg.Accounts[i]
	}

	engine, err := rules.NewEngine(cfg.Rules)
	if err != nil {
		return fmt.Errorf("pearlgate: rules: %w", err)
	}
	registry := accounts.NewRegistry(acctPtrs)
	router := &accounts.Router{Engine: engine, Registry: registry}

	detector := inject.NewDetector(cfg.Detection.ToDetectorConfig())

	memStore, err := memory.NewSQLiteStore(cfg.Memory.StoreDSN)
	if err != nil {
		return fmt.Errorf("pearlgate: memory store: %w", err)
	}
	defer memStore.Close()

	var embedder memory.Embedder
	if openaiAcct := firstAccountForProvider(cfg.Accounts, "openai"); openaiAcct != nil {
		embedder = memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{APIKey: openaiAcct.Credential})
	} else {
		logger.Warn("no openai account configured; memory retrieval will not find semantic matches")
		embedder = memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{})
	}

	augmenter := &memory.Augmenter{
		Retriever: &memory.Retriever{Store: memStore, Embedder: embedder},
		Sessions:  memory.NewSessionInjectionSet(cfg.Memory.SessionCapacity, cfg.Memory.SessionTTL),
	}

	backendProviders, err := providers.BuildFromAccounts(ctx, acctPtrs, auth.NewTokenRefresher())
	if err != nil {
		return fmt.Errorf("pearlgate: providers: %w", err)
	}
	dispatcher := providers.NewDispatcher(backendProviders, providers.DefaultRetryPolicy())

	transcriptStore, err := transcript.Open(cfg.Transcript.Driver, cfg.Transcript.DSN)
	if err != nil {
		return fmt.Errorf("pearlgate: transcript: %w", err)
	}

	orchestrator := &pipeline.Orchestrator{
		Rules:        engine,
		Router:       router,
		Detector:     detector,
		Augmenter:    augmenter,
		Dispatcher:   dispatcher,
		Pricing:      cfg.Pricing,
		UsageStore:   usage.NewMemoryStore(),
		Registry:     registry,
		Transcript:   transcriptStore,
		FilterConfig: filter.Config{},
	}

	srv := &api.Server{
		Orchestrator:   orchestrator,
		Dispatcher:     dispatcher,
		Auth:           auth.New(cfg.Auth.ToAuthenticatorConfig()),
		Limiter:        ratelimit.NewLimiter(cfg.RateLimit),
		Metrics:        metrics.New(),
		Logger:         logger,
		DefaultAugment: cfg.Memory.ToAugmentOptions(),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return srv.ListenAndServe(ctx, addr)
}

func firstAccountForProvider(accts []models.Account, provider string) *models.Account {
	for i := range accts {
		if accts[i].Provider == provider {
			return &accts[i]
		}
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "console" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
