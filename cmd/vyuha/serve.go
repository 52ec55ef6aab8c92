package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyuha/vyuha-explorer/internal/ai"
	"github.com/vyuha/vyuha-explorer/internal/api"
	"github.com/vyuha/vyuha-explorer/internal/client"
	"github.com/vyuha/vyuha-explorer/internal/config"
	"github.com/vyuha/vyuha-explorer/internal/expand"
	"github.com/vyuha/vyuha-explorer/internal/metrics"
	"github.com/vyuha/vyuha-explorer/internal/query"
	"github.com/vyuha/vyuha-explorer/internal/session"
	"github.com/vyuha/vyuha-explorer/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr     string
		dbPath   string
		provider string
		upstream string
		layout   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph API and exploration sessions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = addr
			}
			if flags.Changed("db-path") {
				cfg.Storage.DBPath = dbPath
			}
			if flags.Changed("ai-provider") {
				cfg.AI.Provider = provider
			}
			if flags.Changed("upstream") {
				cfg.Expansion.UpstreamURL = upstream
			}
			if flags.Changed("layout") {
				cfg.Layout.Mode = layout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db-path", "./vyuha.db", "path to SQLite database file")
	cmd.Flags().StringVar(&provider, "ai-provider", "", "embedding provider: bedrock or ollama (empty = disabled)")
	cmd.Flags().StringVar(&upstream, "upstream", "", "fetch session expansions from a remote /graph/expand instead of the local store")
	cmd.Flags().StringVar(&layout, "layout", "hierarchical", "default layout of new sessions")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// ---- Storage ---------------------------------------------------------
	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("initialise storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("storage close error", "error", err)
		}
	}()

	// ---- SSE Broadcaster -------------------------------------------------
	sse := api.NewSSEBroadcaster()

	// ---- Embeddings (provider optional) ------------------------------------
	var embedder ai.Embedder
	if cfg.AI.Enabled() {
		embedder, err = ai.NewEmbedder(ctx, cfg.AI.ProviderConfig())
		if err != nil {
			slog.Warn("embedding provider init failed, embedding generation disabled", "error", err)
			embedder = nil
		} else {
			slog.Info("embedding provider ready", "provider", embedder.Name(), "model", embedder.Model())
			defer embedder.Close()
		}
	}

	embedSvc, err := ai.NewEmbeddingService(ctx, embedder, store)
	if err != nil {
		slog.Warn("embedding service init failed, semantic expansion disabled", "error", err)
		embedSvc = nil
	}

	var jobs *ai.JobQueue
	if embedSvc != nil {
		jobs = ai.NewJobQueue(embedSvc, sse, 2)
		defer jobs.Close()
	}

	// ---- Expansion -------------------------------------------------------
	expander := query.NewExpander(store, embedSvc, cfg.Expansion.QueryConfig())

	var fetcher expand.Fetcher = expander
	upstream := "local"
	if cfg.Expansion.UpstreamURL != "" {
		cl, err := client.New(cfg.Expansion.ClientConfig())
		if err != nil {
			return fmt.Errorf("expansion client: %w", err)
		}
		fetcher = cl
		upstream = cfg.Expansion.UpstreamURL
	}

	// ---- Sessions --------------------------------------------------------
	collector := metrics.New()
	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	sessions := session.NewManager(fetcher, sessCfg, sse, collector)
	defer sessions.Close()

	// ---- HTTP Server -----------------------------------------------------
	srv := api.NewServer(expander, sessions, sse, jobs, collector, api.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ExpandRate:   cfg.Server.ExpandRate,
		ExpandBurst:  cfg.Server.ExpandBurst,
		CORSOrigins:  cfg.Server.CORSOrigins,
	})
	srv.RegisterRoutes()

	// ---- Startup banner --------------------------------------------------
	stats, err := expander.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read graph stats: %w", err)
	}
	aiStatus := "disabled"
	if embedder != nil {
		aiStatus = embedder.Name()
	}
	embedded := 0
	if embedSvc != nil {
		embedded = embedSvc.CacheSize()
	}
	fmt.Printf(`
═══════════════════════════════
 VYUHA — Fleet Graph Explorer
 DB:        %s
 Addr:      %s
 Entities:  %d
 Links:     %d
 Embedded:  %d
 AI:        %s
 Upstream:  %s
 Layout:    %s
═══════════════════════════════
`, cfg.Storage.DBPath, cfg.Server.Addr, stats.UniqueNodeCount, stats.TotalLinkCount,
		embedded, aiStatus, upstream, sessCfg.Layout)

	slog.Info("vyuha starting",
		"db_path", cfg.Storage.DBPath,
		"addr", cfg.Server.Addr,
		"entities", stats.UniqueNodeCount,
		"links", stats.TotalLinkCount,
		"embedded", embedded,
		"ai_provider", aiStatus,
		"upstream", upstream,
	)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ---- Graceful shutdown -----------------------------------------------
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("VYUHA shutdown complete")
	return nil
}
