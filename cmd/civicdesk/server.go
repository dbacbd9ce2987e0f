package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/civicdesk/internal/activity"
	"github.com/kalambet/civicdesk/internal/agent"
	"github.com/kalambet/civicdesk/internal/api"
	"github.com/kalambet/civicdesk/internal/composer"
	"github.com/kalambet/civicdesk/internal/config"
	"github.com/kalambet/civicdesk/internal/dispatch"
	"github.com/kalambet/civicdesk/internal/ledger"
	"github.com/kalambet/civicdesk/internal/llm"
	"github.com/kalambet/civicdesk/internal/orgconfig"
	"github.com/kalambet/civicdesk/internal/pipeline"
	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/routing"
	"github.com/kalambet/civicdesk/internal/storage"
)

const defaultOllamaURL = "http://localhost:11434"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the civicdesk server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "civicdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewFileSecrets())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	queue := dispatch.NewQueue(store, cfg.Dispatch.MaxAttempts)
	if n, err := store.RequeueRunningJobs(ctx); err != nil {
		slog.Warn("requeueing interrupted jobs", "error", err)
	} else if n > 0 {
		slog.Info("requeued interrupted jobs", "count", n)
	}

	if cfg.Org.SeedFile != "" {
		if err := seedIfEmpty(ctx, store, cfg); err != nil {
			return err
		}
	}

	orgMgr := orgconfig.NewManager(store)
	if err := orgMgr.Load(ctx); err != nil {
		return fmt.Errorf("loading organization config: %w", err)
	}

	activityLog := activity.NewStore(store)
	led := ledger.NewSQLite(store)

	gateway := llm.NewGatewayFromConfig(cfg.Providers, activityLog)
	selector := llm.NewSelector(llm.CatalogFromConfig(cfg.Models))

	rb, err := buildRetriever(ctx, store, cfg)
	if err != nil {
		return err
	}
	if rb.indexer != nil {
		if _, err := queue.IndexPending(ctx); err != nil {
			slog.Warn("queueing unindexed knowledge docs", "error", err)
		}
	}

	runner := agent.NewRunner(gateway, selector, composer.New(0), rb.retriever, led, activityLog, cfg.Retrieval.MinScore)
	router := routing.NewRouter(orgMgr, runner, activityLog)
	orch := pipeline.NewOrchestrator(store, orgMgr, runner, router, led, activityLog)

	poll, err := time.ParseDuration(cfg.Dispatch.PollInterval)
	if err != nil {
		slog.Warn("invalid dispatch poll interval, using default 1s", "value", cfg.Dispatch.PollInterval, "error", err)
		poll = time.Second
	}
	worker := dispatch.NewWorker(store, orch, dispatch.Options{
		Concurrency:  cfg.Dispatch.Concurrency,
		PollInterval: poll,
		Indexer:      rb.indexer,
		Refresh:      rb.refresh,
	})
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Pipeline:  orch,
		Jobs:      queue,
		Runner:    runner,
		Config:    orgMgr,
		Retriever: rb.retriever,
		Vectors:   rb.vectors,
		MinScore:  cfg.Retrieval.MinScore,
		Token:     apiToken,
	})

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Pipeline:  orch,
			Runner:    runner,
			Config:    orgMgr,
			Retriever: rb.retriever,
			MinScore:  cfg.Retrieval.MinScore,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "civicdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedIfEmpty applies the configured seed file on first start, when no
// agents exist yet.
func seedIfEmpty(ctx context.Context, store *storage.Store, cfg config.Config) error {
	agents, err := store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("checking agents: %w", err)
	}
	if len(agents) > 0 {
		return nil
	}
	stats, err := seedStore(ctx, store, cfg.Org.SeedFile, cfg.Dispatch.MaxAttempts)
	if err != nil {
		return fmt.Errorf("seeding from %s: %w", cfg.Org.SeedFile, err)
	}
	slog.Info("seeded organization config", "file", cfg.Org.SeedFile, "stats", stats.String())
	return nil
}

type retrieverBundle struct {
	retriever retrieval.Retriever
	indexer   dispatch.Indexer
	refresh   func(ctx context.Context) error
	vectors   api.VectorCounter
}

func buildRetriever(ctx context.Context, store *storage.Store, cfg config.Config) (retrieverBundle, error) {
	switch cfg.Retrieval.Backend {
	case "vector":
		baseURL := cfg.Providers.OllamaBaseURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		ollama := llm.NewOllamaClient(baseURL)
		if err := ollama.EnsureModels(ctx, os.Stderr, cfg.Retrieval.EmbedModel); err != nil {
			return retrieverBundle{}, fmt.Errorf("preparing embedding model: %w", err)
		}
		vectors := retrieval.NewSQLiteStore(store.DB())
		vr := retrieval.NewVectorRetriever(retrieval.NewEmbedder(ollama, cfg.Retrieval.EmbedModel), vectors)
		slog.Info("retrieval backend ready", "backend", "vector", "embed_model", cfg.Retrieval.EmbedModel)
		return retrieverBundle{retriever: vr, indexer: vr, vectors: vectors}, nil

	default:
		entries, err := retrieval.LoadCorpus(ctx, store)
		if err != nil {
			return retrieverBundle{}, fmt.Errorf("loading knowledge corpus: %w", err)
		}
		kr := retrieval.NewKeywordRetriever(entries)
		refresh := func(ctx context.Context) error {
			entries, err := retrieval.LoadCorpus(ctx, store)
			if err != nil {
				return err
			}
			kr.Replace(entries)
			return nil
		}
		slog.Info("retrieval backend ready", "backend", "keyword", "entries", kr.Len())
		return retrieverBundle{retriever: kr, refresh: refresh}, nil
	}
}
