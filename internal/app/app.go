// Package app wires configuration into the running chatbot: model clients,
// the vector store, retrieval, the answering agent and the session manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/moviechat/internal/agent"
	"github.com/raphaelgruber/moviechat/internal/config"
	"github.com/raphaelgruber/moviechat/internal/ingest"
	"github.com/raphaelgruber/moviechat/internal/language"
	"github.com/raphaelgruber/moviechat/internal/llm"
	"github.com/raphaelgruber/moviechat/internal/memory"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/retrieval"
	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/raphaelgruber/moviechat/internal/tools"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
)

// App holds every long-lived component. All fields are safe for concurrent
// use.
type App struct {
	Config       config.Config
	Metrics      *metrics.Collector
	Embedder     *llm.Embedder
	Store        vectorstore.Store
	Model        *llm.Model
	Retriever    *retrieval.Retriever
	QA           *retrieval.QA
	Orchestrator *agent.Orchestrator
	Policy       *language.Policy
	Sessions     *session.Manager
	Logger       *slog.Logger
}

// Build connects to the configured providers and store. It does not create
// the collection; ingestion and the collection command do.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc := metrics.NewCollector()

	store, err := NewStore(ctx, cfg, mc, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedder(ctx, cfg, mc)
	if err != nil {
		store.Close()
		return nil, err
	}

	model, err := llm.NewModel(ctx, cfg, mc)
	if err != nil {
		store.Close()
		return nil, err
	}

	return Assemble(cfg, embedder, store, model, mc, logger), nil
}

// Assemble builds the retrieval and answering layers over existing clients.
func Assemble(cfg config.Config, embedder *llm.Embedder, store vectorstore.Store, model *llm.Model, mc *metrics.Collector, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	retriever := retrieval.New(embedder, store, cfg.RetrievalK, logger)
	qa := retrieval.NewQA(model, retriever, cfg.RetrievalK)

	var tool agent.Tool
	switch cfg.ToolMode {
	case config.ToolModeQA:
		tool = agent.NewQATool(qa)
	default:
		tool = agent.NewSearchTool(retriever, cfg.RetrievalK, cfg.ContextChars)
	}

	orchestrator := agent.New(model, []agent.Tool{tool}, agent.Config{
		MaxToolCalls:    cfg.MaxToolCalls,
		MaxTurnDuration: cfg.MaxTurnDuration,
	}, mc, logger)

	policy := language.NewPolicy(nil, logger)

	var memOpts []memory.Option
	if cfg.MemoryMaxTurns > 0 {
		memOpts = append(memOpts, memory.WithMaxTurns(cfg.MemoryMaxTurns))
	}

	logger.Info("moviechat assembled",
		"backend", cfg.VectorBackend,
		"collection", cfg.Collection,
		"llm", model.Model(),
		"embedder", embedder.Model(),
		"tool_mode", cfg.ToolMode,
	)

	return &App{
		Config:       cfg,
		Metrics:      mc,
		Embedder:     embedder,
		Store:        store,
		Model:        model,
		Retriever:    retriever,
		QA:           qa,
		Orchestrator: orchestrator,
		Policy:       policy,
		Sessions:     session.NewManager(orchestrator, policy, logger, memOpts...),
		Logger:       logger,
	}
}

// NewStore connects to the configured vector store backend.
func NewStore(ctx context.Context, cfg config.Config, mc *metrics.Collector, logger *slog.Logger) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		s, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			Dimension:  cfg.VectorDimension,
		}, mc, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSurrealDB:
		s, err := vectorstore.NewSurreal(ctx, vectorstore.SurrealConfig{
			URL:        cfg.SurrealDBURL,
			Namespace:  cfg.SurrealDBNamespace,
			Database:   cfg.SurrealDBDatabase,
			Username:   cfg.SurrealDBUser,
			Password:   cfg.SurrealDBPass,
			AuthLevel:  cfg.SurrealDBAuthLevel,
			Collection: cfg.Collection,
			Dimension:  cfg.VectorDimension,
		}, mc, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendChromem:
		s, err := vectorstore.NewChromem(vectorstore.ChromemConfig{
			Path:       cfg.ChromemPath,
			Collection: cfg.Collection,
			Dimension:  cfg.VectorDimension,
		}, mc, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &config.ConfigurationError{Invalid: []string{"MOVIECHAT_VECTOR_BACKEND"}}
	}
}

// Ingester returns an ingester writing into the app's store.
func (a *App) Ingester(opts ingest.Options) *ingest.Ingester {
	return ingest.New(a.Embedder, a.Store, opts, a.Logger)
}

// ToolDependencies returns the services the MCP tools need.
func (a *App) ToolDependencies() *tools.Dependencies {
	return &tools.Dependencies{
		Retriever: a.Retriever,
		Sessions:  a.Sessions,
		Logger:    a.Logger,
	}
}

// Close releases the store connection.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// IsConfigurationError reports whether err should stop the process before
// any work is done.
func IsConfigurationError(err error) bool {
	return errors.Is(err, config.ErrConfiguration)
}
