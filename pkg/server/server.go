// Package server assembles the ARIA service from configuration: settings
// store, provider resolution, LLM invocation with fallback, the question
// pipeline, the knowledge collaborator and the HTTP API.
//
// Usage:
//
//	cfg, _ := config.Load()
//	srv, err := server.New(ctx, cfg)
//	defer srv.Close(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/api"
	"github.com/agentoven/aria/internal/api/handlers"
	"github.com/agentoven/aria/internal/config"
	"github.com/agentoven/aria/internal/contextbuilder"
	"github.com/agentoven/aria/internal/embeddings"
	"github.com/agentoven/aria/internal/fallback"
	"github.com/agentoven/aria/internal/llm"
	"github.com/agentoven/aria/internal/ondevice"
	"github.com/agentoven/aria/internal/pipeline"
	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/internal/rag"
	"github.com/agentoven/aria/internal/sessions"
	"github.com/agentoven/aria/internal/store"
	"github.com/agentoven/aria/internal/telemetry"
	"github.com/agentoven/aria/internal/vectorstore"
	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// Options carries the host collaborators. All fields are optional.
type Options struct {
	Search  contracts.EntitySearcher
	Actions contracts.ActionGenerator
	Runtime ondevice.Runtime // defaults to a llama-server process
}

// Server holds the initialized service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Config       *config.Config
	Store        store.Store
	Settings     *store.ConfigHolder
	Resolver     *providers.Resolver
	Invoker      *llm.Invoker
	Orchestrator *fallback.Orchestrator
	Device       *ondevice.Engine // nil when disabled
	Engine       *pipeline.Engine
	Sessions     *sessions.Store
	Knowledge    *rag.Retriever // nil when disabled
	Ingester     *rag.Ingester  // nil when disabled

	closers  []func() error
	shutdown telemetry.Shutdown
}

// New initializes every component and returns a ready Server.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s := &Server{Config: cfg, shutdown: shutdown}

	if err := s.openStore(ctx); err != nil {
		s.Close(ctx)
		return nil, err
	}

	s.Resolver = providers.NewResolver(
		providers.NewAdapterCache(cfg.Invocation.AdapterCache),
		providers.LocalSettings{BaseURL: cfg.Local.BaseURL, Model: cfg.Local.Model, RouterModel: cfg.Local.RouterModel},
	)
	s.Invoker = llm.NewInvoker(nil, llm.Policy{
		Retries:        cfg.Invocation.Retries,
		InitialBackoff: cfg.Invocation.InitialBackoff,
		MaxBackoff:     cfg.Invocation.MaxBackoff,
		RateLimitWait:  cfg.Invocation.RateLimitWait,
		Timeout:        cfg.Invocation.Timeout,
	})

	var device fallback.OnDevice
	if cfg.OnDevice.Enabled {
		rt := opts.Runtime
		if rt == nil {
			rt = newLlamaServer(cfg)
		}
		s.Device = ondevice.NewEngine(rt, cfg.OnDevice.Model, cfg.OnDevice.LoadTimeout)
		device = s.Device
		s.closers = append(s.closers, func() error {
			if err := s.Device.Unload(); err != nil && !errors.Is(err, ondevice.ErrNotLoaded) {
				return err
			}
			return nil
		})
	}
	s.Orchestrator = fallback.New(s.Resolver, s.Invoker, device)
	log.Info().Bool("on_device", cfg.OnDevice.Enabled).Str("local", cfg.Local.BaseURL).Msg("✅ LLM fallback chain initialized")

	var knowledge contracts.KnowledgeRetriever
	if cfg.Knowledge.Enabled {
		if err := s.openKnowledge(ctx); err != nil {
			s.Close(ctx)
			return nil, err
		}
		knowledge = s.Knowledge
	}

	s.Engine = pipeline.New(contextbuilder.New(opts.Search, knowledge, opts.Actions))
	s.Sessions = sessions.New(sessions.Options{
		Window:       cfg.Pipeline.HistoryWindow,
		ChartHistory: cfg.Pipeline.ChartHistory,
		TTL:          cfg.Pipeline.ConversationTTL,
		MaxEntries:   cfg.Pipeline.MaxConversations,
	})

	h := &handlers.Handlers{
		Settings:  s.Settings,
		Sessions:  s.Sessions,
		Engine:    s.Engine,
		Bind:      s.Bind,
		Resolver:  s.Resolver,
		Validator: s.Invoker,
		Knowledge: knowledge,
		Ingester:  s.Ingester,
	}
	if s.Device != nil {
		h.Device = s.Device
	}
	s.Handler = api.NewRouter(cfg, h)
	return s, nil
}

// Bind returns the fallback chain for one call-context.
func (s *Server) Bind(cfg *models.StoredConfiguration) contracts.StreamCompleter {
	return s.Orchestrator.Bind(cfg)
}

// Background runs periodic maintenance until ctx is done.
func (s *Server) Background(ctx context.Context) {
	s.Sessions.Run(ctx, 10*time.Minute)
}

// Close releases storage, the on-device model and flushes telemetry.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.shutdown != nil {
		if err := s.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.shutdown = nil
	}
	return errors.Join(errs...)
}

func (s *Server) openStore(ctx context.Context) error {
	switch s.Config.Storage.Driver {
	case "sqlite":
		st, err := store.OpenSQLite(ctx, s.Config.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open settings store: %w", err)
		}
		s.Store = st
		log.Info().Str("path", s.Config.Storage.SQLitePath).Msg("✅ SQLite settings store initialized")
	default:
		s.Store = store.NewMemoryStore(s.Config.Storage.DataDir)
		log.Info().Msg("✅ In-memory settings store initialized")
	}
	s.closers = append(s.closers, s.Store.Close)

	s.Settings = store.NewConfigHolder(s.Store)
	if err := s.Settings.Load(ctx); err != nil {
		return fmt.Errorf("load provider settings: %w", err)
	}
	return nil
}

func (s *Server) openKnowledge(ctx context.Context) error {
	kc := s.Config.Knowledge
	emb, err := embeddings.New(kc, nil)
	if err != nil {
		return fmt.Errorf("init embeddings: %w", err)
	}

	var vs contracts.VectorStoreDriver
	switch kc.VectorStore {
	case "pgvector":
		pg, err := vectorstore.NewPgvectorStore(ctx, kc.PgvectorURL, emb.Dimensions())
		if err != nil {
			return fmt.Errorf("init vector store: %w", err)
		}
		s.closers = append(s.closers, func() error { pg.Close(); return nil })
		vs = pg
	default:
		vs = vectorstore.NewEmbeddedStore(kc.EmbeddedMaxDocs)
	}

	s.Knowledge = rag.NewRetriever(emb, vs, kc.Corpus)
	s.Ingester = rag.NewIngester(emb, vs, kc.Corpus, kc.ChunkSize, kc.ChunkOverlap)
	log.Info().
		Str("embeddings", emb.Kind()).
		Str("vector_store", vs.Kind()).
		Str("corpus", kc.Corpus).
		Msg("✅ Knowledge base initialized")
	return nil
}

func newLlamaServer(cfg *config.Config) *ondevice.LlamaServer {
	od := cfg.OnDevice
	return ondevice.NewLlamaServer(ondevice.LlamaServerConfig{
		Binary:          od.Binary,
		ModelDir:        od.ModelDir,
		Port:            od.Port,
		GPULayers:       od.GPULayers,
		AllowCPU:        od.AllowCPU,
		Args:            od.Args,
		GenerateTimeout: cfg.Invocation.Timeout,
	})
}
