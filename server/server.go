package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/ai"
	"github.com/mcbagz/ladchat/ai/cache"
	"github.com/mcbagz/ladchat/ai/embedstore"
	"github.com/mcbagz/ladchat/ai/metrics"
	"github.com/mcbagz/ladchat/ai/recommend"
	"github.com/mcbagz/ladchat/ai/refresh"
	"github.com/mcbagz/ladchat/ai/vector"
	"github.com/mcbagz/ladchat/internal/profile"
	v1 "github.com/mcbagz/ladchat/server/router/api/v1"
	"github.com/mcbagz/ladchat/store"
)

// Engine is the recommendation stack shared by the HTTP server and the maintenance commands.
type Engine struct {
	Config      *ai.Config
	Metrics     *metrics.PrometheusExporter
	Embeddings  *embedstore.Store
	Indexer     *embedstore.Indexer
	Recommender *recommend.Service
	Scheduler   *refresh.Scheduler

	metadata   embedstore.MetadataSource
	closeIndex func() error
}

// NewEngine wires the embedder, vector index, embedding store, recommender and refresh scheduler.
func NewEngine(ctx context.Context, profile *profile.Profile, st *store.Store) (*Engine, error) {
	cfg := ai.NewConfigFromProfile(profile)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid ai config")
	}

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())

	var embedder ai.Embedder = unavailableEmbedder{}
	if cfg.Enabled {
		e, err := ai.NewEmbedder(&cfg.Embedding, exporter)
		if err != nil {
			// Existing vectors still serve recommendations; refreshes wait for the provider.
			slog.Error("failed to create embedder, running without one", "provider", cfg.Embedding.Provider, "error", err)
		} else {
			embedder = e
		}
	} else {
		slog.Warn("embedding provider not configured, vectors will not be refreshed")
	}

	inner, closeIndex, err := newVectorIndex(&cfg.Index, st)
	if err != nil {
		return nil, err
	}
	resilientCfg := vector.DefaultResilientConfig()
	resilientCfg.OnStateChange = exporter.ObserveBreakerState
	index := vector.NewResilientIndex(inner, resilientCfg)

	embeddings := embedstore.New(st, index, embedstore.WithObserver(exporter))
	if err := embeddings.EnsureCollections(ctx, cfg.Embedding.Dimensions); err != nil {
		// The index may come up later; queries fail soft until then.
		slog.Warn("failed to ensure vector collections", "backend", cfg.Index.Backend, "error", err)
	}
	indexer := embedstore.NewIndexer(embeddings, embedder, st,
		embedstore.WithImageDescriber(cache.NewDescriber(embedder, 0, 0)),
	)
	policy := embedstore.NewFreshnessPolicy(cfg.Embedding.TTL)
	metadata := embedstore.NewMetadataSource(st)

	recommender := recommend.NewService(st, embeddings, indexer,
		recommend.WithFreshnessPolicy(policy),
		recommend.WithEmbedTimeout(cfg.Embedding.Timeout),
		recommend.WithObserver(exporter),
	)

	scheduler := refresh.NewScheduler(st, indexer, embeddings, metadata, exporter, refresh.Config{
		Interval:      cfg.Refresh.Interval,
		Concurrency:   cfg.Refresh.Concurrency,
		EntityTimeout: cfg.Refresh.EntityTimeout,
		RatePerSecond: float64(cfg.Refresh.RatePerSecond),
		Policy:        policy,
	})

	return &Engine{
		Config:      cfg,
		Metrics:     exporter,
		Embeddings:  embeddings,
		Indexer:     indexer,
		Recommender: recommender,
		Scheduler:   scheduler,
		metadata:    metadata,
		closeIndex:  closeIndex,
	}, nil
}

// SyncIndex mirrors the durable records into the index without calling the embedder.
// A fresh in-memory index starts empty and is filled here. Failures are logged.
func (e *Engine) SyncIndex(ctx context.Context) {
	for _, entityType := range store.EntityTypes {
		written, err := e.Embeddings.Reconcile(ctx, entityType, e.metadata)
		if err != nil {
			slog.Warn("failed to sync vector index", "entity_type", entityType, "error", err)
			continue
		}
		slog.Debug("vector index synced", "entity_type", entityType, "written", written)
	}
}

// Close stops the scheduler and releases the index connection.
func (e *Engine) Close() error {
	e.Scheduler.Stop()
	if e.closeIndex != nil {
		return e.closeIndex()
	}
	return nil
}

func newVectorIndex(cfg *ai.IndexConfig, st *store.Store) (vector.Index, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return vector.NewMemoryIndex(), nil, nil
	case "qdrant":
		index, err := vector.NewQdrantIndex(vector.QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantKey,
			UseTLS: cfg.QdrantTLS,
			Prefix: "ladchat_",
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to connect to qdrant")
		}
		return index, index.Close, nil
	case "pgvector":
		return vector.NewPGVectorIndex(st.GetDriver().GetDB()), nil, nil
	default:
		return nil, nil, errors.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}

// unavailableEmbedder stands in when no embedding provider is configured.
type unavailableEmbedder struct{}

func (unavailableEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, ai.ErrEmbedderUnavailable
}

func (unavailableEmbedder) DescribeImage(context.Context, string) (string, error) {
	return "", ai.ErrEmbedderUnavailable
}

func (unavailableEmbedder) Model() string {
	return ""
}

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Engine  *Engine

	echoServer *echo.Echo
}

func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store) (*Server, error) {
	engine, err := NewEngine(ctx, profile, st)
	if err != nil {
		return nil, err
	}
	engine.SyncIndex(ctx)

	s := &Server{
		Profile: profile,
		Store:   st,
		Engine:  engine,
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				slog.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Debug("request", attrs...)
			return nil
		},
	}))
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	echoServer.GET("/metrics", echo.WrapHandler(engine.Metrics.Handler()))

	recommendationService := &v1.RecommendationService{
		Recommender: engine.Recommender,
		Reader:      st,
		Stats:       engine.Embeddings,
		UserHeader:  profile.UserHeader,
	}
	recommendationService.RegisterRoutes(echoServer.Group("/api/v1/recommendations"))

	return s, nil
}

func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()

	if s.Engine.Config.Enabled && s.Engine.Config.Refresh.Enabled {
		s.Engine.Scheduler.Start()
		slog.Info("embedding refresh scheduler started", "interval", s.Engine.Config.Refresh.Interval)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	if err := s.Engine.Close(); err != nil {
		slog.Error("failed to close vector index", slog.String("error", err.Error()))
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}

	slog.Info("server stopped properly")
}
