package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mcbagz/ladchat/ai/core/embedding"
)

// ErrEmbedderUnavailable is returned when the embedding provider fails, times out or is short-circuited.
var ErrEmbedderUnavailable = errors.New("embedder unavailable")

// Embedder turns text into vectors and images into short descriptions.
type Embedder interface {
	// EmbedText returns a vector of the configured dimension.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// DescribeImage returns a short description of the image at url.
	DescribeImage(ctx context.Context, url string) (string, error)

	// Model names the embedding model, recorded alongside each vector.
	Model() string
}

// embeddingProvider is the subset of *embedding.Provider the embedder calls.
type embeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	DescribeImage(ctx context.Context, imageURL string) (string, error)
	Model() string
}

// EmbedderObserver receives call outcomes. Implemented by the metrics package.
type EmbedderObserver interface {
	ObserveEmbedderCall(op string, err error, duration time.Duration)
}

type embedder struct {
	provider   embeddingProvider
	dimensions int
	observer   EmbedderObserver

	// breaker guards EmbedText; visionBreaker guards DescribeImage on its own.
	breaker       *gobreaker.CircuitBreaker[any]
	visionBreaker *gobreaker.CircuitBreaker[any]
}

// NewEmbedder creates an Embedder backed by an OpenAI-compatible provider.
func NewEmbedder(cfg *EmbeddingConfig, observer EmbedderObserver) (Embedder, error) {
	provider, err := embedding.NewProvider(&embedding.Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		EmbeddingModel: cfg.Model,
		ChatModel:      cfg.VisionModel,
		Dimensions:     requestDimensions(cfg),
		Timeout:        30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if err := provider.Validate(context.Background()); err != nil {
		return nil, err
	}
	return newEmbedder(provider, cfg.Dimensions, observer), nil
}

// Only text-embedding-3 models accept a dimensions parameter.
func requestDimensions(cfg *EmbeddingConfig) int {
	if strings.HasPrefix(cfg.Model, "text-embedding-3") {
		return cfg.Dimensions
	}
	return 0
}

func newEmbedder(provider embeddingProvider, dimensions int, observer EmbedderObserver) *embedder {
	return &embedder{
		provider:      provider,
		dimensions:    dimensions,
		observer:      observer,
		breaker:       newProviderBreaker("embedder"),
		visionBreaker: newProviderBreaker("vision"),
	}
}

func newProviderBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("embedder circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled) || embedding.IsInputError(err)
		},
	})
}

func (e *embedder) Model() string {
	return e.provider.Model()
}

func (e *embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embed text: empty input")
	}

	start := time.Now()
	result, err := e.breaker.Execute(func() (any, error) {
		vector, err := e.provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if e.dimensions > 0 && len(vector) != e.dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vector), e.dimensions)
		}
		return vector, nil
	})
	e.observe("embed_text", err, start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedderUnavailable, err)
	}
	return result.([]float32), nil
}

func (e *embedder) DescribeImage(ctx context.Context, url string) (string, error) {
	start := time.Now()
	result, err := e.visionBreaker.Execute(func() (any, error) {
		return e.provider.DescribeImage(ctx, url)
	})
	e.observe("describe_image", err, start)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEmbedderUnavailable, err)
	}
	return result.(string), nil
}

func (e *embedder) observe(op string, err error, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveEmbedderCall(op, err, time.Since(start))
	}
}
