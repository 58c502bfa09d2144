// Package embedding is the OpenAI-compatible client behind text embeddings and image descriptions.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Config configures an OpenAI-compatible provider (openai, siliconflow, ollama).
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	// Dimensions requests a reduced output size from models that support it. Zero keeps the model default.
	Dimensions int
	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns the OpenAI defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.openai.com/v1",
		EmbeddingModel: "text-embedding-3-small",
		ChatModel:      "gpt-4o-mini",
		MaxRetries:     3,
		Timeout:        30 * time.Second,
	}
}

// Message is a single chat message.
type Message struct {
	Role    string
	Content string
}

const describeImagePrompt = "Describe what you see in this image. Focus on activities, interests, social context, " +
	"and what this might tell us about the person who posted it. Keep it concise but informative."

const describeImageMaxTokens = 150

// Provider calls the embeddings and chat completion endpoints.
type Provider struct {
	client *openai.Client
	config *Config
}

// NewProvider creates a provider. Zero fields fall back to DefaultConfig.
func NewProvider(cfg *Config) (*Provider, error) {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	merged := *cfg
	if merged.BaseURL == "" {
		merged.BaseURL = defaults.BaseURL
	}
	if merged.EmbeddingModel == "" {
		merged.EmbeddingModel = defaults.EmbeddingModel
	}
	if merged.ChatModel == "" {
		merged.ChatModel = defaults.ChatModel
	}
	if merged.MaxRetries <= 0 {
		merged.MaxRetries = defaults.MaxRetries
	}
	if merged.Timeout <= 0 {
		merged.Timeout = defaults.Timeout
	}

	clientConfig := openai.DefaultConfig(merged.APIKey)
	clientConfig.BaseURL = strings.TrimRight(merged.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: merged.Timeout}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: &merged,
	}, nil
}

// NewProviderFromEnv reads OPENAI_BASE_URL, OPENAI_API_KEY, OPENAI_EMBEDDING_MODEL and OPENAI_CHAT_MODEL.
func NewProviderFromEnv() (*Provider, error) {
	defaults := DefaultConfig()
	return NewProvider(&Config{
		BaseURL:        getEnv("OPENAI_BASE_URL", defaults.BaseURL),
		APIKey:         getEnv("OPENAI_API_KEY", ""),
		EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", defaults.EmbeddingModel),
		ChatModel:      getEnv("OPENAI_CHAT_MODEL", defaults.ChatModel),
	})
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// Model returns the embedding model name.
func (p *Provider) Model() string {
	return p.config.EmbeddingModel
}

// Validate checks the configuration without calling the API.
func (p *Provider) Validate(_ context.Context) error {
	if p.config.APIKey == "" && !isLocalBaseURL(p.config.BaseURL) {
		return errors.New("embedding provider: API key is required")
	}
	if p.config.EmbeddingModel == "" {
		return errors.New("embedding provider: embedding model is required")
	}
	return nil
}

// Ollama serves the OpenAI API locally without authentication.
func isLocalBaseURL(baseURL string) bool {
	return strings.Contains(baseURL, "localhost") || strings.Contains(baseURL, "127.0.0.1")
}

// ListModels returns the configured embedding and chat models.
func (p *Provider) ListModels(_ context.Context) ([]string, error) {
	return []string{p.config.EmbeddingModel, p.config.ChatModel}, nil
}

// Embed returns the embedding of a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one embedding per input text, in input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.config.EmbeddingModel),
		Dimensions: p.config.Dimensions,
	}

	var resp openai.EmbeddingResponse
	err := p.withRetry(ctx, "embeddings", func() error {
		var err error
		resp, err = p.client.CreateEmbeddings(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", data.Index)
		}
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}

// DescribeImage asks the chat model for a short social description of the image at imageURL.
func (p *Provider) DescribeImage(ctx context.Context, imageURL string) (string, error) {
	if imageURL == "" {
		return "", errors.New("image url is required")
	}

	req := openai.ChatCompletionRequest{
		Model:     p.config.ChatModel,
		MaxTokens: describeImageMaxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: describeImagePrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
	}

	var resp openai.ChatCompletionResponse
	err := p.withRetry(ctx, "describe image", func() error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("describe image failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty chat completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Chat sends plain messages to the chat model and returns the reply.
func (p *Provider) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages provided")
	}
	req := openai.ChatCompletionRequest{Model: p.config.ChatModel}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var resp openai.ChatCompletionResponse
	err := p.withRetry(ctx, "chat", func() error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty chat completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isRetryable(err) || attempt == p.config.MaxRetries {
			return err
		}
		slog.Warn("embedding provider call failed, retrying",
			"op", op,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// IsInputError reports whether the provider rejected the request itself, such as an
// unreachable image URL, rather than failing to serve it.
func IsInputError(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
