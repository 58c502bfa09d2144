package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.openai.com/v1", cfg.BaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{
			name: "valid config",
			cfg: &Config{
				BaseURL:        "https://api.openai.com/v1",
				APIKey:         "test-key",
				EmbeddingModel: "text-embedding-3-small",
				ChatModel:      "gpt-4o-mini",
				MaxRetries:     3,
				Timeout:        30 * time.Second,
			},
		},
		{name: "nil config uses defaults"},
		{
			name: "zero values are filled with defaults",
			cfg:  &Config{BaseURL: "https://api.test.com", APIKey: "test-key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, p)
			require.NotNil(t, p.config)
		})
	}
}

func TestNewProvider_DefaultValueFilling(t *testing.T) {
	p, err := NewProvider(&Config{BaseURL: "https://api.test.com", APIKey: "test-key"})
	require.NoError(t, err)

	assert.Equal(t, 3, p.config.MaxRetries)
	assert.Equal(t, 30*time.Second, p.config.Timeout)
	assert.Equal(t, "text-embedding-3-small", p.config.EmbeddingModel)
	assert.Equal(t, "gpt-4o-mini", p.config.ChatModel)
}

func TestProvider_Validate(t *testing.T) {
	tests := []struct {
		name        string
		baseURL     string
		apiKey      string
		errContains string
	}{
		{name: "missing api key", baseURL: "https://api.test.com", errContains: "API key is required"},
		{name: "with api key", baseURL: "https://api.test.com", apiKey: "k"},
		{name: "local ollama needs no key", baseURL: "http://localhost:11434/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(&Config{BaseURL: tt.baseURL, APIKey: tt.apiKey})
			require.NoError(t, err)

			err = p.Validate(context.Background())
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewProviderFromEnv(t *testing.T) {
	t.Setenv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-large")

	p, err := NewProviderFromEnv()
	require.NoError(t, err)
	require.NotNil(t, p.config)
	assert.Equal(t, "text-embedding-3-large", p.Model())
}

func TestListModels(t *testing.T) {
	p, err := NewProvider(&Config{
		BaseURL:        "https://api.test.com",
		APIKey:         "test-key",
		EmbeddingModel: "custom-embedding-model",
		ChatModel:      "custom-chat-model",
	})
	require.NoError(t, err)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"custom-embedding-model", "custom-chat-model"}, models)
}

func TestGetEnv(t *testing.T) {
	assert.Equal(t, "fallback", getEnv("NON_EXISTENT_ENV_VAR_12345", "fallback"))

	t.Setenv("LADCHAT_TEST_GETENV", "set")
	assert.Equal(t, "set", getEnv("LADCHAT_TEST_GETENV", "fallback"))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewProvider(&Config{BaseURL: server.URL, APIKey: "test-key", MaxRetries: 2, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return p
}

func TestProvider_EmbedBatch_OrdersByIndex(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}]}`)
	})

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestProvider_Embed_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.5]}]}`)
	})

	vector, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vector)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProvider_Embed_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad input","type":"invalid_request_error"}}`)
	})

	_, err := p.Embed(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProvider_DescribeImage(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"image_url"`)
		assert.Contains(t, string(body), `"max_tokens":150`)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":" Friends hiking a trail. "}}]}`)
	})

	description, err := p.DescribeImage(context.Background(), "https://cdn.example.com/snap.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Friends hiking a trail.", description)

	_, err = p.DescribeImage(context.Background(), "")
	assert.Error(t, err)
}

func TestProvider_Chat(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}]}`)
	})

	reply, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", reply)
}

func TestIsInputError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, true},
		{"wrapped unprocessable", fmt.Errorf("describe image failed: %w", &openai.RequestError{HTTPStatusCode: http.StatusUnprocessableEntity}), true},
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, false},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, false},
		{"transport error", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInputError(tt.err))
		})
	}
}
