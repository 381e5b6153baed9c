package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-crowdcheck/internal/ports"
)

func newJSONServer(t *testing.T, status int, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, captured)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProvider_Success(t *testing.T) {
	var req map[string]any
	srv := newJSONServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"confidence\": 77}"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
	}`, &req)

	client, err := NewClient("openai", ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, in, out, err := client.CompleteWithUsage(context.Background(), "rate this", map[string]any{
		"temperature":     0.0,
		"max_tokens":      128,
		"system":          "you are a reviewer",
		"response_format": map[string]string{"type": "json_object"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"confidence": 77}`, resp)
	assert.Equal(t, 12, in)
	assert.Equal(t, 5, out)

	assert.Equal(t, OpenAIDefaultModel, req["model"])
	assert.EqualValues(t, 128, req["max_tokens"])
	messages, ok := req["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
	format, ok := req["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		errType  ErrorType
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"message": "slow down", "type": "rate_limit_error"}}`,
			sentinel: ports.ErrRateLimited,
			errType:  ErrorTypeRateLimit,
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error": {"message": "bad key", "type": "invalid_request_error"}}`,
			sentinel: ports.ErrAuthenticationFailed,
			errType:  ErrorTypeAuthentication,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"error": {"message": "oops", "type": "server_error"}}`,
			sentinel: ports.ErrServiceUnavailable,
			errType:  ErrorTypeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newJSONServer(t, tt.status, tt.body, nil)
			client, err := NewClient("openai", ClientConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), "p", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.errType, perr.Type)
			assert.Equal(t, tt.status, perr.StatusCode)
		})
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := newJSONServer(t, http.StatusOK, `{"id": "x", "choices": [], "usage": {}}`, nil)
	client, err := NewClient("openai", ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "p", nil)
	require.ErrorIs(t, err, ErrNoResponseChoice)
}

func TestAnthropicProvider_Success(t *testing.T) {
	var req map[string]any
	srv := newJSONServer(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-haiku-latest",
		"content": [{"type": "text", "text": "{\"confidence\": 64}"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 30, "output_tokens": 8}
	}`, &req)

	client, err := NewClient("anthropic", ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, in, out, err := client.CompleteWithUsage(context.Background(), "rate this", map[string]any{
		"temperature": 1.5,
		"system":      "you are a reviewer",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"confidence": 64}`, resp)
	assert.Equal(t, 30, in)
	assert.Equal(t, 8, out)

	assert.Equal(t, AnthropicDefaultModel, req["model"])
	assert.EqualValues(t, DefaultMaxTokens, req["max_tokens"])
	assert.EqualValues(t, 1, req["temperature"], "temperature is clamped to Anthropic's range")
}

func TestAnthropicProvider_Errors(t *testing.T) {
	srv := newJSONServer(t, http.StatusUnauthorized,
		`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`, nil)

	client, err := NewClient("anthropic", ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "p", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
	assert.False(t, isRetryable(err))
}

func TestAnthropicProvider_EmptyContent(t *testing.T) {
	srv := newJSONServer(t, http.StatusOK, `{
		"id": "msg_1", "type": "message", "role": "assistant",
		"content": [], "usage": {"input_tokens": 1, "output_tokens": 0}
	}`, nil)

	client, err := NewClient("anthropic", ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "p", nil)
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGoogleProvider_GenerationConfig(t *testing.T) {
	p := &googleProvider{}
	temp := 3.0
	opts := RequestOptions{
		MaxTokens:   200,
		Temperature: &temp,
		Extra: map[string]any{
			"top_k":           100,
			"response_format": "json_object",
		},
	}

	cfg := p.generationConfig(opts)
	assert.Equal(t, int32(200), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, float32(MaxTemperature), *cfg.Temperature)
	require.NotNil(t, cfg.TopK)
	assert.Equal(t, float32(40), *cfg.TopK)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Nil(t, cfg.TopP)
}

func TestWantsJSON(t *testing.T) {
	for _, rf := range []any{
		map[string]string{"type": "json_object"},
		map[string]any{"type": "json_object"},
		"json_object",
	} {
		assert.True(t, wantsJSON(RequestOptions{Extra: map[string]any{"response_format": rf}}))
	}
	assert.False(t, wantsJSON(RequestOptions{Extra: map[string]any{"response_format": "text"}}))
	assert.False(t, wantsJSON(RequestOptions{Extra: map[string]any{}}))
	assert.True(t, strings.HasPrefix(GoogleDefaultModel, "gemini"))
}
