package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ahrav/go-crowdcheck/internal/ports"
)

// DefaultConfidenceResponse is returned by MockLLMClient when no pattern
// matches the prompt.
const DefaultConfidenceResponse = `{"confidence": 82, "reasoning": "The answer addresses the question directly."}`

// MockLLMClient implements ports.LLMClient with deterministic responses for
// consistent testing. Responses are chosen by case-insensitive substring
// match on the prompt, in the order patterns were added. It is safe for
// concurrent use.
type MockLLMClient struct {
	model string

	mu        sync.Mutex
	responses []MockResponse
	calls     []string
}

// MockResponse defines a pre-configured response pattern for the mock client.
type MockResponse struct {
	// Pattern is matched against the lower-cased prompt.
	Pattern string
	// Response is the text returned for matching prompts.
	Response string
	// Err, when set, is returned instead of Response.
	Err error
}

// NewMockLLMClient creates a MockLLMClient that answers every prompt with
// DefaultConfidenceResponse until patterns are added.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{model: model}
}

// AddResponse registers a response pattern. Earlier patterns take priority.
func (m *MockLLMClient) AddResponse(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Pattern = strings.ToLower(r.Pattern)
	m.responses = append(m.responses, r)
}

// Complete returns the first matching response.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, prompt)
	lower := strings.ToLower(prompt)
	for _, r := range m.responses {
		if strings.Contains(lower, r.Pattern) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Response, nil
		}
	}
	return DefaultConfidenceResponse, nil
}

// EstimateTokens approximates four characters per token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens, nil
}

// GetModel returns the mock model identifier.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls returns a copy of every prompt received so far.
func (m *MockLLMClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Reset clears registered patterns and recorded calls.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
	m.calls = nil
}

var _ ports.LLMClient = (*MockLLMClient)(nil)
