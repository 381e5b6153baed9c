package llm

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Parameter bounds shared by the providers.
const (
	// DefaultMaxTokens applies when a request does not set max_tokens.
	DefaultMaxTokens = 1024

	MinTemperature = 0.0
	// MaxTemperature is 2.0 to accommodate Gemini and OpenAI.
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinPenalty     = -2.0
	MaxPenalty     = 2.0

	MinTimeout = 1 * time.Second
	MaxTimeout = 10 * time.Minute
)

// RequestOptions is the provider-neutral view of a request's option map.
type RequestOptions struct {
	MaxTokens int
	Model     string
	// Temperature and TopP are nil when the provider default should apply.
	Temperature *float64
	TopP        *float64
	System      string
	// Extra holds provider-specific keys such as response_format or top_k.
	Extra map[string]any
}

// ParseRequestOptions extracts the standard keys from opts, falling back to
// defaults for missing or invalid values. Unrecognized keys land in Extra.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, "max_tokens", DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, "model", defaultModel, IsNonEmptyString),
		System:    ExtractOptionalString(opts, "system", "", nil),
		Extra:     make(map[string]any),
	}

	if temp, ok := extractFloat(opts, "temperature"); ok && IsValidTemperature(temp) {
		options.Temperature = &temp
	}
	if topP, ok := extractFloat(opts, "top_p"); ok && IsValidTopP(topP) {
		options.TopP = &topP
	}

	for k, v := range opts {
		switch k {
		case "max_tokens", "model", "system", "temperature", "top_p":
		default:
			options.Extra[k] = v
		}
	}
	return options
}

// ExtractOptionalInt returns opts[key] when it is an int accepted by valid,
// otherwise defaultVal.
func ExtractOptionalInt(opts map[string]any, key string, defaultVal int, valid func(int) bool) int {
	v, ok := opts[key].(int)
	if !ok || (valid != nil && !valid(v)) {
		return defaultVal
	}
	return v
}

// ExtractOptionalString returns opts[key] when it is a string accepted by
// valid, otherwise defaultVal.
func ExtractOptionalString(opts map[string]any, key string, defaultVal string, valid func(string) bool) string {
	v, ok := opts[key].(string)
	if !ok || (valid != nil && !valid(v)) {
		return defaultVal
	}
	return v
}

// ExtractOptionalFloat64 returns opts[key] when it is numeric and accepted
// by valid, otherwise defaultVal.
func ExtractOptionalFloat64(opts map[string]any, key string, defaultVal float64, valid func(float64) bool) float64 {
	v, ok := extractFloat(opts, key)
	if !ok || (valid != nil && !valid(v)) {
		return defaultVal
	}
	return v
}

// extractFloat accepts float64, float32 and int values.
func extractFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func IsPositiveInt(val int) bool          { return val > 0 }
func IsNonEmptyString(val string) bool    { return val != "" }
func IsValidTemperature(val float64) bool { return val >= MinTemperature && val <= MaxTemperature }
func IsValidTopP(val float64) bool        { return val >= MinTopP && val <= MaxTopP }

// ValidateBaseURL checks that baseURL is an absolute http(s) URL. Empty is
// valid and means the provider default.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL must include a host")
	}
	return u.String(), nil
}

// ValidateTimeout clamps timeout into [MinTimeout, MaxTimeout]. Zero or
// negative returns zero, meaning no timeout.
func ValidateTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return 0
	case timeout < MinTimeout:
		return MinTimeout
	case timeout > MaxTimeout:
		return MaxTimeout
	default:
		return timeout
	}
}

// ClampFloat64 restricts val to [lo, hi].
func ClampFloat64(val, lo, hi float64) float64 {
	return min(max(val, lo), hi)
}

// ClampInt restricts val to [lo, hi].
func ClampInt(val, lo, hi int) int {
	return min(max(val, lo), hi)
}

// BaseProvider holds the model name behind a lock so SetModel is safe while
// requests are in flight.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the configured model.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel replaces the configured model.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// TokenCounter estimates tokens from character count.
type TokenCounter struct {
	CharactersPerToken float64
}

// NewTokenCounter returns a counter using four characters per token.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens rounds up so any non-empty text counts as at least one
// token.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len(text))/tc.CharactersPerToken + 0.999)
	return max(n, 1)
}

// Count prefers a positive count reported by the provider and estimates
// otherwise.
func (tc *TokenCounter) Count(reported int64, text string) int {
	if reported > 0 {
		return int(reported)
	}
	return tc.EstimateTokens(text)
}
