package llm

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-crowdcheck/internal/domain"
	"github.com/ahrav/go-crowdcheck/internal/ports"
)

// ResilienceConfig describes the middleware chain wrapped around a provider.
// Zero values disable the corresponding layer.
type ResilienceConfig struct {
	MaxRetries     int             `yaml:"max_retries" toml:"max_retries" json:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay domain.Duration `yaml:"retry_base_delay" toml:"retry_base_delay" json:"retry_base_delay" validate:"min=0"`
	RetryMaxDelay  domain.Duration `yaml:"retry_max_delay" toml:"retry_max_delay" json:"retry_max_delay" validate:"min=0"`

	// RequestsPerSecond of 0 disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" toml:"burst" json:"burst" validate:"min=0"`

	// BreakerFailures of 0 disables the circuit breaker.
	BreakerFailures int             `yaml:"breaker_failures" toml:"breaker_failures" json:"breaker_failures" validate:"min=0"`
	BreakerCooldown domain.Duration `yaml:"breaker_cooldown" toml:"breaker_cooldown" json:"breaker_cooldown" validate:"min=0"`

	RequestTimeout domain.Duration `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout" validate:"min=0"`

	Tracing bool `yaml:"tracing" toml:"tracing" json:"tracing"`
}

// DefaultResilience returns settings suited to a batch of scoring calls.
func DefaultResilience() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:        2,
		RetryBaseDelay:    domain.Duration(250 * time.Millisecond),
		RetryMaxDelay:     domain.Duration(4 * time.Second),
		RequestsPerSecond: 5,
		Burst:             5,
		BreakerFailures:   5,
		BreakerCooldown:   domain.Duration(30 * time.Second),
		RequestTimeout:    domain.Duration(30 * time.Second),
		Tracing:           true,
	}
}

// Middleware builds the chain, outermost first: tracing, metrics, circuit
// breaker, retry, rate limit, timeout. Each retry attempt waits for the rate
// limiter and gets its own deadline. A nil collector skips metrics.
func (c ResilienceConfig) Middleware(provider string, collector ports.MetricsCollector) []Middleware {
	var chain []Middleware
	if c.Tracing {
		chain = append(chain, TracingMiddleware(nil))
	}
	if collector != nil {
		chain = append(chain, MetricsMiddleware(collector, provider))
	}
	if c.BreakerFailures > 0 {
		chain = append(chain, CircuitBreakerMiddleware(c.BreakerFailures, c.BreakerCooldown.Std()))
	}
	if c.MaxRetries > 0 {
		chain = append(chain, RetryMiddleware(c.MaxRetries, c.RetryBaseDelay.Std(), max(c.RetryMaxDelay, c.RetryBaseDelay).Std()))
	}
	if c.RequestsPerSecond > 0 {
		chain = append(chain, RateLimitMiddleware(rate.Limit(c.RequestsPerSecond), max(c.Burst, 1)))
	}
	if c.RequestTimeout > 0 {
		chain = append(chain, TimeoutMiddleware(c.RequestTimeout.Std()))
	}
	return chain
}
