package application

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/ahrav/go-crowdcheck/infrastructure/confidence"
	"github.com/ahrav/go-crowdcheck/infrastructure/llm"
	"github.com/ahrav/go-crowdcheck/internal/ports"
)

// Built-in scorer types.
const (
	ScorerHeuristic = "heuristic"
	ScorerLLM       = "llm"
)

// ScorerDeps are the collaborators a scorer factory may need.
type ScorerDeps struct {
	// LLMClient overrides client construction for the llm scorer.
	LLMClient ports.LLMClient
	// Metrics receives LLM request metrics. Nil disables them.
	Metrics ports.MetricsCollector
	// Getenv reads provider API keys. Nil means os.Getenv.
	Getenv func(string) string
}

// ScorerFactory builds a confidence scorer from configuration.
type ScorerFactory func(cfg ScorerConfig, concurrency int, deps ScorerDeps) (ports.ConfidenceScorer, error)

// ScorerRegistry maps scorer type names to factories.
type ScorerRegistry struct {
	mu        sync.RWMutex
	factories map[string]ScorerFactory
}

// NewScorerRegistry returns an empty registry.
func NewScorerRegistry() *ScorerRegistry {
	return &ScorerRegistry{factories: make(map[string]ScorerFactory)}
}

// DefaultScorerRegistry returns a registry with the heuristic and llm
// scorers registered.
func DefaultScorerRegistry() *ScorerRegistry {
	r := NewScorerRegistry()
	r.factories[ScorerHeuristic] = newHeuristicScorer
	r.factories[ScorerLLM] = newLLMScorer
	return r
}

// Register adds or replaces the factory for scorerType.
func (r *ScorerRegistry) Register(scorerType string, factory ScorerFactory) error {
	if scorerType == "" {
		return fmt.Errorf("scorer type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scorerType] = factory
	return nil
}

// Types lists registered scorer types in sorted order.
func (r *ScorerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Create builds the scorer described by policy.Scorer, bounding its batch
// concurrency by policy.BatchConcurrency.
func (r *ScorerRegistry) Create(policy Policy, deps ScorerDeps) (ports.ConfidenceScorer, error) {
	factory, err := r.lookup(policy.Scorer.Type)
	if err != nil {
		return nil, err
	}

	scorer, err := factory(policy.Scorer, policy.BatchConcurrency, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s scorer: %w", policy.Scorer.Type, err)
	}
	return scorer, nil
}

func (r *ScorerRegistry) lookup(scorerType string) (ScorerFactory, error) {
	r.mu.RLock()
	factory, ok := r.factories[scorerType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported scorer type %q (available: %v)", scorerType, r.Types())
	}
	return factory, nil
}

func newHeuristicScorer(_ ScorerConfig, concurrency int, _ ScorerDeps) (ports.ConfidenceScorer, error) {
	return confidence.NewHeuristicScorer(concurrency), nil
}

func newLLMScorer(cfg ScorerConfig, concurrency int, deps ScorerDeps) (ports.ConfidenceScorer, error) {
	client := deps.LLMClient
	if client == nil {
		provider := cfg.Provider
		if provider == "" {
			provider = "openai"
		}

		getenv := deps.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		envKey, ok := llm.APIKeyEnv[provider]
		if !ok {
			return nil, fmt.Errorf("no API key variable known for provider %q", provider)
		}

		c, err := llm.NewClient(provider, llm.ClientConfig{
			APIKey:     getenv(envKey),
			Model:      cfg.Model,
			Middleware: cfg.Resilience.Middleware(provider, deps.Metrics),
		})
		if err != nil {
			return nil, fmt.Errorf("%s client (set %s): %w", provider, envKey, err)
		}
		client = c
	}

	scorerCfg := cfg.LLM
	if scorerCfg.Concurrency == 0 {
		scorerCfg.Concurrency = concurrency
	}
	return confidence.NewLLMScorer(client, scorerCfg)
}
