package application

import (
	"maps"
	"time"

	"github.com/ahrav/go-crowdcheck/infrastructure/confidence"
	"github.com/ahrav/go-crowdcheck/infrastructure/llm"
	"github.com/ahrav/go-crowdcheck/internal/domain"
)

// Policy holds every tunable of the validation pipeline. DefaultPolicy
// returns the standard constants; files loaded with LoadPolicy overlay it.
type Policy struct {
	Thresholds Thresholds `yaml:"thresholds" toml:"thresholds" json:"thresholds"`
	Weights    Weights    `yaml:"weights" toml:"weights" json:"weights"`

	// NeutralScore is the blended confidence reported when no signal ran.
	NeutralScore float64 `yaml:"neutral_score" toml:"neutral_score" json:"neutral_score" validate:"gte=0,lte=100"`

	// ConfidenceTimeout bounds each confidence scorer call. Zero disables it.
	ConfidenceTimeout domain.Duration `yaml:"confidence_timeout" toml:"confidence_timeout" json:"confidence_timeout" validate:"gte=0"`

	// BatchConcurrency caps ValidateAll fan-out.
	BatchConcurrency int `yaml:"batch_concurrency" toml:"batch_concurrency" json:"batch_concurrency" validate:"min=1,max=256"`

	Fallback FallbackPolicy `yaml:"fallback" toml:"fallback" json:"fallback" validate:"dive,keys,oneof=majority_voting text_similarity ml_confidence,endkeys"`

	Scorer ScorerConfig `yaml:"scorer" toml:"scorer" json:"scorer"`
}

// Thresholds are the 0-100 cut-offs used for flagging and validity.
type Thresholds struct {
	// MajorityConfidence is the minimum vote share for a trusted tally.
	MajorityConfidence float64 `yaml:"majority_confidence" toml:"majority_confidence" json:"majority_confidence" validate:"gte=0,lte=100"`
	// Consensus flags answers whose similarity to the pool is lower.
	Consensus float64 `yaml:"consensus" toml:"consensus" json:"consensus" validate:"gte=0,lte=100"`
	// MLConfidence flags answers the confidence scorer rates lower.
	MLConfidence float64 `yaml:"ml_confidence" toml:"ml_confidence" json:"ml_confidence" validate:"gte=0,lte=100"`
	// ValidBlended is the blended score an answer needs to be valid.
	ValidBlended float64 `yaml:"valid_blended" toml:"valid_blended" json:"valid_blended" validate:"gte=0,lte=100"`
	// ValidSimilarity is the consensus open text needs to be valid.
	ValidSimilarity float64 `yaml:"valid_similarity" toml:"valid_similarity" json:"valid_similarity" validate:"gte=0,lte=100"`
	// Trust forces review for contributors scoring lower.
	Trust float64 `yaml:"trust" toml:"trust" json:"trust" validate:"gte=0,lte=100"`
	// Duplicate enables the open-text near-duplicate check when positive.
	Duplicate float64 `yaml:"duplicate" toml:"duplicate" json:"duplicate" validate:"gte=0,lte=100"`
}

// LayerWeights weights each signal in the blend. A zero weight excludes the
// signal.
type LayerWeights struct {
	Majority   float64 `yaml:"majority" toml:"majority" json:"majority" validate:"gte=0"`
	Similarity float64 `yaml:"similarity" toml:"similarity" json:"similarity" validate:"gte=0"`
	ML         float64 `yaml:"ml" toml:"ml" json:"ml" validate:"gte=0"`
}

func (w LayerWeights) total() float64 { return w.Majority + w.Similarity + w.ML }

// Weights selects LayerWeights by question kind.
type Weights struct {
	Closed   LayerWeights `yaml:"closed" toml:"closed" json:"closed"`
	OpenText LayerWeights `yaml:"open_text" toml:"open_text" json:"open_text"`
	Other    LayerWeights `yaml:"other" toml:"other" json:"other"`
}

// For returns the weights that apply to kind.
func (w Weights) For(kind domain.QuestionKind) LayerWeights {
	switch {
	case kind.IsClosed():
		return w.Closed
	case kind == domain.KindOpenText:
		return w.OpenText
	default:
		return w.Other
	}
}

// ScorerConfig selects and configures the confidence scorer.
type ScorerConfig struct {
	Type       string                     `yaml:"type" toml:"type" json:"type" validate:"required"`
	Provider   string                     `yaml:"provider" toml:"provider" json:"provider" validate:"llmprovider"`
	Model      string                     `yaml:"model" toml:"model" json:"model" validate:"modelformat"`
	LLM        confidence.LLMScorerConfig `yaml:"llm" toml:"llm" json:"llm"`
	Resilience llm.ResilienceConfig       `yaml:"resilience" toml:"resilience" json:"resilience"`
}

// Clone returns a copy of p that shares no mutable state with it.
func (p Policy) Clone() Policy {
	p.Fallback = maps.Clone(p.Fallback)
	return p
}

// DefaultPolicy returns the standard thresholds and weights.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds: Thresholds{
			MajorityConfidence: 50,
			Consensus:          50,
			MLConfidence:       60,
			ValidBlended:       60,
			ValidSimilarity:    70,
			Trust:              40,
		},
		Weights: Weights{
			Closed:   LayerWeights{Majority: 0.6, ML: 0.4},
			OpenText: LayerWeights{Similarity: 0.5, ML: 0.5},
			Other:    LayerWeights{ML: 1.0},
		},
		NeutralScore:      50,
		ConfidenceTimeout: domain.Duration(5 * time.Second),
		BatchConcurrency:  confidence.DefaultBatchConcurrency,
		Fallback:          DefaultFallbackPolicy(),
		Scorer: ScorerConfig{
			Type:       ScorerHeuristic,
			LLM:        confidence.DefaultLLMScorerConfig(),
			Resilience: llm.DefaultResilience(),
		},
	}
}
