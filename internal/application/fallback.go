package application

import (
	"github.com/ahrav/go-crowdcheck/internal/domain"
)

// Layer names used in the fallback table, metrics and log attributes.
const (
	LayerMajorityVoting = "majority_voting"
	LayerTextSimilarity = "text_similarity"
	LayerMLConfidence   = "ml_confidence"
)

// FallbackAction says what to do with a layer that produced no signal.
type FallbackAction string

const (
	// FallbackOmit drops the layer from the blend; the remaining weights are
	// renormalized.
	FallbackOmit FallbackAction = "omit"
	// FallbackDefault substitutes the rule's Score in the blend.
	FallbackDefault FallbackAction = "default"
)

// FallbackRule is one row of the fallback table.
type FallbackRule struct {
	Action FallbackAction `yaml:"action" toml:"action" json:"action" validate:"required,oneof=omit default"`
	Score  float64        `yaml:"score" toml:"score" json:"score" validate:"gte=0,lte=100"`
}

// FallbackPolicy maps layer names to the rule applied when that layer is
// unavailable. Layers without a rule are omitted.
type FallbackPolicy map[string]FallbackRule

// DefaultFallbackPolicy omits every unavailable layer.
func DefaultFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{
		LayerMajorityVoting: {Action: FallbackOmit},
		LayerTextSimilarity: {Action: FallbackOmit},
		LayerMLConfidence:   {Action: FallbackOmit},
	}
}

// Resolve returns the score a layer contributes to the blend. ok is false
// when the layer should be left out.
func (f FallbackPolicy) Resolve(layer string, r domain.LayerResult[float64]) (score float64, ok bool) {
	if r.Available() {
		return domain.ClampScore(r.Value), true
	}
	rule, found := f[layer]
	if !found || rule.Action != FallbackDefault {
		return 0, false
	}
	return domain.ClampScore(rule.Score), true
}
