package application

import "github.com/ahrav/go-crowdcheck/internal/domain"

var layerOrder = [...]string{LayerMajorityVoting, LayerTextSimilarity, LayerMLConfidence}

func (w LayerWeights) of(layer string) float64 {
	switch layer {
	case LayerMajorityVoting:
		return w.Majority
	case LayerTextSimilarity:
		return w.Similarity
	case LayerMLConfidence:
		return w.ML
	}
	return 0
}

// Blend combines the available layer scores using w, renormalizing over
// the layers that contributed. A layer contributes when it has a score and
// a positive weight. A single contributor is returned unchanged; none
// yields neutral.
func Blend(w LayerWeights, scores map[string]float64, neutral float64) float64 {
	var (
		sum, total float64
		n          int
		only       float64
	)
	for _, layer := range layerOrder {
		weight := w.of(layer)
		s, ok := scores[layer]
		if !ok || weight <= 0 {
			continue
		}
		sum += s * weight
		total += weight
		only = s
		n++
	}

	switch n {
	case 0:
		return domain.ClampScore(neutral)
	case 1:
		return domain.ClampScore(only)
	}
	return domain.ClampScore(sum / total)
}

// isValid applies the kind's primary-signal rule on top of the blended
// threshold. When the primary signal is missing only the blended score
// decides.
func (p Policy) isValid(kind domain.QuestionKind, blended float64, d domain.ValidationDetails) bool {
	t := p.Thresholds
	if blended < t.ValidBlended {
		return false
	}
	switch {
	case kind.IsClosed() && d.MajorityVoting != nil:
		return d.MajorityVoting.Confidence >= t.MajorityConfidence
	case kind == domain.KindOpenText && d.TextSimilarity != nil:
		return *d.TextSimilarity >= t.ValidSimilarity
	}
	return true
}
