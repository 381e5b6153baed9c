package confidence

import (
	"context"
	"unicode/utf8"

	"github.com/ahrav/go-crowdcheck/internal/domain"
	"github.com/ahrav/go-crowdcheck/internal/ports"
)

var _ ports.ConfidenceScorer = (*HeuristicScorer)(nil)

// HeuristicModel identifies signals produced by HeuristicScorer.
const HeuristicModel = "heuristic-v1"

// Heuristic adjustments, in score points.
const (
	heuristicBase       = 70.0
	shortAnswerRunes    = 10
	shortAnswerPenalty  = 10.0
	longAnswerRunes     = 100
	longAnswerBonus     = 5.0
	ratingKindBonus     = 5.0
	openTextKindPenalty = 5.0
)

// HeuristicScorer is the placeholder confidence model. It looks only at the
// answer length and the question kind.
type HeuristicScorer struct {
	concurrency int
}

// NewHeuristicScorer creates a HeuristicScorer. concurrency bounds
// BatchScore; zero or less means DefaultBatchConcurrency.
func NewHeuristicScorer(concurrency int) *HeuristicScorer {
	return &HeuristicScorer{concurrency: concurrency}
}

// Score starts from 70, subtracts 10 for answers under 10 runes, adds 5 for
// answers over 100 runes, adds 5 for rating questions and subtracts 5 for
// open text. The result is clamped to [0, 100].
func (h *HeuristicScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.ConfidenceSignal, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConfidenceSignal{}, err
	}

	score := heuristicBase

	n := utf8.RuneCountInString(req.AnswerText)
	switch {
	case n < shortAnswerRunes:
		score -= shortAnswerPenalty
	case n > longAnswerRunes:
		score += longAnswerBonus
	}

	switch req.Kind {
	case domain.KindRating:
		score += ratingKindBonus
	case domain.KindOpenText:
		score -= openTextKindPenalty
	}

	return domain.ConfidenceSignal{
		Confidence: domain.ClampScore(score),
		Model:      HeuristicModel,
	}, nil
}

// BatchScore scores reqs concurrently via ScoreBatch.
func (h *HeuristicScorer) BatchScore(
	ctx context.Context,
	reqs []domain.ScoreRequest,
) ([]domain.ConfidenceSignal, error) {
	return ScoreBatch(ctx, reqs, h.concurrency, h.Score)
}
