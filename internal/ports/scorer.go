package ports

import (
	"context"

	"github.com/ahrav/go-crowdcheck/internal/domain"
)

// ConfidenceScorer produces a plausibility score for a single answer without
// looking at other contributors' answers. It is the seam through which a
// model-backed evaluator replaces the built-in heuristic; the orchestrator
// depends only on this interface.
//
// Implementations must be safe for concurrent use. Errors, including context
// cancellation and deadline expiry, are returned rather than panicking.
type ConfidenceScorer interface {
	// Score evaluates one answer.
	Score(ctx context.Context, req domain.ScoreRequest) (domain.ConfidenceSignal, error)

	// BatchScore evaluates every request concurrently. The returned slice
	// always has len(reqs) entries in input order. When some items fail,
	// their slots hold zero signals and the error is a *domain.BatchError
	// naming each failed index; the remaining slots are still valid.
	BatchScore(ctx context.Context, reqs []domain.ScoreRequest) ([]domain.ConfidenceSignal, error)
}
