// Package confidence provides implementations of ports.ConfidenceScorer: a
// length and kind heuristic, and an LLM-backed scorer. Both share ScoreBatch
// for concurrent, failure-isolated batch evaluation.
package confidence

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-crowdcheck/internal/domain"
)

// DefaultBatchConcurrency bounds the number of in-flight Score calls in
// ScoreBatch when no explicit limit is given.
const DefaultBatchConcurrency = 8

// ScoreFunc scores a single request.
type ScoreFunc func(ctx context.Context, req domain.ScoreRequest) (domain.ConfidenceSignal, error)

// ScoreBatch runs score over reqs with at most limit calls in flight. Each
// result is written to the slot matching its request index, so the output
// order always matches the input. A failing item leaves a zero signal and is
// reported in the returned *domain.BatchError; it never cancels its
// siblings. A panicking item is reported as domain.ErrSignalUnavailable.
func ScoreBatch(
	ctx context.Context,
	reqs []domain.ScoreRequest,
	limit int,
	score ScoreFunc,
) ([]domain.ConfidenceSignal, error) {
	out := make([]domain.ConfidenceSignal, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	errs := make([]error, len(reqs))

	// Plain Group, not WithContext: one failure must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(limit)

	for i := range reqs {
		g.Go(func() error {
			sig, err := scoreOne(ctx, reqs[i], score)
			if err != nil {
				errs[i] = err
				return nil
			}
			out[i] = sig
			return nil
		})
	}
	_ = g.Wait()

	if berr := domain.NewBatchError(errs); berr != nil {
		return out, berr
	}
	return out, nil
}

func scoreOne(ctx context.Context, req domain.ScoreRequest, score ScoreFunc) (sig domain.ConfidenceSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = domain.ConfidenceSignal{}
			err = fmt.Errorf("%w: scorer panicked: %v", domain.ErrSignalUnavailable, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return domain.ConfidenceSignal{}, err
	}
	return score(ctx, req)
}
