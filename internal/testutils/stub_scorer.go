package testutils

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-crowdcheck/internal/domain"
	"github.com/ahrav/go-crowdcheck/internal/ports"
)

// StubScorer is a ports.ConfidenceScorer whose behavior is fixed per test.
// The zero value returns a confidence of 0.
type StubScorer struct {
	// Confidence is returned by Score when Err is nil.
	Confidence float64
	// Err, when set, is returned by Score.
	Err error
	// Panic, when set, makes Score panic with this value.
	Panic any
	// Delay makes Score wait before answering, honoring ctx.
	Delay time.Duration
	// ScoreFunc, when set, overrides every other field.
	ScoreFunc func(ctx context.Context, req domain.ScoreRequest) (domain.ConfidenceSignal, error)

	calls atomic.Int64
}

var _ ports.ConfidenceScorer = (*StubScorer)(nil)

// Score implements ports.ConfidenceScorer.
func (s *StubScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.ConfidenceSignal, error) {
	s.calls.Add(1)

	if s.ScoreFunc != nil {
		return s.ScoreFunc(ctx, req)
	}
	if s.Panic != nil {
		panic(s.Panic)
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return domain.ConfidenceSignal{}, ctx.Err()
		}
	}
	if s.Err != nil {
		return domain.ConfidenceSignal{}, s.Err
	}
	return domain.ConfidenceSignal{Confidence: s.Confidence, Model: "stub"}, nil
}

// BatchScore scores each request sequentially.
func (s *StubScorer) BatchScore(ctx context.Context, reqs []domain.ScoreRequest) ([]domain.ConfidenceSignal, error) {
	out := make([]domain.ConfidenceSignal, len(reqs))
	errs := make([]error, len(reqs))
	for i, r := range reqs {
		out[i], errs[i] = s.Score(ctx, r)
	}
	if berr := domain.NewBatchError(errs); berr != nil {
		return out, berr
	}
	return out, nil
}

// Calls reports how many times Score ran.
func (s *StubScorer) Calls() int { return int(s.calls.Load()) }
