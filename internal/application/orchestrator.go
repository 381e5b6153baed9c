// Package application composes the validation layers into the answer
// validation pipeline and owns its configuration: the Policy, the fallback
// table, policy loading and the scorer registry.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-crowdcheck/infrastructure/cache"
	"github.com/ahrav/go-crowdcheck/infrastructure/similarity"
	"github.com/ahrav/go-crowdcheck/infrastructure/tally"
	"github.com/ahrav/go-crowdcheck/internal/domain"
	"github.com/ahrav/go-crowdcheck/internal/ports"
)

const tracerName = "github.com/ahrav/go-crowdcheck/internal/application"

// Metric names reported through ports.MetricsCollector.
const (
	metricValidations       = "validations_total"
	metricSignalUnavailable = "signal_unavailable_total"
	metricBlendedConfidence = "blended_confidence"

	// opValidate is the operation label of validation latency samples.
	opValidate = "validate"
)

var errNoScorer = errors.New("no confidence scorer configured")

// OrchestratorConfig wires an Orchestrator. Only Policy is required.
type OrchestratorConfig struct {
	Policy Policy

	// Scorer supplies the ml_confidence signal. Nil leaves that layer
	// permanently unavailable.
	Scorer ports.ConfidenceScorer

	Logger  *slog.Logger
	Metrics ports.MetricsCollector
	Tracer  trace.Tracer
	Clock   cache.Clock

	// NewID generates result IDs. Defaults to random UUIDs.
	NewID func() string
}

// Orchestrator runs the validation layers for one answer and combines them
// into a ValidationResult. It holds only immutable configuration and is
// safe for concurrent use.
type Orchestrator struct {
	policy  Policy
	scorer  ports.ConfidenceScorer
	logger  *slog.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer
	clock   cache.Clock
	newID   func() string
}

// NewOrchestrator validates cfg.Policy and fills in defaults for the
// optional collaborators.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		policy:  cfg.Policy.Clone(),
		scorer:  cfg.Scorer,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		clock:   cfg.Clock,
		newID:   cfg.NewID,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = ports.NoopMetrics{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.clock == nil {
		o.clock = cache.SystemClock
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o, nil
}

// Policy returns the policy the orchestrator was built with.
func (o *Orchestrator) Policy() Policy { return o.policy }

// layerOutcomes collects what each layer produced. attempted is false for
// layers that do not apply to the question.
type layerOutcomes struct {
	majority   domain.LayerResult[domain.VoteResult]
	inMajority bool
	similarity domain.LayerResult[float64]
	ml         domain.LayerResult[domain.ConfidenceSignal]
	duplicate  domain.LayerResult[float64]

	attempted map[string]bool
}

// Validate scores one answer against its pool. It always returns a
// completed result; layer failures only remove that layer's signal.
func (o *Orchestrator) Validate(ctx context.Context, vc domain.ValidationContext) domain.ValidationResult {
	start := o.clock.Now()
	kind := o.normalizeKind(ctx, vc.QuestionKind)

	ctx, span := o.tracer.Start(ctx, "Orchestrator.Validate", trace.WithAttributes(
		attribute.String("question.kind", kind.String()),
		attribute.Int("pool.size", len(vc.OtherAnswers)),
	))
	defer span.End()

	out := o.runLayers(ctx, kind, vc)
	result := o.compose(kind, vc, out)
	result.ID = o.newID()
	result.EvaluatedAt = o.clock.Now().UTC()

	span.SetAttributes(
		attribute.Float64("result.confidence", result.ConfidenceScore),
		attribute.Bool("result.valid", result.IsValid),
		attribute.Bool("result.flagged", result.ShouldFlag),
	)
	o.record(kind, result, out, o.clock.Now().Sub(start))
	return result
}

// ValidateAll validates every context with at most Policy.BatchConcurrency
// calls in flight. Results are in input order.
func (o *Orchestrator) ValidateAll(ctx context.Context, vcs []domain.ValidationContext) []domain.ValidationResult {
	results := make([]domain.ValidationResult, len(vcs))

	var g errgroup.Group
	g.SetLimit(o.policy.BatchConcurrency)
	for i := range vcs {
		g.Go(func() error {
			results[i] = o.Validate(ctx, vcs[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) normalizeKind(ctx context.Context, k domain.QuestionKind) domain.QuestionKind {
	parsed, err := domain.ParseQuestionKind(string(k))
	if err != nil {
		o.logger.DebugContext(ctx, "unrecognized question kind, using ml_confidence only",
			"kind", string(k))
		return k
	}
	return parsed
}

// runLayers fans the applicable layers out concurrently and joins them.
func (o *Orchestrator) runLayers(ctx context.Context, kind domain.QuestionKind, vc domain.ValidationContext) layerOutcomes {
	out := layerOutcomes{
		majority:   domain.Fail[domain.VoteResult](domain.ErrSignalUnavailable),
		similarity: domain.Fail[float64](domain.ErrSignalUnavailable),
		duplicate:  domain.Fail[float64](domain.ErrSignalUnavailable),
		attempted:  map[string]bool{},
	}

	runSimilarity := kind == domain.KindOpenText ||
		(len(vc.OtherAnswers) > 0 && len(similarity.Tokens(vc.AnswerText)) > 0)
	runDuplicate := kind == domain.KindOpenText &&
		o.policy.Thresholds.Duplicate > 0 && len(vc.OtherAnswers) > 0

	out.attempted[LayerMajorityVoting] = kind.IsClosed()
	out.attempted[LayerTextSimilarity] = runSimilarity
	out.attempted[LayerMLConfidence] = true

	var g errgroup.Group
	if kind.IsClosed() {
		g.Go(func() error {
			out.majority = runLayer(ctx, o, LayerMajorityVoting, func(ctx context.Context) (domain.VoteResult, error) {
				vote, inMajority, err := o.tallyMajority(ctx, kind, vc)
				out.inMajority = inMajority
				return vote, err
			})
			return nil
		})
	}
	if runSimilarity {
		g.Go(func() error {
			out.similarity = runLayer(ctx, o, LayerTextSimilarity, func(context.Context) (float64, error) {
				return similarity.Consensus(vc.AnswerText, vc.OtherAnswers), nil
			})
			return nil
		})
	}
	g.Go(func() error {
		out.ml = runLayer(ctx, o, LayerMLConfidence, func(ctx context.Context) (domain.ConfidenceSignal, error) {
			return o.score(ctx, kind, vc)
		})
		return nil
	})
	if runDuplicate {
		g.Go(func() error {
			out.duplicate = runLayer(ctx, o, "near_duplicate", func(context.Context) (float64, error) {
				best, _ := similarity.NearDuplicate(vc.AnswerText, vc.OtherAnswers, o.policy.Thresholds.Duplicate)
				return best, nil
			})
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// runLayer executes fn in a child span, converting errors and panics into an
// unavailable LayerResult.
func runLayer[T any](ctx context.Context, o *Orchestrator, layer string, fn func(context.Context) (T, error)) (res domain.LayerResult[T]) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.layer", trace.WithAttributes(
		attribute.String("layer", layer),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := domain.NewLayerError(layer, fmt.Errorf("%w: panic: %v", domain.ErrSignalUnavailable, r))
			o.logger.WarnContext(ctx, "validation layer panicked", "layer", layer, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "layer panicked")
			res = domain.Fail[T](err)
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrSignalUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrSignalUnavailable, err)
		}
		err = domain.NewLayerError(layer, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "signal unavailable")
		return domain.Fail[T](err)
	}
	return domain.Ok(v)
}

func (o *Orchestrator) tallyMajority(ctx context.Context, kind domain.QuestionKind, vc domain.ValidationContext) (domain.VoteResult, bool, error) {
	if len(vc.OtherAnswers) == 0 {
		o.logger.DebugContext(ctx, "validation layer unavailable",
			"layer", LayerMajorityVoting, "reason", "empty answer pool")
		return domain.VoteResult{}, false, domain.ErrSignalUnavailable
	}

	var vote domain.VoteResult
	if kind == domain.KindRating {
		ratings, invalid := tally.ParseRatings(vc.OtherAnswers)
		if invalid > 0 {
			o.logger.DebugContext(ctx, "non-numeric ratings counted as 0",
				"invalid", invalid, "total", len(ratings))
		}
		if _, err := tally.ParseRating(vc.AnswerText); err != nil {
			o.logger.DebugContext(ctx, "answer rating is not numeric, compared as 0", "error", err)
		}
		vote = tally.TallyRating(ratings)
	} else {
		vote = tally.TallyChoice(vc.OtherAnswers)
	}
	return vote, tally.InMajority(vc.AnswerText, vote.MajorityValue, kind), nil
}

func (o *Orchestrator) score(ctx context.Context, kind domain.QuestionKind, vc domain.ValidationContext) (domain.ConfidenceSignal, error) {
	if o.scorer == nil {
		return domain.ConfidenceSignal{}, errNoScorer
	}
	if timeout := o.policy.ConfidenceTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sig, err := o.scorer.Score(ctx, domain.ScoreRequest{
		AnswerText:   vc.AnswerText,
		QuestionText: vc.QuestionText,
		Kind:         kind,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "confidence scorer failed, continuing without it",
			"layer", LayerMLConfidence, "error", err)
		return domain.ConfidenceSignal{}, err
	}
	sig.Confidence = domain.ClampScore(sig.Confidence)
	return sig, nil
}

// compose applies flagging, blending and validity to the layer outcomes.
func (o *Orchestrator) compose(kind domain.QuestionKind, vc domain.ValidationContext, out layerOutcomes) domain.ValidationResult {
	t := o.policy.Thresholds
	var result domain.ValidationResult

	if out.majority.Available() {
		vote := out.majority.Value
		result.Details.MajorityVoting = &vote
		switch {
		case !out.inMajority:
			result.Flag(fmt.Sprintf("answer %q disagrees with majority %q (%s%% vote confidence)",
				vc.AnswerText, vote.MajorityValue, percent(vote.Confidence)))
		case vote.Confidence < t.MajorityConfidence:
			result.Flag(fmt.Sprintf("no clear majority (%s%% vote confidence)", percent(vote.Confidence)))
		}
	}

	if out.similarity.Available() {
		sim := out.similarity.Value
		result.Details.TextSimilarity = &sim
		if sim < t.Consensus {
			result.Flag(fmt.Sprintf("low consensus with other answers (%s%% similarity)", percent(sim)))
		}
	}

	if out.ml.Available() {
		sig := out.ml.Value
		result.Details.MLConfidence = &sig
		if sig.Confidence < t.MLConfidence {
			result.Flag(fmt.Sprintf("low model confidence (%s%%)", percent(sig.Confidence)))
		}
	}

	if out.duplicate.Available() && out.duplicate.Value >= t.Duplicate {
		result.Flag(fmt.Sprintf("possible copy of another answer (%s%% similar)", percent(out.duplicate.Value)))
	}

	scores := map[string]float64{}
	fb := o.policy.Fallback
	if s, ok := fb.Resolve(LayerMajorityVoting, confidenceOf(out.majority)); ok && out.attempted[LayerMajorityVoting] {
		scores[LayerMajorityVoting] = s
	}
	if s, ok := fb.Resolve(LayerTextSimilarity, out.similarity); ok && out.attempted[LayerTextSimilarity] {
		scores[LayerTextSimilarity] = s
	}
	if s, ok := fb.Resolve(LayerMLConfidence, confidenceOf(out.ml)); ok {
		scores[LayerMLConfidence] = s
	}

	result.ConfidenceScore = Blend(o.policy.Weights.For(kind), scores, o.policy.NeutralScore)
	result.IsValid = o.policy.isValid(kind, result.ConfidenceScore, result.Details)

	if trust := vc.ContributorTrustScore; trust != nil && *trust < t.Trust {
		result.Flag(fmt.Sprintf("low contributor trust score (%s)", percent(*trust)))
	}
	return result
}

func (o *Orchestrator) record(kind domain.QuestionKind, r domain.ValidationResult, out layerOutcomes, elapsed time.Duration) {
	k := kind.String()
	o.metrics.RecordCounter(metricValidations, 1, map[string]string{
		"kind":    k,
		"valid":   strconv.FormatBool(r.IsValid),
		"flagged": strconv.FormatBool(r.ShouldFlag),
	})
	o.metrics.RecordHistogram(metricBlendedConfidence, r.ConfidenceScore, map[string]string{"kind": k})
	o.metrics.RecordLatency(opValidate, elapsed, map[string]string{"kind": k})

	unavailable := map[string]bool{
		LayerMajorityVoting: !out.majority.Available(),
		LayerTextSimilarity: !out.similarity.Available(),
		LayerMLConfidence:   !out.ml.Available(),
	}
	for _, layer := range []string{LayerMajorityVoting, LayerTextSimilarity, LayerMLConfidence} {
		if out.attempted[layer] && unavailable[layer] {
			o.metrics.RecordCounter(metricSignalUnavailable, 1, map[string]string{"layer": layer})
		}
	}
}

func confidenceOf[T domain.VoteResult | domain.ConfidenceSignal](r domain.LayerResult[T]) domain.LayerResult[float64] {
	if !r.Available() {
		return domain.Fail[float64](r.Err)
	}
	switch v := any(r.Value).(type) {
	case domain.VoteResult:
		return domain.Ok(v.Confidence)
	case domain.ConfidenceSignal:
		return domain.Ok(v.Confidence)
	}
	return domain.Fail[float64](domain.ErrSignalUnavailable)
}

func percent(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
