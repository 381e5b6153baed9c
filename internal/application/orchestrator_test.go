package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/go-crowdcheck/infrastructure/cache"
	"github.com/ahrav/go-crowdcheck/internal/domain"
	"github.com/ahrav/go-crowdcheck/internal/testutils"
)

type recordingTracer struct {
	noop.Tracer
	mu    sync.Mutex
	spans []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.spans = append(r.spans, name)
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

type metricCall struct {
	name   string
	value  float64
	labels map[string]string
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []metricCall
}

func (m *recordingMetrics) add(name string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricCall{name: name, value: v, labels: labels})
}

func (m *recordingMetrics) RecordLatency(op string, d time.Duration, labels map[string]string) {
	m.add(op, d.Seconds(), labels)
}

func (m *recordingMetrics) RecordCounter(name string, v float64, labels map[string]string) {
	m.add(name, v, labels)
}

func (m *recordingMetrics) RecordGauge(name string, v float64, labels map[string]string) {
	m.add(name, v, labels)
}

func (m *recordingMetrics) RecordHistogram(name string, v float64, labels map[string]string) {
	m.add(name, v, labels)
}

func (m *recordingMetrics) named(name string) []metricCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []metricCall
	for _, c := range m.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, policy Policy, scorer *testutils.StubScorer) *Orchestrator {
	t.Helper()

	cfg := OrchestratorConfig{
		Policy: policy,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  cache.ClockFunc(func() time.Time { return fixedNow }),
		NewID:  func() string { return "result-1" },
	}
	if scorer != nil {
		cfg.Scorer = scorer
	}
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	return o
}

func trust(v float64) *float64 { return &v }

func TestNewOrchestrator_RejectsInvalidPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.BatchConcurrency = 0

	_, err := NewOrchestrator(OrchestratorConfig{Policy: p})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestOrchestrator_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		vc     domain.ValidationContext
		ml     float64
		verify func(t *testing.T, r domain.ValidationResult)
	}{
		{
			name: "rating in a clear majority",
			vc: domain.ValidationContext{
				AnswerText:   "4",
				QuestionKind: domain.KindRating,
				OtherAnswers: []string{"4", "4", "4", "5"},
			},
			ml: 80,
			verify: func(t *testing.T, r domain.ValidationResult) {
				require.NotNil(t, r.Details.MajorityVoting)
				assert.Equal(t, "4", r.Details.MajorityVoting.MajorityValue)
				assert.InDelta(t, 75.0, r.Details.MajorityVoting.Confidence, 1e-9)
				assert.Nil(t, r.Details.TextSimilarity, "bare rating has nothing to compare lexically")
				assert.False(t, r.ShouldFlag)
				assert.Empty(t, r.FlagReasons)
				assert.InDelta(t, 77.0, r.ConfidenceScore, 1e-9)
				assert.True(t, r.IsValid)
			},
		},
		{
			name: "multiple choice answer outside the majority",
			vc: domain.ValidationContext{
				AnswerText:   "No",
				QuestionKind: domain.KindMultipleChoice,
				OtherAnswers: []string{"Yes", "yes", "No"},
			},
			ml: 80,
			verify: func(t *testing.T, r domain.ValidationResult) {
				require.NotNil(t, r.Details.MajorityVoting)
				assert.Equal(t, "Yes", r.Details.MajorityVoting.MajorityValue)
				assert.Equal(t, 2, r.Details.MajorityVoting.VoteCount)
				assert.True(t, r.ShouldFlag)
				assert.Contains(t, r.FlagReason, "66.7%")
			},
		},
		{
			name: "open text with low consensus",
			vc: domain.ValidationContext{
				AnswerText:   "the economy is strong",
				QuestionKind: domain.KindOpenText,
				OtherAnswers: []string{"the economy is weak", "economy weak overall"},
			},
			ml: 80,
			verify: func(t *testing.T, r domain.ValidationResult) {
				require.NotNil(t, r.Details.TextSimilarity)
				assert.InDelta(t, 35.0, *r.Details.TextSimilarity, 1e-9)
				assert.True(t, r.ShouldFlag)
				assert.Contains(t, r.FlagReason, "35.0%")
				assert.False(t, r.IsValid)
			},
		},
		{
			name: "first open text answer for a question",
			vc: domain.ValidationContext{
				AnswerText:   "a thoughtful first answer",
				QuestionKind: domain.KindOpenText,
			},
			ml: 80,
			verify: func(t *testing.T, r domain.ValidationResult) {
				require.NotNil(t, r.Details.TextSimilarity)
				assert.Equal(t, 100.0, *r.Details.TextSimilarity)
				assert.InDelta(t, 90.0, r.ConfidenceScore, 1e-9)
				assert.True(t, r.IsValid)
				assert.False(t, r.ShouldFlag)
			},
		},
		{
			name: "low trust flags without changing validity",
			vc: domain.ValidationContext{
				AnswerText:            "5",
				QuestionKind:          domain.KindRating,
				OtherAnswers:          []string{"5", "5", "5"},
				ContributorTrustScore: trust(20),
			},
			ml: 95,
			verify: func(t *testing.T, r domain.ValidationResult) {
				assert.True(t, r.IsValid)
				assert.True(t, r.ShouldFlag)
				require.Len(t, r.FlagReasons, 1)
				assert.Contains(t, r.FlagReason, "trust")
				assert.Contains(t, r.FlagReason, "20.0")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: tt.ml})
			r := o.Validate(context.Background(), tt.vc)

			assert.Equal(t, "result-1", r.ID)
			assert.Equal(t, fixedNow, r.EvaluatedAt)
			require.NotNil(t, r.Details.MLConfidence)
			assert.Equal(t, tt.ml, r.Details.MLConfidence.Confidence)
			tt.verify(t, r)
		})
	}
}

func TestOrchestrator_TrustAlwaysFlags(t *testing.T) {
	kinds := []domain.QuestionKind{
		domain.KindRating, domain.KindMultipleChoice, domain.KindOpenText, domain.KindAudio, domain.KindOther,
	}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 100})
			r := o.Validate(context.Background(), domain.ValidationContext{
				AnswerText:            "same answer",
				QuestionKind:          kind,
				OtherAnswers:          []string{"same answer", "same answer"},
				ContributorTrustScore: trust(39.9),
			})
			assert.True(t, r.ShouldFlag)
			assert.Contains(t, r.FlagReasons[len(r.FlagReasons)-1], "trust")
		})
	}
}

func TestOrchestrator_TrustAtThresholdDoesNotFlag(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 90})
	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:            "5",
		QuestionKind:          domain.KindRating,
		OtherAnswers:          []string{"5", "5"},
		ContributorTrustScore: trust(40),
	})
	assert.False(t, r.ShouldFlag)
}

func TestOrchestrator_SingleSignalBlendIsRaw(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), nil)
	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "4",
		QuestionKind: domain.KindRating,
		OtherAnswers: []string{"4", "4", "5"},
	})

	require.NotNil(t, r.Details.MajorityVoting)
	assert.Nil(t, r.Details.MLConfidence)
	assert.Equal(t, r.Details.MajorityVoting.Confidence, r.ConfidenceScore)
	assert.True(t, r.IsValid)
}

func TestOrchestrator_NoSignal(t *testing.T) {
	metrics := &recordingMetrics{}
	o, err := NewOrchestrator(OrchestratorConfig{
		Policy:  DefaultPolicy(),
		Scorer:  &testutils.StubScorer{Err: errors.New("backend down")},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics,
	})
	require.NoError(t, err)

	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "an audio transcript",
		QuestionKind: domain.KindAudio,
	})

	assert.Equal(t, 50.0, r.ConfidenceScore)
	assert.False(t, r.IsValid)
	assert.False(t, r.ShouldFlag)
	assert.Nil(t, r.Details.MajorityVoting)
	assert.Nil(t, r.Details.TextSimilarity)
	assert.Nil(t, r.Details.MLConfidence)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.EvaluatedAt.IsZero())

	unavailable := metrics.named(metricSignalUnavailable)
	require.Len(t, unavailable, 1)
	assert.Equal(t, LayerMLConfidence, unavailable[0].labels["layer"])
}

func TestOrchestrator_ScorerFailuresDegrade(t *testing.T) {
	tests := []struct {
		name   string
		scorer *testutils.StubScorer
		policy func(*Policy)
	}{
		{name: "error", scorer: &testutils.StubScorer{Err: errors.New("boom")}},
		{name: "panic", scorer: &testutils.StubScorer{Panic: "scorer exploded"}},
		{
			name:   "timeout",
			scorer: &testutils.StubScorer{Confidence: 90, Delay: time.Second},
			policy: func(p *Policy) { p.ConfidenceTimeout = domain.Duration(10 * time.Millisecond) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&p)
			}
			o := newTestOrchestrator(t, p, tt.scorer)

			start := time.Now()
			r := o.Validate(context.Background(), domain.ValidationContext{
				AnswerText:   "b",
				QuestionKind: domain.KindMultipleChoice,
				OtherAnswers: []string{"b", "b", "a"},
			})

			assert.Less(t, time.Since(start), 500*time.Millisecond)
			assert.Nil(t, r.Details.MLConfidence)
			require.NotNil(t, r.Details.MajorityVoting)
			assert.Equal(t, r.Details.MajorityVoting.Confidence, r.ConfidenceScore)
			assert.Equal(t, 1, tt.scorer.Calls())
		})
	}
}

func TestOrchestrator_FallbackDefaultScore(t *testing.T) {
	p := DefaultPolicy()
	p.Fallback[LayerMLConfidence] = FallbackRule{Action: FallbackDefault, Score: 30}
	o := newTestOrchestrator(t, p, &testutils.StubScorer{Err: errors.New("boom")})

	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "free form",
		QuestionKind: domain.KindOther,
	})

	assert.Equal(t, 30.0, r.ConfidenceScore)
	assert.Nil(t, r.Details.MLConfidence, "a fallback score is not a recorded signal")
	assert.False(t, r.IsValid)
}

func TestOrchestrator_EmptyPoolSkipsMajority(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 80})
	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "3",
		QuestionKind: domain.KindRating,
	})

	assert.Nil(t, r.Details.MajorityVoting)
	assert.False(t, r.ShouldFlag)
	assert.Equal(t, 80.0, r.ConfidenceScore)
	assert.True(t, r.IsValid, "falls back to the blended-only rule")
}

func TestOrchestrator_InvalidRatingsCountAsDisagreement(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 80})
	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "4",
		QuestionKind: domain.KindRating,
		OtherAnswers: []string{"4", "abc", "4"},
	})

	require.NotNil(t, r.Details.MajorityVoting)
	assert.Equal(t, "4", r.Details.MajorityVoting.MajorityValue)
	assert.Equal(t, 3, r.Details.MajorityVoting.TotalVotes)
	assert.False(t, r.ShouldFlag)
}

func TestOrchestrator_WeakMajorityFlags(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 90})
	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "1",
		QuestionKind: domain.KindRating,
		OtherAnswers: []string{"1", "2", "3"},
	})

	require.NotNil(t, r.Details.MajorityVoting)
	assert.True(t, r.ShouldFlag)
	assert.Contains(t, r.FlagReason, "33.3%")
	assert.False(t, r.IsValid)
}

func TestOrchestrator_LowMLConfidenceFlags(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 42})
	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "free form",
		QuestionKind: domain.KindOther,
	})

	assert.True(t, r.ShouldFlag)
	assert.Contains(t, r.FlagReason, "42.0%")
	assert.Equal(t, 42.0, r.ConfidenceScore)
}

func TestOrchestrator_NearDuplicateAndReasonOrder(t *testing.T) {
	p := DefaultPolicy()
	p.Thresholds.Duplicate = 90
	o := newTestOrchestrator(t, p, &testutils.StubScorer{Confidence: 80})

	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:            "The economy is strong",
		QuestionKind:          domain.KindOpenText,
		OtherAnswers:          []string{"the economy is strong!"},
		ContributorTrustScore: trust(10),
	})

	require.Len(t, r.FlagReasons, 2)
	assert.Contains(t, r.FlagReasons[0], "copy")
	assert.Contains(t, r.FlagReasons[1], "trust")
	assert.Equal(t, r.FlagReasons[0], r.FlagReason)
}

func TestOrchestrator_NearDuplicateDisabledByDefault(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 80})
	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "The economy is strong",
		QuestionKind: domain.KindOpenText,
		OtherAnswers: []string{"the economy is strong"},
	})
	assert.False(t, r.ShouldFlag)
}

func TestOrchestrator_NormalizesKind(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 80})
	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "yes",
		QuestionKind: "Multiple-Choice",
		OtherAnswers: []string{"yes"},
	})
	assert.NotNil(t, r.Details.MajorityVoting)
}

func TestOrchestrator_RecordsTelemetry(t *testing.T) {
	tracer := &recordingTracer{}
	metrics := &recordingMetrics{}
	o, err := NewOrchestrator(OrchestratorConfig{
		Policy:  DefaultPolicy(),
		Scorer:  &testutils.StubScorer{Confidence: 80},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics,
		Tracer:  tracer,
	})
	require.NoError(t, err)

	o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "4",
		QuestionKind: domain.KindRating,
		OtherAnswers: []string{"4"},
	})

	assert.Contains(t, tracer.spans, "Orchestrator.Validate")
	assert.Contains(t, tracer.spans, "Orchestrator.layer")

	validations := metrics.named(metricValidations)
	require.Len(t, validations, 1)
	assert.Equal(t, map[string]string{"kind": "rating", "valid": "true", "flagged": "false"}, validations[0].labels)

	hist := metrics.named(metricBlendedConfidence)
	require.Len(t, hist, 1)
	assert.InDelta(t, 92.0, hist[0].value, 1e-9)

	assert.Len(t, metrics.named(opValidate), 1)
	assert.Empty(t, metrics.named(metricSignalUnavailable))
}

func TestOrchestrator_ValidateAllKeepsOrder(t *testing.T) {
	p := DefaultPolicy()
	p.BatchConcurrency = 4
	o := newTestOrchestrator(t, p, &testutils.StubScorer{Confidence: 80, Delay: time.Millisecond})

	vcs := make([]domain.ValidationContext, 40)
	for i := range vcs {
		v := strconv.Itoa(i)
		vcs[i] = domain.ValidationContext{
			AnswerText:   v,
			QuestionKind: domain.KindRating,
			OtherAnswers: []string{v, v},
		}
	}

	results := o.ValidateAll(context.Background(), vcs)
	require.Len(t, results, len(vcs))
	for i, r := range results {
		require.NotNil(t, r.Details.MajorityVoting, "index %d", i)
		assert.Equal(t, strconv.Itoa(i), r.Details.MajorityVoting.MajorityValue)
	}
}

func TestOrchestrator_ConcurrentValidate(t *testing.T) {
	o := newTestOrchestrator(t, DefaultPolicy(), &testutils.StubScorer{Confidence: 70})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := o.Validate(context.Background(), domain.ValidationContext{
				AnswerText:   "the answer text",
				QuestionKind: domain.KindOpenText,
				OtherAnswers: []string{"the answer text", "another answer text"},
			})
			assert.NotNil(t, r.Details.TextSimilarity)
		}()
	}
	wg.Wait()
}

func TestNewOrchestrator_CopiesPolicy(t *testing.T) {
	p := DefaultPolicy()
	o := newTestOrchestrator(t, p, &testutils.StubScorer{Err: errors.New("down")})

	p.Fallback[LayerMLConfidence] = FallbackRule{Action: FallbackDefault, Score: 90}

	r := o.Validate(context.Background(), domain.ValidationContext{
		AnswerText:   "free form",
		QuestionKind: domain.KindOther,
	})
	assert.Equal(t, 50.0, r.ConfidenceScore)
}
