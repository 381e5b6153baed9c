package llm

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-crowdcheck/internal/ports"
)

var _ ports.MetricsCollector = (*recordingMetrics)(nil)

// fakeCore is a scripted CoreLLM. Errs are returned in order before falling
// back to Err.
type fakeCore struct {
	mu       sync.Mutex
	model    string
	response string
	errs     []error
	Err      error
	calls    int
	lastCtx  context.Context
	lastOpts map[string]any
	block    bool
}

func newFakeCore() *fakeCore {
	return &fakeCore{model: "test-model", response: "test response"}
}

func (f *fakeCore) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	f.mu.Lock()
	f.calls++
	f.lastCtx = ctx
	f.lastOpts = opts
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	} else {
		err = f.Err
	}
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", 0, 0, ctx.Err()
	}
	if err != nil {
		return "", 0, 0, err
	}
	return f.response, 10, 20, nil
}

func (f *fakeCore) GetModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *fakeCore) SetModel(m string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = m
}

func (f *fakeCore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordedMetric struct {
	kind   string
	name   string
	value  float64
	labels map[string]string
}

type recordingMetrics struct {
	mu      sync.Mutex
	records []recordedMetric
}

func (r *recordingMetrics) add(kind, name string, v float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedMetric{kind: kind, name: name, value: v, labels: labels})
}

func (r *recordingMetrics) RecordLatency(name string, d time.Duration, labels map[string]string) {
	r.add("latency", name, d.Seconds(), labels)
}

func (r *recordingMetrics) RecordCounter(name string, v float64, labels map[string]string) {
	r.add("counter", name, v, labels)
}

func (r *recordingMetrics) RecordGauge(name string, v float64, labels map[string]string) {
	r.add("gauge", name, v, labels)
}

func (r *recordingMetrics) RecordHistogram(name string, v float64, labels map[string]string) {
	r.add("histogram", name, v, labels)
}

func (r *recordingMetrics) named(name string) []recordedMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedMetric
	for _, m := range r.records {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out
}
