package evaluate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/observe"
)

var (
	// ErrNoPrompts indicates a benchmark without prompts.
	ErrNoPrompts = errors.New("evaluate: at least one prompt is required")

	// ErrUnknownMetric indicates an unsupported ranking metric.
	ErrUnknownMetric = errors.New("evaluate: unknown metric")
)

// Dispatcher runs one request. *gateway.Gateway satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req backend.Request) (*backend.Response, error)
}

// Metric names a ranking criterion.
type Metric string

const (
	MetricSuccessRate Metric = "success_rate"
	MetricLatency     Metric = "latency"
	MetricThroughput  Metric = "throughput"
)

// Config configures an Evaluator.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64

	// Concurrency bounds in-flight benchmark requests.
	// Default: 1
	Concurrency int

	Logger observe.Logger

	// Now is the clock used to time requests.
	Now func() time.Time
}

// Result is the outcome of benchmarking one backend.
type Result struct {
	Backend        string        `json:"backend"`
	Model          string        `json:"model,omitempty"`
	Requests       int           `json:"requests"`
	Failures       int           `json:"failures"`
	SuccessRate    float64       `json:"success_rate"`
	Latency        Latency       `json:"latency"`
	Units          int           `json:"units"`
	UnitsPerSecond float64       `json:"units_per_second"`
	At             time.Time     `json:"at"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Evaluator benchmarks backends and keeps a result history.
type Evaluator struct {
	dispatcher Dispatcher
	registry   *backend.Registry
	config     Config

	mu      sync.Mutex
	history []Result
}

// New creates an Evaluator. The registry supplies the names excluded from
// each benchmark request.
func New(d Dispatcher, reg *backend.Registry, cfg Config) *Evaluator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NewNoopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Evaluator{dispatcher: d, registry: reg, config: cfg}
}

type sample struct {
	ok      bool
	latency time.Duration
	units   int
}

// Benchmark sends every prompt to the named backend and records the result.
// Individual request failures count against the success rate; only a
// canceled context or an empty prompt set fails the benchmark.
func (e *Evaluator) Benchmark(ctx context.Context, name string, prompts []string) (*Result, error) {
	if len(prompts) == 0 {
		return nil, ErrNoPrompts
	}
	if _, err := e.registry.Get(name); err != nil {
		return nil, err
	}

	var exclude []string
	for _, n := range e.registry.Names() {
		if n != name {
			exclude = append(exclude, n)
		}
	}

	samples := make([]sample, len(prompts))
	start := e.config.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for i, prompt := range prompts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			req := backend.NewRequest(prompt)
			req.Model = e.config.Model
			req.MaxTokens = e.config.MaxTokens
			req.Temperature = e.config.Temperature
			req.Preferred = name
			req.Exclude = exclude
			req.Metadata = map[string]string{"purpose": "benchmark"}

			t0 := e.config.Now()
			resp, err := e.dispatcher.Dispatch(gctx, req)
			latency := e.config.Now().Sub(t0)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.config.Logger.Debug(gctx, "benchmark request failed",
					observe.Field{Key: "backend", Value: name},
					observe.Field{Key: "error", Value: err.Error()},
				)
				return nil
			}
			samples[i] = sample{ok: true, latency: latency, units: responseUnits(resp)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate: benchmark %s: %w", name, err)
	}

	r := summarize(name, e.config.Model, samples)
	r.At = start
	r.Elapsed = e.config.Now().Sub(start)

	e.mu.Lock()
	e.history = append(e.history, r)
	e.mu.Unlock()

	e.config.Logger.Info(ctx, "benchmark complete",
		observe.Field{Key: "backend", Value: name},
		observe.Field{Key: "success_rate", Value: r.SuccessRate},
		observe.Field{Key: "p95_ms", Value: r.Latency.P95.Milliseconds()},
	)
	return &r, nil
}

// Compare benchmarks each named backend in turn with the same prompts.
func (e *Evaluator) Compare(ctx context.Context, names []string, prompts []string) ([]Result, error) {
	results := make([]Result, 0, len(names))
	for _, name := range names {
		r, err := e.Benchmark(ctx, name, prompts)
		if err != nil {
			return results, err
		}
		results = append(results, *r)
	}
	return results, nil
}

// History returns every recorded result, oldest first.
func (e *Evaluator) History() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.history)
}

// Rank orders results with at least minRequests requests, best first.
func (e *Evaluator) Rank(metric Metric, minRequests int) ([]Result, error) {
	cmp, err := comparator(metric)
	if err != nil {
		return nil, err
	}

	var out []Result
	for _, r := range e.History() {
		if r.Requests >= minRequests {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, cmp)
	return out, nil
}

// Best returns the top-ranked result, or false when none qualifies.
func (e *Evaluator) Best(metric Metric, minRequests int) (Result, bool, error) {
	ranked, err := e.Rank(metric, minRequests)
	if err != nil || len(ranked) == 0 {
		return Result{}, false, err
	}
	return ranked[0], true, nil
}

// Report is a summary of the evaluation history.
type Report struct {
	Evaluations int               `json:"evaluations"`
	Backends    []string          `json:"backends"`
	Best        map[Metric]Result `json:"best"`
	Results     []Result          `json:"results"`
}

// Report summarizes the history. Best only includes metrics for which some
// result has at least minRequests requests.
func (e *Evaluator) Report(minRequests int) Report {
	history := e.History()
	rep := Report{
		Evaluations: len(history),
		Best:        make(map[Metric]Result),
		Results:     history,
	}
	for _, r := range history {
		if !slices.Contains(rep.Backends, r.Backend) {
			rep.Backends = append(rep.Backends, r.Backend)
		}
	}
	slices.Sort(rep.Backends)

	for _, m := range []Metric{MetricSuccessRate, MetricLatency, MetricThroughput} {
		if best, ok, _ := e.Best(m, minRequests); ok {
			rep.Best[m] = best
		}
	}
	return rep
}

func comparator(metric Metric) (func(a, b Result) int, error) {
	switch metric {
	case MetricSuccessRate:
		return func(a, b Result) int { return compareFloat(b.SuccessRate, a.SuccessRate) }, nil
	case MetricLatency:
		return func(a, b Result) int { return compareFloat(float64(a.Latency.Mean), float64(b.Latency.Mean)) }, nil
	case MetricThroughput:
		return func(a, b Result) int { return compareFloat(b.UnitsPerSecond, a.UnitsPerSecond) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func summarize(name, model string, samples []sample) Result {
	r := Result{Backend: name, Model: model, Requests: len(samples)}

	var latencies []time.Duration
	for _, s := range samples {
		if !s.ok {
			r.Failures++
			continue
		}
		latencies = append(latencies, s.latency)
		r.Units += s.units
	}

	r.SuccessRate = float64(len(latencies)) / float64(len(samples))
	r.Latency = Summarize(latencies)
	if secs := r.Latency.Total.Seconds(); secs > 0 {
		r.UnitsPerSecond = float64(r.Units) / secs
	}
	return r
}

// responseUnits prefers reported completion tokens and falls back to four
// characters per token.
func responseUnits(resp *backend.Response) int {
	if resp == nil {
		return 0
	}
	if resp.Usage.CompletionTokens > 0 {
		return resp.Usage.CompletionTokens
	}
	return utf8.RuneCountInString(resp.Content) / 4
}
