package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/cache"
	"github.com/jonwraymond/llmops/config"
	"github.com/jonwraymond/llmops/evaluate"
	"github.com/jonwraymond/llmops/gateway"
	"github.com/jonwraymond/llmops/healing"
	"github.com/jonwraymond/llmops/health"
	"github.com/jonwraymond/llmops/observe"
	"github.com/jonwraymond/llmops/resilience"
	"github.com/jonwraymond/llmops/secret"
)

// pruneInterval is how often healing records are pruned while running.
const pruneInterval = time.Hour

// Engine is an assembled llmops runtime.
//
// Contract:
//   - Concurrency: Generate, Stream and the accessors are safe for concurrent
//     use. Start and Close must not race each other.
//   - Ownership: the engine owns the secret resolver, the healing store and,
//     unless WithObserver was used, the observer.
type Engine struct {
	config   *config.Config
	observer observe.Observer
	ownsObs  bool
	mw       *observe.Middleware
	logger   observe.Logger
	resolver *secret.Resolver

	registry    *backend.Registry
	templates   *cache.Templates
	gateway     *gateway.Gateway
	healer      *healing.Controller
	maintenance *healing.Maintenance
	store       healing.Store
	prober      *health.Prober
	health      *health.Aggregator
	evaluator   *evaluate.Evaluator
	metrics     *prometheus.Registry
	responses   *cache.MemoryCache

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	closed  bool
}

// New assembles an engine from cfg. cfg itself is not modified; secret
// references are resolved on a copy.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Engine, err error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		o.factory = NewBackend
	}

	c := *cfg
	c.Backends = slices.Clone(cfg.Backends)
	e := &Engine{config: &c}
	defer func() {
		if err != nil {
			_ = e.release(context.Background())
		}
	}()

	if e.resolver, err = c.Resolve(ctx); err != nil {
		return nil, fmt.Errorf("engine: resolve secrets: %w", err)
	}

	e.observer = o.observer
	if e.observer == nil {
		if e.observer, err = observe.NewObserver(ctx, c.Observe); err != nil {
			return nil, fmt.Errorf("engine: observer: %w", err)
		}
		e.ownsObs = true
	}
	if e.mw, err = observe.MiddlewareFromObserver(e.observer); err != nil {
		return nil, fmt.Errorf("engine: middleware: %w", err)
	}
	e.logger = e.observer.Logger().WithMeta(observe.Meta{Component: "engine"})

	if err = e.buildRegistry(o.factory); err != nil {
		return nil, err
	}
	if err = e.buildGateway(); err != nil {
		return nil, err
	}

	mem := health.NewMemoryChecker(health.MemoryCheckerConfig{})
	sampler := o.sampler
	if sampler == nil {
		sampler = mem.Usage
	}
	if c.Healing.Enabled {
		if err = e.buildHealing(sampler); err != nil {
			return nil, err
		}
	}

	e.health = health.NewAggregator(c.Health.CheckTimeout)
	health.RegisterBackends(e.health, e.registry)
	e.health.Register("memory", mem)
	if c.Health.Probe {
		e.prober = health.NewProber(e.registry, health.ProberConfig{
			Interval: c.Health.ProbeInterval,
			Timeout:  c.Health.ProbeTimeout,
			Logger:   e.logger,
			OnRecovered: func(name string) {
				e.mw.Event(context.Background(), observe.Meta{Component: "health", Operation: "probe", Backend: name}, "backend_recovered")
			},
		})
	}

	e.evaluator = evaluate.New(e.gateway, e.registry, evaluate.Config{Logger: e.logger})

	e.metrics = prometheus.NewRegistry()
	if err = e.metrics.Register(backend.NewCollector(e.registry)); err != nil {
		return nil, fmt.Errorf("engine: metrics: %w", err)
	}

	e.logger.Info(ctx, "engine ready",
		observe.Field{Key: "backends", Value: e.registry.Names()},
		observe.Field{Key: "healing", Value: e.healer != nil},
		observe.Field{Key: "probe", Value: e.prober != nil},
	)
	return e, nil
}

func (e *Engine) buildRegistry(factory BackendFactory) error {
	e.registry = backend.NewRegistry()

	ordered := slices.Clone(e.config.Backends)
	slices.SortStableFunc(ordered, func(a, b config.BackendConfig) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	for i, bc := range ordered {
		b, err := factory(bc)
		if err != nil {
			return fmt.Errorf("engine: backend %q: %w", bc.Name, err)
		}
		limits := resilience.TokenBucketConfig{
			RequestsPerMinute: bc.RequestsPerMinute,
			UnitsPerMinute:    bc.TokensPerMinute,
		}
		if err := e.registry.Register(b, i, backend.WithLimits(limits)); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}

	e.templates = cache.NewTemplates()
	for name, text := range e.config.Templates {
		if err := e.templates.Register(name, text); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}
	return nil
}

func (e *Engine) buildGateway() error {
	gc := e.config.Gateway
	opts := []gateway.Option{
		gateway.WithMiddleware(e.mw),
		gateway.WithDefaultTimeout(gc.RequestTimeout),
		gateway.WithMaxRateWait(gc.MaxRateWait),
		gateway.WithBreakerConfig(resilience.CircuitBreakerConfig{
			FailureThreshold: e.config.Circuit.FailureThreshold,
			RecoveryTimeout:  e.config.Circuit.RecoveryTimeout,
		}),
		gateway.WithRetry(resilience.RetryConfig{
			MaxAttempts: max(gc.MaxOuterRetries, 1),
			BaseDelay:   gc.BaseBackoff,
			MaxDelay:    gc.MaxBackoff,
			MaxJitter:   gc.MaxJitter,
		}),
	}
	if gc.MaxConcurrent > 0 {
		opts = append(opts, gateway.WithBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: gc.MaxConcurrent,
			MaxWait:       gc.MaxQueueWait,
		}))
	}
	if cc := e.config.Callers; cc.Enabled {
		opts = append(opts, gateway.WithCallerLimiter(resilience.CallerLimiterConfig{
			RequestsPerMinute: cc.RequestsPerMinute,
			Burst:             cc.Burst,
		}))
	}
	if cc := e.config.Cache; cc.Enabled {
		policy := cache.Policy{
			TTL:            cc.TTL,
			ModelTTL:       cc.ModelTTL,
			MaxEntries:     cc.MaxEntries,
			MaxTemperature: cc.MaxTemperature,
		}
		e.responses = cache.NewMemoryCache(policy)
		rc, err := cache.NewResponseCache(e.responses, nil, policy, nil)
		if err != nil {
			return fmt.Errorf("engine: response cache: %w", err)
		}
		opts = append(opts, gateway.WithResponseCache(rc))
	}

	gw, err := gateway.New(e.registry, opts...)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.gateway = gw
	return nil
}

func (e *Engine) buildHealing(sampler healing.ResourceSampler) error {
	hc := e.config.Healing

	if hc.StorePath != "" {
		s, err := healing.OpenSQLStore(hc.StorePath)
		if err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		e.store = s
	} else {
		e.store = healing.NewMemoryStore()
	}

	maint, err := healing.NewMaintenance(e.registry, healing.MaintenanceConfig{
		Thresholds: hc.Maintenance.Thresholds,
		MinSamples: hc.Maintenance.MinSamples,
		Sampler:    sampler,
		Middleware: e.mw,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.maintenance = maint

	executors, err := e.executors()
	if err != nil {
		return err
	}
	healer, err := healing.NewController(healing.Config{
		MinConfidence: hc.MinConfidence,
		LearningRate:  hc.LearningRate,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: hc.Circuit.FailureThreshold,
			RecoveryTimeout:  hc.Circuit.RecoveryTimeout,
		},
		Store:       e.store,
		Maintenance: maint,
		Middleware:  e.mw,
	}, executors...)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.healer = healer
	return nil
}

// executors builds the enabled recovery strategies. An empty strategy list
// enables all of them.
func (e *Engine) executors() ([]healing.Executor, error) {
	hc := e.config.Healing
	enabled := make(map[healing.Strategy]bool)
	for _, name := range hc.Strategies {
		s, err := healing.ParseStrategy(name)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		enabled[s] = true
	}
	on := func(s healing.Strategy) bool { return len(enabled) == 0 || enabled[s] }

	gc := e.config.Gateway
	var out []healing.Executor
	if on(healing.StrategyRetryWithBackoff) {
		ex, err := healing.RetryWithBackoff(e.gateway, resilience.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   gc.BaseBackoff,
			MaxDelay:    gc.MaxBackoff,
			MaxJitter:   gc.MaxJitter,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		out = append(out, ex)
	}
	if on(healing.StrategyFallbackToTemplate) {
		out = append(out, healing.FallbackToTemplate(e.templates))
	}
	if on(healing.StrategyReduceComplexity) {
		ex, err := healing.ReduceComplexity(e.gateway, nil)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		out = append(out, ex)
	}
	if on(healing.StrategyAlternativeProvider) {
		ex, err := healing.AlternativeProvider(e.gateway)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		out = append(out, ex)
	}
	if on(healing.StrategyGracefulDegradation) {
		out = append(out, healing.GracefulDegradation(hc.DegradedMessage))
	}
	return out, nil
}

// Generate dispatches req through the gateway, outer retry included. A
// failure the caller did not cause is handed to the healing controller;
// when healing also fails the returned error matches both the dispatch
// error and healing.ErrHealingFailed.
func (e *Engine) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	resp, err := e.gateway.Execute(ctx, req)
	if err == nil || e.healer == nil || !healable(err) {
		return resp, err
	}

	out, herr := e.healer.Heal(ctx, err, healing.Context{
		Component: "gateway",
		Operation: "generate",
		Request:   req,
	})
	if herr != nil {
		return nil, fmt.Errorf("%w (healing: %w)", err, herr)
	}
	e.logger.Info(ctx, "request recovered",
		observe.Field{Key: "request_id", Value: req.ID},
		observe.Field{Key: "strategy", Value: out.Strategy.String()},
		observe.Field{Key: "degraded", Value: out.Response.Degraded},
	)
	return out.Response, nil
}

// Stream opens a completion stream through the gateway. Streams fail over
// while opening but are not healed.
func (e *Engine) Stream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return e.gateway.Stream(ctx, req)
}

// healable reports whether err is worth a recovery strategy. Invalid
// requests, caller cancellation and caller admission limits are not. An
// exhausted pass is, even when every candidate was skipped by its bucket.
func healable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, backend.ErrEmptyPrompt),
		errors.Is(err, backend.ErrInvalidMaxTokens),
		errors.Is(err, gateway.ErrCallerRateLimited):
		return false
	}
	return true
}

// Start runs the background loops: the health prober, periodic maintenance
// and healing record retention. They stop on Close or when ctx ends.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	e.group, ctx = errgroup.WithContext(ctx)

	if e.prober != nil {
		e.group.Go(func() error {
			e.prober.Run(ctx)
			return nil
		})
	}
	if e.maintenance != nil && e.config.Healing.Maintenance.Interval > 0 {
		e.group.Go(func() error {
			if err := e.maintenance.Run(ctx, e.config.Healing.Maintenance.Interval); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if e.healer != nil && e.config.Healing.Retention.MaxAge > 0 {
		e.group.Go(func() error {
			e.pruneLoop(ctx)
			return nil
		})
	}
	return nil
}

func (e *Engine) pruneLoop(ctx context.Context) {
	r := e.config.Healing.Retention
	prune := func() {
		n, err := e.healer.Prune(ctx, r.MaxAge, r.MinAttempts)
		if err != nil && ctx.Err() == nil {
			e.logger.Warn(ctx, "healing prune failed", observe.Field{Key: "error", Value: err})
			return
		}
		if n > 0 {
			e.logger.Info(ctx, "healing records pruned", observe.Field{Key: "count", Value: n})
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// Close stops the background loops and releases owned resources. It is
// safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel, group := e.cancel, e.group
	e.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, e.release(ctx))
	return errors.Join(errs...)
}

func (e *Engine) release(ctx context.Context) error {
	var errs []error
	if s, ok := e.store.(*healing.SQLStore); ok {
		errs = append(errs, s.Close())
	}
	if e.resolver != nil {
		errs = append(errs, e.resolver.Close())
	}
	if e.ownsObs && e.observer != nil {
		errs = append(errs, e.observer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Config returns the effective configuration with secrets resolved.
func (e *Engine) Config() *config.Config { return e.config }

// Registry returns the backend registry.
func (e *Engine) Registry() *backend.Registry { return e.registry }

// Gateway returns the request gateway.
func (e *Engine) Gateway() *gateway.Gateway { return e.gateway }

// Healer returns the healing controller, or nil when healing is disabled.
func (e *Engine) Healer() *healing.Controller { return e.healer }

// Maintenance returns the maintenance checker, or nil when healing is
// disabled.
func (e *Engine) Maintenance() *healing.Maintenance { return e.maintenance }

// Prober returns the health prober, or nil when probing is disabled.
func (e *Engine) Prober() *health.Prober { return e.prober }

// Health returns the health aggregator.
func (e *Engine) Health() *health.Aggregator { return e.health }

// Evaluator returns the backend benchmark runner.
func (e *Engine) Evaluator() *evaluate.Evaluator { return e.evaluator }

// Templates returns the fallback templates.
func (e *Engine) Templates() *cache.Templates { return e.templates }
