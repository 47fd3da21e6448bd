package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/cache"
	"github.com/jonwraymond/llmops/observe"
	"github.com/jonwraymond/llmops/resilience"
)

// Gateway dispatches requests across the backends of a Registry.
//
// Contract:
//   - Concurrency: safe for concurrent use; state is partitioned per backend
//     (breaker, bucket, metrics) and no lock is held across a backend call.
//   - Ordering: for one request at most one backend call is in flight.
//   - Context: every blocking step honors ctx and Request.Deadline.
type Gateway struct {
	registry *backend.Registry
	breakers *resilience.BreakerSet
	retry    *resilience.Retry
	bulkhead *resilience.Bulkhead
	callers  *resilience.CallerLimiter
	cache    *cache.ResponseCache
	timeout  time.Duration
	rateWait time.Duration
	mw       *observe.Middleware
	logger   observe.Logger
}

// New creates a gateway over reg.
func New(reg *backend.Registry, opts ...Option) (*Gateway, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	mw := o.mw
	if mw == nil && o.observer != nil {
		m, err := observe.MiddlewareFromObserver(o.observer)
		if err != nil {
			return nil, fmt.Errorf("gateway: observer: %w", err)
		}
		mw = m
	}
	if mw == nil {
		mw = observe.NopMiddleware()
	}
	logger := o.logger
	if logger == nil {
		logger = mw.Logger()
	}

	g := &Gateway{
		registry: reg,
		cache:    o.cache,
		timeout:  o.timeout,
		rateWait: DefaultMaxRateWait,
		mw:       mw,
		logger:   logger.WithMeta(observe.Meta{Component: "gateway"}),
	}

	userChange := o.breaker.OnStateChange
	g.breakers = resilience.NewBreakerSet(o.breaker.WithKeyedStateChange(func(key string, from, to resilience.State) {
		g.mw.Event(context.Background(),
			observe.Meta{Component: "gateway", Operation: "breaker", Backend: key},
			"breaker_"+to.String(),
			observe.Field{Key: "from", Value: from.String()},
		)
		if userChange != nil {
			userChange(from, to)
		}
	}))

	retryIf, onRetry := o.retry.RetryIf, o.retry.OnRetry
	o.retry.RetryIf = func(err error) bool {
		return errors.Is(err, ErrAllBackendsExhausted) && (retryIf == nil || retryIf(err))
	}
	o.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.logger.Info(context.Background(), "retrying dispatch",
			observe.Field{Key: "attempt", Value: attempt},
			observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
			observe.Field{Key: "error", Value: err.Error()},
		)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	g.retry = resilience.NewRetry(o.retry)

	if o.rateWait != nil {
		g.rateWait = *o.rateWait
	}
	if o.bulkhead != nil {
		g.bulkhead = resilience.NewBulkhead(*o.bulkhead)
	}
	if o.callers != nil {
		g.callers = resilience.NewCallerLimiter(*o.callers)
	}
	return g, nil
}

// Registry returns the registry the gateway dispatches over.
func (g *Gateway) Registry() *backend.Registry { return g.registry }

// Breakers returns the per-backend circuit breakers.
func (g *Gateway) Breakers() *resilience.BreakerSet { return g.breakers }

// Deregister removes the named backend and drops its breaker, so a backend
// registered again under the same name starts closed.
func (g *Gateway) Deregister(name string) error {
	if err := g.registry.Deregister(name); err != nil {
		return err
	}
	g.breakers.Remove(name)
	return nil
}

// Concurrency reports bulkhead usage, false when no bulkhead is configured.
func (g *Gateway) Concurrency() (resilience.BulkheadMetrics, bool) {
	if g.bulkhead == nil {
		return resilience.BulkheadMetrics{}, false
	}
	return g.bulkhead.Metrics(), true
}

// Dispatch makes one pass over the candidate backends and returns the first
// successful response. It fails with an *ExhaustedError when every candidate
// failed or was unavailable, with ErrDeadlineExceeded when the deadline
// passes, and with ErrCallerRateLimited when the caller is over its
// admission budget.
func (g *Gateway) Dispatch(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if err := g.admit(req); err != nil {
		return nil, err
	}
	ctx, cancel := g.withDeadline(ctx, req.Deadline)
	defer cancel()

	var resp *backend.Response
	err := g.mw.Run(ctx, requestMeta("dispatch", req), func(ctx context.Context, _ observe.Meta) error {
		var err error
		resp, err = g.dispatch(ctx, req)
		return err
	})
	return resp, err
}

// Execute is Dispatch with the outer retry policy: exhausted passes are
// retried with exponential backoff and jitter until the retry budget or the
// request deadline runs out. The deadline is shared by all passes.
func (g *Gateway) Execute(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if err := g.admit(req); err != nil {
		return nil, err
	}
	ctx, cancel := g.withDeadline(ctx, req.Deadline)
	defer cancel()

	var resp *backend.Response
	err := g.mw.Run(ctx, requestMeta("execute", req), func(ctx context.Context, _ observe.Meta) error {
		return g.retry.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, err = g.dispatch(ctx, req)
			return err
		})
	})
	return resp, err
}

func (g *Gateway) admit(req backend.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if g.callers != nil && req.Caller != "" && !g.callers.Allow(req.Caller) {
		return fmt.Errorf("%w: %w: caller %q", ErrCallerRateLimited, resilience.ErrRateLimitExceeded, req.Caller)
	}
	return nil
}

func (g *Gateway) dispatch(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if g.cache != nil {
		return g.cache.Execute(ctx, req, g.generate)
	}
	return g.generate(ctx, req)
}

// generate runs one pass over the candidates inside the bulkhead.
func (g *Gateway) generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if g.bulkhead != nil {
		if err := g.bulkhead.Acquire(ctx); err != nil {
			return nil, err
		}
		defer g.bulkhead.Release()
	}

	var resp *backend.Response
	err := g.walk(ctx, req, false, func(ctx context.Context, e *backend.Entry, permit *resilience.Permit) error {
		start := time.Now()
		r, err := e.Backend().Generate(ctx, req)
		if err != nil {
			return err
		}
		if r == nil {
			return errNilResponse
		}
		latency := time.Since(start)
		e.RecordSuccess(latency)
		permit.Done(nil)

		out := *r
		out.Backend = e.Name()
		out.Latency = latency
		out.RequestID = req.ID
		resp = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// invokeFunc calls one admitted backend. On success it must settle the
// permit and record metrics; on failure walk does both.
type invokeFunc func(ctx context.Context, e *backend.Entry, permit *resilience.Permit) error

// walk tries candidates strictly in order until invoke succeeds.
func (g *Gateway) walk(ctx context.Context, req backend.Request, stream bool, invoke invokeFunc) error {
	candidates := g.registry.Candidates(req.Preferred, req.Exclude...)
	pass := &ExhaustedError{}
	if len(candidates) == 0 {
		pass.Last = ErrNoCandidates
		return pass
	}

	var lastSkip error
	skip := func(name string, err error) {
		pass.Skipped++
		lastSkip = &BackendError{Backend: name, Err: err}
		g.logger.Debug(ctx, "candidate skipped",
			observe.Field{Key: "backend", Value: name},
			observe.Field{Key: "reason", Value: err.Error()},
		)
	}

	for _, e := range candidates {
		if err := ctx.Err(); err != nil {
			return deadlineError(err, pass)
		}
		name := e.Name()

		if !e.Capabilities().Permits(req, stream) {
			skip(name, ErrCapabilityMismatch)
			continue
		}

		permit, err := g.breakers.Get(name).Allow()
		if err != nil {
			skip(name, err)
			continue
		}

		if err := g.acquire(ctx, e, req); err != nil {
			permit.Cancel()
			if ctx.Err() == nil {
				skip(name, err)
			}
			continue
		}

		pass.Attempts++
		pass.Tried = append(pass.Tried, name)

		meta := requestMeta("attempt", req).WithBackend(name)
		err = g.mw.Run(ctx, meta, func(ctx context.Context, _ observe.Meta) error {
			return invoke(ctx, e, permit)
		})
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller ran out of time; the backend did not fail.
			permit.Cancel()
			return deadlineError(ctxErr, pass)
		}
		g.recordFailure(ctx, e, permit, err)
		pass.Last = &BackendError{Backend: name, Err: err}
	}

	if pass.Last == nil {
		pass.Last = lastSkip
	}
	return pass
}

// acquire takes one request and the estimated units from e's bucket,
// waiting at most rateWait.
func (g *Gateway) acquire(ctx context.Context, e *backend.Entry, req backend.Request) error {
	if g.rateWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.rateWait)
		defer cancel()
	}
	return e.Bucket().Acquire(ctx, 1, req.EstimatedUnits())
}

func (g *Gateway) recordFailure(ctx context.Context, e *backend.Entry, permit *resilience.Permit, err error) {
	permit.Done(err)

	meta := observe.Meta{Component: "gateway", Operation: "dispatch", Backend: e.Name()}
	if e.RecordFailure(err) {
		m := e.Metrics()
		g.mw.Event(ctx, meta, "backend_unhealthy",
			observe.Field{Key: "error_rate", Value: m.ErrorRate},
			observe.Field{Key: "total", Value: m.Total},
		)
		return
	}
	g.mw.Event(ctx, meta, "failover", observe.Field{Key: "error", Value: err.Error()})
}

func deadlineError(err error, pass *ExhaustedError) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if pass.Last != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrDeadlineExceeded, pass.Attempts, pass.Last)
	}
	return fmt.Errorf("%w: %w", ErrDeadlineExceeded, err)
}

// withDeadline bounds ctx by the request deadline, or by the default
// timeout when neither the request nor ctx carries one.
func (g *Gateway) withDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if !deadline.IsZero() {
		return context.WithDeadline(ctx, deadline)
	}
	if _, ok := ctx.Deadline(); !ok && g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

func requestMeta(op string, req backend.Request) observe.Meta {
	return observe.Meta{Component: "gateway", Operation: op, Model: req.Model}
}
