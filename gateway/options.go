package gateway

import (
	"time"

	"github.com/jonwraymond/llmops/cache"
	"github.com/jonwraymond/llmops/observe"
	"github.com/jonwraymond/llmops/resilience"
)

// Option configures a Gateway.
type Option func(*options)

type options struct {
	breaker  resilience.CircuitBreakerConfig
	retry    resilience.RetryConfig
	bulkhead *resilience.BulkheadConfig
	callers  *resilience.CallerLimiterConfig
	cache    *cache.ResponseCache
	timeout  time.Duration
	rateWait *time.Duration
	observer observe.Observer
	mw       *observe.Middleware
	logger   observe.Logger
}

// WithBreakerConfig sets the configuration shared by every backend breaker.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *options) { o.breaker = cfg }
}

// WithRetry sets the outer retry policy used by Execute. MaxAttempts counts
// whole dispatch passes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithBulkhead caps the number of requests dispatched concurrently.
func WithBulkhead(cfg resilience.BulkheadConfig) Option {
	return func(o *options) { o.bulkhead = &cfg }
}

// WithCallerLimiter enables per-caller admission keyed by Request.Caller.
func WithCallerLimiter(cfg resilience.CallerLimiterConfig) Option {
	return func(o *options) { o.callers = &cfg }
}

// WithResponseCache serves repeated requests from rc.
func WithResponseCache(rc *cache.ResponseCache) Option {
	return func(o *options) { o.cache = rc }
}

// WithDefaultTimeout bounds requests that carry no deadline of their own,
// neither Request.Deadline nor a ctx deadline. Zero leaves them unbounded.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// DefaultMaxRateWait is how long a backend's token bucket may hold a request
// when WithMaxRateWait is not given.
const DefaultMaxRateWait = time.Second

// WithMaxRateWait bounds how long a candidate's token bucket may hold a
// request before the candidate is skipped. Zero or negative waits up to the
// request deadline.
func WithMaxRateWait(d time.Duration) Option {
	return func(o *options) { o.rateWait = &d }
}

// WithObserver instruments the gateway with spans, metrics and logs.
func WithObserver(obs observe.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithMiddleware instruments the gateway with an existing middleware.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(o *options) { o.mw = mw }
}

// WithLogger sets the logger for failover and health events.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}
