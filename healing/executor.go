package healing

import (
	"context"
	"slices"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/cache"
	"github.com/jonwraymond/llmops/gateway"
	"github.com/jonwraymond/llmops/resilience"
)

// Attempt is the input to one recovery.
type Attempt struct {
	Err       error
	Context   Context
	Signature Signature
}

// Executor performs one recovery strategy.
//
// Contract:
//   - Concurrency: Execute must be safe for concurrent use.
//   - Requests are derived with Request.Derive; the failed request is never
//     mutated.
type Executor interface {
	Strategy() Strategy
	Execute(ctx context.Context, a Attempt) (*backend.Response, error)
}

// Dispatcher re-submits requests. *gateway.Gateway implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req backend.Request) (*backend.Response, error)
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc struct {
	Kind Strategy
	Fn   func(ctx context.Context, a Attempt) (*backend.Response, error)
}

// Strategy returns f.Kind.
func (f ExecutorFunc) Strategy() Strategy { return f.Kind }

// Execute calls f.Fn.
func (f ExecutorFunc) Execute(ctx context.Context, a Attempt) (*backend.Response, error) {
	return f.Fn(ctx, a)
}

type retryExecutor struct {
	d     Dispatcher
	retry *resilience.Retry
}

// RetryWithBackoff re-submits a derived copy of the request through d with
// exponential backoff between passes.
func RetryWithBackoff(d Dispatcher, cfg resilience.RetryConfig) (Executor, error) {
	if d == nil {
		return nil, ErrNilDispatcher
	}
	return &retryExecutor{d: d, retry: resilience.NewRetry(cfg)}, nil
}

func (e *retryExecutor) Strategy() Strategy { return StrategyRetryWithBackoff }

func (e *retryExecutor) Execute(ctx context.Context, a Attempt) (*backend.Response, error) {
	req := a.Context.Request.Derive(nil)
	var resp *backend.Response
	err := e.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.d.Dispatch(ctx, req)
		return err
	})
	return resp, err
}

// SimplifyFunc derives a cheaper request.
type SimplifyFunc func(req *backend.Request)

// DefaultSimplify halves the completion budget, drops the system prompt and
// pins the temperature to zero.
func DefaultSimplify(req *backend.Request) {
	if req.MaxTokens > 1 {
		req.MaxTokens /= 2
	}
	req.System = ""
	req.Temperature = 0
}

type reduceExecutor struct {
	d        Dispatcher
	simplify SimplifyFunc
}

// ReduceComplexity re-submits a simplified request through d. A nil
// simplify uses DefaultSimplify.
func ReduceComplexity(d Dispatcher, simplify SimplifyFunc) (Executor, error) {
	if d == nil {
		return nil, ErrNilDispatcher
	}
	if simplify == nil {
		simplify = DefaultSimplify
	}
	return &reduceExecutor{d: d, simplify: simplify}, nil
}

func (e *reduceExecutor) Strategy() Strategy { return StrategyReduceComplexity }

func (e *reduceExecutor) Execute(ctx context.Context, a Attempt) (*backend.Response, error) {
	return e.d.Dispatch(ctx, a.Context.Request.Derive(e.simplify))
}

type alternativeExecutor struct {
	d Dispatcher
}

// AlternativeProvider re-submits the request through d while excluding the
// backend that failed last and dropping the preferred hint.
func AlternativeProvider(d Dispatcher) (Executor, error) {
	if d == nil {
		return nil, ErrNilDispatcher
	}
	return &alternativeExecutor{d: d}, nil
}

func (e *alternativeExecutor) Strategy() Strategy { return StrategyAlternativeProvider }

func (e *alternativeExecutor) Execute(ctx context.Context, a Attempt) (*backend.Response, error) {
	failed := gateway.FailedBackend(a.Err)
	req := a.Context.Request.Derive(func(r *backend.Request) {
		if r.Preferred != "" && !slices.Contains(r.Exclude, r.Preferred) {
			r.Exclude = append(r.Exclude, r.Preferred)
		}
		if failed != "" && !slices.Contains(r.Exclude, failed) {
			r.Exclude = append(r.Exclude, failed)
		}
		r.Preferred = ""
	})
	return e.d.Dispatch(ctx, req)
}

type templateExecutor struct {
	templates *cache.Templates
}

// FallbackToTemplate renders a canned response without touching any backend.
func FallbackToTemplate(templates *cache.Templates) Executor {
	if templates == nil {
		templates = cache.NewTemplates()
	}
	return &templateExecutor{templates: templates}
}

func (e *templateExecutor) Strategy() Strategy { return StrategyFallbackToTemplate }

func (e *templateExecutor) Execute(_ context.Context, a Attempt) (*backend.Response, error) {
	return e.templates.Render(a.Context.Request)
}

// DefaultDegradedMessage is served by GracefulDegradation when no message is
// configured.
const DefaultDegradedMessage = "The service is temporarily degraded. Please try again shortly."

// DegradedBackend names the pseudo-backend on degraded responses.
const DegradedBackend = "degraded"

// GracefulDegradation answers with a fixed message marked Degraded.
func GracefulDegradation(message string) Executor {
	if message == "" {
		message = DefaultDegradedMessage
	}
	return ExecutorFunc{
		Kind: StrategyGracefulDegradation,
		Fn: func(_ context.Context, a Attempt) (*backend.Response, error) {
			return &backend.Response{
				Content:      message,
				FinishReason: "degraded",
				Backend:      DegradedBackend,
				RequestID:    a.Context.Request.ID,
				Degraded:     true,
			}, nil
		},
	}
}
