package healing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/observe"
	"github.com/jonwraymond/llmops/resilience"
)

// Config configures a Controller.
type Config struct {
	// MinConfidence is the number of attempts each strategy gets on a
	// signature before the controller stops exploring.
	// Default: 3
	MinConfidence int

	// LearningRate is the EMA weight of the newest outcome.
	// Default: 0.2
	LearningRate float64

	// Prior is the success rate assumed for untried strategies.
	// Default: 0.5
	Prior float64

	// Breaker guards healing per Context.Component.
	Breaker resilience.CircuitBreakerConfig

	// Store persists records. Default: NewMemoryStore().
	Store Store

	// Classifier computes signatures. Default: NewClassifier(0).
	Classifier *Classifier

	// Maintenance, when set, is checked on every Heal.
	Maintenance *Maintenance

	Logger     observe.Logger
	Middleware *observe.Middleware

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Outcome reports one Heal call.
type Outcome struct {
	Signature Signature
	Strategy  Strategy
	// Attempted is false when no strategy ran.
	Attempted bool
	// Explored is true when the strategy was chosen to gather data rather
	// than for its success rate.
	Explored                  bool
	Success                   bool
	Response                  *backend.Response
	RequiresHumanIntervention bool
	Duration                  time.Duration
	Actions                   []Action
}

type recordEntry struct {
	mu  sync.Mutex
	rec *Record
}

// Controller selects, runs and learns from recovery strategies.
//
// Contract:
//   - Concurrency: safe for concurrent use. Records are locked per signature;
//     the record map lock is held only for lookup. No lock is held while a
//     strategy runs.
//   - Persistence: every outcome is written through to the Store. Store
//     errors are logged and do not fail the heal.
type Controller struct {
	config     Config
	executors  map[Strategy]Executor
	available  []Strategy
	classifier *Classifier
	store      Store
	breakers   *resilience.BreakerSet
	mw         *observe.Middleware
	logger     observe.Logger
	now        func() time.Time

	mu      sync.Mutex
	records map[Signature]*recordEntry
}

// NewController creates a controller with the given strategy executors.
func NewController(cfg Config, executors ...Executor) (*Controller, error) {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = DefaultLearningRate
	}
	if cfg.Prior <= 0 || cfg.Prior > 1 {
		cfg.Prior = DefaultPrior
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewClassifier(0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Controller{
		config:     cfg,
		executors:  make(map[Strategy]Executor, len(executors)),
		classifier: cfg.Classifier,
		store:      cfg.Store,
		now:        cfg.Now,
		records:    make(map[Signature]*recordEntry),
	}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		s := ex.Strategy()
		if !s.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
		}
		if _, dup := c.executors[s]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStrategy, s)
		}
		c.executors[s] = ex
		c.available = append(c.available, s)
	}
	slices.Sort(c.available)

	c.mw = cfg.Middleware
	if c.mw == nil {
		c.mw = observe.NopMiddleware()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = c.mw.Logger()
	}
	c.logger = logger.WithMeta(observe.Meta{Component: "healing"})

	userChange := cfg.Breaker.OnStateChange
	c.breakers = resilience.NewBreakerSet(cfg.Breaker.WithKeyedStateChange(func(key string, from, to resilience.State) {
		c.logger.Warn(context.Background(), "healing breaker state change",
			observe.Field{Key: "component", Value: key},
			observe.Field{Key: "from", Value: from.String()},
			observe.Field{Key: "to", Value: to.String()},
		)
		if userChange != nil {
			userChange(from, to)
		}
	}))
	return c, nil
}

// Strategies returns the strategies with an executor, in declaration order.
func (c *Controller) Strategies() []Strategy { return slices.Clone(c.available) }

// Breakers returns the per-component healing breakers.
func (c *Controller) Breakers() *resilience.BreakerSet { return c.breakers }

// Classifier returns the signature classifier.
func (c *Controller) Classifier() *Classifier { return c.classifier }

// Heal tries to recover from err.
//
// On success the outcome carries the recovered response and the error is
// nil. When the component breaker is open, no strategy is available, or the
// chosen strategy fails, the outcome requires human intervention and the
// error is a *HealingError matching ErrHealingFailed.
func (c *Controller) Heal(ctx context.Context, err error, hctx Context) (*Outcome, error) {
	start := c.now()
	sig := c.classifier.Signature(err, hctx)
	out := &Outcome{Signature: sig}

	if c.config.Maintenance != nil {
		out.Actions = c.config.Maintenance.Check(ctx)
	}

	if len(c.available) == 0 {
		out.RequiresHumanIntervention = true
		return out, &HealingError{Signature: sig, Err: ErrNoStrategy}
	}

	entry, lerr := c.entry(ctx, sig)
	if lerr != nil {
		c.logger.Warn(ctx, "strategy record load failed",
			observe.Field{Key: "signature", Value: string(sig)},
			observe.Field{Key: "error", Value: lerr},
		)
	}

	entry.mu.Lock()
	strategy, explored := selectStrategy(entry.rec, c.available, c.config.MinConfidence, c.config.Prior)
	entry.mu.Unlock()
	out.Strategy = strategy
	out.Explored = explored

	component := hctx.Component
	if component == "" {
		component = "unknown"
	}
	permit, berr := c.breakers.Get(component).Allow()
	if berr != nil {
		out.RequiresHumanIntervention = true
		c.mw.Event(ctx, c.meta(strategy), "healing_skipped",
			observe.Field{Key: "component", Value: component},
			observe.Field{Key: "signature", Value: string(sig)},
			observe.Field{Key: "reason", Value: berr.Error()},
		)
		return out, &HealingError{Signature: sig, Strategy: strategy, Err: berr}
	}

	attempt := Attempt{Err: err, Context: hctx, Signature: sig}
	var resp *backend.Response
	xerr := c.mw.Run(ctx, c.meta(strategy), func(ctx context.Context, _ observe.Meta) error {
		var err error
		resp, err = c.executors[strategy].Execute(ctx, attempt)
		if err == nil && resp == nil {
			err = errors.New("healing: strategy returned no response")
		}
		return err
	})
	out.Attempted = true
	out.Duration = c.now().Sub(start)

	if xerr != nil && errors.Is(ctx.Err(), context.Canceled) {
		permit.Cancel()
		return out, ctx.Err()
	}
	permit.Done(xerr)
	c.learn(ctx, entry, strategy, xerr == nil)

	if xerr != nil {
		out.RequiresHumanIntervention = true
		c.logger.Error(ctx, "healing failed",
			observe.Field{Key: "signature", Value: string(sig)},
			observe.Field{Key: "strategy", Value: strategy.String()},
			observe.Field{Key: "error", Value: xerr},
		)
		return out, &HealingError{Signature: sig, Strategy: strategy, Attempted: true, Err: xerr}
	}

	out.Success = true
	out.Response = resp
	c.logger.Info(ctx, "healed",
		observe.Field{Key: "signature", Value: string(sig)},
		observe.Field{Key: "strategy", Value: strategy.String()},
		observe.Field{Key: "explored", Value: explored},
	)
	return out, nil
}

// Record returns a copy of the record for sig.
func (c *Controller) Record(sig Signature) (*Record, bool) {
	c.mu.Lock()
	entry, ok := c.records[sig]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec.Clone(), true
}

// Records returns copies of every record held in memory.
func (c *Controller) Records() []*Record {
	c.mu.Lock()
	entries := make([]*recordEntry, 0, len(c.records))
	for _, e := range c.records {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.Clone())
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b *Record) int {
		switch {
		case a.Signature < b.Signature:
			return -1
		case a.Signature > b.Signature:
			return 1
		}
		return 0
	})
	return out
}

// Prune applies the retention policy: records not seen for maxAge with
// fewer than minAttempts attempts are deleted from memory and the store.
func (c *Controller) Prune(ctx context.Context, maxAge time.Duration, minAttempts int) (int, error) {
	cutoff := c.now().Add(-maxAge)

	c.mu.Lock()
	for sig, e := range c.records {
		e.mu.Lock()
		stale := prunable(e.rec, cutoff, minAttempts)
		e.mu.Unlock()
		if stale {
			delete(c.records, sig)
		}
	}
	c.mu.Unlock()

	n, err := c.store.Prune(ctx, cutoff, minAttempts)
	if err != nil {
		return 0, fmt.Errorf("healing: prune: %w", err)
	}
	return n, nil
}

// entry returns the in-memory record for sig, loading it from the store on
// first use. A load failure yields an empty record.
func (c *Controller) entry(ctx context.Context, sig Signature) (*recordEntry, error) {
	c.mu.Lock()
	e, ok := c.records[sig]
	c.mu.Unlock()
	if ok {
		return e, nil
	}

	rec, err := c.store.Load(ctx, sig)
	if rec == nil || err != nil {
		rec = NewRecord(sig, c.now())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.records[sig]; ok {
		return existing, err
	}
	e = &recordEntry{rec: rec}
	c.records[sig] = e
	return e, err
}

func (c *Controller) learn(ctx context.Context, e *recordEntry, s Strategy, success bool) {
	e.mu.Lock()
	e.rec.Observe(s, success, c.config.LearningRate, c.config.Prior, c.now())
	snapshot := e.rec.Clone()
	e.mu.Unlock()

	if err := c.store.Save(ctx, snapshot); err != nil {
		c.logger.Warn(ctx, "strategy record save failed",
			observe.Field{Key: "signature", Value: string(snapshot.Signature)},
			observe.Field{Key: "error", Value: err},
		)
	}
}

func (c *Controller) meta(s Strategy) observe.Meta {
	return observe.Meta{Component: "healing", Operation: "heal", Strategy: s.String()}
}
