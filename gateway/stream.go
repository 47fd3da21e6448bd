package gateway

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/observe"
	"github.com/jonwraymond/llmops/resilience"
)

// Stream opens a completion stream on the first candidate that accepts it.
// Failover happens only while opening; once chunks flow, a mid-stream error
// is returned to the caller and reported as that backend's failure. Reaching
// io.EOF records a success. The returned stream must be closed.
func (g *Gateway) Stream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	if err := g.admit(req); err != nil {
		return nil, err
	}
	ctx, cancel := g.withDeadline(ctx, req.Deadline)

	release := cancel
	if g.bulkhead != nil {
		if err := g.bulkhead.Acquire(ctx); err != nil {
			cancel()
			return nil, err
		}
		release = func() {
			g.bulkhead.Release()
			cancel()
		}
	}

	var out backend.Stream
	err := g.mw.Run(ctx, requestMeta("stream", req), func(ctx context.Context, _ observe.Meta) error {
		return g.walk(ctx, req, true, func(ctx context.Context, e *backend.Entry, permit *resilience.Permit) error {
			start := time.Now()
			s, err := e.Backend().GenerateStream(ctx, req)
			if err != nil {
				return err
			}
			if s == nil {
				return errNilResponse
			}
			out = &trackedStream{
				ctx:     ctx,
				inner:   s,
				entry:   e,
				permit:  permit,
				start:   start,
				gateway: g,
				release: release,
			}
			return nil
		})
	})
	if err != nil {
		release()
		return nil, err
	}
	return out, nil
}

// trackedStream reports the stream outcome to metrics and the breaker
// exactly once.
type trackedStream struct {
	ctx     context.Context
	inner   backend.Stream
	entry   *backend.Entry
	permit  *resilience.Permit
	start   time.Time
	gateway *Gateway
	release func()

	once sync.Once
}

func (s *trackedStream) Recv() (backend.Chunk, error) {
	c, err := s.inner.Recv()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.finish(func() {
			s.entry.RecordSuccess(time.Since(s.start))
			s.permit.Done(nil)
		})
	case s.ctx.Err() != nil:
		s.finish(s.permit.Cancel)
	default:
		s.finish(func() { s.gateway.recordFailure(s.ctx, s.entry, s.permit, err) })
	}
	return c, err
}

// Close releases the stream. Closing before io.EOF records no outcome.
func (s *trackedStream) Close() error {
	err := s.inner.Close()
	s.finish(s.permit.Cancel)
	return err
}

func (s *trackedStream) finish(settle func()) {
	s.once.Do(func() {
		settle()
		s.release()
	})
}
