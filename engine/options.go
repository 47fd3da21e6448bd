package engine

import (
	"github.com/jonwraymond/llmops/healing"
	"github.com/jonwraymond/llmops/observe"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	factory  BackendFactory
	observer observe.Observer
	sampler  healing.ResourceSampler
}

// WithBackendFactory replaces NewBackend.
func WithBackendFactory(f BackendFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithObserver supplies an observer instead of building one from
// config.Observe. The engine does not shut a supplied observer down.
func WithObserver(obs observe.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithResourceSampler replaces the heap usage sampler used by maintenance.
func WithResourceSampler(s healing.ResourceSampler) Option {
	return func(o *options) { o.sampler = s }
}
