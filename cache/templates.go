package cache

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/jonwraymond/llmops/backend"
)

// MetadataTemplate is the request metadata key naming the fallback template.
const MetadataTemplate = "template"

// DefaultTemplate is used when a request names no template.
const DefaultTemplate = "default"

// TemplateBackend is the Backend value on responses rendered from templates.
const TemplateBackend = "template"

// Templates holds canned responses served when no backend can answer.
// Templates are text/template sources rendered with the Request as data.
type Templates struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewTemplates creates an empty template set.
func NewTemplates() *Templates {
	return &Templates{templates: make(map[string]*template.Template)}
}

// Register parses text and stores it under name, replacing any previous
// template with that name.
func (t *Templates) Register(name, text string) error {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("cache: parse template %q: %w", name, err)
	}
	t.mu.Lock()
	t.templates[name] = tmpl
	t.mu.Unlock()
	return nil
}

// Has reports whether a template would be selected for req.
func (t *Templates) Has(req backend.Request) bool {
	_, ok := t.lookup(req)
	return ok
}

func (t *Templates) lookup(req backend.Request) (*template.Template, bool) {
	name := req.Metadata[MetadataTemplate]
	if name == "" {
		name = DefaultTemplate
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	tmpl, ok := t.templates[name]
	return tmpl, ok
}

// Render produces a degraded response for req from the template named by
// req.Metadata["template"], or the default template.
func (t *Templates) Render(req backend.Request) (*backend.Response, error) {
	tmpl, ok := t.lookup(req)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, req.Metadata[MetadataTemplate])
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return nil, fmt.Errorf("cache: render template %q: %w", tmpl.Name(), err)
	}
	return &backend.Response{
		Content:      buf.String(),
		FinishReason: "template",
		Backend:      TemplateBackend,
		RequestID:    req.ID,
		Degraded:     true,
	}, nil
}
