package backend

import (
	"maps"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Request is the unit of work dispatched to a backend.
type Request struct {
	// ID identifies this request. NewRequest and Derive assign one.
	ID string

	// ParentID is the ID of the request this one was derived from.
	ParentID string

	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64

	// Preferred names a backend to try first when it is healthy.
	Preferred string

	// Exclude lists backends that must not serve this request.
	Exclude []string

	// Deadline bounds the whole dispatch, failover included. Zero means
	// the context deadline alone applies.
	Deadline time.Time

	// Caller identifies the client for per-caller admission.
	Caller string

	Metadata map[string]string
}

// NewRequest returns a Request for prompt with a fresh ID.
func NewRequest(prompt string) Request {
	return Request{
		ID:     uuid.NewString(),
		Prompt: prompt,
	}
}

// Derive returns a new Request built from r. The copy gets a fresh ID, its
// ParentID set to r.ID, and its own Exclude and Metadata; edit, when non-nil,
// adjusts the copy. r itself is never changed.
func (r Request) Derive(edit func(*Request)) Request {
	next := r
	next.ID = uuid.NewString()
	next.ParentID = r.ID
	next.Exclude = slices.Clone(r.Exclude)
	next.Metadata = maps.Clone(r.Metadata)
	if edit != nil {
		edit(&next)
	}
	return next
}

// Validate checks that the request can be dispatched.
func (r Request) Validate() error {
	if r.Prompt == "" {
		return ErrEmptyPrompt
	}
	if r.MaxTokens < 0 {
		return ErrInvalidMaxTokens
	}
	return nil
}

// EstimatedUnits approximates the throughput cost of r in tokens: roughly
// four characters per prompt token plus the requested completion size.
func (r Request) EstimatedUnits() float64 {
	chars := utf8.RuneCountInString(r.Prompt) + utf8.RuneCountInString(r.System)
	units := float64(chars)/4 + float64(r.MaxTokens)
	if units < 1 {
		units = 1
	}
	return units
}

// Excludes reports whether name is excluded.
func (r Request) Excludes(name string) bool {
	return slices.Contains(r.Exclude, name)
}
