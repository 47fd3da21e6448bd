package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jonwraymond/llmops/backend"
)

func newResponseCache(t *testing.T) *ResponseCache {
	t.Helper()
	rc, err := NewResponseCache(NewMemoryCache(DefaultPolicy()), nil, DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("NewResponseCache() error = %v", err)
	}
	return rc
}

func TestDefaultKeyer_Deterministic(t *testing.T) {
	k := NewDefaultKeyer()

	a := backend.NewRequest("summarize the incident")
	a.Model = "gpt-4o"
	a.Metadata = map[string]string{"x": "1", "y": "2"}
	b := a.Derive(func(r *backend.Request) { r.Caller = "someone-else" })

	ka, _ := k.Key(a)
	kb, _ := k.Key(b)
	if ka != kb {
		t.Errorf("same content produced %q and %q", ka, kb)
	}
	if !strings.HasPrefix(ka, "llm:gpt-4o:") {
		t.Errorf("key = %q, want llm:gpt-4o: prefix", ka)
	}

	c := a.Derive(func(r *backend.Request) { r.Prompt = "something else" })
	kc, _ := k.Key(c)
	if kc == ka {
		t.Error("different prompts share a key")
	}

	d, _ := k.Key(backend.Request{Prompt: "p"})
	if !strings.HasPrefix(d, "llm:any:") {
		t.Errorf("key = %q, want llm:any: prefix", d)
	}
}

func TestResponseCache_Execute(t *testing.T) {
	rc := newResponseCache(t)
	req := backend.NewRequest("hello")

	calls := 0
	fn := func(ctx context.Context, r backend.Request) (*backend.Response, error) {
		calls++
		return &backend.Response{Content: "hi", Backend: "a", RequestID: r.ID}, nil
	}

	first, err := rc.Execute(context.Background(), req, fn)
	if err != nil {
		t.Fatal(err)
	}
	again := req.Derive(nil)
	second, err := rc.Execute(context.Background(), again, fn)
	if err != nil {
		t.Fatal(err)
	}

	if calls != 1 {
		t.Errorf("backend called %d times, want 1", calls)
	}
	if first.Content != second.Content || second.Backend != "a" {
		t.Errorf("cached response = %+v", second)
	}
	if second.RequestID != again.ID {
		t.Errorf("cached RequestID = %q, want %q", second.RequestID, again.ID)
	}
}

func TestResponseCache_DoesNotCacheErrorsOrDegraded(t *testing.T) {
	rc := newResponseCache(t)
	req := backend.NewRequest("hello")

	_, err := rc.Execute(context.Background(), req, func(ctx context.Context, r backend.Request) (*backend.Response, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := rc.Lookup(context.Background(), req); ok {
		t.Error("error result cached")
	}

	rc.Store(context.Background(), req, &backend.Response{Content: "sorry", Degraded: true})
	if _, ok := rc.Lookup(context.Background(), req); ok {
		t.Error("degraded response cached")
	}
}

func TestResponseCache_Skips(t *testing.T) {
	rc := newResponseCache(t)
	resp := &backend.Response{Content: "x"}

	tests := []struct {
		name string
		req  backend.Request
	}{
		{"sampled", backend.Request{Prompt: "p", Temperature: 0.7}},
		{"opted out", backend.Request{Prompt: "p", Metadata: map[string]string{MetadataNoCache: "true"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc.Store(context.Background(), tt.req, resp)
			if _, ok := rc.Lookup(context.Background(), tt.req); ok {
				t.Error("request should bypass the cache")
			}
		})
	}

	if _, err := NewResponseCache(nil, nil, DefaultPolicy(), nil); !errors.Is(err, ErrNilStore) {
		t.Errorf("NewResponseCache(nil) error = %v", err)
	}
}
