package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/llmops/auth"
	"github.com/jonwraymond/llmops/backend"
)

func newHTTPBackend(t *testing.T, cfg HTTPConfig, handler http.HandlerFunc) *HTTP {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/"
	if cfg.Name == "" {
		cfg.Name = "custom"
	}
	h, err := NewHTTP(cfg)
	if err != nil {
		t.Fatalf("NewHTTP() error = %v", err)
	}
	return h
}

func TestNewHTTP_Validation(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{BaseURL: "http://x"}); !errors.Is(err, ErrMissingName) {
		t.Errorf("error = %v, want ErrMissingName", err)
	}
	if _, err := NewHTTP(HTTPConfig{Name: "x"}); !errors.Is(err, ErrMissingBaseURL) {
		t.Errorf("error = %v, want ErrMissingBaseURL", err)
	}
}

func TestHTTP_Generate(t *testing.T) {
	cred, _ := auth.NewAPIKey(auth.APIKeyConfig{Key: "k1", Header: "X-Api-Key"})

	var got generateBody
	h := newHTTPBackend(t, HTTPConfig{Model: "local-7b", Credential: cred}, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "k1" {
			t.Errorf("X-Api-Key = %q", r.Header.Get("X-Api-Key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"content":"ok","finish_reason":"stop","usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`)
	})

	req := backend.NewRequest("ping?")
	resp, err := h.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "ok" || resp.Usage.TotalTokens != 3 || resp.Backend != "custom" {
		t.Errorf("response = %+v", resp)
	}
	if got.ID != req.ID || got.Prompt != "ping?" || got.Model != "local-7b" {
		t.Errorf("request body = %+v", got)
	}
}

func TestHTTP_GenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "status",
			status: http.StatusServiceUnavailable,
			body:   "overloaded",
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) || se.Code != 503 || se.Body != "overloaded" || !se.Retryable() {
					t.Errorf("error = %v, want retryable StatusError 503", err)
				}
			},
		},
		{
			name:   "malformed",
			status: http.StatusOK,
			body:   "{not json",
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("error = %v, want ErrMalformedResponse", err)
				}
			},
		},
		{
			name:   "error field",
			status: http.StatusOK,
			body:   `{"error":"model not loaded"}`,
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("error = nil")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHTTPBackend(t, HTTPConfig{}, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := h.Generate(context.Background(), backend.NewRequest("x"))
			tt.check(t, err)
		})
	}
}

func TestHTTP_RateLimitedCarriesRetryAfter(t *testing.T) {
	h := newHTTPBackend(t, HTTPConfig{}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := h.Generate(context.Background(), backend.NewRequest("x"))
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 429 || !se.Retryable() {
		t.Fatalf("error = %v, want retryable 429", err)
	}
	if se.RetryAfter() != 2*time.Second {
		t.Errorf("RetryAfter() = %v, want 2s", se.RetryAfter())
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-5", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHTTP_Stream(t *testing.T) {
	h := newHTTPBackend(t, HTTPConfig{Streaming: true}, func(w http.ResponseWriter, r *http.Request) {
		var body generateBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			t.Error("stream flag not set")
		}
		_, _ = io.WriteString(w, "{\"content\":\"a\"}\n\n{\"content\":\"b\"}\n{\"content\":\"\",\"finish_reason\":\"stop\"}\n")
	})

	stream, err := h.GenerateStream(context.Background(), backend.NewRequest("x"))
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	resp, err := backend.Collect(stream)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if resp.Content != "ab" || resp.FinishReason != "stop" {
		t.Errorf("collected = %+v", resp)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv() after Close = %v, want io.EOF", err)
	}
}

func TestHTTP_StreamMalformedLine(t *testing.T) {
	h := newHTTPBackend(t, HTTPConfig{Streaming: true}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{\"content\":\"a\"}\ngarbage\n")
	})

	stream, err := h.GenerateStream(context.Background(), backend.NewRequest("x"))
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	defer stream.Close()

	if c, err := stream.Recv(); err != nil || c.Content != "a" {
		t.Fatalf("first Recv() = %+v, %v", c, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("second Recv() error = %v, want ErrMalformedResponse", err)
	}
}

func TestHTTP_StreamUnsupported(t *testing.T) {
	h := newHTTPBackend(t, HTTPConfig{}, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := h.GenerateStream(context.Background(), backend.NewRequest("x")); !errors.Is(err, backend.ErrStreamingUnsupported) {
		t.Errorf("error = %v, want ErrStreamingUnsupported", err)
	}
}

func TestHTTP_Ping(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	h := newHTTPBackend(t, HTTPConfig{}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	if err := h.Ping(context.Background()); err != nil {
		t.Errorf("Ping() healthy error = %v", err)
	}
	healthy.Store(false)
	var se *StatusError
	if err := h.Ping(context.Background()); !errors.As(err, &se) || se.Code != 500 {
		t.Errorf("Ping() unhealthy error = %v, want StatusError 500", err)
	}
}

func TestHTTP_JWTCredential(t *testing.T) {
	cred, err := auth.New(auth.Config{Mode: auth.ModeJWT, JWTSecret: "s3cret", JWTIssuer: "llmops"})
	if err != nil {
		t.Fatal(err)
	}
	var header string
	h := newHTTPBackend(t, HTTPConfig{Credential: cred}, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"content":"ok"}`)
	})

	if _, err := h.Generate(context.Background(), backend.NewRequest("x")); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(header) < len("Bearer ")+10 || header[:7] != "Bearer " {
		t.Errorf("Authorization = %q, want bearer jwt", header)
	}
}
