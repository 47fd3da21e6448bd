package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/llmops/auth"
	"github.com/jonwraymond/llmops/backend"
)

const maxErrorBody = 4 << 10

// HTTPConfig configures a generic HTTP/JSON backend.
type HTTPConfig struct {
	Name    string
	BaseURL string
	Model   string

	MaxTokens int
	Streaming bool

	// Credential authenticates every request. Default: none.
	Credential auth.Credential

	// Timeout bounds a single request when Client is nil.
	// Default: 1m
	Timeout time.Duration

	// Client replaces the default authenticated client.
	Client *http.Client
}

// HTTP is a backend over the generic JSON protocol.
type HTTP struct {
	name    string
	baseURL string
	model   string
	caps    backend.Capabilities
	client  *http.Client
}

type generateBody struct {
	ID          string  `json:"id"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream,omitempty"`
}

type generateReply struct {
	Content      string        `json:"content"`
	FinishReason string        `json:"finish_reason"`
	Usage        backend.Usage `json:"usage"`
	Error        string        `json:"error,omitempty"`
}

// NewHTTP creates an HTTP backend.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.Name == "" {
		return nil, ErrMissingName
	}
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		cred := cfg.Credential
		if cred == nil {
			cred = auth.None{}
		}
		client = auth.NewClient(cred, timeout)
	}

	return &HTTP{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		caps: backend.Capabilities{
			MaxTokens: cfg.MaxTokens,
			Streaming: cfg.Streaming,
		},
		client: client,
	}, nil
}

// Name implements backend.Backend.
func (h *HTTP) Name() string { return h.name }

// Capabilities implements backend.Backend.
func (h *HTTP) Capabilities() backend.Capabilities { return h.caps }

func (h *HTTP) post(ctx context.Context, req backend.Request, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = h.model
	}
	body, err := json.Marshal(generateBody{
		ID:          req.ID,
		Prompt:      req.Prompt,
		System:      req.System,
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter: %s: encode request: %w", h.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("adapter: %s: %w", h.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "application/x-ndjson")
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("adapter: %s: %w", h.name, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("adapter: %s: %w", h.name, err)
	}
	return resp, nil
}

// Generate implements backend.Backend.
func (h *HTTP) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	start := time.Now()
	resp, err := h.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reply generateReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("adapter: %s: %w: %v", h.name, ErrMalformedResponse, err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("adapter: %s: %s", h.name, reply.Error)
	}

	return &backend.Response{
		Content:      reply.Content,
		FinishReason: reply.FinishReason,
		Usage:        reply.Usage,
		Backend:      h.name,
		Latency:      time.Since(start),
		RequestID:    req.ID,
	}, nil
}

// GenerateStream implements backend.Backend. The endpoint answers with one
// JSON object per line.
func (h *HTTP) GenerateStream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	if !h.caps.Streaming {
		return nil, backend.ErrStreamingUnsupported
	}
	resp, err := h.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return &ndjsonStream{name: h.name, body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// Ping implements backend.Pinger with GET {base}/health.
func (h *HTTP) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("adapter: %s: %w", h.name, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("adapter: %s: ping: %w", h.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("adapter: %s: ping: %w", h.name, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Code:  resp.StatusCode,
		Body:  strings.TrimSpace(string(body)),
		Retry: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter reads delay-seconds or an HTTP date. Anything else, or a
// date in the past, is zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}

type ndjsonStream struct {
	name    string
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *ndjsonStream) Recv() (backend.Chunk, error) {
	if s.done {
		return backend.Chunk{}, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var reply generateReply
		if err := json.Unmarshal(line, &reply); err != nil {
			return backend.Chunk{}, fmt.Errorf("adapter: %s: %w: %v", s.name, ErrMalformedResponse, err)
		}
		if reply.Error != "" {
			return backend.Chunk{}, fmt.Errorf("adapter: %s: stream: %s", s.name, reply.Error)
		}
		return backend.Chunk{Content: reply.Content, FinishReason: reply.FinishReason}, nil
	}
	if err := s.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return backend.Chunk{}, fmt.Errorf("adapter: %s: stream: %w", s.name, err)
	}
	s.done = true
	return backend.Chunk{}, io.EOF
}

func (s *ndjsonStream) Close() error {
	s.done = true
	return s.body.Close()
}
