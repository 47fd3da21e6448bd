package backend

import (
	"context"
	"io"
	"time"
)

// Capabilities describes what a backend can serve.
type Capabilities struct {
	// MaxTokens is the largest completion a single request may ask for.
	// Zero means unlimited.
	MaxTokens int

	// Streaming reports whether GenerateStream is supported.
	Streaming bool
}

// Permits reports whether a request fits these capabilities.
func (c Capabilities) Permits(req Request, stream bool) bool {
	if c.MaxTokens > 0 && req.MaxTokens > c.MaxTokens {
		return false
	}
	if stream && !c.Streaming {
		return false
	}
	return true
}

// Backend is an adapter around one external LLM endpoint.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: Generate and GenerateStream must honor cancellation and
//     deadlines.
//   - Errors: any failure (transport, non-2xx, malformed payload) is returned
//     as an error; the dispatcher treats them all as backend failures.
type Backend interface {
	// Name is the unique registry key.
	Name() string

	// Capabilities describes the limits of this backend.
	Capabilities() Capabilities

	// Generate runs one completion.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream opens a completion stream. The stream is finite and
	// cannot be restarted.
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}

// Pinger is implemented by backends with a cheap liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a completion.
type Response struct {
	Content      string        `json:"content"`
	Usage        Usage         `json:"usage"`
	FinishReason string        `json:"finish_reason"`
	Backend      string        `json:"backend"`
	Latency      time.Duration `json:"latency"`
	RequestID    string        `json:"request_id"`

	// Degraded marks a response produced by a healing fallback rather than
	// a model.
	Degraded bool `json:"degraded,omitempty"`
}

// Chunk is one piece of a streamed completion.
type Chunk struct {
	Content      string
	FinishReason string
}

// Stream yields completion chunks. Recv returns io.EOF after the last chunk.
// Close releases the underlying connection and may be called at any time.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// SliceStream is a Stream over a fixed list of chunks.
type SliceStream struct {
	chunks []Chunk
	pos    int
	closed bool
}

// NewSliceStream returns a Stream that yields chunks in order.
func NewSliceStream(chunks ...Chunk) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// Recv returns the next chunk or io.EOF.
func (s *SliceStream) Recv() (Chunk, error) {
	if s.closed || s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// Close stops the stream.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Collect drains a stream into a single Response. The stream is closed.
func Collect(s Stream) (*Response, error) {
	defer s.Close()

	var (
		content []byte
		finish  string
	)
	for {
		c, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		content = append(content, c.Content...)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	return &Response{Content: string(content), FinishReason: finish}, nil
}
