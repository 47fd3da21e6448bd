package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/jonwraymond/llmops/backend"
)

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	Name  string
	Model string

	APIKey string

	// BaseURL overrides the API root, e.g. for a local compatible server.
	// Default: https://api.openai.com/v1
	BaseURL string

	// MaxTokens caps request size. Zero means unlimited.
	MaxTokens int

	Streaming bool

	// HTTPClient replaces the default client. Its transport may carry
	// credentials of its own.
	HTTPClient *http.Client
}

// OpenAI is a backend over the OpenAI chat completions API.
type OpenAI struct {
	name   string
	model  string
	caps   backend.Capabilities
	client *openai.Client
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Name == "" {
		return nil, ErrMissingName
	}
	if cfg.Model == "" {
		return nil, ErrMissingModel
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{
		name:  cfg.Name,
		model: cfg.Model,
		caps: backend.Capabilities{
			MaxTokens: cfg.MaxTokens,
			Streaming: cfg.Streaming,
		},
		client: openai.NewClientWithConfig(oc),
	}, nil
}

// Name implements backend.Backend.
func (o *OpenAI) Name() string { return o.name }

// Capabilities implements backend.Backend.
func (o *OpenAI) Capabilities() backend.Capabilities { return o.caps }

func (o *OpenAI) chatRequest(req backend.Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}
}

// Generate implements backend.Backend.
func (o *OpenAI) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("adapter: %s: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("adapter: %s: %w", o.name, ErrEmptyCompletion)
	}

	choice := resp.Choices[0]
	return &backend.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: backend.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Backend:   o.name,
		Latency:   time.Since(start),
		RequestID: req.ID,
	}, nil
}

// GenerateStream implements backend.Backend.
func (o *OpenAI) GenerateStream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	if !o.caps.Streaming {
		return nil, backend.ErrStreamingUnsupported
	}
	stream, err := o.client.CreateChatCompletionStream(ctx, o.chatRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("adapter: %s: %w", o.name, err)
	}
	return &openAIStream{name: o.name, stream: stream}, nil
}

// Ping lists models as a cheap authenticated round trip.
func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("adapter: %s: ping: %w", o.name, err)
	}
	return nil
}

type openAIStream struct {
	name   string
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (backend.Chunk, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return backend.Chunk{}, io.EOF
		}
		if err != nil {
			return backend.Chunk{}, fmt.Errorf("adapter: %s: stream: %w", s.name, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		return backend.Chunk{
			Content:      choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		}, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
