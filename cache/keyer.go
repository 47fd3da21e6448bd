package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonwraymond/llmops/backend"
)

// Keyer derives deterministic cache keys from requests.
//
// Contract:
//   - Determinism: requests that differ only in ID, parent, caller or
//     exclusions map to the same key.
//   - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(req backend.Request) (string, error)
}

// DefaultKeyer keys requests as "llm:<model>:<16 hex>", the hex being a
// truncated SHA-256 of the fields that shape the completion. An unset model
// is written "any".
type DefaultKeyer struct{}

// NewDefaultKeyer returns a DefaultKeyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// keyedFields is what a completion depends on. encoding/json writes map keys
// in sorted order, so the encoding is canonical.
type keyedFields struct {
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	Model       string            `json:"model,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Key implements Keyer.
func (*DefaultKeyer) Key(req backend.Request) (string, error) {
	b, err := json.Marshal(keyedFields{
		Prompt:      req.Prompt,
		System:      req.System,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("cache: encode request: %w", err)
	}
	sum := sha256.Sum256(b)

	model := strings.Join(strings.Fields(req.Model), "_")
	if model == "" {
		model = "any"
	}
	return "llm:" + model + ":" + hex.EncodeToString(sum[:8]), nil
}

var _ Keyer = (*DefaultKeyer)(nil)
