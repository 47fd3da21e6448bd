package healing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/gateway"
	"github.com/jonwraymond/llmops/resilience"
)

// Context describes where a failure happened.
type Context struct {
	// Component keys the healing circuit breaker and scopes signatures.
	Component string
	Operation string
	// Request is the request that failed. Executors derive from it.
	Request backend.Request
	// Attributes contribute their keys, not their values, to the signature.
	Attributes map[string]string
}

// Signature identifies a class of failure: "<component>:<kind>:<16 hex>".
type Signature string

// DefaultMessagePrefix is how many runes of the normalized message count
// toward a signature.
const DefaultMessagePrefix = 100

// taxonomy is checked in order. An exhausted pass wraps the last skip
// reason, so it is matched before the refusals it may carry.
var taxonomy = []struct {
	err  error
	kind string
}{
	{gateway.ErrCallerRateLimited, "caller_rate_limited"},
	{gateway.ErrAllBackendsExhausted, "all_backends_exhausted"},
	{resilience.ErrRequestTooLarge, "request_too_large"},
	{resilience.ErrRateLimitExceeded, "rate_limit_exceeded"},
	{resilience.ErrCircuitOpen, "circuit_open"},
	{resilience.ErrCircuitHalfOpenBusy, "circuit_half_open_busy"},
	{gateway.ErrDeadlineExceeded, "deadline_exceeded"},
	{context.DeadlineExceeded, "deadline_exceeded"},
	{context.Canceled, "canceled"},
	{ErrHealingFailed, "healing_failed"},
}

var (
	uuidPattern  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	hexPattern   = regexp.MustCompile(`(?i)\b(?:0x[0-9a-f]+|[0-9a-f]*[0-9][0-9a-f]*[a-f][0-9a-f]*|[0-9a-f]*[a-f][0-9a-f]*[0-9][0-9a-f]*)\b`)
	digitPattern = regexp.MustCompile(`\d+`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// Classifier derives signatures from errors.
//
// Contract:
//   - Determinism: the same kind of failure in the same component yields the
//     same signature, regardless of request IDs, numbers or hex identifiers in
//     the message.
//   - Concurrency: safe for concurrent use.
type Classifier struct {
	messagePrefix int
}

// NewClassifier creates a classifier. A non-positive prefix uses
// DefaultMessagePrefix.
func NewClassifier(messagePrefix int) *Classifier {
	if messagePrefix <= 0 {
		messagePrefix = DefaultMessagePrefix
	}
	return &Classifier{messagePrefix: messagePrefix}
}

// Signature computes the signature of err in hctx.
func (c *Classifier) Signature(err error, hctx Context) Signature {
	kind := Kind(err)
	msg := ""
	if err != nil {
		msg = c.normalize(err.Error())
	}

	keys := make([]string, 0, len(hctx.Attributes))
	for k := range hctx.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	component := hctx.Component
	if component == "" {
		component = "unknown"
	}

	h := sha256.New()
	for _, part := range []string{kind, msg, component, strings.Join(keys, ",")} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	sum := hex.EncodeToString(h.Sum(nil))[:16]
	return Signature(component + ":" + kind + ":" + sum)
}

// Kind names the failure class of err: the taxonomy name for known errors,
// "backend_error" for a bare backend failure, else the dynamic type of the
// innermost wrapped error.
func Kind(err error) string {
	if err == nil {
		return "none"
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.kind
		}
	}
	var be *gateway.BackendError
	if errors.As(err, &be) {
		return "backend_error"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

func (c *Classifier) normalize(msg string) string {
	msg = uuidPattern.ReplaceAllString(msg, "<uuid>")
	msg = hexPattern.ReplaceAllString(msg, "<hex>")
	msg = digitPattern.ReplaceAllString(msg, "<n>")
	msg = strings.TrimSpace(spacePattern.ReplaceAllString(msg, " "))
	msg = strings.ToLower(msg)

	if r := []rune(msg); len(r) > c.messagePrefix {
		msg = string(r[:c.messagePrefix])
	}
	return msg
}
