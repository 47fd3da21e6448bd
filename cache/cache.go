package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	ErrNilStore         = errors.New("cache: store is nil")
	ErrBadKey           = errors.New("cache: malformed key")
	ErrTemplateNotFound = errors.New("cache: template not found")
)

// maxKeyLen comfortably fits "llm:<model>:<16 hex>" for any real model name.
const maxKeyLen = 256

// Store holds encoded completions under Keyer keys.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Get reports a miss as (nil, false); it never errors.
//   - Set with a non-positive ttl stores nothing.
//   - Delete of a missing key succeeds.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// checkKey rejects keys no Keyer would produce.
func checkKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrBadKey)
	case len(key) > maxKeyLen:
		return fmt.Errorf("%w: %d bytes", ErrBadKey, len(key))
	case strings.IndexFunc(key, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		return fmt.Errorf("%w: contains whitespace", ErrBadKey)
	}
	return nil
}
