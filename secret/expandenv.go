package secret

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// ExpandEnvStrict expands environment references in s with os.LookupEnv.
// See Expand.
func ExpandEnvStrict(s string) (string, error) {
	return Expand(s, os.LookupEnv)
}

// Expand replaces variable references in s using lookup:
//
//	$NAME, ${NAME}     value of NAME; unset is an error
//	${NAME:-fallback}  value of NAME, or fallback when unset or empty
//	$$                 a literal $
//
// A $ not starting a reference is kept as is. The error wraps ErrMissingEnv
// and names every unset variable once, sorted.
func Expand(s string, lookup func(string) (string, bool)) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var (
		b       strings.Builder
		missing []string
	)
	for i := 0; i < len(s); {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}

		switch next := s[i+1]; {
		case next == '$':
			b.WriteByte('$')
			i += 2

		case next == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteString(s[i:])
				i = len(s)
				continue
			}
			body := s[i+2 : i+2+end]
			name, fallback, hasFallback := strings.Cut(body, ":-")
			if !isName(name) {
				b.WriteString(s[i : i+3+end])
			} else if v, ok := lookup(name); ok && (v != "" || !hasFallback) {
				b.WriteString(v)
			} else if hasFallback {
				b.WriteString(fallback)
			} else {
				missing = append(missing, name)
			}
			i += 3 + end

		case isNameStart(next):
			j := i + 2
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			if v, ok := lookup(name); ok {
				b.WriteString(v)
			} else {
				missing = append(missing, name)
			}
			i = j

		default:
			b.WriteByte('$')
			i++
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(slices.Compact(missing), ", "))
	}
	return b.String(), nil
}

func isNameStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || ('0' <= c && c <= '9')
}

func isName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}
