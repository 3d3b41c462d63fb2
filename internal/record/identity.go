package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidIdentity is returned for identities that are missing,
// non-numeric, or not positive.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the numeric identifier of the requesting individual.
type Identity int64

func (i Identity) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// Valid reports whether the identity is a positive integer.
func (i Identity) Valid() bool {
	return i > 0
}

// NormalizeIdentity renders a raw field value as a canonical string.
//
// Numbers without a fractional part render as plain integers (a JSON float64
// of 1e9 becomes "1000000000"). Strings are NFKC-normalized, so full-width
// digits compare equal to ASCII digits, and trimmed. Nil renders as "".
func NormalizeIdentity(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(norm.NFKC.String(t))
	case json.Number:
		return NormalizeIdentity(string(t))
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return NormalizeIdentity(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case Identity:
		return t.String()
	default:
		return strings.TrimSpace(norm.NFKC.String(fmt.Sprint(t)))
	}
}

// ParseIdentity normalizes v and parses it as a positive integer identity.
func ParseIdentity(v any) (Identity, error) {
	s := NormalizeIdentity(v)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidIdentity, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d is not positive", ErrInvalidIdentity, n)
	}
	return Identity(n), nil
}

// NormalizeHandle strips a leading "@" and surrounding whitespace from a
// handle and applies NFKC normalization.
func NormalizeHandle(h string) string {
	h = strings.TrimSpace(norm.NFKC.String(h))
	return strings.TrimPrefix(h, "@")
}
