package runner

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/google/uuid"
)

// MaxQueryLength is the largest accepted query, in characters.
const MaxQueryLength = 2000

// DefaultMaxInputBytes bounds the raw query before it is cleaned: room for
// MaxQueryLength characters of four bytes each.
const DefaultMaxInputBytes = 4 * MaxQueryLength

var (
	// ErrInvalidRequest matches every request validation failure.
	ErrInvalidRequest = errors.New("invalid request")

	ErrEmptyQuery      = fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	ErrQueryTooLong    = fmt.Errorf("%w: query exceeds %d characters", ErrInvalidRequest, MaxQueryLength)
	ErrInputTooLarge   = fmt.Errorf("%w: query exceeds the input size limit", ErrInvalidRequest)
	ErrInvalidUTF8     = fmt.Errorf("%w: query is not valid UTF-8", ErrInvalidRequest)
	ErrInvalidMaxSteps = fmt.Errorf("%w: max_steps must be between 1 and %d", ErrInvalidRequest, domain.MaxStepsLimit)
)

// Limits bound what Normalize accepts. Zero fields take their defaults.
type Limits struct {
	DefaultMaxSteps int
	MaxInputBytes   int
}

func (l Limits) withDefaults() Limits {
	if l.DefaultMaxSteps <= 0 {
		l.DefaultMaxSteps = domain.DefaultMaxSteps
	}
	if l.MaxInputBytes <= 0 {
		l.MaxInputBytes = DefaultMaxInputBytes
	}
	return l
}

// Normalize validates req and fills defaults.
//
// The raw query must fit in MaxInputBytes and be valid UTF-8. Control
// characters other than newline, tab and carriage return are dropped before
// the query is trimmed and measured in characters. A zero MaxSteps takes the
// default budget; a missing session key gets a new one.
func Normalize(req domain.Request, limits Limits) (domain.Request, error) {
	limits = limits.withDefaults()

	if len(req.Query) > limits.MaxInputBytes {
		return req, fmt.Errorf("%w: %d bytes, limit %d", ErrInputTooLarge, len(req.Query), limits.MaxInputBytes)
	}
	if !utf8.ValidString(req.Query) {
		return req, ErrInvalidUTF8
	}
	query := strings.TrimSpace(stripControl(req.Query))
	if query == "" {
		return req, ErrEmptyQuery
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return req, ErrQueryTooLong
	}
	req.Query = query

	switch {
	case req.MaxSteps == 0:
		req.MaxSteps = limits.DefaultMaxSteps
	case req.MaxSteps < 0, req.MaxSteps > domain.MaxStepsLimit:
		return req, ErrInvalidMaxSteps
	}

	req.SessionKey = strings.TrimSpace(req.SessionKey)
	if req.SessionKey == "" {
		req.SessionKey = uuid.NewString()
	}
	return req, nil
}

// stripControl drops control characters that would reach terminals, logs and
// prompts unescaped.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
