package runner_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/runner"
)

func TestNormalize_Defaults(t *testing.T) {
	req, err := runner.Normalize(domain.Request{Query: " hi\x07 "}, runner.Limits{DefaultMaxSteps: 7})
	require.NoError(t, err)
	assert.Equal(t, "hi", req.Query)
	assert.Equal(t, 7, req.MaxSteps)
	assert.NotEmpty(t, req.SessionKey)

	req, err = runner.Normalize(domain.Request{Query: "hi", SessionKey: "  s1 "}, runner.Limits{})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMaxSteps, req.MaxSteps)
	assert.Equal(t, "s1", req.SessionKey)
}

func TestNormalize_StripsControlCharacters(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"Plain", "where is the policy?", "where is the policy?"},
		{"Line Breaks And Tabs Kept", "line one\nline two\tindented\r\n", "line one\nline two\tindented"},
		{"Escape Sequence", "\x1b[31mred\x1b[0m alert", "[31mred[0m alert"},
		{"Null And Bell", "a\x00b\x07c", "abc"},
		{"C1 Control", "next\u0085line", "nextline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := runner.Normalize(domain.Request{Query: tt.query}, runner.Limits{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Query)
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		req    domain.Request
		limits runner.Limits
		want   error
	}{
		{"Only Control Characters", domain.Request{Query: "\x00\x1b\x07"}, runner.Limits{}, runner.ErrEmptyQuery},
		{"Invalid UTF-8", domain.Request{Query: "bad \xff\xfe bytes"}, runner.Limits{}, runner.ErrInvalidUTF8},
		{"Over Byte Limit", domain.Request{Query: strings.Repeat("a", 11)}, runner.Limits{MaxInputBytes: 10}, runner.ErrInputTooLarge},
		{"Over Default Byte Limit", domain.Request{Query: strings.Repeat("é", runner.DefaultMaxInputBytes/2+1)}, runner.Limits{}, runner.ErrInputTooLarge},
		{"Too Many Characters", domain.Request{Query: strings.Repeat("é", runner.MaxQueryLength+1)}, runner.Limits{}, runner.ErrQueryTooLong},
		{"Negative Steps", domain.Request{Query: "q", MaxSteps: -3}, runner.Limits{}, runner.ErrInvalidMaxSteps},
		{"Steps Above Limit", domain.Request{Query: "q", MaxSteps: domain.MaxStepsLimit + 1}, runner.Limits{}, runner.ErrInvalidMaxSteps},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Normalize(tt.req, tt.limits)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, runner.ErrInvalidRequest)
		})
	}
}

func TestNormalize_LimitsCountDifferentUnits(t *testing.T) {
	// 2000 three-byte characters: within the character bound, over a 4000-byte limit.
	query := strings.Repeat("€", runner.MaxQueryLength)

	_, err := runner.Normalize(domain.Request{Query: query}, runner.Limits{})
	require.NoError(t, err)

	_, err = runner.Normalize(domain.Request{Query: query}, runner.Limits{MaxInputBytes: 4000})
	assert.ErrorIs(t, err, runner.ErrInputTooLarge)
}

func TestNormalize_ByteLimitAppliesBeforeCleaning(t *testing.T) {
	// Control characters count toward the raw size even though they are dropped.
	query := "ok" + strings.Repeat("\x00", 9)

	_, err := runner.Normalize(domain.Request{Query: query}, runner.Limits{MaxInputBytes: 10})
	assert.ErrorIs(t, err, runner.ErrInputTooLarge)

	req, err := runner.Normalize(domain.Request{Query: query}, runner.Limits{MaxInputBytes: 11})
	require.NoError(t, err)
	assert.Equal(t, "ok", req.Query)
}
