package topic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePattern_RejectsOverlong(t *testing.T) {
	raw := strings.Repeat("a", MaxPatternLength+1)
	_, err := CompilePattern(raw)
	require.ErrorIs(t, err, ErrPatternTooLong)
}

func TestCompilePattern_RejectsInvalidRegex(t *testing.T) {
	_, err := CompilePattern("(unterminated")
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestPattern_AnchorAtStart(t *testing.T) {
	p, err := CompilePattern(".")
	require.NoError(t, err)
	assert.True(t, p.Matches("anything"))
	assert.True(t, p.Matches(""+"x"))
}

func TestPattern_LiteralPrefix(t *testing.T) {
	p, err := CompilePattern("foo")
	require.NoError(t, err)
	assert.True(t, p.Matches("foo"))
	assert.True(t, p.Matches("foobar"))
	assert.False(t, p.Matches("barfoo"))
}

func TestPattern_MatchMustStartAtZero(t *testing.T) {
	p, err := CompilePattern("bar")
	require.NoError(t, err)
	assert.False(t, p.Matches("foobar"))
}

func TestPattern_EmptyPatternMatchesEverythingAtStart(t *testing.T) {
	p, err := CompilePattern("")
	require.NoError(t, err)
	assert.True(t, p.Matches("anything"))
	assert.True(t, p.Matches(""))
}
