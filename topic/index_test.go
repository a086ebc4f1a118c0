package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_SubscribeCreatesEntry(t *testing.T) {
	idx := NewIndex()
	added, err := idx.Subscribe(1, "foo")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, idx.PatternCount())
	assert.True(t, idx.HasSubscriber("foo", 1))
}

func TestIndex_DuplicateSubscribeIsNoOp(t *testing.T) {
	idx := NewIndex()
	_, err := idx.Subscribe(1, "foo")
	require.NoError(t, err)

	added, err := idx.Subscribe(1, "foo")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestIndex_UnsubscribeCollapsesEmptyEntry(t *testing.T) {
	idx := NewIndex()
	_, _ = idx.Subscribe(1, "foo")

	removed := idx.Unsubscribe(1, "foo")
	assert.True(t, removed)
	assert.Equal(t, 0, idx.PatternCount())
}

func TestIndex_UnsubscribeUnknownPatternIsFalse(t *testing.T) {
	idx := NewIndex()
	assert.False(t, idx.Unsubscribe(1, "never-subscribed"))
}

func TestIndex_MatchReturnsSubscribersInInsertionOrder(t *testing.T) {
	idx := NewIndex()
	_, _ = idx.Subscribe(1, ".")
	_, _ = idx.Subscribe(2, ".")
	_, _ = idx.Subscribe(3, ".")

	matches := idx.Match("topic")
	assert.Equal(t, []uint64{1, 2, 3}, matches)
}

func TestIndex_MatchOnlyReturnsMatchingPatterns(t *testing.T) {
	idx := NewIndex()
	_, _ = idx.Subscribe(1, "foo")
	_, _ = idx.Subscribe(2, "bar")

	assert.Equal(t, []uint64{1}, idx.Match("foobaz"))
	assert.Equal(t, []uint64{2}, idx.Match("barbaz"))
}

func TestIndex_SubscribePropagatesCompileError(t *testing.T) {
	idx := NewIndex()
	_, err := idx.Subscribe(1, "(unterminated")
	require.ErrorIs(t, err, ErrInvalidPattern)
	assert.Equal(t, 0, idx.PatternCount())
}

func TestIndex_RemoveOneOfMultipleSubscribersKeepsEntry(t *testing.T) {
	idx := NewIndex()
	_, _ = idx.Subscribe(1, ".")
	_, _ = idx.Subscribe(2, ".")

	assert.True(t, idx.Unsubscribe(1, "."))
	assert.Equal(t, 1, idx.PatternCount())
	assert.Equal(t, []uint64{2}, idx.Match("x"))
}

func TestIndex_UnsubscribeMiddlePreservesRemainingOrder(t *testing.T) {
	idx := NewIndex()
	_, _ = idx.Subscribe(1, ".")
	_, _ = idx.Subscribe(2, ".")
	_, _ = idx.Subscribe(3, ".")
	_, _ = idx.Subscribe(4, ".")

	assert.True(t, idx.Unsubscribe(2, "."))

	// A swap-with-tail removal would yield [1, 4, 3]; spec.md §4.3 requires
	// the surviving subscribers keep their original insertion order.
	assert.Equal(t, []uint64{1, 3, 4}, idx.Match("topic"))

	assert.True(t, idx.Unsubscribe(1, "."))
	assert.Equal(t, []uint64{3, 4}, idx.Match("topic"))
}
