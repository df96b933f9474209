package span

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const source = "Talked with Maria about the garden. maria said the tomatoes need water. We laughed a lot."

func TestResolveExactAllOccurrences(t *testing.T) {
	r := NewResolver(source, zaptest.NewLogger(t))

	spans := r.Resolve("Maria")
	require.Len(t, spans, 2)

	// Original casing is preserved per occurrence.
	assert.Equal(t, "Maria", spans[0].Text)
	assert.Equal(t, "maria", spans[1].Text)
	assert.Equal(t, source[spans[0].Start:spans[0].End], spans[0].Text)
	assert.Equal(t, source[spans[1].Start:spans[1].End], spans[1].Text)
}

func TestResolveFuzzyPhrase(t *testing.T) {
	r := NewResolver(source, zaptest.NewLogger(t))

	// Slightly off from the source wording; multi-word, so fuzzy applies.
	spans := r.Resolve("the tomatoes needs water")
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Text, "tomatoes")
	assert.Equal(t, source[spans[0].Start:spans[0].End], spans[0].Text)
}

func TestResolveSingleWordNeverFuzzy(t *testing.T) {
	r := NewResolver(source, zaptest.NewLogger(t))

	// "tomato" is not an exact substring match of a word boundary? It is a
	// substring of "tomatoes", so exact matching finds it. Use a word that
	// only a partial match could find.
	assert.Nil(t, r.Resolve("gardens2"))
	assert.Nil(t, r.Resolve("Mariab"))
}

func TestResolveUnresolvable(t *testing.T) {
	r := NewResolver(source, zaptest.NewLogger(t))
	assert.Nil(t, r.Resolve("completely unrelated sentence about spaceships"))
	assert.Nil(t, r.Resolve("   "))
}

func TestResolveSubstringMatch(t *testing.T) {
	r := NewResolver(source, zaptest.NewLogger(t))
	spans := r.Resolve("tomatoes need water")
	require.Len(t, spans, 1)
	assert.Equal(t, "tomatoes need water", spans[0].Text)
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 100, ratio("abc", "abc"))
	assert.Equal(t, 100, ratio("", ""))
	assert.Equal(t, 0, ratio("abc", "xyz"))
	assert.Greater(t, ratio("tomatoes need water", "tomatoes needs water"), acceptScore)
}
