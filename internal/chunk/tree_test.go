package chunk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journal-graph-kernel/internal/domain"
)

func TestSplitSentences(t *testing.T) {
	text := "First sentence. Second one! Third?\n\nNew paragraph without terminator"
	spans := SplitSentences(text)
	require.Len(t, spans, 4)
	assert.Equal(t, "First sentence.", spans[0].Text)
	assert.Equal(t, "Second one!", spans[1].Text)
	assert.Equal(t, "Third?", spans[2].Text)
	assert.Equal(t, "New paragraph without terminator", spans[3].Text)
	for _, s := range spans {
		assert.Equal(t, text[s.Start:s.End], s.Text)
	}
}

func TestSplitSentencesTerminatorRuns(t *testing.T) {
	spans := SplitSentences("Really... Are you sure?! Yes.")
	require.Len(t, spans, 3)
	assert.Equal(t, "Really...", spans[0].Text)
	assert.Equal(t, "Are you sure?!", spans[1].Text)
	assert.Equal(t, "Yes.", spans[2].Text)
}

func TestBuildTreeStructure(t *testing.T) {
	journalUUID := uuid.New()
	text := "One. Two. Three. Four. Five."
	tree := Build(journalUUID, text)
	require.NotNil(t, tree)

	leaves := tree.Leaves()
	require.Len(t, leaves, 5)

	// Root covers the whole trimmed text.
	root := tree.Chunks[tree.Root]
	require.NotNil(t, root)
	assert.Equal(t, leaves[0].Span.Start, root.Span.Start)
	assert.Equal(t, leaves[len(leaves)-1].Span.End, root.Span.End)

	// Every non-root chunk has a parent that lists it as a child.
	for _, c := range tree.Chunks {
		if c.UUID == tree.Root {
			continue
		}
		parent, ok := tree.Chunks[c.ParentUUID]
		require.True(t, ok, "chunk %s has no parent", c.UUID)
		assert.Contains(t, parent.ChildUUIDs, c.UUID)
	}

	// Siblings at the leaf level chain in source order.
	for i := 0; i+1 < len(leaves); i++ {
		assert.Equal(t, leaves[i+1].UUID, leaves[i].NextSibling)
	}
}

func TestBuildSingleSentence(t *testing.T) {
	tree := Build(uuid.New(), "Just one sentence.")
	require.NotNil(t, tree)
	require.Len(t, tree.Chunks, 1)
	leaf := tree.Chunks[tree.Root]
	assert.True(t, leaf.IsLeaf())
	assert.Equal(t, "Just one sentence.", leaf.Span.Text)
}

func TestBuildEmptyNarration(t *testing.T) {
	assert.Nil(t, Build(uuid.New(), "   \n\n  "))
}

func TestContainingLeaves(t *testing.T) {
	text := "Alpha beta. Gamma delta. Epsilon zeta."
	tree := Build(uuid.New(), text)
	require.NotNil(t, tree)

	// A span inside the second sentence maps to exactly that leaf.
	leaves := tree.ContainingLeaves(domain.Span{Start: 12, End: 17})
	require.Len(t, leaves, 1)
	assert.Equal(t, "Gamma delta.", leaves[0].Span.Text)

	// A span crossing a sentence boundary maps to no leaf.
	assert.Empty(t, tree.ContainingLeaves(domain.Span{Start: 6, End: 17}))
}
