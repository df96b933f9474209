package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/journal-graph-kernel/internal/domain"
)

func writeNote(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openTestIndex(t *testing.T) (*Index, string) {
	t.Helper()
	root := t.TempDir()
	idx, err := NewIndex(root, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx, root
}

func TestResolveByName(t *testing.T) {
	idx, root := openTestIndex(t)
	writeNote(t, root, "People/Maria.md", "A friend.\n")

	note, ok, err := idx.Resolve(context.Background(), domain.WikiLink{Name: "Maria"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Maria", note.Name)
	assert.Equal(t, "People/Maria", note.RelPath)
	assert.Equal(t, "A friend.\n", note.Body)

	// Case insensitive.
	_, ok, err = idx.Resolve(context.Background(), domain.WikiLink{Name: "maria"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveByPath(t *testing.T) {
	idx, root := openTestIndex(t)
	writeNote(t, root, "People/Maria.md", "The person.\n")
	writeNote(t, root, "Plants/Maria.md", "A rose cultivar.\n")

	note, ok, err := idx.Resolve(context.Background(), domain.WikiLink{Name: "Plants/Maria"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A rose cultivar.\n", note.Body)
}

func TestResolveMiss(t *testing.T) {
	idx, root := openTestIndex(t)
	writeNote(t, root, "Garden.md", "Notes.\n")

	_, ok, err := idx.Resolve(context.Background(), domain.WikiLink{Name: "Nobody"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveRescanPicksUpNewNote(t *testing.T) {
	idx, root := openTestIndex(t)
	writeNote(t, root, "Garden.md", "Notes.\n")

	_, ok, err := idx.Resolve(context.Background(), domain.WikiLink{Name: "Garden"})
	require.NoError(t, err)
	require.True(t, ok)

	// Added after the first scan; the miss-triggered rescan finds it even if
	// the watcher event has not landed yet.
	writeNote(t, root, "Stoicism.md", "A practice.\n")
	_, ok, err = idx.Resolve(context.Background(), domain.WikiLink{Name: "Stoicism"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNotesWalksInPathOrder(t *testing.T) {
	idx, root := openTestIndex(t)
	writeNote(t, root, "b.md", "two\n")
	writeNote(t, root, "a.md", "one\n")
	writeNote(t, root, "sub/c.md", "three\n")
	writeNote(t, root, "ignored.txt", "not a note\n")

	notes, err := idx.Notes(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, "a", notes[0].Name)
	assert.Equal(t, "b", notes[1].Name)
	assert.Equal(t, "c", notes[2].Name)
}

func TestParseFrontmatter(t *testing.T) {
	raw := []byte(`---
entity_id: abc-123
entity_type: Concept
aliases:
  - stoic philosophy
summary: A practice of focusing on what you control.
concept_relations:
  - type: SUPPORTS
    target: Equanimity
custom_key: kept
---
The body starts here.
`)
	fm, body, err := parseFrontmatter(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", fm.EntityID)
	assert.Equal(t, "Concept", fm.EntityType)
	assert.Equal(t, []string{"stoic philosophy"}, fm.Aliases)
	require.Len(t, fm.ConceptRelations, 1)
	assert.Equal(t, "SUPPORTS", fm.ConceptRelations[0].Type)
	assert.Equal(t, "kept", fm.Extra["custom_key"])
	assert.Equal(t, "The body starts here.\n", body)
}

func TestParseFrontmatterAbsent(t *testing.T) {
	fm, body, err := parseFrontmatter([]byte("Just text.\n"))
	require.NoError(t, err)
	assert.Empty(t, fm.EntityID)
	assert.Equal(t, "Just text.\n", body)
}

func TestParseFrontmatterUnterminated(t *testing.T) {
	raw := "---\nentity_id: x\nno closing delimiter\n"
	fm, body, err := parseFrontmatter([]byte(raw))
	require.NoError(t, err)
	assert.Empty(t, fm.EntityID)
	assert.Equal(t, raw, body)
}

func TestWriteFrontmatterMergesAndPreservesExtras(t *testing.T) {
	idx, root := openTestIndex(t)
	path := writeNote(t, root, "Stoicism.md", `---
aliases:
  - stoic philosophy
custom_key: kept
---
Body text.
`)

	id := "uuid-1"
	typ := "Concept"
	summary := "A practice."
	require.NoError(t, idx.WriteFrontmatter(path, Update{
		EntityID:   &id,
		EntityType: &typ,
		Summary:    &summary,
		ConceptRelations: []ConceptRelation{
			{Type: "SUPPORTS", Target: "Equanimity"},
			{Type: "SUPPORTS", Target: "Equanimity"},
		},
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	fm, body, err := parseFrontmatter(raw)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", fm.EntityID)
	assert.Equal(t, "Concept", fm.EntityType)
	assert.Equal(t, "A practice.", fm.Summary)
	// Untouched fields and unknown keys survive.
	assert.Equal(t, []string{"stoic philosophy"}, fm.Aliases)
	assert.Equal(t, "kept", fm.Extra["custom_key"])
	// Duplicate relations collapse.
	assert.Len(t, fm.ConceptRelations, 1)
	assert.Equal(t, "Body text.\n", strings.TrimPrefix(body, "\n"))
}

func TestWriteFrontmatterIdempotent(t *testing.T) {
	idx, root := openTestIndex(t)
	path := writeNote(t, root, "Maria.md", "The person.\n")

	id := "uuid-2"
	typ := "Person"
	update := Update{EntityID: &id, EntityType: &typ}
	require.NoError(t, idx.WriteFrontmatter(path, update))

	first, err := os.ReadFile(path)
	require.NoError(t, err)
	info1, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, idx.WriteFrontmatter(path, update))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	info2, err := os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestNewIndexRejectsMissingDir(t *testing.T) {
	_, err := NewIndex(filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t))
	require.Error(t, err)
}
