package writeback

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/entity"
	"github.com/journal-graph-kernel/internal/pipeline"
	"github.com/journal-graph-kernel/internal/vault"
)

func memNames(t *testing.T) *entity.Index {
	t.Helper()
	idx, err := entity.NewIndex(entity.Config{InMemory: true, Threshold: 0.01}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func committedSet() (*domain.Concept, *domain.Concept, *pipeline.Committed) {
	now := time.Now().UTC()
	c1 := &domain.Concept{EntityCore: domain.EntityCore{
		UUID: uuid.New(), Name: "Stoicism", SummaryShort: "A practice.", CreatedAt: now,
	}}
	c2 := &domain.Concept{EntityCore: domain.EntityCore{
		UUID: uuid.New(), Name: "Equanimity", CreatedAt: now,
	}}
	rel := domain.ConceptRelation{
		UUID:         uuid.New(),
		EdgeUUID:     uuid.New(),
		SourceUUID:   c1.UUID,
		TargetUUID:   c2.UUID,
		RelationType: domain.Supports,
	}
	return c1, c2, &pipeline.Committed{
		Entities:         []domain.Entity{c1, c2},
		ConceptRelations: []domain.ConceptRelation{rel},
	}
}

func TestOnCommitUpdatesNameIndexWithoutVault(t *testing.T) {
	names := memNames(t)
	_, _, committed := committedSet()

	p := NewProjector(nil, names, zaptest.NewLogger(t))
	p.OnCommit(context.Background(), committed)

	hit, err := names.LookupExact(context.Background(), "Stoicism", domain.TypeConcept)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, committed.Entities[0].Core().UUID.String(), hit.UUID)
}

func TestOnCommitProjectsFrontmatter(t *testing.T) {
	root := t.TempDir()
	notePath := filepath.Join(root, "Stoicism.md")
	require.NoError(t, os.WriteFile(notePath, []byte("A note on the practice.\n"), 0o644))

	vaultIdx, err := vault.NewIndex(root, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer vaultIdx.Close()

	names := memNames(t)
	c1, _, committed := committedSet()

	p := NewProjector(vaultIdx, names, zaptest.NewLogger(t))
	p.OnCommit(context.Background(), committed)

	raw, err := os.ReadFile(notePath)
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "entity_id: "+c1.UUID.String())
	assert.Contains(t, content, "entity_type: Concept")
	assert.Contains(t, content, "summary: A practice.")
	// The committed relation lands as a frontmatter concept relation with the
	// target resolved to its name.
	assert.Contains(t, content, "type: SUPPORTS")
	assert.Contains(t, content, "target: Equanimity")
	// Entities without a matching note are skipped silently.
	_, err = os.Stat(filepath.Join(root, "Equanimity.md"))
	assert.True(t, os.IsNotExist(err))
}
