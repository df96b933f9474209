package entity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/journal-graph-kernel/internal/domain"
)

func openMemIndex(t *testing.T) *Index {
	t.Helper()
	// Scores in tiny indexes are low; the threshold is a production knob.
	idx, err := NewIndex(Config{InMemory: true, Threshold: 0.01}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func person(name string) *domain.Person {
	return &domain.Person{EntityCore: domain.EntityCore{
		UUID:      uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}}
}

func TestLookupFindsAddedEntity(t *testing.T) {
	idx := openMemIndex(t)
	ctx := context.Background()
	p := person("Maria")
	require.NoError(t, idx.Add(ctx, p))

	hits, err := idx.Lookup(ctx, "Maria", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, p.UUID.String(), hits[0].UUID)
	assert.Equal(t, string(domain.TypePerson), hits[0].Type)
}

func TestLookupFuzzy(t *testing.T) {
	idx := openMemIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, person("Maria")))

	hits, err := idx.Lookup(ctx, "Mara", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Maria", hits[0].Name)
}

func TestLookupExactPrefersSameType(t *testing.T) {
	idx := openMemIndex(t)
	ctx := context.Background()

	p := person("Maria")
	require.NoError(t, idx.Add(ctx, p))
	c := &domain.Concept{EntityCore: domain.EntityCore{UUID: uuid.New(), Name: "Maria"}}
	require.NoError(t, idx.Add(ctx, c))

	hit, err := idx.LookupExact(ctx, "maria", domain.TypeConcept)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, c.UUID.String(), hit.UUID)

	// No same-type match falls back to any exact name hit.
	hit, err = idx.LookupExact(ctx, "Maria", domain.TypePlace)
	require.NoError(t, err)
	require.NotNil(t, hit)

	hit, err = idx.LookupExact(ctx, "Nobody", domain.TypePerson)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestAddRefAndDelete(t *testing.T) {
	idx := openMemIndex(t)
	ctx := context.Background()
	ref := Ref{
		UUID:    uuid.NewString(),
		Name:    "Equanimity",
		Type:    string(domain.TypeConcept),
		Summary: "Evenness of mind.",
	}
	require.NoError(t, idx.AddRef(ctx, ref))

	hit, err := idx.LookupExact(ctx, "Equanimity", domain.TypeConcept)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, ref.Summary, hit.Summary)

	require.NoError(t, idx.Delete(ctx, ref.UUID))
	hit, err = idx.LookupExact(ctx, "Equanimity", domain.TypeConcept)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestAddBatch(t *testing.T) {
	idx := openMemIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddBatch(ctx, nil))
	require.NoError(t, idx.AddBatch(ctx, []domain.Entity{person("Maria"), person("Tomas")}))

	hits, err := idx.Lookup(ctx, "Tomas", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}
