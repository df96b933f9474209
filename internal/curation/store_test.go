package curation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/errkind"
	"github.com/journal-graph-kernel/internal/jsonx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "curation.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testItems() []domain.CurationItem {
	return []domain.CurationItem{
		{ID: "item-a", Kind: domain.KindEntity, Payload: jsonx.RawMessage(`{"n":1}`)},
		{ID: "item-b", Kind: domain.KindEntity, Payload: jsonx.RawMessage(`{"n":2}`)},
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "j1", domain.PhaseEntity, testItems()))
	require.NoError(t, store.Enqueue(ctx, "j1", domain.PhaseEntity, testItems()))

	n, err := store.PendingCount(ctx, "j1", domain.PhaseEntity)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDecideTransitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "j1", domain.PhaseEntity, testItems()))

	require.NoError(t, store.Decide(ctx, "j1", "item-a", domain.DecisionApprove, nil))
	require.NoError(t, store.Decide(ctx, "j1", "item-b", domain.DecisionEdit, jsonx.RawMessage(`{"n":99}`)))

	n, err := store.PendingCount(ctx, "j1", domain.PhaseEntity)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	approved, err := store.Approved(ctx, "j1", domain.PhaseEntity)
	require.NoError(t, err)
	require.Len(t, approved, 2)
	assert.Equal(t, domain.StatusApproved, approved[0].Status)
	assert.Equal(t, domain.StatusEdited, approved[1].Status)
	// Edited items surface the curated payload.
	assert.Equal(t, jsonx.RawMessage(`{"n":99}`), approved[1].EffectivePayload())
	assert.Equal(t, jsonx.RawMessage(`{"n":1}`), approved[0].EffectivePayload())
	require.NotNil(t, approved[0].DecidedAt)
}

func TestDecidedItemsAreImmutable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "j1", domain.PhaseEntity, testItems()))
	require.NoError(t, store.Decide(ctx, "j1", "item-a", domain.DecisionReject, nil))

	err := store.Decide(ctx, "j1", "item-a", domain.DecisionApprove, nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Consistency, errkind.KindOf(err))
}

func TestDecideUnknownItem(t *testing.T) {
	store := openTestStore(t)
	err := store.Decide(context.Background(), "j1", "nope", domain.DecisionApprove, nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Consistency, errkind.KindOf(err))
}

func TestEditRequiresPayload(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "j1", domain.PhaseEntity, testItems()))

	err := store.Decide(ctx, "j1", "item-a", domain.DecisionEdit, nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Consistency, errkind.KindOf(err))
}

func TestRejectedItemsExcludedFromApproved(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "j1", domain.PhaseEntity, testItems()))
	require.NoError(t, store.Decide(ctx, "j1", "item-a", domain.DecisionApprove, nil))
	require.NoError(t, store.Decide(ctx, "j1", "item-b", domain.DecisionReject, nil))

	approved, err := store.Approved(ctx, "j1", domain.PhaseEntity)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "item-a", approved[0].ID)
}

func TestMarkPhaseCompleteGate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "j1", domain.PhaseEntity, testItems()))

	// Pending items block completion.
	err := store.MarkPhaseComplete(ctx, "j1", domain.PhaseEntity)
	require.Error(t, err)
	assert.Equal(t, errkind.Consistency, errkind.KindOf(err))

	require.NoError(t, store.Decide(ctx, "j1", "item-a", domain.DecisionApprove, nil))
	require.NoError(t, store.Decide(ctx, "j1", "item-b", domain.DecisionReject, nil))
	require.NoError(t, store.MarkPhaseComplete(ctx, "j1", domain.PhaseEntity))
	// Marking again is a no-op.
	require.NoError(t, store.MarkPhaseComplete(ctx, "j1", domain.PhaseEntity))

	done, err := store.PhaseComplete(ctx, "j1", domain.PhaseEntity)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = store.PhaseComplete(ctx, "j1", domain.PhaseRelation)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, found, err := store.LoadCheckpoint(ctx, "journal:x")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveCheckpoint(ctx, "journal:x", "SUBMITTED", []byte(`{"v":1}`)))
	require.NoError(t, store.SaveCheckpoint(ctx, "journal:x", "ENTITY_PROCESSING", []byte(`{"v":2}`)))

	state, found, err := store.LoadCheckpoint(ctx, "journal:x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte(`{"v":2}`), state)
}

func TestUnfinishedWorkflows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, "journal:a", "DB_WRITE", []byte(`{}`)))
	require.NoError(t, store.SaveCheckpoint(ctx, "journal:b", "COMPLETED", []byte(`{}`)))
	require.NoError(t, store.SaveCheckpoint(ctx, "journal:c", "FAILED", []byte(`{}`)))
	require.NoError(t, store.SaveCheckpoint(ctx, "journal:d", "WAIT_ENTITY_CURATION", []byte(`{}`)))

	ids, err := store.UnfinishedWorkflows(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"journal:a", "journal:d"}, ids)
}
