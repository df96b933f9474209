package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageProgression(t *testing.T) {
	order := []Stage{
		StageSubmitted,
		StageEntityProcessing,
		StageSubmitEntityCuration,
		StageWaitEntityCuration,
		StageRelationProcessing,
		StageSubmitRelationCuration,
		StageWaitRelationCuration,
		StageDBWrite,
		StageCompleted,
	}
	for i := 0; i < len(order)-1; i++ {
		assert.Equal(t, order[i+1], order[i].Next(), string(order[i]))
		assert.False(t, order[i].Terminal(), string(order[i]))
	}
	for _, s := range []Stage{StageCompleted, StageFailed, StageCancelled} {
		assert.True(t, s.Terminal(), string(s))
		assert.Equal(t, s, s.Next(), string(s))
	}
}

func TestConceptRelationTypeAlgebra(t *testing.T) {
	pairs := map[ConceptRelationType]ConceptRelationType{
		Generalizes: SpecificOf,
		PartOf:      HasPart,
		Supports:    SupportedBy,
	}
	for forward, backward := range pairs {
		inv, ok := forward.Inverse()
		require.True(t, ok)
		assert.Equal(t, backward, inv)
		assert.False(t, forward.Symmetric(), string(forward))

		back, ok := inv.Inverse()
		require.True(t, ok)
		assert.Equal(t, forward, back)
	}

	for _, sym := range []ConceptRelationType{Opposes, SimilarTo, RelatesTo} {
		inv, ok := sym.Inverse()
		require.True(t, ok)
		assert.Equal(t, sym, inv)
		assert.True(t, sym.Symmetric(), string(sym))
	}

	assert.False(t, ValidConceptRelationType("FROBNICATES"))
	_, ok := ConceptRelationType("FROBNICATES").Inverse()
	assert.False(t, ok)
}

func TestReify(t *testing.T) {
	now := time.Now().UTC()
	p := ProposedRelation{
		UUID:          uuid.New(),
		SourceUUID:    uuid.New(),
		TargetUUID:    uuid.New(),
		ProposedTypes: []string{"DISCUSSED", "MENTIONED"},
		SummaryShort:  "talked about it",
	}
	rel := p.Reify(now)
	assert.Equal(t, p.UUID, rel.UUID)
	assert.Equal(t, "DISCUSSED", rel.RelationType)
	assert.Equal(t, now, rel.CreatedAt)
	assert.NotEqual(t, uuid.Nil, rel.EdgeUUID)

	// No proposed types falls back to the generic edge type.
	bare := ProposedRelation{SourceUUID: p.SourceUUID, TargetUUID: p.TargetUUID}
	rel = bare.Reify(now)
	assert.Equal(t, "RELATED_TO", rel.RelationType)
	assert.NotEqual(t, uuid.Nil, rel.UUID)
}
