package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journal-graph-kernel/internal/domain"
)

func testPerson() *domain.Person {
	return &domain.Person{
		EntityCore: domain.EntityCore{
			UUID:         uuid.New(),
			Name:         "Maria",
			SummaryShort: "A friend from the garden club.",
			CreatedAt:    time.Now().UTC().Truncate(time.Second),
		},
		Occupation:   "botanist",
		Relationship: "friend",
	}
}

func TestEntityRoundTripKeepsConcreteType(t *testing.T) {
	p := testPerson()
	data, err := MarshalEntity(p)
	require.NoError(t, err)

	got, err := UnmarshalEntity(data)
	require.NoError(t, err)

	decoded, ok := got.(*domain.Person)
	require.True(t, ok, "decoded as %T", got)
	assert.Equal(t, p.UUID, decoded.UUID)
	assert.Equal(t, p.Occupation, decoded.Occupation)
}

func TestUnmarshalEntityUnknownTypeFailsClosed(t *testing.T) {
	_, err := UnmarshalEntity([]byte(`{"type":"Starship","data":{"uuid":"x"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity type")
}

func TestEntityMappingRoundTrip(t *testing.T) {
	m := domain.EntityMapping{
		Entity: testPerson(),
		Spans:  []domain.Span{{Start: 3, End: 8, Text: "Maria"}},
	}
	data, err := MarshalEntityMapping(m)
	require.NoError(t, err)

	got, err := UnmarshalEntityMapping(data)
	require.NoError(t, err)
	assert.IsType(t, &domain.Person{}, got.Entity)
	assert.Equal(t, m.Spans, got.Spans)
}

func TestCuratableMappingKindMismatchFailsClosed(t *testing.T) {
	// A relation-kind mapping without a relation payload must not decode.
	_, err := UnmarshalCuratableMapping([]byte(`{"kind":"relation","spans":[]}`))
	require.Error(t, err)

	_, err = UnmarshalCuratableMapping([]byte(`{"kind":"sideways"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mapping kind")
}

func TestCuratableMappingFeelingRoundTrip(t *testing.T) {
	feeling := &domain.FeelingEmotion{
		EntityCore: domain.EntityCore{UUID: uuid.New(), Name: "Maria feels joy"},
		PersonUUID: uuid.New(),
		Emotion:    domain.EmotionJoy,
	}
	m := domain.CuratableMapping{
		Kind:   domain.KindFeelingEmotion,
		Entity: feeling,
		Context: &domain.RelationContext{
			EntityUUIDs: []string{feeling.PersonUUID.String()},
		},
	}
	data, err := MarshalCuratableMapping(m)
	require.NoError(t, err)

	got, err := UnmarshalCuratableMapping(data)
	require.NoError(t, err)
	decoded, ok := got.Entity.(*domain.FeelingEmotion)
	require.True(t, ok)
	assert.Equal(t, domain.EmotionJoy, decoded.Emotion)
	require.NotNil(t, got.Context)
	assert.Equal(t, m.Context.EntityUUIDs, got.Context.EntityUUIDs)
}

func TestEntityListRoundTripPreservesOrderAndTypes(t *testing.T) {
	es := []domain.Entity{
		testPerson(),
		&domain.Concept{EntityCore: domain.EntityCore{UUID: uuid.New(), Name: "Stoicism"}},
		&domain.Place{EntityCore: domain.EntityCore{UUID: uuid.New(), Name: "The garden"}},
	}
	data, err := MarshalEntityList(es)
	require.NoError(t, err)

	got, err := UnmarshalEntityList(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.IsType(t, &domain.Person{}, got[0])
	assert.IsType(t, &domain.Concept{}, got[1])
	assert.IsType(t, &domain.Place{}, got[2])
	assert.Equal(t, "Stoicism", got[1].Core().Name)
}

func TestPipelineStateRoundTrip(t *testing.T) {
	journalUUID := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	state := &domain.PipelineState{
		WorkflowID: "journal:" + journalUUID.String(),
		Stage:      domain.StageRelationProcessing,
		Journal: &domain.JournalEntry{
			UUID:      journalUUID,
			Date:      now,
			Narration: "Short entry.",
		},
		EntitiesExtracted: []domain.EntityMapping{
			{Entity: testPerson(), Spans: []domain.Span{{Start: 0, End: 5, Text: "Short"}}},
		},
		EntitiesCurated: []domain.Entity{testPerson()},
		RelationsExtracted: []domain.CuratableMapping{
			{
				Kind: domain.KindRelation,
				Relation: &domain.ProposedRelation{
					UUID:          uuid.New(),
					SourceUUID:    uuid.New(),
					TargetUUID:    uuid.New(),
					ProposedTypes: []string{"DISCUSSED_WITH"},
				},
			},
		},
		ErrorCount: 2,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	data, err := MarshalPipelineState(state)
	require.NoError(t, err)

	got, err := UnmarshalPipelineState(data)
	require.NoError(t, err)

	assert.Equal(t, state.WorkflowID, got.WorkflowID)
	assert.Equal(t, state.Stage, got.Stage)
	assert.Equal(t, state.ErrorCount, got.ErrorCount)
	require.Len(t, got.EntitiesExtracted, 1)
	assert.IsType(t, &domain.Person{}, got.EntitiesExtracted[0].Entity)
	require.Len(t, got.EntitiesCurated, 1)
	require.Len(t, got.RelationsExtracted, 1)
	assert.Equal(t, "DISCUSSED_WITH", got.RelationsExtracted[0].Relation.ProposedTypes[0])
	assert.True(t, got.CreatedAt.Equal(state.CreatedAt))
}

func TestOpenRejectsWrongCode(t *testing.T) {
	data, err := Wrap("entity", []byte(`{}`))
	require.NoError(t, err)
	_, err = Open(data, "pipeline-state")
	require.Error(t, err)
}
