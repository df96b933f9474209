package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/entity"
	"github.com/journal-graph-kernel/internal/graph"
	"github.com/journal-graph-kernel/internal/jsonx"
	"github.com/journal-graph-kernel/internal/llm"
	"github.com/journal-graph-kernel/internal/span"
)

const narration = "Maria helped me in the garden. We talked about stoicism and equanimity."

// fakeGen answers each schema with a canned JSON payload. Schemas without a
// canned answer get an empty object, which decodes to an empty result.
type fakeGen struct {
	responses map[string]string
}

func (f *fakeGen) Generate(ctx context.Context, req *llm.GenerateRequest, out interface{}) error {
	payload, ok := f.responses[req.SchemaName]
	if !ok {
		payload = "{}"
	}
	return jsonx.Unmarshal([]byte(payload), out)
}

func (f *fakeGen) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("no embedding endpoint")
}

func (f *fakeGen) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("no embedding endpoint")
}

type fakeNames struct {
	hits map[string]*entity.Hit
}

func (f *fakeNames) LookupExact(ctx context.Context, name string, t domain.EntityType) (*entity.Hit, error) {
	return f.hits[name], nil
}

type fakeGraphReader struct{}

func (fakeGraphReader) VectorSearch(ctx context.Context, label string, embedding []float32, k int, threshold float64) ([]graph.SearchHit, error) {
	return nil, nil
}

func (fakeGraphReader) RecentEntities(ctx context.Context, label string, since time.Time, k int) ([]graph.SearchHit, error) {
	return nil, nil
}

func testInput(t *testing.T, entities []domain.Entity) *Input {
	t.Helper()
	return &Input{
		Journal: &domain.JournalEntry{
			UUID:      uuid.New(),
			Date:      time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			Narration: narration,
		},
		Resolver: span.NewResolver(narration, zaptest.NewLogger(t)),
		Entities: entities,
	}
}

func newTestService(t *testing.T, gen *fakeGen, names *fakeNames) *Service {
	t.Helper()
	if names == nil {
		names = &fakeNames{}
	}
	return NewService(gen, fakeGraphReader{}, nil, names, zaptest.NewLogger(t))
}

func TestExtractEntities(t *testing.T) {
	gen := &fakeGen{responses: map[string]string{
		"people":         `{"people":[{"name":"Maria","mentions":["Maria"]},{"name":"Ghost","mentions":["nowhere to be found"]}]}`,
		"person-hydrate": `{"occupation":"botanist","relationship":"friend","summary_short":"A friend from the garden."}`,
		"concepts":       `{"concepts":[{"name":"stoicism","domain":"philosophy","summary_short":"A practice.","mentions":["stoicism"]}]}`,
	}}
	svc := newTestService(t, gen, nil)

	mappings, err := svc.ExtractEntities(context.Background(), testInput(t, nil))
	require.NoError(t, err)
	// Ghost has no resolvable mention and is dropped.
	require.Len(t, mappings, 2)

	p, ok := mappings[0].Entity.(*domain.Person)
	require.True(t, ok)
	assert.Equal(t, "Maria", p.Name)
	assert.Equal(t, "botanist", p.Occupation)
	assert.NotEmpty(t, mappings[0].Spans)
	assert.Equal(t, "Maria", mappings[0].Spans[0].Text)

	c, ok := mappings[1].Entity.(*domain.Concept)
	require.True(t, ok)
	assert.Equal(t, "stoicism", c.Name)
	assert.Equal(t, "philosophy", c.Domain)
}

func TestDedupReusesSameTypeIdentity(t *testing.T) {
	known := uuid.New()
	gen := &fakeGen{responses: map[string]string{
		"people":         `{"people":[{"name":"Maria","mentions":["Maria"]}]}`,
		"person-hydrate": `{"summary_short":"Fresh summary."}`,
	}}
	names := &fakeNames{hits: map[string]*entity.Hit{
		"Maria": {Ref: entity.Ref{
			UUID: known.String(),
			Name: "Maria",
			Type: string(domain.TypePerson),
		}},
	}}
	svc := newTestService(t, gen, names)

	mappings, err := svc.ExtractEntities(context.Background(), testInput(t, nil))
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, known, mappings[0].Entity.Core().UUID)
	// No stored summary to merge with: the fresh one wins without a model call.
	assert.Equal(t, "Fresh summary.", mappings[0].Entity.Core().SummaryShort)
}

func TestDedupMergesSummaries(t *testing.T) {
	known := uuid.New()
	gen := &fakeGen{responses: map[string]string{
		"people":         `{"people":[{"name":"Maria","mentions":["Maria"]}]}`,
		"person-hydrate": `{"summary_short":"Fresh summary."}`,
		"summary-merge":  `{"summary":"Combined summary."}`,
	}}
	names := &fakeNames{hits: map[string]*entity.Hit{
		"Maria": {Ref: entity.Ref{
			UUID:    known.String(),
			Name:    "Maria",
			Type:    string(domain.TypePerson),
			Summary: "Stored summary.",
		}},
	}}
	svc := newTestService(t, gen, names)

	mappings, err := svc.ExtractEntities(context.Background(), testInput(t, nil))
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "Combined summary.", mappings[0].Entity.Core().SummaryShort)
}

func TestDedupCrossTypeCollisionKeepsSeparateIdentity(t *testing.T) {
	known := uuid.New()
	gen := &fakeGen{responses: map[string]string{
		"people":         `{"people":[{"name":"Maria","mentions":["Maria"]}]}`,
		"person-hydrate": `{}`,
	}}
	names := &fakeNames{hits: map[string]*entity.Hit{
		"Maria": {Ref: entity.Ref{
			UUID: known.String(),
			Name: "Maria",
			Type: string(domain.TypeConcept),
		}},
	}}
	svc := newTestService(t, gen, names)

	mappings, err := svc.ExtractEntities(context.Background(), testInput(t, nil))
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.NotEqual(t, known, mappings[0].Entity.Core().UUID)
}

func curatedSet() (*domain.Person, *domain.Concept, *domain.Concept, []domain.Entity) {
	p := &domain.Person{EntityCore: domain.EntityCore{UUID: uuid.New(), Name: "Maria"}}
	c1 := &domain.Concept{EntityCore: domain.EntityCore{UUID: uuid.New(), Name: "stoicism"}}
	c2 := &domain.Concept{EntityCore: domain.EntityCore{UUID: uuid.New(), Name: "equanimity"}}
	return p, c1, c2, []domain.Entity{p, c1, c2}
}

func TestExtractFeelingsValidation(t *testing.T) {
	p, _, _, entities := curatedSet()
	gen := &fakeGen{responses: map[string]string{
		"feeling-emotions": fmt.Sprintf(`{"feelings":[
			{"person_uuid":%q,"emotion":"joy","summary_short":"Happy in the garden.","mentions":["garden"]},
			{"person_uuid":%q,"emotion":"zealotry","mentions":[]},
			{"person_uuid":%q,"emotion":"joy","mentions":[]}
		]}`, p.UUID, p.UUID, uuid.New()),
	}}
	svc := newTestService(t, gen, nil)

	out, err := svc.ExtractRelations(context.Background(), testInput(t, entities))
	require.NoError(t, err)
	// Unknown emotion and unknown person are dropped.
	require.Len(t, out, 1)
	assert.Equal(t, domain.KindFeelingEmotion, out[0].Kind)

	feeling, ok := out[0].Entity.(*domain.FeelingEmotion)
	require.True(t, ok)
	assert.Equal(t, p.UUID, feeling.PersonUUID)
	assert.Equal(t, domain.EmotionJoy, feeling.Emotion)
	require.NotNil(t, out[0].Context)
	assert.Equal(t, []string{p.UUID.String()}, out[0].Context.EntityUUIDs)
}

func TestExtractGeneralRelationsValidation(t *testing.T) {
	p, c1, _, entities := curatedSet()
	gen := &fakeGen{responses: map[string]string{
		"relations": fmt.Sprintf(`{"relations":[
			{"source_uuid":%q,"target_uuid":%q,"proposed_types":["PRACTICES"],"mentions":["talked about stoicism"]},
			{"source_uuid":%q,"target_uuid":%q,"proposed_types":["SELF"]},
			{"source_uuid":%q,"target_uuid":%q,"proposed_types":["UNKNOWN_TARGET"]}
		]}`, p.UUID, c1.UUID, p.UUID, p.UUID, p.UUID, uuid.New()),
	}}
	svc := newTestService(t, gen, nil)

	out, err := svc.ExtractRelations(context.Background(), testInput(t, entities))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.KindRelation, out[0].Kind)
	require.NotNil(t, out[0].Relation)
	assert.Equal(t, p.UUID, out[0].Relation.SourceUUID)
	assert.Equal(t, c1.UUID, out[0].Relation.TargetUUID)
	assert.Equal(t, []string{"PRACTICES"}, out[0].Relation.ProposedTypes)
}

func TestExtractConceptRelationsValidation(t *testing.T) {
	_, c1, c2, entities := curatedSet()
	gen := &fakeGen{responses: map[string]string{
		"concept-relations": fmt.Sprintf(`{"relations":[
			{"target_uuid":%q,"type":"supports","summary_short":"Practice builds the state."},
			{"target_uuid":%q,"type":"FROBNICATES"},
			{"target_uuid":%q,"type":"SUPPORTS"},
			{"target_uuid":%q,"type":"SUPPORTS"}
		]}`, c2.UUID, c2.UUID, c1.UUID, uuid.New()),
	}}
	svc := newTestService(t, gen, &fakeNames{})
	// Only people and concepts matter here; drop the person to keep the
	// concept stage running once per concept with identical canned output.
	entities = entities[1:]

	out, err := svc.ExtractRelations(context.Background(), testInput(t, entities))
	require.NoError(t, err)

	// Each concept runs the stage once. Per run: the lowercase "supports" row
	// survives normalization, the unknown type and the unknown target are
	// dropped, and the self-target row is dropped for its own subject.
	var kept []domain.CuratableMapping
	for _, m := range out {
		if m.Kind == domain.KindConceptRelation {
			kept = append(kept, m)
		}
	}
	require.NotEmpty(t, kept)
	for _, m := range kept {
		require.NotNil(t, m.ConceptRelation)
		assert.Equal(t, domain.Supports, m.ConceptRelation.RelationType)
		assert.NotEqual(t, m.ConceptRelation.SourceUUID, m.ConceptRelation.TargetUUID)
	}
}
