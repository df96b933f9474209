// Package extract runs the LLM extraction stages over a journal narration:
// entity stages feeding the first curation gate, then feelings and relation
// stages over the curated entity set feeding the second. Every emitted
// mapping carries spans resolved back into the source narration.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/entity"
	"github.com/journal-graph-kernel/internal/graph"
	"github.com/journal-graph-kernel/internal/llm"
	"github.com/journal-graph-kernel/internal/span"
	"github.com/journal-graph-kernel/internal/vault"
)

// GraphReader is the read surface extraction needs from the graph store.
type GraphReader interface {
	VectorSearch(ctx context.Context, label string, embedding []float32, k int, threshold float64) ([]graph.SearchHit, error)
	RecentEntities(ctx context.Context, label string, since time.Time, k int) ([]graph.SearchHit, error)
}

// LinkResolver resolves wiki links against the vault.
type LinkResolver interface {
	Resolve(ctx context.Context, link domain.WikiLink) (*vault.Note, bool, error)
}

// NameIndex is the dedup lookup over known entity names.
type NameIndex interface {
	LookupExact(ctx context.Context, name string, entityType domain.EntityType) (*entity.Hit, error)
}

// Input is what one extraction phase works from. Entities is empty during the
// entity phase and holds the curated set during the relation phase.
type Input struct {
	Journal  *domain.JournalEntry
	Tree     *domain.ChunkTree
	Resolver *span.Resolver
	Entities []domain.Entity
}

// People returns the curated Person entities in the input.
func (in *Input) People() []*domain.Person {
	var out []*domain.Person
	for _, e := range in.Entities {
		if p, ok := e.(*domain.Person); ok {
			out = append(out, p)
		}
	}
	return out
}

// Concepts returns the curated Concept entities in the input.
func (in *Input) Concepts() []*domain.Concept {
	var out []*domain.Concept
	for _, e := range in.Entities {
		if c, ok := e.(*domain.Concept); ok {
			out = append(out, c)
		}
	}
	return out
}

// EntityByUUID finds a curated entity by UUID string.
func (in *Input) EntityByUUID(id string) (domain.Entity, bool) {
	for _, e := range in.Entities {
		if e.Core().UUID.String() == id {
			return e, true
		}
	}
	return nil, false
}

// Service runs the extraction stages.
type Service struct {
	gen    llm.Generator
	graph  GraphReader
	vault  LinkResolver
	names  NameIndex
	logger *zap.Logger
}

// NewService wires the extraction stages to their dependencies.
func NewService(gen llm.Generator, gr GraphReader, lv LinkResolver, names NameIndex, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gen:    gen,
		graph:  gr,
		vault:  lv,
		names:  names,
		logger: logger.Named("extract"),
	}
}

// resolveSpans maps model-returned mention fragments to source spans.
// Unresolvable mentions are dropped (the resolver logs them).
func resolveSpans(resolver *span.Resolver, mentions []string) []domain.Span {
	var spans []domain.Span
	for _, m := range mentions {
		spans = append(spans, resolver.Resolve(m)...)
	}
	return spans
}

// dedup resolves an extracted name against known identities. Same-type match
// reuses the existing UUID and merges summaries; a cross-type collision or a
// miss yields a fresh UUID.
func (s *Service) dedup(ctx context.Context, name string, t domain.EntityType, summaryShort string) (id uuid.UUID, mergedSummary string, existing bool) {
	hit, err := s.names.LookupExact(ctx, name, t)
	if err != nil {
		s.logger.Warn("name lookup failed, creating fresh entity",
			zap.String("name", name), zap.Error(err))
		return uuid.New(), summaryShort, false
	}
	if hit == nil {
		return uuid.New(), summaryShort, false
	}
	if hit.Type != string(t) {
		s.logger.Warn("cross-type name collision, keeping separate identity",
			zap.String("name", name),
			zap.String("extracted_type", string(t)),
			zap.String("existing_type", hit.Type))
		return uuid.New(), summaryShort, false
	}
	id, err = uuid.Parse(hit.UUID)
	if err != nil {
		return uuid.New(), summaryShort, false
	}
	merged, err := s.mergeSummaries(ctx, name, hit.Summary, summaryShort)
	if err != nil {
		s.logger.Warn("summary merge failed, keeping new summary",
			zap.String("name", name), zap.Error(err))
		merged = summaryShort
	}
	return id, merged, true
}

type mergedSummaryWire struct {
	Summary string `json:"summary" validate:"required"`
}

// mergeSummaries combines the stored and freshly extracted summaries of the
// same entity into one.
func (s *Service) mergeSummaries(ctx context.Context, name, existing, fresh string) (string, error) {
	if strings.TrimSpace(existing) == "" {
		return fresh, nil
	}
	if strings.TrimSpace(fresh) == "" {
		return existing, nil
	}
	var out mergedSummaryWire
	err := s.gen.Generate(ctx, &llm.GenerateRequest{
		System:     systemSummaryMerge,
		Prompt:     buildSummaryMergePrompt(name, existing, fresh),
		SchemaName: "summary-merge",
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Summary, nil
}
