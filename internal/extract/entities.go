package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/llm"
)

// Vector-search and recency parameters for the concept context.
const (
	conceptSearchK         = 10
	conceptSearchThreshold = 0.7
	conceptRecentK         = 10
	conceptRecentWindow    = 30 * 24 * time.Hour
)

// ExtractEntities runs the entity stages: people (with per-person hydration),
// concepts with the three-section context, and the generic stages. Generic
// stages fan out; their order in the result is fixed regardless.
func (s *Service) ExtractEntities(ctx context.Context, in *Input) ([]domain.EntityMapping, error) {
	people, err := s.extractPeople(ctx, in)
	if err != nil {
		return nil, err
	}

	concepts, err := s.extractConcepts(ctx, in)
	if err != nil {
		return nil, err
	}

	genericTypes := []domain.EntityType{
		domain.TypeProject, domain.TypeConsumable, domain.TypeContent,
		domain.TypeEvent, domain.TypePlace,
	}
	results := make([][]domain.EntityMapping, len(genericTypes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for idx, t := range genericTypes {
		idx, t := idx, t
		g.Go(func() error {
			mappings, err := s.extractGeneric(gctx, in, t)
			if err != nil {
				return err
			}
			mu.Lock()
			results[idx] = mappings
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := append(people, concepts...)
	for _, r := range results {
		out = append(out, r...)
	}
	s.logger.Info("entity extraction complete",
		zap.String("journal", in.Journal.UUID.String()),
		zap.Int("mappings", len(out)))
	return out, nil
}

type personWire struct {
	Name     string   `json:"name" validate:"required"`
	Mentions []string `json:"mentions"`
}

type peopleWire struct {
	People []personWire `json:"people"`
}

type personDetailWire struct {
	Occupation   string `json:"occupation"`
	Relationship string `json:"relationship"`
	SummaryShort string `json:"summary_short"`
	SummaryLong  string `json:"summary_long"`
}

// extractPeople finds person mentions, then hydrates each person's attributes
// with a secondary call.
func (s *Service) extractPeople(ctx context.Context, in *Input) ([]domain.EntityMapping, error) {
	var wire peopleWire
	err := s.gen.Generate(ctx, &llm.GenerateRequest{
		System:     systemPeople,
		Prompt:     buildPeoplePrompt(in.Journal.Narration),
		SchemaName: "people",
	}, &wire)
	if err != nil {
		return nil, err
	}

	var out []domain.EntityMapping
	for _, pw := range wire.People {
		name := strings.TrimSpace(pw.Name)
		if name == "" {
			continue
		}
		spans := resolveSpans(in.Resolver, pw.Mentions)
		if len(spans) == 0 {
			spans = resolveSpans(in.Resolver, []string{name})
		}
		if len(spans) == 0 {
			s.logger.Warn("person without resolvable mention, dropping",
				zap.String("name", name))
			continue
		}

		var detail personDetailWire
		err := s.gen.Generate(ctx, &llm.GenerateRequest{
			System:     systemPersonHydrate,
			Prompt:     buildPersonHydratePrompt(name, in.Journal.Narration),
			SchemaName: "person-hydrate",
		}, &detail)
		if err != nil {
			return nil, err
		}

		id, summary, existing := s.dedup(ctx, name, domain.TypePerson, detail.SummaryShort)
		person := &domain.Person{
			EntityCore: domain.EntityCore{
				UUID:         id,
				Name:         name,
				SummaryShort: summary,
				SummaryLong:  detail.SummaryLong,
				CreatedAt:    time.Now().UTC(),
			},
			Occupation:   detail.Occupation,
			Relationship: detail.Relationship,
		}
		if existing {
			s.logger.Debug("person matched existing identity",
				zap.String("name", name), zap.String("uuid", id.String()))
		}
		out = append(out, domain.EntityMapping{Entity: person, Spans: spans})
	}
	return out, nil
}

type conceptWire struct {
	Name         string   `json:"name" validate:"required"`
	Domain       string   `json:"domain"`
	SummaryShort string   `json:"summary_short"`
	SummaryLong  string   `json:"summary_long"`
	Mentions     []string `json:"mentions"`
}

type conceptsWire struct {
	Concepts []conceptWire `json:"concepts"`
}

// extractConcepts runs the concept stage with its three-section context.
func (s *Service) extractConcepts(ctx context.Context, in *Input) ([]domain.EntityMapping, error) {
	knownContext := s.buildConceptContext(ctx, in)

	var wire conceptsWire
	err := s.gen.Generate(ctx, &llm.GenerateRequest{
		System:     systemConcept,
		Prompt:     buildConceptPrompt(in.Journal.Narration, knownContext),
		SchemaName: "concepts",
	}, &wire)
	if err != nil {
		return nil, err
	}

	var out []domain.EntityMapping
	for _, cw := range wire.Concepts {
		name := strings.TrimSpace(cw.Name)
		if name == "" {
			continue
		}
		spans := resolveSpans(in.Resolver, cw.Mentions)
		if len(spans) == 0 {
			spans = resolveSpans(in.Resolver, []string{name})
		}
		id, summary, _ := s.dedup(ctx, name, domain.TypeConcept, cw.SummaryShort)
		concept := &domain.Concept{
			EntityCore: domain.EntityCore{
				UUID:         id,
				Name:         name,
				SummaryShort: summary,
				SummaryLong:  cw.SummaryLong,
				CreatedAt:    time.Now().UTC(),
			},
			Domain: cw.Domain,
		}
		out = append(out, domain.EntityMapping{Entity: concept, Spans: spans})
	}
	return out, nil
}

// buildConceptContext assembles the prompt context in priority order:
// wiki-linked concepts already known, vector-search neighbors of the
// narration, and concepts mentioned within the last 30 days. Each section is
// best-effort; a failed source just shrinks the context.
func (s *Service) buildConceptContext(ctx context.Context, in *Input) string {
	var b strings.Builder
	seen := make(map[string]struct{})

	appendLine := func(uuid, name, summary string) {
		key := uuid
		if key == "" {
			key = strings.ToLower(name)
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		if uuid != "" {
			fmt.Fprintf(&b, "- %s (uuid: %s): %s\n", name, uuid, summary)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", name, summary)
		}
	}

	// (a) wiki-linked concepts already known in the vault.
	if s.vault != nil {
		for _, link := range in.Journal.WikiLinks {
			note, ok, err := s.vault.Resolve(ctx, link)
			if err != nil || !ok {
				continue
			}
			if note.Frontmatter.EntityType != string(domain.TypeConcept) {
				continue
			}
			appendLine(note.Frontmatter.EntityID, note.Name, note.Frontmatter.Summary)
		}
	}

	// (b) vector neighbors of the full narration.
	if vec, err := s.gen.Embed(ctx, in.Journal.Narration); err == nil {
		hits, err := s.graph.VectorSearch(ctx, string(domain.TypeConcept), vec,
			conceptSearchK, conceptSearchThreshold)
		if err == nil {
			for _, h := range hits {
				appendLine(h.UUID.String(), h.Name, h.SummaryShort)
			}
		} else {
			s.logger.Warn("concept vector search failed", zap.Error(err))
		}
	} else {
		s.logger.Warn("narration embedding failed", zap.Error(err))
	}

	// (c) recently mentioned concepts.
	since := time.Now().UTC().Add(-conceptRecentWindow)
	if hits, err := s.graph.RecentEntities(ctx, string(domain.TypeConcept), since, conceptRecentK); err == nil {
		for _, h := range hits {
			appendLine(h.UUID.String(), h.Name, h.SummaryShort)
		}
	} else {
		s.logger.Warn("recent concepts lookup failed", zap.Error(err))
	}

	return strings.TrimRight(b.String(), "\n")
}

type genericItemWire struct {
	Name         string   `json:"name" validate:"required"`
	SummaryShort string   `json:"summary_short"`
	SummaryLong  string   `json:"summary_long"`
	Mentions     []string `json:"mentions"`

	// Subtype extras; each stage reads the ones its type defines.
	Status          string `json:"status,omitempty"`
	Category        string `json:"category,omitempty"`
	Medium          string `json:"medium,omitempty"`
	Author          string `json:"author,omitempty"`
	Date            string `json:"date,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Location        string `json:"location,omitempty"`
	Region          string `json:"region,omitempty"`
}

type genericItemsWire struct {
	Items []genericItemWire `json:"items"`
}

// genericExtras maps entity types to the extra JSON fields named in their
// prompt.
var genericExtras = map[domain.EntityType]string{
	domain.TypeProject:    `, "status": "not-started|active|on-hold|completed|cancelled"`,
	domain.TypeConsumable: `, "category": "..."`,
	domain.TypeContent:    `, "medium": "...", "author": "..."`,
	domain.TypeEvent:      `, "date": "YYYY-MM-DD", "duration_minutes": 0, "location": "..."`,
	domain.TypePlace:      `, "region": "..."`,
}

// extractGeneric is the shared template for the project, consumable, content,
// event, and place stages: one call, span resolution, dedup.
func (s *Service) extractGeneric(ctx context.Context, in *Input, t domain.EntityType) ([]domain.EntityMapping, error) {
	var wire genericItemsWire
	err := s.gen.Generate(ctx, &llm.GenerateRequest{
		System:     fmt.Sprintf(systemGeneric, strings.ToLower(string(t)), genericExtras[t]),
		Prompt:     buildGenericPrompt(in.Journal.Narration),
		SchemaName: "generic-" + strings.ToLower(string(t)),
	}, &wire)
	if err != nil {
		return nil, err
	}

	var out []domain.EntityMapping
	for _, item := range wire.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		spans := resolveSpans(in.Resolver, item.Mentions)
		if len(spans) == 0 {
			spans = resolveSpans(in.Resolver, []string{name})
		}
		if len(spans) == 0 {
			s.logger.Warn("entity without resolvable mention, dropping",
				zap.String("type", string(t)), zap.String("name", name))
			continue
		}
		id, summary, _ := s.dedup(ctx, name, t, item.SummaryShort)
		e := buildGenericEntity(t, id, name, summary, item)
		if e == nil {
			continue
		}
		out = append(out, domain.EntityMapping{Entity: e, Spans: spans})
	}
	return out, nil
}

func buildGenericEntity(t domain.EntityType, id uuid.UUID, name, summary string, item genericItemWire) domain.Entity {
	core := domain.EntityCore{
		UUID:         id,
		Name:         name,
		SummaryShort: summary,
		SummaryLong:  item.SummaryLong,
		CreatedAt:    time.Now().UTC(),
	}
	switch t {
	case domain.TypeProject:
		status := domain.ProjectStatus(item.Status)
		if item.Status != "" && !domain.ValidProjectStatus(status) {
			status = ""
		}
		return &domain.Project{EntityCore: core, Status: status}
	case domain.TypeConsumable:
		return &domain.Consumable{EntityCore: core, Category: item.Category}
	case domain.TypeContent:
		return &domain.Content{EntityCore: core, Medium: item.Medium, Author: item.Author}
	case domain.TypeEvent:
		ev := &domain.Event{EntityCore: core, DurationMinutes: item.DurationMinutes, Location: item.Location}
		if item.Date != "" {
			if d, err := time.Parse("2006-01-02", item.Date); err == nil {
				ev.Date = d
			}
		}
		return ev
	case domain.TypePlace:
		return &domain.Place{EntityCore: core, Region: item.Region}
	}
	return nil
}
