package extract

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/llm"
)

// ExtractRelations runs the relation-phase stages over the curated entity
// set: feelings, general relations, and per-concept concept relations.
func (s *Service) ExtractRelations(ctx context.Context, in *Input) ([]domain.CuratableMapping, error) {
	var out []domain.CuratableMapping

	feelings, err := s.extractFeelingEmotions(ctx, in)
	if err != nil {
		return nil, err
	}
	out = append(out, feelings...)

	views, err := s.extractFeelingConcepts(ctx, in)
	if err != nil {
		return nil, err
	}
	out = append(out, views...)

	relations, err := s.extractGeneralRelations(ctx, in)
	if err != nil {
		return nil, err
	}
	out = append(out, relations...)

	conceptRels, err := s.extractConceptRelations(ctx, in)
	if err != nil {
		return nil, err
	}
	out = append(out, conceptRels...)

	s.logger.Info("relation extraction complete",
		zap.String("journal", in.Journal.UUID.String()),
		zap.Int("mappings", len(out)))
	return out, nil
}

type feelingEmotionWire struct {
	PersonUUID   string   `json:"person_uuid" validate:"required,uuid"`
	Emotion      string   `json:"emotion" validate:"required"`
	SummaryShort string   `json:"summary_short"`
	Mentions     []string `json:"mentions"`
}

type feelingEmotionsWire struct {
	Feelings []feelingEmotionWire `json:"feelings"`
}

// extractFeelingEmotions binds each feeling to a curated person and an
// emotion from the closed enumeration. Unknown persons and emotions are
// dropped with a warning.
func (s *Service) extractFeelingEmotions(ctx context.Context, in *Input) ([]domain.CuratableMapping, error) {
	people := in.People()
	if len(people) == 0 {
		return nil, nil
	}

	var wire feelingEmotionsWire
	err := s.gen.Generate(ctx, &llm.GenerateRequest{
		System:     systemFeelingEmotion,
		Prompt:     buildFeelingEmotionPrompt(in.Journal.Narration, people),
		SchemaName: "feeling-emotions",
	}, &wire)
	if err != nil {
		return nil, err
	}

	var out []domain.CuratableMapping
	for _, fw := range wire.Feelings {
		person, ok := in.EntityByUUID(fw.PersonUUID)
		if !ok || person.Type() != domain.TypePerson {
			s.logger.Warn("feeling references unknown person, dropping",
				zap.String("person_uuid", fw.PersonUUID))
			continue
		}
		emotion := domain.EmotionName(strings.ToLower(strings.TrimSpace(fw.Emotion)))
		if !domain.ValidEmotionName(emotion) {
			s.logger.Warn("feeling with unknown emotion, dropping",
				zap.String("emotion", fw.Emotion))
			continue
		}
		personUUID := person.Core().UUID
		feeling := &domain.FeelingEmotion{
			EntityCore: domain.EntityCore{
				UUID:         uuid.New(),
				Name:         person.Core().Name + " feels " + string(emotion),
				SummaryShort: fw.SummaryShort,
				CreatedAt:    time.Now().UTC(),
			},
			PersonUUID: personUUID,
			Emotion:    emotion,
			FeltAt:     in.Journal.Date,
		}
		out = append(out, domain.CuratableMapping{
			Kind:   domain.KindFeelingEmotion,
			Entity: feeling,
			Spans:  resolveSpans(in.Resolver, fw.Mentions),
			Context: &domain.RelationContext{
				EntityUUIDs: []string{personUUID.String()},
			},
		})
	}
	return out, nil
}

type feelingConceptWire struct {
	PersonUUID   string   `json:"person_uuid" validate:"required,uuid"`
	ConceptUUID  string   `json:"concept_uuid" validate:"required,uuid"`
	Stance       string   `json:"stance"`
	SummaryShort string   `json:"summary_short"`
	Mentions     []string `json:"mentions"`
}

type feelingConceptsWire struct {
	Feelings []feelingConceptWire `json:"feelings"`
}

// extractFeelingConcepts captures views curated people hold about curated
// concepts.
func (s *Service) extractFeelingConcepts(ctx context.Context, in *Input) ([]domain.CuratableMapping, error) {
	people := in.People()
	concepts := in.Concepts()
	if len(people) == 0 || len(concepts) == 0 {
		return nil, nil
	}

	var wire feelingConceptsWire
	err := s.gen.Generate(ctx, &llm.GenerateRequest{
		System:     systemFeelingConcept,
		Prompt:     buildFeelingConceptPrompt(in.Journal.Narration, people, concepts),
		SchemaName: "feeling-concepts",
	}, &wire)
	if err != nil {
		return nil, err
	}

	var out []domain.CuratableMapping
	for _, fw := range wire.Feelings {
		person, ok := in.EntityByUUID(fw.PersonUUID)
		if !ok || person.Type() != domain.TypePerson {
			s.logger.Warn("view references unknown person, dropping",
				zap.String("person_uuid", fw.PersonUUID))
			continue
		}
		concept, ok := in.EntityByUUID(fw.ConceptUUID)
		if !ok || concept.Type() != domain.TypeConcept {
			s.logger.Warn("view references unknown concept, dropping",
				zap.String("concept_uuid", fw.ConceptUUID))
			continue
		}
		view := &domain.FeelingConcept{
			EntityCore: domain.EntityCore{
				UUID:         uuid.New(),
				Name:         person.Core().Name + " on " + concept.Core().Name,
				SummaryShort: fw.SummaryShort,
				CreatedAt:    time.Now().UTC(),
			},
			PersonUUID:  person.Core().UUID,
			ConceptUUID: concept.Core().UUID,
			Stance:      fw.Stance,
		}
		out = append(out, domain.CuratableMapping{
			Kind:   domain.KindFeelingConcept,
			Entity: view,
			Spans:  resolveSpans(in.Resolver, fw.Mentions),
			Context: &domain.RelationContext{
				EntityUUIDs: []string{fw.PersonUUID, fw.ConceptUUID},
			},
		})
	}
	return out, nil
}

type relationWire struct {
	SourceUUID    string   `json:"source_uuid" validate:"required,uuid"`
	TargetUUID    string   `json:"target_uuid" validate:"required,uuid"`
	ProposedTypes []string `json:"proposed_types"`
	SummaryShort  string   `json:"summary_short"`
	SummaryLong   string   `json:"summary_long"`
	Mentions      []string `json:"mentions"`
}

type relationsWire struct {
	Relations []relationWire `json:"relations"`
}

// extractGeneralRelations proposes relations between curated entities.
// Self-relations and relations naming unknown entities are dropped.
func (s *Service) extractGeneralRelations(ctx context.Context, in *Input) ([]domain.CuratableMapping, error) {
	if len(in.Entities) < 2 {
		return nil, nil
	}

	var wire relationsWire
	err := s.gen.Generate(ctx, &llm.GenerateRequest{
		System:     systemRelation,
		Prompt:     buildRelationPrompt(in.Journal.Narration, in.Entities),
		SchemaName: "relations",
	}, &wire)
	if err != nil {
		return nil, err
	}

	var out []domain.CuratableMapping
	for _, rw := range wire.Relations {
		if rw.SourceUUID == rw.TargetUUID {
			continue
		}
		src, okSrc := in.EntityByUUID(rw.SourceUUID)
		tgt, okTgt := in.EntityByUUID(rw.TargetUUID)
		if !okSrc || !okTgt {
			s.logger.Warn("relation references unknown entity, dropping",
				zap.String("source", rw.SourceUUID),
				zap.String("target", rw.TargetUUID))
			continue
		}
		proposed := &domain.ProposedRelation{
			UUID:          uuid.New(),
			SourceUUID:    src.Core().UUID,
			TargetUUID:    tgt.Core().UUID,
			ProposedTypes: rw.ProposedTypes,
			SummaryShort:  rw.SummaryShort,
			SummaryLong:   rw.SummaryLong,
		}
		out = append(out, domain.CuratableMapping{
			Kind:     domain.KindRelation,
			Relation: proposed,
			Spans:    resolveSpans(in.Resolver, rw.Mentions),
			Context: &domain.RelationContext{
				EntityUUIDs:   []string{rw.SourceUUID, rw.TargetUUID},
				ProposedTypes: rw.ProposedTypes,
			},
		})
	}
	return out, nil
}

type conceptRelationWire struct {
	TargetUUID   string   `json:"target_uuid" validate:"required,uuid"`
	Type         string   `json:"type" validate:"required"`
	SummaryShort string   `json:"summary_short"`
	Mentions     []string `json:"mentions"`
}

type conceptRelationsWire struct {
	Relations []conceptRelationWire `json:"relations"`
}

// extractConceptRelations runs once per curated concept with the same
// three-section context as the concept stage. Self-connections and unknown
// types are dropped. Inverses are materialized at graph-write time from the
// stored forward relation.
func (s *Service) extractConceptRelations(ctx context.Context, in *Input) ([]domain.CuratableMapping, error) {
	concepts := in.Concepts()
	if len(concepts) == 0 {
		return nil, nil
	}
	knownContext := s.buildConceptContext(ctx, in)

	var out []domain.CuratableMapping
	for _, subject := range concepts {
		var wire conceptRelationsWire
		err := s.gen.Generate(ctx, &llm.GenerateRequest{
			System:     systemConceptRelation,
			Prompt:     buildConceptRelationPrompt(in.Journal.Narration, subject, knownContext),
			SchemaName: "concept-relations",
		}, &wire)
		if err != nil {
			return nil, err
		}

		for _, rw := range wire.Relations {
			if rw.TargetUUID == subject.UUID.String() {
				continue
			}
			relType := domain.ConceptRelationType(strings.ToUpper(strings.TrimSpace(rw.Type)))
			if !domain.ValidConceptRelationType(relType) {
				s.logger.Warn("concept relation with unknown type, dropping",
					zap.String("type", rw.Type))
				continue
			}
			targetUUID, err := uuid.Parse(rw.TargetUUID)
			if err != nil {
				continue
			}
			if _, known := in.EntityByUUID(rw.TargetUUID); !known {
				// Targets may also come from the known-concept context, which
				// lists graph entities beyond this journal's curated set.
				if !strings.Contains(knownContext, rw.TargetUUID) {
					s.logger.Warn("concept relation references unknown target, dropping",
						zap.String("target", rw.TargetUUID))
					continue
				}
			}
			now := time.Now().UTC()
			rel := &domain.ConceptRelation{
				UUID:         uuid.New(),
				EdgeUUID:     uuid.New(),
				SourceUUID:   subject.UUID,
				TargetUUID:   targetUUID,
				RelationType: relType,
				SummaryShort: rw.SummaryShort,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			out = append(out, domain.CuratableMapping{
				Kind:            domain.KindConceptRelation,
				ConceptRelation: rel,
				Spans:           resolveSpans(in.Resolver, rw.Mentions),
				Context: &domain.RelationContext{
					EntityUUIDs: []string{subject.UUID.String(), rw.TargetUUID},
				},
			})
		}
	}
	return out, nil
}
