// Package codec encodes every domain value that crosses a suspension or
// store boundary. Payloads are wrapped in an envelope with a short type code,
// and polymorphic fields carry an explicit discriminator, so a resumed
// workflow decodes the same concrete variants it checkpointed. Unknown codes
// and discriminators are rejected; nothing ever degrades to a generic map.
package codec

import (
	"fmt"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/jsonx"
)

// Payload codes used in envelopes.
const (
	CodeEntity           = "entity"
	CodeEntityMapping    = "entity-mapping"
	CodeCuratableMapping = "curatable-mapping"
	CodePipelineState    = "pipeline-state"
	CodeJournalEntry     = "journal-entry"
)

// Envelope wraps an encoded payload with its type code.
type Envelope struct {
	Code    string           `json:"code"`
	Payload jsonx.RawMessage `json:"payload"`
}

// entityWire is the tagged form of an Entity: the discriminator plus the
// variant's own encoding.
type entityWire struct {
	Type domain.EntityType `json:"type"`
	Data jsonx.RawMessage  `json:"data"`
}

// MarshalEntity encodes e with its type discriminator.
func MarshalEntity(e domain.Entity) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("codec: nil entity")
	}
	data, err := jsonx.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %s: %w", e.Type(), err)
	}
	return jsonx.Marshal(entityWire{Type: e.Type(), Data: data})
}

// UnmarshalEntity decodes a tagged entity into its concrete variant. Unknown
// discriminators are an error.
func UnmarshalEntity(data []byte) (domain.Entity, error) {
	var w entityWire
	if err := jsonx.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec: entity envelope: %w", err)
	}
	e, ok := domain.NewEntityOfType(w.Type)
	if !ok {
		return nil, fmt.Errorf("codec: unknown entity type %q", w.Type)
	}
	if err := jsonx.Unmarshal(w.Data, e); err != nil {
		return nil, fmt.Errorf("codec: decode %s: %w", w.Type, err)
	}
	return e, nil
}

// entityMappingWire is the encoded form of a domain.EntityMapping.
type entityMappingWire struct {
	Entity jsonx.RawMessage `json:"entity"`
	Spans  []domain.Span    `json:"spans,omitempty"`
}

// MarshalEntityMapping encodes m with a tagged entity payload.
func MarshalEntityMapping(m domain.EntityMapping) ([]byte, error) {
	ent, err := MarshalEntity(m.Entity)
	if err != nil {
		return nil, err
	}
	return jsonx.Marshal(entityMappingWire{Entity: ent, Spans: m.Spans})
}

// UnmarshalEntityMapping decodes an entity mapping, reconstructing the
// concrete entity variant.
func UnmarshalEntityMapping(data []byte) (domain.EntityMapping, error) {
	var w entityMappingWire
	if err := jsonx.Unmarshal(data, &w); err != nil {
		return domain.EntityMapping{}, fmt.Errorf("codec: entity mapping: %w", err)
	}
	e, err := UnmarshalEntity(w.Entity)
	if err != nil {
		return domain.EntityMapping{}, err
	}
	return domain.EntityMapping{Entity: e, Spans: w.Spans}, nil
}

// curatableWire is the encoded form of a domain.CuratableMapping. Exactly one
// of Entity, Relation, ConceptRelation is present, matching Kind.
type curatableWire struct {
	Kind            domain.MappingKind      `json:"kind"`
	Entity          jsonx.RawMessage        `json:"entity,omitempty"`
	Relation        *domain.ProposedRelation `json:"relation,omitempty"`
	ConceptRelation *domain.ConceptRelation  `json:"concept_relation,omitempty"`
	Spans           []domain.Span           `json:"spans,omitempty"`
	Context         *domain.RelationContext `json:"context,omitempty"`
}

// MarshalCuratableMapping encodes m, tagging the entity payload when present.
func MarshalCuratableMapping(m domain.CuratableMapping) ([]byte, error) {
	w := curatableWire{
		Kind:            m.Kind,
		Relation:        m.Relation,
		ConceptRelation: m.ConceptRelation,
		Spans:           m.Spans,
		Context:         m.Context,
	}
	if m.Entity != nil {
		ent, err := MarshalEntity(m.Entity)
		if err != nil {
			return nil, err
		}
		w.Entity = ent
	}
	return jsonx.Marshal(w)
}

// UnmarshalCuratableMapping decodes a curatable mapping and checks the kind
// matches the populated payload arm.
func UnmarshalCuratableMapping(data []byte) (domain.CuratableMapping, error) {
	var w curatableWire
	if err := jsonx.Unmarshal(data, &w); err != nil {
		return domain.CuratableMapping{}, fmt.Errorf("codec: curatable mapping: %w", err)
	}
	m := domain.CuratableMapping{
		Kind:            w.Kind,
		Relation:        w.Relation,
		ConceptRelation: w.ConceptRelation,
		Spans:           w.Spans,
		Context:         w.Context,
	}
	switch w.Kind {
	case domain.KindFeelingEmotion, domain.KindFeelingConcept:
		if len(w.Entity) == 0 {
			return domain.CuratableMapping{}, fmt.Errorf("codec: %s mapping without entity payload", w.Kind)
		}
		e, err := UnmarshalEntity(w.Entity)
		if err != nil {
			return domain.CuratableMapping{}, err
		}
		m.Entity = e
	case domain.KindRelation:
		if w.Relation == nil {
			return domain.CuratableMapping{}, fmt.Errorf("codec: relation mapping without relation payload")
		}
	case domain.KindConceptRelation:
		if w.ConceptRelation == nil {
			return domain.CuratableMapping{}, fmt.Errorf("codec: concept relation mapping without payload")
		}
	case domain.KindEntity:
		if len(w.Entity) == 0 {
			return domain.CuratableMapping{}, fmt.Errorf("codec: entity mapping without entity payload")
		}
		e, err := UnmarshalEntity(w.Entity)
		if err != nil {
			return domain.CuratableMapping{}, err
		}
		m.Entity = e
	default:
		return domain.CuratableMapping{}, fmt.Errorf("codec: unknown mapping kind %q", w.Kind)
	}
	return m, nil
}

// MarshalEntityList encodes a typed list of entities, each tagged.
func MarshalEntityList(es []domain.Entity) ([]byte, error) {
	raws := make([]jsonx.RawMessage, 0, len(es))
	for _, e := range es {
		r, err := MarshalEntity(e)
		if err != nil {
			return nil, err
		}
		raws = append(raws, r)
	}
	return jsonx.Marshal(raws)
}

// UnmarshalEntityList decodes a tagged list back into concrete variants,
// preserving order.
func UnmarshalEntityList(data []byte) ([]domain.Entity, error) {
	var raws []jsonx.RawMessage
	if err := jsonx.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("codec: entity list: %w", err)
	}
	out := make([]domain.Entity, 0, len(raws))
	for _, r := range raws {
		e, err := UnmarshalEntity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Wrap builds an envelope around an already-encoded payload.
func Wrap(code string, payload []byte) ([]byte, error) {
	return jsonx.Marshal(Envelope{Code: code, Payload: payload})
}

// Open validates an envelope's code and returns its payload.
func Open(data []byte, wantCode string) (jsonx.RawMessage, error) {
	var env Envelope
	if err := jsonx.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("codec: envelope: %w", err)
	}
	if env.Code != wantCode {
		return nil, fmt.Errorf("codec: envelope code %q, want %q", env.Code, wantCode)
	}
	return env.Payload, nil
}
