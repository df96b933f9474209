package domain

import (
	"time"

	"github.com/journal-graph-kernel/internal/jsonx"
)

// Phase is the curation phase a journal is in. Items of kind entity gate the
// entity phase; every other kind gates the relation phase.
type Phase string

const (
	PhaseEntity   Phase = "entity"
	PhaseRelation Phase = "relation"
	PhaseComplete Phase = "complete"
)

// MappingKind discriminates what a curation item's payload decodes to.
type MappingKind string

const (
	KindEntity          MappingKind = "entity"
	KindRelation        MappingKind = "relation"
	KindFeelingEmotion  MappingKind = "feeling_emotion"
	KindFeelingConcept  MappingKind = "feeling_concept"
	KindConceptRelation MappingKind = "concept_relation"
)

// PhaseForKind returns the curation phase a kind gates.
func PhaseForKind(k MappingKind) Phase {
	if k == KindEntity {
		return PhaseEntity
	}
	return PhaseRelation
}

// ItemStatus is the decision state of a curation item. A decided item is
// immutable.
type ItemStatus string

const (
	StatusPending  ItemStatus = "pending"
	StatusApproved ItemStatus = "approved"
	StatusRejected ItemStatus = "rejected"
	StatusEdited   ItemStatus = "edited"
)

// Decision is a curator's verdict on an item.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionEdit    Decision = "edit"
)

// CurationItem is one row awaiting (or holding) a human decision. Payload,
// Spans, and Context are codec-encoded blobs so the store never needs to
// understand the polymorphic types inside them.
type CurationItem struct {
	ID             string           `db:"id" json:"id"`
	JournalID      string           `db:"journal_id" json:"journal_id"`
	Phase          Phase            `db:"phase" json:"phase"`
	Kind           MappingKind      `db:"kind" json:"kind"`
	Payload        jsonx.RawMessage `db:"payload" json:"payload"`
	Spans          jsonx.RawMessage `db:"spans" json:"spans,omitempty"`
	Context        jsonx.RawMessage `db:"context" json:"context,omitempty"`
	Status         ItemStatus       `db:"status" json:"status"`
	CuratedPayload jsonx.RawMessage `db:"curated_payload" json:"curated_payload,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	DecidedAt      *time.Time       `db:"decided_at" json:"decided_at,omitempty"`
}

// EffectivePayload returns the curated payload when the curator edited the
// item, otherwise the original extraction payload.
func (i CurationItem) EffectivePayload() jsonx.RawMessage {
	if i.Status == StatusEdited && len(i.CuratedPayload) > 0 {
		return i.CuratedPayload
	}
	return i.Payload
}

// RelationContext lists additional entity UUIDs and proposed subtype strings
// that accompany relation-kind mappings into curation.
type RelationContext struct {
	EntityUUIDs   []string `json:"entity_uuids,omitempty"`
	ProposedTypes []string `json:"proposed_types,omitempty"`
}

// EntityMapping is an extraction result of kind entity: one entity candidate
// plus the source spans that support it.
type EntityMapping struct {
	Entity Entity `json:"-"`
	Spans  []Span `json:"spans,omitempty"`
}

// CuratableMapping is an extraction result of any non-entity kind. Exactly
// one of Entity, Relation, ConceptRelation is set, matching Kind.
type CuratableMapping struct {
	Kind            MappingKind       `json:"kind"`
	Entity          Entity            `json:"-"`
	Relation        *ProposedRelation `json:"relation,omitempty"`
	ConceptRelation *ConceptRelation  `json:"concept_relation,omitempty"`
	Spans           []Span            `json:"spans,omitempty"`
	Context         *RelationContext  `json:"context,omitempty"`
}
