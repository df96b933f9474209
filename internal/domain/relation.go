package domain

import (
	"time"

	"github.com/google/uuid"
)

// Relation is a reified semantic relation. It exists in the graph twice: as a
// direct RELATED_TO edge carrying EdgeUUID, and as a Relation node holding the
// same EdgeUUID so both sides can be located and mutated atomically. The node
// and the edge must agree on Type, SummaryShort, and CreatedAt at all times.
type Relation struct {
	UUID         uuid.UUID `json:"uuid"`
	EdgeUUID     uuid.UUID `json:"edge_uuid"`
	SourceUUID   uuid.UUID `json:"source_uuid"`
	TargetUUID   uuid.UUID `json:"target_uuid"`
	RelationType string    `json:"relation_type"`
	SummaryShort string    `json:"summary_short"`
	SummaryLong  string    `json:"summary_long,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RelationPatch is a partial update to a reified relation. Nil fields are left
// untouched. Patching Type or SummaryShort cascades to the direct edge inside
// the same transaction.
type RelationPatch struct {
	RelationType *string `json:"relation_type,omitempty"`
	SummaryShort *string `json:"summary_short,omitempty"`
	SummaryLong  *string `json:"summary_long,omitempty"`
}

// ConceptRelationType is the closed set of concept-to-concept relation types.
type ConceptRelationType string

const (
	Generalizes ConceptRelationType = "GENERALIZES"
	SpecificOf  ConceptRelationType = "SPECIFIC_OF"
	PartOf      ConceptRelationType = "PART_OF"
	HasPart     ConceptRelationType = "HAS_PART"
	Supports    ConceptRelationType = "SUPPORTS"
	SupportedBy ConceptRelationType = "SUPPORTED_BY"
	Opposes     ConceptRelationType = "OPPOSES"
	SimilarTo   ConceptRelationType = "SIMILAR_TO"
	RelatesTo   ConceptRelationType = "RELATES_TO"
)

// conceptInverses maps each directional type to its inverse. Symmetric types
// map to themselves.
var conceptInverses = map[ConceptRelationType]ConceptRelationType{
	Generalizes: SpecificOf,
	SpecificOf:  Generalizes,
	PartOf:      HasPart,
	HasPart:     PartOf,
	Supports:    SupportedBy,
	SupportedBy: Supports,
	Opposes:     Opposes,
	SimilarTo:   SimilarTo,
	RelatesTo:   RelatesTo,
}

// ValidConceptRelationType reports whether t is in the closed set.
func ValidConceptRelationType(t ConceptRelationType) bool {
	_, ok := conceptInverses[t]
	return ok
}

// Inverse returns the inverse relation type. For symmetric types the inverse
// is the type itself.
func (t ConceptRelationType) Inverse() (ConceptRelationType, bool) {
	inv, ok := conceptInverses[t]
	return inv, ok
}

// Symmetric reports whether t is its own inverse.
func (t ConceptRelationType) Symmetric() bool {
	inv, ok := conceptInverses[t]
	return ok && inv == t
}

// ConceptRelation is a restricted Relation between two Concepts whose type is
// drawn from the closed set. Recording a directional pair always records the
// inverse as well; symmetric pairs are recorded once per direction without
// duplicates.
type ConceptRelation struct {
	UUID         uuid.UUID           `json:"uuid"`
	EdgeUUID     uuid.UUID           `json:"edge_uuid"`
	SourceUUID   uuid.UUID           `json:"source_uuid"`
	TargetUUID   uuid.UUID           `json:"target_uuid"`
	RelationType ConceptRelationType `json:"relation_type"`
	SummaryShort string              `json:"summary_short"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// ProposedRelation is a relation candidate produced by the extraction stages,
// before curation assigns it a final shape. ProposedTypes carries the
// subtype strings the model suggested for the direct edge.
type ProposedRelation struct {
	UUID          uuid.UUID `json:"uuid"`
	SourceUUID    uuid.UUID `json:"source_uuid"`
	TargetUUID    uuid.UUID `json:"target_uuid"`
	ProposedTypes []string  `json:"proposed_types,omitempty"`
	SummaryShort  string    `json:"summary_short"`
	SummaryLong   string    `json:"summary_long,omitempty"`
}

// Reify converts an approved proposal into a full Relation, picking the first
// proposed type (or RELATED_TO when the model offered none).
func (p ProposedRelation) Reify(now time.Time) Relation {
	relType := "RELATED_TO"
	if len(p.ProposedTypes) > 0 {
		relType = p.ProposedTypes[0]
	}
	id := p.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return Relation{
		UUID:         id,
		EdgeUUID:     uuid.New(),
		SourceUUID:   p.SourceUUID,
		TargetUUID:   p.TargetUUID,
		RelationType: relType,
		SummaryShort: p.SummaryShort,
		SummaryLong:  p.SummaryLong,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
