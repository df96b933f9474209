// Package domain holds the typed model of the journal knowledge graph:
// entity variants, relations, journal entries, chunks, curation rows, and the
// durable pipeline state. Objects reference each other by UUID only; nothing
// in this package holds a pointer into the graph.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Partition tags every node with the graph partition it lives in. Declared at
// creation and immutable.
type Partition string

const (
	PartitionDomain   Partition = "DOMAIN"
	PartitionLexical  Partition = "LEXICAL"
	PartitionTemporal Partition = "TEMPORAL"
)

// EntityType discriminates the entity variants. It doubles as the node label
// in the graph store and as the codec discriminator.
type EntityType string

const (
	TypePerson         EntityType = "Person"
	TypePlace          EntityType = "Place"
	TypeConcept        EntityType = "Concept"
	TypeContent        EntityType = "Content"
	TypeConsumable     EntityType = "Consumable"
	TypeEvent          EntityType = "Event"
	TypeProject        EntityType = "Project"
	TypeEmotion        EntityType = "Emotion"
	TypeFeelingEmotion EntityType = "FeelingEmotion"
	TypeFeelingConcept EntityType = "FeelingConcept"
)

// EntityTypes lists every valid entity discriminator.
var EntityTypes = []EntityType{
	TypePerson, TypePlace, TypeConcept, TypeContent, TypeConsumable,
	TypeEvent, TypeProject, TypeEmotion, TypeFeelingEmotion, TypeFeelingConcept,
}

// ValidEntityType reports whether t names a known variant.
func ValidEntityType(t EntityType) bool {
	for _, v := range EntityTypes {
		if v == t {
			return true
		}
	}
	return false
}

// EntityCore carries the fields every entity variant shares. Summaries are
// capped at curation time: short ≤30 words, long ≤100 words.
type EntityCore struct {
	UUID         uuid.UUID `json:"uuid"`
	Name         string    `json:"name"`
	SummaryShort string    `json:"summary_short"`
	SummaryLong  string    `json:"summary_long"`
	CreatedAt    time.Time `json:"created_at"`
	Embedding    []float32 `json:"embedding,omitempty"`
}

// Entity is the closed union of entity variants. Concrete variants embed
// EntityCore; the codec reconstructs the concrete type from Type().
type Entity interface {
	Core() *EntityCore
	Type() EntityType
}

// Person is someone mentioned in a journal.
type Person struct {
	EntityCore
	Occupation   string `json:"occupation,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

func (p *Person) Core() *EntityCore { return &p.EntityCore }
func (p *Person) Type() EntityType  { return TypePerson }

// Place is a physical location.
type Place struct {
	EntityCore
	Region string `json:"region,omitempty"`
}

func (p *Place) Core() *EntityCore { return &p.EntityCore }
func (p *Place) Type() EntityType  { return TypePlace }

// Concept is an abstract idea the author engages with.
type Concept struct {
	EntityCore
	Domain string `json:"domain,omitempty"`
}

func (c *Concept) Core() *EntityCore { return &c.EntityCore }
func (c *Concept) Type() EntityType  { return TypeConcept }

// Content is a book, article, video, or similar consumed media.
type Content struct {
	EntityCore
	Medium string `json:"medium,omitempty"`
	Author string `json:"author,omitempty"`
}

func (c *Content) Core() *EntityCore { return &c.EntityCore }
func (c *Content) Type() EntityType  { return TypeContent }

// Consumable is food, drink, or a substance.
type Consumable struct {
	EntityCore
	Category string `json:"category,omitempty"`
}

func (c *Consumable) Core() *EntityCore { return &c.EntityCore }
func (c *Consumable) Type() EntityType  { return TypeConsumable }

// Event is something that happened at a time and place.
type Event struct {
	EntityCore
	Date            time.Time `json:"date,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Location        string    `json:"location,omitempty"`
}

func (e *Event) Core() *EntityCore { return &e.EntityCore }
func (e *Event) Type() EntityType  { return TypeEvent }

// ProjectStatus is the closed set of project lifecycle states.
type ProjectStatus string

const (
	ProjectNotStarted ProjectStatus = "not-started"
	ProjectActive     ProjectStatus = "active"
	ProjectOnHold     ProjectStatus = "on-hold"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s ProjectStatus) bool {
	switch s {
	case ProjectNotStarted, ProjectActive, ProjectOnHold, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}

// Project is an ongoing effort of the author.
type Project struct {
	EntityCore
	Status ProjectStatus `json:"status,omitempty"`
}

func (p *Project) Core() *EntityCore { return &p.EntityCore }
func (p *Project) Type() EntityType  { return TypeProject }

// Emotion is an emotion type node, not an instance of feeling it.
type Emotion struct {
	EntityCore
}

func (e *Emotion) Core() *EntityCore { return &e.EntityCore }
func (e *Emotion) Type() EntityType  { return TypeEmotion }

// EmotionName is the closed enumeration feelings are drawn from.
type EmotionName string

const (
	EmotionJoy          EmotionName = "joy"
	EmotionSadness      EmotionName = "sadness"
	EmotionAnger        EmotionName = "anger"
	EmotionFear         EmotionName = "fear"
	EmotionSurprise     EmotionName = "surprise"
	EmotionDisgust      EmotionName = "disgust"
	EmotionAnticipation EmotionName = "anticipation"
	EmotionTrust        EmotionName = "trust"
	EmotionPride        EmotionName = "pride"
	EmotionShame        EmotionName = "shame"
	EmotionGuilt        EmotionName = "guilt"
	EmotionContentment  EmotionName = "contentment"
	EmotionAnxiety      EmotionName = "anxiety"
	EmotionFrustration  EmotionName = "frustration"
	EmotionGratitude    EmotionName = "gratitude"
	EmotionExcitement   EmotionName = "excitement"
	EmotionLoneliness   EmotionName = "loneliness"
	EmotionHope         EmotionName = "hope"
	EmotionRelief       EmotionName = "relief"
	EmotionBoredom      EmotionName = "boredom"
)

// EmotionNames lists the closed feeling enumeration.
var EmotionNames = []EmotionName{
	EmotionJoy, EmotionSadness, EmotionAnger, EmotionFear, EmotionSurprise,
	EmotionDisgust, EmotionAnticipation, EmotionTrust, EmotionPride,
	EmotionShame, EmotionGuilt, EmotionContentment, EmotionAnxiety,
	EmotionFrustration, EmotionGratitude, EmotionExcitement,
	EmotionLoneliness, EmotionHope, EmotionRelief, EmotionBoredom,
}

// ValidEmotionName reports whether n is in the closed enumeration.
func ValidEmotionName(n EmotionName) bool {
	for _, v := range EmotionNames {
		if v == n {
			return true
		}
	}
	return false
}

// FeelingEmotion is an instance of a person feeling an emotion at a time.
// PersonUUID must reference a curated Person.
type FeelingEmotion struct {
	EntityCore
	PersonUUID uuid.UUID   `json:"person_uuid"`
	Emotion    EmotionName `json:"emotion"`
	FeltAt     time.Time   `json:"felt_at,omitempty"`
}

func (f *FeelingEmotion) Core() *EntityCore { return &f.EntityCore }
func (f *FeelingEmotion) Type() EntityType  { return TypeFeelingEmotion }

// FeelingConcept is a person holding a view of a concept.
type FeelingConcept struct {
	EntityCore
	PersonUUID  uuid.UUID `json:"person_uuid"`
	ConceptUUID uuid.UUID `json:"concept_uuid"`
	Stance      string    `json:"stance,omitempty"`
}

func (f *FeelingConcept) Core() *EntityCore { return &f.EntityCore }
func (f *FeelingConcept) Type() EntityType  { return TypeFeelingConcept }

// NewEntityOfType returns a zero value of the concrete variant for t.
// The codec uses this to fail closed on unknown discriminators.
func NewEntityOfType(t EntityType) (Entity, bool) {
	switch t {
	case TypePerson:
		return &Person{}, true
	case TypePlace:
		return &Place{}, true
	case TypeConcept:
		return &Concept{}, true
	case TypeContent:
		return &Content{}, true
	case TypeConsumable:
		return &Consumable{}, true
	case TypeEvent:
		return &Event{}, true
	case TypeProject:
		return &Project{}, true
	case TypeEmotion:
		return &Emotion{}, true
	case TypeFeelingEmotion:
		return &FeelingEmotion{}, true
	case TypeFeelingConcept:
		return &FeelingConcept{}, true
	}
	return nil, false
}
