package domain

import (
	"time"
)

// Stage is the durable pipeline state of one journal workflow.
type Stage string

const (
	StageSubmitted             Stage = "SUBMITTED"
	StageEntityProcessing      Stage = "ENTITY_PROCESSING"
	StageSubmitEntityCuration  Stage = "SUBMIT_ENTITY_CURATION"
	StageWaitEntityCuration    Stage = "WAIT_ENTITY_CURATION"
	StageRelationProcessing    Stage = "RELATION_PROCESSING"
	StageSubmitRelationCuration Stage = "SUBMIT_RELATION_CURATION"
	StageWaitRelationCuration  Stage = "WAIT_RELATION_CURATION"
	StageDBWrite               Stage = "DB_WRITE"
	StageCompleted             Stage = "COMPLETED"
	StageFailed                Stage = "FAILED"
	StageCancelled             Stage = "CANCELLED"
)

// Terminal reports whether no further transitions leave s.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCancelled:
		return true
	}
	return false
}

// Next returns the successor stage on success. Terminal stages return
// themselves.
func (s Stage) Next() Stage {
	switch s {
	case StageSubmitted:
		return StageEntityProcessing
	case StageEntityProcessing:
		return StageSubmitEntityCuration
	case StageSubmitEntityCuration:
		return StageWaitEntityCuration
	case StageWaitEntityCuration:
		return StageRelationProcessing
	case StageRelationProcessing:
		return StageSubmitRelationCuration
	case StageSubmitRelationCuration:
		return StageWaitRelationCuration
	case StageWaitRelationCuration:
		return StageDBWrite
	case StageDBWrite:
		return StageCompleted
	}
	return s
}

// PipelineState is the complete durable state of one journal workflow. It is
// the unit of checkpointing: the codec encodes it after every transition, and
// a resumed workflow reconstructs exactly this value.
type PipelineState struct {
	WorkflowID         string             `json:"workflow_id"`
	Stage              Stage              `json:"stage"`
	Journal            *JournalEntry      `json:"journal,omitempty"`
	Tree               *ChunkTree         `json:"tree,omitempty"`
	EntitiesExtracted  []EntityMapping    `json:"-"`
	EntitiesCurated    []Entity           `json:"-"`
	RelationsExtracted []CuratableMapping `json:"-"`
	RelationsCurated   []CuratableMapping `json:"-"`
	ErrorCount         int                `json:"error_count"`
	LastErrorKind      string             `json:"last_error_kind,omitempty"`
	LastError          string             `json:"last_error,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// WorkflowStatus is the user-visible answer to the orchestrator's status
// query.
type WorkflowStatus struct {
	WorkflowID string `json:"workflow_id"`
	Stage      Stage  `json:"stage"`
	ErrorKind  string `json:"error_kind,omitempty"`
	ShortMsg   string `json:"short_message,omitempty"`
}

// WorkflowResult is the terminal output of one journal workflow.
type WorkflowResult struct {
	JournalUUID string         `json:"journal_uuid"`
	Stage       Stage          `json:"stage"`
	Counts      WorkflowCounts `json:"counts"`
}

// WorkflowCounts summarizes what DB_WRITE committed.
type WorkflowCounts struct {
	Entities         int `json:"entities"`
	Relations        int `json:"relations"`
	ConceptRelations int `json:"concept_relations"`
	Feelings         int `json:"feelings"`
	Mentions         int `json:"mentions"`
}

// SubmitInput is the workflow input: one journal to process.
type SubmitInput struct {
	JournalUUID string `json:"journal_uuid"`
	Date        string `json:"date"`
	RawText     string `json:"raw_text"`
}
