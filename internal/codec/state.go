package codec

import (
	"fmt"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/jsonx"
)

// stateWire is the encoded form of a PipelineState. Every polymorphic slice
// is stored as a list of tagged payloads so a resumed workflow gets typed
// lists back, not maps.
type stateWire struct {
	WorkflowID         string              `json:"workflow_id"`
	Stage              domain.Stage        `json:"stage"`
	Journal            *domain.JournalEntry `json:"journal,omitempty"`
	Tree               *domain.ChunkTree   `json:"tree,omitempty"`
	EntitiesExtracted  []jsonx.RawMessage  `json:"entities_extracted,omitempty"`
	EntitiesCurated    jsonx.RawMessage    `json:"entities_curated,omitempty"`
	RelationsExtracted []jsonx.RawMessage  `json:"relations_extracted,omitempty"`
	RelationsCurated   []jsonx.RawMessage  `json:"relations_curated,omitempty"`
	ErrorCount         int                 `json:"error_count"`
	LastErrorKind      string              `json:"last_error_kind,omitempty"`
	LastError          string              `json:"last_error,omitempty"`
	CreatedAt          string              `json:"created_at"`
	UpdatedAt          string              `json:"updated_at"`
}

// MarshalPipelineState encodes a checkpoint, wrapped in a pipeline-state
// envelope.
func MarshalPipelineState(s *domain.PipelineState) ([]byte, error) {
	w := stateWire{
		WorkflowID:    s.WorkflowID,
		Stage:         s.Stage,
		Journal:       s.Journal,
		Tree:          s.Tree,
		ErrorCount:    s.ErrorCount,
		LastErrorKind: s.LastErrorKind,
		LastError:     s.LastError,
		CreatedAt:     s.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:     s.UpdatedAt.UTC().Format(timeLayout),
	}
	for _, m := range s.EntitiesExtracted {
		enc, err := MarshalEntityMapping(m)
		if err != nil {
			return nil, err
		}
		w.EntitiesExtracted = append(w.EntitiesExtracted, enc)
	}
	if len(s.EntitiesCurated) > 0 {
		enc, err := MarshalEntityList(s.EntitiesCurated)
		if err != nil {
			return nil, err
		}
		w.EntitiesCurated = enc
	}
	for _, m := range s.RelationsExtracted {
		enc, err := MarshalCuratableMapping(m)
		if err != nil {
			return nil, err
		}
		w.RelationsExtracted = append(w.RelationsExtracted, enc)
	}
	for _, m := range s.RelationsCurated {
		enc, err := MarshalCuratableMapping(m)
		if err != nil {
			return nil, err
		}
		w.RelationsCurated = append(w.RelationsCurated, enc)
	}
	payload, err := jsonx.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("codec: pipeline state: %w", err)
	}
	return Wrap(CodePipelineState, payload)
}

// UnmarshalPipelineState decodes a checkpoint back into a fully typed state.
func UnmarshalPipelineState(data []byte) (*domain.PipelineState, error) {
	payload, err := Open(data, CodePipelineState)
	if err != nil {
		return nil, err
	}
	var w stateWire
	if err := jsonx.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("codec: pipeline state: %w", err)
	}
	s := &domain.PipelineState{
		WorkflowID:    w.WorkflowID,
		Stage:         w.Stage,
		Journal:       w.Journal,
		Tree:          w.Tree,
		ErrorCount:    w.ErrorCount,
		LastErrorKind: w.LastErrorKind,
		LastError:     w.LastError,
	}
	s.CreatedAt, err = parseTime(w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("codec: pipeline state created_at: %w", err)
	}
	s.UpdatedAt, err = parseTime(w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("codec: pipeline state updated_at: %w", err)
	}
	for _, enc := range w.EntitiesExtracted {
		m, err := UnmarshalEntityMapping(enc)
		if err != nil {
			return nil, err
		}
		s.EntitiesExtracted = append(s.EntitiesExtracted, m)
	}
	if len(w.EntitiesCurated) > 0 {
		es, err := UnmarshalEntityList(w.EntitiesCurated)
		if err != nil {
			return nil, err
		}
		s.EntitiesCurated = es
	}
	for _, enc := range w.RelationsExtracted {
		m, err := UnmarshalCuratableMapping(enc)
		if err != nil {
			return nil, err
		}
		s.RelationsExtracted = append(s.RelationsExtracted, m)
	}
	for _, enc := range w.RelationsCurated {
		m, err := UnmarshalCuratableMapping(enc)
		if err != nil {
			return nil, err
		}
		s.RelationsCurated = append(s.RelationsCurated, m)
	}
	return s, nil
}
