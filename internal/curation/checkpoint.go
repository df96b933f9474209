package curation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/journal-graph-kernel/internal/errkind"
)

// SaveCheckpoint upserts the serialized pipeline state for a workflow. The
// orchestrator calls this after every state transition; the row is the sole
// source of truth for resumption.
func (s *Store) SaveCheckpoint(ctx context.Context, workflowID, stage string, state []byte) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_checkpoints (workflow_id, stage, state, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (workflow_id) DO UPDATE SET
	stage = excluded.stage,
	state = excluded.state,
	updated_at = excluded.updated_at`,
		workflowID, stage, state, now)
	if err != nil {
		return errkind.New(errkind.Transport, "curation.save_checkpoint", err)
	}
	return nil
}

// LoadCheckpoint returns the serialized state for a workflow. found is false
// when the workflow has never checkpointed.
func (s *Store) LoadCheckpoint(ctx context.Context, workflowID string) (state []byte, found bool, err error) {
	err = s.db.GetContext(ctx, &state, `
SELECT state FROM pipeline_checkpoints WHERE workflow_id = ?`, workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errkind.New(errkind.Transport, "curation.load_checkpoint", err)
	}
	return state, true, nil
}

// UnfinishedWorkflows lists workflow IDs whose last checkpoint is not in a
// terminal stage. The worker resumes these on startup.
func (s *Store) UnfinishedWorkflows(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
SELECT workflow_id FROM pipeline_checkpoints
WHERE stage NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
ORDER BY updated_at`)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "curation.unfinished_workflows", err)
	}
	return ids, nil
}

// DeleteCheckpoint removes a workflow's checkpoint row. Terminal rows are
// kept by default for inspection; this is for explicit cleanup.
func (s *Store) DeleteCheckpoint(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM pipeline_checkpoints WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return errkind.New(errkind.Transport, "curation.delete_checkpoint", err)
	}
	return nil
}
