// Package curation is the durable SQLite store for items pending human
// decision, the per-journal phase table, and the pipeline checkpoint rows.
// The orchestrator polls it; a curation UI writes decisions. Every mutation
// is a single-statement transaction so concurrent readers never block on a
// half-applied write.
package curation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/errkind"
	"github.com/journal-graph-kernel/internal/jsonx"
)

const timeLayout = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS curation_items (
	id              TEXT PRIMARY KEY,
	journal_id      TEXT NOT NULL,
	phase           TEXT NOT NULL,
	kind            TEXT NOT NULL,
	payload         BLOB NOT NULL,
	spans           BLOB,
	context         BLOB,
	status          TEXT NOT NULL DEFAULT 'pending',
	curated_payload BLOB,
	created_at      TEXT NOT NULL,
	decided_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_items_journal_phase
	ON curation_items (journal_id, phase, status);

CREATE TABLE IF NOT EXISTS journal_phases (
	journal_id   TEXT NOT NULL,
	phase        TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	PRIMARY KEY (journal_id, phase)
);

CREATE TABLE IF NOT EXISTS pipeline_checkpoints (
	workflow_id TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	state       BLOB NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// Store is the SQLite-backed curation and checkpoint store.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the store at path and applies the schema.
// WAL mode keeps orchestrator polls from blocking UI writes.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errkind.New(errkind.Config, "curation.open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errkind.New(errkind.Config, "curation.open", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errkind.New(errkind.Config, "curation.open", err)
	}
	return &Store{db: db, logger: logger.Named("curation")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// itemRow is the flat DB shape of a CurationItem.
type itemRow struct {
	ID             string         `db:"id"`
	JournalID      string         `db:"journal_id"`
	Phase          string         `db:"phase"`
	Kind           string         `db:"kind"`
	Payload        []byte         `db:"payload"`
	Spans          []byte         `db:"spans"`
	Context        []byte         `db:"context"`
	Status         string         `db:"status"`
	CuratedPayload []byte         `db:"curated_payload"`
	CreatedAt      string         `db:"created_at"`
	DecidedAt      sql.NullString `db:"decided_at"`
}

func (r itemRow) toItem() (domain.CurationItem, error) {
	item := domain.CurationItem{
		ID:             r.ID,
		JournalID:      r.JournalID,
		Phase:          domain.Phase(r.Phase),
		Kind:           domain.MappingKind(r.Kind),
		Payload:        jsonx.RawMessage(r.Payload),
		Spans:          jsonx.RawMessage(r.Spans),
		Context:        jsonx.RawMessage(r.Context),
		Status:         domain.ItemStatus(r.Status),
		CuratedPayload: jsonx.RawMessage(r.CuratedPayload),
	}
	created, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return item, err
	}
	item.CreatedAt = created
	if r.DecidedAt.Valid {
		decided, err := time.Parse(timeLayout, r.DecidedAt.String)
		if err != nil {
			return item, err
		}
		item.DecidedAt = &decided
	}
	return item, nil
}

// Enqueue inserts items for a journal's phase. Re-enqueueing an existing item
// ID is a no-op, so a retried CURATE stage does not duplicate rows.
func (s *Store) Enqueue(ctx context.Context, journalID string, phase domain.Phase, items []domain.CurationItem) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(timeLayout)
	for _, item := range items {
		created := now
		if !item.CreatedAt.IsZero() {
			created = item.CreatedAt.UTC().Format(timeLayout)
		}
		_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO curation_items
	(id, journal_id, phase, kind, payload, spans, context, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
			item.ID, journalID, string(phase), string(item.Kind),
			[]byte(item.Payload), []byte(item.Spans), []byte(item.Context), created)
		if err != nil {
			return errkind.New(errkind.Transport, "curation.enqueue", err)
		}
	}
	s.logger.Debug("enqueued curation items",
		zap.String("journal", journalID),
		zap.String("phase", string(phase)),
		zap.Int("count", len(items)))
	return nil
}

// PendingCount returns the number of undecided items for a journal's phase.
func (s *Store) PendingCount(ctx context.Context, journalID string, phase domain.Phase) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
SELECT COUNT(*) FROM curation_items
WHERE journal_id = ? AND phase = ? AND status = 'pending'`,
		journalID, string(phase))
	if err != nil {
		return 0, errkind.New(errkind.Transport, "curation.pending_count", err)
	}
	return n, nil
}

// Approved returns the approved and edited items for a journal's phase, in
// enqueue order. Edited items carry their curated payload.
func (s *Store) Approved(ctx context.Context, journalID string, phase domain.Phase) ([]domain.CurationItem, error) {
	var rows []itemRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM curation_items
WHERE journal_id = ? AND phase = ? AND status IN ('approved', 'edited')
ORDER BY created_at, id`,
		journalID, string(phase))
	if err != nil {
		return nil, errkind.New(errkind.Transport, "curation.approved", err)
	}
	items := make([]domain.CurationItem, 0, len(rows))
	for _, r := range rows {
		item, err := r.toItem()
		if err != nil {
			return nil, errkind.New(errkind.Consistency, "curation.approved", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Decide records a curator's verdict on one item. A decided item is
// immutable; deciding it again fails.
func (s *Store) Decide(ctx context.Context, journalID, itemID string, decision domain.Decision, curatedPayload jsonx.RawMessage) error {
	var status domain.ItemStatus
	switch decision {
	case domain.DecisionApprove:
		status = domain.StatusApproved
	case domain.DecisionReject:
		status = domain.StatusRejected
	case domain.DecisionEdit:
		if len(curatedPayload) == 0 {
			return errkind.Newf(errkind.Consistency, "curation.decide",
				"edit decision requires a curated payload")
		}
		status = domain.StatusEdited
	default:
		return errkind.Newf(errkind.Consistency, "curation.decide",
			"unknown decision %q", decision)
	}

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
UPDATE curation_items
SET status = ?, curated_payload = ?, decided_at = ?
WHERE journal_id = ? AND id = ? AND status = 'pending'`,
		string(status), []byte(curatedPayload), now, journalID, itemID)
	if err != nil {
		return errkind.New(errkind.Transport, "curation.decide", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errkind.New(errkind.Transport, "curation.decide", err)
	}
	if affected == 0 {
		return errkind.Newf(errkind.Consistency, "curation.decide",
			"item %s is not pending (missing or already decided)", itemID)
	}
	return nil
}

// MarkPhaseComplete records that a journal's phase is done. It fails while
// undecided items remain; marking an already-complete phase is a no-op.
func (s *Store) MarkPhaseComplete(ctx context.Context, journalID string, phase domain.Phase) error {
	pending, err := s.PendingCount(ctx, journalID, phase)
	if err != nil {
		return err
	}
	if pending > 0 {
		return errkind.Newf(errkind.Consistency, "curation.mark_phase_complete",
			"journal %s phase %s has %d pending items", journalID, phase, pending)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO journal_phases (journal_id, phase, completed_at)
VALUES (?, ?, ?)`,
		journalID, string(phase), now)
	if err != nil {
		return errkind.New(errkind.Transport, "curation.mark_phase_complete", err)
	}
	return nil
}

// PhaseComplete reports whether a journal's phase has been marked complete.
func (s *Store) PhaseComplete(ctx context.Context, journalID string, phase domain.Phase) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
SELECT COUNT(*) FROM journal_phases WHERE journal_id = ? AND phase = ?`,
		journalID, string(phase))
	if err != nil {
		return false, errkind.New(errkind.Transport, "curation.phase_complete", err)
	}
	return n > 0, nil
}

// Items returns every item for a journal, newest phase first. Used by the
// curation CLI to show the review queue.
func (s *Store) Items(ctx context.Context, journalID string) ([]domain.CurationItem, error) {
	var rows []itemRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM curation_items
WHERE journal_id = ?
ORDER BY phase, created_at, id`,
		journalID)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "curation.items", err)
	}
	items := make([]domain.CurationItem, 0, len(rows))
	for _, r := range rows {
		item, err := r.toItem()
		if err != nil {
			return nil, errkind.New(errkind.Consistency, "curation.items", err)
		}
		items = append(items, item)
	}
	return items, nil
}
