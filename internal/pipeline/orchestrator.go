// Package pipeline is the durable per-journal state machine. Each journal
// runs as one workflow: a sequence of checkpointed stages from SUBMITTED to
// COMPLETED, suspending twice for human curation. Every transition writes a
// checkpoint; a crashed process resumes each unfinished workflow from its
// last checkpoint without re-executing completed stages.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/journal-graph-kernel/internal/chunk"
	"github.com/journal-graph-kernel/internal/codec"
	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/errkind"
	"github.com/journal-graph-kernel/internal/extract"
	"github.com/journal-graph-kernel/internal/graph"
	"github.com/journal-graph-kernel/internal/journal"
	"github.com/journal-graph-kernel/internal/jsonx"
)

// Extractor is the extraction-stage surface the orchestrator drives.
type Extractor interface {
	ExtractEntities(ctx context.Context, in *extract.Input) ([]domain.EntityMapping, error)
	ExtractRelations(ctx context.Context, in *extract.Input) ([]domain.CuratableMapping, error)
}

// GraphStore is the graph write surface for SUBMITTED and DB_WRITE.
type GraphStore interface {
	PersistJournalEntry(ctx context.Context, entry *domain.JournalEntry, tree *domain.ChunkTree) error
	LinkJournalToDay(ctx context.Context, journalUUID uuid.UUID, date time.Time) error
	CreateEntity(ctx context.Context, e domain.Entity) (uuid.UUID, error)
	CreateFullRelation(ctx context.Context, rel domain.Relation) error
	CreateMentionsBatch(ctx context.Context, mentions []graph.Mention) error
	SetEmbedding(ctx context.Context, label string, id uuid.UUID, embedding []float32) error
}

// CurationStore is the curation and checkpoint surface.
type CurationStore interface {
	Enqueue(ctx context.Context, journalID string, phase domain.Phase, items []domain.CurationItem) error
	PendingCount(ctx context.Context, journalID string, phase domain.Phase) (int, error)
	Approved(ctx context.Context, journalID string, phase domain.Phase) ([]domain.CurationItem, error)
	MarkPhaseComplete(ctx context.Context, journalID string, phase domain.Phase) error
	SaveCheckpoint(ctx context.Context, workflowID, stage string, state []byte) error
	LoadCheckpoint(ctx context.Context, workflowID string) ([]byte, bool, error)
	UnfinishedWorkflows(ctx context.Context) ([]string, error)
}

// Embedder supplies embedding vectors for the DB_WRITE embedding pass.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Committed describes what one workflow wrote, for post-commit projections
// such as the vault write-back.
type Committed struct {
	Journal          *domain.JournalEntry
	Entities         []domain.Entity
	ConceptRelations []domain.ConceptRelation
}

// CommitHook runs after a successful DB_WRITE. Failures are logged, never
// fatal: the graph commit already happened.
type CommitHook func(ctx context.Context, committed *Committed)

// Config holds the orchestrator's timing and concurrency knobs.
type Config struct {
	// PollInterval is how often WAIT states poll the curation store.
	PollInterval time.Duration
	// Heartbeat is how often WAIT states log liveness.
	Heartbeat time.Duration
	// WaitDeadline bounds how long a WAIT state may last.
	WaitDeadline time.Duration
	// StageTimeout bounds each non-WAIT stage.
	StageTimeout time.Duration
	// MaxStageRetries bounds retries of one stage before the workflow fails.
	MaxStageRetries int
	// RetryCap bounds the backoff interval between stage retries.
	RetryCap time.Duration
	// MaxConcurrent bounds simultaneously running workflows.
	MaxConcurrent int64
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    30 * time.Second,
		Heartbeat:       2 * time.Minute,
		WaitDeadline:    7 * 24 * time.Hour,
		StageTimeout:    10 * time.Minute,
		MaxStageRetries: 3,
		RetryCap:        30 * time.Second,
		MaxConcurrent:   16,
	}
}

// Orchestrator runs journal workflows.
type Orchestrator struct {
	cfg       *Config
	parser    *journal.Parser
	extractor Extractor
	graph     GraphStore
	store     CurationStore
	embedder  Embedder
	onCommit  CommitHook
	logger    *zap.Logger

	sem *semaphore.Weighted

	mu        sync.Mutex
	running   map[string]context.CancelFunc
	cancelled map[string]struct{}
	wg        sync.WaitGroup
}

// New creates an orchestrator. embedder and onCommit may be nil.
func New(cfg *Config, extractor Extractor, gs GraphStore, store CurationStore, embedder Embedder, onCommit CommitHook, logger *zap.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		parser:    journal.NewParser(logger),
		extractor: extractor,
		graph:     gs,
		store:     store,
		embedder:  embedder,
		onCommit:  onCommit,
		logger:    logger.Named("pipeline"),
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		running:   make(map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
}

// WorkflowID derives the durable workflow identity of a journal.
func WorkflowID(journalUUID string) string {
	return "journal:" + journalUUID
}

// Start begins (or resumes) the workflow for a journal. Starting a workflow
// whose ID already has a checkpoint resumes it; a terminal checkpoint makes
// the call a no-op. The workflow runs on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context, in domain.SubmitInput) (string, error) {
	workflowID := WorkflowID(in.JournalUUID)

	state, found, err := o.loadState(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if found {
		if state.Stage.Terminal() {
			o.logger.Info("workflow already terminal, ignoring start",
				zap.String("workflow", workflowID),
				zap.String("stage", string(state.Stage)))
			return workflowID, nil
		}
		return workflowID, o.launch(ctx, state)
	}

	journalUUID, err := uuid.Parse(in.JournalUUID)
	if err != nil {
		return "", errkind.Newf(errkind.Consistency, "pipeline.start", "bad journal uuid %q", in.JournalUUID)
	}
	entry, err := o.parser.Parse(journalUUID, in.Date, in.RawText)
	if err != nil {
		return "", errkind.New(errkind.Consistency, "pipeline.start", err)
	}
	now := time.Now().UTC()
	state = &domain.PipelineState{
		WorkflowID: workflowID,
		Stage:      domain.StageSubmitted,
		Journal:    entry,
		Tree:       chunk.Build(journalUUID, entry.Narration),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.checkpoint(ctx, state); err != nil {
		return "", err
	}
	return workflowID, o.launch(ctx, state)
}

// ResumeAll restarts every unfinished workflow found in the checkpoint table.
// Called once at worker startup.
func (o *Orchestrator) ResumeAll(ctx context.Context) error {
	ids, err := o.store.UnfinishedWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		state, found, err := o.loadState(ctx, id)
		if err != nil || !found {
			o.logger.Warn("skipping unresumable workflow",
				zap.String("workflow", id), zap.Error(err))
			continue
		}
		if err := o.launch(ctx, state); err != nil {
			o.logger.Warn("workflow resume failed",
				zap.String("workflow", id), zap.Error(err))
		}
	}
	o.logger.Info("resumed unfinished workflows", zap.Int("count", len(ids)))
	return nil
}

// Cancel requests cooperative cancellation of a running workflow. Only an
// explicit cancel is terminal; a context cancelled by process shutdown leaves
// the checkpoint resumable instead.
func (o *Orchestrator) Cancel(workflowID string) bool {
	o.mu.Lock()
	cancel, ok := o.running[workflowID]
	if ok {
		o.cancelled[workflowID] = struct{}{}
	}
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) cancelRequested(workflowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancelled[workflowID]
	return ok
}

// Status answers the user-visible status query from the last checkpoint.
func (o *Orchestrator) Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error) {
	state, found, err := o.loadState(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errkind.Newf(errkind.Consistency, "pipeline.status",
			"workflow %s not found", workflowID)
	}
	return &domain.WorkflowStatus{
		WorkflowID: state.WorkflowID,
		Stage:      state.Stage,
		ErrorKind:  state.LastErrorKind,
		ShortMsg:   state.LastError,
	}, nil
}

// Wait blocks until every running workflow has stopped.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// launch runs the workflow loop on its own goroutine. Only one goroutine per
// workflow ID may run at a time.
func (o *Orchestrator) launch(ctx context.Context, state *domain.PipelineState) error {
	o.mu.Lock()
	if _, exists := o.running[state.WorkflowID]; exists {
		o.mu.Unlock()
		return nil
	}
	wfCtx, cancel := context.WithCancel(ctx)
	o.running[state.WorkflowID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.running, state.WorkflowID)
			delete(o.cancelled, state.WorkflowID)
			o.mu.Unlock()
		}()
		if err := o.sem.Acquire(wfCtx, 1); err != nil {
			o.stopWorkflow(state, err)
			return
		}
		defer o.sem.Release(1)
		o.runLoop(wfCtx, state)
	}()
	return nil
}

// runLoop drives the state machine until a terminal stage.
func (o *Orchestrator) runLoop(ctx context.Context, state *domain.PipelineState) {
	logger := o.logger.With(zap.String("workflow", state.WorkflowID))
	for !state.Stage.Terminal() {
		if ctx.Err() != nil {
			o.stopWorkflow(state, ctx.Err())
			return
		}

		err := o.runStageWithRetry(ctx, state, logger)
		if err != nil {
			kind := errkind.KindOf(err)
			state.LastErrorKind = string(kind)
			state.LastError = errkind.Truncate(err.Error())
			if kind == errkind.Cancelled {
				o.stopWorkflow(state, err)
			} else {
				logger.Error("stage failed terminally",
					zap.String("stage", string(state.Stage)),
					zap.String("kind", string(kind)),
					zap.Error(err))
				o.recordTerminal(state, domain.StageFailed, kind, err)
			}
			return
		}

		state.Stage = state.Stage.Next()
		state.ErrorCount = 0
		state.LastErrorKind = ""
		state.LastError = ""
		state.UpdatedAt = time.Now().UTC()
		if err := o.checkpoint(ctx, state); err != nil {
			logger.Error("checkpoint failed", zap.Error(err))
			o.recordTerminal(state, domain.StageFailed, errkind.KindOf(err), err)
			return
		}
		transitionsTotal.WithLabelValues(string(state.Stage)).Inc()
		logger.Info("stage transition", zap.String("stage", string(state.Stage)))
	}
	logger.Info("workflow finished", zap.String("stage", string(state.Stage)))
}

// runStageWithRetry executes the current stage's entry action, retrying
// retryable failures up to the stage budget. Each retry is checkpointed so a
// crash mid-retry resumes with the error count intact.
func (o *Orchestrator) runStageWithRetry(ctx context.Context, state *domain.PipelineState, logger *zap.Logger) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = o.cfg.RetryCap
	bo.MaxElapsedTime = 0

	for {
		err := o.runStage(ctx, state)
		if err == nil {
			return nil
		}
		kind := errkind.KindOf(err)
		if !kind.Retryable() || state.ErrorCount >= o.cfg.MaxStageRetries {
			return err
		}
		stageRetriesTotal.WithLabelValues(string(state.Stage)).Inc()
		state.ErrorCount++
		state.LastErrorKind = string(kind)
		state.LastError = errkind.Truncate(err.Error())
		state.UpdatedAt = time.Now().UTC()
		if cpErr := o.checkpoint(ctx, state); cpErr != nil {
			return cpErr
		}
		wait := bo.NextBackOff()
		logger.Warn("stage retrying",
			zap.String("stage", string(state.Stage)),
			zap.Int("attempt", state.ErrorCount),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return errkind.New(errkind.Cancelled, "pipeline.retry", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// stopWorkflow handles a cancelled context. An explicitly cancelled workflow
// becomes terminal; one interrupted by shutdown keeps its last checkpoint and
// resumes on the next start.
func (o *Orchestrator) stopWorkflow(state *domain.PipelineState, err error) {
	if o.cancelRequested(state.WorkflowID) {
		o.recordTerminal(state, domain.StageCancelled, errkind.Cancelled, err)
		return
	}
	o.logger.Info("workflow suspended",
		zap.String("workflow", state.WorkflowID),
		zap.String("stage", string(state.Stage)))
}

// recordTerminal moves the workflow to a terminal stage and checkpoints it
// on a background context so cancellation cannot lose the terminal record.
func (o *Orchestrator) recordTerminal(state *domain.PipelineState, stage domain.Stage, kind errkind.Kind, err error) {
	if stage == domain.StageFailed {
		failuresTotal.WithLabelValues(string(kind)).Inc()
	}
	state.Stage = stage
	state.LastErrorKind = string(kind)
	if err != nil {
		state.LastError = errkind.Truncate(err.Error())
	}
	state.UpdatedAt = time.Now().UTC()
	cpCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cpErr := o.checkpoint(cpCtx, state); cpErr != nil {
		o.logger.Error("terminal checkpoint failed",
			zap.String("workflow", state.WorkflowID), zap.Error(cpErr))
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context, state *domain.PipelineState) error {
	encoded, err := codec.MarshalPipelineState(state)
	if err != nil {
		return errkind.New(errkind.Consistency, "pipeline.checkpoint", err)
	}
	return o.store.SaveCheckpoint(ctx, state.WorkflowID, string(state.Stage), encoded)
}

func (o *Orchestrator) loadState(ctx context.Context, workflowID string) (*domain.PipelineState, bool, error) {
	encoded, found, err := o.store.LoadCheckpoint(ctx, workflowID)
	if err != nil || !found {
		return nil, false, err
	}
	state, err := codec.UnmarshalPipelineState(encoded)
	if err != nil {
		return nil, false, errkind.New(errkind.Consistency, "pipeline.load", err)
	}
	return state, true, nil
}

// journalID extracts the journal UUID string from a workflow's state.
func journalID(state *domain.PipelineState) string {
	return state.Journal.UUID.String()
}

// spansJSON encodes spans for the curation row's spans column.
func spansJSON(spans []domain.Span) jsonx.RawMessage {
	if len(spans) == 0 {
		return nil
	}
	data, err := jsonx.Marshal(spans)
	if err != nil {
		return nil
	}
	return data
}
