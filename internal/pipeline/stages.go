package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/codec"
	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/errkind"
	"github.com/journal-graph-kernel/internal/extract"
	"github.com/journal-graph-kernel/internal/graph"
	"github.com/journal-graph-kernel/internal/jsonx"
	"github.com/journal-graph-kernel/internal/span"
)

// runStage executes the entry action of the current stage. Non-WAIT stages
// run under the stage timeout; WAIT stages run their own polling protocol.
func (o *Orchestrator) runStage(ctx context.Context, state *domain.PipelineState) error {
	switch state.Stage {
	case domain.StageWaitEntityCuration:
		return o.waitForPhase(ctx, state, domain.PhaseEntity)
	case domain.StageWaitRelationCuration:
		return o.waitForPhase(ctx, state, domain.PhaseRelation)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	switch state.Stage {
	case domain.StageSubmitted:
		return o.stageSubmitted(stageCtx, state)
	case domain.StageEntityProcessing:
		return o.stageEntityProcessing(stageCtx, state)
	case domain.StageSubmitEntityCuration:
		return o.stageSubmitEntityCuration(stageCtx, state)
	case domain.StageRelationProcessing:
		return o.stageRelationProcessing(stageCtx, state)
	case domain.StageSubmitRelationCuration:
		return o.stageSubmitRelationCuration(stageCtx, state)
	case domain.StageDBWrite:
		return o.stageDBWrite(stageCtx, state)
	}
	return errkind.Newf(errkind.Consistency, "pipeline.run_stage",
		"no entry action for stage %s", state.Stage)
}

// stageSubmitted persists the journal text with its chunk tree and links the
// entry into the temporal spine.
func (o *Orchestrator) stageSubmitted(ctx context.Context, state *domain.PipelineState) error {
	if err := o.graph.PersistJournalEntry(ctx, state.Journal, state.Tree); err != nil {
		return err
	}
	return o.graph.LinkJournalToDay(ctx, state.Journal.UUID, state.Journal.Date)
}

// stageEntityProcessing runs the entity extraction stages.
func (o *Orchestrator) stageEntityProcessing(ctx context.Context, state *domain.PipelineState) error {
	mappings, err := o.extractor.ExtractEntities(ctx, o.extractionInput(state, nil))
	if err != nil {
		return err
	}
	state.EntitiesExtracted = mappings
	return nil
}

// stageSubmitEntityCuration enqueues the extracted entities under the entity
// phase. Item IDs derive from entity UUIDs, so a retried enqueue is a no-op.
func (o *Orchestrator) stageSubmitEntityCuration(ctx context.Context, state *domain.PipelineState) error {
	items := make([]domain.CurationItem, 0, len(state.EntitiesExtracted))
	for _, m := range state.EntitiesExtracted {
		payload, err := codec.MarshalEntityMapping(m)
		if err != nil {
			return errkind.New(errkind.Consistency, "pipeline.submit_entity_curation", err)
		}
		items = append(items, domain.CurationItem{
			ID:      m.Entity.Core().UUID.String(),
			Kind:    domain.KindEntity,
			Payload: payload,
			Spans:   spansJSON(m.Spans),
		})
	}
	return o.store.Enqueue(ctx, journalID(state), domain.PhaseEntity, items)
}

// stageRelationProcessing loads the curated entity set and runs the feelings
// and relation stages over it.
func (o *Orchestrator) stageRelationProcessing(ctx context.Context, state *domain.PipelineState) error {
	mappings, err := o.loadApprovedEntities(ctx, state)
	if err != nil {
		return err
	}
	entities := make([]domain.Entity, 0, len(mappings))
	for _, m := range mappings {
		entities = append(entities, m.Entity)
	}
	state.EntitiesCurated = entities

	relations, err := o.extractor.ExtractRelations(ctx, o.extractionInput(state, entities))
	if err != nil {
		return err
	}
	state.RelationsExtracted = relations
	return nil
}

// stageSubmitRelationCuration enqueues the relation-phase mappings.
func (o *Orchestrator) stageSubmitRelationCuration(ctx context.Context, state *domain.PipelineState) error {
	items := make([]domain.CurationItem, 0, len(state.RelationsExtracted))
	for _, m := range state.RelationsExtracted {
		payload, err := codec.MarshalCuratableMapping(m)
		if err != nil {
			return errkind.New(errkind.Consistency, "pipeline.submit_relation_curation", err)
		}
		var ctxBlob jsonx.RawMessage
		if m.Context != nil {
			ctxBlob, _ = jsonx.Marshal(m.Context)
		}
		items = append(items, domain.CurationItem{
			ID:      curationItemID(m),
			Kind:    m.Kind,
			Payload: payload,
			Spans:   spansJSON(m.Spans),
			Context: ctxBlob,
		})
	}
	return o.store.Enqueue(ctx, journalID(state), domain.PhaseRelation, items)
}

// waitForPhase polls the curation store until the phase has no pending
// items. It heartbeats periodically and enforces the hard review deadline.
// No store connection stays open between polls.
func (o *Orchestrator) waitForPhase(ctx context.Context, state *domain.PipelineState, phase domain.Phase) error {
	logger := o.logger.With(
		zap.String("workflow", state.WorkflowID),
		zap.String("phase", string(phase)))
	deadline := time.Now().Add(o.cfg.WaitDeadline)
	lastHeartbeat := time.Now()

	for {
		pending, err := o.store.PendingCount(ctx, journalID(state), phase)
		if err == nil && pending == 0 {
			return nil
		}
		if err != nil {
			logger.Warn("pending count poll failed", zap.Error(err))
		}
		if time.Now().After(deadline) {
			return errkind.Newf(errkind.DeadlineExceeded, "pipeline.wait",
				"phase %s review exceeded %s", phase, o.cfg.WaitDeadline)
		}
		if time.Since(lastHeartbeat) >= o.cfg.Heartbeat {
			logger.Info("waiting for curation", zap.Int("pending", pending))
			lastHeartbeat = time.Now()
		}
		select {
		case <-ctx.Done():
			return errkind.New(errkind.Cancelled, "pipeline.wait", ctx.Err())
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// stageDBWrite commits everything approved: entities (idempotent by UUID),
// concept relations with their inverses, reified relations, mentions from
// spans against the chunk tree, and the phase-complete markers. A retry of
// the whole block is safe by adapter idempotence.
func (o *Orchestrator) stageDBWrite(ctx context.Context, state *domain.PipelineState) error {
	entityMappings, err := o.loadApprovedEntities(ctx, state)
	if err != nil {
		return err
	}
	relationMappings, err := o.loadApprovedRelations(ctx, state)
	if err != nil {
		return err
	}
	state.RelationsCurated = relationMappings

	var counts domain.WorkflowCounts
	committed := &Committed{Journal: state.Journal}

	// Entities first so every relation endpoint exists.
	for _, m := range entityMappings {
		if _, err := o.graph.CreateEntity(ctx, m.Entity); err != nil {
			return err
		}
		committed.Entities = append(committed.Entities, m.Entity)
		counts.Entities++
	}
	for _, m := range relationMappings {
		if m.Entity == nil {
			continue
		}
		if _, err := o.graph.CreateEntity(ctx, m.Entity); err != nil {
			return err
		}
		committed.Entities = append(committed.Entities, m.Entity)
		counts.Feelings++
	}

	o.writeEmbeddings(ctx, entityMappings)

	var mentions []graph.Mention
	collectMentions := func(target uuid.UUID, spans []domain.Span) {
		if state.Tree == nil {
			return
		}
		for _, sp := range spans {
			for _, leaf := range state.Tree.ContainingLeaves(sp) {
				mentions = append(mentions, graph.Mention{
					ChunkUUID:  leaf.UUID,
					TargetUUID: target,
				})
			}
		}
	}

	for _, m := range entityMappings {
		collectMentions(m.Entity.Core().UUID, m.Spans)
	}

	for _, m := range relationMappings {
		switch m.Kind {
		case domain.KindFeelingEmotion, domain.KindFeelingConcept:
			collectMentions(m.Entity.Core().UUID, m.Spans)

		case domain.KindConceptRelation:
			if m.ConceptRelation == nil {
				continue
			}
			forward := *m.ConceptRelation
			if err := o.graph.CreateFullRelation(ctx, conceptToRelation(forward)); err != nil {
				return err
			}
			committed.ConceptRelations = append(committed.ConceptRelations, forward)
			counts.ConceptRelations++
			collectMentions(forward.UUID, m.Spans)
			if !forward.RelationType.Symmetric() {
				inverse := deterministicInverse(forward)
				if err := o.graph.CreateFullRelation(ctx, conceptToRelation(inverse)); err != nil {
					return err
				}
				committed.ConceptRelations = append(committed.ConceptRelations, inverse)
			}

		case domain.KindRelation:
			if m.Relation == nil {
				continue
			}
			rel := m.Relation.Reify(time.Now().UTC())
			// Deterministic edge identity keeps a DB_WRITE retry from
			// minting a second direct edge for the same relation.
			rel.EdgeUUID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("edge:"+rel.UUID.String()))
			if err := o.graph.CreateFullRelation(ctx, rel); err != nil {
				return err
			}
			counts.Relations++
			collectMentions(rel.UUID, m.Spans)
		}
	}

	if err := o.graph.CreateMentionsBatch(ctx, mentions); err != nil {
		return err
	}
	counts.Mentions = len(mentions)

	if err := o.store.MarkPhaseComplete(ctx, journalID(state), domain.PhaseEntity); err != nil {
		return err
	}
	if err := o.store.MarkPhaseComplete(ctx, journalID(state), domain.PhaseRelation); err != nil {
		return err
	}

	o.logger.Info("graph commit complete",
		zap.String("workflow", state.WorkflowID),
		zap.Int("entities", counts.Entities),
		zap.Int("relations", counts.Relations),
		zap.Int("concept_relations", counts.ConceptRelations),
		zap.Int("feelings", counts.Feelings),
		zap.Int("mentions", counts.Mentions))

	if o.onCommit != nil {
		o.onCommit(ctx, committed)
	}
	return nil
}

// writeEmbeddings computes and stores concept embeddings. Best-effort: a
// failed embedding never fails the commit.
func (o *Orchestrator) writeEmbeddings(ctx context.Context, mappings []domain.EntityMapping) {
	if o.embedder == nil {
		return
	}
	var concepts []*domain.Concept
	var texts []string
	for _, m := range mappings {
		if c, ok := m.Entity.(*domain.Concept); ok {
			concepts = append(concepts, c)
			texts = append(texts, c.Name+": "+c.SummaryShort)
		}
	}
	if len(concepts) == 0 {
		return
	}
	vecs, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		o.logger.Warn("concept embedding failed, skipping", zap.Error(err))
		return
	}
	for i, c := range concepts {
		if err := o.graph.SetEmbedding(ctx, string(domain.TypeConcept), c.UUID, vecs[i]); err != nil {
			o.logger.Warn("embedding write failed",
				zap.String("concept", c.UUID.String()), zap.Error(err))
		}
	}
}

// loadApprovedEntities decodes the approved entity-phase items, honoring
// curator edits via the effective payload.
func (o *Orchestrator) loadApprovedEntities(ctx context.Context, state *domain.PipelineState) ([]domain.EntityMapping, error) {
	items, err := o.store.Approved(ctx, journalID(state), domain.PhaseEntity)
	if err != nil {
		return nil, err
	}
	mappings := make([]domain.EntityMapping, 0, len(items))
	for _, item := range items {
		m, err := codec.UnmarshalEntityMapping(item.EffectivePayload())
		if err != nil {
			return nil, errkind.New(errkind.Consistency, "pipeline.load_entities", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// loadApprovedRelations decodes the approved relation-phase items.
func (o *Orchestrator) loadApprovedRelations(ctx context.Context, state *domain.PipelineState) ([]domain.CuratableMapping, error) {
	items, err := o.store.Approved(ctx, journalID(state), domain.PhaseRelation)
	if err != nil {
		return nil, err
	}
	mappings := make([]domain.CuratableMapping, 0, len(items))
	for _, item := range items {
		m, err := codec.UnmarshalCuratableMapping(item.EffectivePayload())
		if err != nil {
			return nil, errkind.New(errkind.Consistency, "pipeline.load_relations", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// extractionInput assembles the stage input for one phase.
func (o *Orchestrator) extractionInput(state *domain.PipelineState, entities []domain.Entity) *extract.Input {
	return &extract.Input{
		Journal:  state.Journal,
		Tree:     state.Tree,
		Resolver: span.NewResolver(state.Journal.Narration, o.logger),
		Entities: entities,
	}
}

// curationItemID derives a stable row ID for a curatable mapping so retried
// enqueues do not duplicate.
func curationItemID(m domain.CuratableMapping) string {
	switch {
	case m.Entity != nil:
		return m.Entity.Core().UUID.String()
	case m.Relation != nil:
		return m.Relation.UUID.String()
	case m.ConceptRelation != nil:
		return m.ConceptRelation.UUID.String()
	}
	return uuid.NewString()
}

// conceptToRelation widens a concept relation into the generic reified form.
func conceptToRelation(c domain.ConceptRelation) domain.Relation {
	return domain.Relation{
		UUID:         c.UUID,
		EdgeUUID:     c.EdgeUUID,
		SourceUUID:   c.SourceUUID,
		TargetUUID:   c.TargetUUID,
		RelationType: string(c.RelationType),
		SummaryShort: c.SummaryShort,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// deterministicInverse builds the stored inverse of a directional concept
// relation with identifiers derived from the forward relation, keeping
// DB_WRITE retries idempotent.
func deterministicInverse(forward domain.ConceptRelation) domain.ConceptRelation {
	inv, _ := forward.RelationType.Inverse()
	return domain.ConceptRelation{
		UUID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte("inverse:"+forward.UUID.String())),
		EdgeUUID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte("inverse-edge:"+forward.UUID.String())),
		SourceUUID:   forward.TargetUUID,
		TargetUUID:   forward.SourceUUID,
		RelationType: inv,
		SummaryShort: forward.SummaryShort,
		CreatedAt:    forward.CreatedAt,
		UpdatedAt:    forward.UpdatedAt,
	}
}
