// Package writeback projects a committed workflow onto the supporting
// stores: vault note frontmatter and the entity name index. It runs as the
// pipeline's commit hook, after the graph write, and every failure is logged
// rather than propagated.
package writeback

import (
	"context"

	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/entity"
	"github.com/journal-graph-kernel/internal/pipeline"
	"github.com/journal-graph-kernel/internal/vault"
)

// Projector applies post-commit projections. vaultIdx may be nil when no
// vault is configured; the name index update still runs.
type Projector struct {
	vaultIdx *vault.Index
	names    *entity.Index
	logger   *zap.Logger
}

// NewProjector wires the projector.
func NewProjector(vaultIdx *vault.Index, names *entity.Index, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		vaultIdx: vaultIdx,
		names:    names,
		logger:   logger.Named("writeback"),
	}
}

// OnCommit is the pipeline.CommitHook entry point.
func (p *Projector) OnCommit(ctx context.Context, committed *pipeline.Committed) {
	if err := p.names.AddBatch(ctx, committed.Entities); err != nil {
		p.logger.Warn("name index update failed", zap.Error(err))
	}
	if p.vaultIdx == nil {
		return
	}

	nameByUUID := make(map[string]string, len(committed.Entities))
	for _, e := range committed.Entities {
		nameByUUID[e.Core().UUID.String()] = e.Core().Name
	}

	for _, e := range committed.Entities {
		p.projectEntity(ctx, e, committed.ConceptRelations, nameByUUID)
	}
}

// projectEntity updates the note matching the entity's name, when one exists.
// Notes are matched by name only; entities without a note are left alone.
func (p *Projector) projectEntity(ctx context.Context, e domain.Entity, rels []domain.ConceptRelation, nameByUUID map[string]string) {
	core := e.Core()
	note, ok, err := p.vaultIdx.Resolve(ctx, domain.WikiLink{Name: core.Name})
	if err != nil || !ok {
		return
	}

	id := core.UUID.String()
	entityType := string(e.Type())
	update := vault.Update{
		EntityID:   &id,
		EntityType: &entityType,
	}
	if core.SummaryShort != "" {
		summary := core.SummaryShort
		update.Summary = &summary
	}

	if e.Type() == domain.TypeConcept {
		merged := note.Frontmatter.ConceptRelations
		for _, r := range rels {
			if r.SourceUUID != core.UUID {
				continue
			}
			target, known := nameByUUID[r.TargetUUID.String()]
			if !known {
				continue
			}
			merged = append(merged, vault.ConceptRelation{
				Type:   string(r.RelationType),
				Target: target,
			})
		}
		if len(merged) > 0 {
			update.ConceptRelations = merged
		}
	}

	if err := p.vaultIdx.WriteFrontmatter(note.Path, update); err != nil {
		p.logger.Warn("frontmatter projection failed",
			zap.String("note", note.RelPath),
			zap.String("entity", core.Name),
			zap.Error(err))
	}
}
