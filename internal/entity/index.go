// Package entity maintains the Bleve name index used to dedup extraction
// results against entities already in the graph. Lookups resolve a candidate
// name to the UUID and type of an existing entity so the merge policy can
// decide between reuse and fresh creation.
package entity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
)

// Config holds index settings.
type Config struct {
	// IndexPath is the on-disk index location. Ignored when InMemory is set.
	IndexPath string
	// InMemory keeps the index ephemeral, for tests.
	InMemory bool
	// Fuzziness is the edit distance for fuzzy name lookups.
	Fuzziness int
	// Threshold is the minimum score for a fuzzy hit.
	Threshold float64
}

// DefaultConfig returns the index defaults.
func DefaultConfig() Config {
	return Config{
		IndexPath: "./data/entities.bleve",
		Fuzziness: 2,
		Threshold: 0.7,
	}
}

// Index maps entity names to their UUID and type.
type Index struct {
	index  bleve.Index
	cfg    Config
	logger *zap.Logger
	mu     sync.RWMutex
}

// Ref is an index entry: the minimal identity of a known entity. Summary is
// carried so dedup can merge summaries without a graph round trip.
type Ref struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary,omitempty"`
}

// Hit is a lookup result with its match score.
type Hit struct {
	Ref
	Score float64
}

// NewIndex opens or creates the name index.
func NewIndex(cfg Config, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Fuzziness == 0 {
		cfg.Fuzziness = 2
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.7
	}

	idx := &Index{cfg: cfg, logger: logger.Named("entityindex")}

	var err error
	if cfg.InMemory {
		idx.index, err = bleve.NewMemOnly(buildMapping())
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0o755); err != nil {
			return nil, fmt.Errorf("entity index dir: %w", err)
		}
		idx.index, err = bleve.Open(cfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx.index, err = bleve.New(cfg.IndexPath, buildMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open entity index: %w", err)
	}
	return idx, nil
}

func buildMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Store = true
	nameField.IncludeTermVectors = true
	doc.AddFieldMappingsAt("name", nameField)

	keywordField := bleve.NewKeywordFieldMapping()
	keywordField.Store = true
	doc.AddFieldMappingsAt("uuid", keywordField)

	typeField := bleve.NewKeywordFieldMapping()
	typeField.Store = true
	doc.AddFieldMappingsAt("type", typeField)

	summaryField := bleve.NewTextFieldMapping()
	summaryField.Store = true
	summaryField.Index = false
	doc.AddFieldMappingsAt("summary", summaryField)

	m := bleve.NewIndexMapping()
	m.AddDocumentMapping("ref", doc)
	m.DefaultAnalyzer = "standard"
	return m
}

// Add indexes one entity.
func (i *Index) Add(ctx context.Context, e domain.Entity) error {
	core := e.Core()
	ref := Ref{
		UUID:    core.UUID.String(),
		Name:    core.Name,
		Type:    string(e.Type()),
		Summary: core.SummaryShort,
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.index.Index(ref.UUID, ref); err != nil {
		return fmt.Errorf("index entity %s: %w", ref.UUID, err)
	}
	return nil
}

// AddRef indexes a bare reference, for rebuilds from sources that carry
// identity without a full entity value.
func (i *Index) AddRef(ctx context.Context, ref Ref) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.index.Index(ref.UUID, ref); err != nil {
		return fmt.Errorf("index ref %s: %w", ref.UUID, err)
	}
	return nil
}

// AddBatch indexes entities in one batch write.
func (i *Index) AddBatch(ctx context.Context, entities []domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	batch := i.index.NewBatch()
	for _, e := range entities {
		core := e.Core()
		ref := Ref{
			UUID:    core.UUID.String(),
			Name:    core.Name,
			Type:    string(e.Type()),
			Summary: core.SummaryShort,
		}
		if err := batch.Index(ref.UUID, ref); err != nil {
			i.logger.Warn("skipping entity in batch",
				zap.String("uuid", ref.UUID), zap.Error(err))
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("batch index: %w", err)
	}
	i.logger.Debug("indexed entity batch", zap.Int("count", len(entities)))
	return nil
}

// Lookup resolves a name to existing entities, fuzzily, across all types.
// Results at or above the threshold come back best first. The caller decides
// whether a hit of the same type merges or a cross-type hit forces a new
// UUID.
func (i *Index) Lookup(ctx context.Context, name string, limit int) ([]Hit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}

	match := bleve.NewMatchQuery(strings.ToLower(name))
	match.SetField("name")

	fuzzy := query.NewFuzzyQuery(strings.ToLower(name))
	fuzzy.SetField("name")
	fuzzy.SetFuzziness(i.cfg.Fuzziness)

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(match, fuzzy))
	req.Size = limit
	req.Fields = []string{"uuid", "name", "type", "summary"}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("entity lookup: %w", err)
	}

	var hits []Hit
	for _, h := range res.Hits {
		if h.Score < i.cfg.Threshold {
			continue
		}
		hit := Hit{Score: h.Score}
		if v, ok := h.Fields["uuid"].(string); ok {
			hit.UUID = v
		}
		if v, ok := h.Fields["name"].(string); ok {
			hit.Name = v
		}
		if v, ok := h.Fields["type"].(string); ok {
			hit.Type = v
		}
		if v, ok := h.Fields["summary"].(string); ok {
			hit.Summary = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// LookupExact returns the entity whose name matches exactly (case folded),
// preferring a same-type hit.
func (i *Index) LookupExact(ctx context.Context, name string, entityType domain.EntityType) (*Hit, error) {
	hits, err := i.Lookup(ctx, name, 10)
	if err != nil {
		return nil, err
	}
	var fallback *Hit
	for idx := range hits {
		h := hits[idx]
		if !strings.EqualFold(h.Name, name) {
			continue
		}
		if h.Type == string(entityType) {
			return &h, nil
		}
		if fallback == nil {
			fallback = &h
		}
	}
	return fallback, nil
}

// Delete removes an entity from the index.
func (i *Index) Delete(ctx context.Context, uuid string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Delete(uuid)
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}
