package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/errkind"
)

const timeLayout = time.RFC3339Nano

// Mention links a lexical chunk to the entity it mentions.
type Mention struct {
	ChunkUUID  uuid.UUID
	TargetUUID uuid.UUID
}

// SearchHit is one vector-search result.
type SearchHit struct {
	UUID         uuid.UUID
	Name         string
	SummaryShort string
	Score        float64
}

// UpsertDay merges the Year→Month→Day spine for date and returns the Day
// node's UUID. Calling it twice for the same date is a no-op.
func (c *Client) UpsertDay(ctx context.Context, date time.Time) (uuid.UUID, error) {
	date = date.UTC()
	params := map[string]any{
		"year":     int64(date.Year()),
		"month":    int64(date.Month()),
		"day":      int64(date.Day()),
		"date":     date.Format("2006-01-02"),
		"day_uuid": uuid.NewString(),
	}
	out, err := c.write(ctx, "graph.upsert_day", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (y:Year {value: $year})
  ON CREATE SET y.uuid = randomUUID(), y.partition = 'TEMPORAL'
MERGE (y)-[:HAS_MONTH]->(m:Month {value: $month, year: $year})
  ON CREATE SET m.uuid = randomUUID(), m.partition = 'TEMPORAL'
MERGE (m)-[:HAS_DAY]->(d:Day {date: $date})
  ON CREATE SET d.uuid = $day_uuid, d.partition = 'TEMPORAL'
RETURN d.uuid AS uuid
`, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		id, _ := rec.Get("uuid")
		return id.(string), nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(out.(string))
}

// CreateEntity persists one entity node under its type label. Repeating the
// call for the same UUID keeps the node but refreshes its summaries, so a
// merged description reaches entities that already exist in the graph.
func (c *Client) CreateEntity(ctx context.Context, e domain.Entity) (uuid.UUID, error) {
	core := e.Core()
	if core.UUID == uuid.Nil {
		core.UUID = uuid.New()
	}
	query := fmt.Sprintf(`
MERGE (n:%s {uuid: $props.uuid})
  ON CREATE SET n += $props
  ON MATCH SET n.summary_short = $props.summary_short,
               n.summary_long = $props.summary_long
RETURN n.uuid AS uuid
`, e.Type())
	_, err := c.write(ctx, "graph.create_entity", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"props": entityProps(e)})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return core.UUID, nil
}

// LinkJournalToDay merges the HAS_DAY_ENTRY edge from date's Day node to the
// journal, creating the temporal spine if absent.
func (c *Client) LinkJournalToDay(ctx context.Context, journalUUID uuid.UUID, date time.Time) error {
	if _, err := c.UpsertDay(ctx, date); err != nil {
		return err
	}
	_, err := c.write(ctx, "graph.link_journal_to_day", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (d:Day {date: $date})
MATCH (j:JournalEntry {uuid: $journal})
MERGE (d)-[:HAS_DAY_ENTRY]->(j)
`, map[string]any{
			"date":    date.UTC().Format("2006-01-02"),
			"journal": journalUUID.String(),
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// CreateEdgeOnly merges a direct RELATED_TO edge with no reified node. The
// first proposed type names the edge's type property.
func (c *Client) CreateEdgeOnly(ctx context.Context, src, tgt uuid.UUID, proposedTypes []string) (uuid.UUID, error) {
	edgeUUID := uuid.New()
	relType := "RELATED_TO"
	if len(proposedTypes) > 0 {
		relType = proposedTypes[0]
	}
	_, err := c.write(ctx, "graph.create_edge_only", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a {uuid: $src})
MATCH (b {uuid: $tgt})
MERGE (a)-[e:RELATED_TO {uuid: $edge}]->(b)
  ON CREATE SET e.type = $type, e.created_at = $now
`, map[string]any{
			"src":  src.String(),
			"tgt":  tgt.String(),
			"edge": edgeUUID.String(),
			"type": relType,
			"now":  time.Now().UTC().Format(timeLayout),
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return edgeUUID, nil
}

// CreateFullRelation writes the reified pair: direct RELATED_TO edge plus the
// Relation node sharing its EdgeUUID, with both HAS_RELATION back-edges. The
// whole write is one transaction. A retry with the same relation UUID is a
// no-op; the same UUID with different endpoints is a consistency violation.
func (c *Client) CreateFullRelation(ctx context.Context, rel domain.Relation) error {
	_, err := c.write(ctx, "graph.create_full_relation", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
OPTIONAL MATCH (existing:Relation {uuid: $uuid})
RETURN existing.source_uuid AS src, existing.target_uuid AS tgt
`, map[string]any{"uuid": rel.UUID.String()})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if src, _ := rec.Get("src"); src != nil {
			tgt, _ := rec.Get("tgt")
			if src.(string) != rel.SourceUUID.String() || tgt.(string) != rel.TargetUUID.String() {
				return nil, errkind.Newf(errkind.Consistency,
					"graph.create_full_relation",
					"relation %s exists with different endpoints", rel.UUID)
			}
		}

		res, err = tx.Run(ctx, `
MATCH (a {uuid: $src})
MATCH (b {uuid: $tgt})
MERGE (r:Relation {uuid: $uuid})
  ON CREATE SET r.edge_uuid = $edge,
                r.source_uuid = $src,
                r.target_uuid = $tgt,
                r.type = $type,
                r.summary_short = $short,
                r.summary_long = $long,
                r.partition = 'DOMAIN',
                r.created_at = $created,
                r.updated_at = $updated
MERGE (a)-[e:RELATED_TO {uuid: $edge}]->(b)
  ON CREATE SET e.type = $type,
                e.summary_short = $short,
                e.created_at = $created
MERGE (a)-[:HAS_RELATION]->(r)
MERGE (b)-[:HAS_RELATION]->(r)
`, map[string]any{
			"uuid":    rel.UUID.String(),
			"edge":    rel.EdgeUUID.String(),
			"src":     rel.SourceUUID.String(),
			"tgt":     rel.TargetUUID.String(),
			"type":    rel.RelationType,
			"short":   rel.SummaryShort,
			"long":    rel.SummaryLong,
			"created": rel.CreatedAt.UTC().Format(timeLayout),
			"updated": rel.UpdatedAt.UTC().Format(timeLayout),
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// UpdateRelation patches the Relation node and mirrors type, short summary,
// and updated_at onto the direct edge in the same transaction.
func (c *Client) UpdateRelation(ctx context.Context, relUUID uuid.UUID, patch domain.RelationPatch) error {
	now := time.Now().UTC().Format(timeLayout)
	set := map[string]any{"updated_at": now}
	if patch.RelationType != nil {
		set["type"] = *patch.RelationType
	}
	if patch.SummaryShort != nil {
		set["summary_short"] = *patch.SummaryShort
	}
	if patch.SummaryLong != nil {
		set["summary_long"] = *patch.SummaryLong
	}
	edgeSet := map[string]any{"updated_at": now}
	if patch.RelationType != nil {
		edgeSet["type"] = *patch.RelationType
	}
	if patch.SummaryShort != nil {
		edgeSet["summary_short"] = *patch.SummaryShort
	}

	_, err := c.write(ctx, "graph.update_relation", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (r:Relation {uuid: $uuid})
SET r += $set
WITH r
MATCH ()-[e:RELATED_TO {uuid: r.edge_uuid}]->()
SET e += $edge_set
RETURN count(r) AS n
`, map[string]any{"uuid": relUUID.String(), "set": set, "edge_set": edgeSet})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		if n.(int64) == 0 {
			return nil, errkind.Newf(errkind.Consistency,
				"graph.update_relation", "relation %s not found", relUUID)
		}
		return nil, nil
	})
	return err
}

// DeleteRelation removes the Relation node and the direct edge carrying its
// edge_uuid. Idempotent: deleting an absent relation succeeds.
func (c *Client) DeleteRelation(ctx context.Context, relUUID uuid.UUID) error {
	_, err := c.write(ctx, "graph.delete_relation", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
OPTIONAL MATCH (r:Relation {uuid: $uuid})
WITH r, r.edge_uuid AS edge
OPTIONAL MATCH ()-[e:RELATED_TO {uuid: edge}]->()
DELETE e
WITH r
DETACH DELETE r
`, map[string]any{"uuid": relUUID.String()})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// CreateMentionsBatch merges MENTIONS edges from chunks to entities in one
// statement. Duplicate pairs collapse.
func (c *Client) CreateMentionsBatch(ctx context.Context, mentions []Mention) error {
	if len(mentions) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(mentions))
	for _, m := range mentions {
		rows = append(rows, map[string]any{
			"chunk":  m.ChunkUUID.String(),
			"target": m.TargetUUID.String(),
		})
	}
	_, err := c.write(ctx, "graph.create_mentions_batch", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS row
MATCH (c:Chunk {uuid: row.chunk})
MATCH (t {uuid: row.target})
MERGE (c)-[:MENTIONS]->(t)
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// vectorIndexes maps node labels to their vector index names.
var vectorIndexes = map[string]string{
	"Concept": "concept_embeddings_index",
	"Quote":   "quote_embeddings_index",
}

// VectorSearch queries the label's vector index for the k nearest nodes at or
// above threshold.
func (c *Client) VectorSearch(ctx context.Context, label string, embedding []float32, k int, threshold float64) ([]SearchHit, error) {
	index, ok := vectorIndexes[label]
	if !ok {
		return nil, errkind.Newf(errkind.Consistency, "graph.vector_search",
			"no vector index for label %s", label)
	}
	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}
	out, err := c.read(ctx, "graph.vector_search", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
WHERE score >= $threshold
RETURN node.uuid AS uuid, node.name AS name, node.summary_short AS short, score
`, map[string]any{
			"index":     index,
			"k":         int64(k),
			"embedding": vec,
			"threshold": threshold,
		})
		if err != nil {
			return nil, err
		}
		var hits []SearchHit
		for res.Next(ctx) {
			rec := res.Record()
			hit := SearchHit{}
			if v, ok := rec.Get("uuid"); ok && v != nil {
				hit.UUID, _ = uuid.Parse(v.(string))
			}
			if v, ok := rec.Get("name"); ok && v != nil {
				hit.Name = v.(string)
			}
			if v, ok := rec.Get("short"); ok && v != nil {
				hit.SummaryShort = v.(string)
			}
			if v, ok := rec.Get("score"); ok && v != nil {
				hit.Score = v.(float64)
			}
			hits = append(hits, hit)
		}
		return hits, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]SearchHit), nil
}

// SetEmbedding stores an embedding vector on an existing node.
func (c *Client) SetEmbedding(ctx context.Context, label string, id uuid.UUID, embedding []float32) error {
	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}
	query := fmt.Sprintf(`MATCH (n:%s {uuid: $uuid}) SET n.embedding = $embedding`, label)
	_, err := c.write(ctx, "graph.set_embedding", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"uuid":      id.String(),
			"embedding": vec,
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// RecentEntities returns the k most recently created nodes of a label since
// the cutoff.
func (c *Client) RecentEntities(ctx context.Context, label string, since time.Time, k int) ([]SearchHit, error) {
	query := fmt.Sprintf(`
MATCH (n:%s)
WHERE n.created_at >= $since
RETURN n.uuid AS uuid, n.name AS name, n.summary_short AS short
ORDER BY n.created_at DESC
LIMIT $k
`, label)
	out, err := c.read(ctx, "graph.recent_entities", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"since": since.UTC().Format(timeLayout),
			"k":     int64(k),
		})
		if err != nil {
			return nil, err
		}
		var hits []SearchHit
		for res.Next(ctx) {
			rec := res.Record()
			hit := SearchHit{}
			if v, ok := rec.Get("uuid"); ok && v != nil {
				hit.UUID, _ = uuid.Parse(v.(string))
			}
			if v, ok := rec.Get("name"); ok && v != nil {
				hit.Name = v.(string)
			}
			if v, ok := rec.Get("short"); ok && v != nil {
				hit.SummaryShort = v.(string)
			}
			hits = append(hits, hit)
		}
		return hits, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]SearchHit), nil
}

// entityProps flattens an entity into node properties, subtype fields
// included.
func entityProps(e domain.Entity) map[string]any {
	core := e.Core()
	props := map[string]any{
		"uuid":          core.UUID.String(),
		"name":          core.Name,
		"summary_short": core.SummaryShort,
		"summary_long":  core.SummaryLong,
		"partition":     string(domain.PartitionDomain),
		"created_at":    core.CreatedAt.UTC().Format(timeLayout),
	}
	if len(core.Embedding) > 0 {
		vec := make([]float64, len(core.Embedding))
		for i, v := range core.Embedding {
			vec[i] = float64(v)
		}
		props["embedding"] = vec
	}
	switch v := e.(type) {
	case *domain.Person:
		if v.Occupation != "" {
			props["occupation"] = v.Occupation
		}
		if v.Relationship != "" {
			props["relationship"] = v.Relationship
		}
	case *domain.Place:
		if v.Region != "" {
			props["region"] = v.Region
		}
	case *domain.Concept:
		if v.Domain != "" {
			props["domain"] = v.Domain
		}
	case *domain.Content:
		if v.Medium != "" {
			props["medium"] = v.Medium
		}
		if v.Author != "" {
			props["author"] = v.Author
		}
	case *domain.Consumable:
		if v.Category != "" {
			props["category"] = v.Category
		}
	case *domain.Event:
		if !v.Date.IsZero() {
			props["date"] = v.Date.UTC().Format("2006-01-02")
		}
		if v.DurationMinutes > 0 {
			props["duration_minutes"] = int64(v.DurationMinutes)
		}
		if v.Location != "" {
			props["location"] = v.Location
		}
	case *domain.Project:
		if v.Status != "" {
			props["status"] = string(v.Status)
		}
	case *domain.FeelingEmotion:
		props["person_uuid"] = v.PersonUUID.String()
		props["emotion"] = string(v.Emotion)
		if !v.FeltAt.IsZero() {
			props["felt_at"] = v.FeltAt.UTC().Format(timeLayout)
		}
	case *domain.FeelingConcept:
		props["person_uuid"] = v.PersonUUID.String()
		props["concept_uuid"] = v.ConceptUUID.String()
		if v.Stance != "" {
			props["stance"] = v.Stance
		}
	}
	return props
}
