package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/journal-graph-kernel/internal/domain"
)

// PersistJournalEntry writes the journal node and its full lexical tree in
// one transaction: HAS_CHUNK from the journal to every chunk, CONTAINS from
// parents to children, NEXT_SIBLING within each level. MERGE by uuid keeps
// the write idempotent for pipeline retries.
func (c *Client) PersistJournalEntry(ctx context.Context, entry *domain.JournalEntry, tree *domain.ChunkTree) error {
	journalProps := map[string]any{
		"uuid":       entry.UUID.String(),
		"date":       entry.Date.UTC().Format("2006-01-02"),
		"raw_text":   entry.RawText,
		"narration":  entry.Narration,
		"partition":  string(domain.PartitionLexical),
		"created_at": entry.CreatedAt.UTC().Format(timeLayout),
	}
	if entry.WakeTime != nil {
		journalProps["wake_time"] = entry.WakeTime.UTC().Format(timeLayout)
	}
	if entry.SleepTime != nil {
		journalProps["sleep_time"] = entry.SleepTime.UTC().Format(timeLayout)
	}
	if entry.PANASPositive != nil {
		journalProps["panas_positive"] = intsToInt64(entry.PANASPositive)
	}
	if entry.PANASNegative != nil {
		journalProps["panas_negative"] = intsToInt64(entry.PANASNegative)
	}
	if entry.BPNS != nil {
		journalProps["bpns"] = intsToInt64(entry.BPNS)
	}
	if entry.Flourishing != nil {
		journalProps["flourishing"] = intsToInt64(entry.Flourishing)
	}

	var chunkRows, containsRows, siblingRows []map[string]any
	if tree != nil {
		for _, chunk := range tree.All() {
			chunkRows = append(chunkRows, map[string]any{
				"uuid":  chunk.UUID.String(),
				"start": int64(chunk.Span.Start),
				"end":   int64(chunk.Span.End),
				"text":  chunk.Span.Text,
				"depth": int64(chunk.Depth),
			})
			for _, child := range chunk.ChildUUIDs {
				containsRows = append(containsRows, map[string]any{
					"parent": chunk.UUID.String(),
					"child":  child.String(),
				})
			}
			if chunk.NextSibling != uuid.Nil {
				siblingRows = append(siblingRows, map[string]any{
					"from": chunk.UUID.String(),
					"to":   chunk.NextSibling.String(),
				})
			}
		}
	}

	_, err := c.write(ctx, "graph.persist_journal_entry", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (j:JournalEntry {uuid: $props.uuid})
  ON CREATE SET j += $props
`, map[string]any{"props": journalProps})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(chunkRows) > 0 {
			res, err = tx.Run(ctx, `
MATCH (j:JournalEntry {uuid: $journal})
UNWIND $chunks AS ch
MERGE (c:Chunk {uuid: ch.uuid})
  ON CREATE SET c.start = ch.start,
                c.end = ch.end,
                c.text = ch.text,
                c.depth = ch.depth,
                c.journal_uuid = $journal,
                c.partition = 'LEXICAL'
MERGE (j)-[:HAS_CHUNK]->(c)
`, map[string]any{"journal": entry.UUID.String(), "chunks": chunkRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(containsRows) > 0 {
			res, err = tx.Run(ctx, `
UNWIND $rows AS row
MATCH (p:Chunk {uuid: row.parent})
MATCH (c:Chunk {uuid: row.child})
MERGE (p)-[:CONTAINS]->(c)
`, map[string]any{"rows": containsRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(siblingRows) > 0 {
			res, err = tx.Run(ctx, `
UNWIND $rows AS row
MATCH (a:Chunk {uuid: row.from})
MATCH (b:Chunk {uuid: row.to})
MERGE (a)-[:NEXT_SIBLING]->(b)
`, map[string]any{"rows": siblingRows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func intsToInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
