// Package chunk builds the hierarchical lexical tree over a journal
// narration: sentence leaves, then interior chunks built pairwise bottom-up
// until a single root covers the whole text. Singleton leftovers are promoted
// into the next level rather than wrapped in a one-child parent.
package chunk

import (
	"unicode"

	"github.com/google/uuid"

	"github.com/journal-graph-kernel/internal/domain"
)

// Build constructs the chunk tree for a narration. Returns nil when the
// narration contains no sentences.
func Build(journalUUID uuid.UUID, narration string) *domain.ChunkTree {
	leafSpans := SplitSentences(narration)
	if len(leafSpans) == 0 {
		return nil
	}

	tree := &domain.ChunkTree{
		JournalUUID: journalUUID,
		Chunks:      make(map[uuid.UUID]*domain.Chunk),
	}

	level := make([]*domain.Chunk, 0, len(leafSpans))
	for _, s := range leafSpans {
		c := &domain.Chunk{
			UUID:        uuid.New(),
			JournalUUID: journalUUID,
			Span:        s,
			Depth:       0,
		}
		tree.Chunks[c.UUID] = c
		level = append(level, c)
	}
	linkSiblings(level)

	depth := 1
	for len(level) > 1 {
		next := make([]*domain.Chunk, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 >= len(level) {
				// Odd leftover: promote, never wrap.
				next = append(next, level[i])
				continue
			}
			left, right := level[i], level[i+1]
			parent := &domain.Chunk{
				UUID:        uuid.New(),
				JournalUUID: journalUUID,
				Span: domain.Span{
					Start: left.Span.Start,
					End:   right.Span.End,
					Text:  "",
				},
				Depth:      depth,
				ChildUUIDs: []uuid.UUID{left.UUID, right.UUID},
			}
			parent.Span.Text = narration[parent.Span.Start:parent.Span.End]
			left.ParentUUID = parent.UUID
			right.ParentUUID = parent.UUID
			tree.Chunks[parent.UUID] = parent
			next = append(next, parent)
		}
		linkSiblings(next)
		level = next
		depth++
	}

	tree.Root = level[0].UUID
	return tree
}

func linkSiblings(level []*domain.Chunk) {
	for i := 0; i+1 < len(level); i++ {
		level[i].NextSibling = level[i+1].UUID
	}
}

// SplitSentences splits text into sentence spans. A sentence ends at '.',
// '!', or '?' followed by whitespace or end of text, or at a paragraph break.
// Spans are trimmed of surrounding whitespace; offsets index the input text.
func SplitSentences(text string) []domain.Span {
	var spans []domain.Span
	start := 0
	flush := func(end int) {
		s, e := trimOffsets(text, start, end)
		if e > s {
			spans = append(spans, domain.Span{Start: s, End: e, Text: text[s:e]})
		}
		start = end
	}

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			// Swallow a run of terminators ("..." or "?!").
			j := i
			for j+1 < len(text) && isTerminator(text[j+1]) {
				j++
			}
			if j+1 >= len(text) || isSpaceByte(text[j+1]) {
				flush(j + 1)
				i = j
			}
		case '\n':
			if i+1 < len(text) && text[i+1] == '\n' {
				flush(i)
			}
		}
	}
	flush(len(text))
	return spans
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func trimOffsets(text string, start, end int) (int, int) {
	for start < end && unicode.IsSpace(rune(text[start])) {
		start++
	}
	for end > start && unicode.IsSpace(rune(text[end-1])) {
		end--
	}
	return start, end
}
