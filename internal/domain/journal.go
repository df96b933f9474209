package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Expected psychometric vector lengths.
const (
	PANASLen       = 10
	BPNSLen        = 7
	FlourishingLen = 8
)

// JournalEntry is a LEXICAL node holding one day's journal. Psychometric
// vectors are nil when their section is absent from the source text; a nil
// vector is distinct from a vector of zeros. SleepTime lands on the following
// calendar day when bedtime precedes wake time.
type JournalEntry struct {
	UUID          uuid.UUID  `json:"uuid"`
	Date          time.Time  `json:"date"`
	RawText       string     `json:"raw_text"`
	Narration     string     `json:"narration"`
	WakeTime      *time.Time `json:"wake_time,omitempty"`
	SleepTime     *time.Time `json:"sleep_time,omitempty"`
	PANASPositive []int      `json:"panas_positive,omitempty"`
	PANASNegative []int      `json:"panas_negative,omitempty"`
	BPNS          []int      `json:"bpns,omitempty"`
	Flourishing   []int      `json:"flourishing,omitempty"`
	WikiLinks     []WikiLink `json:"wiki_links,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// WikiLink is a [[Name]] or [[Name|alias]] reference found in the narration.
// Name is the canonical vault lookup key; the alias is descriptive only.
// A Name containing a path separator selects a vault note by relative path.
type WikiLink struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
	Span  Span   `json:"span"`
}

// Span is a half-open {start, end} byte range into the source narration.
// End is exclusive. Text repeats the covered source text for readability.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Contains reports whether s fully covers other.
func (s Span) Contains(other Span) bool {
	return s.Start <= other.Start && other.End <= s.End
}

// Len returns the byte length of the span.
func (s Span) Len() int { return s.End - s.Start }

// Chunk is one node of the lexical tree over a journal narration. Leaf chunks
// cover sentence spans; interior chunks cover contiguous runs of children.
// Chunks are immutable once the tree is built.
type Chunk struct {
	UUID        uuid.UUID `json:"uuid"`
	JournalUUID uuid.UUID `json:"journal_uuid"`
	Span        Span      `json:"span"`
	Depth       int       `json:"depth"`
	ParentUUID  uuid.UUID `json:"parent_uuid,omitempty"`
	ChildUUIDs  []uuid.UUID `json:"child_uuids,omitempty"`
	NextSibling uuid.UUID `json:"next_sibling,omitempty"`
}

// IsLeaf reports whether the chunk is a sentence leaf.
func (c Chunk) IsLeaf() bool { return len(c.ChildUUIDs) == 0 }

// ChunkTree is the full lexical tree for one journal: a flat table of chunks
// plus the root. Chunks reference each other by UUID only.
type ChunkTree struct {
	JournalUUID uuid.UUID            `json:"journal_uuid"`
	Root        uuid.UUID            `json:"root"`
	Chunks      map[uuid.UUID]*Chunk `json:"chunks"`
}

// Leaves returns the leaf chunks in source order.
func (t *ChunkTree) Leaves() []*Chunk {
	var leaves []*Chunk
	for _, c := range t.Chunks {
		if c.IsLeaf() {
			leaves = append(leaves, c)
		}
	}
	sortChunksBySpan(leaves)
	return leaves
}

// All returns every chunk in span order, shallowest first within equal spans.
func (t *ChunkTree) All() []*Chunk {
	out := make([]*Chunk, 0, len(t.Chunks))
	for _, c := range t.Chunks {
		out = append(out, c)
	}
	sortChunksBySpan(out)
	return out
}

// ContainingLeaves returns the leaf chunks whose spans contain s.
func (t *ChunkTree) ContainingLeaves(s Span) []*Chunk {
	var out []*Chunk
	for _, c := range t.Leaves() {
		if c.Span.Contains(s) {
			out = append(out, c)
		}
	}
	return out
}

func sortChunksBySpan(chunks []*Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Span.Start != chunks[j].Span.Start {
			return chunks[i].Span.Start < chunks[j].Span.Start
		}
		return chunks[i].Depth < chunks[j].Depth
	})
}
