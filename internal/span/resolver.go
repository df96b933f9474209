// Package span locates LLM-returned text fragments back in the source
// narration. Exact case-insensitive matching runs first; multi-word
// candidates fall back to a sliding-window fuzzy phrase match. Single-word
// candidates never partial-match.
package span

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
)

// acceptScore is the minimum fuzzy ratio (0–100) for a window match.
const acceptScore = 75

// Resolver resolves candidate fragments against one source text.
type Resolver struct {
	source string
	lower  string
	words  []word
	logger *zap.Logger
}

type word struct {
	start int
	end   int
}

// NewResolver prepares a resolver over source.
func NewResolver(source string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source: source,
		lower:  strings.ToLower(source),
		words:  tokenize(source),
		logger: logger.Named("span"),
	}
}

// Resolve returns the spans where candidate occurs in the source. An exact
// case-insensitive match emits every occurrence with the source's original
// casing. When the candidate holds whitespace and no exact match exists, the
// best fuzzy window scoring at least 75 is emitted. Unresolvable candidates
// yield nil and a warning.
func (r *Resolver) Resolve(candidate string) []domain.Span {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil
	}

	if spans := r.exact(candidate); len(spans) > 0 {
		return spans
	}

	if strings.ContainsAny(candidate, " \t\n") {
		if s, ok := r.fuzzy(candidate); ok {
			return []domain.Span{s}
		}
	}

	r.logger.Warn("span not found in source, dropping",
		zap.String("candidate", truncate(candidate, 80)))
	return nil
}

// exact finds every case-insensitive occurrence of candidate.
func (r *Resolver) exact(candidate string) []domain.Span {
	var spans []domain.Span
	needle := strings.ToLower(candidate)
	offset := 0
	for {
		i := strings.Index(r.lower[offset:], needle)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(needle)
		spans = append(spans, domain.Span{
			Start: start,
			End:   end,
			Text:  r.source[start:end],
		})
		offset = end
	}
	return spans
}

// fuzzy slides word windows of size [max(1,n-1), n+2] over the source and
// scores each against the candidate with a levenshtein ratio on lowercased
// forms. The highest-scoring window at or above the threshold wins.
func (r *Resolver) fuzzy(candidate string) (domain.Span, bool) {
	candWords := strings.Fields(strings.ToLower(candidate))
	n := len(candWords)
	if n == 0 || len(r.words) == 0 {
		return domain.Span{}, false
	}
	candJoined := strings.Join(candWords, " ")

	minWin := n - 1
	if minWin < 1 {
		minWin = 1
	}
	maxWin := n + 2

	best := domain.Span{}
	bestScore := 0
	for size := minWin; size <= maxWin; size++ {
		for i := 0; i+size <= len(r.words); i++ {
			start := r.words[i].start
			end := r.words[i+size-1].end
			window := strings.ToLower(r.source[start:end])
			score := ratio(candJoined, strings.Join(strings.Fields(window), " "))
			if score > bestScore {
				bestScore = score
				best = domain.Span{Start: start, End: end, Text: r.source[start:end]}
			}
		}
	}
	if bestScore >= acceptScore {
		return best, true
	}
	return domain.Span{}, false
}

// ratio is a 0–100 similarity score: 100*(1 - distance/maxLen).
func ratio(a, b string) int {
	if a == b {
		return 100
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	score := 100 * (maxLen - d) / maxLen
	if score < 0 {
		return 0
	}
	return score
}

func tokenize(text string) []word {
	var words []word
	inWord := false
	start := 0
	for i := 0; i < len(text); i++ {
		isSpace := text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r'
		if !isSpace && !inWord {
			inWord = true
			start = i
		}
		if isSpace && inWord {
			inWord = false
			words = append(words, word{start: start, end: i})
		}
	}
	if inWord {
		words = append(words, word{start: start, end: len(text)})
	}
	return words
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
