// Package journal parses raw journal markdown into a typed JournalEntry:
// narration, psychometric vectors, sleep times, and wiki links.
package journal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
)

// Section headings recognized in journal text.
const (
	headingPANAS       = "## PANAS"
	headingBPNS        = "## BPNS"
	headingFlourishing = "## Flourishing Scale"
	headingSleep       = "## Sleep"
)

var (
	// itemRe matches psychometric item lines: "<label>:: <integer>".
	itemRe = regexp.MustCompile(`^\s*(.+?)::\s*(-?\d+)\s*$`)

	// wakeRe and bedRe match sleep lines; times are HHMM or HH:MM.
	wakeRe = regexp.MustCompile(`(?im)^\s*Wake time:\s*(\d{1,2}):?(\d{2})\s*$`)
	bedRe  = regexp.MustCompile(`(?im)^\s*Bedtime:\s*(\d{1,2}):?(\d{2})\s*$`)

	// wikiLinkRe matches [[Name]] and [[Name|alias]].
	wikiLinkRe = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|([^\[\]]+))?\]\]`)

	headingRe = regexp.MustCompile(`(?m)^## (PANAS|BPNS|Flourishing Scale|Sleep)\s*$`)
)

// Parser turns raw journal text into a JournalEntry.
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a journal parser.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger.Named("journal")}
}

// Parse builds a JournalEntry from raw text. The journal UUID and date come
// from the submission; date must be YYYY-MM-DD.
func (p *Parser) Parse(journalUUID uuid.UUID, date string, raw string) (*domain.JournalEntry, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("journal: bad date %q: %w", date, err)
	}

	entry := &domain.JournalEntry{
		UUID:      journalUUID,
		Date:      day,
		RawText:   raw,
		Narration: extractNarration(raw),
		CreatedAt: time.Now().UTC(),
	}
	entry.WikiLinks = ExtractWikiLinks(entry.Narration)

	sections := splitSections(raw)

	if body, ok := sections["PANAS"]; ok {
		vals := collectItems(body)
		if len(vals) == 2*domain.PANASLen {
			entry.PANASPositive = vals[:domain.PANASLen]
			entry.PANASNegative = vals[domain.PANASLen:]
		} else {
			p.logger.Warn("PANAS section with unexpected item count, ignoring",
				zap.String("journal", journalUUID.String()),
				zap.Int("count", len(vals)))
		}
	}
	if body, ok := sections["BPNS"]; ok {
		vals := collectItems(body)
		if len(vals) == domain.BPNSLen {
			entry.BPNS = vals
		} else {
			p.logger.Warn("BPNS section with unexpected item count, ignoring",
				zap.String("journal", journalUUID.String()),
				zap.Int("count", len(vals)))
		}
	}
	if body, ok := sections["Flourishing Scale"]; ok {
		vals := collectItems(body)
		if len(vals) == domain.FlourishingLen {
			entry.Flourishing = vals
		} else {
			p.logger.Warn("Flourishing section with unexpected item count, ignoring",
				zap.String("journal", journalUUID.String()),
				zap.Int("count", len(vals)))
		}
	}
	if body, ok := sections["Sleep"]; ok {
		wake, sleep := parseSleep(body, day)
		entry.WakeTime = wake
		entry.SleepTime = sleep
	}

	return entry, nil
}

// extractNarration returns the text before the first "---" delimiter or the
// first psychometric section heading, whichever comes first.
func extractNarration(raw string) string {
	end := len(raw)
	if i := strings.Index(raw, "\n---"); i >= 0 {
		end = i
	} else if strings.HasPrefix(raw, "---") {
		end = 0
	}
	if loc := headingRe.FindStringIndex(raw); loc != nil && loc[0] < end {
		end = loc[0]
	}
	return strings.TrimSpace(raw[:end])
}

// splitSections maps section names to their body text.
func splitSections(raw string) map[string]string {
	out := map[string]string{}
	locs := headingRe.FindAllStringSubmatchIndex(raw, -1)
	for i, loc := range locs {
		name := raw[loc[2]:loc[3]]
		bodyStart := loc[1]
		bodyEnd := len(raw)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		out[name] = raw[bodyStart:bodyEnd]
	}
	return out
}

// collectItems gathers the integers of "label:: n" lines in order.
func collectItems(body string) []int {
	var vals []int
	for _, line := range strings.Split(body, "\n") {
		m := itemRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		vals = append(vals, n)
	}
	return vals
}

// parseSleep reads wake and bed times from the Sleep section. A bedtime
// earlier than the wake time is on the following calendar day.
func parseSleep(body string, day time.Time) (wake, sleep *time.Time) {
	if m := wakeRe.FindStringSubmatch(body); m != nil {
		if t, ok := timeOfDay(day, m[1], m[2]); ok {
			wake = &t
		}
	}
	if m := bedRe.FindStringSubmatch(body); m != nil {
		if t, ok := timeOfDay(day, m[1], m[2]); ok {
			if wake != nil && t.Before(*wake) {
				t = t.AddDate(0, 0, 1)
			}
			sleep = &t
		}
	}
	return wake, sleep
}

func timeOfDay(day time.Time, hh, mm string) (time.Time, bool) {
	h, err := strconv.Atoi(hh)
	if err != nil || h > 23 {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m > 59 {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), true
}

// ExtractWikiLinks finds every [[Name]] / [[Name|alias]] reference in text,
// with its span.
func ExtractWikiLinks(text string) []domain.WikiLink {
	var links []domain.WikiLink
	for _, m := range wikiLinkRe.FindAllStringSubmatchIndex(text, -1) {
		link := domain.WikiLink{
			Name: strings.TrimSpace(text[m[2]:m[3]]),
			Span: domain.Span{Start: m[0], End: m[1], Text: text[m[0]:m[1]]},
		}
		if m[4] >= 0 {
			link.Alias = strings.TrimSpace(text[m[4]:m[5]])
		}
		links = append(links, link)
	}
	return links
}
