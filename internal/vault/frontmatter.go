package vault

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/journal-graph-kernel/internal/errkind"
)

// Frontmatter is the YAML block the projection manages at the top of a note.
// Unknown keys written by other tools survive round-trips via Extra.
type Frontmatter struct {
	EntityID         string            `yaml:"entity_id,omitempty"`
	EntityType       string            `yaml:"entity_type,omitempty"`
	Aliases          []string          `yaml:"aliases,omitempty"`
	Summary          string            `yaml:"summary,omitempty"`
	ConceptRelations []ConceptRelation `yaml:"concept_relations,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// ConceptRelation is the frontmatter form of a concept-to-concept relation.
type ConceptRelation struct {
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
}

const fmDelimiter = "---"

// parseFrontmatter splits a note into its YAML frontmatter and body. A note
// without a frontmatter block yields a zero Frontmatter and the full text.
func parseFrontmatter(raw []byte) (Frontmatter, string, error) {
	var fm Frontmatter
	text := string(raw)
	if !strings.HasPrefix(text, fmDelimiter+"\n") && text != fmDelimiter {
		return fm, text, nil
	}
	rest := text[len(fmDelimiter)+1:]
	end := strings.Index(rest, "\n"+fmDelimiter)
	if end < 0 {
		return fm, text, nil
	}
	block := rest[:end]
	body := rest[end+len(fmDelimiter)+1:]
	body = strings.TrimPrefix(body, "\n")
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return fm, text, fmt.Errorf("frontmatter: %w", err)
	}
	return fm, body, nil
}

// renderNote serializes frontmatter and body back into note text.
func renderNote(fm Frontmatter, body string) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	out.WriteString(fmDelimiter + "\n")
	out.Write(buf.Bytes())
	out.WriteString(fmDelimiter + "\n")
	if body != "" {
		out.WriteString("\n")
		out.WriteString(strings.TrimPrefix(body, "\n"))
	}
	return out.Bytes(), nil
}

// Update is a partial frontmatter change. Nil fields leave the note's current
// value in place; non-nil slices replace wholesale.
type Update struct {
	EntityID         *string
	EntityType       *string
	Aliases          []string
	Summary          *string
	ConceptRelations []ConceptRelation
}

// WriteFrontmatter applies an update to a note's frontmatter. The write is
// idempotent: when the merged frontmatter equals what the note already
// carries, the file is left untouched.
func (i *Index) WriteFrontmatter(path string, update Update) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errkind.New(errkind.Transport, "vault.write_frontmatter", err)
	}
	fm, body, err := parseFrontmatter(raw)
	if err != nil {
		return errkind.New(errkind.Schema, "vault.write_frontmatter", err)
	}

	merged := fm
	if update.EntityID != nil {
		merged.EntityID = *update.EntityID
	}
	if update.EntityType != nil {
		merged.EntityType = *update.EntityType
	}
	if update.Aliases != nil {
		merged.Aliases = dedupStrings(update.Aliases)
	}
	if update.Summary != nil {
		merged.Summary = *update.Summary
	}
	if update.ConceptRelations != nil {
		merged.ConceptRelations = dedupRelations(update.ConceptRelations)
	}

	next, err := renderNote(merged, body)
	if err != nil {
		return errkind.New(errkind.Schema, "vault.write_frontmatter", err)
	}
	current, err := renderNote(fm, body)
	if err == nil && bytes.Equal(next, current) && bytes.Equal(raw, current) {
		return nil
	}

	if err := os.WriteFile(path, next, 0o644); err != nil {
		return errkind.New(errkind.Transport, "vault.write_frontmatter", err)
	}
	i.notes.Remove(path)
	return nil
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func dedupRelations(in []ConceptRelation) []ConceptRelation {
	seen := make(map[string]struct{}, len(in))
	out := make([]ConceptRelation, 0, len(in))
	for _, r := range in {
		key := r.Type + "\x00" + r.Target
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
