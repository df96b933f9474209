package extract

import (
	"fmt"
	"strings"

	"github.com/journal-graph-kernel/internal/domain"
)

// System prompts per stage. All demand JSON-only output; the gateway
// enforces the schema.
const (
	systemPeople = `You extract people from personal journal entries. ` +
		`Return JSON only: {"people": [{"name": "...", "mentions": ["exact text fragments from the journal"]}]}. ` +
		`Only include real people the author interacted with or referenced. Do not include the author.`

	systemPersonHydrate = `You describe a person based solely on what a journal entry says about them. ` +
		`Return JSON only: {"occupation": "...", "relationship": "...", "summary_short": "...", "summary_long": "..."}. ` +
		`summary_short is at most 30 words, summary_long at most 100 words. Leave fields empty when the text says nothing.`

	systemConcept = `You extract abstract concepts and ideas the author engages with in a journal entry. ` +
		`Return JSON only: {"concepts": [{"name": "...", "domain": "...", "summary_short": "...", "summary_long": "...", "mentions": ["..."]}]}. ` +
		`Prefer reusing a KNOWN CONCEPT name verbatim when the journal refers to the same idea. ` +
		`summary_short is at most 30 words, summary_long at most 100 words.`

	systemGeneric = `You extract %s entities from a personal journal entry. ` +
		`Return JSON only: {"items": [{"name": "...", "summary_short": "...", "summary_long": "...", "mentions": ["exact text fragments"]%s}]}. ` +
		`summary_short is at most 30 words, summary_long at most 100 words. Only include entities the text actually mentions.`

	systemFeelingEmotion = `You identify emotions people felt, as described in a journal entry. ` +
		`Return JSON only: {"feelings": [{"person_uuid": "...", "emotion": "...", "summary_short": "...", "mentions": ["..."]}]}. ` +
		`person_uuid must be one of the listed people. emotion must be one of the listed emotion names, lowercase.`

	systemFeelingConcept = `You identify views or stances people hold about concepts, from a journal entry. ` +
		`Return JSON only: {"feelings": [{"person_uuid": "...", "concept_uuid": "...", "stance": "...", "summary_short": "...", "mentions": ["..."]}]}. ` +
		`Both UUIDs must come from the provided lists.`

	systemRelation = `You extract semantic relations between the listed entities, grounded in a journal entry. ` +
		`Return JSON only: {"relations": [{"source_uuid": "...", "target_uuid": "...", "proposed_types": ["..."], "summary_short": "...", "summary_long": "...", "mentions": ["..."]}]}. ` +
		`Both UUIDs must come from the list. proposed_types are short UPPER_SNAKE_CASE labels, most specific first.`

	systemConceptRelation = `You relate one concept to other known concepts, grounded in a journal entry. ` +
		`Return JSON only: {"relations": [{"target_uuid": "...", "type": "...", "summary_short": "...", "mentions": ["..."]}]}. ` +
		`type must be one of: GENERALIZES, SPECIFIC_OF, PART_OF, HAS_PART, SUPPORTS, SUPPORTED_BY, OPPOSES, SIMILAR_TO, RELATES_TO. ` +
		`Never relate the concept to itself.`

	systemSummaryMerge = `You merge two descriptions of the same entity into one. ` +
		`Return JSON only: {"summary": "..."}. Keep every distinct fact, drop repetition, stay under 30 words.`
)

func buildPeoplePrompt(narration string) string {
	return "JOURNAL ENTRY:\n" + narration
}

func buildPersonHydratePrompt(name, narration string) string {
	return fmt.Sprintf("PERSON: %s\n\nJOURNAL ENTRY:\n%s", name, narration)
}

func buildConceptPrompt(narration, knownContext string) string {
	var b strings.Builder
	if knownContext != "" {
		b.WriteString("KNOWN CONCEPTS (reuse these names when the journal means the same idea):\n")
		b.WriteString(knownContext)
		b.WriteString("\n\n")
	}
	b.WriteString("JOURNAL ENTRY:\n")
	b.WriteString(narration)
	return b.String()
}

func buildGenericPrompt(narration string) string {
	return "JOURNAL ENTRY:\n" + narration
}

func buildFeelingEmotionPrompt(narration string, people []*domain.Person) string {
	var b strings.Builder
	b.WriteString("PEOPLE:\n")
	for _, p := range people {
		fmt.Fprintf(&b, "- %s (uuid: %s)\n", p.Name, p.UUID)
	}
	b.WriteString("\nEMOTION NAMES:\n")
	for _, e := range domain.EmotionNames {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	b.WriteString("\nJOURNAL ENTRY:\n")
	b.WriteString(narration)
	return b.String()
}

func buildFeelingConceptPrompt(narration string, people []*domain.Person, concepts []*domain.Concept) string {
	var b strings.Builder
	b.WriteString("PEOPLE:\n")
	for _, p := range people {
		fmt.Fprintf(&b, "- %s (uuid: %s)\n", p.Name, p.UUID)
	}
	b.WriteString("\nCONCEPTS:\n")
	for _, c := range concepts {
		fmt.Fprintf(&b, "- %s (uuid: %s)\n", c.Name, c.UUID)
	}
	b.WriteString("\nJOURNAL ENTRY:\n")
	b.WriteString(narration)
	return b.String()
}

func buildRelationPrompt(narration string, entities []domain.Entity) string {
	var b strings.Builder
	b.WriteString("ENTITIES:\n")
	for _, e := range entities {
		core := e.Core()
		fmt.Fprintf(&b, "- %s [%s] (uuid: %s): %s\n",
			core.Name, e.Type(), core.UUID, core.SummaryShort)
	}
	b.WriteString("\nJOURNAL ENTRY:\n")
	b.WriteString(narration)
	return b.String()
}

func buildConceptRelationPrompt(narration string, subject *domain.Concept, knownContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONCEPT UNDER CONSIDERATION: %s (uuid: %s)\n%s\n\n",
		subject.Name, subject.UUID, subject.SummaryShort)
	if knownContext != "" {
		b.WriteString("KNOWN CONCEPTS:\n")
		b.WriteString(knownContext)
		b.WriteString("\n\n")
	}
	b.WriteString("JOURNAL ENTRY:\n")
	b.WriteString(narration)
	return b.String()
}

func buildSummaryMergePrompt(name, existing, fresh string) string {
	return fmt.Sprintf("ENTITY: %s\n\nEXISTING DESCRIPTION:\n%s\n\nNEW DESCRIPTION:\n%s",
		name, existing, fresh)
}
