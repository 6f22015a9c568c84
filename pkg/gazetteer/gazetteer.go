// Package gazetteer extracts TTRPG rules entities (creature types, spell
// schools, conditions, ability scores) from unstructured chunk text using
// regex matching against a small built-in dictionary. No external
// dependencies; used by Pass D to seed lightweight entity/keyword tags
// before the graph builder canonicalizes them into Entity nodes.
package gazetteer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Match represents a single recognized entity mention.
type Match struct {
	Term       string  // canonical term, e.g. "Poisoned"
	Category   string  // "condition", "creature_type", "ability" or "school"
	Confidence float64 // 0.0-1.0
	Span       string  // matched text fragment
}

// conditions are the standard TTRPG status conditions (5e-flavored, but
// generic enough to apply across systems).
var conditions = []string{
	"Blinded", "Charmed", "Deafened", "Exhaustion", "Frightened", "Grappled",
	"Incapacitated", "Invisible", "Paralyzed", "Petrified", "Poisoned",
	"Prone", "Restrained", "Stunned", "Unconscious",
}

// creatureTypes are common monster taxonomy entries.
var creatureTypes = []string{
	"Aberration", "Beast", "Celestial", "Construct", "Dragon", "Elemental",
	"Fey", "Fiend", "Giant", "Humanoid", "Monstrosity", "Ooze", "Plant",
	"Undead",
}

// abilities are the six core ability scores.
var abilities = []string{
	"Strength", "Dexterity", "Constitution", "Intelligence", "Wisdom", "Charisma",
}

// schools are spell schools of magic.
var schools = []string{
	"Abjuration", "Conjuration", "Divination", "Enchantment", "Evocation",
	"Illusion", "Necromancy", "Transmutation",
}

type entry struct {
	canonical string
	category  string
}

var (
	dictionary map[string]entry
	termRe     *regexp.Regexp
)

func register(terms []string, category string) {
	for _, t := range terms {
		dictionary[strings.ToLower(t)] = entry{canonical: t, category: category}
	}
}

func init() {
	dictionary = make(map[string]entry)
	register(conditions, "condition")
	register(creatureTypes, "creature_type")
	register(abilities, "ability")
	register(schools, "school")

	names := make([]string, 0, len(dictionary))
	for lower := range dictionary {
		names = append(names, regexp.QuoteMeta(lower))
	}
	// Longest-first so "exhaustion" isn't shadowed by a shorter partial alias.
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	termRe = regexp.MustCompile(`(?i)\b(` + strings.Join(names, "|") + `)\b`)
}

// Extract finds all dictionary mentions in text, deduplicated by term.
func Extract(text string) []Match {
	if text == "" || dictionary == nil {
		return nil
	}
	locs := termRe.FindAllStringIndex(text, -1)
	seen := make(map[string]bool)
	var out []Match
	for _, loc := range locs {
		span := text[loc[0]:loc[1]]
		e, ok := dictionary[strings.ToLower(span)]
		if !ok || seen[e.canonical] {
			continue
		}
		seen[e.canonical] = true
		out = append(out, Match{
			Term:       e.canonical,
			Category:   e.category,
			Confidence: 0.9,
			Span:       span,
		})
	}
	return out
}

// Keywords extracts a simple set of lowercase keywords by combining
// gazetteer hits with those seedTerms (e.g. names taken from a document's own
// TOC) that appear in text, matched case-insensitively.
func Keywords(text string, seedTerms []string) []string {
	seen := make(map[string]bool)
	var out []string

	for _, m := range Extract(text) {
		k := strings.ToLower(m.Term)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}

	for _, s := range seedTerms {
		if s == "" {
			continue
		}
		if strings.Contains(strings.ToLower(text), strings.ToLower(s)) {
			k := strings.ToLower(s)
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// Categorize returns a human-readable summary of category counts, useful
// for quick debugging and for Pass D's metrics.
func Categorize(matches []Match) map[string]int {
	counts := make(map[string]int)
	for _, m := range matches {
		counts[m.Category]++
	}
	return counts
}

// String implements fmt.Stringer for Match, useful in log lines.
func (m Match) String() string {
	return fmt.Sprintf("%s(%s)", m.Term, m.Category)
}
