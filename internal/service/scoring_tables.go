package service

import (
	"strings"
	"unicode"
)

// UnknownSeverityWeight is used for severity labels missing from the table.
const UnknownSeverityWeight = 1

// ScoringTables holds the lookup data shared by the profile builder and the
// scorers. It is copied on construction and only read afterwards, so a single
// instance can be shared between goroutines.
type ScoringTables struct {
	severityWeights         map[string]int
	evidenceBasedApproaches []string
}

// DefaultSeverityWeights returns the built-in severity label table.
func DefaultSeverityWeights() map[string]int {
	return map[string]int{
		"minimal":           1,
		"mild":              2,
		"moderate":          3,
		"moderately severe": 4,
		"severe":            5,
		"very severe":       5,
		"extreme":           5,
		"low":               2,
		"high":              4,
		"substantial":       4,
		"subclinical":       1,
		"subthreshold":      2,
		"clinical":          4,
		"positive":          4,
		"negative":          0,
		"none":              0,
	}
}

// DefaultEvidenceBasedApproaches returns the modalities that earn points when
// the client has not stated approach preferences.
func DefaultEvidenceBasedApproaches() []string {
	return []string{
		"Cognitive Behavioral Therapy (CBT)",
		"Dialectical Behavior Therapy (DBT)",
		"Eye Movement Desensitization and Reprocessing (EMDR)",
		"Acceptance and Commitment Therapy (ACT)",
		"Interpersonal Therapy (IPT)",
		"Exposure Therapy",
		"Mindfulness-Based Cognitive Therapy (MBCT)",
		"Psychodynamic Therapy",
	}
}

// NewScoringTables builds tables from the given data. Severity labels are
// matched case-insensitively.
func NewScoringTables(severityWeights map[string]int, evidenceBased []string) *ScoringTables {
	weights := make(map[string]int, len(severityWeights))
	for label, w := range severityWeights {
		weights[normalizeLabel(label)] = w
	}
	approaches := make([]string, len(evidenceBased))
	copy(approaches, evidenceBased)

	return &ScoringTables{
		severityWeights:         weights,
		evidenceBasedApproaches: approaches,
	}
}

// DefaultScoringTables returns tables loaded with the built-in data.
func DefaultScoringTables() *ScoringTables {
	return NewScoringTables(DefaultSeverityWeights(), DefaultEvidenceBasedApproaches())
}

// SeverityWeight translates a severity label into its 0-5 weight.
func (t *ScoringTables) SeverityWeight(label string) int {
	if w, ok := t.severityWeights[normalizeLabel(label)]; ok {
		return w
	}
	return UnknownSeverityWeight
}

// EvidenceBasedApproaches returns a copy of the evidence-based modality list.
func (t *ScoringTables) EvidenceBasedApproaches() []string {
	out := make([]string, len(t.evidenceBasedApproaches))
	copy(out, t.evidenceBasedApproaches)
	return out
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// termTokens splits a term into lowercase alphanumeric words.
func termTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// genericTermWords carry no clinical meaning on their own.
var genericTermWords = map[string]bool{
	"therapy": true, "therapies": true, "therapeutic": true, "treatment": true,
	"counseling": true, "counselling": true, "disorder": true, "disorders": true,
	"based": true, "and": true, "of": true, "the": true,
}

// termsMatch reports whether two clinical terms refer to the same thing: they
// are equal ignoring case and punctuation, or the words of one appear as a
// contiguous run inside the other ("CBT" matches "Cognitive Behavioral
// Therapy (CBT)", "Anxiety" matches "Generalized Anxiety"). A partial run made
// only of generic words such as "Therapy" never matches.
func termsMatch(a, b string) bool {
	ta, tb := termTokens(a), termTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	if len(ta) < len(tb) && onlyGenericWords(ta) {
		return false
	}
	for i := 0; i+len(ta) <= len(tb); i++ {
		matched := true
		for j := range ta {
			if tb[i+j] != ta[j] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func onlyGenericWords(tokens []string) bool {
	for _, tok := range tokens {
		if !genericTermWords[tok] {
			return false
		}
	}
	return true
}

// matchesAny reports whether term matches any entry of list.
func matchesAny(term string, list []string) bool {
	for _, candidate := range list {
		if termsMatch(term, candidate) {
			return true
		}
	}
	return false
}

// mergeUnique concatenates lists, dropping blanks and case-insensitive duplicates.
func mergeUnique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, item := range list {
			item = strings.TrimSpace(item)
			key := strings.ToLower(item)
			if item == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// overlapCount counts entries of want matched by any entry of have.
func overlapCount(want, have []string) int {
	count := 0
	for _, w := range want {
		if matchesAny(w, have) {
			count++
		}
	}
	return count
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
