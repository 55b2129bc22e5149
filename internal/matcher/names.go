package matcher

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NameMatchType identifies which tier matched a customer name
type NameMatchType int

const (
	NameExact NameMatchType = iota
	NameReversed
	NameNormalized
	NameFirstWord
	NameContains
	NameNormalizedContains
	NameReverseContains
	NamePrefix
)

// String returns the label used in match descriptions
func (t NameMatchType) String() string {
	switch t {
	case NameExact:
		return "Exact"
	case NameReversed:
		return "Reversed Name"
	case NameNormalized:
		return "Normalized"
	case NameFirstWord:
		return "First Word"
	case NameContains:
		return "Contains"
	case NameNormalizedContains:
		return "Normalized Contains"
	case NameReverseContains:
		return "Reverse Contains"
	case NamePrefix:
		return "Prefix"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (t NameMatchType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// NameForm is a customer name prepared for comparison
type NameForm struct {
	Raw        string
	Lower      string
	Normalized string
	FirstWord  string
}

// NewNameForm precomputes the comparison forms of a name
func NewNameForm(name string) NameForm {
	raw := strings.TrimSpace(name)
	normalized := NormalizeName(raw)
	form := NameForm{
		Raw:        raw,
		Lower:      strings.Join(strings.Fields(strings.ToLower(raw)), " "),
		Normalized: normalized,
	}
	if fields := strings.Fields(normalized); len(fields) > 0 {
		form.FirstWord = fields[0]
	}
	return form
}

// NameTier is one matching strategy: a predicate and the score it awards
type NameTier struct {
	Type  NameMatchType
	Score int
	Match func(query, candidate NameForm) bool
}

// DefaultNameTiers returns the tiers in precedence order. A candidate is
// scored by the first tier it satisfies.
func DefaultNameTiers() []NameTier {
	return []NameTier{
		{Type: NameExact, Score: 100, Match: func(q, c NameForm) bool {
			return q.Lower == c.Lower
		}},
		{Type: NameReversed, Score: 98, Match: func(q, c NameForm) bool {
			if r, ok := reverseName(c.Raw); ok && r == q.Lower {
				return true
			}
			r, ok := reverseName(q.Raw)
			return ok && r == c.Lower
		}},
		{Type: NameNormalized, Score: 95, Match: func(q, c NameForm) bool {
			return q.Normalized != "" && q.Normalized == c.Normalized
		}},
		{Type: NameFirstWord, Score: 90, Match: func(q, c NameForm) bool {
			return q.FirstWord != "" && q.FirstWord == c.FirstWord
		}},
		{Type: NameContains, Score: 85, Match: func(q, c NameForm) bool {
			return longEnough(q.Lower) && strings.Contains(c.Lower, q.Lower)
		}},
		{Type: NameNormalizedContains, Score: 83, Match: func(q, c NameForm) bool {
			return longEnough(q.Normalized) && strings.Contains(c.Normalized, q.Normalized)
		}},
		{Type: NameReverseContains, Score: 80, Match: func(q, c NameForm) bool {
			return longEnough(c.Lower) && strings.Contains(q.Lower, c.Lower)
		}},
		{Type: NamePrefix, Score: 75, Match: func(q, c NameForm) bool {
			return longEnough(q.Lower) && strings.HasPrefix(c.Lower, runePrefix(q.Lower, minPartialRunes))
		}},
	}
}

// minPartialRunes is the shortest name the partial tiers consider
const minPartialRunes = 3

func longEnough(s string) bool {
	return utf8.RuneCountInString(s) >= minPartialRunes
}

// runePrefix returns the first n characters of s
func runePrefix(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// NameCandidate is a known customer name scored against a query
type NameCandidate struct {
	Name      string        `json:"name"`
	MatchType NameMatchType `json:"match_type"`
	Score     int           `json:"score"`
}

// NameMatcher ranks known customer names against a statement name
type NameMatcher struct {
	tiers []NameTier
}

// NewNameMatcher creates a matcher; with no tiers the defaults are used
func NewNameMatcher(tiers ...NameTier) *NameMatcher {
	if len(tiers) == 0 {
		tiers = DefaultNameTiers()
	}
	return &NameMatcher{tiers: tiers}
}

// FindMatches returns every known name satisfying some tier, one entry per
// distinct name, ordered by score descending then name ascending.
func (nm *NameMatcher) FindMatches(query string, known []string) []NameCandidate {
	q := NewNameForm(query)
	if q.Raw == "" {
		return nil
	}

	seen := make(map[string]bool, len(known))
	var candidates []NameCandidate
	for _, name := range known {
		c := NewNameForm(name)
		if c.Raw == "" || seen[c.Raw] {
			continue
		}
		seen[c.Raw] = true

		for _, tier := range nm.tiers {
			if tier.Match(q, c) {
				candidates = append(candidates, NameCandidate{Name: c.Raw, MatchType: tier.Type, Score: tier.Score})
				break
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates
}

var businessSuffixes = map[string]bool{
	"llc": true, "inc": true, "incorporated": true, "corp": true, "corporation": true,
	"ltd": true, "limited": true, "pa": true, "pllc": true, "llp": true, "lp": true,
	"co": true, "company": true, "pc": true,
}

// NormalizeName lower-cases a business name and strips legal suffixes
// (LLC, Inc, Corp, ...) and a trailing "of <Location>" clause.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.ReplaceAll(name, ".", ""))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' {
			return r
		}
		return ' '
	}, s)

	tokens := stripSuffixes(strings.Fields(s))
	for i := len(tokens) - 1; i > 0; i-- {
		if tokens[i] == "of" {
			tokens = stripSuffixes(tokens[:i])
			break
		}
	}
	return strings.Join(tokens, " ")
}

func stripSuffixes(tokens []string) []string {
	for len(tokens) > 1 && businessSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// reverseName turns "Last, First" into "first last"
func reverseName(name string) (string, bool) {
	parts := strings.Split(name, ",")
	if len(parts) != 2 {
		return "", false
	}
	last := strings.TrimSpace(parts[0])
	first := strings.TrimSpace(parts[1])
	if last == "" || first == "" {
		return "", false
	}
	return strings.Join(strings.Fields(strings.ToLower(first+" "+last)), " "), true
}
