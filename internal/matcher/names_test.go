package matcher

import "testing"

func TestNameTiers(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		candidate string
		wantType  NameMatchType
		wantScore int
	}{
		{"exact ignoring case", "acme inc", "Acme Inc", NameExact, 100},
		{"reversed candidate", "Thomas Barboun", "Barboun, Thomas", NameReversed, 98},
		{"reversed query", "Barboun, Thomas", "Thomas Barboun", NameReversed, 98},
		{"suffix stripped", "Acme", "Acme, LLC", NameNormalized, 95},
		{"location stripped", "RCM Construction", "RCM Construction of SWFL LLC", NameNormalized, 95},
		{"dotted suffix", "Smith Dental P.A.", "Smith Dental", NameNormalized, 95},
		{"first word", "Barboun", "Barboun, Thomas", NameFirstWord, 90},
		{"contains", "Bright", "The Bright Side Cafe", NameContains, 85},
		{"normalized contains", "Harbor Marine Inc", "Tampa Harbor Marine Services", NameNormalizedContains, 83},
		{"first word before reverse contains", "Greenway Landscaping Services", "Greenway Landscaping", NameFirstWord, 90},
		{"candidate inside query", "Big Lake Greenway Partners", "Greenway", NameReverseContains, 80},
		{"prefix", "Johnston Family", "Johnson Roofing", NamePrefix, 75},
	}

	nm := NewNameMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nm.FindMatches(tt.query, []string{tt.candidate})
			if len(got) != 1 {
				t.Fatalf("expected one candidate, got %d", len(got))
			}
			if got[0].MatchType != tt.wantType {
				t.Errorf("expected tier %s, got %s", tt.wantType, got[0].MatchType)
			}
			if got[0].Score != tt.wantScore {
				t.Errorf("expected score %d, got %d", tt.wantScore, got[0].Score)
			}
		})
	}
}

func TestNoMatch(t *testing.T) {
	nm := NewNameMatcher()

	if got := nm.FindMatches("Zephyr Holdings", []string{"Acme Inc", "Barboun, Thomas"}); len(got) != 0 {
		t.Errorf("expected no candidates, got %v", got)
	}
	if got := nm.FindMatches("  ", []string{"Acme Inc"}); got != nil {
		t.Errorf("expected nil for blank query, got %v", got)
	}
}

func TestShortQueriesSkipSubstringTiers(t *testing.T) {
	nm := NewNameMatcher()

	if got := nm.FindMatches("Ac", []string{"Acme Inc"}); len(got) != 0 {
		t.Errorf("expected two-letter query not to match by substring or prefix, got %v", got)
	}
	if got := nm.FindMatches("Acme Inc Holdings", []string{"Ac"}); len(got) != 0 {
		t.Errorf("expected two-letter candidate not to match by reverse contains, got %v", got)
	}
}

func TestPartialTiersCountCharacters(t *testing.T) {
	nm := NewNameMatcher()

	// two characters, three bytes
	if got := nm.FindMatches("Zö", []string{"Zöller Farms"}); len(got) != 0 {
		t.Errorf("expected two-character query not to match by substring, got %v", got)
	}
	// a three-byte prefix would end inside the second character
	if got := nm.FindMatches("Ééx Studio", []string{"Éée Gallery"}); len(got) != 0 {
		t.Errorf("expected different third character not to match by prefix, got %v", got)
	}

	got := nm.FindMatches("Müller Family", []string{"Müllers Roofing"})
	if len(got) != 1 || got[0].MatchType != NamePrefix {
		t.Fatalf("expected a prefix match on the first three characters, got %v", got)
	}
}

func TestFindMatchesOrdering(t *testing.T) {
	nm := NewNameMatcher()
	known := []string{
		"Smith Plumbing",
		"Smith, John",
		"Smithfield Farms",
		"Smith Plumbing",
		"Acme Inc",
		"Smith Electric",
	}

	got := nm.FindMatches("Smith", known)

	want := []struct {
		name  string
		score int
	}{
		{"Smith Electric", 90},
		{"Smith Plumbing", 90},
		{"Smith, John", 90},
		{"Smithfield Farms", 85},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].Score != w.score {
			t.Errorf("position %d: expected %s/%d, got %s/%d", i, w.name, w.score, got[i].Name, got[i].Score)
		}
	}
}

func TestScoresNonIncreasing(t *testing.T) {
	nm := NewNameMatcher()
	known := []string{"Acme", "Acme Inc", "Acme Holdings", "Acmes", "The Acme Group", "Acm"}

	got := nm.FindMatches("Acme Inc", known)
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not sorted at %d: %d after %d", i, got[i].Score, got[i-1].Score)
		}
		if got[i].Score == got[i-1].Score && got[i].Name < got[i-1].Name {
			t.Errorf("ties not sorted by name at %d", i)
		}
	}
	if got[0].Name != "Acme Inc" || got[0].Score != 100 {
		t.Errorf("expected exact match first, got %v", got[0])
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Acme, Inc.":                   "acme",
		"RCM Construction of SWFL LLC": "rcm construction",
		"Bank of America":              "bank",
		"Smith & Sons Co":              "smith & sons",
		"LLC":                          "llc",
		"  Gulf   Coast Ltd  ":         "gulf coast",
		"Of Counsel PLLC":              "of counsel",
	}

	for input, want := range tests {
		if got := NormalizeName(input); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCustomTiers(t *testing.T) {
	exactOnly := NewNameMatcher(DefaultNameTiers()[0])

	if got := exactOnly.FindMatches("Acme", []string{"Acme Inc"}); len(got) != 0 {
		t.Errorf("expected exact-only matcher to reject normalized match, got %v", got)
	}
	if got := exactOnly.FindMatches("ACME INC", []string{"Acme Inc"}); len(got) != 1 {
		t.Errorf("expected exact-only matcher to accept case variant, got %v", got)
	}
}
