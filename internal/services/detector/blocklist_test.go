package detector

import "testing"

func TestBlocklist_Matches(t *testing.T) {
	bl, err := newBlocklist([]string{"Parlay", " spam ", ""}, "^\\[test\\]")
	if err != nil {
		t.Fatalf("failed to build blocklist: %v", err)
	}

	cases := []struct {
		title string
		want  bool
	}{
		{"Sunday PARLAY special", true},
		{"no spam here", true},
		{"[TEST] market", true},
		{"ordinary market", false},
		{"", false},
	}
	for _, c := range cases {
		if got := bl.Matches(c.title); got != c.want {
			t.Errorf("Matches(%q) = %v, want %v", c.title, got, c.want)
		}
	}
}

func TestBlocklist_EmptyMatchesNothing(t *testing.T) {
	bl, err := newBlocklist(nil, "")
	if err != nil {
		t.Fatalf("failed to build blocklist: %v", err)
	}
	if bl.Matches("anything at all") {
		t.Error("empty blocklist must match nothing")
	}
}

func TestBlocklist_InvalidPattern(t *testing.T) {
	if _, err := newBlocklist(nil, "("); err == nil {
		t.Error("expected a compile error for an unbalanced pattern")
	}
}
