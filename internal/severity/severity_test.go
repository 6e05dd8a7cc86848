package severity

import "testing"

func TestNormalizeCanonicalAndAliases(t *testing.T) {
	cases := map[string]Level{
		"critical":      Critical,
		"HIGH":          High,
		" Medium ":      Medium,
		"low":           Low,
		"info":          Info,
		"Informational": Info,
		"optimization":  Info,
		"warning":       Medium,
		"error":         High,
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNormalizeRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "severe", "blocker", "5"} {
		if _, err := Normalize(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestMeetsOrAbove(t *testing.T) {
	if !MeetsOrAbove(Critical, High) {
		t.Fatal("critical should meet high")
	}
	if MeetsOrAbove(Info, Low) {
		t.Fatal("info should not meet low")
	}
	if MeetsOrAbove("bogus", Info) {
		t.Fatal("unknown level should never meet a threshold")
	}
}

func TestWeightsFollowOrder(t *testing.T) {
	for i := 0; i+1 < len(All); i++ {
		if Weight(All[i]) <= Weight(All[i+1]) {
			t.Fatalf("weight(%s) must exceed weight(%s)", All[i], All[i+1])
		}
		if Rank(All[i]) <= Rank(All[i+1]) {
			t.Fatalf("rank(%s) must exceed rank(%s)", All[i], All[i+1])
		}
	}
	if got := Max(Low, Critical, Medium); got != Critical {
		t.Fatalf("Max = %s, want critical", got)
	}
}

func TestMaxPicksMostSevere(t *testing.T) {
	if got := Max(Low, Critical, Medium); got != Critical {
		t.Fatalf("Max = %q, want critical", got)
	}
	if got := Max(Info, Level("bogus")); got != Info {
		t.Fatalf("unknown levels must be ignored, got %q", got)
	}
	if got := Max(); got != "" {
		t.Fatalf("Max of nothing = %q, want empty", got)
	}
}
