package consensus

import (
	"math"
	"testing"
)

func TestJaccardIdentical(t *testing.T) {
	if got := JaccardSimilarity("the same words", "the same words"); got != 1.0 {
		t.Errorf("identical = %v, want 1.0", got)
	}
	if got := JaccardSimilarity("", ""); got != 1.0 {
		t.Errorf("both empty = %v, want 1.0", got)
	}
}

func TestJaccardOneEmpty(t *testing.T) {
	if got := JaccardSimilarity("words", ""); got != 0.0 {
		t.Errorf("one empty = %v, want 0.0", got)
	}
	if got := JaccardSimilarity("", "words"); got != 0.0 {
		t.Errorf("one empty = %v, want 0.0", got)
	}
}

func TestJaccardSymmetric(t *testing.T) {
	a := "PostgreSQL adds complexity"
	b := "PostgreSQL adds operational complexity"
	if JaccardSimilarity(a, b) != JaccardSimilarity(b, a) {
		t.Error("similarity must be symmetric")
	}
	// Shared {postgresql, adds, complexity} of union size 4.
	if got := JaccardSimilarity(a, b); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("similarity = %v, want 0.75", got)
	}
}

func TestJaccardCaseInsensitive(t *testing.T) {
	if got := JaccardSimilarity("Hello World", "hello world"); got != 1.0 {
		t.Errorf("case-folded = %v, want 1.0", got)
	}
}

func TestCheckConvergence(t *testing.T) {
	prev := []ChallengeResult{{Content: "PostgreSQL adds complexity"}}
	cur := []ChallengeResult{{Content: "PostgreSQL adds operational complexity"}}

	if !CheckConvergence(cur, prev, 0.7) {
		t.Error("0.75 similarity must converge at threshold 0.7")
	}
	if CheckConvergence(cur, prev, 0.8) {
		t.Error("0.75 similarity must not converge at threshold 0.8")
	}
	if CheckConvergence(cur, nil, 0.7) {
		t.Error("no previous round must not converge")
	}
	if CheckConvergence(nil, prev, 0.7) {
		t.Error("empty current set must not converge")
	}
}

func TestCheckConvergenceUsesBestMatch(t *testing.T) {
	prev := []ChallengeResult{
		{Content: "completely unrelated text about gardening"},
		{Content: "the index scan dominates query latency"},
	}
	cur := []ChallengeResult{
		{Content: "the index scan dominates query latency"},
	}
	if !CheckConvergence(cur, prev, 0.7) {
		t.Error("best-match against previous set must drive convergence")
	}
}

func TestRigorScore(t *testing.T) {
	if got := RigorScore(nil); got != 0.5 {
		t.Errorf("empty = %v, want 0.5", got)
	}
	half := []ChallengeResult{
		{Sycophantic: true},
		{Sycophantic: false},
	}
	if got := RigorScore(half); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("half genuine = %v, want 0.75", got)
	}
	all := []ChallengeResult{{}, {}, {}}
	if got := RigorScore(all); got != 1.0 {
		t.Errorf("all genuine = %v, want 1.0", got)
	}
	none := []ChallengeResult{{Sycophantic: true}, {Sycophantic: true}}
	if got := RigorScore(none); got != 0.5 {
		t.Errorf("all sycophantic = %v, want 0.5", got)
	}
}

func TestRigorMonotonicInGenuineCount(t *testing.T) {
	prev := 0.0
	for genuine := 0; genuine <= 4; genuine++ {
		challenges := make([]ChallengeResult, 4)
		for i := range challenges {
			challenges[i].Sycophantic = i >= genuine
		}
		got := RigorScore(challenges)
		if got < prev {
			t.Fatalf("rigor decreased at genuine=%d: %v < %v", genuine, got, prev)
		}
		prev = got
	}
}

func TestDomainCapBinds(t *testing.T) {
	cases := []struct {
		intent string
		want   float64
	}{
		{"factual", 0.95},
		{"technical", 0.90},
		{"creative", 0.85},
		{"judgment", 0.80},
		{"strategic", 0.70},
		{"unknown-intent", 0.85},
		{"", 0.85},
	}
	for _, tc := range cases {
		if got := ConfidenceScore(tc.intent, 1.0); got != tc.want {
			t.Errorf("intent %q with perfect rigor: confidence = %v, want %v", tc.intent, got, tc.want)
		}
	}
	// Rigor below the cap passes through.
	if got := ConfidenceScore("factual", 0.75); got != 0.75 {
		t.Errorf("confidence = %v, want 0.75", got)
	}
}
