package consensus

import "strings"

// DefaultConvergenceThreshold is the average cross-round similarity at which
// the challenge set is considered stable.
const DefaultConvergenceThreshold = 0.7

// JaccardSimilarity computes word-overlap similarity between two texts:
// lowercase, split on whitespace, |A∩B| / |A∪B|. Two empty texts are
// identical (1.0); exactly one empty text shares nothing (0.0).
func JaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

// CheckConvergence compares the current round's challenges against the
// previous round's: for each current challenge take the best similarity
// against any previous challenge, then average. Converged when the average
// reaches the threshold. With no previous round or an empty side there is
// nothing to compare, so not converged.
func CheckConvergence(current, previous []ChallengeResult, threshold float64) bool {
	if len(current) == 0 || len(previous) == 0 {
		return false
	}
	var sum float64
	for _, cur := range current {
		best := 0.0
		for _, prev := range previous {
			if sim := JaccardSimilarity(cur.Content, prev.Content); sim > best {
				best = sim
			}
		}
		sum += best
	}
	return sum/float64(len(current)) >= threshold
}

// RigorScore measures debate quality from the genuine-challenge ratio.
// Ranges over [0.5, 1.0]; an empty challenge set scores the floor.
func RigorScore(challenges []ChallengeResult) float64 {
	if len(challenges) == 0 {
		return 0.5
	}
	genuine := 0
	for _, c := range challenges {
		if !c.Sycophantic {
			genuine++
		}
	}
	return 0.5 + 0.5*float64(genuine)/float64(len(challenges))
}

// domainCaps bounds confidence by question intent. Softer domains cap lower.
var domainCaps = map[string]float64{
	"factual":   0.95,
	"technical": 0.90,
	"creative":  0.85,
	"judgment":  0.80,
	"strategic": 0.70,
}

const defaultDomainCap = 0.85

// DomainCap returns the confidence ceiling for an intent. Unknown or absent
// intents get the default cap.
func DomainCap(intent string) float64 {
	if cap, ok := domainCaps[intent]; ok {
		return cap
	}
	return defaultDomainCap
}

// ConfidenceScore is the epistemic confidence: rigor bounded by the domain cap.
func ConfidenceScore(intent string, rigor float64) float64 {
	if cap := DomainCap(intent); rigor > cap {
		return cap
	}
	return rigor
}
