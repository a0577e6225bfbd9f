package compose

import (
	"regexp"
	"strings"
)

const (
	factualSimilarityThreshold = 0.3
	logicalSimilarityThreshold = 0.4
	qualityConfidenceDelta     = 0.3

	factualSeverity       = 0.8
	logicalSeverity       = 0.7
	contradictorySeverity = 0.9
)

var (
	numberRe    = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	dateRe      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	bigramRe    = regexp.MustCompile(`\b[A-Z][a-zA-Z]+ [A-Z][a-zA-Z]+\b`)
	negationRe  = regexp.MustCompile(`(?i)\b(not|never|cannot|can't|won't|isn't|doesn't)\b`)
	isIsNotRe   = regexp.MustCompile(`(?i)\b(\w[\w\s]{0,40}?) is( not|n't)? ([a-zA-Z][\w\s]{0,40})`)
)

// detectConflicts performs pairwise comparison across every pair of
// sibling results and classifies each real disagreement found, per §4.8:
// every rule is evaluated unconditionally for each pair and the
// highest-severity match wins, mirroring _compare_results's
// conflicts.append(...)/max(conflicts, key=severity) shape rather than a
// short-circuiting if/elif chain.
func detectConflicts(inputs []input) []ContentConflict {
	var conflicts []ContentConflict
	for i := 0; i < len(inputs); i++ {
		for j := i + 1; j < len(inputs); j++ {
			a, b := inputs[i], inputs[j]
			if ct, ok := classifyPair(a, b); ok {
				conflicts = append(conflicts, ct)
			}
		}
	}
	return conflicts
}

func classifyPair(a, b input) (ContentConflict, bool) {
	ta := strings.TrimSpace(a.result.Content)
	tb := strings.TrimSpace(b.result.Content)
	if ta == "" || tb == "" {
		return ContentConflict{}, false
	}

	sim := lcsRatio(ta, tb)
	base := ContentConflict{
		SubtaskA:   a.subtask.TaskID,
		SubtaskB:   b.subtask.TaskID,
		AgentA:     a.result.AgentID,
		AgentB:     b.result.AgentID,
		Similarity: sim,
	}

	type match struct {
		conflictType ConflictType
		severity     float64
		description  string
	}
	var matches []match

	if sim < factualSimilarityThreshold && factsDiffer(ta, tb) {
		matches = append(matches, match{ConflictFactual, factualSeverity, "extracted facts (numbers, dates, named entities) disagree"})
	}
	if sim < logicalSimilarityThreshold && negationAsymmetry(ta, tb) {
		matches = append(matches, match{ConflictLogical, logicalSeverity, "dissimilar phrasing with asymmetric negation"})
	}
	if delta := confidenceDelta(a, b); delta > qualityConfidenceDelta {
		matches = append(matches, match{ConflictQuality, delta, "significant confidence gap between results"})
	}
	if contradictoryIsIsNot(ta, tb) {
		matches = append(matches, match{ConflictContradictory, contradictorySeverity, "contradictory is/is-not assertions about the same subject"})
	}

	if len(matches) == 0 {
		return ContentConflict{}, false
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.severity > best.severity {
			best = m
		}
	}
	base.Type = best.conflictType
	base.Description = best.description
	return base, true
}

func confidenceDelta(a, b input) float64 {
	d := a.result.ConfidenceScore - b.result.ConfidenceScore
	if d < 0 {
		d = -d
	}
	return d
}

func contradictoryIsIsNot(a, b string) bool {
	ma := isIsNotRe.FindStringSubmatch(a)
	mb := isIsNotRe.FindStringSubmatch(b)
	if ma == nil || mb == nil {
		return false
	}
	subjA, predA, negA := strings.ToLower(strings.TrimSpace(ma[1])), strings.ToLower(strings.TrimSpace(ma[3])), ma[2] != ""
	subjB, predB, negB := strings.ToLower(strings.TrimSpace(mb[1])), strings.ToLower(strings.TrimSpace(mb[3])), mb[2] != ""
	if subjA != subjB {
		return false
	}
	if predA == predB {
		return negA != negB
	}
	return false
}

func factsDiffer(a, b string) bool {
	numsA, numsB := numberRe.FindAllString(a, -1), numberRe.FindAllString(b, -1)
	if setsDisagree(numsA, numsB) {
		return true
	}
	datesA, datesB := dateRe.FindAllString(a, -1), dateRe.FindAllString(b, -1)
	if setsDisagree(datesA, datesB) {
		return true
	}
	entA, entB := bigramRe.FindAllString(a, -1), bigramRe.FindAllString(b, -1)
	return setsDisagree(entA, entB)
}

// setsDisagree reports whether both sides extracted at least one value of
// this kind and the sets are disjoint, meaning they each asserted a
// specific value but a different one.
func setsDisagree(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, v := range a {
		setA[v] = true
	}
	for _, v := range b {
		if setA[v] {
			return false
		}
	}
	return true
}

func negationAsymmetry(a, b string) bool {
	return negationRe.MatchString(a) != negationRe.MatchString(b)
}

// lcsRatio returns the longest-common-subsequence length over token
// streams, normalized by the longer text's token count, as a cheap
// similarity proxy that tolerates reordering better than edit distance.
func lcsRatio(a, b string) float64 {
	ta, tb := strings.Fields(strings.ToLower(a)), strings.Fields(strings.ToLower(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	prev := make([]int, len(tb)+1)
	curr := make([]int, len(tb)+1)
	for i := 1; i <= len(ta); i++ {
		for j := 1; j <= len(tb); j++ {
			if ta[i-1] == tb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(tb)]
	longer := len(ta)
	if len(tb) > longer {
		longer = len(tb)
	}
	return float64(lcs) / float64(longer)
}
