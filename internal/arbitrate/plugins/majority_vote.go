package plugins

import (
	"fmt"

	"github.com/collabmesh/substrate/internal/arbitrate"
)

// MajorityVote picks the content that the most agents agree on verbatim,
// breaking ties by highest mean confidence among the tied groups, then by
// lexicographically smallest agent_id within the winning group.
type MajorityVote struct{}

func (MajorityVote) StrategyName() string    { return "majority_vote" }
func (MajorityVote) StrategyVersion() string { return "1.0.0" }

func (MajorityVote) ValidateConfig(config map[string]interface{}) bool { return true }

func (MajorityVote) Arbitrate(conflict arbitrate.Conflict, config map[string]interface{}) (arbitrate.Result, error) {
	if len(conflict.Outputs) == 0 {
		return arbitrate.Result{}, fmt.Errorf("majority_vote: no outputs")
	}

	type group struct {
		content    string
		members    []arbitrate.Output
		confidence float64
	}
	groups := make(map[string]*group)
	for _, o := range conflict.Outputs {
		g, ok := groups[o.Content]
		if !ok {
			g = &group{content: o.Content}
			groups[o.Content] = g
		}
		g.members = append(g.members, o)
		g.confidence += o.Confidence
	}

	var best *group
	for _, g := range groups {
		g.confidence /= float64(len(g.members))
		if best == nil ||
			len(g.members) > len(best.members) ||
			(len(g.members) == len(best.members) && g.confidence > best.confidence) {
			best = g
		}
	}

	winner := sortedByAgentID(best.members)[0]
	majorityFraction := float64(len(best.members)) / float64(len(conflict.Outputs))
	confidence := (winner.Confidence + majorityFraction) / 2
	return result(winner, confidence, "majority_vote", map[string]interface{}{
		"vote_count":        len(best.members),
		"total_votes":       len(conflict.Outputs),
		"majority_fraction": majorityFraction,
	}), nil
}
