package plugins

import (
	"fmt"

	"github.com/collabmesh/substrate/internal/arbitrate"
)

// RecencyBias blends a linear recency score (1 for the most recent output,
// decaying to 0 at the oldest) with error-adjusted confidence, weighted by
// a configurable recency_weight, on the theory that a later agent had more
// context (earlier peers' partial results) even if its raw confidence is
// lower.
type RecencyBias struct{}

func (RecencyBias) StrategyName() string    { return "recency_bias" }
func (RecencyBias) StrategyVersion() string { return "1.0.0" }

func (RecencyBias) ValidateConfig(config map[string]interface{}) bool { return true }

const defaultRecencyWeight = 0.5

func (RecencyBias) Arbitrate(conflict arbitrate.Conflict, config map[string]interface{}) (arbitrate.Result, error) {
	if len(conflict.Outputs) == 0 {
		return arbitrate.Result{}, fmt.Errorf("recency_bias: no outputs")
	}

	recencyWeight := floatOrDefault(config, "recency_weight", defaultRecencyWeight)

	outputs := sortedByAgentID(conflict.Outputs)
	minTS, maxTS := outputs[0].Timestamp, outputs[0].Timestamp
	for _, o := range outputs[1:] {
		if o.Timestamp.Before(minTS) {
			minTS = o.Timestamp
		}
		if o.Timestamp.After(maxTS) {
			maxTS = o.Timestamp
		}
	}
	span := maxTS.Sub(minTS).Seconds()

	scores := make(map[string]float64, len(outputs))
	var winner arbitrate.Output
	var winnerScore float64
	for i, o := range outputs {
		recencyNorm := 1.0
		if span > 0 {
			recencyNorm = o.Timestamp.Sub(minTS).Seconds() / span
		}
		score := recencyWeight*recencyNorm + (1-recencyWeight)*adjustedConfidence(o)
		scores[o.AgentID] = score
		if i == 0 || score > winnerScore {
			winner, winnerScore = o, score
		}
	}

	return result(winner, winnerScore, "recency_bias", map[string]interface{}{
		"recency_weight": recencyWeight,
		"agent_scores":   scores,
	}), nil
}
