package plugins

import (
	"fmt"

	"github.com/collabmesh/substrate/internal/arbitrate"
)

// ConfidenceWeight penalizes each output's confidence by its error count
// (adjusted_confidence = confidence * (1 - min(0.2*error_count, 0.5))) and
// picks the argmax, breaking ties by minimum execution time.
type ConfidenceWeight struct{}

func (ConfidenceWeight) StrategyName() string    { return "confidence_weight" }
func (ConfidenceWeight) StrategyVersion() string { return "1.0.0" }

func (ConfidenceWeight) ValidateConfig(config map[string]interface{}) bool { return true }

func adjustedConfidence(o arbitrate.Output) float64 {
	penalty := 0.2 * float64(o.ErrorCount)
	if penalty > 0.5 {
		penalty = 0.5
	}
	return o.Confidence * (1 - penalty)
}

func (ConfidenceWeight) Arbitrate(conflict arbitrate.Conflict, config map[string]interface{}) (arbitrate.Result, error) {
	if len(conflict.Outputs) == 0 {
		return arbitrate.Result{}, fmt.Errorf("confidence_weight: no outputs")
	}

	outputs := sortedByAgentID(conflict.Outputs)
	scores := make(map[string]float64, len(outputs))
	best := outputs[0]
	bestScore := adjustedConfidence(best)
	scores[best.AgentID] = bestScore
	for _, o := range outputs[1:] {
		score := adjustedConfidence(o)
		scores[o.AgentID] = score
		if score > bestScore ||
			(score == bestScore && o.ExecutionTimeMS < best.ExecutionTimeMS) {
			best, bestScore = o, score
		}
	}

	return result(best, bestScore, "confidence_weight", map[string]interface{}{
		"raw_confidence": best.Confidence,
		"agent_scores":   scores,
	}), nil
}
