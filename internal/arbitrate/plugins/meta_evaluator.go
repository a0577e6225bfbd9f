package plugins

import (
	"fmt"
	"strings"

	"github.com/collabmesh/substrate/internal/arbitrate"
)

// MetaEvaluator is the supplemented judge-style strategy: in the original
// system a separate evaluator model scored each candidate; here it is
// reduced to cheap textual heuristics (length adequacy, hedge-word
// penalty, raw confidence) so the engine has a judge-shaped strategy
// without a second model round trip as a hard dependency.
type MetaEvaluator struct{}

func (MetaEvaluator) StrategyName() string    { return "meta_evaluator" }
func (MetaEvaluator) StrategyVersion() string { return "1.0.0" }

func (MetaEvaluator) ValidateConfig(config map[string]interface{}) bool { return true }

var hedgeWords = []string{"maybe", "perhaps", "might", "unsure", "not certain", "i think", "possibly"}

func hedgePenalty(content string) float64 {
	lower := strings.ToLower(content)
	count := 0
	for _, w := range hedgeWords {
		count += strings.Count(lower, w)
	}
	penalty := float64(count) * 0.05
	if penalty > 0.3 {
		penalty = 0.3
	}
	return penalty
}

// lengthAdequacy rewards substantive answers without rewarding padding
// beyond a point of diminishing returns, via a soft cap at 400 characters.
func lengthAdequacy(content string) float64 {
	n := len(strings.TrimSpace(content))
	if n == 0 {
		return 0
	}
	if n >= 400 {
		return 1.0
	}
	return float64(n) / 400.0
}

func (MetaEvaluator) Arbitrate(conflict arbitrate.Conflict, config map[string]interface{}) (arbitrate.Result, error) {
	outputs := sortedByAgentID(conflict.Outputs)
	if len(outputs) == 0 {
		return arbitrate.Result{}, fmt.Errorf("meta_evaluator: no outputs")
	}

	var best arbitrate.Output
	bestScore := -1.0
	scores := make(map[string]float64, len(outputs))
	for _, o := range outputs {
		judged := 0.5*o.Confidence + 0.3*lengthAdequacy(o.Content) + 0.2*(1-hedgePenalty(o.Content)/0.3)
		scores[o.AgentID] = judged
		if judged > bestScore {
			bestScore = judged
			best = o
		}
	}

	return result(best, bestScore, "meta_evaluator", map[string]interface{}{
		"judge_scores": scores,
	}), nil
}
