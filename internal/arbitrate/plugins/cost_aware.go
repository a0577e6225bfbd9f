package plugins

import (
	"fmt"

	"github.com/collabmesh/substrate/internal/arbitrate"
)

// CostAware filters outputs against a config["budget_limit"] cost ceiling
// (when set), then blends error-adjusted confidence ("quality") with a
// cost-score of 1/(1+agent_cost), combined per config["optimization_mode"]
// ∈ {cost, quality, balanced} (default balanced) and config["cost_weight"]
// (default 0.5) under balanced mode.
type CostAware struct{}

func (CostAware) StrategyName() string    { return "cost_aware" }
func (CostAware) StrategyVersion() string { return "1.0.0" }

func (CostAware) ValidateConfig(config map[string]interface{}) bool {
	if v, ok := config["cost_weight"]; ok {
		f, ok := v.(float64)
		if !ok || f < 0 || f > 1 {
			return false
		}
	}
	if v, ok := config["optimization_mode"]; ok {
		s, ok := v.(string)
		if !ok {
			return false
		}
		switch s {
		case "cost", "quality", "balanced":
		default:
			return false
		}
	}
	return true
}

func (CostAware) Arbitrate(conflict arbitrate.Conflict, config map[string]interface{}) (arbitrate.Result, error) {
	if len(conflict.Outputs) == 0 {
		return arbitrate.Result{}, fmt.Errorf("cost_aware: no outputs")
	}

	outputs := sortedByAgentID(conflict.Outputs)
	if budget, ok := config["budget_limit"].(float64); ok {
		var eligible []arbitrate.Output
		for _, o := range outputs {
			if o.CostPer1kTokens <= budget {
				eligible = append(eligible, o)
			}
		}
		if len(eligible) > 0 {
			outputs = eligible
		}
	}

	mode := stringOrDefault(config, "optimization_mode", "balanced")
	costWeight := floatOrDefault(config, "cost_weight", 0.5)

	var best arbitrate.Output
	bestScore := -1.0
	scores := make(map[string]float64, len(outputs))
	for i, o := range outputs {
		quality := adjustedConfidence(o)
		costScore := 1 / (1 + o.CostPer1kTokens)

		var score float64
		switch mode {
		case "cost":
			score = costScore
		case "quality":
			score = quality
		default:
			score = costWeight*costScore + (1-costWeight)*quality
		}
		scores[o.AgentID] = score
		if i == 0 || score > bestScore {
			best, bestScore = o, score
		}
	}

	return result(best, bestScore, "cost_aware", map[string]interface{}{
		"optimization_mode":  mode,
		"cost_per_1k_tokens": best.CostPer1kTokens,
		"agent_scores":       scores,
	}), nil
}
