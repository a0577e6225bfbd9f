package plugins

import (
	"fmt"

	"github.com/collabmesh/substrate/internal/arbitrate"
)

// LatencyAware filters outputs against a config["max_latency_ms"] ceiling
// (when set), then blends error-adjusted confidence ("quality") with a
// latency-score of 1/(1+execution_time_ms/1000), combined per
// config["optimization_mode"] ∈ {latency, quality, balanced} (default
// balanced) and config["latency_weight"] (default 0.5) under balanced mode.
type LatencyAware struct{}

func (LatencyAware) StrategyName() string    { return "latency_aware" }
func (LatencyAware) StrategyVersion() string { return "1.0.0" }

func (LatencyAware) ValidateConfig(config map[string]interface{}) bool {
	if v, ok := config["latency_weight"]; ok {
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
		case "latency", "quality", "balanced":
		default:
			return false
		}
	}
	return true
}

func (LatencyAware) Arbitrate(conflict arbitrate.Conflict, config map[string]interface{}) (arbitrate.Result, error) {
	if len(conflict.Outputs) == 0 {
		return arbitrate.Result{}, fmt.Errorf("latency_aware: no outputs")
	}

	outputs := sortedByAgentID(conflict.Outputs)
	if maxLatency, ok := config["max_latency_ms"].(float64); ok {
		var eligible []arbitrate.Output
		for _, o := range outputs {
			if o.ExecutionTimeMS <= maxLatency {
				eligible = append(eligible, o)
			}
		}
		if len(eligible) > 0 {
			outputs = eligible
		}
	}

	mode := stringOrDefault(config, "optimization_mode", "balanced")
	latencyWeight := floatOrDefault(config, "latency_weight", 0.5)

	var best arbitrate.Output
	bestScore := -1.0
	scores := make(map[string]float64, len(outputs))
	for i, o := range outputs {
		quality := adjustedConfidence(o)
		latencyScore := 1 / (1 + o.ExecutionTimeMS/1000)

		var score float64
		switch mode {
		case "latency":
			score = latencyScore
		case "quality":
			score = quality
		default:
			score = latencyWeight*latencyScore + (1-latencyWeight)*quality
		}
		scores[o.AgentID] = score
		if i == 0 || score > bestScore {
			best, bestScore = o, score
		}
	}

	return result(best, bestScore, "latency_aware", map[string]interface{}{
		"optimization_mode": mode,
		"execution_time_ms": best.ExecutionTimeMS,
		"agent_scores":      scores,
	}), nil
}
