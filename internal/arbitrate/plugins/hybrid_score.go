package plugins

import (
	"fmt"

	"github.com/collabmesh/substrate/internal/arbitrate"
)

// HybridScore is the default strategy: a weighted sum of five normalized
// axes — confidence, cost, latency, recency, quality — each independently
// configurable via config["<axis>_weight"]. Weights are not required to be
// pre-normalized; they are divided by their own sum so a partial config
// (e.g. only overriding cost_weight) still yields a sane blend.
type HybridScore struct{}

func (HybridScore) StrategyName() string    { return "hybrid_score" }
func (HybridScore) StrategyVersion() string { return "1.0.0" }

func (HybridScore) ValidateConfig(config map[string]interface{}) bool {
	for _, key := range hybridAxisKeys {
		if v, ok := config[key+"_weight"]; ok {
			f, ok := v.(float64)
			if !ok || f < 0 {
				return false
			}
		}
	}
	return true
}

var hybridAxisKeys = []string{"confidence", "cost", "latency", "recency", "quality"}

var hybridDefaultWeights = map[string]float64{
	"confidence": 0.3,
	"cost":       0.15,
	"latency":    0.15,
	"recency":    0.2,
	"quality":    0.2,
}

func hybridWeights(config map[string]interface{}) map[string]float64 {
	weights := make(map[string]float64, len(hybridAxisKeys))
	var total float64
	for _, axis := range hybridAxisKeys {
		w := floatOrDefault(config, axis+"_weight", hybridDefaultWeights[axis])
		weights[axis] = w
		total += w
	}
	if total == 0 {
		return hybridDefaultWeights
	}
	for _, axis := range hybridAxisKeys {
		weights[axis] /= total
	}
	return weights
}

func (HybridScore) Arbitrate(conflict arbitrate.Conflict, config map[string]interface{}) (arbitrate.Result, error) {
	outputs := sortedByAgentID(conflict.Outputs)
	if len(outputs) == 0 {
		return arbitrate.Result{}, fmt.Errorf("hybrid_score: no outputs")
	}

	weights := hybridWeights(config)

	maxCost, maxLatency := 0.0, 0.0
	minTS, maxTS := outputs[0].Timestamp, outputs[0].Timestamp
	for _, o := range outputs {
		if o.CostPer1kTokens > maxCost {
			maxCost = o.CostPer1kTokens
		}
		if o.ExecutionTimeMS > maxLatency {
			maxLatency = o.ExecutionTimeMS
		}
		if o.Timestamp.Before(minTS) {
			minTS = o.Timestamp
		}
		if o.Timestamp.After(maxTS) {
			maxTS = o.Timestamp
		}
	}
	span := maxTS.Sub(minTS).Seconds()

	var best arbitrate.Output
	bestScore := -1.0
	scores := make(map[string]float64, len(outputs))
	for i, o := range outputs {
		recencyNorm := 1.0
		if span > 0 {
			recencyNorm = o.Timestamp.Sub(minTS).Seconds() / span
		}
		costScore := 1.0
		if maxCost > 0 {
			costScore = 1 - (o.CostPer1kTokens / maxCost)
		}
		latencyScore := 1.0
		if maxLatency > 0 {
			latencyScore = 1 - (o.ExecutionTimeMS / maxLatency)
		}

		score := weights["confidence"]*o.Confidence +
			weights["quality"]*adjustedConfidence(o) +
			weights["cost"]*costScore +
			weights["latency"]*latencyScore +
			weights["recency"]*recencyNorm

		scores[o.AgentID] = score
		if i == 0 || score > bestScore {
			best, bestScore = o, score
		}
	}

	return result(best, bestScore, "hybrid_score", map[string]interface{}{
		"weights":      weights,
		"agent_scores": scores,
	}), nil
}
