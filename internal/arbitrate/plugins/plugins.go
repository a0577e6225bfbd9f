// Package plugins supplies the built-in arbitration strategies: the six
// named in the strategy catalog plus meta_evaluator, a supplemented
// LLM-judge-style strategy that scores candidates using cheap heuristics
// in place of an actual judge call.
package plugins

import (
	"sort"

	"github.com/collabmesh/substrate/internal/arbitrate"
)

// Builtins returns one fresh instance of every built-in strategy, for
// seeding a Loader.
func Builtins() []arbitrate.Strategy {
	return []arbitrate.Strategy{
		MajorityVote{},
		ConfidenceWeight{},
		RecencyBias{},
		CostAware{},
		LatencyAware{},
		HybridScore{},
		MetaEvaluator{},
	}
}

// Factories returns the type->constructor map a Loader needs to
// instantiate built-ins from on-disk manifests.
func Factories() map[string]arbitrate.Factory {
	return map[string]arbitrate.Factory{
		"majority_vote":     func() arbitrate.Strategy { return MajorityVote{} },
		"confidence_weight": func() arbitrate.Strategy { return ConfidenceWeight{} },
		"recency_bias":      func() arbitrate.Strategy { return RecencyBias{} },
		"cost_aware":        func() arbitrate.Strategy { return CostAware{} },
		"latency_aware":     func() arbitrate.Strategy { return LatencyAware{} },
		"hybrid_score":      func() arbitrate.Strategy { return HybridScore{} },
		"meta_evaluator":    func() arbitrate.Strategy { return MetaEvaluator{} },
	}
}

// sortedByAgentID returns a stable copy of outputs ordered by agent_id,
// used as the final tiebreaker across every strategy for determinism.
func sortedByAgentID(outputs []arbitrate.Output) []arbitrate.Output {
	out := append([]arbitrate.Output(nil), outputs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// floatOrDefault reads a float64 config value, falling back when the key
// is absent or holds a non-float value (e.g. an int from a JSON-decoded
// config map).
func floatOrDefault(config map[string]interface{}, key string, def float64) float64 {
	v, ok := config[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// stringOrDefault reads a string config value, falling back when absent.
func stringOrDefault(config map[string]interface{}, key, def string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return def
}

func result(winner arbitrate.Output, confidence float64, strategy string, meta map[string]interface{}) arbitrate.Result {
	return arbitrate.Result{
		WinnerAgentID: winner.AgentID,
		WinningOutput: winner.Content,
		Confidence:    confidence,
		StrategyUsed:  strategy,
		Metadata:      meta,
	}
}
