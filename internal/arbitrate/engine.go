package arbitrate

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EngineConfig governs conflict-type thresholds, strategy selection, and
// the fallback path taken when a strategy is missing or errors.
type EngineConfig struct {
	DefaultStrategy    string
	FallbackStrategy   string
	FallbackConfidence float64
	TimeoutThresholdMS float64
	MinorDisputeDelta  float64
	TaskTypeStrategies map[string]string
}

func (c *EngineConfig) applyDefaults() {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = "hybrid_score"
	}
	if c.FallbackStrategy == "" {
		c.FallbackStrategy = "confidence_weight"
	}
	if c.FallbackConfidence <= 0 {
		c.FallbackConfidence = 0.5
	}
	if c.TimeoutThresholdMS <= 0 {
		c.TimeoutThresholdMS = 30000
	}
	if c.MinorDisputeDelta <= 0 {
		c.MinorDisputeDelta = 0.3
	}
}

// ConflictLogEntry and ResultLogEntry form the append-only audit trail §4.6
// requires: every detected conflict and every arbitration outcome is kept,
// queryable by task, agent, or strategy.
type ConflictLogEntry struct {
	Conflict  Conflict
	LoggedAt  time.Time
}

type ResultLogEntry struct {
	Conflict Conflict
	Result   Result
	LoggedAt time.Time
}

// Engine is the C6 Arbitration Engine: it classifies conflicts, dispatches
// to a named strategy, and falls back to the configured fallback strategy
// (then to a deterministic highest-confidence pick) when the strategy is
// unknown or returns an error.
type Engine struct {
	mu          sync.RWMutex
	cfg         EngineConfig
	loader      *Loader
	conflictLog []ConflictLogEntry
	resultLog   []ResultLogEntry
}

// NewEngine wires an Engine to a Loader (the live strategy set) and a config.
func NewEngine(loader *Loader, cfg EngineConfig) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, loader: loader}
}

// ClassifyConflict assigns a ConflictKind to a set of outputs for the same
// subtask, per §4.6's ordered rules: error first, then timeout, then
// content contradiction, then a confidence-spread quality dispute, else a
// minor dispute.
func ClassifyConflict(outputs []Output, timeoutThresholdMS, minorDelta float64) ConflictKind {
	for _, o := range outputs {
		if o.ErrorCount > 0 {
			return ConflictError
		}
	}
	for _, o := range outputs {
		if o.ExecutionTimeMS > timeoutThresholdMS {
			return ConflictTimeout
		}
	}
	if contentsDiffer(outputs) {
		return ConflictContradiction
	}
	if confidenceSpread(outputs) > minorDelta {
		return ConflictQualityDispute
	}
	return ConflictMinorDispute
}

func contentsDiffer(outputs []Output) bool {
	if len(outputs) < 2 {
		return false
	}
	first := outputs[0].Content
	for _, o := range outputs[1:] {
		if o.Content != first {
			return true
		}
	}
	return false
}

func confidenceSpread(outputs []Output) float64 {
	if len(outputs) == 0 {
		return 0
	}
	min, max := outputs[0].Confidence, outputs[0].Confidence
	for _, o := range outputs[1:] {
		if o.Confidence < min {
			min = o.Confidence
		}
		if o.Confidence > max {
			max = o.Confidence
		}
	}
	return max - min
}

// Arbitrate classifies the conflict, picks a strategy (explicit override,
// else per-task-type override, else the engine default), and invokes it,
// taking the fallback path on any failure.
func (e *Engine) Arbitrate(conflict Conflict, taskType, strategyOverride string, config map[string]interface{}) (Result, error) {
	if len(conflict.Outputs) < 2 {
		return Result{}, fmt.Errorf("arbitrate: conflict %s needs at least two outputs, got %d", conflict.ConflictID, len(conflict.Outputs))
	}

	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	if conflict.Type == "" {
		conflict.Type = ClassifyConflict(conflict.Outputs, cfg.TimeoutThresholdMS, cfg.MinorDisputeDelta)
	}
	if conflict.CreatedAt.IsZero() {
		conflict.CreatedAt = time.Now()
	}

	name := strategyOverride
	if name == "" {
		if override, ok := cfg.TaskTypeStrategies[taskType]; ok {
			name = override
		}
	}
	if name == "" {
		name = cfg.DefaultStrategy
	}

	e.logConflict(conflict)

	result, err := e.invoke(name, conflict, config)
	if err != nil {
		result = e.fallback(conflict, cfg, fmt.Sprintf("strategy %q failed: %v", name, err))
	}

	e.logResult(conflict, result)
	return result, nil
}

func (e *Engine) invoke(name string, conflict Conflict, config map[string]interface{}) (Result, error) {
	strat, ok := e.loader.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("unknown strategy %q", name)
	}
	if config != nil && !strat.ValidateConfig(config) {
		return Result{}, fmt.Errorf("strategy %q rejected its config", name)
	}
	return strat.Arbitrate(conflict, config)
}

// fallback runs the configured FallbackStrategy when it is loaded and
// succeeds; otherwise it picks the highest-confidence output
// deterministically (ties broken by lexicographically smallest agent_id).
// Used when the requested strategy is missing, misconfigured, or errors.
func (e *Engine) fallback(conflict Conflict, cfg EngineConfig, reason string) Result {
	if strat, ok := e.loader.Get(cfg.FallbackStrategy); ok {
		if res, err := strat.Arbitrate(conflict, nil); err == nil {
			res.FallbackTriggered = true
			res.FallbackReason = reason
			return res
		}
	}

	outputs := append([]Output(nil), conflict.Outputs...)
	sort.SliceStable(outputs, func(i, j int) bool {
		if outputs[i].Confidence != outputs[j].Confidence {
			return outputs[i].Confidence > outputs[j].Confidence
		}
		return outputs[i].AgentID < outputs[j].AgentID
	})
	winner := outputs[0]
	conf := winner.Confidence
	if conf <= 0 {
		conf = cfg.FallbackConfidence
	}
	return Result{
		WinnerAgentID:     winner.AgentID,
		WinningOutput:     winner.Content,
		Confidence:        conf,
		StrategyUsed:      "fallback",
		FallbackTriggered: true,
		FallbackReason:    reason,
	}
}

func (e *Engine) logConflict(c Conflict) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conflictLog = append(e.conflictLog, ConflictLogEntry{Conflict: c, LoggedAt: time.Now()})
}

func (e *Engine) logResult(c Conflict, r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resultLog = append(e.resultLog, ResultLogEntry{Conflict: c, Result: r, LoggedAt: time.Now()})
}

// ConflictFilter selects which log entries QueryConflicts/QueryResults
// return; zero-valued fields are wildcards.
type ConflictFilter struct {
	TaskID   string
	AgentID  string
	Strategy string
	LastN    int
}

// QueryConflicts returns logged conflicts matching filter, most recent last.
func (e *Engine) QueryConflicts(filter ConflictFilter) []ConflictLogEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []ConflictLogEntry
	for _, entry := range e.conflictLog {
		if filter.TaskID != "" && entry.Conflict.TaskID != filter.TaskID {
			continue
		}
		if filter.AgentID != "" && !hasAgent(entry.Conflict.Outputs, filter.AgentID) {
			continue
		}
		out = append(out, entry)
	}
	return lastN(out, filter.LastN)
}

// QueryResults returns logged arbitration results matching filter.
func (e *Engine) QueryResults(filter ConflictFilter) []ResultLogEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []ResultLogEntry
	for _, entry := range e.resultLog {
		if filter.TaskID != "" && entry.Conflict.TaskID != filter.TaskID {
			continue
		}
		if filter.AgentID != "" && entry.Result.WinnerAgentID != filter.AgentID {
			continue
		}
		if filter.Strategy != "" && entry.Result.StrategyUsed != filter.Strategy {
			continue
		}
		out = append(out, entry)
	}
	return lastN(out, filter.LastN)
}

func hasAgent(outputs []Output, agentID string) bool {
	for _, o := range outputs {
		if o.AgentID == agentID {
			return true
		}
	}
	return false
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}
