// Package arbitrate implements the arbitration engine (C6) and the
// arbitration plugin loader (C7): central conflict-type detection, named
// strategy dispatch with fallback, and hot-reloadable strategy discovery.
package arbitrate

import "time"

// ConflictKind is the engine-level taxonomy from §4.6 (distinct from the
// composer's content-conflict taxonomy in internal/compose).
type ConflictKind string

const (
	ConflictError        ConflictKind = "error"
	ConflictTimeout      ConflictKind = "timeout"
	ConflictContradiction ConflictKind = "contradiction"
	ConflictQualityDispute ConflictKind = "quality_dispute"
	ConflictMinorDispute ConflictKind = "minor_dispute"
)

// Output is one agent's contributed result for a contested subtask — the
// input the engine arbitrates over.
type Output struct {
	AgentID         string    `json:"agent_id"`
	Content         string    `json:"content"`
	Confidence      float64   `json:"confidence"`
	ErrorCount      int       `json:"error_count"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
	PriorityWeight  float64   `json:"priority_weight"`
	CostPer1kTokens float64   `json:"cost_per_1k_tokens"`
}

// Conflict is the unit of work handed to a strategy's Arbitrate method.
type Conflict struct {
	ConflictID  string       `json:"conflict_id"`
	TaskID      string       `json:"task_id"`
	SubtaskID   string       `json:"subtask_id"`
	Type        ConflictKind `json:"type"`
	Severity    float64      `json:"severity"`
	Description string      `json:"description"`
	Outputs     []Output     `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Result is the ArbitrationResult emitted by a strategy or the engine's
// own fallback path. Immutable once emitted.
type Result struct {
	WinnerAgentID     string                 `json:"winner_agent_id"`
	WinningOutput     string                 `json:"winning_output"`
	Confidence        float64                `json:"confidence"`
	StrategyUsed      string                 `json:"strategy_used"`
	FallbackTriggered bool                   `json:"fallback_triggered"`
	FallbackReason    string                 `json:"fallback_reason,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Strategy is the plugin contract: exactly these members, per §4.6.
type Strategy interface {
	StrategyName() string
	StrategyVersion() string
	ValidateConfig(config map[string]interface{}) bool
	Arbitrate(conflict Conflict, config map[string]interface{}) (Result, error)
}
