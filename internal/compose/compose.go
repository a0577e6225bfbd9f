// Package compose implements the collaborative composer (C8): it detects
// content-level conflicts between multiple agents' results for subtasks
// that share a parent, resolves them by conflict type, and merges the
// surviving contributions into one attributed composition.
package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/collabmesh/substrate/internal/arbitrate"
	"github.com/collabmesh/substrate/internal/dispatch"
	"github.com/collabmesh/substrate/internal/fragment"
)

// ConflictType is the composer's content-conflict taxonomy, distinct from
// the arbitration engine's outcome-conflict taxonomy in internal/arbitrate.
type ConflictType string

const (
	ConflictFactual       ConflictType = "factual"
	ConflictLogical       ConflictType = "logical"
	ConflictContradictory ConflictType = "contradictory"
	ConflictQuality       ConflictType = "quality"
)

// ContentConflict is a detected disagreement between two subtask results.
type ContentConflict struct {
	Type        ConflictType
	SubtaskA    string
	SubtaskB    string
	AgentA      string
	AgentB      string
	Description string
	Similarity  float64
}

// Strategy selects how surviving content is merged.
type Strategy string

const (
	StrategyHierarchical Strategy = "hierarchical"
	StrategySequential   Strategy = "sequential"
	StrategySynthetic    Strategy = "synthetic"
)

// CompositionResult is the final artifact handed back to the orchestrator.
type CompositionResult struct {
	MasterTaskID string                 `json:"master_task_id"`
	Content      string                 `json:"content"`
	Confidence   float64                `json:"confidence"`
	Strategy     Strategy               `json:"strategy"`
	Attribution  map[string][]string    `json:"attribution"` // chunk fingerprint -> contributing agent_ids
	Conflicts    []ContentConflict      `json:"conflicts"`
	Resolutions  []Resolution           `json:"resolutions"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Resolution records how one detected conflict was settled.
type Resolution struct {
	Conflict   ContentConflict
	Method     string
	WinnerID   string
	Confidence float64
}

// Composer is the C8 collaborative composer.
type Composer struct {
	engine *arbitrate.Engine
}

// New builds a Composer backed by an arbitration engine for contradictory
// conflicts that must be adjudicated rather than merged.
func New(engine *arbitrate.Engine) *Composer {
	return &Composer{engine: engine}
}

// input pairs a subtask with the result an agent produced for it.
type input struct {
	subtask *fragment.Subtask
	result  *dispatch.SubtaskResult
}

// Compose detects conflicts among completed sibling subtasks, resolves
// them, and merges the surviving content using the strategy appropriate
// to the fragment's coordination strategy (per §4.8).
func (c *Composer) Compose(fr *fragment.TaskFragment, results map[string]*dispatch.SubtaskResult) (*CompositionResult, error) {
	inputs := make([]input, 0, len(fr.Subtasks))
	for _, st := range fr.Subtasks {
		if res, ok := results[st.TaskID]; ok && res != nil {
			inputs = append(inputs, input{subtask: st, result: res})
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("compose: no completed subtask results for %s", fr.MasterTaskID)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].subtask.TaskID < inputs[j].subtask.TaskID })

	conflicts := detectConflicts(inputs)
	resolutions, survivors := c.resolveAll(fr.MasterTaskID, inputs, conflicts)

	strategy := strategyFor(fr.CoordinationStrategy)
	content := mergeContent(strategy, survivors)
	confidence := tokenWeightedConfidence(survivors)
	attribution := attributeChunks(survivors)

	return &CompositionResult{
		MasterTaskID: fr.MasterTaskID,
		Content:      content,
		Confidence:   confidence,
		Strategy:     strategy,
		Attribution:  attribution,
		Conflicts:    conflicts,
		Resolutions:  resolutions,
		Metadata: map[string]interface{}{
			"subtask_count":   len(fr.Subtasks),
			"survivor_count":  len(survivors),
			"conflict_count":  len(conflicts),
		},
	}, nil
}

func strategyFor(coord fragment.CoordinationStrategy) Strategy {
	switch coord {
	case fragment.StrategyComprehensive:
		return StrategyHierarchical
	case fragment.StrategyStructured:
		return StrategySequential
	default:
		return StrategySynthetic
	}
}

func tokenWeightedConfidence(inputs []input) float64 {
	var weighted, totalTokens float64
	for _, in := range inputs {
		tokens := float64(in.result.TokenUsage["total"])
		if tokens <= 0 {
			tokens = 1
		}
		weighted += in.result.ConfidenceScore * tokens
		totalTokens += tokens
	}
	if totalTokens == 0 {
		return 0
	}
	return weighted / totalTokens
}

func mergeContent(strategy Strategy, inputs []input) string {
	switch strategy {
	case StrategySequential:
		return mergeSequential(inputs)
	case StrategySynthetic:
		return mergeSynthetic(inputs)
	default:
		return mergeHierarchical(inputs)
	}
}

// qualityScore is the §4.8 ranking formula used both by the hierarchical
// composition strategy and the "quality" conflict resolution: 0.7 times
// confidence plus 0.3 times the contributing agent's priority_weight. The
// composer only has the subtask's own priority in scope (not the roles
// registry), which doubles as the stand-in weight here.
func qualityScore(in input) float64 {
	return 0.7*in.result.ConfidenceScore + 0.3*in.subtask.Priority
}

func sortByQuality(inputs []input) []input {
	sorted := append([]input(nil), inputs...)
	sort.SliceStable(sorted, func(i, j int) bool { return qualityScore(sorted[i]) > qualityScore(sorted[j]) })
	return sorted
}

// mergeSequential emits each surviving result as "Step N: {agent}" in
// dispatch order, per §4.8's sequential composition strategy.
func mergeSequential(inputs []input) string {
	var b strings.Builder
	for i, in := range inputs {
		fmt.Fprintf(&b, "Step %d: %s\n%s\n\n", i+1, displayName(in), strings.TrimSpace(in.result.Content))
	}
	return strings.TrimSpace(b.String())
}

// mergeHierarchical sorts survivors by quality score and emits the top
// result as "Main Analysis", the rest as "Supplementary Insights" sections
// keyed by agent name, per §4.8's default (hierarchical) strategy.
func mergeHierarchical(inputs []input) string {
	ranked := sortByQuality(inputs)

	var b strings.Builder
	fmt.Fprintf(&b, "## Main Analysis\n%s\n", strings.TrimSpace(ranked[0].result.Content))
	for _, in := range ranked[1:] {
		fmt.Fprintf(&b, "\n### Supplementary Insights: %s\n%s\n", displayName(in), strings.TrimSpace(in.result.Content))
	}
	return strings.TrimSpace(b.String())
}

// mergeSynthetic extracts up to the first three sentences of every survivor
// as "Key Insights" bullets, followed by the top-quality result in full
// under "Comprehensive Analysis", per §4.8's synthetic strategy.
func mergeSynthetic(inputs []input) string {
	var b strings.Builder
	b.WriteString("## Key Insights\n")
	for _, in := range inputs {
		sentences := splitSentences(in.result.Content)
		if len(sentences) > 3 {
			sentences = sentences[:3]
		}
		for _, s := range sentences {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s (%s)\n", s, displayName(in))
		}
	}

	top := sortByQuality(inputs)[0]
	fmt.Fprintf(&b, "\n## Comprehensive Analysis\n%s\n", strings.TrimSpace(top.result.Content))
	return strings.TrimSpace(b.String())
}

// displayName prefers the agent's human-readable name, falling back to the
// agent_id when a result was synthesized without one.
func displayName(in input) string {
	if in.result.AgentName != "" {
		return in.result.AgentName
	}
	return in.result.AgentID
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '\n' })
}
