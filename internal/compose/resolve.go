package compose

import (
	"fmt"
	"strings"
	"time"

	"github.com/collabmesh/substrate/internal/arbitrate"
	"github.com/collabmesh/substrate/internal/dispatch"
	"github.com/collabmesh/substrate/internal/fragment"
)

// resolveAll applies the per-conflict-type resolution dispatch from §4.8
// and returns both the resolution log and the surviving inputs (losers of
// an elimination are dropped; a logical conflict's synthesized result
// replaces both its inputs and joins the survivor set).
func (c *Composer) resolveAll(frTaskID string, inputs []input, conflicts []ContentConflict) ([]Resolution, []input) {
	eliminated := make(map[string]bool)
	resolutions := make([]Resolution, 0, len(conflicts))
	var synthesized []input

	byTaskID := make(map[string]input, len(inputs))
	for _, in := range inputs {
		byTaskID[in.subtask.TaskID] = in
	}

	for _, conflict := range conflicts {
		a, okA := byTaskID[conflict.SubtaskA]
		b, okB := byTaskID[conflict.SubtaskB]
		if !okA || !okB {
			continue
		}

		switch conflict.Type {
		case ConflictLogical:
			synthetic := synthesize(a, b)
			synthesized = append(synthesized, synthetic)
			eliminated[a.subtask.TaskID] = true
			eliminated[b.subtask.TaskID] = true
			markResolved(a.result, "synthesized")
			markResolved(b.result, "synthesized")
			resolutions = append(resolutions, Resolution{
				Conflict: conflict, Method: "synthesized",
				WinnerID: synthetic.result.AgentID, Confidence: synthetic.result.ConfidenceScore,
			})

		case ConflictQuality:
			loser, winner := a, b
			if qualityScore(a) > qualityScore(b) {
				loser, winner = b, a
			}
			eliminated[loser.subtask.TaskID] = true
			markResolved(loser.result, "lower_confidence")
			resolutions = append(resolutions, Resolution{
				Conflict: conflict, Method: "selection",
				WinnerID: winner.result.AgentID, Confidence: winner.result.ConfidenceScore,
			})

		case ConflictFactual:
			loser, winner := a, b
			if a.result.ConfidenceScore > b.result.ConfidenceScore {
				loser, winner = b, a
			}
			eliminated[loser.subtask.TaskID] = true
			markResolved(loser.result, "lower_confidence")
			resolutions = append(resolutions, Resolution{
				Conflict: conflict, Method: "lower_confidence_elimination",
				WinnerID: winner.result.AgentID, Confidence: winner.result.ConfidenceScore,
			})

		case ConflictContradictory:
			res := c.arbitrateContradiction(frTaskID, conflict, a, b)
			loser := a
			if res.WinnerAgentID == a.result.AgentID {
				loser = b
			}
			eliminated[loser.subtask.TaskID] = true
			markResolved(loser.result, "arbitration")
			resolutions = append(resolutions, Resolution{
				Conflict: conflict, Method: "arbitration",
				WinnerID: res.WinnerAgentID, Confidence: res.Confidence,
			})
		}
	}

	survivors := make([]input, 0, len(inputs)+len(synthesized))
	for _, in := range inputs {
		if !eliminated[in.subtask.TaskID] {
			survivors = append(survivors, in)
		}
	}
	survivors = append(survivors, synthesized...)
	return resolutions, survivors
}

// markResolved stamps conflict_resolved/resolution_reason directly onto the
// losing SubtaskResult's own Metadata, per §3's data model and invariant 8:
// resolution outcome must be readable off the result itself, not only from
// the parallel Resolution log CompositionResult.Resolutions carries.
func markResolved(result *dispatch.SubtaskResult, reason string) {
	if result.Metadata == nil {
		result.Metadata = make(map[string]interface{})
	}
	result.Metadata["conflict_resolved"] = true
	result.Metadata["resolution_reason"] = reason
}

// synthesize builds the structured synthetic SubtaskResult §4.8 requires for
// a logical conflict: labeled sections for each side's content followed by
// a synthesized-approach paragraph, confidence the arithmetic mean of the
// two inputs.
func synthesize(a, b input) input {
	var body strings.Builder
	fmt.Fprintf(&body, "### %s's Perspective\n%s\n\n", displayName(a), strings.TrimSpace(a.result.Content))
	fmt.Fprintf(&body, "### %s's Perspective\n%s\n\n", displayName(b), strings.TrimSpace(b.result.Content))
	fmt.Fprintf(&body, "### Synthesized Approach\nBoth analyses are valid under different assumptions; %s and %s together describe a combined approach that reconciles the two.",
		displayName(a), displayName(b))

	confidence := (a.result.ConfidenceScore + b.result.ConfidenceScore) / 2
	tokens := a.result.TokenUsage["total"] + b.result.TokenUsage["total"]

	synthetic := &dispatch.SubtaskResult{
		SubtaskID:       a.subtask.TaskID + "+" + b.subtask.TaskID,
		AgentID:         "synthesis:" + a.result.AgentID + "+" + b.result.AgentID,
		Content:         body.String(),
		ConfidenceScore: confidence,
		TokenUsage:      map[string]int{"total": tokens},
	}
	subtask := &fragment.Subtask{
		TaskID:   synthetic.SubtaskID,
		Priority: (a.subtask.Priority + b.subtask.Priority) / 2,
	}
	return input{subtask: subtask, result: synthetic}
}

// priorityRanked picks the higher of priority_weight*confidence per §4.8's
// literal contradictory-conflict ranking rule.
func priorityRanked(a, b input) arbitrate.Result {
	scoreA := a.subtask.Priority * a.result.ConfidenceScore
	scoreB := b.subtask.Priority * b.result.ConfidenceScore
	if scoreA >= scoreB {
		return arbitrate.Result{WinnerAgentID: a.result.AgentID, WinningOutput: a.result.Content, Confidence: a.result.ConfidenceScore}
	}
	return arbitrate.Result{WinnerAgentID: b.result.AgentID, WinningOutput: b.result.Content, Confidence: b.result.ConfidenceScore}
}

// arbitrateContradiction resolves a contradictory conflict. When an
// arbitration engine is wired in, the conflict is submitted to C6 for a
// full strategy-driven adjudication (audited, loggable, configurable);
// otherwise it falls back to §4.8's own literal ranking rule,
// priority_weight*confidence, pick max.
func (c *Composer) arbitrateContradiction(taskID string, conflict ContentConflict, a, b input) arbitrate.Result {
	now := time.Now()
	if c.engine == nil {
		return priorityRanked(a, b)
	}

	outputs := []arbitrate.Output{
		toOutput(a, now), toOutput(b, now),
	}
	res, err := c.engine.Arbitrate(arbitrate.Conflict{
		ConflictID:  conflict.SubtaskA + "|" + conflict.SubtaskB,
		TaskID:      taskID,
		SubtaskID:   conflict.SubtaskA,
		Type:        arbitrate.ConflictContradiction,
		Description: conflict.Description,
		Outputs:     outputs,
		CreatedAt:   now,
	}, "composition", "", nil)
	if err != nil {
		return priorityRanked(a, b)
	}
	return res
}

func toOutput(in input, ts time.Time) arbitrate.Output {
	return arbitrate.Output{
		AgentID:         in.result.AgentID,
		Content:         in.result.Content,
		Confidence:      in.result.ConfidenceScore,
		ErrorCount:      in.result.ErrorCount,
		ExecutionTimeMS: in.result.CompletionTime * 1000,
		PriorityWeight:  in.subtask.Priority,
		Timestamp:       ts,
	}
}
