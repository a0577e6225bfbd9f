package compose_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabmesh/substrate/internal/arbitrate"
	"github.com/collabmesh/substrate/internal/arbitrate/plugins"
	"github.com/collabmesh/substrate/internal/compose"
	"github.com/collabmesh/substrate/internal/dispatch"
	"github.com/collabmesh/substrate/internal/fragment"
)

func contains(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func newEngine() *arbitrate.Engine {
	loader := arbitrate.NewLoader("", "", plugins.Factories(), plugins.Builtins())
	return arbitrate.NewEngine(loader, arbitrate.EngineConfig{DefaultStrategy: "confidence_weight"})
}

func TestComposeSequentialMergesAllSurvivors(t *testing.T) {
	c := compose.New(newEngine())
	fr := &fragment.TaskFragment{
		MasterTaskID:         "m1",
		CoordinationStrategy: fragment.StrategyStructured,
		Subtasks: []*fragment.Subtask{
			{TaskID: "m1_a", ParentTaskID: "m1"},
			{TaskID: "m1_b", ParentTaskID: "m1"},
		},
	}
	results := map[string]*dispatch.SubtaskResult{
		"m1_a": {SubtaskID: "m1_a", AgentID: "agent-1", Content: "Step one covers planning the migration.", ConfidenceScore: 0.8, TokenUsage: map[string]int{"total": 100}},
		"m1_b": {SubtaskID: "m1_b", AgentID: "agent-2", Content: "Step two covers executing the migration.", ConfidenceScore: 0.7, TokenUsage: map[string]int{"total": 100}},
	}

	res, err := c.Compose(fr, results)
	require.NoError(t, err)
	assert.Equal(t, compose.StrategySequential, res.Strategy)
	assert.Contains(t, res.Content, "planning")
	assert.Contains(t, res.Content, "executing")
	assert.InDelta(t, 0.75, res.Confidence, 0.01)
	require.NotEmpty(t, res.Attribution)
	found := false
	for fingerprint, agentIDs := range res.Attribution {
		assert.NotEmpty(t, fingerprint)
		if contains(agentIDs, "agent-1") {
			found = true
		}
	}
	assert.True(t, found, "expected agent-1 to contribute at least one attributed chunk")
}

func TestComposeDetectsQualityConflictAndSelectsHigherConfidence(t *testing.T) {
	c := compose.New(newEngine())
	fr := &fragment.TaskFragment{
		MasterTaskID:         "m2",
		CoordinationStrategy: fragment.StrategySimple,
		Subtasks: []*fragment.Subtask{
			{TaskID: "m2_a"},
			{TaskID: "m2_b"},
		},
	}
	text := "The cache invalidation strategy relies on time-based expiry for all entries."
	results := map[string]*dispatch.SubtaskResult{
		"m2_a": {SubtaskID: "m2_a", AgentID: "agent-low", Content: text, ConfidenceScore: 0.3, TokenUsage: map[string]int{"total": 50}},
		"m2_b": {SubtaskID: "m2_b", AgentID: "agent-high", Content: text, ConfidenceScore: 0.9, TokenUsage: map[string]int{"total": 50}},
	}

	res, err := c.Compose(fr, results)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, compose.ConflictQuality, res.Conflicts[0].Type)
	require.Len(t, res.Resolutions, 1)
	assert.Equal(t, "agent-high", res.Resolutions[0].WinnerID)
	assert.NotContains(t, res.Content, "agent-low")
}

func TestComposeDetectsFactualConflict(t *testing.T) {
	c := compose.New(newEngine())
	fr := &fragment.TaskFragment{MasterTaskID: "m3", Subtasks: []*fragment.Subtask{{TaskID: "m3_a"}, {TaskID: "m3_b"}}}
	results := map[string]*dispatch.SubtaskResult{
		"m3_a": {SubtaskID: "m3_a", AgentID: "agent-1", Content: "Telemetry collected overnight recorded 42 distinct login failures across the authentication cluster.", ConfidenceScore: 0.6, TokenUsage: map[string]int{"total": 10}},
		"m3_b": {SubtaskID: "m3_b", AgentID: "agent-2", Content: "Support tickets filed this week reference 99 separate billing disputes raised by customers.", ConfidenceScore: 0.8, TokenUsage: map[string]int{"total": 10}},
	}

	res, err := c.Compose(fr, results)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, compose.ConflictFactual, res.Conflicts[0].Type)
	assert.Equal(t, "agent-2", res.Resolutions[0].WinnerID)
}

func TestComposeDetectsContradictoryIsIsNot(t *testing.T) {
	c := compose.New(newEngine())
	fr := &fragment.TaskFragment{MasterTaskID: "m4", Subtasks: []*fragment.Subtask{{TaskID: "m4_a"}, {TaskID: "m4_b"}}}
	results := map[string]*dispatch.SubtaskResult{
		"m4_a": {SubtaskID: "m4_a", AgentID: "agent-1", Content: "The endpoint is idempotent by design.", ConfidenceScore: 0.6, TokenUsage: map[string]int{"total": 10}},
		"m4_b": {SubtaskID: "m4_b", AgentID: "agent-2", Content: "The endpoint is not idempotent by design.", ConfidenceScore: 0.6, TokenUsage: map[string]int{"total": 10}},
	}

	res, err := c.Compose(fr, results)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, compose.ConflictContradictory, res.Conflicts[0].Type)
	require.Len(t, res.Resolutions, 1)
	assert.Equal(t, "arbitration", res.Resolutions[0].Method)
}

func TestComposeDetectsLogicalConflictAndSynthesizes(t *testing.T) {
	c := compose.New(newEngine())
	fr := &fragment.TaskFragment{MasterTaskID: "m7", Subtasks: []*fragment.Subtask{{TaskID: "m7_a", Priority: 0.6}, {TaskID: "m7_b", Priority: 0.4}}}
	results := map[string]*dispatch.SubtaskResult{
		"m7_a": {SubtaskID: "m7_a", AgentID: "agent-1", Content: "Given the successful regression suite, the release team recommends shipping the update today.", ConfidenceScore: 0.7, TokenUsage: map[string]int{"total": 10}},
		"m7_b": {SubtaskID: "m7_b", AgentID: "agent-2", Content: "Early customer reports suggest we should not ship this update until the memory leak gets patched.", ConfidenceScore: 0.5, TokenUsage: map[string]int{"total": 10}},
	}

	res, err := c.Compose(fr, results)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, compose.ConflictLogical, res.Conflicts[0].Type)
	require.Len(t, res.Resolutions, 1)
	assert.Equal(t, "synthesized", res.Resolutions[0].Method)
	assert.InDelta(t, 0.6, res.Resolutions[0].Confidence, 0.01)
	assert.Contains(t, res.Content, "Synthesized Approach")
}

func TestComposeNoConflictForUnrelatedContent(t *testing.T) {
	c := compose.New(newEngine())
	fr := &fragment.TaskFragment{MasterTaskID: "m5", Subtasks: []*fragment.Subtask{{TaskID: "m5_a"}, {TaskID: "m5_b"}}}
	results := map[string]*dispatch.SubtaskResult{
		"m5_a": {SubtaskID: "m5_a", AgentID: "agent-1", Content: "Database indexing strategy overview.", ConfidenceScore: 0.6, TokenUsage: map[string]int{"total": 10}},
		"m5_b": {SubtaskID: "m5_b", AgentID: "agent-2", Content: "Frontend accessibility checklist items.", ConfidenceScore: 0.6, TokenUsage: map[string]int{"total": 10}},
	}

	res, err := c.Compose(fr, results)
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
}

func TestComposeErrorsOnNoResults(t *testing.T) {
	c := compose.New(newEngine())
	fr := &fragment.TaskFragment{MasterTaskID: "m6", Subtasks: []*fragment.Subtask{{TaskID: "m6_a"}}}
	_, err := c.Compose(fr, map[string]*dispatch.SubtaskResult{})
	assert.Error(t, err)
}
