package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabmesh/substrate/internal/agentinvoker"
	"github.com/collabmesh/substrate/internal/fragment"
	"github.com/collabmesh/substrate/internal/memory"
	"github.com/collabmesh/substrate/internal/observability"
)

func newTestMemory(t *testing.T) *memory.Graph {
	t.Helper()
	store, err := memory.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	g, err := memory.New(store, 64)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestDispatchSimpleChainSucceeds(t *testing.T) {
	mem := newTestMemory(t)
	reg := agentinvoker.NewStaticRegistry(map[string]agentinvoker.Invoker{
		"agent-1": agentinvoker.Echo("agent-1"),
	})
	d := New(reg, mem, Config{MaxConcurrency: 2, SubtaskTimeout: time.Second, MaxRetries: 1}, nil)

	fr := &fragment.TaskFragment{
		MasterTaskID: "m1",
		Subtasks: []*fragment.Subtask{
			{TaskID: "m1_main", AssignedAgent: "agent-1", Description: "do the thing", TaskType: "explanation", State: fragment.SubtaskPending},
		},
	}

	out, err := d.Dispatch(context.Background(), fr)
	require.NoError(t, err)
	assert.Empty(t, out.FailedSubtasks)
	require.Contains(t, out.Results, "m1_main")
	assert.Equal(t, fragment.SubtaskCompleted, fr.Subtasks[0].State)
}

func TestDispatchCascadesUpstreamFailure(t *testing.T) {
	mem := newTestMemory(t)
	failing := agentinvoker.FuncInvoker(func(ctx context.Context, req agentinvoker.Request) (agentinvoker.Response, error) {
		return agentinvoker.Response{}, errors.New("boom")
	})
	reg := agentinvoker.NewStaticRegistry(map[string]agentinvoker.Invoker{
		"agent-1": failing,
		"agent-2": agentinvoker.Echo("agent-2"),
	})
	d := New(reg, mem, Config{MaxConcurrency: 2, SubtaskTimeout: time.Second, MaxRetries: 0}, nil)

	fr := &fragment.TaskFragment{
		MasterTaskID: "m1",
		Subtasks: []*fragment.Subtask{
			{TaskID: "m1_a", AssignedAgent: "agent-1", Description: "first step here", TaskType: "x"},
			{TaskID: "m1_b", AssignedAgent: "agent-2", Description: "second step here", TaskType: "x", Dependencies: []string{"m1_a"}},
		},
	}

	out, err := d.Dispatch(context.Background(), fr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1_a", "m1_b"}, out.FailedSubtasks)
	assert.Equal(t, "upstream_failed", out.FailureReasons["m1_b"])
}

func TestDispatchUnassignedSubtaskFails(t *testing.T) {
	mem := newTestMemory(t)
	reg := agentinvoker.NewStaticRegistry(nil)
	d := New(reg, mem, Config{MaxConcurrency: 2, SubtaskTimeout: time.Second}, nil)

	fr := &fragment.TaskFragment{
		MasterTaskID: "m1",
		Subtasks: []*fragment.Subtask{
			{TaskID: "m1_main", AssignedAgent: "", Description: "needs an agent", TaskType: "x"},
		},
	}

	out, err := d.Dispatch(context.Background(), fr)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1_main"}, out.FailedSubtasks)
	assert.Equal(t, "unassigned", out.FailureReasons["m1_main"])
}

func TestDispatchIndependentSubtasksRunConcurrently(t *testing.T) {
	mem := newTestMemory(t)
	slow := agentinvoker.WithLatency(agentinvoker.Echo("agent-1"), 100*time.Millisecond)
	reg := agentinvoker.NewStaticRegistry(map[string]agentinvoker.Invoker{
		"agent-1": slow,
		"agent-2": slow,
	})
	d := New(reg, mem, Config{MaxConcurrency: 2, SubtaskTimeout: time.Second}, nil)

	fr := &fragment.TaskFragment{
		MasterTaskID: "m1",
		Subtasks: []*fragment.Subtask{
			{TaskID: "m1_a", AssignedAgent: "agent-1", Description: "independent task one", TaskType: "x"},
			{TaskID: "m1_b", AssignedAgent: "agent-2", Description: "independent task two", TaskType: "x"},
		},
	}

	start := time.Now()
	out, err := d.Dispatch(context.Background(), fr)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Empty(t, out.FailedSubtasks)
	assert.Less(t, elapsed, 180*time.Millisecond)
}

func TestDispatchFailureReportsUseErrorHandler(t *testing.T) {
	mem := newTestMemory(t)
	failing := agentinvoker.FuncInvoker(func(ctx context.Context, req agentinvoker.Request) (agentinvoker.Response, error) {
		return agentinvoker.Response{}, errors.New("boom")
	})
	reg := agentinvoker.NewStaticRegistry(map[string]agentinvoker.Invoker{"agent-1": failing})
	logger := observability.NewLogger(observability.LoggerConfig{Level: "error"})
	errHandler := observability.NewErrorHandler(logger, nil, false)
	d := New(reg, mem, Config{MaxConcurrency: 1, SubtaskTimeout: time.Second, MaxRetries: 0}, errHandler)

	fr := &fragment.TaskFragment{
		MasterTaskID: "m1",
		Subtasks: []*fragment.Subtask{
			{TaskID: "m1_main", AssignedAgent: "agent-1", Description: "a task that fails", TaskType: "x"},
		},
	}

	out, err := d.Dispatch(context.Background(), fr)
	require.NoError(t, err)
	require.Contains(t, out.FailedSubtasks, "m1_main")
	report, ok := out.FailureReports["m1_main"]
	require.True(t, ok)
	assert.Contains(t, report, "error")
	assert.Contains(t, report, "suggestions")
}

func TestDispatchCancellationLeavesNoInProgress(t *testing.T) {
	mem := newTestMemory(t)
	slow := agentinvoker.WithLatency(agentinvoker.Echo("agent-1"), time.Second)
	reg := agentinvoker.NewStaticRegistry(map[string]agentinvoker.Invoker{"agent-1": slow})
	d := New(reg, mem, Config{MaxConcurrency: 1, SubtaskTimeout: 2 * time.Second, MaxRetries: 0}, nil)

	fr := &fragment.TaskFragment{
		MasterTaskID: "m1",
		Subtasks: []*fragment.Subtask{
			{TaskID: "m1_main", AssignedAgent: "agent-1", Description: "a task that takes a while", TaskType: "x"},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out, err := d.Dispatch(ctx, fr)
	require.NoError(t, err)
	assert.NotEqual(t, fragment.SubtaskInProgress, fr.Subtasks[0].State)
	assert.Contains(t, out.FailedSubtasks, "m1_main")
}
