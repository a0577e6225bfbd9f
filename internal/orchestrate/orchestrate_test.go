package orchestrate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabmesh/substrate/internal/agentinvoker"
	"github.com/collabmesh/substrate/internal/arbitrate"
	"github.com/collabmesh/substrate/internal/arbitrate/plugins"
	"github.com/collabmesh/substrate/internal/dispatch"
	"github.com/collabmesh/substrate/internal/memory"
	"github.com/collabmesh/substrate/internal/orchestrate"
	"github.com/collabmesh/substrate/internal/roles"
)

func newTestPipeline(t *testing.T, invokers agentinvoker.Registry) *orchestrate.Pipeline {
	t.Helper()
	reg, err := roles.NewFromDescriptors([]roles.AgentDescriptor{
		{AgentID: "agent-1", Roles: []roles.Role{roles.RoleGeneralist, roles.RoleSynthesizer}, Domains: []string{"technical"}, PriorityWeight: 0.8},
		{AgentID: "agent-2", Roles: []roles.Role{roles.RoleGeneralist, roles.RoleEditor}, Domains: []string{"technical"}, PriorityWeight: 0.6},
	}, nil)
	require.NoError(t, err)

	store, err := memory.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	mem, err := memory.New(store, 64)
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	loader := arbitrate.NewLoader("", "", plugins.Factories(), plugins.Builtins())
	engine := arbitrate.NewEngine(loader, arbitrate.EngineConfig{DefaultStrategy: "confidence_weight"})

	return orchestrate.New(orchestrate.Deps{
		Registry:    reg,
		Invokers:    invokers,
		Memory:      mem,
		Engine:      engine,
		DispatchCfg: dispatch.Config{MaxConcurrency: 4, SubtaskTimeout: time.Second, MaxRetries: 0},
	})
}

func TestRunSimplePromptProducesComposition(t *testing.T) {
	invokers := agentinvoker.NewStaticRegistry(map[string]agentinvoker.Invoker{
		"agent-1": agentinvoker.Echo("agent-1"),
		"agent-2": agentinvoker.Echo("agent-2"),
	})
	p := newTestPipeline(t, invokers)

	env, err := p.Run(context.Background(), "Explain how to use Python decorators", "explanation", "technical")
	require.NoError(t, err)
	require.NotNil(t, env.Composition)
	assert.Empty(t, env.FailedSubtaskIDs)
	assert.NotEmpty(t, env.Composition.Content)
}

func TestRunAllAgentsFailYieldsEnvelopeWithoutComposition(t *testing.T) {
	failing := agentinvoker.FuncInvoker(func(ctx context.Context, req agentinvoker.Request) (agentinvoker.Response, error) {
		return agentinvoker.Response{}, errors.New("invocation unavailable")
	})
	invokers := agentinvoker.NewStaticRegistry(map[string]agentinvoker.Invoker{
		"agent-1": failing,
		"agent-2": failing,
	})
	p := newTestPipeline(t, invokers)

	env, err := p.Run(context.Background(), "Explain how to use Python decorators", "explanation", "technical")
	require.NoError(t, err)
	assert.Nil(t, env.Composition)
	assert.NotEmpty(t, env.FailedSubtaskIDs)
}

func TestRunRejectsEmptyPrompt(t *testing.T) {
	invokers := agentinvoker.NewStaticRegistry(nil)
	p := newTestPipeline(t, invokers)

	_, err := p.Run(context.Background(), "", "explanation", "technical")
	assert.Error(t, err)
}
