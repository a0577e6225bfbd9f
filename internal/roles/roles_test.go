package roles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
agents:
  - agent_id: agent-synth-1
    agent_name: Synth One
    roles: [Synthesizer, Analyst]
    domains: [technical, education]
    priority_weight: 0.8
  - agent_id: agent-gen-1
    agent_name: Generalist One
    roles: [Generalist]
    domains: [education]
    priority_weight: 0.5
task_domains:
  technical:
    preferred_roles: [Analyst, Synthesizer]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestListAndGetAgent(t *testing.T) {
	reg, err := New(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	agents := reg.ListAgents()
	require.Len(t, agents, 2)
	assert.Equal(t, "agent-synth-1", agents[0].AgentID)

	a, ok := reg.GetAgent("agent-gen-1")
	require.True(t, ok)
	assert.Equal(t, RoleGeneralist, a.Roles[0])

	_, ok = reg.GetAgent("does-not-exist")
	assert.False(t, ok)
}

func TestDomainPreferences(t *testing.T) {
	reg, err := New(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	prefs := reg.DomainPreferences("technical")
	assert.Equal(t, []Role{RoleAnalyst, RoleSynthesizer}, prefs)

	assert.Empty(t, reg.DomainPreferences("unknown-domain"))
}

func TestReloadRejectsMalformedConfigKeepsOldSnapshot(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	reg, err := New(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - agent_id: dup
    roles: [Generalist]
  - agent_id: dup
    roles: [Analyst]
`), 0o600))

	err = reg.Reload()
	assert.Error(t, err)

	agents := reg.ListAgents()
	require.Len(t, agents, 2)
	assert.Equal(t, "agent-synth-1", agents[0].AgentID)
}

func TestNewFromDescriptors(t *testing.T) {
	reg, err := NewFromDescriptors([]AgentDescriptor{
		{AgentID: "a1", Roles: []Role{RoleEditor}, Domains: []string{"technical"}, PriorityWeight: 0.6},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, reg.ListAgents(), 1)
}

func TestNewFromDescriptorsRejectsUnsafeAgentID(t *testing.T) {
	_, err := NewFromDescriptors([]AgentDescriptor{
		{AgentID: "../../etc/passwd", Roles: []Role{RoleEditor}},
	}, nil)
	assert.Error(t, err)
}
