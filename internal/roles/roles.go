// Package roles implements the roles registry (C2): a static-ish catalog
// of agents, their roles, domains, cost, and priority weight, loaded from
// a YAML document and hot-reloadable via an atomic snapshot swap.
package roles

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/collabmesh/substrate/internal/validation"
)

// Role is drawn from the fixed vocabulary the spec defines for agents.
type Role string

const (
	RoleSynthesizer    Role = "Synthesizer"
	RoleAnalyst        Role = "Analyst"
	RoleExplainer      Role = "Explainer"
	RoleEditor         Role = "Editor"
	RoleChallenger     Role = "Challenger"
	RoleOptimizer      Role = "Optimizer"
	RoleCodeSpecialist Role = "Code_Specialist"
	RoleCoordinator    Role = "Coordinator"
	RoleGeneralist     Role = "Generalist"
)

// AgentDescriptor identifies one registered agent. Immutable once
// registered; updates are atomic replacements of the whole registry
// snapshot, never in-place mutation.
type AgentDescriptor struct {
	AgentID         string   `yaml:"agent_id"`
	AgentName       string   `yaml:"agent_name"`
	Roles           []Role   `yaml:"roles"`
	Domains         []string `yaml:"domains"`
	PriorityWeight  float64  `yaml:"priority_weight"`
	CostPer1kTokens *float64 `yaml:"cost_per_1k_tokens,omitempty"`
}

// HasRole reports whether the agent carries the given role.
func (a AgentDescriptor) HasRole(r Role) bool {
	for _, has := range a.Roles {
		if has == r {
			return true
		}
	}
	return false
}

// HasDomain reports whether the agent is catalogued for the given domain.
func (a AgentDescriptor) HasDomain(domain string) bool {
	for _, d := range a.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// TaskDomain configures the preferred roles for one domain.
type TaskDomain struct {
	PreferredRoles []Role `yaml:"preferred_roles"`
}

// document is the on-disk shape of the roles configuration.
type document struct {
	Agents      []AgentDescriptor     `yaml:"agents"`
	TaskDomains map[string]TaskDomain `yaml:"task_domains"`
}

// snapshot is one immutable, fully-parsed configuration generation.
type snapshot struct {
	agents      []AgentDescriptor
	byID        map[string]AgentDescriptor
	taskDomains map[string]TaskDomain
}

func newSnapshot(doc document) (*snapshot, error) {
	seen := make(map[string]bool, len(doc.Agents))
	byID := make(map[string]AgentDescriptor, len(doc.Agents))
	for _, a := range doc.Agents {
		if a.AgentID == "" {
			return nil, fmt.Errorf("agent entry missing agent_id")
		}
		if err := validation.ValidateAgentID(a.AgentID); err != nil {
			return nil, fmt.Errorf("agent %q: %w", a.AgentID, err)
		}
		if seen[a.AgentID] {
			return nil, fmt.Errorf("duplicate agent_id: %s", a.AgentID)
		}
		seen[a.AgentID] = true
		byID[a.AgentID] = a
	}
	return &snapshot{
		agents:      append([]AgentDescriptor(nil), doc.Agents...),
		byID:        byID,
		taskDomains: doc.TaskDomains,
	}, nil
}

// Registry is the C2 roles registry. Readers take a reference to the
// current snapshot for the duration of one operation; reload() swaps the
// atomic pointer to a freshly parsed snapshot without touching readers
// already holding the old one.
type Registry struct {
	path string
	snap atomic.Pointer[snapshot]
}

// New loads the roles configuration from path and returns a ready Registry.
func New(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewFromDescriptors builds a Registry directly from in-memory descriptors,
// bypassing file loading; useful for tests and embedded defaults.
func NewFromDescriptors(agents []AgentDescriptor, taskDomains map[string]TaskDomain) (*Registry, error) {
	snap, err := newSnapshot(document{Agents: agents, TaskDomains: taskDomains})
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.snap.Store(snap)
	return r, nil
}

// Reload atomically replaces the in-memory snapshot with a freshly parsed
// configuration. On malformed configuration, the current snapshot is left
// untouched and an error is returned.
func (r *Registry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("roles registry has no backing config path")
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read roles config: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse roles config: %w", err)
	}

	snap, err := newSnapshot(doc)
	if err != nil {
		return fmt.Errorf("validate roles config: %w", err)
	}

	r.snap.Store(snap)
	return nil
}

// ListAgents returns all registered agents in stable (config file) order.
func (r *Registry) ListAgents() []AgentDescriptor {
	s := r.snap.Load()
	return append([]AgentDescriptor(nil), s.agents...)
}

// GetAgent returns the descriptor for agentID, or ok=false if unknown.
func (r *Registry) GetAgent(agentID string) (AgentDescriptor, bool) {
	s := r.snap.Load()
	a, ok := s.byID[agentID]
	return a, ok
}

// DomainPreferences returns the ordered list of preferred roles for domain,
// or an empty list if the domain is not configured.
func (r *Registry) DomainPreferences(domain string) []Role {
	s := r.snap.Load()
	td, ok := s.taskDomains[domain]
	if !ok {
		return nil
	}
	return append([]Role(nil), td.PreferredRoles...)
}
