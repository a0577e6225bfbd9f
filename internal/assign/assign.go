// Package assign implements the agent assigner (C4): it scores every
// registered agent against a subtask's requirements and binds the
// highest-scoring one, deterministically breaking ties.
package assign

import (
	"sort"

	"github.com/collabmesh/substrate/internal/fragment"
	"github.com/collabmesh/substrate/internal/roles"
)

// Weights for the scoring formula in §4.4.
const (
	roleOverlapWeight    = 0.4
	domainMatchWeight    = 0.3
	priorityWeightWeight = 0.2
	complexityBonus      = 0.1
)

// ScoreBreakdown records one agent's component scores for a subtask, used
// both to pick a winner and to surface an auditable breakdown.
type ScoreBreakdown struct {
	AgentID       string  `json:"agent_id"`
	RoleOverlap   int     `json:"role_overlap"`
	DomainMatch   bool    `json:"domain_match"`
	ComplexityHit bool    `json:"complexity_hit"`
	Score         float64 `json:"score"`
}

// Assigner is the C4 agent assigner.
type Assigner struct {
	registry *roles.Registry
}

// New constructs an Assigner backed by the given roles registry.
func New(registry *roles.Registry) *Assigner {
	return &Assigner{registry: registry}
}

// Score computes the §4.4 formula for one agent against one subtask.
func Score(agent roles.AgentDescriptor, st *fragment.Subtask) ScoreBreakdown {
	overlap := countRoleOverlap(agent.Roles, st.RequiredRoles)
	domainMatch := agent.HasDomain(st.Domain)

	bonus := 0.0
	complexityHit := false
	if st.EstimatedComplexity == fragment.ComplexityHigh && agent.HasRole(roles.RoleSynthesizer) {
		bonus = complexityBonus
		complexityHit = true
	} else if st.EstimatedComplexity == fragment.ComplexityLow && agent.HasRole(roles.RoleGeneralist) {
		bonus = complexityBonus
		complexityHit = true
	}

	domainScore := 0.0
	if domainMatch {
		domainScore = 1.0
	}

	score := roleOverlapWeight*float64(overlap) + domainMatchWeight*domainScore + priorityWeightWeight*agent.PriorityWeight + bonus

	return ScoreBreakdown{
		AgentID:       agent.AgentID,
		RoleOverlap:   overlap,
		DomainMatch:   domainMatch,
		ComplexityHit: complexityHit,
		Score:         score,
	}
}

func countRoleOverlap(agentRoles []roles.Role, required []roles.Role) int {
	set := make(map[roles.Role]bool, len(agentRoles))
	for _, r := range agentRoles {
		set[r] = true
	}
	count := 0
	for _, r := range required {
		if set[r] {
			count++
		}
	}
	return count
}

// Assign scores every registered agent against st and mutates
// st.AssignedAgent with the winner. If no agent scores positively,
// AssignedAgent is left empty and ok is false — the caller (dispatcher)
// will later fail the subtask with reason "unassigned".
func (a *Assigner) Assign(st *fragment.Subtask) (ScoreBreakdown, bool) {
	agents := a.registry.ListAgents()
	if len(agents) == 0 {
		return ScoreBreakdown{}, false
	}

	scores := make([]ScoreBreakdown, len(agents))
	for i, agent := range agents {
		scores[i] = Score(agent, st)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].AgentID < scores[j].AgentID
	})

	best := scores[0]
	if best.Score <= 0 {
		return best, false
	}

	st.AssignedAgent = best.AgentID
	return best, true
}
