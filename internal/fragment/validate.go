package fragment

// Validate checks a TaskFragment for the defects §4.3 names and returns
// the full warning list without mutating the fragment. It is consumed both
// from build() on every fragmentation and from the dedicated Preview path.
func Validate(fragment *TaskFragment) []ValidationWarning {
	var warnings []ValidationWarning

	for _, st := range fragment.Subtasks {
		if len(st.Description) < 10 {
			warnings = append(warnings, ValidationWarning{
				TaskID: st.TaskID, Kind: "malformed_description", Severity: SeverityMedium,
				Detail: "description shorter than 10 characters",
			})
		}
		if len(st.RequiredRoles) == 0 {
			warnings = append(warnings, ValidationWarning{
				TaskID: st.TaskID, Kind: "missing_roles", Severity: SeverityHigh,
				Detail: "required_roles is empty",
			})
		}
		for _, dep := range st.Dependencies {
			if dep == st.TaskID {
				warnings = append(warnings, ValidationWarning{
					TaskID: st.TaskID, Kind: "circular_dependency", Severity: SeverityHigh,
					Detail: "subtask depends on itself",
				})
			}
		}
		if !isValidComplexity(st.EstimatedComplexity) {
			warnings = append(warnings, ValidationWarning{
				TaskID: st.TaskID, Kind: "invalid_complexity", Severity: SeverityMedium,
				Detail: "estimated_complexity is not one of low/medium/high",
			})
		}
	}

	for _, taskID := range findCycles(fragment.Subtasks) {
		warnings = append(warnings, ValidationWarning{
			TaskID: taskID, Kind: "dependency_cycle", Severity: SeverityHigh,
			Detail: "subtask participates in a dependency cycle",
		})
	}

	return warnings
}

func isValidComplexity(c Complexity) bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// findCycles performs a DFS over the subtask dependency graph (adapted from
// the orchestrator's workflow circular-dependency check) and returns every
// task_id that participates in a cycle.
func findCycles(subtasks []*Subtask) []string {
	graph := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		graph[st.TaskID] = st.Dependencies
	}

	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)
	onCycle := make(map[string]bool)

	var path []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recursionStack[id] = true
		path = append(path, id)

		for _, dep := range graph[id] {
			if !visited[dep] {
				if dfs(dep) {
					return true
				}
			} else if recursionStack[dep] {
				// Found a cycle; mark every node on the path from dep onward.
				markFrom := false
				for _, p := range path {
					if p == dep {
						markFrom = true
					}
					if markFrom {
						onCycle[p] = true
					}
				}
				onCycle[dep] = true
				return true
			}
		}

		path = path[:len(path)-1]
		recursionStack[id] = false
		return false
	}

	for _, st := range subtasks {
		if !visited[st.TaskID] {
			dfs(st.TaskID)
		}
	}

	result := make([]string, 0, len(onCycle))
	for id := range onCycle {
		result = append(result, id)
	}
	return result
}

// LineageDepth returns the longest dependency path length in the fragment.
// No caller in this module checks the result against a depth bound.
func LineageDepth(subtasks []*Subtask) int {
	byID := make(map[string]*Subtask, len(subtasks))
	for _, st := range subtasks {
		byID[st.TaskID] = st
	}

	memo := make(map[string]int)
	var depth func(id string, seen map[string]bool) int
	depth = func(id string, seen map[string]bool) int {
		if d, ok := memo[id]; ok {
			return d
		}
		if seen[id] {
			return 0 // cycle guard; Validate already flags cycles separately
		}
		seen[id] = true

		st, ok := byID[id]
		if !ok || len(st.Dependencies) == 0 {
			memo[id] = 1
			return 1
		}

		max := 0
		for _, dep := range st.Dependencies {
			if d := depth(dep, seen); d > max {
				max = d
			}
		}
		memo[id] = max + 1
		return memo[id]
	}

	best := 0
	for _, st := range subtasks {
		if d := depth(st.TaskID, map[string]bool{}); d > best {
			best = d
		}
	}
	return best
}
