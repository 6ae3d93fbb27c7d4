package decompose

import (
	"github.com/jordanhubbard/quorum/internal/providers"
)

// DefaultMaxSubtasks caps how wide a decomposition may fan out.
const DefaultMaxSubtasks = 7

// Validate checks the subtask set forms a usable DAG: bounded count, unique
// non-empty labels, referential dependencies, no self-dependency, at least
// one root, and no cycles.
func Validate(specs []SubtaskSpec, maxSubtasks int) error {
	if maxSubtasks <= 0 {
		maxSubtasks = DefaultMaxSubtasks
	}
	if len(specs) < 2 || len(specs) > maxSubtasks {
		return providers.NewError(providers.KindConsensus,
			"subtask count %d outside [2, %d]", len(specs), maxSubtasks)
	}

	index := make(map[string]int, len(specs))
	for i, s := range specs {
		if s.Label == "" {
			return providers.NewError(providers.KindConsensus, "subtask %d has an empty label", i)
		}
		if _, dup := index[s.Label]; dup {
			return providers.NewError(providers.KindConsensus, "duplicate subtask label %q", s.Label)
		}
		index[s.Label] = i
	}

	roots := 0
	for _, s := range specs {
		for _, dep := range s.Dependencies {
			if dep == s.Label {
				return providers.NewError(providers.KindConsensus, "subtask %q depends on itself", s.Label)
			}
			if _, ok := index[dep]; !ok {
				return providers.NewError(providers.KindConsensus,
					"subtask %q depends on unknown label %q", s.Label, dep)
			}
		}
		if len(s.Dependencies) == 0 {
			roots++
		}
	}
	if roots == 0 {
		return providers.NewError(providers.KindConsensus, "subtask graph has no root")
	}

	if order := topoOrder(specs, index); len(order) != len(specs) {
		return providers.NewError(providers.KindConsensus,
			"cycle detected in subtask graph (%d of %d nodes orderable)", len(order), len(specs))
	}
	return nil
}

// topoOrder runs Kahn's algorithm over the subtask specs, returning indices in
// dependency order. A short result means a cycle.
func topoOrder(specs []SubtaskSpec, index map[string]int) []int {
	n := len(specs)
	indegree := make([]int, n)
	adjacency := make([][]int, n)
	for i, s := range specs {
		for _, dep := range s.Dependencies {
			j := index[dep]
			adjacency[j] = append(adjacency[j], i)
			indegree[i]++
		}
	}

	var ready []int // FIFO
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	var order []int
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, i)
		for _, next := range adjacency[i] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}
