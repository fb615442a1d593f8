package validation

import (
	"fmt"
	"slices"

	"github.com/rendis/actionkit/pkg/schema"
)

// validateGraph analyses the group containment graph: a group must not
// contain itself at any depth (Kahn's algorithm), and every action should
// be reachable from some surface root.
func validateGraph(def *schema.MenuDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(def.Actions))
	for _, a := range def.Actions {
		ids[a.ID] = true
	}

	// edges[g] = distinct children of g; parents[c] = number of groups
	// containing c.
	edges := make(map[string][]string, len(def.Actions))
	inDegree := make(map[string]int, len(def.Actions))
	for _, a := range def.Actions {
		seen := make(map[string]bool, len(a.Children))
		for _, c := range a.Children {
			if !ids[c] || seen[c] {
				continue // unknown refs are reported by the semantic stage
			}
			seen[c] = true
			edges[a.ID] = append(edges[a.ID], c)
			inDegree[c]++
		}
	}

	queue := make([]string, 0, len(ids))
	for id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	slices.Sort(queue)

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, c := range edges[n] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if visited != len(ids) {
		var cyclic []string
		for id := range ids {
			if inDegree[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		slices.Sort(cyclic)
		result.Errorf("actions", "groups contain themselves: %v", cyclic)
		return result
	}

	reachable := make(map[string]bool, len(ids))
	var walk []string
	for _, name := range sortedKeys(def.Surfaces) {
		if root := def.Surfaces[name].Root; ids[root] && !reachable[root] {
			reachable[root] = true
			walk = append(walk, root)
		}
	}
	for len(walk) > 0 {
		n := walk[0]
		walk = walk[1:]
		for _, c := range edges[n] {
			if !reachable[c] {
				reachable[c] = true
				walk = append(walk, c)
			}
		}
	}
	for i, a := range def.Actions {
		if !reachable[a.ID] {
			result.Warnf(fmt.Sprintf("actions[%d]", i), "action %q is not reachable from any surface", a.ID)
		}
	}
	return result
}
