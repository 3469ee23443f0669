// Package depgraph builds a dependency DAG over loaded plugins, detects
// cycles, and produces a deterministic topological load order.
//
// A Graph is a computed value, never mutated in place: every change to
// the loaded plugin set (load, unload, reload) rebuilds a fresh Graph via
// Build.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/listingcore/core/pkg/semverx"
)

// Edge is one dependent's declared constraint on another plugin.
type Edge struct {
	DependencyID string
	Constraint   semverx.Constraint
}

// Graph is the acyclic dependency graph over the currently loaded plugin set.
type Graph struct {
	nodes map[string]semverx.Version
	edges map[string][]Edge // dependent -> its declared edges
}

// MissingDependencyError reports an edge whose target is not in the
// loaded set at all.
type MissingDependencyError struct {
	Dependent  string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %q depends on %q, which is not loaded", e.Dependent, e.Dependency)
}

// VersionIncompatibilityError reports an edge whose target is loaded but
// at a version that does not satisfy the declared constraint.
type VersionIncompatibilityError struct {
	Dependent  string
	Dependency string
	Required   string
	Actual     string
}

func (e *VersionIncompatibilityError) Error() string {
	return fmt.Sprintf("plugin %q requires %q %s, but %s is loaded", e.Dependent, e.Dependency, e.Required, e.Actual)
}

// CyclicDependencyError reports one shortest cycle found in the graph.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic plugin dependency: %v", e.Path)
}

// Build constructs a Graph from the currently loaded plugin versions and
// their declared dependency edges. It validates every edge's target
// presence and version compatibility before checking for cycles — a
// missing dependency or version mismatch is reported per-dependent and
// does not by itself imply a cycle.
//
// Build returns the first error it encounters. Dependents are visited in
// lexicographic order, and each of a dependent's edges is checked for
// target presence and then version compatibility; cycle detection runs
// only once every edge has validated.
func Build(nodes map[string]semverx.Version, edges map[string][]Edge) (*Graph, error) {
	dependents := make([]string, 0, len(edges))
	for dependent := range edges {
		dependents = append(dependents, dependent)
	}
	sort.Strings(dependents)

	validEdges := make(map[string][]Edge, len(edges))
	for _, dependent := range dependents {
		for _, edge := range edges[dependent] {
			actual, ok := nodes[edge.DependencyID]
			if !ok {
				return nil, &MissingDependencyError{Dependent: dependent, Dependency: edge.DependencyID}
			}
			if !semverx.Satisfies(actual, edge.Constraint) {
				return nil, &VersionIncompatibilityError{
					Dependent:  dependent,
					Dependency: edge.DependencyID,
					Required:   edge.Constraint.String(),
					Actual:     actual.String(),
				}
			}
			validEdges[dependent] = append(validEdges[dependent], edge)
		}
	}

	g := &Graph{nodes: nodes, edges: validEdges}
	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Path: cycle}
	}
	return g, nil
}

// findCycle returns the shortest cycle reachable from any node, via BFS
// parent-pointer reconstruction, or nil if the graph is acyclic.
func (g *Graph) findCycle() []string {
	var shortest []string
	for _, start := range g.sortedIDs() {
		if path := bfsCycleFrom(start, g.edges); path != nil && (shortest == nil || len(path) < len(shortest)) {
			shortest = path
		}
	}
	return shortest
}

func bfsCycleFrom(start string, edges map[string][]Edge) []string {
	type queued struct {
		id   string
		path []string
	}
	visited := map[string]bool{start: true}
	queue := []queued{{id: start, path: []string{start}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		neighbors := neighborIDs(cur.id, edges)
		for _, n := range neighbors {
			if n == start {
				return append(append([]string{}, cur.path...), start)
			}
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, queued{id: n, path: append(append([]string{}, cur.path...), n)})
		}
	}
	return nil
}

func neighborIDs(id string, edges map[string][]Edge) []string {
	out := make([]string, 0, len(edges[id]))
	for _, e := range edges[id] {
		out = append(out, e.DependencyID)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TopoOrder returns a deterministic linearization of the graph: every
// dependency precedes its dependent. Ties are broken lexicographically
// by plugin id.
func (g *Graph) TopoOrder() []string {
	indegree := make(map[string]int, len(g.nodes))
	dependentsOf := make(map[string][]string, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = 0
	}
	for dependent, es := range g.edges {
		for _, e := range es {
			indegree[dependent]++
			dependentsOf[e.DependencyID] = append(dependentsOf[e.DependencyID], dependent)
		}
	}
	for dep := range dependentsOf {
		sort.Strings(dependentsOf[dep])
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependentsOf[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order
}

// ReachableFrom returns the set of plugin ids reachable by following
// dependency edges outward from id (id's transitive dependencies).
func (g *Graph) ReachableFrom(id string) map[string]bool {
	visited := map[string]bool{}
	var visit func(string)
	visit = func(cur string) {
		for _, e := range g.edges[cur] {
			if !visited[e.DependencyID] {
				visited[e.DependencyID] = true
				visit(e.DependencyID)
			}
		}
	}
	visit(id)
	return visited
}

// DependentsOf returns the set of plugin ids that transitively depend on id.
func (g *Graph) DependentsOf(id string) map[string]bool {
	reverse := make(map[string][]string, len(g.nodes))
	for dependent, es := range g.edges {
		for _, e := range es {
			reverse[e.DependencyID] = append(reverse[e.DependencyID], dependent)
		}
	}

	visited := map[string]bool{}
	var visit func(string)
	visit = func(cur string) {
		for _, dependent := range reverse[cur] {
			if !visited[dependent] {
				visited[dependent] = true
				visit(dependent)
			}
		}
	}
	visit(id)
	return visited
}
