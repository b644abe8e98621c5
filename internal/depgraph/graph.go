// Package depgraph implements the dependency-closure walk and cycle check
// used by the module loader (spec.md §4.3 "Cycle detection"). It is
// grounded on open-policy-agent/opa's util.Graph: a plain adjacency-map
// graph with DFS-based reachability and cycle detection, applied here to
// module ids instead of Rego rule references.
//
// © codecache authors.
package depgraph

import "fmt"

// Graph is a directed graph of comparable nodes. It is not safe for
// concurrent use; callers build one graph per verification pass and discard
// it afterward (see spec.md §4.3: bundle verification never mutates the
// caches, and the per-call cycle check is scoped to one load attempt).
type Graph[N comparable] struct {
	edges map[N][]N
	nodes map[N]struct{}
}

// New returns an empty graph.
func New[N comparable]() *Graph[N] {
	return &Graph[N]{edges: make(map[N][]N), nodes: make(map[N]struct{})}
}

// AddNode registers n even if it has no outgoing edges yet, so that
// isolated modules still appear in traversals.
func (g *Graph[N]) AddNode(n N) { g.nodes[n] = struct{}{} }

// AddEdge records that from depends on to.
func (g *Graph[N]) AddEdge(from, to N) {
	g.AddNode(from)
	g.AddNode(to)
	g.edges[from] = append(g.edges[from], to)
}

// CycleError reports the first cycle found, as the ordered list of nodes
// that form it (closing back on the first element).
type CycleError[N comparable] struct {
	Cycle []N
}

func (e *CycleError[N]) Error() string {
	return fmt.Sprintf("cyclic dependency: %v", e.Cycle)
}

// VerifyAcyclic runs a DFS over every node and fails on the first back-edge
// found, mirroring cyclic_dependencies::verify_module's full-closure check
// (spec.md §4.3, §8 property 6).
func (g *Graph[N]) VerifyAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[N]int, len(g.nodes))
	var stack []N

	var visit func(n N) error
	visit = func(n N) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			// Found a back-edge: the cycle is the suffix of stack from n's
			// first occurrence onward.
			start := 0
			for i, s := range stack {
				if s == n {
					start = i
					break
				}
			}
			cyc := append(append([]N{}, stack[start:]...), n)
			return &CycleError[N]{Cycle: cyc}
		}
		state[n] = visiting
		stack = append(stack, n)
		for _, next := range g.edges[n] {
			if err := visit(next); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return nil
	}

	for n := range g.nodes {
		if state[n] == unvisited {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reachable returns every node reachable from root, root included, via a
// plain DFS. The loader does not call it; its own closure walk is
// Loader.checkClosureAcyclic.
func (g *Graph[N]) Reachable(root N) []N {
	seen := map[N]bool{root: true}
	order := []N{root}
	var stack []N
	stack = append(stack, root)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.edges[n] {
			if !seen[next] {
				seen[next] = true
				order = append(order, next)
				stack = append(stack, next)
			}
		}
	}
	return order
}
