// Package depgraph builds the package-level dependency graph of a feature
// manifest.
//
// Nodes are the releases of one manifest on one platform; an edge A -> B
// means some needed library of A is provided by B. Dependencies on packages
// outside the manifest appear as external nodes. Unlike the resolver table,
// the graph may contain cycles; [Graph.Cycle] reports one if present.
//
// Render with [ToDOT] and [RenderSVG]:
//
//	g, err := depgraph.Build(fm, redist.LinuxX8664)
//	svg, err := depgraph.RenderSVG(ctx, depgraph.ToDOT(g, depgraph.Options{}))
package depgraph

import (
	"slices"
	"strings"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature"
	"github.com/matzehuels/cudaredist/pkg/redist"
)

// Node is one package.
type Node struct {
	ID       string
	Version  string
	Outputs  []string
	External bool // referenced as a dependency but absent from the manifest
}

// Edge is a dependency. Groups lists the variants or lib subdirectories
// that carry it; it is empty when the dependency is ungrouped.
type Edge struct {
	From   string
	To     string
	Groups []string
}

// Graph is a directed dependency graph. The zero value is not usable; use
// New or Build.
type Graph struct {
	Platform redist.Platform

	nodes    map[string]*Node
	edges    map[[2]string]*Edge
	outgoing map[string][]string
	incoming map[string][]string
}

// New creates an empty graph for platform.
func New(platform redist.Platform) *Graph {
	return &Graph{
		Platform: platform,
		nodes:    make(map[string]*Node),
		edges:    make(map[[2]string]*Edge),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
}

// AddNode adds n. Adding an ID twice is an error unless the existing node
// is external, in which case it is replaced.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "node id is empty")
	}
	if prev, ok := g.nodes[n.ID]; ok && !prev.External {
		return errors.New(errors.ErrCodeInvalidInput, "duplicate node %q", n.ID)
	}
	g.nodes[n.ID] = &n
	return nil
}

// AddEdge adds from -> to, merging group labels into an existing edge.
// A missing target is added as an external node.
func (g *Graph) AddEdge(from, to string, group string) error {
	if _, ok := g.nodes[from]; !ok {
		return errors.New(errors.ErrCodeInvalidInput, "unknown source node %q", from)
	}
	if _, ok := g.nodes[to]; !ok {
		g.nodes[to] = &Node{ID: to, External: true}
	}
	key := [2]string{from, to}
	e, ok := g.edges[key]
	if !ok {
		e = &Edge{From: from, To: to}
		g.edges[key] = e
		g.outgoing[from] = append(g.outgoing[from], to)
		g.incoming[to] = append(g.incoming[to], from)
	}
	if group != "" && !slices.Contains(e.Groups, group) {
		e.Groups = append(e.Groups, group)
		slices.Sort(e.Groups)
	}
	return nil
}

// Node returns the node with id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns all nodes sorted by ID.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	slices.SortFunc(out, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Edges returns all edges sorted by source, then target.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: e.From, To: e.To, Groups: slices.Clone(e.Groups)})
	}
	slices.SortFunc(out, func(a, b Edge) int {
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		return strings.Compare(a.To, b.To)
	})
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Children returns the sorted dependencies of id.
func (g *Graph) Children(id string) []string { return sorted(g.outgoing[id]) }

// Parents returns the sorted dependents of id.
func (g *Graph) Parents(id string) []string { return sorted(g.incoming[id]) }

// Sources returns the IDs of nodes nothing depends on, sorted.
func (g *Graph) Sources() []string {
	var out []string
	for id := range g.nodes {
		if len(g.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return sorted(out)
}

// Cycle returns the node IDs of one dependency cycle, or nil if the graph
// is acyclic. Traversal order is deterministic.
func (g *Graph) Cycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.nodes))
	var stack, cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, child := range g.Children(id) {
			switch color[child] {
			case white:
				if dfs(child) {
					return true
				}
			case gray:
				i := slices.Index(stack, child)
				cycle = slices.Clone(stack[i:])
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, n := range g.Nodes() {
		if color[n.ID] == white && dfs(n.ID) {
			return cycle
		}
	}
	return nil
}

// Build creates the graph of m's packages on platform. Releases without a
// package on platform are omitted.
func Build(m *feature.Manifest, platform redist.Platform) (*Graph, error) {
	g := New(platform)
	type dep struct {
		from  string
		deps  feature.Grouped[string]
		group string
	}
	var deps []dep

	for _, name := range m.Names() {
		r := m.Releases[name]
		var outputs []string
		found := false
		for _, slot := range r.Slots() {
			if slot.Platform != platform {
				continue
			}
			found = true
			outputs = append(outputs, slot.Package.Outputs.Names()...)
			deps = append(deps, dep{from: name, deps: slot.Package.Dependencies, group: string(slot.Variant)})
		}
		if !found {
			continue
		}
		if err := g.AddNode(Node{ID: name, Version: r.Info.Version, Outputs: sorted(outputs)}); err != nil {
			return nil, err
		}
	}

	for _, d := range deps {
		if !d.deps.IsGrouped() {
			for _, to := range d.deps.Flat {
				if err := g.AddEdge(d.from, to, d.group); err != nil {
					return nil, err
				}
			}
			continue
		}
		for sub, names := range d.deps.Groups {
			group := sub
			if d.group != "" {
				group = d.group + "/" + sub
			}
			for _, to := range names {
				if err := g.AddEdge(d.from, to, group); err != nil {
					return nil, err
				}
			}
		}
	}
	return g, nil
}

func sorted(vs []string) []string {
	out := slices.Clone(vs)
	slices.Sort(out)
	return slices.Compact(out)
}
