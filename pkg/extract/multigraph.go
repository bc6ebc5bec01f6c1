// Package extract pulls incoming 1-hop contact subgraphs out of the graph
// store and writes them as analysis artifacts.
package extract

import (
	"errors"
	"fmt"
	"maps"

	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

var ErrUnknownNode = errors.New("edge endpoint not in graph")

// Edge is one contact in a Multigraph. IDs are dense and assigned in
// insertion order.
type Edge struct {
	ID int `json:"edg_id"`
	model.ContactEdge
}

// Multigraph is a directed multigraph of persons keyed by pid. Parallel
// edges between the same pair are kept.
type Multigraph struct {
	attrs map[string]string
	nodes map[int64]model.Person
	order []int64
	edges []Edge
}

// NewMultigraph returns an empty graph.
func NewMultigraph() *Multigraph {
	return &Multigraph{
		attrs: make(map[string]string),
		nodes: make(map[int64]model.Person),
	}
}

// SetAttr sets a graph-level attribute.
func (g *Multigraph) SetAttr(key, value string) { g.attrs[key] = value }

// Attr returns a graph-level attribute.
func (g *Multigraph) Attr(key string) (string, bool) {
	v, ok := g.attrs[key]
	return v, ok
}

// Attrs returns a copy of the graph-level attributes.
func (g *Multigraph) Attrs() map[string]string { return maps.Clone(g.attrs) }

// AddNode adds p unless its pid is already present, and reports whether
// it was added.
func (g *Multigraph) AddNode(p model.Person) bool {
	if _, ok := g.nodes[p.PID]; ok {
		return false
	}
	g.nodes[p.PID] = p
	g.order = append(g.order, p.PID)
	return true
}

// Node returns the person with pid.
func (g *Multigraph) Node(pid int64) (model.Person, bool) {
	p, ok := g.nodes[pid]
	return p, ok
}

// AddEdge appends e and returns its id. Both endpoints must exist.
func (g *Multigraph) AddEdge(e model.ContactEdge) (int, error) {
	if _, ok := g.nodes[e.SourcePID]; !ok {
		return 0, fmt.Errorf("%w: source %d", ErrUnknownNode, e.SourcePID)
	}
	if _, ok := g.nodes[e.TargetPID]; !ok {
		return 0, fmt.Errorf("%w: target %d", ErrUnknownNode, e.TargetPID)
	}
	id := len(g.edges)
	g.edges = append(g.edges, Edge{ID: id, ContactEdge: e})
	return id, nil
}

// AddTriple adds both endpoints of t, if absent, and its edge.
func (g *Multigraph) AddTriple(t model.ContactTriple) int {
	g.AddNode(t.Source)
	g.AddNode(t.Target)
	e := t.Edge
	e.SourcePID = t.Source.PID
	e.TargetPID = t.Target.PID
	id, _ := g.AddEdge(e)
	return id
}

// Nodes returns the persons in insertion order.
func (g *Multigraph) Nodes() []model.Person {
	out := make([]model.Person, len(g.order))
	for i, pid := range g.order {
		out[i] = g.nodes[pid]
	}
	return out
}

// Edges returns the edges in id order. The slice must not be modified.
func (g *Multigraph) Edges() []Edge { return g.edges }

func (g *Multigraph) NodeCount() int { return len(g.order) }
func (g *Multigraph) EdgeCount() int { return len(g.edges) }

// InDegree counts edges into pid.
func (g *Multigraph) InDegree(pid int64) int {
	n := 0
	for _, e := range g.edges {
		if e.TargetPID == pid {
			n++
		}
	}
	return n
}
