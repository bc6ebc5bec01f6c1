package extract

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

const graphFormatVersion = 1

type graphFile struct {
	Version int               `json:"version"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Nodes   []model.Person    `json:"nodes"`
	Edges   []Edge            `json:"edges"`
}

// Save writes g to w as snappy-framed JSON with every attribute.
func (g *Multigraph) Save(w io.Writer) error {
	sw := snappy.NewBufferedWriter(w)
	err := json.NewEncoder(sw).Encode(graphFile{
		Version: graphFormatVersion,
		Attrs:   g.attrs,
		Nodes:   g.Nodes(),
		Edges:   g.edges,
	})
	if err != nil {
		sw.Close()
		return fmt.Errorf("encode multigraph: %w", err)
	}
	return sw.Close()
}

// LoadMultigraph reads a graph written by Save.
func LoadMultigraph(r io.Reader) (*Multigraph, error) {
	var f graphFile
	if err := json.NewDecoder(snappy.NewReader(r)).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode multigraph: %w", err)
	}
	if f.Version != graphFormatVersion {
		return nil, fmt.Errorf("decode multigraph: unsupported version %d", f.Version)
	}

	g := NewMultigraph()
	for k, v := range f.Attrs {
		g.SetAttr(k, v)
	}
	for _, p := range f.Nodes {
		g.AddNode(p)
	}
	for i, e := range f.Edges {
		if e.ID != i {
			return nil, fmt.Errorf("decode multigraph: edge %d has id %d", i, e.ID)
		}
		if _, err := g.AddEdge(e.ContactEdge); err != nil {
			return nil, fmt.Errorf("decode multigraph: edge %d: %w", i, err)
		}
	}
	return g, nil
}
