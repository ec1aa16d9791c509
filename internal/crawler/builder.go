package crawler

import (
	"fmt"
	"strconv"
)

// builder is the single writer of a run's graph. Only the goroutine running
// consume may touch its fields once the run has started.
type builder struct {
	unique      bool
	nextID      int
	ids         map[string]string
	seenTargets map[string]struct{}
	nodes       []Node
	edges       []Edge
}

func newBuilder(unique bool) *builder {
	return &builder{
		unique:      unique,
		ids:         make(map[string]string),
		seenTargets: make(map[string]struct{}),
		nodes:       []Node{},
		edges:       []Edge{},
	}
}

// seed registers a seed node before traversal starts. It bypasses the
// unique-target check.
func (b *builder) seed(rawURL string) string {
	return b.ensureNode(rawURL)
}

// consume applies discoveries in arrival order until links is closed and drained.
func (b *builder) consume(links <-chan Discovery) {
	for d := range links {
		b.apply(d)
	}
}

func (b *builder) apply(d Discovery) {
	if b.unique {
		if _, ok := b.seenTargets[d.URL]; ok {
			return
		}
	}
	parentID := b.ensureNode(d.Parent)
	childID := b.ensureNode(d.URL)
	b.edges = append(b.edges, Edge{
		ID:     fmt.Sprintf("e%s-%s", parentID, childID),
		Source: parentID,
		Target: childID,
	})
	if b.unique {
		b.seenTargets[d.URL] = struct{}{}
	}
}

func (b *builder) ensureNode(rawURL string) string {
	if id, ok := b.ids[rawURL]; ok {
		return id
	}
	b.nextID++
	id := strconv.Itoa(b.nextID)
	b.ids[rawURL] = id
	b.nodes = append(b.nodes, Node{
		ID:       id,
		Label:    Label(rawURL),
		URL:      rawURL,
		Analysis: AnalysisPending,
	})
	return id
}

func (b *builder) graph() Graph {
	return Graph{
		Nodes: append([]Node{}, b.nodes...),
		Edges: append([]Edge{}, b.edges...),
	}
}
