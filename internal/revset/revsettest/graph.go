// Package revsettest provides an in-memory history graph that evaluates
// revset expression trees the way hg would, for use in tests.
package revsettest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"autobisect/internal/revset"
)

type Graph struct {
	mu       sync.Mutex
	order    []revset.Revision
	index    map[revset.Revision]int
	parents  map[revset.Revision][]revset.Revision
	children map[revset.Revision][]revset.Revision

	// Evaluated records every formatted expression passed to Evaluate.
	Evaluated []string
}

func NewGraph() *Graph {
	return &Graph{
		index:    make(map[revset.Revision]int),
		parents:  make(map[revset.Revision][]revset.Revision),
		children: make(map[revset.Revision][]revset.Revision),
	}
}

// Linear builds a history where every revision is the child of the previous one.
func Linear(revs ...revset.Revision) *Graph {
	g := NewGraph()
	var prev []revset.Revision
	for _, r := range revs {
		g.Add(r, prev...)
		prev = []revset.Revision{r}
	}
	return g
}

// Add appends rev to the graph. Parents must already be present.
func (g *Graph) Add(rev revset.Revision, parents ...revset.Revision) {
	g.index[rev] = len(g.order)
	g.order = append(g.order, rev)
	g.parents[rev] = parents
	for _, p := range parents {
		g.children[p] = append(g.children[p], rev)
	}
}

// Index reports the position of rev in insertion order, or -1.
func (g *Graph) Index(rev revset.Revision) int {
	if i, ok := g.index[rev]; ok {
		return i
	}
	return -1
}

func (g *Graph) Evaluate(ctx context.Context, e revset.Expr) ([]revset.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.Evaluated = append(g.Evaluated, revset.Format(e))
	g.mu.Unlock()

	set, err := g.eval(e)
	if err != nil {
		return nil, err
	}
	return g.sorted(set), nil
}

type set map[revset.Revision]struct{}

func (g *Graph) sorted(s set) []revset.Revision {
	out := make([]revset.Revision, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return g.index[out[i]] < g.index[out[j]] })
	return out
}

func (g *Graph) eval(e revset.Expr) (set, error) {
	switch x := e.(type) {
	case revset.RevExpr:
		if _, ok := g.index[x.ID]; ok {
			return set{x.ID: {}}, nil
		}
		// id() of an unknown node is empty, not an error
		return set{}, nil
	case revset.SymbolExpr:
		if x.Name == "tip" || x.Name == "default" {
			if len(g.order) == 0 {
				return set{}, nil
			}
			return set{g.order[len(g.order)-1]: {}}, nil
		}
		if _, ok := g.index[revset.Revision(x.Name)]; ok {
			return set{revset.Revision(x.Name): {}}, nil
		}
		return nil, fmt.Errorf("unknown revision '%s'", x.Name)
	case revset.DescendantsExpr:
		return g.walk(x.Of, g.children)
	case revset.AncestorsExpr:
		return g.walk(x.Of, g.parents)
	case revset.DifferenceExpr:
		a, err := g.eval(x.A)
		if err != nil {
			return nil, err
		}
		b, err := g.eval(x.B)
		if err != nil {
			return nil, err
		}
		for r := range b {
			delete(a, r)
		}
		return a, nil
	case revset.ConjunctionExpr:
		if len(x.Terms) == 0 {
			return g.all(), nil
		}
		acc, err := g.eval(x.Terms[0])
		if err != nil {
			return nil, err
		}
		for _, t := range x.Terms[1:] {
			other, err := g.eval(t)
			if err != nil {
				return nil, err
			}
			for r := range acc {
				if _, ok := other[r]; !ok {
					delete(acc, r)
				}
			}
		}
		return acc, nil
	case revset.UnionExpr:
		acc := set{}
		for _, t := range x.Terms {
			other, err := g.eval(t)
			if err != nil {
				return nil, err
			}
			for r := range other {
				acc[r] = struct{}{}
			}
		}
		return acc, nil
	case revset.FirstExpr:
		inner, err := g.eval(x.Of)
		if err != nil {
			return nil, err
		}
		sorted := g.sorted(inner)
		if len(sorted) == 0 {
			return set{}, nil
		}
		return set{sorted[0]: {}}, nil
	case nil:
		return set{}, nil
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func (g *Graph) walk(of revset.Expr, edges map[revset.Revision][]revset.Revision) (set, error) {
	start, err := g.eval(of)
	if err != nil {
		return nil, err
	}
	seen := set{}
	queue := make([]revset.Revision, 0, len(start))
	for r := range start {
		queue = append(queue, r)
	}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		queue = append(queue, edges[r]...)
	}
	return seen, nil
}

func (g *Graph) all() set {
	s := set{}
	for _, r := range g.order {
		s[r] = struct{}{}
	}
	return s
}
