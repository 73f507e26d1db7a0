package solver

import (
	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

// Cycle is a closed token path. Edges[i] goes from Tokens[i] to
// Tokens[(i+1) % len(Tokens)].
type Cycle struct {
	Tokens []core.Token
	Edges  []Edge
}

func (c Cycle) Len() int { return len(c.Edges) }

// OrderIDs returns the orders of the cycle in leg order.
func (c Cycle) OrderIDs() []uint64 {
	ids := make([]uint64, len(c.Edges))
	for i, e := range c.Edges {
		ids[i] = e.OrderID
	}
	return ids
}

// FindCycle runs a depth-first search with a recursion stack over tokens in
// sorted order and returns the first cycle it closes.
func (g *Graph) FindCycle() (Cycle, bool) {
	visited := make(map[core.Token]bool, len(g.adj))
	onStack := make(map[core.Token]int, len(g.adj)) // token -> index in path
	var path []core.Token

	var visit func(t core.Token) (Cycle, bool)
	visit = func(t core.Token) (Cycle, bool) {
		visited[t] = true
		onStack[t] = len(path)
		path = append(path, t)

		for _, next := range g.Neighbors(t) {
			if at, ok := onStack[next]; ok {
				return g.cycleOf(path[at:]), true
			}
			if visited[next] {
				continue
			}
			if c, ok := visit(next); ok {
				return c, true
			}
		}

		path = path[:len(path)-1]
		delete(onStack, t)
		return Cycle{}, false
	}

	for _, t := range g.Tokens() {
		if visited[t] {
			continue
		}
		if c, ok := visit(t); ok {
			return c, true
		}
	}
	return Cycle{}, false
}

// Cycles enumerates simple cycles, each starting at its smallest token, in a
// deterministic order. It stops after limit cycles and ignores cycles longer
// than maxLen. Non-positive bounds mean no bound.
func (g *Graph) Cycles(limit, maxLen int) []Cycle {
	var out []Cycle
	tokens := g.Tokens()

	for _, start := range tokens {
		onPath := map[core.Token]bool{start: true}
		path := []core.Token{start}

		var walk func(t core.Token) bool
		walk = func(t core.Token) bool {
			for _, next := range g.Neighbors(t) {
				if next == start {
					out = append(out, g.cycleOf(append([]core.Token(nil), path...)))
					if limit > 0 && len(out) >= limit {
						return false
					}
					continue
				}
				// Only tokens above start, so each cycle is found once.
				if onPath[next] || next.Less(start) {
					continue
				}
				if maxLen > 0 && len(path) >= maxLen {
					continue
				}
				onPath[next] = true
				path = append(path, next)
				more := walk(next)
				path = path[:len(path)-1]
				delete(onPath, next)
				if !more {
					return false
				}
			}
			return true
		}

		if !walk(start) {
			break
		}
	}
	return out
}

func (g *Graph) cycleOf(tokens []core.Token) Cycle {
	c := Cycle{Tokens: append([]core.Token(nil), tokens...), Edges: make([]Edge, len(tokens))}
	for i, from := range tokens {
		to := tokens[(i+1)%len(tokens)]
		c.Edges[i], _ = g.Edge(from, to)
	}
	return c
}
