package solver

import (
	"math/big"
	"sort"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

// Edge is one resting order seen as a directed edge: the owner gives From
// and wants To at Price (To per From, scaled).
type Edge struct {
	OrderID  uint64
	From     core.Token
	To       core.Token
	Price    *big.Int
	Quantity *big.Int
	Kind     core.OrderKind
}

// Graph is a directed multigraph of tokens. Parallel edges between the same
// two tokens keep insertion order; the first one is the pair's representative.
type Graph struct {
	adj   map[core.Token]map[core.Token][]Edge
	edges int
}

func NewGraph() *Graph {
	return &Graph{adj: make(map[core.Token]map[core.Token][]Edge)}
}

// BuildGraph adds one edge per order. Orders are expected in ascending id
// order, as the book lists them, so the oldest order represents its pair.
func BuildGraph(orders []*orderbook.Order) *Graph {
	g := NewGraph()
	for _, o := range orders {
		if !core.IsPositive(o.Quantity) || o.TokenPair0 == o.TokenPair1 {
			continue
		}
		g.AddEdge(Edge{
			OrderID:  o.ID,
			From:     o.TokenPair0,
			To:       o.TokenPair1,
			Price:    o.Price,
			Quantity: o.Quantity,
			Kind:     o.Kind,
		})
	}
	return g
}

func (g *Graph) AddEdge(e Edge) {
	out, ok := g.adj[e.From]
	if !ok {
		out = make(map[core.Token][]Edge)
		g.adj[e.From] = out
	}
	if _, ok := g.adj[e.To]; !ok {
		g.adj[e.To] = make(map[core.Token][]Edge)
	}
	out[e.To] = append(out[e.To], e)
	g.edges++
}

// Len returns the number of edges.
func (g *Graph) Len() int { return g.edges }

// Tokens returns every token with an edge in or out, sorted.
func (g *Graph) Tokens() []core.Token {
	out := make([]core.Token, 0, len(g.adj))
	for t := range g.adj {
		out = append(out, t)
	}
	sortTokens(out)
	return out
}

// Neighbors returns the tokens reachable from t in one edge, sorted.
func (g *Graph) Neighbors(t core.Token) []core.Token {
	out := make([]core.Token, 0, len(g.adj[t]))
	for to := range g.adj[t] {
		out = append(out, to)
	}
	sortTokens(out)
	return out
}

// Edge returns the representative edge from -> to.
func (g *Graph) Edge(from, to core.Token) (Edge, bool) {
	es := g.adj[from][to]
	if len(es) == 0 {
		return Edge{}, false
	}
	return es[0], true
}

// Edges returns every edge from -> to in insertion order.
func (g *Graph) Edges(from, to core.Token) []Edge {
	return append([]Edge(nil), g.adj[from][to]...)
}

func sortTokens(ts []core.Token) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Less(ts[j]) })
}
