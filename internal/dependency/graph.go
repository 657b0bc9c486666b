// Package dependency holds the task dependency graph of a workflow and the
// critical-path schedule computed over it. Everything here is pure: callers
// load a snapshot of tasks and edges and pass it in.
package dependency

import (
	"container/heap"
	"sort"

	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// Graph is an immutable snapshot of one workflow's tasks and edges.
type Graph struct {
	nodes    []string
	index    map[string]int
	out      map[string][]models.TaskDependency
	in       map[string][]models.TaskDependency
	dangling []models.TaskDependency
}

// NewGraph builds a graph over taskIDs. Edges whose endpoints are not in
// taskIDs are kept aside as dangling and take no part in traversal.
func NewGraph(taskIDs []string, edges []models.TaskDependency) *Graph {
	g := &Graph{
		index: make(map[string]int, len(taskIDs)),
		out:   make(map[string][]models.TaskDependency),
		in:    make(map[string][]models.TaskDependency),
	}
	for _, id := range taskIDs {
		if _, dup := g.index[id]; dup {
			continue
		}
		g.index[id] = len(g.nodes)
		g.nodes = append(g.nodes, id)
	}
	for _, e := range edges {
		if !g.HasNode(e.FromTaskID) || !g.HasNode(e.ToTaskID) {
			g.dangling = append(g.dangling, e)
			continue
		}
		g.out[e.FromTaskID] = append(g.out[e.FromTaskID], e)
		g.in[e.ToTaskID] = append(g.in[e.ToTaskID], e)
	}
	return g
}

// HasNode reports whether id is a task of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns the task ids in input order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Successors returns the outgoing edges of id.
func (g *Graph) Successors(id string) []models.TaskDependency {
	return g.out[id]
}

// Predecessors returns the incoming edges of id.
func (g *Graph) Predecessors(id string) []models.TaskDependency {
	return g.in[id]
}

// Dangling returns the edges that reference tasks outside the graph.
func (g *Graph) Dangling() []models.TaskDependency {
	return append([]models.TaskDependency(nil), g.dangling...)
}

// Path returns a path from -> ... -> to following edge direction, or nil
// when to is unreachable. Each node is visited at most once.
func (g *Graph) Path(from, to string) []string {
	if !g.HasNode(from) || !g.HasNode(to) {
		return nil
	}
	if from == to {
		return []string{from}
	}
	parent := map[string]string{from: ""}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.out[cur] {
			next := e.ToTaskID
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == to {
				path := []string{to}
				for n := cur; n != ""; n = parent[n] {
					path = append(path, n)
				}
				reverse(path)
				return path
			}
			stack = append(stack, next)
		}
	}
	return nil
}

// WouldCycle returns the cycle that adding from -> to would close, as a
// path starting and ending at from, or nil when the edge is safe.
func (g *Graph) WouldCycle(from, to string) []string {
	if from == to {
		return []string{from, to}
	}
	back := g.Path(to, from)
	if back == nil {
		return nil
	}
	return append([]string{from}, back...)
}

// Cycles returns every strongly connected component that contains a cycle,
// found with Tarjan's algorithm. Components and their members follow input
// order.
func (g *Graph) Cycles() [][]string {
	t := tarjan{
		g:       g,
		index:   make(map[string]int, len(g.nodes)),
		low:     make(map[string]int, len(g.nodes)),
		onStack: make(map[string]bool, len(g.nodes)),
	}
	for _, id := range g.nodes {
		if _, seen := t.index[id]; !seen {
			t.visit(id)
		}
	}

	var out [][]string
	for _, comp := range t.components {
		if len(comp) == 1 && !g.selfLoop(comp[0]) {
			continue
		}
		sort.Slice(comp, func(i, j int) bool { return g.index[comp[i]] < g.index[comp[j]] })
		out = append(out, comp)
	}
	sort.Slice(out, func(i, j int) bool { return g.index[out[i][0]] < g.index[out[j][0]] })
	return out
}

func (g *Graph) selfLoop(id string) bool {
	for _, e := range g.out[id] {
		if e.ToTaskID == id {
			return true
		}
	}
	return false
}

type tarjan struct {
	g          *Graph
	counter    int
	index      map[string]int
	low        map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
}

func (t *tarjan) visit(v string) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, e := range t.g.out[v] {
		w := e.ToTaskID
		if _, seen := t.index[w]; !seen {
			t.visit(w)
			t.low[v] = min(t.low[v], t.low[w])
		} else if t.onStack[w] {
			t.low[v] = min(t.low[v], t.index[w])
		}
	}

	if t.low[v] == t.index[v] {
		var comp []string
		for {
			w := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		t.components = append(t.components, comp)
	}
}

// TopologicalOrder returns the tasks so that every edge points forward.
// Among ready tasks the one earliest in input order goes first, which keeps
// results stable across calls. ok is false when the graph has a cycle.
func (g *Graph) TopologicalOrder() (order []string, ok bool) {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.nodes {
		indegree[id] = len(g.in[id])
	}
	ready := &readyQueue{index: g.index}
	for _, id := range g.nodes {
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, e := range g.out[id] {
			indegree[e.ToTaskID]--
			if indegree[e.ToTaskID] == 0 {
				heap.Push(ready, e.ToTaskID)
			}
		}
	}
	return order, len(order) == len(g.nodes)
}

// readyQueue is a min-heap of task ids keyed by input position.
type readyQueue struct {
	ids   []string
	index map[string]int
}

func (q *readyQueue) Len() int           { return len(q.ids) }
func (q *readyQueue) Less(i, j int) bool { return q.index[q.ids[i]] < q.index[q.ids[j]] }
func (q *readyQueue) Swap(i, j int)      { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }
func (q *readyQueue) Push(x any)         { q.ids = append(q.ids, x.(string)) }
func (q *readyQueue) Pop() any {
	last := q.ids[len(q.ids)-1]
	q.ids = q.ids[:len(q.ids)-1]
	return last
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
