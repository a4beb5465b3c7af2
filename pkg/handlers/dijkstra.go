package handlers

import (
	"container/heap"
	"fmt"
	"strconv"
)

func init() {
	Register(Descriptor{
		Name:           "dijkstra",
		RequiredFields: []string{"source"},
		ResultShape:    "distances: node -> total edge weight; predecessors: node -> previous node",
		Invoke:         runDijkstra,
	})
}

type pqItem struct {
	node int64
	dist float64
}

type priorityQueue []pqItem

func (q priorityQueue) Len() int            { return len(q) }
func (q priorityQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q priorityQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x any)         { *q = append(*q, x.(pqItem)) }
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// runDijkstra computes single-source shortest paths over non-negative
// edge weights.
func runDijkstra(req *Request) (*Response, error) {
	source, err := sourceNode(req)
	if err != nil {
		return nil, err
	}
	for _, e := range req.Graph.Edges {
		if e.Weight < 0 {
			return nil, fmt.Errorf("negative edge weight %g on %d->%d", e.Weight, e.Source, e.Target)
		}
	}

	adj := adjacency(&req.Graph)
	dist := make(map[int64]float64, len(adj))
	prev := make(map[int64]int64, len(adj))

	pq := &priorityQueue{{node: source, dist: 0}}
	dist[source] = 0

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		if item.dist > dist[item.node] {
			continue // stale entry
		}
		for _, e := range adj[item.node] {
			next := item.dist + e.Weight
			if d, seen := dist[e.Target]; !seen || next < d {
				dist[e.Target] = next
				prev[e.Target] = item.node
				heap.Push(pq, pqItem{node: e.Target, dist: next})
			}
		}
	}

	distances := make(map[string]any, len(dist))
	for node, d := range dist {
		distances[strconv.FormatInt(node, 10)] = d
	}
	predecessors := make(map[string]any, len(prev))
	for node, p := range prev {
		predecessors[strconv.FormatInt(node, 10)] = p
	}

	return okResponse(map[string]any{
		"source":       source,
		"distances":    distances,
		"predecessors": predecessors,
	}), nil
}
