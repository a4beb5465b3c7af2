package handlers

import (
	"strconv"
)

func init() {
	Register(Descriptor{
		Name:           "bfs",
		RequiredFields: []string{"source"},
		ResultShape:    "depths: node -> hop count; tree: node -> parent node",
		Invoke:         runBFS,
	})
}

// runBFS computes an unweighted breadth-first spanning tree from the
// source node. Unreachable nodes are absent from the result.
func runBFS(req *Request) (*Response, error) {
	source, err := sourceNode(req)
	if err != nil {
		return nil, err
	}

	adj := adjacency(&req.Graph)
	depth := map[int64]int64{source: 0}
	parent := make(map[int64]int64)

	queue := []int64{source}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, e := range adj[node] {
			if _, seen := depth[e.Target]; seen {
				continue
			}
			depth[e.Target] = depth[node] + 1
			parent[e.Target] = node
			queue = append(queue, e.Target)
		}
	}

	depths := make(map[string]any, len(depth))
	for node, d := range depth {
		depths[strconv.FormatInt(node, 10)] = d
	}
	tree := make(map[string]any, len(parent))
	for node, p := range parent {
		tree[strconv.FormatInt(node, 10)] = p
	}

	return okResponse(map[string]any{
		"source": source,
		"depths": depths,
		"tree":   tree,
	}), nil
}
