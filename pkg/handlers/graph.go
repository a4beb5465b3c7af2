package handlers

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/graphworks/spanners/pkg/protocol"
)

// Edge is one weighted edge of an input graph
type Edge struct {
	Source int64   `json:"source"`
	Target int64   `json:"target"`
	Weight float64 `json:"weight"`
}

// Graph is the input carried in a job request container. Edges are
// undirected unless Directed is set.
type Graph struct {
	Nodes    []int64 `json:"nodes"`
	Edges    []Edge  `json:"edges"`
	Directed bool    `json:"directed,omitempty"`
}

// Request is a decoded job request payload. Attributes carry handler
// parameters such as the source node of a shortest-path run.
type Request struct {
	Graph      Graph             `json:"graph"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Response is the result of one handler invocation. Result keys depend on
// the handler's declared result shape.
type Response struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
}

// DecodeRequest parses a stored request blob. The queue and storage layers
// treat these blobs as opaque; only handlers interpret them.
func DecodeRequest(blob []byte) (*Request, error) {
	req := &Request{}
	if err := json.Unmarshal(blob, req); err != nil {
		return nil, fmt.Errorf("failed to decode job request: %w", err)
	}
	return req, nil
}

// Encode serialises the response for storage
func (r *Response) Encode() ([]byte, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job response: %w", err)
	}
	return blob, nil
}

// adjacency builds an adjacency list; undirected graphs get both arcs
func adjacency(g *Graph) map[int64][]Edge {
	adj := make(map[int64][]Edge, len(g.Nodes))
	for _, n := range g.Nodes {
		adj[n] = nil
	}
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e)
		if !g.Directed {
			adj[e.Target] = append(adj[e.Target], Edge{Source: e.Target, Target: e.Source, Weight: e.Weight})
		}
	}
	return adj
}

// sourceNode resolves the required "source" attribute against the graph
func sourceNode(req *Request) (int64, error) {
	raw, ok := req.Attributes["source"]
	if !ok {
		return 0, fmt.Errorf("missing required attribute %q", "source")
	}
	var source int64
	if _, err := fmt.Sscanf(raw, "%d", &source); err != nil {
		return 0, fmt.Errorf("invalid source node %q", raw)
	}
	for _, n := range req.Graph.Nodes {
		if n == source {
			return source, nil
		}
	}
	return 0, fmt.Errorf("source node %d not in graph", source)
}

func okResponse(result map[string]any) *Response {
	return &Response{Status: protocol.StatusOK, Result: result}
}
