/*
Package handlers holds the algorithm handler registry and the built-in
graph algorithms.

A handler is a named algorithm the server advertises and the worker runs.
Handlers register themselves from init, the server freezes the registry
once at startup, and from then on the set is immutable: AVAILABLE_HANDLERS
always answers from the same table the worker dispatches on.

# Registering a handler

	func init() {
		Register(Descriptor{
			Name:           "dijkstra",
			RequiredFields: []string{"source"},
			ResultShape:    "source, distances, predecessors",
			Invoke:         runDijkstra,
		})
	}

Register panics on a duplicate name or after Freeze; both are programmer
errors that should fail loudly at startup, not at job time.

# Payload format

Handlers operate on the JSON graph carried in the job's request
container:

	{
	  "graph": {
	    "nodes": [1, 2, 3],
	    "edges": [{"source": 1, "target": 2, "weight": 0.5}],
	    "directed": false
	  },
	  "attributes": {"source": "1"}
	}

The queue and the store treat this as an opaque blob; only this package
decodes it. Results come back as a JSON object whose keys the descriptor
names in ResultShape.

# Built-ins

dijkstra computes single-source shortest paths over non-negative weights;
bfs computes depths and a spanning tree of the unweighted graph. Both
require a "source" attribute naming the start node.
*/
package handlers
