package storage

import (
	"errors"

	"github.com/orneryd/urddb/pkg/graph"
)

// FlushGraph writes a store's nodes and edges as the "nodes" and "edges"
// segments through the given SegmentStore.
func FlushGraph(store SegmentStore, root string, db graph.DatabaseName, g *graph.InMemoryGraphStore) error {
	nodesData, err := g.SerializeNodes()
	if err != nil {
		return err
	}
	if err := store.WriteSegment(root, db, NodesSegmentID, nodesData, g.NodeCount(), 0); err != nil {
		return err
	}

	edgesData, err := g.SerializeEdges()
	if err != nil {
		return err
	}
	return store.WriteSegment(root, db, EdgesSegmentID, edgesData, 0, g.EdgeCount())
}

// LoadGraph rebuilds a store from the "nodes" and "edges" segments. Missing
// segments are empty initial state, not an error: a database that has never
// been flushed loads as an empty graph.
func LoadGraph(store SegmentStore, root string, db graph.DatabaseName) (*graph.InMemoryGraphStore, error) {
	g := graph.NewInMemoryGraphStore()

	data, _, _, err := store.ReadSegment(root, db, NodesSegmentID)
	switch {
	case err == nil:
		if err := g.DeserializeNodes(data); err != nil {
			return nil, err
		}
	case errors.Is(err, graph.ErrNotFound):
	default:
		return nil, err
	}

	data, _, _, err = store.ReadSegment(root, db, EdgesSegmentID)
	switch {
	case err == nil:
		if err := g.DeserializeEdges(data); err != nil {
			return nil, err
		}
	case errors.Is(err, graph.ErrNotFound):
	default:
		return nil, err
	}

	return g, nil
}
