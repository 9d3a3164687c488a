package graph

import "fmt"

// InMemoryGraphStore is the indexed in-memory graph implementation.
//
// It owns a node table and an edge table keyed by id, a label index mapping
// each label to its node ids in insertion order, outgoing and incoming
// adjacency lists per node, and the two id counters. The indexes are fully
// determined by the tables and are rebuilt on load.
//
// Invariants:
//   - Every edge's endpoints exist in the node table
//   - Every edge appears exactly once in the outgoing adjacency of its From
//     node and once in the incoming adjacency of its To node
//   - The counters are strictly greater than every id present
//
// The store is singly owned: one logical writer at a time, readers via a
// shared handle. It performs no locking of its own; callers that share a
// store across goroutines serialise access themselves.
//
// Performance Characteristics:
//   - Node lookup by id: O(1)
//   - Scan by label: O(k) where k = nodes with that label
//   - Outgoing/incoming neighbors: O(degree)
type InMemoryGraphStore struct {
	nodes      map[NodeID]*Node
	nodeOrder  []NodeID
	edges      map[EdgeID]*Edge
	edgeOrder  []EdgeID
	labelIndex map[string][]NodeID
	adjOut     map[NodeID][]EdgeID
	adjIn      map[NodeID][]EdgeID
	nextNodeID NodeID
	nextEdgeID EdgeID
}

// NewInMemoryGraphStore creates an empty store with id counters at 1.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		nodes:      make(map[NodeID]*Node),
		edges:      make(map[EdgeID]*Edge),
		labelIndex: make(map[string][]NodeID),
		adjOut:     make(map[NodeID][]EdgeID),
		adjIn:      make(map[NodeID][]EdgeID),
		nextNodeID: 1,
		nextEdgeID: 1,
	}
}

// ScanAll returns every node in insertion order.
func (s *InMemoryGraphStore) ScanAll() ([]*Node, error) {
	out := make([]*Node, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// ScanByLabel returns the nodes carrying label, in insertion order.
// An unknown label yields an empty slice, not an error.
func (s *InMemoryGraphStore) ScanByLabel(label string) ([]*Node, error) {
	ids := s.labelIndex[label]
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// GetNode returns the node with the given id, or nil when absent.
func (s *InMemoryGraphStore) GetNode(id NodeID) (*Node, error) {
	return s.nodes[id], nil
}

// GetNeighbors returns the outgoing (edge, target) pairs of a node, filtered
// by exact edge type when edgeType is non-empty.
func (s *InMemoryGraphStore) GetNeighbors(id NodeID, edgeType string) ([]Neighbor, error) {
	var out []Neighbor
	for _, eid := range s.adjOut[id] {
		edge, ok := s.edges[eid]
		if !ok {
			continue
		}
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		if node, ok := s.nodes[edge.To]; ok {
			out = append(out, Neighbor{Edge: edge, Node: node})
		}
	}
	return out, nil
}

// GetNeighborsIncoming returns the incoming (edge, source) pairs of a node,
// filtered by exact edge type when edgeType is non-empty.
func (s *InMemoryGraphStore) GetNeighborsIncoming(id NodeID, edgeType string) ([]Neighbor, error) {
	var out []Neighbor
	for _, eid := range s.adjIn[id] {
		edge, ok := s.edges[eid]
		if !ok {
			continue
		}
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		if node, ok := s.nodes[edge.From]; ok {
			out = append(out, Neighbor{Edge: edge, Node: node})
		}
	}
	return out, nil
}

// AddNode assigns the next node id, stores the node, and appends it to the
// label index for each label.
func (s *InMemoryGraphStore) AddNode(labels []string, properties map[string]Value) (NodeID, error) {
	id := s.nextNodeID
	s.nextNodeID++

	if properties == nil {
		properties = make(map[string]Value)
	}
	node := &Node{ID: id, Labels: labels, Properties: properties}
	s.nodes[id] = node
	s.nodeOrder = append(s.nodeOrder, id)

	for _, label := range labels {
		s.labelIndex[label] = append(s.labelIndex[label], id)
	}
	return id, nil
}

// AddEdge assigns the next edge id and appends it to both adjacency lists.
// It fails when either endpoint is absent.
func (s *InMemoryGraphStore) AddEdge(from, to NodeID, edgeType string, properties map[string]Value) (EdgeID, error) {
	if _, ok := s.nodes[from]; !ok {
		return 0, fmt.Errorf("%w: edge from node %d not found", ErrInvalidArgument, from)
	}
	if _, ok := s.nodes[to]; !ok {
		return 0, fmt.Errorf("%w: edge to node %d not found", ErrInvalidArgument, to)
	}

	id := s.nextEdgeID
	s.nextEdgeID++

	if properties == nil {
		properties = make(map[string]Value)
	}
	edge := &Edge{ID: id, From: from, To: to, Type: edgeType, Properties: properties}
	s.edges[id] = edge
	s.edgeOrder = append(s.edgeOrder, id)

	s.adjOut[from] = append(s.adjOut[from], id)
	s.adjIn[to] = append(s.adjIn[to], id)
	return id, nil
}

// NodeCount returns the number of nodes in the store.
func (s *InMemoryGraphStore) NodeCount() uint64 { return uint64(len(s.nodes)) }

// EdgeCount returns the number of edges in the store.
func (s *InMemoryGraphStore) EdgeCount() uint64 { return uint64(len(s.edges)) }

// restoreNode inserts a node under its original id, rebuilding the label
// index and bumping the id counter. Used by segment load and WAL replay.
func (s *InMemoryGraphStore) restoreNode(node *Node) {
	if _, exists := s.nodes[node.ID]; !exists {
		s.nodeOrder = append(s.nodeOrder, node.ID)
	}
	s.nodes[node.ID] = node
	for _, label := range node.Labels {
		s.labelIndex[label] = append(s.labelIndex[label], node.ID)
	}
	if node.ID >= s.nextNodeID {
		s.nextNodeID = node.ID + 1
	}
}

// restoreEdge inserts an edge under its original id, rebuilding adjacency
// and bumping the id counter. Used by segment load and WAL replay.
func (s *InMemoryGraphStore) restoreEdge(edge *Edge) {
	if _, exists := s.edges[edge.ID]; !exists {
		s.edgeOrder = append(s.edgeOrder, edge.ID)
	}
	s.edges[edge.ID] = edge
	s.adjOut[edge.From] = append(s.adjOut[edge.From], edge.ID)
	s.adjIn[edge.To] = append(s.adjIn[edge.To], edge.ID)
	if edge.ID >= s.nextEdgeID {
		s.nextEdgeID = edge.ID + 1
	}
}

var (
	_ ReadStore  = (*InMemoryGraphStore)(nil)
	_ WriteStore = (*InMemoryGraphStore)(nil)
)
