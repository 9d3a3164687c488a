package graph

import (
	"encoding/json"
	"fmt"
)

// Serialization of the store into segment payloads and WAL records.
//
// Payloads are deterministic JSON documents: encoding/json emits map keys in
// sorted order and the store iterates nodes and edges in insertion order, so
// the same store always produces the same bytes.

// WalOp identifies a WAL record type.
type WalOp string

const (
	// WalAddNode records a node creation.
	WalAddNode WalOp = "add_node"
	// WalAddEdge records an edge creation.
	WalAddEdge WalOp = "add_edge"
)

// WalRecord is one replayable graph mutation.
type WalRecord struct {
	Op         WalOp
	NodeID     NodeID
	EdgeID     EdgeID
	Labels     []string
	From       NodeID
	To         NodeID
	EdgeType   string
	Properties map[string]Value
}

// NewAddNodeRecord builds an add_node record.
func NewAddNodeRecord(id NodeID, labels []string, properties map[string]Value) WalRecord {
	return WalRecord{Op: WalAddNode, NodeID: id, Labels: labels, Properties: properties}
}

// NewAddEdgeRecord builds an add_edge record.
func NewAddEdgeRecord(id EdgeID, from, to NodeID, edgeType string, properties map[string]Value) WalRecord {
	return WalRecord{Op: WalAddEdge, EdgeID: id, From: from, To: to, EdgeType: edgeType, Properties: properties}
}

// Encode serialises the record as a JSON payload.
func (r WalRecord) Encode() ([]byte, error) {
	var doc map[string]any
	switch r.Op {
	case WalAddNode:
		doc = map[string]any{
			"type":       string(WalAddNode),
			"id":         uint64(r.NodeID),
			"labels":     r.Labels,
			"properties": PropertiesToJSON(r.Properties),
		}
	case WalAddEdge:
		doc = map[string]any{
			"type":       string(WalAddEdge),
			"id":         uint64(r.EdgeID),
			"from":       uint64(r.From),
			"to":         uint64(r.To),
			"edge_type":  r.EdgeType,
			"properties": PropertiesToJSON(r.Properties),
		}
	default:
		return nil, fmt.Errorf("%w: unknown WAL record op: %s", ErrInvalidArgument, r.Op)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode WAL record: %v", ErrStorageIo, err)
	}
	return data, nil
}

// DecodeWalRecord parses a WAL record payload.
func DecodeWalRecord(data []byte) (WalRecord, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return WalRecord{}, fmt.Errorf("%w: WAL record parse: %v", ErrStorageIo, err)
	}
	typ, _ := doc["type"].(string)
	switch WalOp(typ) {
	case WalAddNode:
		rec := WalRecord{
			Op:         WalAddNode,
			NodeID:     NodeID(jsonUint(doc["id"])),
			Properties: PropertiesFromJSON(doc["properties"]),
		}
		if labels, ok := doc["labels"].([]any); ok {
			for _, l := range labels {
				if s, ok := l.(string); ok {
					rec.Labels = append(rec.Labels, s)
				}
			}
		}
		return rec, nil
	case WalAddEdge:
		et, _ := doc["edge_type"].(string)
		return WalRecord{
			Op:         WalAddEdge,
			EdgeID:     EdgeID(jsonUint(doc["id"])),
			From:       NodeID(jsonUint(doc["from"])),
			To:         NodeID(jsonUint(doc["to"])),
			EdgeType:   et,
			Properties: PropertiesFromJSON(doc["properties"]),
		}, nil
	}
	return WalRecord{}, fmt.Errorf("%w: unknown WAL record type: %q", ErrStorageIo, typ)
}

func jsonUint(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case uint64:
		return t
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	}
	return 0
}

// ReplayWAL applies decoded WAL records to the store, restoring original ids
// and rebuilding indexes and counters.
func (s *InMemoryGraphStore) ReplayWAL(records []WalRecord) error {
	for _, rec := range records {
		switch rec.Op {
		case WalAddNode:
			props := rec.Properties
			if props == nil {
				props = make(map[string]Value)
			}
			s.restoreNode(&Node{ID: rec.NodeID, Labels: rec.Labels, Properties: props})
		case WalAddEdge:
			props := rec.Properties
			if props == nil {
				props = make(map[string]Value)
			}
			s.restoreEdge(&Edge{ID: rec.EdgeID, From: rec.From, To: rec.To, Type: rec.EdgeType, Properties: props})
		default:
			return fmt.Errorf("%w: unknown WAL record op: %s", ErrInvalidArgument, rec.Op)
		}
	}
	return nil
}

// SerializeNodes encodes all nodes as a deterministic JSON segment payload.
func (s *InMemoryGraphStore) SerializeNodes() ([]byte, error) {
	nodes := make([]any, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		n, ok := s.nodes[id]
		if !ok {
			continue
		}
		labels := n.Labels
		if labels == nil {
			labels = []string{}
		}
		nodes = append(nodes, map[string]any{
			"id":         uint64(n.ID),
			"labels":     labels,
			"properties": PropertiesToJSON(n.Properties),
		})
	}
	doc := map[string]any{"count": len(nodes), "nodes": nodes}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize nodes: %v", ErrStorageIo, err)
	}
	return data, nil
}

// SerializeEdges encodes all edges as a deterministic JSON segment payload.
func (s *InMemoryGraphStore) SerializeEdges() ([]byte, error) {
	edges := make([]any, 0, len(s.edgeOrder))
	for _, id := range s.edgeOrder {
		e, ok := s.edges[id]
		if !ok {
			continue
		}
		edges = append(edges, map[string]any{
			"id":         uint64(e.ID),
			"from":       uint64(e.From),
			"to":         uint64(e.To),
			"type":       e.Type,
			"properties": PropertiesToJSON(e.Properties),
		})
	}
	doc := map[string]any{"count": len(edges), "edges": edges}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize edges: %v", ErrStorageIo, err)
	}
	return data, nil
}

// DeserializeNodes merges a nodes segment payload into the store, rebuilding
// the label index and the node id counter.
func (s *InMemoryGraphStore) DeserializeNodes(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse nodes segment: %v", ErrStorageIo, err)
	}
	arr, _ := doc["nodes"].([]any)
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		node := &Node{
			ID:         NodeID(jsonUint(obj["id"])),
			Properties: PropertiesFromJSON(obj["properties"]),
		}
		if labels, ok := obj["labels"].([]any); ok {
			for _, l := range labels {
				if str, ok := l.(string); ok {
					node.Labels = append(node.Labels, str)
				}
			}
		}
		s.restoreNode(node)
	}
	return nil
}

// DeserializeEdges merges an edges segment payload into the store, rebuilding
// adjacency lists and the edge id counter.
func (s *InMemoryGraphStore) DeserializeEdges(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse edges segment: %v", ErrStorageIo, err)
	}
	arr, _ := doc["edges"].([]any)
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := obj["type"].(string)
		edge := &Edge{
			ID:         EdgeID(jsonUint(obj["id"])),
			From:       NodeID(jsonUint(obj["from"])),
			To:         NodeID(jsonUint(obj["to"])),
			Type:       typ,
			Properties: PropertiesFromJSON(obj["properties"]),
		}
		s.restoreEdge(edge)
	}
	return nil
}
