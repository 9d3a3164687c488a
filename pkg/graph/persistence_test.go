package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleStore(t *testing.T) *InMemoryGraphStore {
	t.Helper()
	store := NewInMemoryGraphStore()
	alice, err := store.AddNode([]string{"Person"}, map[string]Value{"name": StringValue("Alice")})
	require.NoError(t, err)
	bob, err := store.AddNode([]string{"Person", "Admin"}, map[string]Value{"name": StringValue("Bob"), "age": IntValue(40)})
	require.NoError(t, err)
	_, err = store.AddEdge(alice, bob, "KNOWS", map[string]Value{"since": IntValue(2020)})
	require.NoError(t, err)
	return store
}

func TestSegmentPayloadRoundTrip(t *testing.T) {
	store := buildSampleStore(t)

	nodesData, err := store.SerializeNodes()
	require.NoError(t, err)
	edgesData, err := store.SerializeEdges()
	require.NoError(t, err)

	loaded := NewInMemoryGraphStore()
	require.NoError(t, loaded.DeserializeNodes(nodesData))
	require.NoError(t, loaded.DeserializeEdges(edgesData))

	nodes, err := loaded.ScanAll()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, []string{"Person"}, nodes[0].Labels)
	assert.True(t, nodes[0].Properties["name"].Equal(StringValue("Alice")))
	assert.True(t, nodes[1].Properties["age"].Equal(IntValue(40)))

	// Adjacency rebuilt from the edge table.
	out, err := loaded.GetNeighbors(1, "KNOWS")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, NodeID(2), out[0].Node.ID)
	assert.True(t, out[0].Edge.Properties["since"].Equal(IntValue(2020)))

	// Label index rebuilt.
	admins, err := loaded.ScanByLabel("Admin")
	require.NoError(t, err)
	require.Len(t, admins, 1)

	// Counters sit strictly above every restored id.
	id, err := loaded.AddNode(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, NodeID(3), id)
}

func TestSerializeDeterminism(t *testing.T) {
	store := buildSampleStore(t)
	first, err := store.SerializeNodes()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := store.SerializeNodes()
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestWalRecordRoundTrip(t *testing.T) {
	t.Run("add_node", func(t *testing.T) {
		rec := NewAddNodeRecord(7, []string{"Person"}, map[string]Value{"name": StringValue("Ada")})
		data, err := rec.Encode()
		require.NoError(t, err)

		decoded, err := DecodeWalRecord(data)
		require.NoError(t, err)
		assert.Equal(t, WalAddNode, decoded.Op)
		assert.Equal(t, NodeID(7), decoded.NodeID)
		assert.Equal(t, []string{"Person"}, decoded.Labels)
		assert.True(t, decoded.Properties["name"].Equal(StringValue("Ada")))
	})

	t.Run("add_edge", func(t *testing.T) {
		rec := NewAddEdgeRecord(3, 1, 2, "KNOWS", map[string]Value{"w": FloatValue(0.5)})
		data, err := rec.Encode()
		require.NoError(t, err)

		decoded, err := DecodeWalRecord(data)
		require.NoError(t, err)
		assert.Equal(t, WalAddEdge, decoded.Op)
		assert.Equal(t, EdgeID(3), decoded.EdgeID)
		assert.Equal(t, NodeID(1), decoded.From)
		assert.Equal(t, NodeID(2), decoded.To)
		assert.Equal(t, "KNOWS", decoded.EdgeType)
	})

	t.Run("garbage_is_storage_io", func(t *testing.T) {
		_, err := DecodeWalRecord([]byte("not json"))
		assert.ErrorIs(t, err, ErrStorageIo)

		_, err = DecodeWalRecord([]byte(`{"type":"drop_everything"}`))
		assert.ErrorIs(t, err, ErrStorageIo)
	})
}

func TestReplayWAL(t *testing.T) {
	store := NewInMemoryGraphStore()
	records := []WalRecord{
		NewAddNodeRecord(1, []string{"Person"}, map[string]Value{"name": StringValue("Alice")}),
		NewAddNodeRecord(2, []string{"Person"}, nil),
		NewAddEdgeRecord(1, 1, 2, "KNOWS", nil),
	}
	require.NoError(t, store.ReplayWAL(records))

	node, err := store.GetNode(1)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.True(t, node.Properties["name"].Equal(StringValue("Alice")))

	out, err := store.GetNeighbors(1, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, NodeID(2), out[0].Node.ID)

	// Counters advance past replayed ids.
	id, err := store.AddNode(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, NodeID(3), id)
}
