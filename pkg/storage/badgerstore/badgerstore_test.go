package badgerstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testNames(t *testing.T) (graph.DatabaseName, graph.BranchName) {
	t.Helper()
	db, err := graph.NewDatabaseName("testdb")
	require.NoError(t, err)
	br, err := graph.NewBranchName("main")
	require.NoError(t, err)
	return db, br
}

func TestManifestChain(t *testing.T) {
	store := openTestStore(t)
	db, br := testNames(t)

	for _, ts := range []graph.Timestamp{100, 300, 200} {
		require.NoError(t, store.WriteManifest("", db, br, &storage.Manifest{
			Branch:    "main",
			VersionTS: ts,
		}))
	}

	t.Run("timestamps_ascend", func(t *testing.T) {
		tss, err := store.ListSnapshotTimestamps("", db, br)
		require.NoError(t, err)
		assert.Equal(t, []graph.Timestamp{100, 200, 300}, tss)
	})

	t.Run("latest_is_maximum", func(t *testing.T) {
		m, err := store.LatestManifest("", db, br)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, graph.Timestamp(300), m.VersionTS)
	})

	t.Run("pitr_selects_floor", func(t *testing.T) {
		m, err := store.PITRManifest("", db, br, 250)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, graph.Timestamp(200), m.VersionTS)

		m, err = store.PITRManifest("", db, br, 50)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("unknown_branch_is_empty", func(t *testing.T) {
		other, err := graph.NewBranchName("other")
		require.NoError(t, err)
		tss, err := store.ListSnapshotTimestamps("", db, other)
		require.NoError(t, err)
		assert.Empty(t, tss)
	})
}

func TestSegmentsKV(t *testing.T) {
	store := openTestStore(t)
	db, _ := testNames(t)

	t.Run("round_trip", func(t *testing.T) {
		payload := []byte(`{"count":0,"nodes":[]}`)
		require.NoError(t, store.WriteSegment("", db, "nodes", payload, 5, 0))

		data, nodeCount, edgeCount, err := store.ReadSegment("", db, "nodes")
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		assert.Equal(t, uint64(5), nodeCount)
		assert.Equal(t, uint64(0), edgeCount)
	})

	t.Run("absent_is_not_found", func(t *testing.T) {
		_, _, _, err := store.ReadSegment("", db, "missing")
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})
}

func TestWalKV(t *testing.T) {
	store := openTestStore(t)
	db, br := testNames(t)

	t.Run("append_starts_at_zero_and_advances", func(t *testing.T) {
		tail, err := store.AppendRecords("", db, br, [][]byte{[]byte("a"), []byte("b")})
		require.NoError(t, err)
		assert.Equal(t, storage.WalTail{Epoch: 0, Seq: 0}, tail)

		tail, err = store.AppendRecords("", db, br, [][]byte{[]byte("c")})
		require.NoError(t, err)
		assert.Equal(t, storage.WalTail{Epoch: 0, Seq: 1}, tail)
	})

	t.Run("read_returns_records_in_order", func(t *testing.T) {
		records, err := store.ReadWalSegment("", db, br, storage.WalTail{Epoch: 0, Seq: 0})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "a", string(records[0]))
		assert.Equal(t, "b", string(records[1]))
	})

	t.Run("list_segments", func(t *testing.T) {
		tails, err := store.ListWalSegments("", db, br)
		require.NoError(t, err)
		assert.Equal(t, []storage.WalTail{{Epoch: 0, Seq: 0}, {Epoch: 0, Seq: 1}}, tails)
	})
}

func TestBranching(t *testing.T) {
	store := openTestStore(t)
	db, br := testNames(t)

	require.NoError(t, store.WriteManifest("", db, br, &storage.Manifest{
		Branch:    "main",
		VersionTS: 100,
		Segments:  []storage.SegmentRef{{ID: "nodes"}},
		WalTail:   &storage.WalTail{Epoch: 0, Seq: 3},
	}))

	feature, err := graph.NewBranchName("feature")
	require.NoError(t, err)
	require.NoError(t, store.CreateBranch("", db, br, feature, nil))

	m, err := store.LatestManifest("", db, feature)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "feature", m.Branch)
	require.Len(t, m.Segments, 1)
	require.NotNil(t, m.WalTail)
	assert.Equal(t, uint64(3), m.WalTail.Seq)

	branches, err := store.ListBranches("", db)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "feature", branches[0].String())
	assert.Equal(t, "main", branches[1].String())
}

func TestComposesIntoBackend(t *testing.T) {
	store := openTestStore(t)
	db, br := testNames(t)
	backend := storage.NewCompositeBackend(store, store, store, store, store)

	_, err := backend.CommitTx("", db, br, [][]byte{[]byte("rec")})
	require.NoError(t, err)

	latest, err := store.LatestManifest("", db, br)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.NotNil(t, latest.WalTail)

	records, err := store.ReadWalSegment("", db, br, *latest.WalTail)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec", string(records[0]))
}
