package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
)

func testNames(t *testing.T) (graph.DatabaseName, graph.BranchName) {
	t.Helper()
	db, err := graph.NewDatabaseName("testdb")
	require.NoError(t, err)
	br, err := graph.NewBranchName("main")
	require.NoError(t, err)
	return db, br
}

func TestWalWriter(t *testing.T) {
	db, br := testNames(t)

	t.Run("records_read_back_in_order", func(t *testing.T) {
		root := t.TempDir()
		w, err := OpenWalWriter(root, db, br, 0)
		require.NoError(t, err)

		payloads := []string{"first", "second", "third"}
		for _, p := range payloads {
			require.NoError(t, w.WriteRecord([]byte(p)))
		}
		require.NoError(t, w.Close())

		backend := New()
		records, err := backend.ReadWalSegment(root, db, br, storage.WalTail{Epoch: 0, Seq: 0})
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, p := range payloads {
			assert.Equal(t, p, string(records[i]))
		}
	})

	t.Run("fresh_directory_opens_epoch_zero_seq_zero", func(t *testing.T) {
		root := t.TempDir()
		w, err := OpenWalWriter(root, db, br, 0)
		require.NoError(t, err)
		defer w.Close()
		assert.Equal(t, storage.WalTail{Epoch: 0, Seq: 0}, w.Tail())
	})

	t.Run("reopen_advances_seq_and_preserves_epoch", func(t *testing.T) {
		root := t.TempDir()
		w, err := OpenWalWriter(root, db, br, 0)
		require.NoError(t, err)
		require.NoError(t, w.WriteRecord([]byte("x")))
		require.NoError(t, w.Close())

		w2, err := OpenWalWriter(root, db, br, 0)
		require.NoError(t, err)
		defer w2.Close()
		assert.Equal(t, storage.WalTail{Epoch: 0, Seq: 1}, w2.Tail())
	})

	t.Run("rotates_on_byte_budget_without_splitting_records", func(t *testing.T) {
		root := t.TempDir()
		w, err := OpenWalWriter(root, db, br, 32)
		require.NoError(t, err)
		// 4+16 bytes per record: the second one must rotate.
		require.NoError(t, w.WriteRecord(make([]byte, 16)))
		require.NoError(t, w.WriteRecord(make([]byte, 16)))
		require.NoError(t, w.Close())

		tails, err := listWalTails(root, db, br)
		require.NoError(t, err)
		require.Len(t, tails, 2)
		assert.Equal(t, storage.WalTail{Epoch: 0, Seq: 0}, tails[0])
		assert.Equal(t, storage.WalTail{Epoch: 0, Seq: 1}, tails[1])

		backend := New()
		recs, err := backend.ReadWalSegment(root, db, br, tails[1])
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Len(t, recs[0], 16)
	})

	t.Run("torn_tail_is_storage_io", func(t *testing.T) {
		root := t.TempDir()
		w, err := OpenWalWriter(root, db, br, 0)
		require.NoError(t, err)
		require.NoError(t, w.WriteRecord([]byte("intact record")))
		require.NoError(t, w.Close())

		path := filepath.Join(walDir(root, db, br), walFilename(0, 0))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		// Cut into the payload.
		require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

		_, err = readWalRecords(path)
		assert.ErrorIs(t, err, graph.ErrStorageIo)

		// Cut into the length prefix of a second record.
		require.NoError(t, os.WriteFile(path, append(append([]byte{}, data...), 0x05, 0x00), 0o644))
		_, err = readWalRecords(path)
		assert.ErrorIs(t, err, graph.ErrStorageIo)
	})

	t.Run("missing_wal_dir_lists_empty", func(t *testing.T) {
		tails, err := listWalTails(t.TempDir(), db, br)
		require.NoError(t, err)
		assert.Empty(t, tails)
	})
}

func TestSegments(t *testing.T) {
	db, _ := testNames(t)
	backend := New()

	t.Run("write_read_round_trip", func(t *testing.T) {
		root := t.TempDir()
		payload := []byte(`{"count":1,"nodes":[{"id":1}]}`)
		require.NoError(t, backend.WriteSegment(root, db, "nodes", payload, 1, 0))

		data, nodeCount, edgeCount, err := backend.ReadSegment(root, db, "nodes")
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		assert.Equal(t, uint64(1), nodeCount)
		assert.Equal(t, uint64(0), edgeCount)
	})

	t.Run("sharded_under_two_char_prefix", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, backend.WriteSegment(root, db, "nodes", []byte("x"), 0, 0))
		_, err := os.Stat(filepath.Join(root, "testdb", "segments", "no", "nodes.seg"))
		assert.NoError(t, err)
	})

	t.Run("absent_segment_is_not_found", func(t *testing.T) {
		_, _, _, err := backend.ReadSegment(t.TempDir(), db, "nodes")
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})

	t.Run("payload_bit_flip_is_storage_io", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, backend.WriteSegment(root, db, "nodes", []byte("payload"), 0, 0))

		path := filepath.Join(root, "testdb", "segments", "no", "nodes.seg")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[storage.SegmentHeaderSize] ^= 0x01
		require.NoError(t, os.WriteFile(path, data, 0o644))

		_, _, _, err = backend.ReadSegment(root, db, "nodes")
		assert.ErrorIs(t, err, graph.ErrStorageIo)
	})
}

func TestManifests(t *testing.T) {
	db, br := testNames(t)
	backend := New()

	publish := func(t *testing.T, root string, ts graph.Timestamp) {
		t.Helper()
		require.NoError(t, backend.WriteManifest(root, db, br, &storage.Manifest{
			Branch:    br.String(),
			VersionTS: ts,
		}))
	}

	t.Run("timestamps_list_ascending", func(t *testing.T) {
		root := t.TempDir()
		for _, ts := range []graph.Timestamp{300, 100, 200} {
			publish(t, root, ts)
		}
		tss, err := backend.ListSnapshotTimestamps(root, db, br)
		require.NoError(t, err)
		assert.Equal(t, []graph.Timestamp{100, 200, 300}, tss)
	})

	t.Run("latest_returns_maximum", func(t *testing.T) {
		root := t.TempDir()
		for _, ts := range []graph.Timestamp{100, 300, 200} {
			publish(t, root, ts)
		}
		latest, err := backend.LatestManifest(root, db, br)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, graph.Timestamp(300), latest.VersionTS)
	})

	t.Run("pitr_selects_greatest_not_after", func(t *testing.T) {
		root := t.TempDir()
		for _, ts := range []graph.Timestamp{100, 200, 300} {
			publish(t, root, ts)
		}

		m, err := backend.PITRManifest(root, db, br, 250)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, graph.Timestamp(200), m.VersionTS)

		m, err = backend.PITRManifest(root, db, br, 300)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, graph.Timestamp(300), m.VersionTS)

		m, err = backend.PITRManifest(root, db, br, 50)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("missing_branch_is_empty_not_error", func(t *testing.T) {
		tss, err := backend.ListSnapshotTimestamps(t.TempDir(), db, br)
		require.NoError(t, err)
		assert.Empty(t, tss)

		latest, err := backend.LatestManifest(t.TempDir(), db, br)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("publish_leaves_no_temp_files", func(t *testing.T) {
		root := t.TempDir()
		publish(t, root, 123)

		entries, err := os.ReadDir(filepath.Join(root, "testdb", "branches", "main"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
		}
	})

	t.Run("read_manifest_by_exact_timestamp", func(t *testing.T) {
		root := t.TempDir()
		publish(t, root, 777)

		m, err := backend.ReadManifest(root, db, br, 777)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, graph.Timestamp(777), m.VersionTS)

		m, err = backend.ReadManifest(root, db, br, 778)
		require.NoError(t, err)
		assert.Nil(t, m)
	})
}

func TestBackendOperations(t *testing.T) {
	db, br := testNames(t)
	backend := New()

	t.Run("snapshot_then_commit_chain", func(t *testing.T) {
		root := t.TempDir()

		ts1, err := backend.Snapshot(root, db, br)
		require.NoError(t, err)

		ts2, err := backend.CommitTx(root, db, br, [][]byte{[]byte("rec")})
		require.NoError(t, err)
		assert.Greater(t, ts2, ts1)

		latest, err := backend.LatestManifest(root, db, br)
		require.NoError(t, err)
		require.NotNil(t, latest.WalTail)

		records, err := backend.ReadWalSegment(root, db, br, *latest.WalTail)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "rec", string(records[0]))
	})

	t.Run("version_ts_strictly_ascends_under_rapid_commits", func(t *testing.T) {
		root := t.TempDir()
		var last graph.Timestamp
		for i := 0; i < 5; i++ {
			ts, err := backend.Snapshot(root, db, br)
			require.NoError(t, err)
			assert.Greater(t, ts, last)
			last = ts
		}
	})

	t.Run("create_branch_from_latest", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, backend.WriteManifest(root, db, br, &storage.Manifest{
			Branch:    "main",
			VersionTS: 100,
			Segments:  []storage.SegmentRef{{ID: "nodes"}},
			WalTail:   &storage.WalTail{Epoch: 0, Seq: 2},
		}))

		feature, err := graph.NewBranchName("feature")
		require.NoError(t, err)
		require.NoError(t, backend.CreateBranch(root, db, br, feature, nil))

		m, err := backend.LatestManifest(root, db, feature)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "feature", m.Branch)
		require.Len(t, m.Segments, 1)
		assert.Equal(t, "nodes", m.Segments[0].ID)
		require.NotNil(t, m.WalTail)
		assert.Equal(t, uint64(2), m.WalTail.Seq)
	})

	t.Run("create_branch_at_pitr_timestamp", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, backend.WriteManifest(root, db, br, &storage.Manifest{
			Branch: "main", VersionTS: 100, Segments: []storage.SegmentRef{{ID: "old"}},
		}))
		require.NoError(t, backend.WriteManifest(root, db, br, &storage.Manifest{
			Branch: "main", VersionTS: 200, Segments: []storage.SegmentRef{{ID: "new"}},
		}))

		feature, err := graph.NewBranchName("feature")
		require.NoError(t, err)
		at := graph.Timestamp(150)
		require.NoError(t, backend.CreateBranch(root, db, br, feature, &at))

		m, err := backend.LatestManifest(root, db, feature)
		require.NoError(t, err)
		require.NotNil(t, m)
		require.Len(t, m.Segments, 1)
		assert.Equal(t, "old", m.Segments[0].ID)
	})

	t.Run("list_branches_requires_a_manifest", func(t *testing.T) {
		root := t.TempDir()
		// A bare directory without manifests is not a branch yet.
		require.NoError(t, os.MkdirAll(filepath.Join(root, "testdb", "branches", "empty"), 0o755))
		require.NoError(t, backend.WriteManifest(root, db, br, &storage.Manifest{Branch: "main", VersionTS: 1}))

		branches, err := backend.ListBranches(root, db)
		require.NoError(t, err)
		require.Len(t, branches, 1)
		assert.Equal(t, "main", branches[0].String())
	})
}
