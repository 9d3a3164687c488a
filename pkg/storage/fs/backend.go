package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
)

// Backend is the filesystem implementation of every storage port.
//
// One Backend value is stateless and safe for concurrent use; all state
// lives on disk. Compose it via storage.NewCompositeBackend or use it
// directly as a storage.Backend.
type Backend struct {
	// WalSegmentBytes is the per-segment WAL byte budget; zero means
	// DefaultWalSegmentBytes.
	WalSegmentBytes uint64

	Log zerolog.Logger
}

// New creates a filesystem backend with default settings.
func New() *Backend {
	return &Backend{Log: zerolog.Nop()}
}

func (b *Backend) walSegmentBytes() uint64 {
	if b.WalSegmentBytes == 0 {
		return DefaultWalSegmentBytes
	}
	return b.WalSegmentBytes
}

// ListBranches returns the branches of db that own at least one manifest,
// sorted by name.
func (b *Backend) ListBranches(root string, db graph.DatabaseName) ([]graph.BranchName, error) {
	dir := branchesDir(root, db)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read dir %s: %v", graph.ErrStorageIo, dir, err)
	}
	var out []graph.BranchName
	for _, e := range entries {
		br, err := graph.NewBranchName(e.Name())
		if err != nil {
			continue
		}
		tss, err := listManifestTimestamps(root, db, br)
		if err != nil {
			return nil, err
		}
		if len(tss) > 0 {
			out = append(out, br)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// CreateBranch forks newBranch from the source branch's latest manifest, or
// from its PITR manifest when at is given. The forked manifest is rebranded
// and stamped as the first manifest of the new branch.
func (b *Backend) CreateBranch(root string, db graph.DatabaseName, from, newBranch graph.BranchName, at *graph.Timestamp) error {
	var base *storage.Manifest
	var err error
	if at != nil {
		base, err = pitrManifest(root, db, from, *at)
	} else {
		base, err = latestManifest(root, db, from)
	}
	if err != nil {
		return err
	}
	m := &storage.Manifest{
		Branch:    newBranch.String(),
		VersionTS: graph.Timestamp(time.Now().UnixMilli()),
		Segments:  segmentRefsOf(base),
		WalTail:   walTailOf(base),
	}
	if err := writeManifest(root, db, newBranch, m); err != nil {
		return err
	}
	b.Log.Debug().
		Str("db", db.String()).
		Str("from", from.String()).
		Str("branch", newBranch.String()).
		Msg("created branch")
	return nil
}

// ListSnapshotTimestamps returns the published timestamps of a branch in
// ascending order.
func (b *Backend) ListSnapshotTimestamps(root string, db graph.DatabaseName, branch graph.BranchName) ([]graph.Timestamp, error) {
	return listManifestTimestamps(root, db, branch)
}

// LatestManifest returns the branch's newest manifest, or nil.
func (b *Backend) LatestManifest(root string, db graph.DatabaseName, branch graph.BranchName) (*storage.Manifest, error) {
	return latestManifest(root, db, branch)
}

// PITRManifest returns the newest manifest not after at, or nil.
func (b *Backend) PITRManifest(root string, db graph.DatabaseName, branch graph.BranchName, at graph.Timestamp) (*storage.Manifest, error) {
	return pitrManifest(root, db, branch, at)
}

// ReadManifest returns the manifest published exactly at ts, or nil.
func (b *Backend) ReadManifest(root string, db graph.DatabaseName, branch graph.BranchName, ts graph.Timestamp) (*storage.Manifest, error) {
	path := manifestPath(root, db, branch, ts)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: stat %s: %v", graph.ErrStorageIo, path, err)
	}
	return readManifest(path)
}

// WriteManifest publishes a manifest atomically.
func (b *Backend) WriteManifest(root string, db graph.DatabaseName, branch graph.BranchName, m *storage.Manifest) error {
	return writeManifest(root, db, branch, m)
}

// WriteSegment frames and writes a segment file under its shard directory.
func (b *Backend) WriteSegment(root string, db graph.DatabaseName, id storage.SegmentID, data []byte, nodeCount, edgeCount uint64) error {
	return writeSegmentFile(root, db, id, storage.NewSegment(nodeCount, edgeCount, data))
}

// ReadSegment reads a segment file and verifies its checksum.
func (b *Backend) ReadSegment(root string, db graph.DatabaseName, id storage.SegmentID) ([]byte, uint64, uint64, error) {
	seg, err := readSegmentFile(root, db, id)
	if err != nil {
		return nil, 0, 0, err
	}
	return seg.Data, seg.Header.NodeCount, seg.Header.EdgeCount, nil
}

// AppendRecords appends records to the branch WAL and returns the tail that
// now holds the newest record.
func (b *Backend) AppendRecords(root string, db graph.DatabaseName, branch graph.BranchName, records [][]byte) (storage.WalTail, error) {
	w, err := OpenWalWriter(root, db, branch, b.walSegmentBytes())
	if err != nil {
		return storage.WalTail{}, err
	}
	for _, rec := range records {
		if err := w.WriteRecord(rec); err != nil {
			w.file.Close()
			return storage.WalTail{}, err
		}
	}
	tail := w.Tail()
	if err := w.Close(); err != nil {
		return storage.WalTail{}, err
	}
	return tail, nil
}

// ListWalSegments returns the branch's WAL segment identities in order.
func (b *Backend) ListWalSegments(root string, db graph.DatabaseName, branch graph.BranchName) ([]storage.WalTail, error) {
	return listWalTails(root, db, branch)
}

// ReadWalSegment returns the ordered records of one WAL segment. An unknown
// tail yields an empty record list.
func (b *Backend) ReadWalSegment(root string, db graph.DatabaseName, branch graph.BranchName, tail storage.WalTail) ([][]byte, error) {
	tails, err := listWalTails(root, db, branch)
	if err != nil {
		return nil, err
	}
	for _, t := range tails {
		if t == tail {
			path := filepath.Join(walDir(root, db, branch), walFilename(tail.Epoch, tail.Seq))
			return readWalRecords(path)
		}
	}
	return nil, nil
}

// Snapshot publishes a manifest with the latest manifest's segments and
// preserved WAL tail, stamped now. A stamp that does not exceed the previous
// version is bumped one past it.
func (b *Backend) Snapshot(root string, db graph.DatabaseName, branch graph.BranchName) (graph.Timestamp, error) {
	prev, err := latestManifest(root, db, branch)
	if err != nil {
		return 0, err
	}
	return b.publish(root, db, branch, prev, walTailOf(prev))
}

// CommitTx appends records to the WAL then publishes a manifest whose WAL
// tail is the segment just written.
func (b *Backend) CommitTx(root string, db graph.DatabaseName, branch graph.BranchName, records [][]byte) (graph.Timestamp, error) {
	tail, err := b.AppendRecords(root, db, branch, records)
	if err != nil {
		return 0, err
	}
	prev, err := latestManifest(root, db, branch)
	if err != nil {
		return 0, err
	}
	return b.publish(root, db, branch, prev, &tail)
}

func (b *Backend) publish(root string, db graph.DatabaseName, branch graph.BranchName, prev *storage.Manifest, tail *storage.WalTail) (graph.Timestamp, error) {
	ts := graph.Timestamp(time.Now().UnixMilli())
	if prev != nil && ts <= prev.VersionTS {
		ts = prev.VersionTS + 1
	}
	m := &storage.Manifest{
		Branch:    branch.String(),
		VersionTS: ts,
		Segments:  segmentRefsOf(prev),
		WalTail:   tail,
	}
	if err := writeManifest(root, db, branch, m); err != nil {
		return 0, err
	}
	return ts, nil
}

func segmentRefsOf(m *storage.Manifest) []storage.SegmentRef {
	if m == nil {
		return nil
	}
	return m.Segments
}

func walTailOf(m *storage.Manifest) *storage.WalTail {
	if m == nil {
		return nil
	}
	return m.WalTail
}

var (
	_ storage.Catalog       = (*Backend)(nil)
	_ storage.ManifestStore = (*Backend)(nil)
	_ storage.SegmentStore  = (*Backend)(nil)
	_ storage.WalSink       = (*Backend)(nil)
	_ storage.WalSource     = (*Backend)(nil)
	_ storage.Backend       = (*Backend)(nil)
)
