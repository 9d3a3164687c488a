package storage

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/urddb/pkg/graph"
)

// CompositeBackend aggregates one implementation of each storage port into a
// full Backend. The WAL ports are optional: without a sink, CommitTx
// degrades to a plain snapshot that preserves the previous tail.
type CompositeBackend struct {
	Catalog   Catalog
	Manifests ManifestStore
	Segments  SegmentStore
	Sink      WalSink   // optional
	Source    WalSource // optional

	Log zerolog.Logger

	// now is swappable for tests; defaults to wall-clock epoch millis.
	now func() graph.Timestamp
}

// NewCompositeBackend builds a backend from the given ports.
// sink and source may be nil.
func NewCompositeBackend(catalog Catalog, manifests ManifestStore, segments SegmentStore, sink WalSink, source WalSource) *CompositeBackend {
	return &CompositeBackend{
		Catalog:   catalog,
		Manifests: manifests,
		Segments:  segments,
		Sink:      sink,
		Source:    source,
		Log:       zerolog.Nop(),
		now:       NowMillis,
	}
}

// NowMillis returns the current wall-clock time as epoch milliseconds, the
// timestamp domain of manifest versions.
func NowMillis() graph.Timestamp {
	return graph.Timestamp(time.Now().UnixMilli())
}

// ListBranches delegates to the catalog port.
func (c *CompositeBackend) ListBranches(root string, db graph.DatabaseName) ([]graph.BranchName, error) {
	return c.Catalog.ListBranches(root, db)
}

// CreateBranch delegates to the catalog port.
func (c *CompositeBackend) CreateBranch(root string, db graph.DatabaseName, from, newBranch graph.BranchName, at *graph.Timestamp) error {
	return c.Catalog.CreateBranch(root, db, from, newBranch, at)
}

// Snapshot publishes a new manifest with the latest manifest's segments and
// preserved WAL tail, stamped with the current time. When the fresh stamp
// does not exceed the previous version (same-millisecond snapshots), it is
// re-stamped one past it.
func (c *CompositeBackend) Snapshot(root string, db graph.DatabaseName, branch graph.BranchName) (graph.Timestamp, error) {
	prev, err := c.Manifests.LatestManifest(root, db, branch)
	if err != nil {
		return 0, err
	}
	return c.publish(root, db, branch, prev, walTailOf(prev))
}

// CommitTx appends records through the WAL sink when present, then publishes
// a manifest whose WAL tail is the new tail. Without a sink the previous
// tail carries over.
func (c *CompositeBackend) CommitTx(root string, db graph.DatabaseName, branch graph.BranchName, records [][]byte) (graph.Timestamp, error) {
	var tail *WalTail
	if c.Sink != nil {
		t, err := c.Sink.AppendRecords(root, db, branch, records)
		if err != nil {
			return 0, fmt.Errorf("append wal records: %w", err)
		}
		tail = &t
	}

	prev, err := c.Manifests.LatestManifest(root, db, branch)
	if err != nil {
		return 0, err
	}
	if tail == nil {
		tail = walTailOf(prev)
	}
	ts, err := c.publish(root, db, branch, prev, tail)
	if err != nil {
		return 0, err
	}
	c.Log.Debug().
		Str("db", db.String()).
		Str("branch", branch.String()).
		Uint64("version_ts", ts).
		Int("records", len(records)).
		Msg("committed transaction")
	return ts, nil
}

// ListSnapshotTimestamps delegates to the manifest port.
func (c *CompositeBackend) ListSnapshotTimestamps(root string, db graph.DatabaseName, branch graph.BranchName) ([]graph.Timestamp, error) {
	return c.Manifests.ListSnapshotTimestamps(root, db, branch)
}

func (c *CompositeBackend) publish(root string, db graph.DatabaseName, branch graph.BranchName, prev *Manifest, tail *WalTail) (graph.Timestamp, error) {
	ts := c.now()
	if prev != nil && ts <= prev.VersionTS {
		ts = prev.VersionTS + 1
	}
	m := &Manifest{
		Branch:    branch.String(),
		VersionTS: ts,
		Segments:  segmentsOf(prev),
		WalTail:   tail,
	}
	if err := c.Manifests.WriteManifest(root, db, branch, m); err != nil {
		return 0, err
	}
	return ts, nil
}

func segmentsOf(m *Manifest) []SegmentRef {
	if m == nil {
		return nil
	}
	return m.Segments
}

func walTailOf(m *Manifest) *WalTail {
	if m == nil {
		return nil
	}
	return m.WalTail
}

var _ Backend = (*CompositeBackend)(nil)
