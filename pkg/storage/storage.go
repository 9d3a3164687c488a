// Package storage defines UrdDB's versioned storage model and its ports.
//
// The on-disk state of a branch is described by a chain of immutable
// manifests. Each manifest names the segments and the WAL tail that make up
// the visible state at one version; its timestamp is both identity and
// ordering key. Five orthogonal ports abstract the pieces:
//
//   - Catalog: branch enumeration and creation
//   - ManifestStore: list / latest / PITR / read / write manifests
//   - SegmentStore: read / write framed segment payloads
//   - WalSink: append records, returning the new tail
//   - WalSource: enumerate WAL segments and read records by tail
//
// CompositeBackend aggregates one implementation of each port into a full
// Backend providing snapshot, commit, and branching. Adapters implement the
// ports independently: pkg/storage/fs is the local filesystem adapter,
// pkg/storage/badgerstore keeps the same state in a Badger KV.
package storage

import (
	"strconv"

	"github.com/orneryd/urddb/pkg/graph"
)

// SegmentID is the short logical name of a segment ("nodes", "edges").
// A content-addressed naming scheme is anticipated but not required.
type SegmentID string

// WalTail identifies one WAL file of a branch. Tails order by (Epoch, Seq).
type WalTail struct {
	Epoch uint64 `json:"epoch"`
	Seq   uint64 `json:"seq"`
}

// Range is the transaction id span covered by a segment.
type Range struct {
	TxMin uint64 `json:"tx_min"`
	TxMax uint64 `json:"tx_max"`
}

// SegmentRef names a segment inside a manifest, with an optional range.
type SegmentRef struct {
	ID    string `json:"id"`
	Range *Range `json:"range,omitempty"`
}

// Manifest is one published snapshot descriptor of a branch.
//
// VersionTS is an epoch-millisecond timestamp, strictly greater than any
// previously published manifest of the branch. Manifests are written once
// and never edited; they are listed, selected, or superseded.
type Manifest struct {
	Branch    string          `json:"branch"`
	VersionTS graph.Timestamp `json:"version_ts"`
	Segments  []SegmentRef    `json:"segments"`
	WalTail   *WalTail        `json:"wal_tail,omitempty"`
}

// Filename returns the manifest's on-disk file name.
func (m *Manifest) Filename() string {
	return manifestFilename(m.VersionTS)
}

// Catalog enumerates and creates branches.
type Catalog interface {
	// ListBranches returns the branches of a database that own at least one
	// manifest, sorted by name. A missing database yields an empty list.
	ListBranches(root string, db graph.DatabaseName) ([]graph.BranchName, error)

	// CreateBranch forks newBranch from the source branch's latest manifest,
	// or from the PITR manifest at *at when given.
	CreateBranch(root string, db graph.DatabaseName, from, newBranch graph.BranchName, at *graph.Timestamp) error
}

// ManifestStore reads and writes manifest metadata for a branch.
type ManifestStore interface {
	// ListSnapshotTimestamps returns the published version timestamps in
	// ascending order. A missing branch yields an empty list.
	ListSnapshotTimestamps(root string, db graph.DatabaseName, branch graph.BranchName) ([]graph.Timestamp, error)

	// LatestManifest returns the manifest with the greatest VersionTS,
	// or nil when the branch has none.
	LatestManifest(root string, db graph.DatabaseName, branch graph.BranchName) (*Manifest, error)

	// PITRManifest returns the manifest with the greatest VersionTS not
	// exceeding at, or nil when every manifest is later.
	PITRManifest(root string, db graph.DatabaseName, branch graph.BranchName, at graph.Timestamp) (*Manifest, error)

	// ReadManifest returns the manifest published exactly at ts, or nil.
	ReadManifest(root string, db graph.DatabaseName, branch graph.BranchName, ts graph.Timestamp) (*Manifest, error)

	// WriteManifest publishes a manifest atomically.
	WriteManifest(root string, db graph.DatabaseName, branch graph.BranchName, m *Manifest) error
}

// SegmentStore reads and writes framed segment payloads.
type SegmentStore interface {
	// WriteSegment stores a payload under (db, id) with its counts.
	WriteSegment(root string, db graph.DatabaseName, id SegmentID, data []byte, nodeCount, edgeCount uint64) error

	// ReadSegment returns the payload and counts stored under (db, id).
	// An absent segment is graph.ErrNotFound; callers bootstrapping a store
	// treat that as empty initial state.
	ReadSegment(root string, db graph.DatabaseName, id SegmentID) (data []byte, nodeCount, edgeCount uint64, err error)
}

// WalSink appends records to a branch WAL.
type WalSink interface {
	// AppendRecords appends the records, never splitting one across files,
	// and returns the tail that now holds the branch's newest record.
	AppendRecords(root string, db graph.DatabaseName, branch graph.BranchName, records [][]byte) (WalTail, error)
}

// WalSource enumerates and reads branch WAL segments.
type WalSource interface {
	// ListWalSegments returns the WAL tails of a branch in ascending order.
	ListWalSegments(root string, db graph.DatabaseName, branch graph.BranchName) ([]WalTail, error)

	// ReadWalSegment returns the ordered records of one WAL segment.
	ReadWalSegment(root string, db graph.DatabaseName, branch graph.BranchName, tail WalTail) ([][]byte, error)
}

// Backend is the high-level storage surface composed from the ports.
type Backend interface {
	ListBranches(root string, db graph.DatabaseName) ([]graph.BranchName, error)
	CreateBranch(root string, db graph.DatabaseName, from, newBranch graph.BranchName, at *graph.Timestamp) error

	// Snapshot publishes a new manifest carrying the same segments and WAL
	// tail as the branch's latest, stamped now. Returns the new timestamp.
	Snapshot(root string, db graph.DatabaseName, branch graph.BranchName) (graph.Timestamp, error)

	// CommitTx appends records to the WAL (when a sink is present) and
	// publishes a manifest whose WAL tail is the new tail.
	CommitTx(root string, db graph.DatabaseName, branch graph.BranchName, records [][]byte) (graph.Timestamp, error)

	ListSnapshotTimestamps(root string, db graph.DatabaseName, branch graph.BranchName) ([]graph.Timestamp, error)
}

func manifestFilename(ts graph.Timestamp) string {
	return "manifest-" + strconv.FormatUint(ts, 10) + ".json"
}
