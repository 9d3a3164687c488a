// Package badgerstore keeps UrdDB's versioned storage state in a BadgerDB
// key-value store instead of a directory tree.
//
// It implements the same five ports as the filesystem adapter, so an engine
// can swap a directory of manifests, segments, and WAL files for a single
// Badger database without touching any other layer. Segments keep the framed
// wire format (header + checksum + payload) as values, WAL segments keep the
// length-prefixed record framing, and manifests keep their JSON form.
//
// Key Structure:
//   - manifest/<db>/<branch>/<ts %020d> -> JSON(Manifest)
//   - segment/<db>/<segment_id>         -> framed segment bytes
//   - wal/<db>/<branch>/<epoch %020d>-<seq %020d> -> framed records
//
// Timestamps and WAL identities zero-pad to 20 digits so Badger's
// lexicographic key order is their numeric order.
//
// Example:
//
//	store, err := badgerstore.Open("/path/to/kv", false)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	backend := storage.NewCompositeBackend(store, store, store, store, store)
package badgerstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
)

// Store implements every storage port over a Badger KV.
//
// The root path argument of the port methods is ignored: the KV itself is
// the root. One Store is safe for concurrent use; Badger transactions
// provide the required atomicity (a manifest publish is a single Set).
type Store struct {
	db  *badger.DB
	Log zerolog.Logger

	nowMillis func() graph.Timestamp
}

// Open opens (or creates) a Badger-backed store at dir. With inMemory set,
// nothing touches disk; useful for tests.
func Open(dir string, inMemory bool) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger at %s: %v", graph.ErrStorageIo, dir, err)
	}
	return &Store{db: db, Log: zerolog.Nop(), nowMillis: storage.NowMillis}, nil
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

func manifestKey(db graph.DatabaseName, branch graph.BranchName, ts graph.Timestamp) []byte {
	return []byte(fmt.Sprintf("manifest/%s/%s/%020d", db, branch, ts))
}

func manifestPrefix(db graph.DatabaseName, branch graph.BranchName) []byte {
	return []byte(fmt.Sprintf("manifest/%s/%s/", db, branch))
}

func segmentKey(db graph.DatabaseName, id storage.SegmentID) []byte {
	return []byte(fmt.Sprintf("segment/%s/%s", db, id))
}

func walKey(db graph.DatabaseName, branch graph.BranchName, tail storage.WalTail) []byte {
	return []byte(fmt.Sprintf("wal/%s/%s/%020d-%020d", db, branch, tail.Epoch, tail.Seq))
}

func walPrefix(db graph.DatabaseName, branch graph.BranchName) []byte {
	return []byte(fmt.Sprintf("wal/%s/%s/", db, branch))
}

// ListBranches returns the branches of db that own at least one manifest,
// sorted by name.
func (s *Store) ListBranches(root string, db graph.DatabaseName) ([]graph.BranchName, error) {
	seen := make(map[string]bool)
	prefix := []byte("manifest/" + db.String() + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			if name, _, ok := strings.Cut(rest, "/"); ok {
				seen[name] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list branches: %v", graph.ErrStorageIo, err)
	}
	var out []graph.BranchName
	for name := range seen {
		br, err := graph.NewBranchName(name)
		if err != nil {
			continue
		}
		out = append(out, br)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// CreateBranch forks newBranch from the source branch's latest (or PITR)
// manifest, rebranded and stamped as the first manifest of the new branch.
func (s *Store) CreateBranch(root string, db graph.DatabaseName, from, newBranch graph.BranchName, at *graph.Timestamp) error {
	var base *storage.Manifest
	var err error
	if at != nil {
		base, err = s.PITRManifest(root, db, from, *at)
	} else {
		base, err = s.LatestManifest(root, db, from)
	}
	if err != nil {
		return err
	}
	m := &storage.Manifest{
		Branch:    newBranch.String(),
		VersionTS: s.nowMillis(),
	}
	if base != nil {
		m.Segments = base.Segments
		m.WalTail = base.WalTail
	}
	return s.WriteManifest(root, db, newBranch, m)
}

// ListSnapshotTimestamps returns the published timestamps in ascending order.
func (s *Store) ListSnapshotTimestamps(root string, db graph.DatabaseName, branch graph.BranchName) ([]graph.Timestamp, error) {
	var out []graph.Timestamp
	prefix := manifestPrefix(db, branch)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			ts, err := strconv.ParseUint(rest, 10, 64)
			if err != nil {
				continue
			}
			out = append(out, ts)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshot timestamps: %v", graph.ErrStorageIo, err)
	}
	return out, nil
}

// LatestManifest returns the manifest with the greatest timestamp, or nil.
func (s *Store) LatestManifest(root string, db graph.DatabaseName, branch graph.BranchName) (*storage.Manifest, error) {
	tss, err := s.ListSnapshotTimestamps(root, db, branch)
	if err != nil || len(tss) == 0 {
		return nil, err
	}
	return s.ReadManifest(root, db, branch, tss[len(tss)-1])
}

// PITRManifest returns the newest manifest not after at, or nil.
func (s *Store) PITRManifest(root string, db graph.DatabaseName, branch graph.BranchName, at graph.Timestamp) (*storage.Manifest, error) {
	tss, err := s.ListSnapshotTimestamps(root, db, branch)
	if err != nil {
		return nil, err
	}
	var best *graph.Timestamp
	for i := range tss {
		if tss[i] <= at {
			best = &tss[i]
		}
	}
	if best == nil {
		return nil, nil
	}
	return s.ReadManifest(root, db, branch, *best)
}

// ReadManifest returns the manifest published exactly at ts, or nil.
func (s *Store) ReadManifest(root string, db graph.DatabaseName, branch graph.BranchName, ts graph.Timestamp) (*storage.Manifest, error) {
	var m *storage.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(db, branch, ts))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded storage.Manifest
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			m = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", graph.ErrStorageIo, err)
	}
	return m, nil
}

// WriteManifest publishes a manifest. The single Set is atomic under
// Badger's transaction guarantees.
func (s *Store) WriteManifest(root string, db graph.DatabaseName, branch graph.BranchName, m *storage.Manifest) error {
	if m.Segments == nil {
		m.Segments = []storage.SegmentRef{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: serialize manifest: %v", graph.ErrStorageIo, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(db, branch, m.VersionTS), data)
	})
	if err != nil {
		return fmt.Errorf("%w: write manifest: %v", graph.ErrStorageIo, err)
	}
	return nil
}

// WriteSegment stores the framed segment bytes under (db, id).
func (s *Store) WriteSegment(root string, db graph.DatabaseName, id storage.SegmentID, data []byte, nodeCount, edgeCount uint64) error {
	seg := storage.NewSegment(nodeCount, edgeCount, data)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(segmentKey(db, id), seg.Encode())
	})
	if err != nil {
		return fmt.Errorf("%w: write segment %s: %v", graph.ErrStorageIo, id, err)
	}
	return nil
}

// ReadSegment loads and verifies the framed segment stored under (db, id).
// An absent key is graph.ErrNotFound.
func (s *Store) ReadSegment(root string, db graph.DatabaseName, id storage.SegmentID) ([]byte, uint64, uint64, error) {
	var framed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(segmentKey(db, id))
		if err != nil {
			return err
		}
		framed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, 0, 0, fmt.Errorf("%w: segment %s", graph.ErrNotFound, id)
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: read segment %s: %v", graph.ErrStorageIo, id, err)
	}
	seg, err := storage.DecodeSegment(framed)
	if err != nil {
		return nil, 0, 0, err
	}
	return seg.Data, seg.Header.NodeCount, seg.Header.EdgeCount, nil
}

// AppendRecords writes the records, framed, as the branch's next WAL
// segment (epoch preserved, seq incremented; (0, 0) for an empty branch).
func (s *Store) AppendRecords(root string, db graph.DatabaseName, branch graph.BranchName, records [][]byte) (storage.WalTail, error) {
	tails, err := s.ListWalSegments(root, db, branch)
	if err != nil {
		return storage.WalTail{}, err
	}
	next := storage.WalTail{}
	if len(tails) > 0 {
		last := tails[len(tails)-1]
		next = storage.WalTail{Epoch: last.Epoch, Seq: last.Seq + 1}
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(walKey(db, branch, next), storage.EncodeRecordFrames(records))
	})
	if err != nil {
		return storage.WalTail{}, fmt.Errorf("%w: append wal records: %v", graph.ErrStorageIo, err)
	}
	return next, nil
}

// ListWalSegments returns the branch's WAL identities in ascending order.
func (s *Store) ListWalSegments(root string, db graph.DatabaseName, branch graph.BranchName) ([]storage.WalTail, error) {
	var out []storage.WalTail
	prefix := walPrefix(db, branch)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			epochStr, seqStr, ok := strings.Cut(rest, "-")
			if !ok {
				continue
			}
			epoch, err1 := strconv.ParseUint(epochStr, 10, 64)
			seq, err2 := strconv.ParseUint(seqStr, 10, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			out = append(out, storage.WalTail{Epoch: epoch, Seq: seq})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list wal segments: %v", graph.ErrStorageIo, err)
	}
	return out, nil
}

// ReadWalSegment returns the ordered records of one WAL segment. An unknown
// tail yields an empty record list.
func (s *Store) ReadWalSegment(root string, db graph.DatabaseName, branch graph.BranchName, tail storage.WalTail) ([][]byte, error) {
	var framed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(walKey(db, branch, tail))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		framed, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read wal segment: %v", graph.ErrStorageIo, err)
	}
	if framed == nil {
		return nil, nil
	}
	return storage.DecodeRecordFrames(framed)
}

var (
	_ storage.Catalog       = (*Store)(nil)
	_ storage.ManifestStore = (*Store)(nil)
	_ storage.SegmentStore  = (*Store)(nil)
	_ storage.WalSink       = (*Store)(nil)
	_ storage.WalSource     = (*Store)(nil)
)
