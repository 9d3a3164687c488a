// Package urddb provides the embedded UrdDB engine API.
//
// UrdDB is a branch-versioned graph database: labelled property nodes and
// typed directed edges, queried through a GQL/Cypher-style language and
// persisted through a write-ahead log, immutable segments, and a per-branch
// manifest chain with point-in-time recovery.
//
// Architecture:
//   - graph: domain types and the in-memory indexed store
//   - gql: lexer -> parser -> planner -> executor pipeline
//   - storage: versioned storage ports; fs and badgerstore adapters
//   - urddb (this package): lifecycle, writer locks, dispatch
//
// Example Usage:
//
//	engine, err := urddb.Open("./data", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	db, _ := engine.OpenDatabase("app")
//	branch, _ := engine.OpenBranch(db, "main")
//
//	store := graph.NewInMemoryGraphStore()
//	_, err = engine.ExecuteOnStore(store,
//		"CREATE (:Person {name: 'Alice'})", nil)
//	res, err := engine.ExecuteOnStore(store,
//		"MATCH (p:Person) RETURN p.name", nil)
//
//	// Persist and version
//	engine.FlushBranch(db, store)
//	ts, _ := engine.Snapshot(branch)
//	engine.CreateBranch(db, "main", "experiment", &ts)
//
// ELI12:
//
// Think of each branch like a save file in a video game. Every snapshot is
// a save point: you can always go back to an earlier one (that's PITR), and
// creating a branch is copying a save file to try something risky without
// losing your progress.
package urddb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/orneryd/urddb/pkg/gql"
	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
	storagefs "github.com/orneryd/urddb/pkg/storage/fs"
)

// Options configures an Engine.
type Options struct {
	// Backend supplies the storage ports. Nil means the filesystem adapter
	// rooted at the engine's data directory.
	Backend *storage.CompositeBackend

	// Logger for engine events. Zero value logs nothing.
	Logger zerolog.Logger

	// ProcessLock additionally takes an advisory file lock on the branch
	// directory around commits, serialising writers across processes.
	ProcessLock bool

	// WalSegmentBytes overrides the WAL rotation budget of the default
	// filesystem backend. Zero keeps the default.
	WalSegmentBytes uint64
}

// Engine is the embedded entrypoint. It owns the data directory, the
// per-(database, branch) writer locks, and the storage backend.
type Engine struct {
	dataDir string
	backend *storage.CompositeBackend
	log     zerolog.Logger

	mu          sync.Mutex
	writerLocks map[string]*sync.Mutex

	processLock bool
}

// DBHandle is an opaque handle to a database, created lazily on first write.
type DBHandle struct {
	name graph.DatabaseName
}

// Name returns the database name.
func (h *DBHandle) Name() graph.DatabaseName { return h.name }

// BranchHandle is an opaque handle to a branch of a database.
type BranchHandle struct {
	db   graph.DatabaseName
	name graph.BranchName
}

// Name returns the branch name.
func (h *BranchHandle) Name() graph.BranchName { return h.name }

// Open opens (or creates) an engine over the given data directory.
func Open(dataDir string, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir %s: %v", graph.ErrStorageIo, dataDir, err)
	}
	backend := opts.Backend
	if backend == nil {
		fsb := storagefs.New()
		fsb.WalSegmentBytes = opts.WalSegmentBytes
		fsb.Log = opts.Logger
		backend = storage.NewCompositeBackend(fsb, fsb, fsb, fsb, fsb)
		backend.Log = opts.Logger
	}
	return &Engine{
		dataDir:     dataDir,
		backend:     backend,
		log:         opts.Logger,
		writerLocks: make(map[string]*sync.Mutex),
		processLock: opts.ProcessLock,
	}, nil
}

// Close releases the engine. The engine holds no open files between
// operations, so closing is currently a logging point.
func (e *Engine) Close() error {
	e.log.Debug().Str("data_dir", e.dataDir).Msg("engine closed")
	return nil
}

// DataDir returns the engine data directory.
func (e *Engine) DataDir() string { return e.dataDir }

// OpenDatabase validates the name and returns a database handle. The
// database itself is created lazily on first write.
func (e *Engine) OpenDatabase(name string) (*DBHandle, error) {
	db, err := graph.NewDatabaseName(name)
	if err != nil {
		return nil, err
	}
	return &DBHandle{name: db}, nil
}

// OpenBranch validates the name and returns a branch handle. The branch
// itself is created lazily on first write.
func (e *Engine) OpenBranch(db *DBHandle, branch string) (*BranchHandle, error) {
	br, err := graph.NewBranchName(branch)
	if err != nil {
		return nil, err
	}
	return &BranchHandle{db: db.name, name: br}, nil
}

// branchWriterLock returns the in-process writer mutex for one branch.
func (e *Engine) branchWriterLock(db graph.DatabaseName, br graph.BranchName) *sync.Mutex {
	key := db.String() + "/" + br.String()
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.writerLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.writerLocks[key] = lock
	}
	return lock
}

// ListBranches lists the branches of a database that own at least one
// manifest.
func (e *Engine) ListBranches(db *DBHandle) ([]graph.BranchName, error) {
	return e.backend.ListBranches(e.dataDir, db.name)
}

// CreateBranch forks newBranch from an existing branch, at its latest
// snapshot or at the PITR timestamp when given.
func (e *Engine) CreateBranch(db *DBHandle, from, newBranch string, at *graph.Timestamp) error {
	fromBr, err := graph.NewBranchName(from)
	if err != nil {
		return err
	}
	newBr, err := graph.NewBranchName(newBranch)
	if err != nil {
		return err
	}
	return e.backend.CreateBranch(e.dataDir, db.name, fromBr, newBr, at)
}

// Snapshot publishes a snapshot on a branch and returns its timestamp.
func (e *Engine) Snapshot(branch *BranchHandle) (graph.Timestamp, error) {
	return e.backend.Snapshot(e.dataDir, branch.db, branch.name)
}

// CommitTx appends WAL records and publishes a new manifest, holding the
// branch writer lock for the duration. Returns the manifest timestamp.
func (e *Engine) CommitTx(branch *BranchHandle, records [][]byte) (graph.Timestamp, error) {
	lock := e.branchWriterLock(branch.db, branch.name)
	lock.Lock()
	defer lock.Unlock()

	if e.processLock {
		release, err := e.acquireProcessLock(branch)
		if err != nil {
			return 0, err
		}
		defer release()
	}
	return e.backend.CommitTx(e.dataDir, branch.db, branch.name, records)
}

// acquireProcessLock takes an advisory flock on the branch directory so
// writers in different processes serialise too.
func (e *Engine) acquireProcessLock(branch *BranchHandle) (func(), error) {
	dir := filepath.Join(e.dataDir, branch.db.String(), "branches", branch.name.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create branch dir %s: %v", graph.ErrStorageIo, dir, err)
	}
	fl := flock.New(filepath.Join(dir, ".writer.lock"))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("%w: branch writer lock: %v", graph.ErrConcurrency, err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			e.log.Warn().Err(err).Msg("release branch writer lock")
		}
	}, nil
}

// ListSnapshotTimestamps lists a branch's published snapshot timestamps in
// ascending order.
func (e *Engine) ListSnapshotTimestamps(db *DBHandle, branch *BranchHandle) ([]graph.Timestamp, error) {
	return e.backend.ListSnapshotTimestamps(e.dataDir, db.name, branch.name)
}

// FlushBranch writes an in-memory store to the database's node and edge
// segments.
func (e *Engine) FlushBranch(db *DBHandle, store *graph.InMemoryGraphStore) error {
	return storage.FlushGraph(e.backend.Segments, e.dataDir, db.name, store)
}

// LoadBranch rebuilds an in-memory store from the database's segments.
// A database that was never flushed loads as an empty graph.
func (e *Engine) LoadBranch(db *DBHandle) (*graph.InMemoryGraphStore, error) {
	return storage.LoadGraph(e.backend.Segments, e.dataDir, db.name)
}

// ExecuteOnStore runs a query against an in-memory store: the single path
// through parser, planner, and executor. Parameters are plain JSON-ish
// values (string, float64, bool, nested maps/slices) bound to $name
// references. A write handle is injected into the executor exactly when the
// parsed query contains a CREATE clause.
func (e *Engine) ExecuteOnStore(store *graph.InMemoryGraphStore, query string, params map[string]any) (*gql.Result, error) {
	ast, err := gql.Parse(query)
	if err != nil {
		return nil, err
	}
	plan, err := gql.Plan(ast)
	if err != nil {
		return nil, err
	}

	bound := make(map[string]graph.Value, len(params))
	for k, v := range params {
		if val, ok := graph.FromJSON(v); ok {
			bound[k] = val
		}
	}

	if ast.HasCreate() {
		exec := gql.NewExecutor(nil, bound)
		return exec.Execute(plan, store)
	}
	exec := gql.NewExecutor(store, bound)
	return exec.Execute(plan, nil)
}
