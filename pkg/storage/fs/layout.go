// Package fs is the local filesystem storage adapter.
//
// It implements every storage port over a plain directory tree:
//
//	<root>/<db>/branches/<branch>/manifest-<ts>.json
//	<root>/<db>/branches/<branch>/wal/wal-<epoch>-<seq>.wal
//	<root>/<db>/segments/<shard>/<segment_id>.seg
//
// Manifests publish atomically (temp file, fsync, rename, directory fsync);
// segments are written once and verified by checksum on read; WAL files
// append length-prefixed records and rotate on a size budget.
package fs

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
)

func dbDir(root string, db graph.DatabaseName) string {
	return filepath.Join(root, db.String())
}

func branchesDir(root string, db graph.DatabaseName) string {
	return filepath.Join(dbDir(root, db), "branches")
}

func branchDir(root string, db graph.DatabaseName, branch graph.BranchName) string {
	return filepath.Join(branchesDir(root, db), branch.String())
}

func walDir(root string, db graph.DatabaseName, branch graph.BranchName) string {
	return filepath.Join(branchDir(root, db, branch), "wal")
}

func segmentsDir(root string, db graph.DatabaseName) string {
	return filepath.Join(dbDir(root, db), "segments")
}

func segmentPath(root string, db graph.DatabaseName, id storage.SegmentID) string {
	return filepath.Join(segmentsDir(root, db), storage.ShardPrefix(id), string(id)+".seg")
}

func walFilename(epoch, seq uint64) string {
	return "wal-" + strconv.FormatUint(epoch, 10) + "-" + strconv.FormatUint(seq, 10) + ".wal"
}

// parseWalName extracts (epoch, seq) from a wal-<epoch>-<seq>.wal name.
func parseWalName(name string) (epoch, seq uint64, ok bool) {
	core, found := strings.CutPrefix(name, "wal-")
	if !found {
		return 0, 0, false
	}
	core, found = strings.CutSuffix(core, ".wal")
	if !found {
		return 0, 0, false
	}
	epochStr, seqStr, found := strings.Cut(core, "-")
	if !found {
		return 0, 0, false
	}
	var err error
	if epoch, err = strconv.ParseUint(epochStr, 10, 64); err != nil {
		return 0, 0, false
	}
	if seq, err = strconv.ParseUint(seqStr, 10, 64); err != nil {
		return 0, 0, false
	}
	return epoch, seq, true
}

// parseManifestName extracts the timestamp from a manifest-<ts>.json name.
func parseManifestName(name string) (graph.Timestamp, bool) {
	core, found := strings.CutPrefix(name, "manifest-")
	if !found {
		return 0, false
	}
	core, found = strings.CutSuffix(core, ".json")
	if !found {
		return 0, false
	}
	ts, err := strconv.ParseUint(core, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
