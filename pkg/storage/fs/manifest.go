package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
)

// writeManifest publishes a manifest file atomically in the branch directory.
func writeManifest(root string, db graph.DatabaseName, branch graph.BranchName, m *storage.Manifest) error {
	dir := branchDir(root, db, branch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create branch dir %s: %v", graph.ErrStorageIo, dir, err)
	}
	if m.Segments == nil {
		m.Segments = []storage.SegmentRef{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: serialize manifest: %v", graph.ErrStorageIo, err)
	}
	path := filepath.Join(dir, m.Filename())
	if err := atomicWriteFile(path, data); err != nil {
		return fmt.Errorf("%w: publish manifest %s: %v", graph.ErrStorageIo, path, err)
	}
	return nil
}

// readManifest parses one manifest file.
func readManifest(path string) (*storage.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest %s: %v", graph.ErrStorageIo, path, err)
	}
	var m storage.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest %s: %v", graph.ErrStorageIo, path, err)
	}
	return &m, nil
}

// listManifestTimestamps returns the published timestamps of a branch in
// ascending order. A missing branch directory is an empty list.
func listManifestTimestamps(root string, db graph.DatabaseName, branch graph.BranchName) ([]graph.Timestamp, error) {
	dir := branchDir(root, db, branch)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read dir %s: %v", graph.ErrStorageIo, dir, err)
	}
	var out []graph.Timestamp
	for _, e := range entries {
		if ts, ok := parseManifestName(e.Name()); ok {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func manifestPath(root string, db graph.DatabaseName, branch graph.BranchName, ts graph.Timestamp) string {
	m := storage.Manifest{VersionTS: ts}
	return filepath.Join(branchDir(root, db, branch), m.Filename())
}

// latestManifest returns the manifest with the greatest timestamp, or nil.
func latestManifest(root string, db graph.DatabaseName, branch graph.BranchName) (*storage.Manifest, error) {
	tss, err := listManifestTimestamps(root, db, branch)
	if err != nil || len(tss) == 0 {
		return nil, err
	}
	return readManifest(manifestPath(root, db, branch, tss[len(tss)-1]))
}

// pitrManifest returns the manifest with the greatest timestamp not
// exceeding at, or nil when every manifest is later.
func pitrManifest(root string, db graph.DatabaseName, branch graph.BranchName, at graph.Timestamp) (*storage.Manifest, error) {
	tss, err := listManifestTimestamps(root, db, branch)
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
	return readManifest(manifestPath(root, db, branch, *best))
}
