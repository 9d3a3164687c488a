package fs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
)

// writeSegmentFile frames and writes a segment, fsyncing the file.
// Segments are written once per flush and immutable after publish.
func writeSegmentFile(root string, db graph.DatabaseName, id storage.SegmentID, seg *storage.Segment) error {
	path := segmentPath(root, db, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create segment dir: %v", graph.ErrStorageIo, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create segment %s: %v", graph.ErrStorageIo, path, err)
	}
	if _, err := f.Write(seg.Encode()); err != nil {
		f.Close()
		return fmt.Errorf("%w: write segment %s: %v", graph.ErrStorageIo, path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync segment %s: %v", graph.ErrStorageIo, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close segment %s: %v", graph.ErrStorageIo, path, err)
	}
	return nil
}

// readSegmentFile reads and verifies a segment. An absent file is
// graph.ErrNotFound so callers can bootstrap an empty store.
func readSegmentFile(root string, db graph.DatabaseName, id storage.SegmentID) (*storage.Segment, error) {
	path := segmentPath(root, db, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: segment %s", graph.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: read segment %s: %v", graph.ErrStorageIo, path, err)
	}
	return storage.DecodeSegment(data)
}
