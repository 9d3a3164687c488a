package fs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/orneryd/urddb/pkg/graph"
	"github.com/orneryd/urddb/pkg/storage"
)

// DefaultWalSegmentBytes is the per-segment byte budget before rotation.
const DefaultWalSegmentBytes = 4 * 1024 * 1024

// listWalTails returns the WAL segment identities of a branch in ascending
// (epoch, seq) order. A missing WAL directory is an empty list.
func listWalTails(root string, db graph.DatabaseName, branch graph.BranchName) ([]storage.WalTail, error) {
	dir := walDir(root, db, branch)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read dir %s: %v", graph.ErrStorageIo, dir, err)
	}
	var out []storage.WalTail
	for _, e := range entries {
		if epoch, seq, ok := parseWalName(e.Name()); ok {
			out = append(out, storage.WalTail{Epoch: epoch, Seq: seq})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch < out[j].Epoch
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// WalWriter appends length-prefixed records to a branch's WAL, rotating to a
// fresh segment when a record would exceed the byte budget. Records are
// never split across segments.
type WalWriter struct {
	dir             string
	file            *os.File
	epoch           uint64
	seq             uint64
	bytesWritten    uint64
	maxSegmentBytes uint64
}

// OpenWalWriter scans the branch WAL directory and opens a new segment at
// (epoch, last seq + 1); with no existing files the first segment is (0, 0).
func OpenWalWriter(root string, db graph.DatabaseName, branch graph.BranchName, maxSegmentBytes uint64) (*WalWriter, error) {
	dir := walDir(root, db, branch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create wal dir %s: %v", graph.ErrStorageIo, dir, err)
	}
	var nextEpoch, nextSeq uint64
	tails, err := listWalTails(root, db, branch)
	if err != nil {
		return nil, err
	}
	if len(tails) > 0 {
		last := tails[len(tails)-1]
		nextEpoch = last.Epoch
		nextSeq = last.Seq + 1
	}

	path := filepath.Join(dir, walFilename(nextEpoch, nextSeq))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create wal segment %s: %v", graph.ErrStorageIo, path, err)
	}
	if maxSegmentBytes == 0 {
		maxSegmentBytes = DefaultWalSegmentBytes
	}
	return &WalWriter{
		dir:             dir,
		file:            f,
		epoch:           nextEpoch,
		seq:             nextSeq,
		maxSegmentBytes: maxSegmentBytes,
	}, nil
}

// Tail returns the identity of the segment currently being written.
func (w *WalWriter) Tail() storage.WalTail {
	return storage.WalTail{Epoch: w.epoch, Seq: w.seq}
}

func (w *WalWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: close wal segment: %v", graph.ErrStorageIo, err)
	}
	w.seq++
	path := filepath.Join(w.dir, walFilename(w.epoch, w.seq))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create wal segment %s: %v", graph.ErrStorageIo, path, err)
	}
	w.file = f
	w.bytesWritten = 0
	return nil
}

// WriteRecord appends one length-prefixed record. When appending would
// exceed the segment budget, the current file is fsynced and a fresh
// segment opened first.
func (w *WalWriter) WriteRecord(payload []byte) error {
	need := uint64(4 + len(payload))
	if w.bytesWritten+need > w.maxSegmentBytes {
		if err := w.Flush(); err != nil {
			return err
		}
		if err := w.rotate(); err != nil {
			return err
		}
	}
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(payload)))
	if _, err := w.file.Write(lenBytes[:]); err != nil {
		return fmt.Errorf("%w: wal write: %v", graph.ErrStorageIo, err)
	}
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("%w: wal write: %v", graph.ErrStorageIo, err)
	}
	w.bytesWritten += need
	return nil
}

// Flush fsyncs the current segment.
func (w *WalWriter) Flush() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: wal fsync: %v", graph.ErrStorageIo, err)
	}
	return nil
}

// Close flushes and closes the current segment.
func (w *WalWriter) Close() error {
	if err := w.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// readWalRecords returns the ordered records of one WAL file.
//
// A clean EOF at a record boundary ends the segment; EOF inside a length or
// payload is graph.ErrStorageIo (torn tails are not recovered).
func readWalRecords(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", graph.ErrStorageIo, path, err)
	}
	defer f.Close()

	var out [][]byte
	for {
		var lenBytes [4]byte
		_, err := io.ReadFull(f, lenBytes[:])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read wal record length: %v", graph.ErrStorageIo, err)
		}
		n := binary.LittleEndian.Uint32(lenBytes[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("%w: read wal record payload: %v", graph.ErrStorageIo, err)
		}
		out = append(out, buf)
	}
	return out, nil
}
