// Package block reads and writes files as a sequence of position-addressed
// blocks. Both the client and server use it to move file contents.
package block

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

const (
	// DefaultSize is the default maximum block size.
	DefaultSize = 1 << 20

	// MaxSize is the largest block size that fits in a gRPC message with the
	// default 4 MiB receive limit once the data is base64 encoded.
	MaxSize = 2 << 20
)

// Reader reads blocks from a file.
type Reader struct {
	file    afero.File
	fileID  int64
	maxSize int
}

// Open opens the file at `path` for reading blocks of up to `maxSize` bytes.
func Open(fs afero.Fs, path string, fileID int64, maxSize int) (*Reader, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: path}
		}
		return nil, errors.WithContext(err, "open")
	}
	return &Reader{file: f, fileID: fileID, maxSize: maxSize}, nil
}

// ReadBlock reads up to the maximum block size starting at `position`. The
// returned block is only as large as the number of bytes available, and is
// empty if `position` is at or past the end of the file.
func (r *Reader) ReadBlock(position int64) (sync.Block, error) {
	if position < 0 {
		return sync.Block{}, errors.WithContext(errors.ErrInvalidArgument,
			fmt.Sprintf("negative position %d", position))
	}

	buf := make([]byte, r.maxSize)
	n, err := r.file.ReadAt(buf, position)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return sync.Block{}, errors.WithContext(err, "read")
	}

	return sync.Block{
		FileID:   r.fileID,
		Position: position,
		Data:     buf[:n],
		Size:     n,
	}, nil
}

// MaxSize returns the maximum block size.
func (r *Reader) MaxSize() int {
	return r.maxSize
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Writer writes blocks to a file.
type Writer struct {
	file   afero.File
	fileID int64

	// next is the position after the last byte that has been written.
	next int64
}

// Create truncates or creates the file at `path`, along with any missing
// parent directories, and returns a Writer for it.
func Create(fs afero.Fs, path string, fileID int64) (*Writer, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.WithContext(err, "make parent directories")
	}

	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.WithContext(err, "create")
	}
	return &Writer{file: f, fileID: fileID}, nil
}

// WriteBlock writes the block's data at the block's position. Blocks must be
// written in order, without gaps. Rewriting a block that was already written
// is allowed so that a write can be retried.
func (w *Writer) WriteBlock(b sync.Block) error {
	if b.Size < 0 || b.Size > len(b.Data) {
		return errors.WithContext(errors.ErrInvalidArgument,
			fmt.Sprintf("block size %d doesn't match data length %d", b.Size, len(b.Data)))
	}

	if b.Position < 0 || b.Position > w.next {
		return errors.WithContext(errors.ErrInvalidArgument,
			fmt.Sprintf("block at position %d would leave a gap after position %d",
				b.Position, w.next))
	}

	if b.Size == 0 {
		return nil
	}

	if _, err := w.file.WriteAt(b.Data[:b.Size], b.Position); err != nil {
		return errors.WithContext(err, "write")
	}

	if end := b.End(); end > w.next {
		w.next = end
	}
	return nil
}

// Written returns the number of contiguous bytes written so far.
func (w *Writer) Written() int64 {
	return w.next
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return errors.WithContext(err, "sync")
	}
	return w.file.Close()
}
