package server

import (
	"fmt"
	"os"
	goSync "sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
	"github.com/sidkik/boxsync/pkg/sync/block"
)

type handle struct {
	id      int64
	path    string
	mode    sync.Mode
	session string

	// tmpPath is where an upload is staged until it's committed.
	tmpPath string

	// complete is set once the final, short, block of an upload arrives.
	complete bool

	// lock serializes block operations on the handle.
	lock   goSync.Mutex
	closed bool
	reader *block.Reader
	writer *block.Writer
}

// HandleManager tracks the files opened by clients. A path may be open for
// writing by at most one handle at a time. Reads aren't restricted.
type HandleManager struct {
	fs        afero.Fs
	blockSize int
	nextID    int64

	lock    goSync.Mutex
	handles map[int64]*handle

	// writers maps paths to the handle that has them open for writing.
	writers map[string]int64
}

// NewHandleManager returns a HandleManager for the files in `fs`.
func NewHandleManager(fs afero.Fs, blockSize int) *HandleManager {
	return &HandleManager{
		fs:        fs,
		blockSize: blockSize,
		handles:   map[int64]*handle{},
		writers:   map[string]int64{},
	}
}

// Open opens `path` on behalf of `session`. Writes are staged in a temporary
// file next to `path`, creating any missing parent directories, and replace
// `path` only when the upload completes and is closed. Opening for writing
// fails with ErrResourceBusy if another handle is already writing the path.
func (hm *HandleManager) Open(session, path string, mode sync.Mode) (int64, error) {
	if !mode.Valid() {
		return 0, errors.WithContext(errors.ErrInvalidArgument,
			fmt.Sprintf("unknown mode %q", mode))
	}

	hm.lock.Lock()
	defer hm.lock.Unlock()

	id := atomic.AddInt64(&hm.nextID, 1)
	h := &handle{id: id, path: path, mode: mode, session: session}
	if mode == sync.ModeWrite {
		if _, ok := hm.writers[path]; ok {
			recordBusyRejection()
			return 0, errors.ErrResourceBusy
		}

		h.tmpPath = sync.TempPath(path)
		writer, err := block.Create(hm.fs, h.tmpPath, id)
		if err != nil {
			return 0, err
		}
		h.writer = writer
		hm.writers[path] = id
	} else {
		reader, err := block.Open(hm.fs, path, id, hm.blockSize)
		if err != nil {
			return 0, err
		}
		h.reader = reader
	}

	hm.handles[id] = h
	setOpenHandles(len(hm.handles))
	return id, nil
}

// Close closes the handle and releases its write lock. A completed upload is
// moved into place, and an incomplete one is discarded. Closing an unknown
// handle is a no-op.
func (hm *HandleManager) Close(session string, id int64) error {
	hm.lock.Lock()
	h, ok := hm.handles[id]
	if !ok {
		hm.lock.Unlock()
		return nil
	}
	if h.session != session {
		hm.lock.Unlock()
		return errors.WithContext(errors.ErrInvalidArgument,
			fmt.Sprintf("file %d is owned by another session", id))
	}
	hm.remove(h)
	hm.lock.Unlock()

	return h.close(hm.fs, true)
}

// CloseSession closes every handle owned by `session`, and returns how many
// were closed. Uploads that the session didn't close are discarded.
func (hm *HandleManager) CloseSession(session string) int {
	hm.lock.Lock()
	var owned []*handle
	for _, h := range hm.handles {
		if h.session == session {
			owned = append(owned, h)
		}
	}
	for _, h := range owned {
		hm.remove(h)
	}
	hm.lock.Unlock()

	for _, h := range owned {
		if err := h.close(hm.fs, false); err != nil {
			log.WithError(err).WithField("path", h.path).Warn("Failed to close abandoned file")
		}
	}
	return len(owned)
}

// remove must be called with the lock held.
func (hm *HandleManager) remove(h *handle) {
	delete(hm.handles, h.id)
	if writer, ok := hm.writers[h.path]; ok && writer == h.id {
		delete(hm.writers, h.path)
	}
	setOpenHandles(len(hm.handles))
}

// ReadBlock reads the block at `position` from a handle opened for reading.
func (hm *HandleManager) ReadBlock(session string, id int64, position int64) (sync.Block, error) {
	h, err := hm.get(session, id, sync.ModeRead)
	if err != nil {
		return sync.Block{}, err
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return sync.Block{}, closedError(id)
	}

	b, err := h.reader.ReadBlock(position)
	if err != nil {
		return sync.Block{}, err
	}
	recordBytesRead(b.Size)
	return b, nil
}

// WriteBlock writes a block to a handle opened for writing.
func (hm *HandleManager) WriteBlock(session string, b sync.Block) error {
	h, err := hm.get(session, b.FileID, sync.ModeWrite)
	if err != nil {
		return err
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return closedError(b.FileID)
	}

	if err := h.writer.WriteBlock(b); err != nil {
		return err
	}
	if b.Size < hm.blockSize {
		h.complete = true
	}
	recordBytesWritten(b.Size)
	return nil
}

// Len returns the number of open handles.
func (hm *HandleManager) Len() int {
	hm.lock.Lock()
	defer hm.lock.Unlock()
	return len(hm.handles)
}

func (hm *HandleManager) get(session string, id int64, mode sync.Mode) (*handle, error) {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	h, ok := hm.handles[id]
	if !ok || h.session != session {
		return nil, closedError(id)
	}

	if h.mode != mode {
		return nil, errors.WithContext(errors.ErrInvalidArgument,
			fmt.Sprintf("file %d is open in mode %q", id, h.mode))
	}
	return h, nil
}

// close closes the handle's file. If `commit` is set and the upload is
// complete, the staged file replaces the destination. Otherwise it's removed.
func (h *handle) close(fs afero.Fs, commit bool) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if h.writer == nil {
		return h.reader.Close()
	}

	err := h.writer.Close()
	if err == nil && commit && h.complete {
		if err := fs.Rename(h.tmpPath, h.path); err != nil {
			return errors.WithContext(err, "commit upload")
		}
		return nil
	}

	if rmErr := fs.Remove(h.tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
		log.WithError(rmErr).WithField("path", h.tmpPath).Warn("Failed to remove incomplete upload")
	}
	if err != nil {
		return errors.WithContext(err, "close")
	}
	if commit {
		log.WithField("path", h.path).Info("Discarded incomplete upload")
	}
	return nil
}

func closedError(id int64) error {
	return errors.WithContext(errors.ErrInvalidArgument,
		fmt.Sprintf("file %d is not open", id))
}
