package fswatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

const (
	// QuietPeriod is how long a file must go without changing before it's
	// uploaded.
	QuietPeriod = 20 * time.Second

	// PollInterval is how often the watcher checks for settled files while
	// any are pending.
	PollInterval = 2 * time.Second
)

// SubmitFunc schedules an upload for a file that has stopped changing. If it
// returns an error, the file stays pending and is retried on the next poll.
type SubmitFunc func(sync.FileRecord) error

type notifier interface {
	Add(name string) error
	Close() error
}

// Watcher watches a sync root and uploads files once they've settled.
// fsnotify doesn't watch directories recursively, so every directory in the
// tree is registered individually, including ones created after the watcher
// starts.
type Watcher struct {
	root   string
	submit SubmitFunc
	clock  clockwork.Clock
	log    log.FieldLogger

	notifier notifier
	events   <-chan fsnotify.Event
	errs     <-chan error

	// timers maps the absolute path of each changed file to the last time a
	// change to it was observed. It's only accessed by the Run goroutine.
	timers map[string]time.Time
}

// New creates a Watcher for every directory under `root`.
func New(root string, submit SubmitFunc, clock clockwork.Clock, logger log.FieldLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	w := newWatcher(root, submit, clock, logger, fsw, fsw.Events, fsw.Errors)
	if err := w.addTree(root, false); err != nil {
		// Close the watcher so that we release the file handles for the
		// previously added paths.
		if err := fsw.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
		return nil, err
	}
	return w, nil
}

func newWatcher(root string, submit SubmitFunc, clock clockwork.Clock, logger log.FieldLogger,
	n notifier, events <-chan fsnotify.Event, errs <-chan error) *Watcher {
	return &Watcher{
		root:     filepath.Clean(root),
		submit:   submit,
		clock:    clock,
		log:      logger,
		notifier: n,
		events:   events,
		errs:     errs,
		timers:   map[string]time.Time{},
	}
}

// Run processes filesystem events until the context is cancelled or the
// watcher is closed. While no files are pending, it blocks on the next
// event. Otherwise, it also wakes up every PollInterval to flush the files
// that have settled.
func (w *Watcher) Run(ctx context.Context) error {
	var poll <-chan time.Time
	for {
		if poll == nil && len(w.timers) != 0 {
			poll = w.clock.After(PollInterval)
		}

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.errs:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("File watcher error")
		case <-poll:
			poll = nil
			w.flush(w.clock.Now())
		}
	}
}

// Close stops watching the filesystem. Run returns once the event stream
// has been closed.
func (w *Watcher) Close() error {
	return w.notifier.Close()
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if sync.IsIgnored(filepath.Base(ev.Name)) {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	fi, err := fs.Stat(ev.Name)
	if err != nil {
		// The file was removed before we got to it.
		return
	}

	if fi.IsDir() {
		if ev.Op&fsnotify.Create == 0 {
			return
		}
		if err := w.addTree(ev.Name, true); err != nil {
			w.log.WithError(err).WithField("path", ev.Name).Warn("Failed to watch new directory")
		}
		return
	}

	w.timers[ev.Name] = w.clock.Now()
}

// addTree registers `dir` and all of its non-hidden subdirectories. If
// `trackFiles` is set, the files already in the tree are treated as changed.
// This catches files that were written to a new directory before the
// directory itself was registered.
func (w *Watcher) addTree(dir string, trackFiles bool) error {
	return afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path != dir {
				return nil
			}
			return errors.WithContext(err, "walk")
		}

		if path != dir && sync.IsIgnored(fi.Name()) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if fi.IsDir() {
			if err := w.notifier.Add(path); err != nil {
				return errors.WithContext(err, fmt.Sprintf("watch %q", path))
			}
			return nil
		}

		if trackFiles && fi.Mode().IsRegular() {
			w.timers[path] = w.clock.Now()
		}
		return nil
	})
}

// flush submits an upload for every file that hasn't changed in the last
// QuietPeriod.
func (w *Watcher) flush(now time.Time) {
	for path, lastChange := range w.timers {
		if now.Sub(lastChange) < QuietPeriod {
			continue
		}

		record, ok := w.record(path)
		if !ok {
			delete(w.timers, path)
			continue
		}

		if err := w.submit(record); err != nil {
			w.log.WithError(err).WithField("path", record.RelativePath).
				Debug("Failed to submit upload. Will retry")
			continue
		}

		w.log.WithField("path", record.RelativePath).Info("Local file changed. Uploading")
		delete(w.timers, path)
	}
}

// record returns the FileRecord for `path`, or false if the file shouldn't
// be synced.
func (w *Watcher) record(path string) (sync.FileRecord, bool) {
	fi, err := fs.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		return sync.FileRecord{}, false
	}

	relPath, err := filepath.Rel(w.root, path)
	if err != nil {
		return sync.FileRecord{}, false
	}

	relPath, err = sync.CleanRelativePath(filepath.ToSlash(relPath))
	if err != nil {
		return sync.FileRecord{}, false
	}
	return sync.NewFileRecord(w.root, relPath, fi.Size()), true
}
