package fswatch

import (
	"context"
	goSync "sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

type fakeNotifier struct {
	lock   goSync.Mutex
	added  []string
	closed bool
}

func (n *fakeNotifier) Add(name string) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.added = append(n.added, name)
	return nil
}

func (n *fakeNotifier) Close() error {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.closed = true
	return nil
}

type submissions struct {
	lock    goSync.Mutex
	records []sync.FileRecord
	err     error
}

func (s *submissions) submit(record sync.FileRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *submissions) get() []sync.FileRecord {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]sync.FileRecord(nil), s.records...)
}

func newTestWatcher(clock clockwork.Clock) (*Watcher, *fakeNotifier, *submissions, chan fsnotify.Event) {
	n := &fakeNotifier{}
	subs := &submissions{}
	events := make(chan fsnotify.Event)
	logger, _ := logrusTest.NewNullLogger()
	w := newWatcher("/root", subs.submit, clock, logger, n, events, make(chan error))
	return w, n, subs, events
}

func TestAddTree(t *testing.T) {
	fs = afero.NewMemMapFs()
	for _, dir := range []string{"/root/src/app", "/root/.git/objects", "/root/~tmp"} {
		require.NoError(t, fs.MkdirAll(dir, 0755))
	}
	require.NoError(t, afero.WriteFile(fs, "/root/src/app/index.js", []byte("js"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/root/src/.env", []byte("env"), 0644))

	w, n, _, _ := newTestWatcher(clockwork.NewFakeClock())
	require.NoError(t, w.addTree("/root", false))
	assert.ElementsMatch(t, []string{"/root", "/root/src", "/root/src/app"}, n.added)
	assert.Empty(t, w.timers)

	require.NoError(t, w.addTree("/root/src", true))
	assert.Len(t, w.timers, 1)
	assert.Contains(t, w.timers, "/root/src/app/index.js")
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name        string
		event       fsnotify.Event
		expTimers   []string
		expWatching []string
	}{
		{
			name:      "Write to a file",
			event:     fsnotify.Event{Name: "/root/a.txt", Op: fsnotify.Write},
			expTimers: []string{"/root/a.txt"},
		},
		{
			name:  "Hidden file",
			event: fsnotify.Event{Name: "/root/.a.txt.swp", Op: fsnotify.Write},
		},
		{
			name:  "Removed file",
			event: fsnotify.Event{Name: "/root/a.txt", Op: fsnotify.Remove},
		},
		{
			name:  "File that no longer exists",
			event: fsnotify.Event{Name: "/root/gone.txt", Op: fsnotify.Create},
		},
		{
			name:        "New directory",
			event:       fsnotify.Event{Name: "/root/dir", Op: fsnotify.Create},
			expTimers:   []string{"/root/dir/b.txt", "/root/dir/sub/c.txt"},
			expWatching: []string{"/root/dir", "/root/dir/sub"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/root/a.txt", []byte("a"), 0644))
			require.NoError(t, afero.WriteFile(fs, "/root/.a.txt.swp", []byte("a"), 0644))
			require.NoError(t, afero.WriteFile(fs, "/root/dir/b.txt", []byte("b"), 0644))
			require.NoError(t, afero.WriteFile(fs, "/root/dir/sub/c.txt", []byte("c"), 0644))

			w, n, _, _ := newTestWatcher(clockwork.NewFakeClock())
			w.handleEvent(test.event)

			var timers []string
			for path := range w.timers {
				timers = append(timers, path)
			}
			assert.ElementsMatch(t, test.expTimers, timers)
			assert.ElementsMatch(t, test.expWatching, n.added)
		})
	}
}

func TestDebounce(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/root/dir/a.txt", []byte("contents"), 0644))

	start := time.Date(2019, 11, 10, 8, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	w, _, subs, _ := newTestWatcher(clock)

	changes := map[time.Duration]bool{0: true, 5 * time.Second: true, 12 * time.Second: true}
	var uploadedAt []time.Duration
	for elapsed := time.Duration(0); elapsed <= 60*time.Second; elapsed += time.Second {
		if changes[elapsed] {
			w.handleEvent(fsnotify.Event{Name: "/root/dir/a.txt", Op: fsnotify.Write})
		}

		before := len(subs.get())
		w.flush(clock.Now())
		if len(subs.get()) != before {
			uploadedAt = append(uploadedAt, elapsed)
		}
		clock.Advance(time.Second)
	}

	assert.Equal(t, []time.Duration{32 * time.Second}, uploadedAt)
	assert.Equal(t, []sync.FileRecord{sync.NewFileRecord("/root", "dir/a.txt", 8)}, subs.get())
	assert.Empty(t, w.timers)
}

func TestFlush(t *testing.T) {
	now := time.Date(2019, 11, 10, 8, 0, 0, 0, time.UTC)
	settled := now.Add(-QuietPeriod)

	fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/root/a.txt", []byte("a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/root/empty", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/root/recent", []byte("r"), 0644))

	w, _, subs, _ := newTestWatcher(clockwork.NewFakeClockAt(now))
	w.timers = map[string]time.Time{
		"/root/a.txt":   settled,
		"/root/empty":   settled,
		"/root/missing": settled,
		"/root/recent":  now.Add(-time.Second),
	}

	// Files whose upload can't be submitted stay pending.
	subs.err = errors.ErrPoolDraining
	w.flush(now)
	assert.Empty(t, subs.get())
	assert.Len(t, w.timers, 2)
	assert.Contains(t, w.timers, "/root/a.txt")
	assert.Contains(t, w.timers, "/root/recent")

	subs.err = nil
	w.flush(now)
	assert.Equal(t, []sync.FileRecord{sync.NewFileRecord("/root", "a.txt", 1)}, subs.get())
	assert.Equal(t, map[string]time.Time{"/root/recent": now.Add(-time.Second)}, w.timers)
}

func TestRun(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/root/a.txt", []byte("a"), 0644))

	clock := clockwork.NewFakeClock()
	w, _, subs, events := newTestWatcher(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- w.Run(ctx)
	}()

	events <- fsnotify.Event{Name: "/root/a.txt", Op: fsnotify.Write}

	// Nothing is uploaded until the file has been quiet for QuietPeriod.
	for elapsed := time.Duration(0); elapsed < QuietPeriod-PollInterval; elapsed += PollInterval {
		clock.BlockUntil(1)
		assert.Empty(t, subs.get())
		clock.Advance(PollInterval)
	}

	clock.BlockUntil(1)
	assert.Empty(t, subs.get())
	clock.Advance(PollInterval)
	assert.Eventually(t, func() bool {
		return len(subs.get()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
