package server

import (
	goSync "sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

func newTestFs() afero.Fs {
	return afero.NewBasePathFs(afero.NewMemMapFs(), "/srv")
}

func TestOpenWriteIsExclusive(t *testing.T) {
	hm := NewHandleManager(newTestFs(), 4)

	first, err := hm.Open("session-1", "user/a.txt", sync.ModeWrite)
	require.NoError(t, err)

	_, err = hm.Open("session-2", "user/a.txt", sync.ModeWrite)
	assert.Equal(t, errors.ErrResourceBusy, err)

	// The same session can't open a second writer either.
	_, err = hm.Open("session-1", "user/a.txt", sync.ModeWrite)
	assert.Equal(t, errors.ErrResourceBusy, err)

	// Other paths aren't affected.
	_, err = hm.Open("session-2", "user/b.txt", sync.ModeWrite)
	assert.NoError(t, err)

	// Closing the writer lets another session write.
	assert.NoError(t, hm.Close("session-1", first))
	_, err = hm.Open("session-2", "user/a.txt", sync.ModeWrite)
	assert.NoError(t, err)
}

func TestConcurrentOpenWrite(t *testing.T) {
	hm := NewHandleManager(newTestFs(), 4)

	const sessions = 16
	var wg goSync.WaitGroup
	results := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := hm.Open(string(rune('a'+i)), "user/contended", sync.ModeWrite)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var succeeded, busy int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case err == errors.ErrResourceBusy:
			busy++
		default:
			t.Errorf("unexpected error: %s", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, sessions-1, busy)
}

func TestReadsAreUnrestricted(t *testing.T) {
	fs := newTestFs()
	require.NoError(t, afero.WriteFile(fs, "user/a.txt", []byte("hello world"), 0644))
	hm := NewHandleManager(fs, 4)

	writer, err := hm.Open("writer", "user/b.txt", sync.ModeWrite)
	require.NoError(t, err)

	r1, err := hm.Open("reader-1", "user/a.txt", sync.ModeRead)
	require.NoError(t, err)
	r2, err := hm.Open("reader-2", "user/a.txt", sync.ModeRead)
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)
	assert.NotEqual(t, writer, r1)

	b, err := hm.ReadBlock("reader-1", r1, 0)
	assert.NoError(t, err)
	assert.Equal(t, sync.Block{FileID: r1, Position: 0, Data: []byte("hell"), Size: 4}, b)

	b, err = hm.ReadBlock("reader-2", r2, 8)
	assert.NoError(t, err)
	assert.Equal(t, "rld", string(b.Data))

	// Handles can only be used by the session that opened them, in the mode
	// they were opened with.
	_, err = hm.ReadBlock("reader-2", r1, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	_, err = hm.ReadBlock("writer", writer, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	err = hm.WriteBlock("reader-1", sync.Block{FileID: r1, Data: []byte("x"), Size: 1})
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, err = hm.Open("reader-1", "user/missing", sync.ModeRead)
	assert.Equal(t, errors.FileNotFound{Path: "user/missing"}, err)

	_, err = hm.Open("reader-1", "user/a.txt", sync.Mode("x"))
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestWriteAndClose(t *testing.T) {
	fs := newTestFs()
	require.NoError(t, afero.WriteFile(fs, "user/a.txt", []byte("previous contents"), 0644))
	hm := NewHandleManager(fs, 4)

	id, err := hm.Open("session", "user/a.txt", sync.ModeWrite)
	require.NoError(t, err)
	assert.NoError(t, hm.WriteBlock("session", sync.Block{FileID: id, Position: 0, Data: []byte("new "), Size: 4}))
	assert.NoError(t, hm.WriteBlock("session", sync.Block{FileID: id, Position: 4, Data: []byte("data"), Size: 4}))

	// The destination isn't touched until the upload is committed.
	contents, err := afero.ReadFile(fs, "user/a.txt")
	assert.NoError(t, err)
	assert.Equal(t, "previous contents", string(contents))

	// The empty block ends the upload.
	assert.NoError(t, hm.WriteBlock("session", sync.Block{FileID: id, Position: 8}))

	assert.Equal(t, errors.WithContext(errors.ErrInvalidArgument, "file 1 is owned by another session"),
		hm.Close("other", id))
	assert.NoError(t, hm.Close("session", id))
	assert.Equal(t, 0, hm.Len())

	// Closing is idempotent.
	assert.NoError(t, hm.Close("session", id))

	err = hm.WriteBlock("session", sync.Block{FileID: id, Position: 8, Data: []byte("!"), Size: 1})
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	contents, err = afero.ReadFile(fs, "user/a.txt")
	assert.NoError(t, err)
	assert.Equal(t, "new data", string(contents))

	exists, err := afero.Exists(fs, sync.TempPath("user/a.txt"))
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestIncompleteWriteIsDiscarded(t *testing.T) {
	tests := []struct {
		name  string
		close func(hm *HandleManager, id int64) error
	}{
		{
			name: "Closed before the last block",
			close: func(hm *HandleManager, id int64) error {
				return hm.Close("session", id)
			},
		},
		{
			name: "Session ended",
			close: func(hm *HandleManager, _ int64) error {
				hm.CloseSession("session")
				return nil
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs := newTestFs()
			require.NoError(t, afero.WriteFile(fs, "user/a.txt", []byte("good contents"), 0644))
			hm := NewHandleManager(fs, 4)

			id, err := hm.Open("session", "user/a.txt", sync.ModeWrite)
			require.NoError(t, err)
			assert.NoError(t, hm.WriteBlock("session", sync.Block{FileID: id, Data: []byte("frag"), Size: 4}))
			assert.NoError(t, test.close(hm, id))

			contents, err := afero.ReadFile(fs, "user/a.txt")
			assert.NoError(t, err)
			assert.Equal(t, "good contents", string(contents))

			exists, err := afero.Exists(fs, sync.TempPath("user/a.txt"))
			assert.NoError(t, err)
			assert.False(t, exists)

			// The path can be written again.
			_, err = hm.Open("other", "user/a.txt", sync.ModeWrite)
			assert.NoError(t, err)
		})
	}
}

func TestOpenCreatesParents(t *testing.T) {
	fs := newTestFs()
	hm := NewHandleManager(fs, 4)

	_, err := hm.Open("session", "user/nested/dir/a.txt", sync.ModeWrite)
	require.NoError(t, err)

	exists, err := afero.DirExists(fs, "user/nested/dir")
	assert.NoError(t, err)
	assert.True(t, exists)

	// Nothing appears at the destination until the upload completes.
	exists, err = afero.Exists(fs, "user/nested/dir/a.txt")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestCloseSession(t *testing.T) {
	fs := newTestFs()
	require.NoError(t, afero.WriteFile(fs, "user/a.txt", []byte("a"), 0644))
	hm := NewHandleManager(fs, 4)

	_, err := hm.Open("crashed", "user/b.txt", sync.ModeWrite)
	require.NoError(t, err)
	_, err = hm.Open("crashed", "user/a.txt", sync.ModeRead)
	require.NoError(t, err)
	other, err := hm.Open("other", "user/a.txt", sync.ModeRead)
	require.NoError(t, err)

	assert.Equal(t, 2, hm.CloseSession("crashed"))
	assert.Equal(t, 1, hm.Len())
	assert.Equal(t, 0, hm.CloseSession("crashed"))

	// The write lock held by the crashed session was released.
	_, err = hm.Open("other", "user/b.txt", sync.ModeWrite)
	assert.NoError(t, err)

	_, err = hm.ReadBlock("other", other, 0)
	assert.NoError(t, err)
}

func TestFileIDsArePerManager(t *testing.T) {
	fs := newTestFs()
	first := NewHandleManager(fs, 4)
	second := NewHandleManager(fs, 4)

	id1, err := first.Open("session", "user/a", sync.ModeWrite)
	require.NoError(t, err)
	id2, err := second.Open("session", "user/b", sync.ModeWrite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(1), id2)
}
