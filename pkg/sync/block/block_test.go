package block

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

func TestRoundTrip(t *testing.T) {
	const maxSize = 16
	tests := []struct {
		size      int
		expBlocks int
	}{
		{size: 0, expBlocks: 1},
		{size: 1, expBlocks: 1},
		{size: maxSize - 1, expBlocks: 1},
		{size: maxSize, expBlocks: 2},
		{size: maxSize + 1, expBlocks: 2},
		{size: 3 * maxSize, expBlocks: 4},
		{size: 3*maxSize + 7, expBlocks: 4},
	}

	for _, test := range tests {
		test := test
		t.Run(fmt.Sprintf("Size%d", test.size), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			contents := make([]byte, test.size)
			rand.Read(contents)
			require.NoError(t, afero.WriteFile(fs, "/src", contents, 0644))

			reader, err := Open(fs, "/src", 1, maxSize)
			require.NoError(t, err)
			defer reader.Close()

			writer, err := Create(fs, "/dst/nested/file", 2)
			require.NoError(t, err)

			var position int64
			var blocks int
			for {
				b, err := reader.ReadBlock(position)
				require.NoError(t, err)
				assert.Equal(t, position, b.Position)
				assert.Len(t, b.Data, b.Size)
				require.NoError(t, writer.WriteBlock(b))

				blocks++
				position += int64(b.Size)
				if b.Size < maxSize {
					break
				}
			}
			require.NoError(t, writer.Close())

			assert.Equal(t, test.expBlocks, blocks)
			assert.Equal(t, int64(test.size), writer.Written())

			copied, err := afero.ReadFile(fs, "/dst/nested/file")
			require.NoError(t, err)
			assert.True(t, bytes.Equal(contents, copied))
		})
	}
}

func TestReadBlockPastEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src", []byte("hello"), 0644))

	reader, err := Open(fs, "/src", 7, 4)
	require.NoError(t, err)

	b, err := reader.ReadBlock(3)
	assert.NoError(t, err)
	assert.Equal(t, sync.Block{FileID: 7, Position: 3, Data: []byte("lo"), Size: 2}, b)

	b, err = reader.ReadBlock(10)
	assert.NoError(t, err)
	assert.Equal(t, 0, b.Size)
	assert.Empty(t, b.Data)

	_, err = reader.ReadBlock(-1)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, err = Open(fs, "/missing", 1, 4)
	assert.Equal(t, errors.FileNotFound{Path: "/missing"}, err)
}

func TestWriterTruncatesAndRejectsGaps(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dst", []byte("old contents that are long"), 0644))

	writer, err := Create(fs, "/dst", 1)
	require.NoError(t, err)

	assert.NoError(t, writer.WriteBlock(sync.Block{Position: 0, Data: []byte("new"), Size: 3}))

	// Retrying the same block is harmless.
	assert.NoError(t, writer.WriteBlock(sync.Block{Position: 0, Data: []byte("new"), Size: 3}))

	err = writer.WriteBlock(sync.Block{Position: 10, Data: []byte("gap"), Size: 3})
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	err = writer.WriteBlock(sync.Block{Position: 3, Data: []byte("x"), Size: 2})
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	assert.NoError(t, writer.WriteBlock(sync.Block{Position: 3, Data: []byte("!"), Size: 1}))
	assert.NoError(t, writer.Close())

	contents, err := afero.ReadFile(fs, "/dst")
	assert.NoError(t, err)
	assert.Equal(t, "new!", string(contents))
}
