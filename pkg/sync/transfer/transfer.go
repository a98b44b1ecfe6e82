// Package transfer moves a single file between the local machine and the
// user's remote container, one block at a time.
package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
	"github.com/sidkik/boxsync/pkg/sync/block"
)

// DefaultBackoff is used to retry remote operations that fail with a
// transient error.
var DefaultBackoff = wait.Backoff{
	Steps:    5,
	Duration: 100 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// Remote is the file API of the server.
type Remote interface {
	// OpenFile opens the file in the user's container, and returns its ID
	// and the maximum block size to use for it.
	OpenFile(token sync.SessionToken, record sync.FileRecord, mode sync.Mode) (int64, int, error)
	CloseFile(token sync.SessionToken, fileID int64) error
	ReadBlock(token sync.SessionToken, fileID int64, position int64) (sync.Block, error)
	WriteBlock(token sync.SessionToken, b sync.Block) error
}

// Transfer contains the settings shared by uploads and downloads.
type Transfer struct {
	Remote Remote
	Token  sync.SessionToken

	// Fs and Root locate the local sync root.
	Fs   afero.Fs
	Root string

	Record sync.FileRecord

	// Backoff controls retries of remote operations. DefaultBackoff is used
	// if it's unset.
	Backoff wait.Backoff
	Log     log.FieldLogger
}

// Upload copies a local file to the user's container.
type Upload Transfer

// Download copies a file from the user's container to the local machine.
// The file is written to a temporary file next to the destination, which is
// renamed into place once the transfer completes.
type Download Transfer

func (u Upload) String() string {
	return "upload " + u.Record.RelativePath
}

func (d Download) String() string {
	return "download " + d.Record.RelativePath
}

// Run uploads the file.
func (u Upload) Run() error {
	t := Transfer(u)
	localPath, err := t.localPath()
	if err != nil {
		return err
	}
	if _, err := t.Fs.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: localPath}
		}
		return errors.WithContext(err, "stat")
	}

	fileID, blockSize, err := t.open(sync.ModeWrite)
	if err != nil {
		return err
	}
	defer t.close(fileID)

	reader, err := block.Open(t.Fs, localPath, fileID, blockSize)
	if err != nil {
		return errors.WithContext(err, "open local file")
	}
	defer reader.Close()

	var position int64
	for {
		b, err := reader.ReadBlock(position)
		if err != nil {
			return errors.WithContext(err, "read local file")
		}

		err = t.retry(func() error {
			return t.Remote.WriteBlock(t.Token, b)
		})
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("write block at %d", position))
		}

		t.logger().WithFields(log.Fields{
			"path":     t.Record.RelativePath,
			"position": position,
			"size":     b.Size,
		}).Debug("Uploaded block")

		position += int64(b.Size)
		if b.Size < blockSize {
			break
		}
	}

	t.logger().WithFields(log.Fields{
		"path":  t.Record.RelativePath,
		"bytes": position,
	}).Info("Uploaded file")
	return nil
}

// Run downloads the file.
func (d Download) Run() error {
	t := Transfer(d)
	localPath, err := t.localPath()
	if err != nil {
		return err
	}

	fileID, blockSize, err := t.open(sync.ModeRead)
	if err != nil {
		return err
	}
	defer t.close(fileID)

	tmpPath := sync.TempPath(localPath)
	writer, err := block.Create(t.Fs, tmpPath, fileID)
	if err != nil {
		return errors.WithContext(err, "create local file")
	}

	removeTmp := func() {
		if err := t.Fs.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			t.logger().WithError(err).WithField("path", tmpPath).Warn(
				"Failed to clean up partial download")
		}
	}

	position, err := d.copyBlocks(writer, fileID, blockSize)
	if err != nil {
		writer.Close()
		removeTmp()
		return err
	}

	if err := writer.Close(); err != nil {
		removeTmp()
		return errors.WithContext(err, "close local file")
	}

	if err := t.Fs.Rename(tmpPath, localPath); err != nil {
		removeTmp()
		return errors.WithContext(err, "rename")
	}

	if t.Record.LastModifiedMillis != sync.NoModTime {
		modTime := time.Unix(0, t.Record.LastModifiedMillis*int64(time.Millisecond))
		if err := t.Fs.Chtimes(localPath, modTime, modTime); err != nil {
			return errors.WithContext(err, "set modtime")
		}
	}

	t.logger().WithFields(log.Fields{
		"path":  t.Record.RelativePath,
		"bytes": position,
	}).Info("Downloaded file")
	return nil
}

func (d Download) copyBlocks(writer *block.Writer, fileID int64, blockSize int) (int64, error) {
	t := Transfer(d)
	var position int64
	for {
		var b sync.Block
		err := t.retry(func() (err error) {
			b, err = t.Remote.ReadBlock(t.Token, fileID, position)
			return err
		})
		if err != nil {
			return 0, errors.WithContext(err, fmt.Sprintf("read block at %d", position))
		}

		if b.Position != position {
			return 0, errors.WithContext(errors.ErrInvalidArgument,
				fmt.Sprintf("server returned block at %d, expected %d", b.Position, position))
		}

		if err := writer.WriteBlock(b); err != nil {
			return 0, errors.WithContext(err, "write local file")
		}

		t.logger().WithFields(log.Fields{
			"path":     t.Record.RelativePath,
			"position": position,
			"size":     b.Size,
		}).Debug("Downloaded block")

		position += int64(b.Size)
		if b.Size < blockSize {
			return position, nil
		}
	}
}

func (t Transfer) open(mode sync.Mode) (fileID int64, blockSize int, err error) {
	err = t.retry(func() (err error) {
		fileID, blockSize, err = t.Remote.OpenFile(t.Token, t.Record, mode)
		return err
	})
	if err != nil {
		return 0, 0, errors.WithContext(err, "open remote file")
	}

	if blockSize <= 0 {
		return 0, 0, errors.WithContext(errors.ErrInvalidArgument,
			fmt.Sprintf("server returned invalid block size %d", blockSize))
	}
	return fileID, blockSize, nil
}

func (t Transfer) close(fileID int64) {
	err := t.retry(func() error {
		return t.Remote.CloseFile(t.Token, fileID)
	})
	if err != nil {
		t.logger().WithError(err).WithField("path", t.Record.RelativePath).Warn(
			"Failed to close remote file")
	}
}

func (t Transfer) retry(fn func() error) error {
	backoff := t.Backoff
	if backoff.Steps == 0 {
		backoff = DefaultBackoff
	}
	return retry.OnError(backoff, errors.IsTransient, fn)
}

func (t Transfer) localPath() (string, error) {
	relPath, err := sync.CleanRelativePath(t.Record.RelativePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(t.Root, filepath.FromSlash(relPath)), nil
}

func (t Transfer) logger() log.FieldLogger {
	if t.Log != nil {
		return t.Log
	}
	return log.StandardLogger()
}
