package sync

import (
	"fmt"

	"github.com/sidkik/boxsync/pkg/errors"
)

// NoModTime is the value of FileRecord.LastModifiedMillis before the
// modification time has been fetched.
const NoModTime = -1

// FileRecord contains a file's identity and the metadata used to decide
// whether it needs to be synced. Metadata is filled in progressively: a
// listing only contains the path and size, and the hash and modification time
// are fetched only when both sides have the file.
type FileRecord struct {
	// RelativePath is the slash-separated path of the file relative to its
	// RootFolder. It uniquely identifies the file within the root.
	RelativePath string `json:"relativePath"`

	// RootFolder is the directory that the file was discovered in.
	RootFolder string `json:"rootFolder,omitempty"`

	// ContentHash is the sha512 hash of the file's contents. It's empty until
	// the metadata has been fetched.
	ContentHash string `json:"contentHash,omitempty"`

	// LastModifiedMillis is the file's modification time in milliseconds
	// since the epoch, or NoModTime if it hasn't been fetched.
	LastModifiedMillis int64 `json:"lastModifiedMillis"`

	SizeBytes int64 `json:"sizeBytes"`

	// RemoteID is the file ID assigned by the server when the file is opened
	// for a transfer.
	RemoteID int64 `json:"remoteId,omitempty"`
}

// NewFileRecord returns a FileRecord without any metadata.
func NewFileRecord(root, relativePath string, size int64) FileRecord {
	return FileRecord{
		RelativePath:       relativePath,
		RootFolder:         root,
		LastModifiedMillis: NoModTime,
		SizeBytes:          size,
	}
}

// HasMetadata returns whether the hash and modification time are known.
func (r FileRecord) HasMetadata() bool {
	return r.ContentHash != "" && r.LastModifiedMillis != NoModTime
}

// Block is a slice of a file's contents that starts at Position. Every block
// of a file has the transfer's maximum block size, except for the last one,
// which may be shorter or even empty.
type Block struct {
	FileID   int64  `json:"fileId"`
	Position int64  `json:"position"`
	Data     []byte `json:"data,omitempty"`
	Size     int    `json:"size"`
}

// End returns the position of the byte after the block.
func (b Block) End() int64 {
	return b.Position + int64(b.Size)
}

// SessionToken identifies the user and their session in calls to the server.
// SessionID is empty until the user logs in.
type SessionToken struct {
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId,omitempty"`
}

// LoggedIn returns whether the server has assigned a session ID.
func (token SessionToken) LoggedIn() bool {
	return token.SessionID != ""
}

// Mode is the mode that a remote file is opened in.
type Mode string

const (
	// ModeRead opens a file for reading. Any number of sessions may read a
	// file at once.
	ModeRead Mode = "r"

	// ModeWrite truncates the file and opens it for writing. Only one session
	// may write a file at once.
	ModeWrite Mode = "rw"
)

// Valid returns whether the mode is known.
func (mode Mode) Valid() bool {
	return mode == ModeRead || mode == ModeWrite
}

// Operation is the action that reconciliation decided on for a path.
type Operation int

const (
	// None means that the local and remote copies already match.
	None Operation = iota

	// Upload means that the local copy should overwrite the remote copy.
	Upload

	// Download means that the remote copy should overwrite the local copy.
	Download

	// NeedsInfo means that both sides have the file, and the decision
	// requires the files' metadata.
	NeedsInfo
)

func (op Operation) String() string {
	switch op {
	case None:
		return "NONE"
	case Upload:
		return "UPLOAD"
	case Download:
		return "DOWNLOAD"
	case NeedsInfo:
		return "NEEDS_INFO"
	}
	return fmt.Sprintf("Operation(%d)", int(op))
}

// TieBreak decides which side wins when both copies of a file have different
// contents, but the same adjusted modification time.
type TieBreak string

const (
	PreferLocal  TieBreak = "local"
	PreferRemote TieBreak = "remote"
)

// ParseTieBreak parses the configuration value for a TieBreak. The empty
// string maps to PreferLocal.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "", PreferLocal:
		return PreferLocal, nil
	case PreferRemote:
		return PreferRemote, nil
	}
	return "", errors.NewFriendlyError("unknown tie break policy %q (expected %q or %q)",
		s, PreferLocal, PreferRemote)
}
