package sync

import (
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
)

// Remote is the view of the user's remote container that reconciliation
// needs.
type Remote interface {
	// ListFiles returns the files in the user's container without metadata.
	ListFiles(token SessionToken) ([]FileRecord, error)

	// FetchMetadata returns the full records for the given paths. Paths
	// whose metadata couldn't be read are omitted.
	FetchMetadata(token SessionToken, paths []string) ([]FileRecord, error)
}

// Plan is the result of reconciliation.
type Plan struct {
	// Operations contains the decision for every path that exists on either
	// side.
	Operations map[string]Operation

	// Local and Remote contain the most complete record known for each
	// path.
	Local  Inventory
	Remote Inventory

	// Pending contains the paths that exist on both sides, but couldn't be
	// decided because their metadata couldn't be fetched. Their operation is
	// NeedsInfo.
	Pending []string
}

// Transfers returns the records that should be uploaded and downloaded,
// sorted by path. Uploads are described by the local record, and downloads by
// the remote record.
func (plan Plan) Transfers() (uploads, downloads []FileRecord) {
	for _, path := range sortedKeys(plan.Operations) {
		switch plan.Operations[path] {
		case Upload:
			uploads = append(uploads, plan.Local[path])
		case Download:
			downloads = append(downloads, plan.Remote[path])
		}
	}
	return uploads, downloads
}

// Count returns the number of paths assigned the given operation.
func (plan Plan) Count(op Operation) (n int) {
	for _, planned := range plan.Operations {
		if planned == op {
			n++
		}
	}
	return n
}

// Presence decides the operation for every path based on which sides have
// the file. Paths that exist on both sides are assigned NeedsInfo.
func Presence(local, remote Inventory) map[string]Operation {
	ops := map[string]Operation{}
	for path := range local {
		if _, ok := remote[path]; ok {
			ops[path] = NeedsInfo
		} else {
			ops[path] = Upload
		}
	}

	for path := range remote {
		if _, ok := local[path]; !ok {
			ops[path] = Download
		}
	}
	return ops
}

// CompareMetadata decides the operation for a file that exists on both
// sides. `offsetMillis` is added to the local modification time to convert
// it to the server's clock. The second return value is false if either
// record is missing its metadata.
func CompareMetadata(local, remote FileRecord, offsetMillis int64, tieBreak TieBreak) (Operation, bool) {
	if !local.HasMetadata() || !remote.HasMetadata() {
		return NeedsInfo, false
	}

	if local.ContentHash == remote.ContentHash {
		return None, true
	}

	adjustedLocal := local.LastModifiedMillis + offsetMillis
	switch {
	case adjustedLocal > remote.LastModifiedMillis:
		return Upload, true
	case adjustedLocal < remote.LastModifiedMillis:
		return Download, true
	case tieBreak == PreferRemote:
		return Download, true
	default:
		return Upload, true
	}
}

// Engine reconciles a local directory with the user's remote container.
type Engine struct {
	Remote Remote
	Token  SessionToken

	// Fs and Root locate the local sync root.
	Fs   afero.Fs
	Root string

	// OffsetMillis is added to local modification times to convert them to
	// the server's clock. It's the negation of clock.Offset.Millis.
	OffsetMillis int64
	TieBreak     TieBreak

	// Hashes is optional.
	Hashes *HashCache

	Log log.FieldLogger
}

// Plan computes the operation for every path. An error is returned if the
// local root can't be scanned or the remote container can't be listed. A
// failure to fetch metadata only results in pending paths.
func (e Engine) Plan() (Plan, error) {
	logger := e.logger()

	local, err := Scan(e.Fs, e.Root)
	if err != nil {
		return Plan{}, errors.WithContext(err, "scan local files")
	}

	remoteFiles, err := e.Remote.ListFiles(e.Token)
	if err != nil {
		return Plan{}, errors.WithContext(err, "list remote files")
	}
	remote := NewInventory(remoteFiles)

	plan := Plan{
		Operations: Presence(local, remote),
		Local:      local,
		Remote:     remote,
	}

	var needsInfo []string
	for _, path := range sortedKeys(plan.Operations) {
		if plan.Operations[path] == NeedsInfo {
			needsInfo = append(needsInfo, path)
		}
	}
	if len(needsInfo) == 0 {
		return plan, nil
	}

	remoteMetadata, err := e.Remote.FetchMetadata(e.Token, needsInfo)
	switch {
	case err == nil:
		for _, r := range remoteMetadata {
			if _, ok := plan.Remote[r.RelativePath]; ok {
				plan.Remote[r.RelativePath] = r
			}
		}
	case errors.IsTransient(err):
		logger.WithError(err).Warn("Failed to fetch remote metadata. " +
			"Files that exist on both sides will be retried next sync.")
	default:
		return Plan{}, errors.WithContext(err, "fetch remote metadata")
	}

	for _, path := range needsInfo {
		localRecord, err := Metadata(e.Fs, e.Root, path, e.Hashes)
		if err != nil {
			logger.WithError(err).WithField("path", path).Warn("Failed to read local metadata")
		} else {
			plan.Local[path] = localRecord
		}

		op, ok := CompareMetadata(plan.Local[path], plan.Remote[path], e.OffsetMillis, e.TieBreak)
		if !ok {
			plan.Pending = append(plan.Pending, path)
		}
		plan.Operations[path] = op
	}
	return plan, nil
}

func (e Engine) logger() log.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return log.StandardLogger()
}

func sortedKeys(ops map[string]Operation) []string {
	var keys []string
	for key := range ops {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
