package sync

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
)

// Inventory maps relative paths to the files at those paths.
type Inventory map[string]FileRecord

// Paths returns the paths in the inventory in sorted order.
func (inv Inventory) Paths() []string {
	var paths []string
	for path := range inv {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Records returns the records in the inventory.
func (inv Inventory) Records() []FileRecord {
	var records []FileRecord
	for _, path := range inv.Paths() {
		records = append(records, inv[path])
	}
	return records
}

// NewInventory indexes records by their relative path.
func NewInventory(records []FileRecord) Inventory {
	inv := Inventory{}
	for _, r := range records {
		inv[r.RelativePath] = r
	}
	return inv
}

// IsIgnored returns whether files or directories with the given base name
// are excluded from syncing.
func IsIgnored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~")
}

// TempPath returns the path that a transfer to `path` is staged at until it
// completes. The name is ignored, so partial files are never synced.
func TempPath(path string) string {
	return filepath.Join(filepath.Dir(path), "~"+filepath.Base(path)+".boxsync")
}

// CleanRelativePath normalizes a slash-separated path that's relative to a
// sync root. It rejects paths that are absolute or escape the root.
func CleanRelativePath(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return "", errors.WithContext(errors.ErrInvalidArgument,
			"path must be relative: "+path)
	}

	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.WithContext(errors.ErrInvalidArgument,
			"path escapes sync root: "+path)
	}
	return cleaned, nil
}

// Scan returns the files that should be synced within `root`. The returned
// records only contain the path and size. Empty files and ignored names are
// skipped, and ignored directories aren't descended into.
func Scan(fs afero.Fs, root string) (Inventory, error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat root")
	}
	if !fi.IsDir() {
		return nil, errors.NewFriendlyError("sync root %q is not a directory", root)
	}

	files := Inventory{}
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if path != root && IsIgnored(fi.Name()) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !fi.Mode().IsRegular() || fi.Size() == 0 {
			return nil
		}

		relativePath, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(relativePath, "..") {
			return errors.WithContext(err, "normalize path")
		}
		relativePath = filepath.ToSlash(relativePath)

		files[relativePath] = NewFileRecord(root, relativePath, fi.Size())
		return nil
	})
	if err != nil {
		return nil, errors.WithContext(err, "walk")
	}
	return files, nil
}

// Metadata returns the full record, including the hash and modification
// time, for the file at `relativePath` within `root`.
func Metadata(fs afero.Fs, root, relativePath string, hashes *HashCache) (FileRecord, error) {
	path := filepath.Join(root, filepath.FromSlash(relativePath))
	fi, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileRecord{}, errors.FileNotFound{Path: relativePath}
		}
		return FileRecord{}, errors.WithContext(err, "stat")
	}

	hash, err := hashes.Hash(fs, path, fi)
	if err != nil {
		return FileRecord{}, errors.WithContext(err, "hash")
	}

	record := NewFileRecord(root, relativePath, fi.Size())
	record.ContentHash = hash
	record.LastModifiedMillis = fi.ModTime().UnixNano() / 1e6
	return record, nil
}
