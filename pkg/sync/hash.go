package sync

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru"
	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
)

// HashFile returns the sha512 hash of the file at the given path.
func HashFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}

// HashCache remembers the hashes of files so that unchanged files aren't
// rehashed every sync round. A file is assumed to be unchanged if its path,
// size, and modification time are the same.
// A nil HashCache is valid, and hashes every file.
type HashCache struct {
	cache *lru.Cache
}

// NewHashCache returns a HashCache that holds up to `size` hashes.
func NewHashCache(size int) (*HashCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &HashCache{cache: cache}, nil
}

// Hash returns the hash of the file at `path`. `fi` must be the result of
// stat'ing `path`.
func (hc *HashCache) Hash(fs afero.Fs, path string, fi os.FileInfo) (string, error) {
	if hc == nil {
		return HashFile(fs, path)
	}

	key := fmt.Sprintf("%s:%d:%d", path, fi.Size(), fi.ModTime().UnixNano())
	if hash, ok := hc.cache.Get(key); ok {
		return hash.(string), nil
	}

	hash, err := HashFile(fs, path)
	if err != nil {
		return "", err
	}
	hc.cache.Add(key, hash)
	return hash, nil
}
