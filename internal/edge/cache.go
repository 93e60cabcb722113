package edge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// Bucket names one of the two caches inside a version namespace.
type Bucket string

const (
	// BucketStatic holds application-shell assets.
	BucketStatic Bucket = "static"

	// BucketDynamic holds API reads, tiles and mirrored content.
	BucketDynamic Bucket = "dynamic"
)

// Entry is one cached response.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte
}

// entryMeta is the on-disk header file. The body lives beside it so
// binary payloads (tiles) are not JSON-inflated.
type entryMeta struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header"`
}

// Cache is a pair of named response caches under one deploy-version
// directory: <root>/<version>/{static,dynamic}. Writes are atomic
// (temp file + rename) so a crashed write never leaves a torn entry.
type Cache struct {
	root    string
	version string
}

// OpenCache creates the version namespace under root.
func OpenCache(root, version string) (*Cache, error) {
	if version == "" {
		return nil, fmt.Errorf("cache version cannot be empty")
	}
	for _, b := range []Bucket{BucketStatic, BucketDynamic} {
		dir := filepath.Join(root, version, string(b))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	return &Cache{root: root, version: version}, nil
}

// Version returns the deploy version this cache is namespaced under.
func (c *Cache) Version() string {
	return c.version
}

// Key derives the entry key for a request target.
func Key(target string) string {
	sum := sha256.Sum256([]byte(target))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached entry, or os.ErrNotExist on a miss.
func (c *Cache) Get(b Bucket, key string) (*Entry, error) {
	base := filepath.Join(c.root, c.version, string(b), key)

	metaData, err := os.ReadFile(base + ".meta")
	if err != nil {
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	body, err := os.ReadFile(base + ".body")
	if err != nil {
		return nil, err
	}
	return &Entry{Status: meta.Status, Header: http.Header(meta.Header), Body: body}, nil
}

// Put stores the entry atomically. The body lands before the meta
// file: an entry is visible only once both files exist, and Get keys
// off the meta file.
func (c *Cache) Put(b Bucket, key string, e *Entry) error {
	base := filepath.Join(c.root, c.version, string(b), key)

	if err := writeFileAtomic(base+".body", e.Body); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}
	metaData, err := json.Marshal(entryMeta{Status: e.Status, Header: e.Header})
	if err != nil {
		return fmt.Errorf("marshal cache meta: %w", err)
	}
	if err := writeFileAtomic(base+".meta", metaData); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

// Activate deletes every version directory under root that does not
// match this cache's version. After activation the previous deploy's
// caches are gone; old and new never coexist past this point.
func (c *Cache) Activate() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("list cache root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == c.version {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return fmt.Errorf("remove stale cache %s: %w", e.Name(), err)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
