// Package etag computes content digests for served files and keeps them
// keyed by path, size and modification time so unchanged files are hashed
// once. Digests can be persisted across restarts in a bbolt store.
package etag

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketDigests = "digests"
	// digestLen is the number of hex characters kept from the blake3 sum.
	digestLen = 32
)

// Entry is one cached digest.
type Entry struct {
	Size    int64  `msgpack:"s"`
	ModTime int64  `msgpack:"m"`
	Digest  string `msgpack:"d"`
}

func (e Entry) matches(info os.FileInfo) bool {
	return e.Size == info.Size() && e.ModTime == info.ModTime().UnixNano()
}

// Stats reports cache activity.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Stored  int
}

// Cache maps file names under a document root to their digests.
type Cache struct {
	fs      afero.Fs
	scope   string
	db      *bolt.DB
	mu      sync.RWMutex
	entries map[string]Entry
	hits    atomic.Int64
	misses  atomic.Int64
}

// Open creates a cache over fs. When dbPath is empty digests live in memory
// only. scope names the document root fs serves; stored digests are keyed by
// it so servers of different roots can share one store.
func Open(fs afero.Fs, dbPath, scope string) (*Cache, error) {
	c := &Cache{
		fs:      fs,
		scope:   scope,
		entries: make(map[string]Entry),
	}
	if dbPath == "" {
		return c, nil
	}

	db, err := OpenStore(dbPath)
	if err != nil {
		return nil, err
	}
	c.db = db
	return c, nil
}

// OpenStore opens (creating if needed) the bbolt file backing a cache.
func OpenStore(dbPath string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0644, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open digest store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketDigests))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize digest store: %w", err)
	}
	return db, nil
}

// Close releases the backing store, if any.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Digest returns the content digest of name, hashing the file only when its
// size or modification time changed since the last call.
func (c *Cache) Digest(name string) (string, error) {
	info, err := c.fs.Stat(name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", name)
	}

	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && entry.matches(info) {
		c.hits.Add(1)
		return entry.Digest, nil
	}

	if !ok && c.db != nil {
		if stored, err := c.load(name); err == nil && stored != nil && stored.matches(info) {
			c.mu.Lock()
			c.entries[name] = *stored
			c.mu.Unlock()
			c.hits.Add(1)
			return stored.Digest, nil
		}
	}

	c.misses.Add(1)
	digest, err := c.hashFile(name)
	if err != nil {
		return "", err
	}

	entry = Entry{Size: info.Size(), ModTime: info.ModTime().UnixNano(), Digest: digest}
	c.mu.Lock()
	c.entries[name] = entry
	c.mu.Unlock()

	if c.db != nil {
		if err := c.store(name, entry); err != nil {
			return digest, err
		}
	}
	return digest, nil
}

// Invalidate forgets name so the next Digest call rehashes it.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()

	if c.db != nil {
		_ = c.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(bucketDigests)).Delete([]byte(StoreKey(c.scope, name)))
		})
	}
}

// Clear drops every digest, in memory and on disk.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	return ClearStore(c.db)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	s := Stats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
	if c.db != nil {
		s.Stored, _ = CountStore(c.db)
	}
	return s
}

func (c *Cache) hashFile(name string) (string, error) {
	f, err := c.fs.Open(name)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	return HashReader(f)
}

func (c *Cache) load(name string) (*Entry, error) {
	return LookupStore(c.db, StoreKey(c.scope, name))
}

func (c *Cache) store(name string, e Entry) error {
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDigests)).Put([]byte(StoreKey(c.scope, name)), data)
	})
}

// StoreKey is the store key of name served from the document root scope.
func StoreKey(scope, name string) string {
	return scope + "\x00" + name
}

// LookupStore returns the entry stored under key, or nil when there is none.
func LookupStore(db *bolt.DB, key string) (*Entry, error) {
	var result *Entry
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDigests))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var e Entry
		if err := msgpack.Unmarshal(data, &e); err != nil {
			return err
		}
		result = &e
		return nil
	})
	return result, err
}

// CountStore reports how many digests db holds.
func CountStore(db *bolt.DB) (int, error) {
	n := 0
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDigests))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// ClearStore empties the digest bucket of db.
func ClearStore(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketDigests)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketDigests))
		return err
	})
}

// HashReader returns the truncated hex blake3 digest of r.
func HashReader(r io.Reader) (string, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:digestLen], nil
}
