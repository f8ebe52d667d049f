package cache

import (
	"encoding/binary"
	"os"
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cespare/xxhash/v2"
)

const DefaultSizeMB = 32

// Cache remembers files whose modification time is known to be correct.
type Cache interface {
	IsVerified(path string, info os.FileInfo) bool
	MarkVerified(path string, info os.FileInfo)
}

// FileCache is an in-memory Cache backed by fastcache. Entries are keyed by
// path, size and modification time, so any change to the file invalidates
// its entry. Nothing is written to disk.
type FileCache struct {
	cache *fastcache.Cache
	stats CacheStats
}

// CacheStats tracks cache hit/miss statistics
type CacheStats struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Additions atomic.Int64
}

// NewFileCache creates a cache with a size limit in MB.
func NewFileCache(sizeMB int) *FileCache {
	if sizeMB <= 0 {
		sizeMB = DefaultSizeMB
	}
	return &FileCache{
		cache: fastcache.New(sizeMB * 1024 * 1024),
	}
}

func cacheKey(path string, info os.FileInfo) []byte {
	key := make([]byte, 24)
	binary.LittleEndian.PutUint64(key[0:], xxhash.Sum64String(path))
	binary.LittleEndian.PutUint64(key[8:], uint64(info.Size()))
	binary.LittleEndian.PutUint64(key[16:], uint64(info.ModTime().UnixNano()))
	return key
}

func (fc *FileCache) IsVerified(path string, info os.FileInfo) bool {
	exists := fc.cache.Has(cacheKey(path, info))
	if exists {
		fc.stats.Hits.Add(1)
	} else {
		fc.stats.Misses.Add(1)
	}
	return exists
}

func (fc *FileCache) MarkVerified(path string, info os.FileInfo) {
	fc.cache.Set(cacheKey(path, info), nil)
	fc.stats.Additions.Add(1)
}

// Stats returns hits, misses and additions since the cache was created or reset.
func (fc *FileCache) Stats() (hits, misses, additions int64) {
	return fc.stats.Hits.Load(), fc.stats.Misses.Load(), fc.stats.Additions.Load()
}

// Reset drops every entry and the statistics.
func (fc *FileCache) Reset() {
	fc.cache.Reset()
	fc.stats.Hits.Store(0)
	fc.stats.Misses.Store(0)
	fc.stats.Additions.Store(0)
}
