// Package pagecache implements the shared page cache over the backing swap
// image: a sharded hash table keyed by page offset, a global LRU list, dirty
// write-back, and bounded occupancy with lazy eviction.
package pagecache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// PageSize is the unit of caching and I/O against the backing file.
	PageSize = 4096

	pageShift = 12

	// HashSize is the bucket count; must stay a power of two so the index
	// reduces to a shift of the mixed hash.
	HashSize = 2048

	// MutexGroups is the number of shard locks over the buckets.
	MutexGroups = 16
)

// ErrAlloc is returned when a cache entry cannot be allocated.
var ErrAlloc = errors.New("pagecache: entry allocation failed")

// ErrUnaligned is returned for offsets that are not page multiples.
var ErrUnaligned = errors.New("pagecache: offset not page-aligned")

// IOError reports a failed positioned read or write against the image.
type IOError struct {
	Op     string // "read" or "write"
	Offset uint64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("pagecache: %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// entry is one cached page. It lives in exactly one bucket chain and one
// LRU position while present (invariants H1 and L1).
type entry struct {
	offset     uint64
	data       [PageSize]byte
	dirty      bool
	lastAccess int64 // unix nanos

	hnext      *entry // bucket collision chain
	prev, next *entry // LRU list, head = most recent
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Entries      int    `json:"entries"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	Writebacks   uint64 `json:"writebacks"`
	PartialReads uint64 `json:"partial_reads"`
}

// Config configures a Cache.
type Config struct {
	// File is the backing image, opened read-write. The cache issues
	// positioned I/O only and never moves the shared file offset.
	File *os.File

	// MaxEntries caps cache occupancy; exceeding it on a miss owes one
	// eviction before Get returns.
	MaxEntries int

	// Decode, if set, rewrites a freshly loaded page in place (slot
	// decoding). Runs on the miss path before the page becomes visible.
	Decode func(page []byte)

	Log *log.Entry
}

// Cache is safe for concurrent use. Lock order is shard → lru, and no two
// shard locks are ever held together; eviction defers to after the miss
// path's locks are released to keep that order.
type Cache struct {
	file       *os.File
	maxEntries int
	decode     func([]byte)
	log        *log.Entry

	buckets [HashSize]*entry
	shard   [MutexGroups]sync.Mutex

	lruMu sync.Mutex
	head  *entry
	tail  *entry
	count int

	// alloc builds a fresh entry; replaceable in tests to exercise the
	// allocation-failure path.
	alloc func() *entry

	hits         atomic.Uint64
	misses       atomic.Uint64
	evictions    atomic.Uint64
	writebacks   atomic.Uint64
	partialReads atomic.Uint64
}

// New builds a cache over the given backing file.
func New(cfg Config) (*Cache, error) {
	if cfg.File == nil {
		return nil, errors.New("pagecache: nil backing file")
	}
	if cfg.MaxEntries < 1 {
		return nil, fmt.Errorf("pagecache: max entries %d", cfg.MaxEntries)
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.WithField("component", "cache")
	}
	return &Cache{
		file:       cfg.File,
		maxEntries: cfg.MaxEntries,
		decode:     cfg.Decode,
		log:        logger,
		alloc:      func() *entry { return new(entry) },
	}, nil
}

// bucketFor mixes the page number so adjacent pages spread over the table.
func bucketFor(offset uint64) uint32 {
	h := (offset >> pageShift) * 0x9E3779B97F4A7C15
	return uint32(h >> (64 - 11)) // 2^11 buckets
}

func groupFor(bucket uint32) uint32 { return bucket % MutexGroups }

// Get copies the page at offset into dst, which must hold at least one page.
// The copy happens under the cache's locks, so the caller owns dst outright
// afterwards; the cached bytes are never exposed by reference. writeIntent
// marks the page dirty so eviction and teardown write it back.
func (c *Cache) Get(offset uint64, writeIntent bool, dst []byte) error {
	if offset%PageSize != 0 {
		return ErrUnaligned
	}
	if len(dst) < PageSize {
		return fmt.Errorf("pagecache: destination buffer is %d bytes, want %d", len(dst), PageSize)
	}

	b := bucketFor(offset)
	g := groupFor(b)

	c.shard[g].Lock()

	for e := c.buckets[b]; e != nil; e = e.hnext {
		if e.offset == offset {
			e.lastAccess = time.Now().UnixNano()
			if writeIntent {
				e.dirty = true
			}
			c.lruMu.Lock()
			c.moveToFront(e)
			c.lruMu.Unlock()
			copy(dst, e.data[:])
			c.shard[g].Unlock()
			c.hits.Add(1)
			return nil
		}
	}

	// Miss: load under the shard lock. Concurrent misses for the same shard
	// serialize here; the second caller finds the entry on its chain walk.
	e := c.alloc()
	if e == nil {
		c.shard[g].Unlock()
		return ErrAlloc
	}
	e.offset = offset

	n, err := c.file.ReadAt(e.data[:], int64(offset))
	if err != nil && err != io.EOF {
		c.shard[g].Unlock()
		return &IOError{Op: "read", Offset: offset, Err: err}
	}
	if n < PageSize {
		clear(e.data[n:])
		if n > 0 {
			c.partialReads.Add(1)
			c.log.WithFields(log.Fields{"offset": offset, "read": n}).
				Warn("partial page read, zero-filling remainder")
		}
	}
	if c.decode != nil {
		c.decode(e.data[:])
	}

	e.lastAccess = time.Now().UnixNano()
	e.dirty = writeIntent
	e.hnext = c.buckets[b]
	c.buckets[b] = e

	c.lruMu.Lock()
	c.pushFront(e)
	c.count++
	owed := c.count > c.maxEntries
	c.lruMu.Unlock()

	copy(dst, e.data[:])
	c.shard[g].Unlock()

	c.misses.Add(1)
	if owed {
		c.evictOne()
	}
	return nil
}

// Evict removes the LRU tail, writing it back first if dirty. No-op on an
// empty cache.
func (c *Cache) Evict() { c.evictOne() }

// evictOne runs with no locks held on entry and acquires victim-shard → lru.
// The tail is re-read under the locks: another caller may have promoted or
// evicted it in the window.
func (c *Cache) evictOne() {
	for {
		c.lruMu.Lock()
		v := c.tail
		c.lruMu.Unlock()
		if v == nil {
			return
		}

		b := bucketFor(v.offset)
		g := groupFor(b)

		c.shard[g].Lock()
		c.lruMu.Lock()
		if c.tail != v {
			c.lruMu.Unlock()
			c.shard[g].Unlock()
			continue
		}
		c.unlinkLRU(v)
		c.count--
		c.lruMu.Unlock()
		c.unlinkBucket(b, v)

		dirty := v.dirty
		var page [PageSize]byte
		if dirty {
			copy(page[:], v.data[:])
		}
		offset := v.offset
		c.shard[g].Unlock()

		if dirty {
			c.writeBack(offset, page[:])
		}
		c.evictions.Add(1)
		return
	}
}

// Flush writes back every dirty page and marks it clean. Entries stay cached.
func (c *Cache) Flush() {
	c.sweep(false)
}

// Close flushes all dirty pages and drops every entry. The cache must be
// quiescent: no Get may be in flight.
func (c *Cache) Close() {
	c.sweep(true)
}

// sweep walks every bucket under its shard lock, one shard at a time,
// writing back dirty pages. With drop set, entries are unlinked as they are
// visited and the LRU is reset afterwards.
func (c *Cache) sweep(drop bool) {
	type flushJob struct {
		e    *entry
		page [PageSize]byte
	}

	for b := uint32(0); b < HashSize; b++ {
		g := groupFor(b)
		c.shard[g].Lock()
		var jobs []flushJob
		for e := c.buckets[b]; e != nil; e = e.hnext {
			if e.dirty {
				j := flushJob{e: e}
				copy(j.page[:], e.data[:])
				jobs = append(jobs, j)
				e.dirty = false
			}
		}
		if drop {
			c.buckets[b] = nil
		}
		c.shard[g].Unlock()

		// I/O outside the shard lock; errors are logged, never propagated.
		// A failed write on a kept entry re-marks it dirty so a later flush
		// gets another attempt.
		for i := range jobs {
			if err := c.writeBack(jobs[i].e.offset, jobs[i].page[:]); err != nil && !drop {
				c.shard[g].Lock()
				jobs[i].e.dirty = true
				c.shard[g].Unlock()
			}
		}
	}

	if drop {
		c.lruMu.Lock()
		c.head = nil
		c.tail = nil
		c.count = 0
		c.lruMu.Unlock()
	}
}

// writeBack issues the positioned write for one page. Failures are logged,
// never propagated past the returned error.
func (c *Cache) writeBack(offset uint64, page []byte) error {
	c.writebacks.Add(1)
	_, err := c.file.WriteAt(page, int64(offset))
	if err != nil {
		c.log.WithFields(log.Fields{"offset": offset, "error": err}).
			Error("dirty page write-back failed")
	}
	return err
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.lruMu.Lock()
	defer c.lruMu.Unlock()
	return c.count
}

// Stats returns a counter snapshot.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:      c.Len(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    c.evictions.Load(),
		Writebacks:   c.writebacks.Load(),
		PartialReads: c.partialReads.Load(),
	}
}

// LRU helpers. Callers hold lruMu.

func (c *Cache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) unlinkLRU(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *Cache) moveToFront(e *entry) {
	if c.head == e {
		return
	}
	c.unlinkLRU(e)
	c.pushFront(e)
}

// unlinkBucket removes e from its collision chain. Caller holds the shard.
func (c *Cache) unlinkBucket(b uint32, e *entry) {
	if c.buckets[b] == e {
		c.buckets[b] = e.hnext
		e.hnext = nil
		return
	}
	for p := c.buckets[b]; p != nil; p = p.hnext {
		if p.hnext == e {
			p.hnext = e.hnext
			e.hnext = nil
			return
		}
	}
}
