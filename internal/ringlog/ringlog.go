// Package ringlog keeps a fixed circular buffer of the most recently written
// pages. It is a diagnostic tap, not part of the data path: writes that do
// not fit are dropped and counted.
package ringlog

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Ring is a contiguous byte buffer with a single cursor. Appends copy whole
// pages; the cursor never splits a page across the wrap point.
type Ring struct {
	mu       sync.Mutex
	buf      []byte
	cursor   int
	pageSize int

	overflows atomic.Uint64
	appends   atomic.Uint64
}

// New builds a ring of size bytes, rounded down to a multiple of pageSize.
func New(size, pageSize int) (*Ring, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("ringlog: page size %d", pageSize)
	}
	size -= size % pageSize
	if size < pageSize {
		return nil, fmt.Errorf("ringlog: size %d holds no pages", size)
	}
	return &Ring{
		buf:      make([]byte, size),
		pageSize: pageSize,
	}, nil
}

// Append copies one page into the ring and advances the cursor. offset is
// diagnostic only and is not stored. A page that does not fit at the current
// cursor is dropped and counted as an overflow.
func (r *Ring) Append(offset uint64, page []byte) {
	if len(page) != r.pageSize {
		r.overflows.Add(1)
		return
	}

	r.mu.Lock()
	if len(r.buf)-r.cursor < r.pageSize {
		r.mu.Unlock()
		r.overflows.Add(1)
		return
	}
	copy(r.buf[r.cursor:], page)
	r.cursor = (r.cursor + r.pageSize) % len(r.buf)
	r.mu.Unlock()

	r.appends.Add(1)
}

// Size returns the ring capacity in bytes.
func (r *Ring) Size() int { return len(r.buf) }

// Appends returns the number of pages accepted.
func (r *Ring) Appends() uint64 { return r.appends.Load() }

// Overflows returns the number of dropped appends.
func (r *Ring) Overflows() uint64 { return r.overflows.Load() }

// Snapshot copies the ring contents into dst and returns the current cursor.
// Diagnostic use only.
func (r *Ring) Snapshot(dst []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(dst, r.buf)
	return r.cursor
}
