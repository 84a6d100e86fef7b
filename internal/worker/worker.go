// Package worker runs the per-core loop: pick a block in the assigned
// segment, load it through the cache, mutate, compress, write the slot back,
// and log the page to the ring.
package worker

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/swaplab/swapd/internal/compress"
	"github.com/swaplab/swapd/internal/hotstats"
	"github.com/swaplab/swapd/internal/pagecache"
	"github.com/swaplab/swapd/internal/ringlog"
	"github.com/swaplab/swapd/internal/sched"
)

// highLoadUnits is the own-queue length past which the throttle doubles.
const highLoadUnits = sched.QueueCap / 2

// Config wires one worker.
type Config struct {
	ID           int
	File         *os.File // for compressed slot write-back
	Cache        *pagecache.Cache
	Sched        *sched.Scheduler
	Ring         *ringlog.Ring
	Codec        *compress.Codec
	Stats        *hotstats.Table
	Prefetch     *singleflight.Group // shared across workers
	SegmentBase  uint64
	SegmentLen   uint64
	ImageBytes   uint64 // addressable bound for prefetch
	BaseDelay    time.Duration
	MutatePasses int
	Log          *log.Entry
}

// Worker is one pseudo-core. Run loops until the context is cancelled or
// Stop clears the running flag.
type Worker struct {
	cfg    Config
	picker *compress.LevelPicker

	cursor  uint64
	running atomic.Bool

	scratch     [pagecache.PageSize]byte
	prefetchBuf [pagecache.PageSize]byte
	compBuf     []byte
	slotBuf     []byte

	iterations atomic.Uint64
	errorCount atomic.Uint64
	log        *log.Entry
}

// New builds a worker from cfg.
func New(cfg Config, picker *compress.LevelPicker) *Worker {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Millisecond
	}
	if cfg.MutatePasses < 1 {
		cfg.MutatePasses = 125
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.WithField("worker", cfg.ID)
	}
	return &Worker{
		cfg:    cfg,
		picker: picker,
		log:    logger,
	}
}

// ID returns the worker index.
func (w *Worker) ID() int { return w.cfg.ID }

// Iterations returns the number of completed loop iterations.
func (w *Worker) Iterations() uint64 { return w.iterations.Load() }

// Errors returns the number of iterations that hit a recoverable error.
func (w *Worker) Errors() uint64 { return w.errorCount.Load() }

// Stop clears the worker's own running flag. The loop also observes ctx.
func (w *Worker) Stop() { w.running.Store(false) }

// Run executes the loop until cancellation. Always returns nil: every
// mid-run failure is recoverable by design.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	w.log.WithFields(log.Fields{
		"segment_base": w.cfg.SegmentBase,
		"segment_len":  w.cfg.SegmentLen,
	}).Debug("worker starting")

	for w.running.Load() && ctx.Err() == nil {
		ok := w.step()

		delay := w.cfg.BaseDelay
		if !ok || w.cfg.Sched.QueueLen(w.cfg.ID) > highLoadUnits {
			delay *= 2
		}
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	w.log.Debug("worker stopped")
	return nil
}

// step runs one iteration. A false return asks the caller for a back-off
// delay.
func (w *Worker) step() bool {
	pages := w.cfg.SegmentLen / pagecache.PageSize
	if pages == 0 {
		return false
	}
	offset := w.cfg.SegmentBase + (w.cursor%pages)*pagecache.PageSize
	w.cursor++

	w.cfg.Sched.ReportAccess(w.cfg.ID, offset)
	if w.cfg.Stats != nil {
		w.cfg.Stats.Record(offset)
	}

	if w.cfg.Sched.ShouldMigrate(w.cfg.ID) {
		if m, ok := w.cfg.Sched.MigratedTask(w.cfg.ID); ok {
			w.log.WithField("offset", m).Debug("picked up migrated block")
			offset = m
		}
	}

	if err := w.cfg.Cache.Get(offset, true, w.scratch[:]); err != nil {
		w.errorCount.Add(1)
		if errors.Is(err, pagecache.ErrAlloc) {
			w.log.Warn("no cache buffer available, skipping iteration")
		} else {
			w.log.WithFields(log.Fields{"offset": offset, "error": err}).
				Warn("page load failed")
		}
		return false
	}

	w.maybePrefetch(offset)
	w.mutate()

	level := w.picker.Level()
	comp, err := w.cfg.Codec.Compress(w.compBuf[:0], w.scratch[:], level)
	if err != nil {
		w.errorCount.Add(1)
		w.log.WithFields(log.Fields{"offset": offset, "level": level, "error": err}).
			Warn("page compression failed, skipping write-back")
	} else {
		w.compBuf = comp[:0]
		slot := w.cfg.Codec.EncodeSlot(w.slotBuf[:0], comp, w.scratch[:])
		w.slotBuf = slot[:0]
		if _, werr := w.cfg.File.WriteAt(slot, int64(offset)); werr != nil {
			w.errorCount.Add(1)
			w.log.WithFields(log.Fields{"offset": offset, "error": werr}).
				Error("compressed write-back failed")
		}
		w.picker.Observe(len(comp))
	}

	w.cfg.Ring.Append(offset, w.scratch[:])
	w.iterations.Add(1)
	return true
}

// maybePrefetch warms the cache with the neighbouring page when the access
// pattern looks worth it. Best-effort: errors are dropped, and concurrent
// prefetches of the same page collapse through the shared singleflight
// group.
func (w *Worker) maybePrefetch(offset uint64) {
	next := offset + pagecache.PageSize
	if next+pagecache.PageSize > w.cfg.ImageBytes {
		return
	}
	if w.cfg.Stats != nil && !w.cfg.Stats.AdvisePrefetch(offset) {
		return
	}
	if w.cfg.Prefetch == nil {
		_ = w.cfg.Cache.Get(next, false, w.prefetchBuf[:])
		return
	}
	key := strconv.FormatUint(next, 10)
	w.cfg.Prefetch.Do(key, func() (any, error) {
		_ = w.cfg.Cache.Get(next, false, w.prefetchBuf[:])
		return nil, nil
	})
}

// mutate XORs the scratch page with the worker id for a fixed number of
// passes. Models CPU work between load and write-back.
func (w *Worker) mutate() {
	mask := byte(w.cfg.ID)
	for p := 0; p < w.cfg.MutatePasses; p++ {
		for i := range w.scratch {
			w.scratch[i] ^= mask
		}
	}
}
