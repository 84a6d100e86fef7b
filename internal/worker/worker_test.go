package worker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swaplab/swapd/internal/compress"
	"github.com/swaplab/swapd/internal/pagecache"
	"github.com/swaplab/swapd/internal/ringlog"
	"github.com/swaplab/swapd/internal/sched"
)

// testRig wires a single worker against a temp image.
type testRig struct {
	worker *Worker
	cache  *pagecache.Cache
	file   *os.File
	codec  *compress.Codec
	ring   *ringlog.Ring
	sch    *sched.Scheduler
}

func newTestRig(t *testing.T, id int, segmentPages int) *testRig {
	t.Helper()

	path := filepath.Join(t.TempDir(), "swap.img")
	if err := os.WriteFile(path, make([]byte, segmentPages*pagecache.PageSize*(id+1)), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })

	codec, err := compress.NewCodec(pagecache.PageSize, 1, 9)
	if err != nil {
		t.Fatal(err)
	}
	cache, err := pagecache.New(pagecache.Config{
		File:       f,
		MaxEntries: segmentPages * 2,
		Decode:     codec.DecodeSlotInPlace,
	})
	if err != nil {
		t.Fatal(err)
	}
	ring, err := ringlog.New(4*pagecache.PageSize, pagecache.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	sch := sched.New(id+1, 5)

	segLen := uint64(segmentPages) * pagecache.PageSize
	w := New(Config{
		ID:           id,
		File:         f,
		Cache:        cache,
		Sched:        sch,
		Ring:         ring,
		Codec:        codec,
		SegmentBase:  uint64(id) * segLen,
		SegmentLen:   segLen,
		ImageBytes:   0, // no prefetch: keeps cache traffic deterministic
		BaseDelay:    5 * time.Millisecond,
		MutatePasses: 1,
	}, compress.NewLevelPicker(pagecache.PageSize, 1, 9))

	return &testRig{worker: w, cache: cache, file: f, codec: codec, ring: ring, sch: sch}
}

func TestStepWalksSegmentAndWraps(t *testing.T) {
	rig := newTestRig(t, 0, 4)

	for i := 0; i < 4; i++ {
		if !rig.worker.step() {
			t.Fatalf("step %d failed", i)
		}
	}
	st := rig.cache.Stats()
	if st.Misses != 4 || st.Hits != 0 {
		t.Fatalf("first lap: misses = %d hits = %d, want 4/0", st.Misses, st.Hits)
	}

	// Second lap revisits the same four pages through the cache.
	for i := 0; i < 4; i++ {
		if !rig.worker.step() {
			t.Fatalf("wrap step %d failed", i)
		}
	}
	st = rig.cache.Stats()
	if st.Misses != 4 || st.Hits != 4 {
		t.Errorf("second lap: misses = %d hits = %d, want 4/4", st.Misses, st.Hits)
	}
	if got := rig.worker.Iterations(); got != 8 {
		t.Errorf("Iterations = %d, want 8", got)
	}
	if got := rig.ring.Appends(); got != 8 {
		t.Errorf("ring Appends = %d, want 8", got)
	}
}

func TestStepWritesDecodableSlot(t *testing.T) {
	rig := newTestRig(t, 1, 2)

	if !rig.worker.step() {
		t.Fatal("step failed")
	}

	// Worker 1's first block is its segment base. The slot on disk must
	// decode back to the mutated page: zeros XOR id over an odd pass count.
	offset := int64(rig.worker.cfg.SegmentBase)
	buf := make([]byte, pagecache.PageSize)
	if _, err := rig.file.ReadAt(buf, offset); err != nil {
		t.Fatal(err)
	}
	rig.codec.DecodeSlotInPlace(buf)

	want := bytes.Repeat([]byte{1}, pagecache.PageSize)
	if !bytes.Equal(buf, want) {
		t.Error("slot did not decode to the mutated page")
	}
}

func TestStepReportsAccesses(t *testing.T) {
	rig := newTestRig(t, 0, 4)
	for i := 0; i < 3; i++ {
		rig.worker.step()
	}
	if got := rig.sch.QueueLen(0); got != 3 {
		t.Errorf("QueueLen = %d, want 3", got)
	}
}

func TestStepSurvivesLoadFailure(t *testing.T) {
	rig := newTestRig(t, 0, 4)
	rig.file.Close() // every pread now fails

	if rig.worker.step() {
		t.Fatal("step should report failure")
	}
	if got := rig.worker.Errors(); got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	rig := newTestRig(t, 0, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rig.worker.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	if rig.worker.Iterations() == 0 {
		t.Error("worker made no progress before cancel")
	}
}

func TestRunStopsOnStopFlag(t *testing.T) {
	rig := newTestRig(t, 0, 4)

	done := make(chan struct{})
	go func() {
		rig.worker.Run(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	rig.worker.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after Stop")
	}
}
