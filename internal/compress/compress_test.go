package compress

import (
	"bytes"
	"math/rand"
	"testing"
)

const testPageSize = 4096

func constantPage(b byte) []byte {
	page := make([]byte, testPageSize)
	for i := range page {
		page[i] = b
	}
	return page
}

func randomPage(seed int64) []byte {
	page := make([]byte, testPageSize)
	rand.New(rand.NewSource(seed)).Read(page)
	return page
}

func TestRoundTrip(t *testing.T) {
	codec, err := NewCodec(testPageSize, 1, 9)
	if err != nil {
		t.Fatal(err)
	}

	pages := [][]byte{
		constantPage(0),
		constantPage(0xAB),
		randomPage(1),
	}
	for _, level := range []int{1, 3, 5, 9} {
		for i, page := range pages {
			comp, err := codec.Compress(nil, page, level)
			if err != nil {
				t.Fatalf("compress level %d page %d: %v", level, i, err)
			}
			got, err := codec.Decompress(nil, comp)
			if err != nil {
				t.Fatalf("decompress level %d page %d: %v", level, i, err)
			}
			if !bytes.Equal(got, page) {
				t.Errorf("level %d page %d: round trip mismatch", level, i)
			}
		}
	}
}

func TestCompressRejectsWrongSize(t *testing.T) {
	codec, err := NewCodec(testPageSize, 1, 9)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Compress(nil, make([]byte, 100), 1); err == nil {
		t.Error("expected error for short input")
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	codec, err := NewCodec(testPageSize, 1, 9)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Decompress(nil, []byte("not a zstd frame")); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestEntropyLevel(t *testing.T) {
	if got := EntropyLevel(constantPage(7)); got != 1 {
		t.Errorf("constant page: level = %d, want 1", got)
	}

	// 16 symbols uniformly: H = 4 exactly, lands in the mid band.
	page := make([]byte, testPageSize)
	for i := range page {
		page[i] = byte(i % 16)
	}
	if got := EntropyLevel(page); got != 3 {
		t.Errorf("16-symbol page: level = %d, want 3", got)
	}

	if got := EntropyLevel(randomPage(2)); got != 5 {
		t.Errorf("random page: level = %d, want 5", got)
	}
}

func TestLevelPickerRatioFeedback(t *testing.T) {
	codec, err := NewCodec(testPageSize, 1, 9)
	if err != nil {
		t.Fatal(err)
	}
	picker := NewLevelPicker(testPageSize, 1, 9)

	// Initial previous size is a full page, so the first pick is max.
	if got := picker.Level(); got != 9 {
		t.Fatalf("first pick = %d, want 9", got)
	}

	comp, err := codec.Compress(nil, constantPage(0), picker.Level())
	if err != nil {
		t.Fatal(err)
	}
	picker.Observe(len(comp))

	// The constant page compressed well, so the second pick drops to min.
	if got := picker.Level(); got != 1 {
		t.Fatalf("second pick = %d, want 1", got)
	}

	comp, err = codec.Compress(nil, randomPage(3), picker.Level())
	if err != nil {
		t.Fatal(err)
	}
	picker.Observe(len(comp))

	// The random page barely shrank, so the third pick raises to max.
	if got := picker.Level(); got != 9 {
		t.Fatalf("third pick = %d, want 9", got)
	}
}

func TestSlotRoundTrip(t *testing.T) {
	codec, err := NewCodec(testPageSize, 1, 9)
	if err != nil {
		t.Fatal(err)
	}

	page := constantPage(0x5A)
	comp, err := codec.Compress(nil, page, 3)
	if err != nil {
		t.Fatal(err)
	}

	slot := codec.EncodeSlot(nil, comp, page)
	if len(slot) >= testPageSize {
		t.Fatalf("compressible page produced a %d-byte slot", len(slot))
	}
	if !bytes.HasPrefix(slot, slotMagic) {
		t.Fatal("slot missing magic")
	}

	// Simulate the read path: the slot lands at the front of a page-sized
	// buffer, the rest is stale.
	buf := randomPage(4)
	copy(buf, slot)
	codec.DecodeSlotInPlace(buf)
	if !bytes.Equal(buf, page) {
		t.Error("decoded slot does not match the original page")
	}
}

func TestSlotRawFallback(t *testing.T) {
	codec, err := NewCodec(testPageSize, 1, 9)
	if err != nil {
		t.Fatal(err)
	}

	page := randomPage(5)
	comp, err := codec.Compress(nil, page, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(comp)+slotHeaderSize < testPageSize {
		t.Skip("random page unexpectedly compressible")
	}

	slot := codec.EncodeSlot(nil, comp, page)
	if !bytes.Equal(slot, page) {
		t.Fatal("incompressible page should be stored raw")
	}

	buf := make([]byte, testPageSize)
	copy(buf, slot)
	codec.DecodeSlotInPlace(buf)
	if !bytes.Equal(buf, page) {
		t.Error("raw slot must decode to itself")
	}
}

func TestDecodeSlotLeavesPlainPagesAlone(t *testing.T) {
	codec, err := NewCodec(testPageSize, 1, 9)
	if err != nil {
		t.Fatal(err)
	}
	page := randomPage(6)
	buf := make([]byte, testPageSize)
	copy(buf, page)
	codec.DecodeSlotInPlace(buf)
	if !bytes.Equal(buf, page) {
		t.Error("page without slot header was modified")
	}
}
