package ringlog

import (
	"bytes"
	"testing"
)

const pageSize = 4096

func page(b byte) []byte {
	p := make([]byte, pageSize)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestNewRoundsDownToPages(t *testing.T) {
	r, err := New(pageSize*2+100, pageSize)
	if err != nil {
		t.Fatal(err)
	}
	if r.Size() != pageSize*2 {
		t.Errorf("Size = %d, want %d", r.Size(), pageSize*2)
	}
}

func TestNewRejectsTinyBuffer(t *testing.T) {
	if _, err := New(100, pageSize); err == nil {
		t.Error("expected error for sub-page ring")
	}
}

func TestAppendAdvancesAndWraps(t *testing.T) {
	r, err := New(pageSize*2, pageSize)
	if err != nil {
		t.Fatal(err)
	}

	r.Append(0, page(1))
	r.Append(pageSize, page(2))
	// Third append wraps onto the first slot.
	r.Append(2*pageSize, page(3))

	if got := r.Appends(); got != 3 {
		t.Fatalf("Appends = %d, want 3", got)
	}
	if got := r.Overflows(); got != 0 {
		t.Fatalf("Overflows = %d, want 0", got)
	}

	buf := make([]byte, r.Size())
	cursor := r.Snapshot(buf)
	if cursor != pageSize {
		t.Errorf("cursor = %d, want %d", cursor, pageSize)
	}
	if !bytes.Equal(buf[:pageSize], page(3)) {
		t.Error("first slot should hold the wrapped page")
	}
	if !bytes.Equal(buf[pageSize:], page(2)) {
		t.Error("second slot should hold the second page")
	}
}

func TestAppendDropsWrongSizedPages(t *testing.T) {
	r, err := New(pageSize*2, pageSize)
	if err != nil {
		t.Fatal(err)
	}
	r.Append(0, make([]byte, 100))
	if got := r.Overflows(); got != 1 {
		t.Errorf("Overflows = %d, want 1", got)
	}
	if got := r.Appends(); got != 0 {
		t.Errorf("Appends = %d, want 0", got)
	}
}
