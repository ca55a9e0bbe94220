package wire

import (
	"bytes"
	"testing"
)

func TestRoundTripUnswapped(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Uint32(42); err != nil {
		t.Fatal(err)
	}
	if err := w.Uint64(1 << 40); err != nil {
		t.Fatal(err)
	}
	if err := w.Float64(3.25); err != nil {
		t.Fatal(err)
	}
	if err := w.String("hello"); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf, false)
	if v, err := r.Uint32(); err != nil || v != 42 {
		t.Errorf("Uint32 = %d, %v, want 42, nil", v, err)
	}
	if v, err := r.Uint64(); err != nil || v != 1<<40 {
		t.Errorf("Uint64 = %d, %v, want %d, nil", v, err, uint64(1<<40))
	}
	if v, err := r.Float64(); err != nil || v != 3.25 {
		t.Errorf("Float64 = %v, %v, want 3.25, nil", v, err)
	}
	if s, err := r.String(); err != nil || s != "hello" {
		t.Errorf("String = %q, %v, want %q, nil", s, err, "hello")
	}
}

func TestSwappedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Uint32(swap32(0xDEADBEEF)); err != nil {
		t.Fatal(err)
	}
	r := NewReader(&buf, true)
	v, err := r.Uint32()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xDEADBEEF {
		t.Errorf("Uint32 (swapped) = %#x, want %#x", v, uint32(0xDEADBEEF))
	}
}

func TestShortReadErrors(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2}), false)
	if _, err := r.Uint32(); err != ErrShortRead {
		t.Errorf("expected ErrShortRead, got %v", err)
	}
}

func TestStringShortBodyErrors(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Uint32(10) // claims 10 bytes follow, but none do
	r := NewReader(&buf, false)
	if _, err := r.String(); err != ErrShortRead {
		t.Errorf("expected ErrShortRead, got %v", err)
	}
}
