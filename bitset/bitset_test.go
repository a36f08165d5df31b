package bitset

import "testing"

func TestSetClearTest(t *testing.T) {
	buf := make([]byte, ByteLen(10))
	b := New(buf, 10)

	if b.Test(3) {
		t.Fatalf("expected bit 3 to be unset initially")
	}

	b.Set(3)
	if !b.Test(3) {
		t.Fatalf("expected bit 3 to be set")
	}

	b.Clear(3)
	if b.Test(3) {
		t.Fatalf("expected bit 3 to be cleared")
	}
}

func TestPopCount(t *testing.T) {
	buf := make([]byte, ByteLen(16))
	b := New(buf, 16)

	for _, i := range []int{0, 1, 8, 15} {
		b.Set(i)
	}

	if got := b.PopCount(); got != 4 {
		t.Fatalf("expected popcount 4, got %d", got)
	}
}

func TestLowestUnset(t *testing.T) {
	buf := make([]byte, ByteLen(8))
	b := New(buf, 8)

	for i := 0; i < 8; i++ {
		b.Set(i)
	}

	if got := b.LowestUnset(); got != -1 {
		t.Fatalf("expected -1 when full, got %d", got)
	}

	b.Clear(5)
	if got := b.LowestUnset(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestLowestSetAfter(t *testing.T) {
	buf := make([]byte, ByteLen(10))
	b := New(buf, 10)
	b.Set(0)
	b.Set(4)
	b.Set(7)

	if got := b.LowestSetAfter(-1); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}

	if got := b.LowestSetAfter(0); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}

	if got := b.LowestSetAfter(7); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}
