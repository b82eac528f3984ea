package bitmap

import "testing"

func TestSetResetTest(t *testing.T) {
	bm := New(10)
	if ok, err := bm.Test(3); err != nil || ok {
		t.Fatalf("expected bit 3 clear, got %v err %v", ok, err)
	}
	if err := bm.Set(3); err != nil {
		t.Fatalf("Set(3): %v", err)
	}
	if ok, err := bm.Test(3); err != nil || !ok {
		t.Fatalf("expected bit 3 set, got %v err %v", ok, err)
	}
	if err := bm.Reset(3); err != nil {
		t.Fatalf("Reset(3): %v", err)
	}
	if ok, _ := bm.Test(3); ok {
		t.Fatalf("expected bit 3 clear after reset")
	}
}

func TestOutOfRange(t *testing.T) {
	bm := New(8)
	if err := bm.Set(8); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := bm.Set(-1); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange for negative index, got %v", err)
	}
	if _, err := bm.Test(100); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestFirstZeroRespectsPadding(t *testing.T) {
	// 5 bits means 3 padding bits in the single backing byte; they must
	// never be reported as free.
	bm := New(5)
	for i := 0; i < 5; i++ {
		if err := bm.Set(i); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	if got := bm.FirstZero(); got != notFound {
		t.Fatalf("FirstZero() = %d, want %d (no free bits within n_bits)", got, notFound)
	}
}

func TestFirstZeroScanOrder(t *testing.T) {
	bm := New(20)
	for i := 0; i < 9; i++ {
		_ = bm.Set(i)
	}
	if got := bm.FirstZero(); got != 9 {
		t.Fatalf("FirstZero() = %d, want 9", got)
	}
}

func TestFirstSet(t *testing.T) {
	bm := New(16)
	if got := bm.FirstSet(); got != notFound {
		t.Fatalf("FirstSet() on empty bitmap = %d, want %d", got, notFound)
	}
	_ = bm.Set(12)
	if got := bm.FirstSet(); got != 12 {
		t.Fatalf("FirstSet() = %d, want 12", got)
	}
}

func TestPopcount(t *testing.T) {
	bm := New(17)
	for _, i := range []int{0, 1, 16} {
		_ = bm.Set(i)
	}
	if got := bm.Popcount(); got != 3 {
		t.Fatalf("Popcount() = %d, want 3", got)
	}
}

func TestOverlaySharesStorage(t *testing.T) {
	buf := make([]byte, 4)
	bm, err := Overlay(buf, 32)
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if err := bm.Set(5); err != nil {
		t.Fatalf("Set(5): %v", err)
	}
	if buf[0] != 1<<5 {
		t.Fatalf("expected overlay to mutate backing buffer in place, got %08b", buf[0])
	}
}

func TestOverlayTooSmall(t *testing.T) {
	buf := make([]byte, 1)
	if _, err := Overlay(buf, 100); err == nil {
		t.Fatalf("expected error for undersized overlay buffer")
	}
}

func TestBitsAndDestroy(t *testing.T) {
	bm := New(13)
	if got := bm.Bits(); got != 13 {
		t.Fatalf("Bits() = %d, want 13", got)
	}
	bm.Destroy()
	if got := bm.Bits(); got != 0 {
		t.Fatalf("Bits() after Destroy() = %d, want 0", got)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var bm *Bitmap
	if got := bm.FirstSet(); got != notFound {
		t.Fatalf("nil FirstSet() = %d, want %d", got, notFound)
	}
	if got := bm.FirstZero(); got != notFound {
		t.Fatalf("nil FirstZero() = %d, want %d", got, notFound)
	}
	if got := bm.Popcount(); got != 0 {
		t.Fatalf("nil Popcount() = %d, want 0", got)
	}
	bm.Destroy()
}
