package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestCreateReservesFBMBlocks(t *testing.T) {
	bs := Create(testLogger())
	if got := bs.UsedCount(); got != fbmNumBlocks {
		t.Fatalf("UsedCount() = %d, want %d", got, fbmNumBlocks)
	}
	if got := bs.FreeCount(); got != NumBlocks-fbmNumBlocks {
		t.Fatalf("FreeCount() = %d, want %d", got, NumBlocks-fbmNumBlocks)
	}
	for id := FBMStartBlock; id < NumBlocks; id++ {
		used, err := bs.fbm.Test(id)
		if err != nil || !used {
			t.Fatalf("expected FBM block %d to be marked used", id)
		}
	}
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	bs := Create(testLogger())
	id, err := bs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id < 0 || id >= FBMStartBlock {
		t.Fatalf("Allocate() = %d, expected a data block", id)
	}
	usedAfterAlloc := bs.UsedCount()
	if err := bs.Release(id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if bs.UsedCount() != usedAfterAlloc-1 {
		t.Fatalf("UsedCount() after release = %d, want %d", bs.UsedCount(), usedAfterAlloc-1)
	}
}

func TestRequestRejectsUsedAndOutOfRange(t *testing.T) {
	bs := Create(testLogger())
	if err := bs.Request(FBMStartBlock); err != ErrAlreadyUsed {
		t.Fatalf("Request(reserved) = %v, want ErrAlreadyUsed", err)
	}
	if err := bs.Request(NumBlocks); err != ErrOutOfRange {
		t.Fatalf("Request(out of range) = %v, want ErrOutOfRange", err)
	}
	if err := bs.Request(10); err != nil {
		t.Fatalf("Request(10): %v", err)
	}
	if err := bs.Request(10); err != ErrAlreadyUsed {
		t.Fatalf("Request(10) again = %v, want ErrAlreadyUsed", err)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	bs := Create(testLogger())
	id, err := bs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	in := make([]byte, BlockSizeBytes)
	for i := range in {
		in[i] = byte(i % 256)
	}
	if n, err := bs.Write(id, in); err != nil || n != BlockSizeBytes {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	out := make([]byte, BlockSizeBytes)
	if n, err := bs.Read(id, out); err != nil || n != BlockSizeBytes {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("round-trip mismatch at byte %d: wrote %d, read %d", i, in[i], out[i])
		}
	}
}

func TestAllocateFailsWhenFull(t *testing.T) {
	bs := Create(testLogger())
	for {
		if _, err := bs.Allocate(); err != nil {
			if err != ErrNoSpace {
				t.Fatalf("unexpected error filling store: %v", err)
			}
			break
		}
	}
	if bs.FreeCount() != 0 {
		t.Fatalf("FreeCount() = %d, want 0 once full", bs.FreeCount())
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	bs := Create(testLogger())
	id, err := bs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	pattern := make([]byte, BlockSizeBytes)
	for i := range pattern {
		pattern[i] = byte(i*7 + 1)
	}
	if _, err := bs.Write(id, pattern); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(t.TempDir(), "img.blockfs")
	if err := bs.Serialize(path); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	bs2, err := Deserialize(path, testLogger())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	out := make([]byte, BlockSizeBytes)
	if _, err := bs2.Read(id, out); err != nil {
		t.Fatalf("Read after deserialize: %v", err)
	}
	for i := range pattern {
		if pattern[i] != out[i] {
			t.Fatalf("byte %d mismatch after round trip: wrote %d, read %d", i, pattern[i], out[i])
		}
	}
	if bs2.UsedCount() != bs.UsedCount() {
		t.Fatalf("UsedCount mismatch after round trip: got %d, want %d", bs2.UsedCount(), bs.UsedCount())
	}
}
