package blockstore

import "testing"

func TestMemSubStoreAllocateReadWrite(t *testing.T) {
	ss := NewMemSubStore(8, 4, testLogger())
	i, err := ss.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ok, err := ss.Test(i); err != nil || !ok {
		t.Fatalf("Test(%d) = %v, %v, want true", i, ok, err)
	}
	rec := []byte{1, 2, 3, 4}
	if err := ss.Write(i, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := make([]byte, 4)
	if err := ss.Read(i, out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for j := range rec {
		if rec[j] != out[j] {
			t.Fatalf("record mismatch at %d: wrote %d read %d", j, rec[j], out[j])
		}
	}
	if err := ss.Release(i); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := ss.Test(i); ok {
		t.Fatalf("expected record %d free after release", i)
	}
}

func TestMemSubStoreExhaustion(t *testing.T) {
	ss := NewMemSubStore(2, 4, testLogger())
	if _, err := ss.Allocate(); err != nil {
		t.Fatalf("Allocate 1: %v", err)
	}
	if _, err := ss.Allocate(); err != nil {
		t.Fatalf("Allocate 2: %v", err)
	}
	if _, err := ss.Allocate(); err != ErrNoSpace {
		t.Fatalf("Allocate 3 = %v, want ErrNoSpace", err)
	}
}

func TestBlockBackedSubStorePersistsThroughBlockStore(t *testing.T) {
	bs := Create(testLogger())
	bitmapBlock, err := bs.Allocate()
	if err != nil {
		t.Fatalf("Allocate bitmap block: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := bs.Allocate(); err != nil {
			t.Fatalf("Allocate table block %d: %v", i, err)
		}
	}
	startBlock := bitmapBlock + 1

	ss, err := NewBlockBackedSubStore(bs, bitmapBlock, startBlock, 4, 64, 64, testLogger())
	if err != nil {
		t.Fatalf("NewBlockBackedSubStore: %v", err)
	}

	idx, err := ss.Allocate()
	if err != nil {
		t.Fatalf("Allocate record: %v", err)
	}
	rec := make([]byte, 64)
	rec[0] = 0xAB
	if err := ss.Write(idx, rec); err != nil {
		t.Fatalf("Write record: %v", err)
	}

	// Reading straight from the host block store must observe the same
	// bytes: the sub-store has no separate storage of its own.
	recordsPerBlock := BlockSizeBytes / 64
	blockID := startBlock + idx/recordsPerBlock
	off := (idx % recordsPerBlock) * 64
	raw := make([]byte, BlockSizeBytes)
	if _, err := bs.Read(blockID, raw); err != nil {
		t.Fatalf("raw Read: %v", err)
	}
	if raw[off] != 0xAB {
		t.Fatalf("expected record byte to be visible in host block, got %#x", raw[off])
	}

	used, err := ss.Test(idx)
	if err != nil || !used {
		t.Fatalf("Test(%d) = %v, %v, want true", idx, used, err)
	}
}

func TestSubStoreOutOfRange(t *testing.T) {
	ss := NewMemSubStore(4, 4, testLogger())
	if err := ss.Release(10); err != ErrRecordOutOfRange {
		t.Fatalf("Release(10) = %v, want ErrRecordOutOfRange", err)
	}
	if _, err := ss.Test(-1); err != ErrRecordOutOfRange {
		t.Fatalf("Test(-1) = %v, want ErrRecordOutOfRange", err)
	}
}
