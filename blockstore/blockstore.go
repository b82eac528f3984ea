// Package blockstore implements a fixed-size array of blocks with an
// embedded free-block bitmap (the FBM), plus SubStore, a fixed-record
// allocator layered either on a range of the whole store's blocks or on its
// own private memory.
//
// The FBM overlays the last 8 blocks of the store directly: Bitmap.Bytes()
// for that overlay IS those blocks' bytes, so there is never a second copy
// to keep in sync, and the bitmap's state round-trips through
// Serialize/Deserialize for free along with every other block.
package blockstore

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/nelson137/blockfs/backend/file"
	"github.com/nelson137/blockfs/bitmap"
)

const (
	// BlockSizeBytes is the size in bytes of a single block.
	BlockSizeBytes = 1024
	// NumBlocks is the total number of blocks in a store.
	NumBlocks = 65536
	// fbmNumBlocks is how many trailing blocks hold the free-block map; one
	// bit per block means NumBlocks bits = NumBlocks/8 bytes = 8 blocks.
	fbmNumBlocks = 8
	// FBMStartBlock is the first block reserved for the free-block map.
	FBMStartBlock = NumBlocks - fbmNumBlocks

	// imageSizeBytes is the full size of a serialized store: a fixed 64 MiB.
	imageSizeBytes = NumBlocks * BlockSizeBytes
)

var (
	// ErrNoSpace is returned by Allocate when every block is in use.
	ErrNoSpace = errors.New("blockstore: no free blocks")
	// ErrOutOfRange is returned for a block id outside [0, NumBlocks).
	ErrOutOfRange = errors.New("blockstore: block id out of range")
	// ErrAlreadyUsed is returned by Request for a block already allocated.
	ErrAlreadyUsed = errors.New("blockstore: block already in use")
	// ErrShortIO is returned when a read or write transfers less than a
	// full block.
	ErrShortIO = errors.New("blockstore: short block transfer")
)

// BlockStore owns NumBlocks fixed-size blocks plus the FBM overlaid on its
// own final fbmNumBlocks blocks.
type BlockStore struct {
	data []byte // NumBlocks * BlockSizeBytes, contiguous
	fbm  *bitmap.Bitmap
	log  logrus.FieldLogger
}

// Create allocates a fresh, all-zero BlockStore. The FBM's own reserved
// blocks are marked in-use immediately; every other block starts free.
func Create(log logrus.FieldLogger) *BlockStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	data := make([]byte, imageSizeBytes)
	fbmBuf := data[FBMStartBlock*BlockSizeBytes:]
	fbm, err := bitmap.Overlay(fbmBuf, NumBlocks)
	if err != nil {
		// fbmBuf is sized exactly 8*BlockSizeBytes = NumBlocks/8 bytes by
		// construction above; this can only fail if those constants drift.
		panic(fmt.Sprintf("blockstore: FBM overlay invariant violated: %v", err))
	}
	bs := &BlockStore{data: data, fbm: fbm, log: log}
	for i := FBMStartBlock; i < NumBlocks; i++ {
		_ = bs.fbm.Set(i)
	}
	bs.log.WithField("reserved_blocks", fbmNumBlocks).Debug("blockstore: created")
	return bs
}

func (bs *BlockStore) block(id int) ([]byte, error) {
	if bs == nil {
		return nil, errors.New("blockstore: nil receiver")
	}
	if id < 0 || id >= NumBlocks {
		return nil, ErrOutOfRange
	}
	return bs.data[id*BlockSizeBytes : (id+1)*BlockSizeBytes], nil
}

// Allocate finds the first free block, marks it used, and returns its id.
func (bs *BlockStore) Allocate() (int, error) {
	if bs == nil {
		return 0, errors.New("blockstore: nil receiver")
	}
	id := bs.fbm.FirstZero()
	if id < 0 {
		return 0, ErrNoSpace
	}
	if err := bs.fbm.Set(id); err != nil {
		return 0, err
	}
	bs.log.WithField("block", id).Debug("blockstore: allocated")
	return id, nil
}

// Request reserves a specific block id. It fails if the id is out of range
// or already in use, leaving the bitmap untouched.
func (bs *BlockStore) Request(id int) error {
	if bs == nil {
		return errors.New("blockstore: nil receiver")
	}
	if id < 0 || id >= NumBlocks {
		return ErrOutOfRange
	}
	used, err := bs.fbm.Test(id)
	if err != nil {
		return err
	}
	if used {
		return ErrAlreadyUsed
	}
	return bs.fbm.Set(id)
}

// Release marks a block as free. Releasing an already-free block is not an
// error.
func (bs *BlockStore) Release(id int) error {
	if bs == nil {
		return errors.New("blockstore: nil receiver")
	}
	if id < 0 || id >= NumBlocks {
		return ErrOutOfRange
	}
	bs.log.WithField("block", id).Debug("blockstore: released")
	return bs.fbm.Reset(id)
}

// Read copies the full contents of block id into buf, which must be at
// least BlockSizeBytes long. It returns the number of bytes transferred:
// BlockSizeBytes on success, 0 on any failure.
func (bs *BlockStore) Read(id int, buf []byte) (int, error) {
	if len(buf) < BlockSizeBytes {
		return 0, fmt.Errorf("blockstore: read buffer too small (%d < %d)", len(buf), BlockSizeBytes)
	}
	src, err := bs.block(id)
	if err != nil {
		return 0, err
	}
	copy(buf, src)
	return BlockSizeBytes, nil
}

// Write copies BlockSizeBytes from buf into block id. It returns the number
// of bytes transferred: BlockSizeBytes on success, 0 on any failure.
func (bs *BlockStore) Write(id int, buf []byte) (int, error) {
	if len(buf) < BlockSizeBytes {
		return 0, fmt.Errorf("blockstore: write buffer too small (%d < %d)", len(buf), BlockSizeBytes)
	}
	dst, err := bs.block(id)
	if err != nil {
		return 0, err
	}
	copy(dst, buf)
	return BlockSizeBytes, nil
}

// UsedCount returns the number of in-use blocks, including the FBM's own.
func (bs *BlockStore) UsedCount() int {
	if bs == nil {
		return 0
	}
	return bs.fbm.Popcount()
}

// FreeCount returns the number of free blocks.
func (bs *BlockStore) FreeCount() int {
	if bs == nil {
		return 0
	}
	return NumBlocks - bs.fbm.Popcount()
}

// TotalCount returns the fixed total block count.
func (bs *BlockStore) TotalCount() int {
	return NumBlocks
}

// Serialize writes all NumBlocks blocks to path, truncating any existing
// content, with mode 0644.
func (bs *BlockStore) Serialize(path string) error {
	if bs == nil {
		return errors.New("blockstore: nil receiver")
	}
	st, err := file.CreateTruncate(path, 0o644)
	if err != nil {
		return fmt.Errorf("blockstore: serialize %s: %w", path, err)
	}
	defer st.Close()
	w, err := st.Writable()
	if err != nil {
		return fmt.Errorf("blockstore: serialize %s: %w", path, err)
	}
	n, err := w.WriteAt(bs.data, 0)
	if err != nil {
		return fmt.Errorf("blockstore: serialize %s: %w", path, err)
	}
	if n != len(bs.data) {
		return fmt.Errorf("blockstore: serialize %s: %w: wrote %d of %d bytes", path, ErrShortIO, n, len(bs.data))
	}
	bs.log.WithField("path", path).Info("blockstore: serialized")
	return nil
}

// Deserialize creates a fresh store, then overwrites its block array with
// the contents of path. It fails if path holds fewer than imageSizeBytes
// bytes.
func Deserialize(path string, log logrus.FieldLogger) (*BlockStore, error) {
	bs := Create(log)

	st, err := file.OpenFromPath(path, true)
	if err != nil {
		return nil, fmt.Errorf("blockstore: deserialize %s: %w", path, err)
	}
	defer st.Close()

	n, err := readFullAt(st, bs.data, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("blockstore: deserialize %s: %w", path, err)
	}
	if n != len(bs.data) {
		return nil, fmt.Errorf("blockstore: deserialize %s: %w: read %d of %d bytes", path, ErrShortIO, n, len(bs.data))
	}
	bs.log.WithField("path", path).Info("blockstore: deserialized")
	return bs, nil
}

// readerAt is satisfied by backend.Storage.
type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

func readFullAt(r readerAt, buf []byte, off int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.ReadAt(buf[total:], off+int64(total))
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}
