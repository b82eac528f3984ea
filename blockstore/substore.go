package blockstore

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nelson137/blockfs/bitmap"
)

// ErrRecordOutOfRange is returned for a sub-store index outside [0, count).
var ErrRecordOutOfRange = errors.New("blockstore: record index out of range")

// recordBackend is the storage a SubStore packs its fixed-size records
// into: either a range of a whole BlockStore's blocks, or private memory
// that is never part of any BlockStore image.
type recordBackend interface {
	read(i int, buf []byte) error
	write(i int, buf []byte) error
}

// blockRecordBackend packs records into consecutive blocks of a host
// BlockStore, starting at startBlock. Used for the inode table, whose
// records must round-trip through Serialize/Deserialize with everything
// else.
type blockRecordBackend struct {
	bs              *BlockStore
	startBlock      int
	recordSize      int
	recordsPerBlock int
}

func (b *blockRecordBackend) read(i int, buf []byte) error {
	blockID := b.startBlock + i/b.recordsPerBlock
	off := (i % b.recordsPerBlock) * b.recordSize
	var blk [BlockSizeBytes]byte
	if _, err := b.bs.Read(blockID, blk[:]); err != nil {
		return err
	}
	copy(buf, blk[off:off+b.recordSize])
	return nil
}

func (b *blockRecordBackend) write(i int, buf []byte) error {
	blockID := b.startBlock + i/b.recordsPerBlock
	off := (i % b.recordsPerBlock) * b.recordSize
	var blk [BlockSizeBytes]byte
	if _, err := b.bs.Read(blockID, blk[:]); err != nil {
		return err
	}
	copy(blk[off:off+b.recordSize], buf)
	_, err := b.bs.Write(blockID, blk[:])
	return err
}

// memRecordBackend packs records into a private byte slice that is never
// part of any BlockStore image. Used for the file-descriptor table, which
// spec.md §9 requires to be reconstructed empty on every mount rather than
// persisted.
type memRecordBackend struct {
	data       []byte
	recordSize int
}

func (m *memRecordBackend) read(i int, buf []byte) error {
	off := i * m.recordSize
	copy(buf, m.data[off:off+m.recordSize])
	return nil
}

func (m *memRecordBackend) write(i int, buf []byte) error {
	off := i * m.recordSize
	copy(m.data[off:off+m.recordSize], buf)
	return nil
}

// SubStore is a fixed-record allocator: it tracks occupancy of `count`
// fixed-size records with its own bitmap, independent of the bitmap any
// host BlockStore uses for its own blocks.
type SubStore struct {
	bm         *bitmap.Bitmap
	backend    recordBackend
	count      int
	recordSize int
	log        logrus.FieldLogger
}

// NewBlockBackedSubStore lays out `count` fixed-size records across
// `numBlocks` consecutive blocks of bs starting at startBlock, with its
// occupancy bitmap overlaid onto bitmapBlock (a block the caller has
// already reserved in bs). Overlaying means the bitmap's state is ordinary
// block content and needs no separate persistence step.
func NewBlockBackedSubStore(bs *BlockStore, bitmapBlock, startBlock, numBlocks, count, recordSize int, log logrus.FieldLogger) (*SubStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	recordsPerBlock := BlockSizeBytes / recordSize
	if recordsPerBlock*numBlocks < count {
		return nil, fmt.Errorf("blockstore: %d blocks of %d bytes cannot hold %d records of %d bytes",
			numBlocks, BlockSizeBytes, count, recordSize)
	}
	blk, err := bs.block(bitmapBlock)
	if err != nil {
		return nil, fmt.Errorf("blockstore: sub-store bitmap block %d: %w", bitmapBlock, err)
	}
	bm, err := bitmap.Overlay(blk, count)
	if err != nil {
		return nil, fmt.Errorf("blockstore: sub-store bitmap overlay: %w", err)
	}
	return &SubStore{
		bm: bm,
		backend: &blockRecordBackend{
			bs:              bs,
			startBlock:      startBlock,
			recordSize:      recordSize,
			recordsPerBlock: recordsPerBlock,
		},
		count:      count,
		recordSize: recordSize,
		log:        log,
	}, nil
}

// NewMemSubStore creates a SubStore whose records and occupancy bitmap live
// entirely in private process memory.
func NewMemSubStore(count, recordSize int, log logrus.FieldLogger) *SubStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SubStore{
		bm:         bitmap.New(count),
		backend:    &memRecordBackend{data: make([]byte, count*recordSize), recordSize: recordSize},
		count:      count,
		recordSize: recordSize,
		log:        log,
	}
}

// Allocate finds the first free record, marks it used, and returns its
// index.
func (s *SubStore) Allocate() (int, error) {
	if s == nil {
		return 0, errors.New("blockstore: nil sub-store")
	}
	i := s.bm.FirstZero()
	if i < 0 {
		return 0, ErrNoSpace
	}
	if err := s.bm.Set(i); err != nil {
		return 0, err
	}
	return i, nil
}

// Release marks a record as free. No-op if already free.
func (s *SubStore) Release(i int) error {
	if s == nil {
		return errors.New("blockstore: nil sub-store")
	}
	if i < 0 || i >= s.count {
		return ErrRecordOutOfRange
	}
	return s.bm.Reset(i)
}

// Test reports whether record i is allocated.
func (s *SubStore) Test(i int) (bool, error) {
	if s == nil {
		return false, errors.New("blockstore: nil sub-store")
	}
	if i < 0 || i >= s.count {
		return false, ErrRecordOutOfRange
	}
	return s.bm.Test(i)
}

// Read copies record i's bytes into buf, which must be at least recordSize
// long.
func (s *SubStore) Read(i int, buf []byte) error {
	if s == nil {
		return errors.New("blockstore: nil sub-store")
	}
	if i < 0 || i >= s.count {
		return ErrRecordOutOfRange
	}
	if len(buf) < s.recordSize {
		return fmt.Errorf("blockstore: read buffer too small (%d < %d)", len(buf), s.recordSize)
	}
	return s.backend.read(i, buf)
}

// Write copies recordSize bytes from buf into record i.
func (s *SubStore) Write(i int, buf []byte) error {
	if s == nil {
		return errors.New("blockstore: nil sub-store")
	}
	if i < 0 || i >= s.count {
		return ErrRecordOutOfRange
	}
	if len(buf) < s.recordSize {
		return fmt.Errorf("blockstore: write buffer too small (%d < %d)", len(buf), s.recordSize)
	}
	return s.backend.write(i, buf)
}

// Count returns the fixed number of records this sub-store addresses.
func (s *SubStore) Count() int {
	if s == nil {
		return 0
	}
	return s.count
}
