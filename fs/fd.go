package fs

import (
	"errors"
	"fmt"

	"github.com/nelson137/blockfs/inode"
)

// fdRecordSize is the on-disk (in-memory, since fds are never persisted)
// size of one file-descriptor record: inum(1) + tier(1) + block_order(4) +
// byte_offset(4).
const fdRecordSize = 10

// fileDescriptor is a cursor into an open file: which inode, which tier of
// its pointer tree, the block index within that tier, and the byte offset
// within that block. The absolute cursor is always recomputed from these
// three via cursor(), never tracked separately — spec.md §4.7 requires the
// decomposition to be recomputed on every seek/read/write, not mutated in
// isolation.
type fileDescriptor struct {
	Inum       uint8
	Tier       inode.Tier
	BlockOrder uint32
	ByteOffset uint32
}

func encodeFD(buf []byte, fd fileDescriptor) {
	buf[0] = fd.Inum
	buf[1] = byte(fd.Tier)
	putUint32(buf[2:6], fd.BlockOrder)
	putUint32(buf[6:10], fd.ByteOffset)
}

func decodeFD(buf []byte) fileDescriptor {
	return fileDescriptor{
		Inum:       buf[0],
		Tier:       inode.Tier(buf[1]),
		BlockOrder: getUint32(buf[2:6]),
		ByteOffset: getUint32(buf[6:10]),
	}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// blockIndex returns the logical block index (into the inode's pointer
// tree) that fd's cursor currently points into.
func (fd fileDescriptor) blockIndex() int {
	return inode.TierBase(fd.Tier) + int(fd.BlockOrder)
}

// cursor returns the absolute byte offset from the start of the file.
func (fd fileDescriptor) cursor() int64 {
	return int64(fd.blockIndex())*blockstoreBlockSize + int64(fd.ByteOffset)
}

// ErrInvalidOffset is returned when a cursor's decomposition would exceed
// the pointer tree's addressable range.
var ErrInvalidOffset = errors.New("fs: offset exceeds file addressable range")

// setCursor recomputes fd's (tier, block_order, byte_offset) decomposition
// from an absolute offset. offset must already be clamped to
// [0, file_size] by the caller (see FS.Seek).
func setCursor(offset int64) (fileDescriptor, error) {
	if offset < 0 {
		return fileDescriptor{}, ErrInvalidOffset
	}
	blockIdx := int(offset / blockstoreBlockSize)
	byteOff := uint32(offset % blockstoreBlockSize)

	tier, ok := inode.TierOf(blockIdx)
	if !ok {
		return fileDescriptor{}, ErrInvalidOffset
	}
	return fileDescriptor{
		Tier:       tier,
		BlockOrder: uint32(blockIdx - inode.TierBase(tier)),
		ByteOffset: byteOff,
	}, nil
}

// cursorInOwnedBlock reports whether fd's cursor points into a block the
// inode already owns (i.e. not the first unallocated block of an
// in-progress append).
func cursorInOwnedBlock(n *inode.Inode, fd fileDescriptor) bool {
	return n.Owns(fd.blockIndex())
}

func (f *FS) readFD(idx int) (fileDescriptor, error) {
	buf := make([]byte, fdRecordSize)
	if err := f.fds.Read(idx, buf); err != nil {
		return fileDescriptor{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return decodeFD(buf), nil
}

func (f *FS) writeFD(idx int, fd fileDescriptor) error {
	buf := make([]byte, fdRecordSize)
	encodeFD(buf, fd)
	return f.fds.Write(idx, buf)
}
