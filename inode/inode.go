// Package inode implements the on-disk inode record and the pointer-tree
// walker that maps a logical block index to a physical block number through
// the direct / single-indirect / double-indirect tiers.
package inode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Size is the fixed on-disk size of one inode record.
	Size = 64

	// DirectPtrs is the number of direct data-block pointers in an inode.
	DirectPtrs = 6
	// PtrsPerBlock is how many block-number pointers fit in one indirect
	// block (BlockSizeBytes / 2 bytes per uint16 pointer).
	PtrsPerBlock = 512

	// MaxBlocks is the largest logical block index (exclusive) an inode's
	// pointer tree can address: direct + indirect + double-indirect.
	MaxBlocks = DirectPtrs + PtrsPerBlock + PtrsPerBlock*PtrsPerBlock

	// TypeRegular and TypeDirectory are the two valid file_type values.
	TypeRegular   = 'r'
	TypeDirectory = 'd'

	// DirEntrySlots is the number of live directory-entry slots the
	// dir_entry_map bitmap must be able to address (31 per directory block,
	// see fs.DirEntriesPerBlock). dir_entry_map is a 32-bit field on disk;
	// only the low DirEntrySlots bits are ever meaningful, so the mask
	// below — not a 16-bit mask — is what keeps a 31-entry directory
	// representable. The remaining high bits are always written as zero.
	DirEntrySlots   = 31
	dirEntryMapMask = uint32(1)<<DirEntrySlots - 1
)

var (
	// ErrInvalidType is returned when decoding an inode with an unknown
	// file_type byte.
	ErrInvalidType = errors.New("inode: invalid file type")
	// ErrShortBuffer is returned when encoding/decoding is given a buffer
	// smaller than Size.
	ErrShortBuffer = errors.New("inode: buffer shorter than inode size")
)

// Inode is the in-memory representation of one inode record: file
// metadata plus the pointer tree to its data blocks. DirEntryMap is only
// meaningful for directories; only its low DirEntrySlots (31) bits are
// ever used, so the high bit is always encoded as zero.
type Inode struct {
	FileType     byte
	Inum         uint16
	FileSize     uint32
	LinkCount    uint16
	DirEntryMap  uint32
	DataDirect   [DirectPtrs]uint16
	DataIndirect uint16
	DataDoubleIndirect uint16
}

// New builds a freshly-created inode: empty, link count 1, of the given
// type and inum.
func New(inum uint16, fileType byte) (*Inode, error) {
	if fileType != TypeRegular && fileType != TypeDirectory {
		return nil, ErrInvalidType
	}
	return &Inode{
		FileType:  fileType,
		Inum:      inum,
		LinkCount: 1,
	}, nil
}

// IsDir reports whether the inode describes a directory.
func (n *Inode) IsDir() bool { return n.FileType == TypeDirectory }

// Encode serializes the inode into buf, which must be at least Size bytes.
// Layout (little-endian): file_type(1) reserved(1) inum(2) file_size(4)
// link_count(2) dir_entry_map(4) data_direct(6*2) data_indirect(2)
// data_double_indirect(2), zero-padded to Size.
func (n *Inode) Encode(buf []byte) error {
	if len(buf) < Size {
		return ErrShortBuffer
	}
	for i := range buf[:Size] {
		buf[i] = 0
	}
	buf[0] = n.FileType
	binary.LittleEndian.PutUint16(buf[2:4], n.Inum)
	binary.LittleEndian.PutUint32(buf[4:8], n.FileSize)
	binary.LittleEndian.PutUint16(buf[8:10], n.LinkCount)
	binary.LittleEndian.PutUint32(buf[10:14], n.DirEntryMap&dirEntryMapMask)
	for i, ptr := range n.DataDirect {
		binary.LittleEndian.PutUint16(buf[14+i*2:16+i*2], ptr)
	}
	binary.LittleEndian.PutUint16(buf[26:28], n.DataIndirect)
	binary.LittleEndian.PutUint16(buf[28:30], n.DataDoubleIndirect)
	return nil
}

// Decode parses an inode record from buf, which must be at least Size
// bytes.
func Decode(buf []byte) (*Inode, error) {
	if len(buf) < Size {
		return nil, ErrShortBuffer
	}
	ft := buf[0]
	if ft != TypeRegular && ft != TypeDirectory {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, ft)
	}
	n := &Inode{
		FileType:    ft,
		Inum:        binary.LittleEndian.Uint16(buf[2:4]),
		FileSize:    binary.LittleEndian.Uint32(buf[4:8]),
		LinkCount:   binary.LittleEndian.Uint16(buf[8:10]),
		DirEntryMap: binary.LittleEndian.Uint32(buf[10:14]) & dirEntryMapMask,
	}
	for i := range n.DataDirect {
		n.DataDirect[i] = binary.LittleEndian.Uint16(buf[14+i*2 : 16+i*2])
	}
	n.DataIndirect = binary.LittleEndian.Uint16(buf[26:28])
	n.DataDoubleIndirect = binary.LittleEndian.Uint16(buf[28:30])
	return n, nil
}
