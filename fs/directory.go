package fs

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/nelson137/blockfs/inode"
)

const (
	// DirEntriesPerBlock is the number of fixed-size directory entries
	// that pack into one 1024-byte block: 31*33 = 1023 <= 1024.
	DirEntriesPerBlock = inode.DirEntrySlots
	// FSFnameMax is the size of a directory entry's name field, including
	// the trailing null.
	FSFnameMax = 32

	dirEntryRecordSize = FSFnameMax + 1 // name + 1-byte inum
)

// ErrNameTooLong is returned when a path component is >= FSFnameMax bytes.
var ErrNameTooLong = errors.New("fs: name too long")

// DirEntry is one resolved (name, inum) pair from a directory listing.
type DirEntry struct {
	Name string
	Inum uint8
}

func encodeDirEntry(buf []byte, name string, inum uint8) error {
	if len(name) >= FSFnameMax {
		return ErrNameTooLong
	}
	if len(buf) < dirEntryRecordSize {
		return fmt.Errorf("fs: directory entry buffer too small")
	}
	for i := range buf[:dirEntryRecordSize] {
		buf[i] = 0
	}
	copy(buf[:FSFnameMax], name)
	buf[FSFnameMax] = inum
	return nil
}

func decodeDirEntry(buf []byte) DirEntry {
	nameBytes := buf[:FSFnameMax]
	n := bytes.IndexByte(nameBytes, 0)
	if n < 0 {
		n = FSFnameMax
	}
	return DirEntry{Name: string(nameBytes[:n]), Inum: buf[FSFnameMax]}
}

// loadDirBlock reads a directory inode's single data block. If the
// directory has no entries yet (FileSize == 0, no block allocated), it
// returns a zeroed block without touching the store.
func (f *FS) loadDirBlock(dir *inode.Inode) ([]byte, error) {
	block := make([]byte, blockstoreBlockSize)
	if dir.FileSize == 0 {
		return block, nil
	}
	if _, err := f.whole.Read(int(dir.DataDirect[0]), block); err != nil {
		return nil, fmt.Errorf("%w: read directory block: %v", ErrIO, err)
	}
	return block, nil
}

func dirEntryAt(block []byte, slot int) []byte {
	off := slot * dirEntryRecordSize
	return block[off : off+dirEntryRecordSize]
}

// findChild scans all DirEntriesPerBlock slots for name, consulting
// dir.DirEntryMap to skip unused ones, and returns its inum. The first
// match by byte-wise name comparison wins.
func (f *FS) findChild(dir *inode.Inode, name string) (uint8, bool, error) {
	if dir.FileSize == 0 {
		return 0, false, nil
	}
	block, err := f.loadDirBlock(dir)
	if err != nil {
		return 0, false, err
	}
	for slot := 0; slot < DirEntriesPerBlock; slot++ {
		if dir.DirEntryMap&(1<<uint(slot)) == 0 {
			continue
		}
		entry := decodeDirEntry(dirEntryAt(block, slot))
		if entry.Name == name {
			return entry.Inum, true, nil
		}
	}
	return 0, false, nil
}

// listDir returns every live entry in dir, in slot order.
func (f *FS) listDir(dir *inode.Inode) ([]DirEntry, error) {
	if dir.FileSize == 0 {
		return nil, nil
	}
	block, err := f.loadDirBlock(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, 0, dir.FileSize)
	for slot := 0; slot < DirEntriesPerBlock; slot++ {
		if dir.DirEntryMap&(1<<uint(slot)) == 0 {
			continue
		}
		entries = append(entries, decodeDirEntry(dirEntryAt(block, slot)))
	}
	return entries, nil
}

// addChild inserts (name, inum) into dir's single directory-entry block,
// allocating that block on the first child. It writes the block but leaves
// writing the directory's own inode to the caller, returning the slot the
// entry landed in so the caller can undo the in-memory DirEntryMap/FileSize
// change if that write later fails. On any failure here, a newly-allocated
// block (if this call allocated one) is released before returning.
func (f *FS) addChild(dir *inode.Inode, name string, childInum uint8) (int, error) {
	if len(name) >= FSFnameMax {
		return -1, ErrNameTooLong
	}
	if int(dir.FileSize) >= DirEntriesPerBlock {
		return -1, ErrDirFull
	}
	if _, found, err := f.findChild(dir, name); err != nil {
		return -1, err
	} else if found {
		return -1, ErrExists
	}

	blockAllocatedHere := false
	if dir.FileSize == 0 {
		blockID, err := f.whole.Allocate()
		if err != nil {
			return -1, fmt.Errorf("%w: %v", ErrNoSpace, err)
		}
		dir.DataDirect[0] = uint16(blockID)
		blockAllocatedHere = true
	}

	block, err := f.loadDirBlock(dir)
	if err != nil {
		if blockAllocatedHere {
			_ = f.whole.Release(int(dir.DataDirect[0]))
		}
		return -1, err
	}

	slot := -1
	for i := 0; i < DirEntriesPerBlock; i++ {
		if dir.DirEntryMap&(1<<uint(i)) == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		// Unreachable given the FileSize check above, but guards against a
		// corrupted map rather than writing past the block.
		if blockAllocatedHere {
			_ = f.whole.Release(int(dir.DataDirect[0]))
		}
		return -1, ErrDirFull
	}

	if err := encodeDirEntry(dirEntryAt(block, slot), name, childInum); err != nil {
		if blockAllocatedHere {
			_ = f.whole.Release(int(dir.DataDirect[0]))
		}
		return -1, err
	}

	if _, err := f.whole.Write(int(dir.DataDirect[0]), block); err != nil {
		if blockAllocatedHere {
			_ = f.whole.Release(int(dir.DataDirect[0]))
		}
		return -1, fmt.Errorf("%w: write directory block: %v", ErrIO, err)
	}

	dir.DirEntryMap |= 1 << uint(slot)
	dir.FileSize++
	return slot, nil
}
