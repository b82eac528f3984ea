// Package fs implements the file-system facade: format/mount/unmount,
// create/open/close, seek/read/write, and get_dir, layered on package
// blockstore's block store and sub-stores and package inode's pointer-tree
// walker.
package fs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nelson137/blockfs/blockstore"
	"github.com/nelson137/blockfs/inode"
)

const (
	// NumInodes and NumFDs are the fixed table sizes spec.md §6 fixes.
	NumInodes = 256
	NumFDs    = 256

	// inodeBitmapBlock/inodeTableStartBlock/inodeTableNumBlocks lay the
	// inode table out at the fixed offsets spec.md §4.6/§6 require: block
	// 0 is the inode-table bitmap, blocks 1..16 are the 256 64-byte inode
	// records (16 blocks * 1024B / 64B = 256).
	inodeBitmapBlock     = 0
	inodeTableStartBlock = 1
	inodeTableNumBlocks  = (NumInodes * inode.Size) / blockstore.BlockSizeBytes

	rootInum = 0

	blockstoreBlockSize = blockstore.BlockSizeBytes
)

// FileType selects what create() builds.
type FileType int

const (
	Regular FileType = iota
	Directory
)

// Whence selects how Seek interprets its offset argument.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// The seven error kinds of spec.md §7, as sentinels: wrap with fmt.Errorf
// and compare with errors.Is.
var (
	ErrInvalidArgument = errors.New("fs: invalid argument")
	ErrNotFound        = errors.New("fs: not found")
	ErrIsDir           = errors.New("fs: is a directory")
	ErrNotDir          = errors.New("fs: not a directory")
	ErrExists          = errors.New("fs: already exists")
	ErrNoSpace         = errors.New("fs: out of space")
	ErrIO              = errors.New("fs: I/O failure")
	ErrDirFull         = errors.New("fs: directory has no free entry slots")
)

// FS is a mounted file system: exclusive owner of one whole block store,
// one inode sub-store, and one (always process-local, never persisted) fd
// sub-store.
type FS struct {
	whole  *blockstore.BlockStore
	inodes *blockstore.SubStore
	fds    *blockstore.SubStore
	log    logrus.FieldLogger
}

func newSessionLogger() logrus.FieldLogger {
	return logrus.StandardLogger().WithField("session_id", uuid.New().String())
}

// Format creates a brand-new 64 MiB backing image in memory: the inode
// table's bitmap and the table itself at their fixed block offsets, an
// empty fd sub-store, and inum 0 as the root directory. Call Serialize to
// persist it to a backing file.
func Format() (*FS, error) {
	log := newSessionLogger()
	whole := blockstore.Create(log)

	bitmapBlock, err := whole.Allocate()
	if err != nil || bitmapBlock != inodeBitmapBlock {
		return nil, fmt.Errorf("%w: could not reserve inode bitmap block", ErrIO)
	}
	for i := 0; i < inodeTableNumBlocks; i++ {
		if _, err := whole.Allocate(); err != nil {
			return nil, fmt.Errorf("%w: could not reserve inode table blocks", ErrIO)
		}
	}

	inodes, err := blockstore.NewBlockBackedSubStore(
		whole, inodeBitmapBlock, inodeTableStartBlock, inodeTableNumBlocks, NumInodes, inode.Size, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	fds := blockstore.NewMemSubStore(NumFDs, fdRecordSize, log)

	f := &FS{whole: whole, inodes: inodes, fds: fds, log: log}

	rootIdx, err := f.inodes.Allocate()
	if err != nil || rootIdx != rootInum {
		return nil, fmt.Errorf("%w: could not reserve root inode", ErrIO)
	}
	root, err := inode.New(rootInum, inode.TypeDirectory)
	if err != nil {
		return nil, err
	}
	if err := f.writeInode(root); err != nil {
		return nil, err
	}

	f.log.Info("fs: formatted")
	return f, nil
}

// Mount reopens a previously-serialized backing image at path. The fd
// sub-store is always recreated empty: file descriptors are per-process
// and spec.md §9 requires them not to survive a mount.
func Mount(path string) (*FS, error) {
	log := newSessionLogger()
	whole, err := blockstore.Deserialize(path, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	inodes, err := blockstore.NewBlockBackedSubStore(
		whole, inodeBitmapBlock, inodeTableStartBlock, inodeTableNumBlocks, NumInodes, inode.Size, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	fds := blockstore.NewMemSubStore(NumFDs, fdRecordSize, log)
	f := &FS{whole: whole, inodes: inodes, fds: fds, log: log}
	f.log.WithField("path", path).Info("fs: mounted")
	return f, nil
}

// Serialize writes the whole block store — and with it the inode table and
// its bitmap, since they are just ordinary blocks — to path.
func (f *FS) Serialize(path string) error {
	return f.whole.Serialize(path)
}

// Unmount releases the file system's sub-stores and whole store. The
// receiver must not be used again afterward.
func (f *FS) Unmount() error {
	f.log.Info("fs: unmounted")
	f.whole = nil
	f.inodes = nil
	f.fds = nil
	return nil
}

func (f *FS) readInode(inum int) (*inode.Inode, error) {
	buf := make([]byte, inode.Size)
	if err := f.inodes.Read(inum, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	n, err := inode.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return n, nil
}

func (f *FS) writeInode(n *inode.Inode) error {
	buf := make([]byte, inode.Size)
	if err := n.Encode(buf); err != nil {
		return err
	}
	if err := f.inodes.Write(int(n.Inum), buf); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Create makes a new regular file or directory at path. path must start
// with '/', be non-empty, have no trailing '/', and its basename must be
// shorter than FSFnameMax bytes. All resources allocated along the way
// (inode slot, parent's first directory-entry block) are released if any
// later step fails.
func (f *FS) Create(path string, ftype FileType) error {
	if path == "" || path[0] != '/' || strings.HasSuffix(path, "/") && path != "/" {
		return ErrInvalidArgument
	}
	var rawType byte
	switch ftype {
	case Regular:
		rawType = inode.TypeRegular
	case Directory:
		rawType = inode.TypeDirectory
	default:
		return ErrInvalidArgument
	}

	parentPath, err := dirname(path)
	if err != nil {
		return ErrInvalidArgument
	}
	name, err := basename(path)
	if err != nil {
		return ErrInvalidArgument
	}
	if len(name) >= FSFnameMax {
		return ErrNameTooLong
	}

	parent, err := f.resolve(parentPath)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return ErrNotDir
	}
	if _, found, err := f.findChild(parent, name); err != nil {
		return err
	} else if found {
		return ErrExists
	}

	newInum, err := f.inodes.Allocate()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSpace, err)
	}

	newNode, err := inode.New(uint16(newInum), rawType)
	if err != nil {
		_ = f.inodes.Release(newInum)
		return err
	}
	if err := f.writeInode(newNode); err != nil {
		_ = f.inodes.Release(newInum)
		return err
	}

	firstChild := parent.FileSize == 0
	slot, err := f.addChild(parent, name, uint8(newInum))
	if err != nil {
		_ = f.inodes.Release(newInum)
		return err
	}

	if err := f.writeInode(parent); err != nil {
		// Undo the in-memory directory-entry-map change the original's
		// err6 rollback path also undoes, since the entry itself was
		// already committed to the directory's data block.
		parent.DirEntryMap &^= 1 << uint(slot)
		parent.FileSize--
		_ = f.writeInode(parent)
		if firstChild {
			_ = f.whole.Release(int(parent.DataDirect[0]))
		}
		_ = f.inodes.Release(newInum)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	f.log.WithFields(logrus.Fields{"path": path, "inum": newInum}).Debug("fs: created")
	return nil
}

// Open resolves path to a regular file and returns an open file-descriptor
// index, with the cursor at offset 0.
func (f *FS) Open(path string) (int, error) {
	n, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	if n.IsDir() {
		return 0, ErrIsDir
	}
	idx, err := f.fds.Allocate()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoSpace, err)
	}
	if err := f.writeFD(idx, fileDescriptor{Inum: uint8(n.Inum), Tier: inode.Direct}); err != nil {
		_ = f.fds.Release(idx)
		return 0, err
	}
	return idx, nil
}

// Close releases an open file descriptor.
func (f *FS) Close(fdIdx int) error {
	used, err := f.fds.Test(fdIdx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !used {
		return ErrNotFound
	}
	return f.fds.Release(fdIdx)
}

// Seek repositions fdIdx's cursor per whence, clamped to [0, file_size].
func (f *FS) Seek(fdIdx int, offset int64, whence Whence) (int64, error) {
	fd, err := f.readFD(fdIdx)
	if err != nil {
		return 0, err
	}
	n, err := f.readInode(int(fd.Inum))
	if err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = fd.cursor()
	case SeekEnd:
		base = int64(n.FileSize)
	default:
		return 0, ErrInvalidArgument
	}

	newCursor := clamp(base+offset, 0, int64(n.FileSize))
	newFD, err := setCursor(newCursor)
	if err != nil {
		return 0, err
	}
	newFD.Inum = fd.Inum
	if err := f.writeFD(fdIdx, newFD); err != nil {
		return 0, err
	}
	return newCursor, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Read copies up to len(buf) bytes from fdIdx's file starting at its
// current cursor, stopping at end-of-file, and advances the cursor by the
// number of bytes actually read.
func (f *FS) Read(fdIdx int, buf []byte) (int, error) {
	fd, err := f.readFD(fdIdx)
	if err != nil {
		return 0, err
	}
	n, err := f.readInode(int(fd.Inum))
	if err != nil {
		return 0, err
	}

	cursor := fd.cursor()
	remaining := int64(n.FileSize) - cursor
	if remaining < 0 {
		remaining = 0
	}
	toRead := int64(len(buf))
	if toRead > remaining {
		toRead = remaining
	}

	block := make([]byte, blockstoreBlockSize)
	var read int64
	for read < toRead {
		blockIdx := int((cursor + read) / blockstoreBlockSize)
		byteOff := int((cursor + read) % blockstoreBlockSize)
		if !n.Owns(blockIdx) {
			break
		}
		physBlock, err := n.Locate(f.whole, blockIdx)
		if err != nil {
			return int(read), fmt.Errorf("%w: %v", ErrIO, err)
		}
		if _, err := f.whole.Read(physBlock, block); err != nil {
			return int(read), fmt.Errorf("%w: %v", ErrIO, err)
		}
		chunk := int64(blockstoreBlockSize - byteOff)
		if chunk > toRead-read {
			chunk = toRead - read
		}
		copy(buf[read:read+chunk], block[byteOff:int64(byteOff)+chunk])
		read += chunk
	}

	newFD, err := setCursor(cursor + read)
	if err != nil {
		return int(read), err
	}
	newFD.Inum = fd.Inum
	if err := f.writeFD(fdIdx, newFD); err != nil {
		return int(read), err
	}
	return int(read), nil
}

// Write copies all of buf into fdIdx's file starting at its current
// cursor, growing the file and allocating new data blocks (and any
// container blocks their tier requires) as needed, and advances the
// cursor by the number of bytes written. Running out of space mid-write is
// not an error: the blocks already written stay committed, FileSize keeps
// whatever it grew to, and Write returns the partial count with a nil
// error, exactly as the original fs_write breaks its loop on
// _inode_add_owned_block's out-of-space return and still flushes what it
// has. Only a structural/I-O failure rolls back every block this call
// allocated, in reverse order, leaving the inode unmodified on disk.
func (f *FS) Write(fdIdx int, buf []byte) (int, error) {
	fd, err := f.readFD(fdIdx)
	if err != nil {
		return 0, err
	}
	n, err := f.readInode(int(fd.Inum))
	if err != nil {
		return 0, err
	}
	origFileSize := n.FileSize

	var rollback []int
	release := func() {
		for i := len(rollback) - 1; i >= 0; i-- {
			_ = f.whole.Release(rollback[i])
		}
	}

	cursor := fd.cursor()
	block := make([]byte, blockstoreBlockSize)
	var written int64
	for written < int64(len(buf)) {
		absOffset := cursor + written
		blockIdx := int(absOffset / blockstoreBlockSize)
		byteOff := int(absOffset % blockstoreBlockSize)

		var physBlock int
		if n.Owns(blockIdx) {
			physBlock, err = n.Locate(f.whole, blockIdx)
			if err != nil {
				release()
				n.FileSize = origFileSize
				return int(written), fmt.Errorf("%w: %v", ErrIO, err)
			}
			if _, err := f.whole.Read(physBlock, block); err != nil {
				release()
				n.FileSize = origFileSize
				return int(written), fmt.Errorf("%w: %v", ErrIO, err)
			}
		} else {
			newBlock, allocated, err := n.AppendBlock(f.whole)
			if err != nil {
				if errors.Is(err, inode.ErrOutOfSpace) || errors.Is(err, inode.ErrBeyondCapacity) {
					// Out of space mid-write is not an error: keep every
					// block written so far and the FileSize it grew to,
					// and stop taking on more.
					break
				}
				release()
				n.FileSize = origFileSize
				return int(written), fmt.Errorf("%w: %v", ErrIO, err)
			}
			rollback = append(rollback, allocated...)
			physBlock = newBlock
			for i := range block {
				block[i] = 0
			}
		}

		chunk := int64(blockstoreBlockSize - byteOff)
		if chunk > int64(len(buf))-written {
			chunk = int64(len(buf)) - written
		}
		copy(block[byteOff:int64(byteOff)+chunk], buf[written:written+chunk])

		if _, err := f.whole.Write(physBlock, block); err != nil {
			release()
			n.FileSize = origFileSize
			return int(written), fmt.Errorf("%w: %v", ErrIO, err)
		}

		written += chunk
		if end := uint32(absOffset + chunk); end > n.FileSize {
			n.FileSize = end
		}
	}

	if err := f.writeInode(n); err != nil {
		release()
		n.FileSize = origFileSize
		return int(written), err
	}

	newFD, err := setCursor(cursor + written)
	if err != nil {
		return int(written), err
	}
	newFD.Inum = fd.Inum
	if err := f.writeFD(fdIdx, newFD); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// GetDir resolves path and lists its directory entries.
func (f *FS) GetDir(path string) ([]DirEntry, error) {
	n, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, ErrNotDir
	}
	return f.listDir(n)
}
