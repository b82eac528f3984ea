package inode

import (
	"errors"
	"fmt"
)

// Tier names which region of an inode's pointer tree a logical block index
// falls into.
type Tier int

const (
	Direct Tier = iota
	Indirect
	DoubleIndirect
)

func (t Tier) String() string {
	switch t {
	case Direct:
		return "direct"
	case Indirect:
		return "indirect"
	case DoubleIndirect:
		return "double_indirect"
	default:
		return "invalid"
	}
}

// TierBase returns the logical block index at which tier t begins.
func TierBase(t Tier) int {
	switch t {
	case Direct:
		return 0
	case Indirect:
		return DirectPtrs
	case DoubleIndirect:
		return DirectPtrs + PtrsPerBlock
	default:
		return -1
	}
}

// TierOf classifies an absolute logical block index into its tier, or
// reports ok=false if it is beyond MaxBlocks.
func TierOf(k int) (t Tier, ok bool) {
	switch {
	case k < DirectPtrs:
		return Direct, true
	case k < DirectPtrs+PtrsPerBlock:
		return Indirect, true
	case k < MaxBlocks:
		return DoubleIndirect, true
	default:
		return 0, false
	}
}

var (
	// ErrOutOfSpace is the distinct "allocation failed because the block
	// store is full" error spec.md §4.3 requires callers to distinguish
	// from structural/I-O failure.
	ErrOutOfSpace = errors.New("inode: out of space")
	// ErrStructural covers I/O failures and pointer-tree inconsistencies.
	ErrStructural = errors.New("inode: structural failure")
	// ErrBeyondCapacity is returned when a logical block index exceeds
	// MaxBlocks.
	ErrBeyondCapacity = errors.New("inode: logical block index exceeds double-indirect capacity")
)

// BlockIO is the subset of blockstore.BlockStore the pointer-tree walker
// needs: full-block read/write plus allocate/release for extending a file.
// It is expressed as a local interface, not an import of package
// blockstore, so inode has no dependency on the block store's concrete
// type.
type BlockIO interface {
	Read(id int, buf []byte) (int, error)
	Write(id int, buf []byte) (int, error)
	Allocate() (int, error)
	Release(id int) error
}

const ptrBlockBytes = PtrsPerBlock * 2 // 512 uint16 entries per 1024-byte block

func readPtrBlock(bio BlockIO, blockID int) ([PtrsPerBlock]uint16, error) {
	var ptrs [PtrsPerBlock]uint16
	buf := make([]byte, ptrBlockBytes)
	if _, err := bio.Read(blockID, buf); err != nil {
		return ptrs, fmt.Errorf("%w: read pointer block %d: %v", ErrStructural, blockID, err)
	}
	for i := range ptrs {
		ptrs[i] = uint16(buf[i*2]) | uint16(buf[i*2+1])<<8
	}
	return ptrs, nil
}

func writePtrBlock(bio BlockIO, blockID int, ptrs [PtrsPerBlock]uint16) error {
	buf := make([]byte, ptrBlockBytes)
	for i, p := range ptrs {
		buf[i*2] = byte(p)
		buf[i*2+1] = byte(p >> 8)
	}
	if _, err := bio.Write(blockID, buf); err != nil {
		return fmt.Errorf("%w: write pointer block %d: %v", ErrStructural, blockID, err)
	}
	return nil
}

// Locate maps logical block index k to the physical data block number it
// currently refers to. The caller must have already ensured k is within
// the inode's owned high-water block (see Owns); Locate does not allocate.
func (n *Inode) Locate(bio BlockIO, k int) (int, error) {
	tier, ok := TierOf(k)
	if !ok {
		return 0, ErrBeyondCapacity
	}
	switch tier {
	case Direct:
		return int(n.DataDirect[k]), nil
	case Indirect:
		ptrs, err := readPtrBlock(bio, int(n.DataIndirect))
		if err != nil {
			return 0, err
		}
		return int(ptrs[k-TierBase(Indirect)]), nil
	case DoubleIndirect:
		kPrime := k - TierBase(DoubleIndirect)
		outer, err := readPtrBlock(bio, int(n.DataDoubleIndirect))
		if err != nil {
			return 0, err
		}
		inner, err := readPtrBlock(bio, int(outer[kPrime/PtrsPerBlock]))
		if err != nil {
			return 0, err
		}
		return int(inner[kPrime%PtrsPerBlock]), nil
	default:
		return 0, ErrStructural
	}
}

// Owns reports whether logical block index k already has a data block
// allocated, based on the inode's current file size.
func (n *Inode) Owns(k int) bool {
	nOwned := (int(n.FileSize) + BlockSizeBytesHint - 1) / BlockSizeBytesHint
	return k < nOwned
}

// BlockSizeBytesHint mirrors blockstore.BlockSizeBytes without importing
// the blockstore package; both are wire constants fixed by spec.md §6 and
// can never drift independently.
const BlockSizeBytesHint = 1024

// AppendBlock allocates and wires in the next logical data block for the
// inode (logical index = ceil(FileSize/BlockSize)), allocating any missing
// indirect/double-indirect container blocks along the way. It returns the
// new data block's id and the list of every block id allocated during this
// call (data block plus any newly-allocated containers), so the caller can
// roll all of them back on a later failure within the same write().
//
// On error, every block this call itself allocated is already released
// before it returns; the caller only needs to worry about blocks allocated
// in *other* calls within its own operation.
func (n *Inode) AppendBlock(bio BlockIO) (newBlock int, allocated []int, err error) {
	k := (int(n.FileSize) + BlockSizeBytesHint - 1) / BlockSizeBytesHint
	tier, ok := TierOf(k)
	if !ok {
		return 0, nil, ErrBeyondCapacity
	}

	var newPtrs []int
	rollback := func(e error) (int, []int, error) {
		for i := len(newPtrs) - 1; i >= 0; i-- {
			_ = bio.Release(newPtrs[i])
		}
		return 0, nil, e
	}

	dataBlock, err := bio.Allocate()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	}
	newPtrs = append(newPtrs, dataBlock)

	switch tier {
	case Direct:
		n.DataDirect[k] = uint16(dataBlock)

	case Indirect:
		idx := k - TierBase(Indirect)
		if idx == 0 {
			ind, err := bio.Allocate()
			if err != nil {
				return rollback(fmt.Errorf("%w: %v", ErrOutOfSpace, err))
			}
			newPtrs = append(newPtrs, ind)
			n.DataIndirect = uint16(ind)
		}
		ptrs, err := readPtrBlock(bio, int(n.DataIndirect))
		if err != nil {
			return rollback(err)
		}
		ptrs[idx] = uint16(dataBlock)
		if err := writePtrBlock(bio, int(n.DataIndirect), ptrs); err != nil {
			return rollback(err)
		}

	case DoubleIndirect:
		kPrime := k - TierBase(DoubleIndirect)
		outerIdx := kPrime / PtrsPerBlock
		innerIdx := kPrime % PtrsPerBlock

		if outerIdx == 0 && innerIdx == 0 {
			dbl, err := bio.Allocate()
			if err != nil {
				return rollback(fmt.Errorf("%w: %v", ErrOutOfSpace, err))
			}
			newPtrs = append(newPtrs, dbl)
			n.DataDoubleIndirect = uint16(dbl)
		}
		outer, err := readPtrBlock(bio, int(n.DataDoubleIndirect))
		if err != nil {
			return rollback(err)
		}

		if innerIdx == 0 {
			ind, err := bio.Allocate()
			if err != nil {
				return rollback(fmt.Errorf("%w: %v", ErrOutOfSpace, err))
			}
			newPtrs = append(newPtrs, ind)
			outer[outerIdx] = uint16(ind)
			if err := writePtrBlock(bio, int(n.DataDoubleIndirect), outer); err != nil {
				return rollback(err)
			}
		}

		inner, err := readPtrBlock(bio, int(outer[outerIdx]))
		if err != nil {
			return rollback(err)
		}
		inner[innerIdx] = uint16(dataBlock)
		if err := writePtrBlock(bio, int(outer[outerIdx]), inner); err != nil {
			return rollback(err)
		}

	default:
		return rollback(ErrStructural)
	}

	return dataBlock, newPtrs, nil
}
