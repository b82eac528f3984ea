// Package file implements backend.Storage over a regular file or a raw
// block device.
package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/nelson137/blockfs/backend"
)

// MinSize is the minimum number of bytes a backing device must report for
// OpenFromPath to accept it: the whole-block-store image is a fixed 64 MiB
// (BLOCK_STORE_NUM_BLOCKS * BLOCK_SIZE_BYTES), so anything smaller cannot
// possibly hold it.
const MinSize = 65536 * 1024

type rawBackend struct {
	storage  fs.File
	readOnly bool
}

// New wraps an already-open fs.File as a backend.Storage.
func New(f fs.File, readOnly bool) backend.Storage {
	return rawBackend{storage: f, readOnly: readOnly}
}

// OpenFromPath opens an existing file or block device at pathName. When the
// path names a block device, deviceSize (unix builds) validates it reports
// at least MinSize bytes before handing back a Storage.
func OpenFromPath(pathName string, readOnly bool) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass a device or file name")
	}

	info, err := os.Stat(pathName)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("backing path %s does not exist", pathName)
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", pathName, err)
	}

	openMode := os.O_RDONLY
	if !readOnly {
		openMode |= os.O_RDWR
	}

	f, err := os.OpenFile(pathName, openMode, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open %s with mode %v: %w", pathName, openMode, err)
	}

	if info.Mode()&os.ModeDevice != 0 {
		if size, ok := deviceSize(f); ok && size < MinSize {
			_ = f.Close()
			return nil, fmt.Errorf("device %s reports %d bytes, need at least %d", pathName, size, MinSize)
		}
	}

	return rawBackend{storage: f, readOnly: readOnly}, nil
}

// CreateFromPath creates a new backing file of exactly size bytes at
// pathName. The file must not already exist.
func CreateFromPath(pathName string, size int64) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass a device or file name")
	}
	if size <= 0 {
		return nil, errors.New("must pass a valid positive size")
	}
	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_EXCL|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not create %s: %w", pathName, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not size %s to %d bytes: %w", pathName, size, err)
	}
	return rawBackend{storage: f, readOnly: false}, nil
}

// CreateTruncate opens pathName for writing, creating it if needed and
// truncating any existing content, with the given mode. Unlike
// CreateFromPath it does not require the file to be absent, matching
// serialize's "truncate any prior content" contract.
func CreateTruncate(pathName string, mode os.FileMode) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass a device or file name")
	}
	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return nil, fmt.Errorf("could not create/truncate %s: %w", pathName, err)
	}
	return rawBackend{storage: f, readOnly: false}, nil
}

var _ backend.Storage = (*rawBackend)(nil)

func (f rawBackend) Sys() (*os.File, error) {
	if osFile, ok := f.storage.(*os.File); ok {
		return osFile, nil
	}
	return nil, backend.ErrNotSuitable
}

func (f rawBackend) Writable() (backend.WritableFile, error) {
	if rwFile, ok := f.storage.(backend.WritableFile); ok {
		if !f.readOnly {
			return rwFile, nil
		}
		return nil, backend.ErrIncorrectOpenMode
	}
	return nil, backend.ErrNotSuitable
}

func (f rawBackend) Stat() (fs.FileInfo, error) {
	return f.storage.Stat()
}

func (f rawBackend) Read(b []byte) (int, error) {
	return f.storage.Read(b)
}

func (f rawBackend) Close() error {
	return f.storage.Close()
}

func (f rawBackend) ReadAt(p []byte, off int64) (int, error) {
	if readerAt, ok := f.storage.(io.ReaderAt); ok {
		return readerAt.ReadAt(p, off)
	}
	return -1, backend.ErrNotSuitable
}

func (f rawBackend) Seek(offset int64, whence int) (int64, error) {
	if seeker, ok := f.storage.(io.Seeker); ok {
		return seeker.Seek(offset, whence)
	}
	return -1, backend.ErrNotSuitable
}
