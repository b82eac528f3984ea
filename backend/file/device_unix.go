//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package file

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blkGetSize64 is the Linux BLKGETSIZE64 ioctl request number: query the
// size in bytes of a block device.
const blkGetSize64 = 0x80081272

// deviceSize reports the size in bytes of the block device backing f, via
// an ioctl. ok is false when f is not a device or the ioctl is unsupported
// on this platform (e.g. non-Linux unix), in which case the caller skips
// the size check rather than rejecting a possibly-valid device.
func deviceSize(f *os.File) (int64, bool) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(blkGetSize64), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, false
	}
	return int64(size), true
}
