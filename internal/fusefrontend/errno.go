package fusefrontend

import (
	"syscall"

	"github.com/jcxfs/jcxfs/internal/kvfs"
)

// errnoFromErr translates the core error taxonomy into kernel errno
// values.
func errnoFromErr(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch kvfs.KindOf(err) {
	case kvfs.ErrNoSuchDir, kvfs.ErrNoSuchFile:
		return syscall.ENOENT
	case kvfs.ErrNotADirectory:
		return syscall.ENOTDIR
	case kvfs.ErrNotAFile:
		return syscall.EISDIR
	case kvfs.ErrDirNotEmpty:
		return syscall.ENOTEMPTY
	case kvfs.ErrFileExists:
		return syscall.EEXIST
	default:
		return syscall.EIO
	}
}
