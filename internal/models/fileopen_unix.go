//go:build !windows

package models

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/sift/internal/errors"
)

// OpenNoFollow opens a file with O_NOFOLLOW so a symlink planted at the final
// path component is rejected. O_CLOEXEC keeps the descriptor out of the
// backend processes we exec.
//
// O_NOFOLLOW only protects the final component. Callers write directly into
// the models directory, which Resolve and the download path both require.
func OpenNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot write to symlink")
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}
