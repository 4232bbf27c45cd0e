//go:build windows

package models

import "os"

// OpenNoFollow opens a file.
// On Windows, O_NOFOLLOW is not available; symlink creation needs privileges
// there and Resolve still rejects symlinks before loading.
func OpenNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
