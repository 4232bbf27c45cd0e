package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/sift/internal/errors"
)

// Ext is the only model file extension sift lists, loads or downloads.
const Ext = ".gguf"

// ValidateFilename checks a model filename supplied by a caller.
// It checks:
// 1. Non-empty, no control characters
// 2. No path separators or ".." (the file must live directly in the models dir)
// 3. Extension (.gguf required)
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.NewInvalidRequest("filename is required")
	}
	if strings.ContainsAny(name, `/\`) {
		return errors.NewInvalidRequest("filename must not contain path separators")
	}
	if strings.Contains(name, "..") {
		return errors.NewInvalidRequest("filename must not contain directory traversal (..)")
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return errors.NewInvalidRequest("filename must not contain control characters")
		}
	}
	if filepath.Ext(name) != Ext {
		return errors.NewInvalidRequest(fmt.Sprintf("filename must have %s extension", Ext))
	}
	return nil
}

// Resolve validates filename and returns the absolute path of an existing
// model file directly inside dir.
//
// Files and the models directory itself must not be symlinks. Requiring files
// to sit directly in dir leaves no intermediate directory component that could
// be swapped between validation and open.
func Resolve(dir, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}

	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid models dir: %v", err))
	}
	if info, err := os.Lstat(absDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("models directory must not be a symlink")
	}

	path := filepath.Join(absDir, filename)
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return "", errors.NewModelNotFound(filename)
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("model file must not be a symlink")
	}
	if !info.Mode().IsRegular() {
		return "", errors.NewInvalidRequest("model file must be a regular file")
	}
	return path, nil
}

// CleanFriendlyName trims whitespace and drops control characters from a
// user-supplied display name. Names longer than 128 runes are cut.
func CleanFriendlyName(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	out := []rune(strings.TrimSpace(b.String()))
	if len(out) > 128 {
		out = out[:128]
	}
	return string(out)
}
