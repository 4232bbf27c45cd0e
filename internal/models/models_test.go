package models

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/sift/internal/errors"
)

func writeModel(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0600))
	return path
}

func TestList_MissingDir(t *testing.T) {
	got, err := List(filepath.Join(t.TempDir(), "nope"), nil, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestList_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "zeta.gguf", 10)
	active := writeModel(t, dir, "alpha.gguf", 3*1024*1024)
	writeModel(t, dir, "notes.txt", 1)
	writeModel(t, dir, "partial.gguf.part", 1)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.gguf"), 0700))

	downloaded := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	names := map[string]Meta{
		"zeta.gguf": {RepoID: "acme/zeta-GGUF", FriendlyName: "Zeta", DownloadedAt: downloaded},
	}

	got, err := List(dir, names, active)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "alpha.gguf", got[0].Filename)
	require.Equal(t, int64(3*1024*1024), got[0].SizeBytes)
	require.Equal(t, 3.0, got[0].SizeMB)
	require.True(t, got[0].Active)
	require.Empty(t, got[0].FriendlyName)
	require.Nil(t, got[0].DownloadedAt)

	require.Equal(t, "zeta.gguf", got[1].Filename)
	require.False(t, got[1].Active)
	require.Equal(t, "Zeta", got[1].FriendlyName)
	require.Equal(t, "acme/zeta-GGUF", got[1].RepoID)
	require.NotNil(t, got[1].DownloadedAt)
	require.True(t, downloaded.Equal(*got[1].DownloadedAt))
}

func TestList_SkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := writeModel(t, t.TempDir(), "real.gguf", 1)
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "link.gguf")))

	got, err := List(dir, nil, "")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSizeMB(t *testing.T) {
	require.Equal(t, 0.0, SizeMB(0))
	require.Equal(t, 1.0, SizeMB(1024*1024))
	require.Equal(t, 1.5, SizeMB(1024*1024*3/2))
	require.Equal(t, 0.01, SizeMB(10*1024))
}

func TestDefaultFriendlyName(t *testing.T) {
	require.Equal(t, "Llama-3-GGUF / llama-3.Q4_K_M", DefaultFriendlyName("bartowski/Llama-3-GGUF", "llama-3.Q4_K_M.gguf"))
	require.Equal(t, "model", DefaultFriendlyName("", "model.gguf"))
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "tiny-llama.Q4_K_M.gguf", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"slash", "sub/model.gguf", true},
		{"backslash", `sub\model.gguf`, true},
		{"traversal", "..gguf", true},
		{"wrong extension", "model.bin", true},
		{"uppercase extension", "model.GGUF", true},
		{"control char", "mo\x00del.gguf", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateFilename(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	want := writeModel(t, dir, "a.gguf", 1)

	got, err := Resolve(dir, "a.gguf")
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = Resolve(dir, "missing.gguf")
	require.True(t, errors.Is(err, errors.ErrModelNotFound), "got %v", err)

	_, err = Resolve(dir, "../a.gguf")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.gguf"), 0700))
	_, err = Resolve(dir, "d.gguf")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}

func TestResolve_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := writeModel(t, t.TempDir(), "real.gguf", 1)
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "link.gguf")))

	_, err := Resolve(dir, "link.gguf")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
	require.Contains(t, err.Error(), "symlink")
}

func TestOpenNoFollow_RejectsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("O_NOFOLLOW is unix only")
	}
	dir := t.TempDir()
	target := writeModel(t, dir, "real.gguf", 1)
	link := filepath.Join(dir, "link.gguf.part")
	require.NoError(t, os.Symlink(target, link))

	_, err := OpenNoFollow(link, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	require.Error(t, err)

	f, err := OpenNoFollow(filepath.Join(dir, "new.gguf.part"), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestCleanFriendlyName(t *testing.T) {
	require.Equal(t, "My Model", CleanFriendlyName("  My Model\n"))
	require.Equal(t, "ab", CleanFriendlyName("a\x07b"))
	require.Equal(t, "", CleanFriendlyName("\t \n"))
	require.Len(t, []rune(CleanFriendlyName(strings.Repeat("é", 200))), 128)
}
