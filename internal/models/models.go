// Package models lists installed model files and validates model filenames.
package models

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Meta is the friendly-name metadata recorded for a model file.
type Meta struct {
	RepoID       string    `json:"repo_id,omitempty"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at,omitempty"`
}

// Model is one installed model file.
type Model struct {
	Filename     string     `json:"filename"`
	SizeBytes    int64      `json:"size_bytes"`
	SizeMB       float64    `json:"size_mb"`
	Path         string     `json:"path"`
	FriendlyName string     `json:"friendly_name,omitempty"`
	RepoID       string     `json:"repo_id,omitempty"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
	Active       bool       `json:"active"`
}

// List returns the model files directly in dir, sorted by filename. Metadata
// from names is merged by filename, and the model whose path equals active is
// flagged. A missing directory yields an empty list. Symlinks and
// subdirectories are skipped.
func List(dir string, names map[string]Meta, active string) ([]Model, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Model{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]Model, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != Ext {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m := Model{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			SizeMB:    SizeMB(info.Size()),
			Path:      path,
			Active:    active != "" && samePath(active, path),
		}
		if meta, ok := names[entry.Name()]; ok {
			m.FriendlyName = meta.FriendlyName
			m.RepoID = meta.RepoID
			if !meta.DownloadedAt.IsZero() {
				t := meta.DownloadedAt
				m.DownloadedAt = &t
			}
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// SizeMB converts bytes to mebibytes rounded to two decimals.
func SizeMB(n int64) float64 {
	return math.Round(float64(n)/(1024*1024)*100) / 100
}

// DefaultFriendlyName derives a display name from the repository basename and
// the file stem, e.g. "Llama-3-GGUF / llama-3.Q4_K_M".
func DefaultFriendlyName(repoID, filename string) string {
	stem := strings.TrimSuffix(filename, Ext)
	base := repoID
	if i := strings.LastIndex(repoID, "/"); i >= 0 {
		base = repoID[i+1:]
	}
	if base == "" {
		return stem
	}
	return base + " / " + stem
}

func samePath(a, b string) bool {
	ca, err1 := filepath.Abs(a)
	cb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ca == cb
}
