package hub

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hpungsan/sift/internal/models"
)

// ErrCancelled aborts a transfer. Progress implementations return it from
// OnProgress to stop a fetch; Fetch returns it unchanged.
var ErrCancelled = stderrors.New("hub: transfer cancelled")

// Progress receives byte-level transfer updates.
type Progress interface {
	// OnStart reports the expected size, or 0 when the hub does not send one.
	OnStart(total int64)
	// OnProgress reports newly written bytes. A non-nil error aborts the transfer.
	OnProgress(delta int64) error
	// OnComplete is called once, after the file is in place.
	OnComplete()
}

const copyBufferSize = 1 << 20

// Fetch downloads filename from repo into destDir and returns the final path.
//
// Bytes are streamed to "<filename>.part" and renamed on success, so a
// partially transferred file never appears as an installed model. The
// partial file is removed on any failure, including cancellation.
func (c *Client) Fetch(ctx context.Context, repo, filename, destDir string, progress Progress) (string, error) {
	if err := ValidateRepoID(repo); err != nil {
		return "", err
	}
	if err := models.ValidateFilename(filename); err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create models dir: %w", err)
	}

	resp, err := c.get(ctx, c.resolveURL(repo, filename))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "file", repo+"/"+filename); err != nil {
		return "", err
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	progress.OnStart(total)

	final := filepath.Join(destDir, filename)
	part := final + ".part"
	f, err := models.OpenNoFollow(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}

	written, err := copyWithProgress(ctx, f, resp.Body, progress)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && total > 0 && written != total {
		err = fmt.Errorf("short transfer: got %d of %d bytes", written, total)
	}
	if err == nil {
		if info, lerr := os.Lstat(final); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			err = fmt.Errorf("refusing to replace symlink %s", final)
		}
	}
	if err == nil {
		err = os.Rename(part, final)
	}
	if err != nil {
		_ = os.Remove(part)
		return "", err
	}

	progress.OnComplete()
	return final, nil
}

// copyWithProgress copies src to dst, reporting each chunk to progress.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, progress Progress) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if perr := progress.OnProgress(int64(n)); perr != nil {
				return written, perr
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, rerr
		}
	}
}
