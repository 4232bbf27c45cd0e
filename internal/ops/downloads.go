package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/download"
	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/hub"
	"github.com/hpungsan/sift/internal/models"
)

// StartDownloadInput contains parameters for the StartDownload operation.
type StartDownloadInput struct {
	RepoID   string `json:"repo_id"`
	Filename string `json:"filename"`
}

// StartDownloadOutput identifies the queued download.
type StartDownloadOutput struct {
	DownloadID string         `json:"download_id"`
	State      download.State `json:"state"`
	Message    string         `json:"message"`
}

// StartDownload queues a background transfer of a model file. Installed
// files are not downloaded again.
func StartDownload(mgr *download.Manager, cfg *config.Config, input StartDownloadInput) (*StartDownloadOutput, error) {
	if err := hub.ValidateRepoID(input.RepoID); err != nil {
		return nil, err
	}
	if err := models.ValidateFilename(input.Filename); err != nil {
		return nil, err
	}
	if _, err := os.Lstat(filepath.Join(cfg.ModelsDir, input.Filename)); err == nil {
		return nil, errors.NewConflict(fmt.Sprintf("model already installed: %s", input.Filename))
	}

	job, err := mgr.Start(input.RepoID, input.Filename)
	if err != nil {
		return nil, err
	}
	return &StartDownloadOutput{
		DownloadID: job.ID,
		State:      job.State,
		Message:    fmt.Sprintf("download of %s started", input.Filename),
	}, nil
}

// DownloadStatusInput contains parameters for the DownloadStatus operation.
type DownloadStatusInput struct {
	DownloadID string `json:"download_id"`
}

// DownloadStatus returns a snapshot of one download.
func DownloadStatus(mgr *download.Manager, input DownloadStatusInput) (*download.Job, error) {
	if input.DownloadID == "" {
		return nil, errors.NewInvalidRequest("download_id is required")
	}
	job, ok := mgr.Registry().Get(input.DownloadID)
	if !ok {
		return nil, errors.NewNotFound("download", input.DownloadID)
	}
	return &job, nil
}

// ListDownloadsInput contains parameters for the ListDownloads operation.
type ListDownloadsInput struct {
	ActiveOnly bool `json:"active_only,omitempty"`
}

// ListDownloadsOutput contains download snapshots, oldest first.
type ListDownloadsOutput struct {
	Downloads []download.Job `json:"downloads"`
}

// ListDownloads lists all downloads, or only pending and in-progress ones.
func ListDownloads(mgr *download.Manager, input ListDownloadsInput) *ListDownloadsOutput {
	if input.ActiveOnly {
		return &ListDownloadsOutput{Downloads: mgr.Registry().ListActive()}
	}
	return &ListDownloadsOutput{Downloads: mgr.Registry().ListAll()}
}

// CancelDownloadInput contains parameters for the CancelDownload operation.
type CancelDownloadInput struct {
	DownloadID string `json:"download_id"`
}

// CancelDownloadOutput reports whether a cancellation was recorded.
type CancelDownloadOutput struct {
	DownloadID string `json:"download_id"`
	Cancelled  bool   `json:"cancelled"`
}

// CancelDownload requests cancellation. Unknown or finished downloads report
// cancelled=false rather than an error.
func CancelDownload(mgr *download.Manager, input CancelDownloadInput) (*CancelDownloadOutput, error) {
	if input.DownloadID == "" {
		return nil, errors.NewInvalidRequest("download_id is required")
	}
	return &CancelDownloadOutput{
		DownloadID: input.DownloadID,
		Cancelled:  mgr.Cancel(input.DownloadID),
	}, nil
}

// CleanupDownloadsInput contains parameters for the CleanupDownloads operation.
type CleanupDownloadsInput struct {
	MaxAgeHours *float64 `json:"max_age_hours,omitempty"` // default: downloads.retention_hours
}

// CleanupDownloadsOutput reports how many finished downloads were removed.
type CleanupDownloadsOutput struct {
	Removed int    `json:"removed"`
	Message string `json:"message"`
}

// CleanupDownloads removes finished downloads older than max_age_hours.
func CleanupDownloads(mgr *download.Manager, cfg *config.Config, input CleanupDownloadsInput) (*CleanupDownloadsOutput, error) {
	hours := float64(cfg.Downloads.RetentionHours)
	if input.MaxAgeHours != nil {
		hours = *input.MaxAgeHours
	}
	if hours < 0 {
		return nil, errors.NewInvalidRequest("max_age_hours must be >= 0")
	}

	removed := mgr.Sweep(time.Duration(hours * float64(time.Hour)))
	return &CleanupDownloadsOutput{
		Removed: removed,
		Message: fmt.Sprintf("removed %d finished downloads", removed),
	}, nil
}
