package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/db"
	"github.com/hpungsan/sift/internal/download"
	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/hub"
)

// stubFetcher writes a small file, or blocks until cancelled when block is set.
type stubFetcher struct {
	block bool
}

func (s *stubFetcher) Fetch(ctx context.Context, _, filename, destDir string, p hub.Progress) (string, error) {
	if s.block {
		p.OnStart(0)
		for {
			if err := p.OnProgress(1); err != nil {
				return "", err
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
	p.OnStart(4)
	path := filepath.Join(destDir, filename)
	if err := os.WriteFile(path, []byte("GGUF"), 0600); err != nil {
		return "", err
	}
	if err := p.OnProgress(4); err != nil {
		return "", err
	}
	p.OnComplete()
	return path, nil
}

func setupDownloads(t *testing.T, fetcher download.Fetcher) (*config.Config, *download.Manager) {
	t.Helper()
	cfg, database := setupModels(t)
	mgr := download.NewManager(download.NewRegistry(), fetcher, db.NameStore{DB: database}, download.Options{
		DestDir: cfg.ModelsDir,
	})
	t.Cleanup(mgr.Close)
	return cfg, mgr
}

func waitDownload(t *testing.T, mgr *download.Manager, id string, want download.State) *download.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := DownloadStatus(mgr, DownloadStatusInput{DownloadID: id})
		if err != nil {
			t.Fatalf("DownloadStatus failed: %v", err)
		}
		if job.State == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("download %s never reached %s", id, want)
	return nil
}

func TestDownloads_Lifecycle(t *testing.T) {
	cfg, mgr := setupDownloads(t, &stubFetcher{})

	out, err := StartDownload(mgr, cfg, StartDownloadInput{RepoID: "acme/tiny-GGUF", Filename: "tiny.gguf"})
	if err != nil {
		t.Fatalf("StartDownload failed: %v", err)
	}
	if out.DownloadID == "" {
		t.Fatal("DownloadID is empty")
	}

	job := waitDownload(t, mgr, out.DownloadID, download.StateCompleted)
	if job.Progress != 100 || job.BytesDownloaded != 4 {
		t.Errorf("job = %+v", job)
	}
	if job.TargetPath != filepath.Join(cfg.ModelsDir, "tiny.gguf") {
		t.Errorf("TargetPath = %q", job.TargetPath)
	}

	// the finished file now blocks a second download
	_, err = StartDownload(mgr, cfg, StartDownloadInput{RepoID: "acme/tiny-GGUF", Filename: "tiny.gguf"})
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}

	list := ListDownloads(mgr, ListDownloadsInput{})
	if len(list.Downloads) != 1 {
		t.Errorf("len(Downloads) = %d, want 1", len(list.Downloads))
	}
	active := ListDownloads(mgr, ListDownloadsInput{ActiveOnly: true})
	if len(active.Downloads) != 0 {
		t.Errorf("len(active) = %d, want 0", len(active.Downloads))
	}

	time.Sleep(2 * time.Millisecond)
	zero := 0.0
	cleaned, err := CleanupDownloads(mgr, cfg, CleanupDownloadsInput{MaxAgeHours: &zero})
	if err != nil {
		t.Fatalf("CleanupDownloads failed: %v", err)
	}
	if cleaned.Removed != 1 {
		t.Errorf("Removed = %d, want 1", cleaned.Removed)
	}
	_, err = DownloadStatus(mgr, DownloadStatusInput{DownloadID: out.DownloadID})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND after cleanup", err)
	}
}

func TestDownloads_RecordsFriendlyName(t *testing.T) {
	cfg, database := setupModels(t)
	mgr := download.NewManager(download.NewRegistry(), &stubFetcher{}, db.NameStore{DB: database}, download.Options{DestDir: cfg.ModelsDir})
	defer mgr.Close()

	out, err := StartDownload(mgr, cfg, StartDownloadInput{RepoID: "acme/tiny-GGUF", Filename: "tiny.gguf"})
	if err != nil {
		t.Fatalf("StartDownload failed: %v", err)
	}
	waitDownload(t, mgr, out.DownloadID, download.StateCompleted)

	// the name is recorded just after the state flips
	var listed *ListModelsOutput
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		listed, err = ListModels(database, cfg, "")
		if err != nil {
			t.Fatalf("ListModels failed: %v", err)
		}
		if len(listed.Models) == 1 && listed.Models[0].FriendlyName != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(listed.Models) != 1 || listed.Models[0].FriendlyName != "tiny-GGUF / tiny" {
		t.Errorf("Models = %+v", listed.Models)
	}
}

func TestDownloads_Cancel(t *testing.T) {
	cfg, mgr := setupDownloads(t, &stubFetcher{block: true})

	out, err := StartDownload(mgr, cfg, StartDownloadInput{RepoID: "acme/big", Filename: "big.gguf"})
	if err != nil {
		t.Fatalf("StartDownload failed: %v", err)
	}
	waitDownload(t, mgr, out.DownloadID, download.StateInProgress)

	active := ListDownloads(mgr, ListDownloadsInput{ActiveOnly: true})
	if len(active.Downloads) != 1 {
		t.Errorf("len(active) = %d, want 1", len(active.Downloads))
	}

	res, err := CancelDownload(mgr, CancelDownloadInput{DownloadID: out.DownloadID})
	if err != nil {
		t.Fatalf("CancelDownload failed: %v", err)
	}
	if !res.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	waitDownload(t, mgr, out.DownloadID, download.StateCancelled)

	res, _ = CancelDownload(mgr, CancelDownloadInput{DownloadID: out.DownloadID})
	if res.Cancelled {
		t.Error("second cancel reported true")
	}
	res, _ = CancelDownload(mgr, CancelDownloadInput{DownloadID: "01UNKNOWN"})
	if res.Cancelled {
		t.Error("unknown id reported true")
	}
}

func TestDownloads_Validation(t *testing.T) {
	cfg, mgr := setupDownloads(t, &stubFetcher{})

	tests := []struct {
		name  string
		input StartDownloadInput
	}{
		{"missing repo", StartDownloadInput{Filename: "a.gguf"}},
		{"bad repo", StartDownloadInput{RepoID: "../x", Filename: "a.gguf"}},
		{"wrong extension", StartDownloadInput{RepoID: "acme/x", Filename: "a.bin"}},
		{"path in filename", StartDownloadInput{RepoID: "acme/x", Filename: "sub/a.gguf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StartDownload(mgr, cfg, tt.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("err = %v, want INVALID_REQUEST", err)
			}
		})
	}

	if _, err := DownloadStatus(mgr, DownloadStatusInput{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty id: err = %v, want INVALID_REQUEST", err)
	}
	if _, err := DownloadStatus(mgr, DownloadStatusInput{DownloadID: "nope"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want NOT_FOUND", err)
	}

	negative := -1.0
	if _, err := CleanupDownloads(mgr, cfg, CleanupDownloadsInput{MaxAgeHours: &negative}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("negative age: err = %v, want INVALID_REQUEST", err)
	}

	// default retention keeps fresh jobs
	res, err := CleanupDownloads(mgr, cfg, CleanupDownloadsInput{})
	if err != nil || res.Removed != 0 {
		t.Errorf("res, err = %+v, %v", res, err)
	}
}
