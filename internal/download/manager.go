package download

import (
	"context"
	stderrors "errors"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/hub"
	"github.com/hpungsan/sift/internal/models"
)

// Fetcher transfers one file from a repository into destDir.
type Fetcher interface {
	Fetch(ctx context.Context, repo, filename, destDir string, progress hub.Progress) (string, error)
}

// NameStore records metadata for completed downloads.
type NameStore interface {
	SaveModelName(filename string, meta models.Meta) error
}

// Options configure a Manager. Zero values fall back to the defaults noted.
type Options struct {
	DestDir          string
	MaxConcurrent    int           // default 2
	ProgressInterval time.Duration // default 250ms
	Retention        time.Duration // janitor age threshold, default 24h
	SweepInterval    time.Duration // 0 disables the janitor
}

// Manager runs one goroutine per download. At most MaxConcurrent transfers
// run at once; the rest stay pending and start oldest first as slots free up.
type Manager struct {
	reg     *Registry
	fetcher Fetcher
	names   NameStore
	opts    Options
	sem     *semaphore.Weighted

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	queue   []queued
}

type queued struct {
	id, repoID, filename string
}

// NewManager creates a Manager and starts its janitor. names may be nil.
func NewManager(reg *Registry, fetcher Fetcher, names NameStore, opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 250 * time.Millisecond
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}

	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		reg:     reg,
		fetcher: fetcher,
		names:   names,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		ctx:     ctx,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}

	if opts.SweepInterval > 0 {
		m.wg.Add(1)
		go m.janitor()
	}
	return m
}

// Registry returns the job registry.
func (m *Manager) Registry() *Registry {
	return m.reg
}

// Start registers a download and launches its worker. A second request for
// a file that is already being fetched from the same repository is a conflict.
func (m *Manager) Start(repoID, filename string) (Job, error) {
	if err := m.ctx.Err(); err != nil {
		return Job{}, errors.NewConflict("download manager is shutting down")
	}
	id, job, created := m.reg.CreateUnique(repoID, filename)
	if !created {
		return Job{}, &errors.SiftError{
			Code:    errors.ErrConflict,
			Status:  409,
			Message: "download already in progress",
			Details: map[string]any{"download_id": id},
		}
	}

	m.mu.Lock()
	m.queue = append(m.queue, queued{id: id, repoID: repoID, filename: filename})
	m.mu.Unlock()
	log.Printf("download %s: queued %s/%s", id, repoID, filename)

	m.dispatch()
	return job, nil
}

// dispatch launches workers for the oldest queued jobs while slots are free.
// Jobs cancelled while queued are dropped without taking a slot.
func (m *Manager) dispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) > 0 {
		next := m.queue[0]
		if state, ok := m.reg.State(next.id); !ok || state != StatePending || m.ctx.Err() != nil {
			m.queue = m.queue[1:]
			m.reg.SetState(next.id, StateCancelled, "", "")
			continue
		}
		if !m.sem.TryAcquire(1) {
			return
		}
		m.queue = m.queue[1:]

		ctx, cancel := context.WithCancel(m.ctx)
		m.cancels[next.id] = cancel
		m.wg.Add(1)
		go m.run(ctx, next)
	}
}

// Cancel marks the job cancelled and interrupts its transfer. It reports
// false for unknown or already finished jobs.
func (m *Manager) Cancel(id string) bool {
	if !m.reg.Cancel(id) {
		return false
	}
	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Sweep removes finished jobs older than maxAge.
func (m *Manager) Sweep(maxAge time.Duration) int {
	return m.reg.Cleanup(maxAge)
}

// Close cancels every active job and waits for all workers to exit.
func (m *Manager) Close() {
	for _, job := range m.reg.ListActive() {
		m.reg.Cancel(job.ID)
	}
	m.stop()
	m.dispatch()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, q queued) {
	id, repoID, filename := q.id, q.repoID, q.filename
	defer m.wg.Done()
	// runs after the slot is released
	defer m.dispatch()
	defer m.sem.Release(1)
	defer m.forget(id)

	if !m.reg.SetState(id, StateInProgress, "", "") {
		log.Printf("download %s: cancelled before start", id)
		return
	}
	log.Printf("download %s: started", id)

	t := newTracker(m.reg, id, m.opts.ProgressInterval)
	path, err := m.fetcher.Fetch(ctx, repoID, filename, m.opts.DestDir, t)
	t.flush()

	switch {
	case err == nil:
		if !m.reg.SetState(id, StateCompleted, "", path) {
			// cancelled after the last byte arrived; honor the cancel
			_ = os.Remove(path)
			log.Printf("download %s: cancelled", id)
			return
		}
		m.recordName(repoID, filename)
		log.Printf("download %s: completed %s", id, path)
	case stderrors.Is(err, hub.ErrCancelled) || stderrors.Is(err, context.Canceled):
		m.reg.SetState(id, StateCancelled, "", "")
		log.Printf("download %s: cancelled", id)
	default:
		m.reg.SetState(id, StateFailed, err.Error(), "")
		log.Printf("download %s: failed: %v", id, err)
	}
}

func (m *Manager) recordName(repoID, filename string) {
	if m.names == nil {
		return
	}
	meta := models.Meta{
		RepoID:       repoID,
		FriendlyName: models.DefaultFriendlyName(repoID, filename),
		DownloadedAt: time.Now().UTC(),
	}
	if err := m.names.SaveModelName(filename, meta); err != nil {
		log.Printf("download: failed to record name for %s: %v", filename, err)
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	cancel := m.cancels[id]
	delete(m.cancels, id)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) janitor() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.opts.Retention); n > 0 {
				log.Printf("download janitor: removed %d finished jobs", n)
			}
		}
	}
}
