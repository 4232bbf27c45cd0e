// Package download tracks background model transfers: a Registry holding
// every job's state and a Manager running the transfers.
package download

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is a job's lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// transitions lists the states reachable from each non-terminal state.
var transitions = map[State][]State{
	StatePending:    {StateInProgress, StateFailed, StateCancelled},
	StateInProgress: {StateCompleted, StateFailed, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is a snapshot of one transfer. Values returned by the Registry are
// copies; mutating them does not affect the Registry.
type Job struct {
	ID              string     `json:"download_id"`
	RepoID          string     `json:"repo_id"`
	Filename        string     `json:"filename"`
	State           State      `json:"state"`
	Progress        float64    `json:"progress"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
	TotalBytes      int64      `json:"total_bytes"`
	ErrorMessage    string     `json:"error_message"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	TargetPath      string     `json:"target_path,omitempty"`
}

// MarshalJSON rounds progress to one decimal.
func (j Job) MarshalJSON() ([]byte, error) {
	type plain Job
	p := plain(j)
	p.Progress = math.Round(p.Progress*10) / 10
	return json.Marshal(p)
}

// Update carries the progress fields to change. Nil fields are left alone.
type Update struct {
	Progress *float64
	Bytes    *int64
	Total    *int64
}

// Registry is the concurrency-safe store of download jobs. Jobs are only
// removed by Cleanup.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	entropy io.Reader
	now     func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:    make(map[string]*Job),
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Create registers a pending job and returns its id.
func (r *Registry) Create(repoID, filename string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(repoID, filename)
}

// CreateUnique registers a pending job unless repoID/filename already has an
// active one. On conflict it returns the existing job and false.
func (r *Registry) CreateUnique(repoID, filename string) (string, Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.jobs {
		if !job.State.Terminal() && job.RepoID == repoID && job.Filename == filename {
			return job.ID, snapshot(job), false
		}
	}
	id := r.createLocked(repoID, filename)
	return id, snapshot(r.jobs[id]), true
}

func (r *Registry) createLocked(repoID, filename string) string {
	now := r.now()
	id := ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
	r.jobs[id] = &Job{
		ID:        id,
		RepoID:    repoID,
		Filename:  filename,
		State:     StatePending,
		StartedAt: now,
	}
	return id
}

// Get returns a snapshot of a job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(job), true
}

// UpdateProgress applies the supplied fields. Unknown ids are ignored.
func (r *Registry) UpdateProgress(id string, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.Bytes != nil {
		job.BytesDownloaded = *u.Bytes
	}
	if u.Total != nil {
		job.TotalBytes = *u.Total
	}
}

// SetState moves a job to state. Entering a terminal state stamps the
// completion time; msg and path are recorded only when non-empty. It reports
// false for unknown ids and disallowed transitions, such as leaving a
// terminal state.
func (r *Registry) SetState(id string, state State, msg, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setStateLocked(id, state, msg, path)
}

func (r *Registry) setStateLocked(id string, state State, msg, path string) bool {
	job, ok := r.jobs[id]
	if !ok || !canTransition(job.State, state) {
		return false
	}
	job.State = state
	if msg != "" {
		job.ErrorMessage = msg
	}
	if path != "" {
		job.TargetPath = path
	}
	if state.Terminal() {
		now := r.now()
		job.CompletedAt = &now
	}
	return true
}

// Cancel marks a pending or in-progress job cancelled. The transfer itself
// stops the next time its worker checks State.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setStateLocked(id, StateCancelled, "", "")
}

// State returns the current state of a job.
func (r *Registry) State(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return "", false
	}
	return job.State, true
}

// Cleanup removes terminal jobs that completed more than maxAge ago and
// returns how many were removed.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, job := range r.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// ListAll returns every job, oldest first.
func (r *Registry) ListAll() []Job {
	return r.list(func(*Job) bool { return true })
}

// ListActive returns pending and in-progress jobs, oldest first.
func (r *Registry) ListActive() []Job {
	return r.list(func(j *Job) bool { return !j.State.Terminal() })
}

// FindActive returns the active job for repoID/filename, if any.
func (r *Registry) FindActive(repoID, filename string) (Job, bool) {
	for _, j := range r.ListActive() {
		if j.RepoID == repoID && j.Filename == filename {
			return j, true
		}
	}
	return Job{}, false
}

func (r *Registry) list(keep func(*Job) bool) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if keep(job) {
			out = append(out, snapshot(job))
		}
	}
	// ULIDs sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func snapshot(job *Job) Job {
	c := *job
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
