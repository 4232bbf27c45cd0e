package download

import (
	"time"

	"github.com/hpungsan/sift/internal/hub"
)

// tracker forwards transfer progress into the Registry at most once per
// interval and turns a cancelled job into hub.ErrCancelled.
type tracker struct {
	reg      *Registry
	id       string
	interval time.Duration
	now      func() time.Time

	total int64
	done  int64
	last  time.Time
}

var _ hub.Progress = (*tracker)(nil)

func newTracker(reg *Registry, id string, interval time.Duration) *tracker {
	return &tracker{reg: reg, id: id, interval: interval, now: time.Now}
}

func (t *tracker) OnStart(total int64) {
	t.total = total
	t.last = t.now()
	zero := 0.0
	var none int64
	t.reg.UpdateProgress(t.id, Update{Progress: &zero, Bytes: &none, Total: &total})
}

func (t *tracker) OnProgress(delta int64) error {
	t.done += delta
	if now := t.now(); now.Sub(t.last) >= t.interval {
		// polled at the flush rate; the worker context stops the copy in between
		if state, ok := t.reg.State(t.id); !ok || state == StateCancelled {
			return hub.ErrCancelled
		}
		t.last = now
		t.flush()
	}
	return nil
}

func (t *tracker) OnComplete() {
	full := 100.0
	done := t.done
	t.reg.UpdateProgress(t.id, Update{Progress: &full, Bytes: &done})
}

// flush writes the current counters. It is also called once when a
// transfer ends so the last bytes are never lost to throttling.
func (t *tracker) flush() {
	done := t.done
	u := Update{Bytes: &done}
	if t.total > 0 {
		p := float64(t.done) / float64(t.total) * 100
		if p > 100 {
			p = 100
		}
		u.Progress = &p
	}
	t.reg.UpdateProgress(t.id, u)
}
