package hub

import (
	"sync"
	"time"

	"github.com/NicolasHaas/walkie/pkg/protocol"
)

// DefaultRecordingTimeout is how long a user stays "recording" after their
// last audio frame.
const DefaultRecordingTimeout = 3 * time.Second

type stopper interface {
	Stop() bool
}

// afterFunc schedules f after d. It is time.AfterFunc outside of tests.
type afterFunc func(d time.Duration, f func()) stopper

func realAfter(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type recordingTimer struct {
	gen   uint64
	timer stopper
}

// Tracker owns the transient per-user recording flag. Each audio frame sets
// the flag and restarts the user's timer; when the timer fires without being
// superseded the flag is cleared and announced.
type Tracker struct {
	timeout time.Duration
	after   afterFunc
	publish func(msg []byte, exclude string)
	online  func(username string) bool
	metrics *Metrics

	mu      sync.Mutex
	active  map[string]*recordingTimer
	gen     uint64
	stopped bool
}

// newTracker creates a Tracker. publish is called with the tracker lock held
// and must not call back into the tracker.
func newTracker(timeout time.Duration, after afterFunc, publish func([]byte, string), online func(string) bool, metrics *Metrics) *Tracker {
	if timeout <= 0 {
		timeout = DefaultRecordingTimeout
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Tracker{
		timeout: timeout,
		after:   after,
		publish: publish,
		online:  online,
		metrics: metrics,
		active:  make(map[string]*recordingTimer),
	}
}

// NoteAudio marks username as recording, announces it to everyone else and
// restarts the expiry timer. Users who are not online are ignored, which
// keeps a late frame from reviving the flag after Cancel. It reports whether
// the flag was set.
func (t *Tracker) NoteAudio(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	if t.online != nil && !t.online(username) {
		return false
	}

	if rt, ok := t.active[username]; ok {
		rt.timer.Stop()
	}
	t.gen++
	gen := t.gen
	rt := &recordingTimer{gen: gen}
	rt.timer = t.after(t.timeout, func() { t.expire(username, gen) })
	t.active[username] = rt

	t.publish(protocol.MustEncode(protocol.Recording(username, true)), username)
	return true
}

func (t *Tracker) expire(username string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rt, ok := t.active[username]
	if t.stopped || !ok || rt.gen != gen {
		return
	}
	delete(t.active, username)
	t.metrics.RecordingTimeouts.Add(1)

	if t.online != nil && !t.online(username) {
		return
	}
	t.publish(protocol.MustEncode(protocol.Recording(username, false)), "")
}

// Cancel drops the pending state for username without announcing anything.
func (t *Tracker) Cancel(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rt, ok := t.active[username]; ok {
		rt.timer.Stop()
		delete(t.active, username)
	}
}

// Recording reports whether username is currently recording.
func (t *Tracker) Recording(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[username]
	return ok
}

// Stop cancels every pending timer. Later NoteAudio calls are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for name, rt := range t.active {
		rt.timer.Stop()
		delete(t.active, name)
	}
}
