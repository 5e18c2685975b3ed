package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type published struct {
	Username string
	Status   bool
	Exclude  string
}

type publishLog struct {
	mu   sync.Mutex
	msgs []published
}

func (p *publishLog) publish(msg []byte, exclude string) {
	var ev struct {
		Username string `json:"username"`
		Status   bool   `json:"status"`
	}
	if err := json.Unmarshal(msg, &ev); err != nil {
		panic(err)
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, published{Username: ev.Username, Status: ev.Status, Exclude: exclude})
	p.mu.Unlock()
}

func (p *publishLog) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func newTestTracker(online func(string) bool) (*Tracker, *fakeClock, *publishLog, *Metrics) {
	clock := &fakeClock{}
	log := &publishLog{}
	m := NewMetrics()
	if online == nil {
		online = func(string) bool { return true }
	}
	return newTracker(time.Second, clock.after, log.publish, online, m), clock, log, m
}

func TestTrackerDecay(t *testing.T) {
	tr, clock, log, m := newTestTracker(nil)

	tr.NoteAudio("alice")
	if !tr.Recording("alice") {
		t.Fatalf("Recording(alice) = false right after audio")
	}
	if n := clock.fire(); n != 1 {
		t.Fatalf("fired %d timers, want 1", n)
	}
	if tr.Recording("alice") {
		t.Fatalf("Recording(alice) = true after timeout")
	}

	want := []published{
		{Username: "alice", Status: true, Exclude: "alice"},
		{Username: "alice", Status: false, Exclude: ""},
	}
	if diff := cmp.Diff(want, log.all()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	if got := m.RecordingTimeouts.Load(); got != 1 {
		t.Errorf("RecordingTimeouts = %d, want 1", got)
	}
}

func TestTrackerDebounce(t *testing.T) {
	tr, clock, log, _ := newTestTracker(nil)

	for i := 0; i < 5; i++ {
		tr.NoteAudio("alice")
	}
	if got := clock.pending(); got != 1 {
		t.Fatalf("pending timers = %d, want 1 (earlier timers replaced)", got)
	}
	clock.fire()
	clock.fire()

	var offs, ons int
	for _, p := range log.all() {
		if p.Status {
			ons++
		} else {
			offs++
		}
	}
	if ons != 5 {
		t.Errorf("status:true announcements = %d, want 5", ons)
	}
	if offs != 1 {
		t.Errorf("status:false announcements = %d, want exactly 1", offs)
	}
}

func TestTrackerSupersededTimerIsNoop(t *testing.T) {
	tr, clock, log, _ := newTestTracker(nil)

	tr.NoteAudio("alice")
	// Capture the first timer callback as if it had already been dequeued
	// by the runtime when the second audio frame arrived.
	clock.mu.Lock()
	first := clock.timers[0]
	clock.mu.Unlock()

	tr.NoteAudio("alice")
	first.f()

	if !tr.Recording("alice") {
		t.Fatalf("stale timer must not clear a newer recording state")
	}
	for _, p := range log.all() {
		if !p.Status {
			t.Fatalf("stale timer published status:false")
		}
	}
}

func TestTrackerIndependentUsers(t *testing.T) {
	tr, clock, log, _ := newTestTracker(nil)

	tr.NoteAudio("alice")
	tr.NoteAudio("bob")
	if clock.pending() != 2 {
		t.Fatalf("pending timers = %d, want 2", clock.pending())
	}
	clock.fire()

	offs := map[string]int{}
	for _, p := range log.all() {
		if !p.Status {
			offs[p.Username]++
		}
	}
	if diff := cmp.Diff(map[string]int{"alice": 1, "bob": 1}, offs); diff != "" {
		t.Errorf("status:false per user mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackerCancel(t *testing.T) {
	tr, clock, log, _ := newTestTracker(nil)

	tr.NoteAudio("alice")
	tr.Cancel("alice")
	tr.Cancel("alice")
	if tr.Recording("alice") {
		t.Fatalf("Recording(alice) = true after Cancel")
	}
	if n := clock.fire(); n != 0 {
		t.Fatalf("cancelled timer fired (%d)", n)
	}
	if got := len(log.all()); got != 1 {
		t.Errorf("published %d messages, want only the status:true one", got)
	}
}

func TestTrackerOfflineUserNotAnnounced(t *testing.T) {
	online := true
	tr, clock, log, _ := newTestTracker(func(string) bool { return online })

	tr.NoteAudio("alice")
	online = false
	clock.fire()

	if tr.Recording("alice") {
		t.Fatalf("Recording(alice) should be cleared even when offline")
	}
	if got := len(log.all()); got != 1 {
		t.Errorf("published %d messages, want 1 (no status:false for offline user)", got)
	}
}

func TestTrackerIgnoresOfflineSender(t *testing.T) {
	tr, clock, log, _ := newTestTracker(func(name string) bool { return name != "alice" })

	if tr.NoteAudio("alice") {
		t.Fatalf("NoteAudio(alice) = true for a user who is not online")
	}
	if tr.Recording("alice") {
		t.Fatalf("Recording(alice) = true for a user who is not online")
	}
	if n := clock.pending(); n != 0 {
		t.Fatalf("offline sender armed %d timers", n)
	}
	if got := log.all(); len(got) != 0 {
		t.Fatalf("published %+v for an offline sender", got)
	}
}

func TestTrackerStop(t *testing.T) {
	tr, clock, log, _ := newTestTracker(nil)

	tr.NoteAudio("alice")
	tr.NoteAudio("bob")
	tr.Stop()
	if clock.pending() != 0 {
		t.Fatalf("Stop left %d timers pending", clock.pending())
	}
	tr.NoteAudio("carol")
	if tr.Recording("carol") {
		t.Fatalf("NoteAudio after Stop should be ignored")
	}
	if got := len(log.all()); got != 2 {
		t.Errorf("published %d messages, want 2", got)
	}
}

func TestTrackerRealTimer(t *testing.T) {
	log := &publishLog{}
	tr := newTracker(20*time.Millisecond, realAfter, log.publish, func(string) bool { return true }, nil)
	defer tr.Stop()

	tr.NoteAudio("alice")
	waitFor(t, "recording to decay", func() bool { return !tr.Recording("alice") })

	msgs := log.all()
	if len(msgs) != 2 || msgs[1].Status {
		t.Fatalf("published %+v, want true then false", msgs)
	}
}
