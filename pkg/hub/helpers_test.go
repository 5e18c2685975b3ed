package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/walkie/pkg/store"
)

// fakeConn records every message sent to it.
type fakeConn struct {
	mu       sync.Mutex
	msgs     [][]byte
	closed   bool
	failSend error
}

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.failSend != nil {
		return c.failSend
	}
	c.msgs = append(c.msgs, append([]byte(nil), msg...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setFailSend(err error) {
	c.mu.Lock()
	c.failSend = err
	c.mu.Unlock()
}

// event is the union of all outbound frame fields.
type event struct {
	Type     string          `json:"type"`
	Username string          `json:"username,omitempty"`
	Users    []string        `json:"users,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Audio    json.RawMessage `json:"audio,omitempty"`
	Status   *bool           `json:"status,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func (c *fakeConn) events(t *testing.T) []event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event, 0, len(c.msgs))
	for _, m := range c.msgs {
		var e event
		if err := json.Unmarshal(m, &e); err != nil {
			t.Fatalf("fakeConn: undecodable message %s: %v", m, err)
		}
		out = append(out, e)
	}
	return out
}

func (c *fakeConn) eventsOfType(t *testing.T, typ string) []event {
	t.Helper()
	var out []event
	for _, e := range c.events(t) {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, e := range c.events(t) {
		out = append(out, e.Type)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}

// fakeClock hands out timers that only fire when told to.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) after(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fire runs every pending timer registered so far and returns how many ran.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

var errStoreDown = errors.New("store down")

// failingStore is a Store whose writes always fail.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Save(context.Context, []string) error { return errStoreDown }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimit = 0
	return cfg
}

func newTestHub(t *testing.T, cfg Config) (*Hub, *fakeClock, *store.MemoryStore) {
	t.Helper()
	backend := store.NewMemory()
	h, clock := newTestHubWithStore(t, cfg, backend)
	return h, clock, backend
}

func newTestHubWithStore(t *testing.T, cfg Config, backend store.Store) (*Hub, *fakeClock) {
	t.Helper()
	presence, err := store.NewPresence(context.Background(), backend)
	if err != nil {
		t.Fatalf("NewPresence: %v", err)
	}
	clock := &fakeClock{}
	h := newHub(cfg, presence, clock.after)
	t.Cleanup(func() { _ = h.Close() })
	return h, clock
}

// connect opens a session and sends a join for username.
func connect(t *testing.T, h *Hub, username string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s := h.NewSession(conn, "conn-"+username)
	s.HandleMessage([]byte(`{"type":"join","username":"` + username + `"}`))
	return s, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
