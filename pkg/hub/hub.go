package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/walkie/pkg/model"
	"github.com/NicolasHaas/walkie/pkg/protocol"
	"github.com/NicolasHaas/walkie/pkg/store"
)

// persistTimeout bounds a single presence store write.
const persistTimeout = 5 * time.Second

// Config holds hub behaviour settings.
type Config struct {
	RecordingTimeout time.Duration // recording flag lifetime after the last audio frame
	JoinTimeout      time.Duration // time allowed between connect and join (0 = unlimited)
	RateLimit        float64       // inbound frames per second per connection (0 = unlimited)
	RateBurst        int           // inbound burst allowance
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecordingTimeout: DefaultRecordingTimeout,
		JoinTimeout:      10 * time.Second,
		RateLimit:        20,
		RateBurst:        40,
	}
}

// Hub owns all shared state: the registry, the presence list, the recording
// tracker and the set of open sessions.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	after  afterFunc

	registry    *Registry
	presence    *store.Presence
	broadcaster *Broadcaster
	router      *Router
	tracker     *Tracker
	metrics     *Metrics

	// members serializes registry membership changes together with the
	// matching presence write and announcement.
	members sync.Mutex

	mu       sync.Mutex
	sessions map[Conn]*Session
	closing  atomic.Bool
}

// New creates a hub. The hub takes ownership of presence and closes it in Close.
func New(cfg Config, presence *store.Presence) *Hub {
	return newHub(cfg, presence, realAfter)
}

func newHub(cfg Config, presence *store.Presence, after afterFunc) *Hub {
	h := &Hub{
		cfg:      cfg,
		logger:   slog.Default().With("component", "hub"),
		after:    after,
		registry: NewRegistry(),
		presence: presence,
		metrics:  NewMetrics(),
		sessions: make(map[Conn]*Session),
	}
	h.broadcaster = NewBroadcaster(h.registry, h.deliveryFailed)
	h.router = NewRouter(h.registry, h.metrics, h.logger, h.deliveryFailed)
	h.tracker = newTracker(cfg.RecordingTimeout, after, h.publish, h.registry.Online, h.metrics)
	return h
}

func (h *Hub) publish(msg []byte, exclude string) {
	h.broadcaster.Broadcast(msg, exclude)
}

// NewSession attaches a freshly accepted connection. The session starts in
// the Connecting state and waits for a join frame.
func (h *Hub) NewSession(conn Conn, id string) *Session {
	s := newSession(h, conn, id)
	h.metrics.TotalConnections.Add(1)

	h.mu.Lock()
	if h.closing.Load() {
		h.mu.Unlock()
		s.state = StateClosed
		_ = conn.Close()
		s.logger.Debug("rejecting connection during shutdown")
		return s
	}
	h.sessions[conn] = s
	h.mu.Unlock()
	h.metrics.ActiveConnections.Add(1)

	if h.cfg.JoinTimeout > 0 {
		s.mu.Lock()
		s.joinTimer = h.after(h.cfg.JoinTimeout, s.joinExpired)
		s.mu.Unlock()
	}
	s.logger.Debug("connection opened")
	return s
}

func (h *Hub) forget(s *Session) {
	h.mu.Lock()
	if h.sessions[s.conn] == s {
		delete(h.sessions, s.conn)
	}
	h.mu.Unlock()
}

// admit registers username for s, persists it and announces the join. It
// runs with the joining session's lock held so that a concurrent close waits
// for it.
func (h *Hub) admit(s *Session, username string) error {
	h.members.Lock()
	defer h.members.Unlock()

	if err := h.registry.Register(username, s.conn); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	logger := s.logger.With("user", username)
	if _, err := h.presence.Add(ctx, username); err != nil {
		h.metrics.PersistenceFailures.Add(1)
		logger.Error("persist join failed", "err", err)
	}
	h.metrics.Joins.Add(1)

	list := protocol.MustEncode(protocol.UserList(h.registry.Snapshot()))
	h.broadcaster.Broadcast(protocol.MustEncode(protocol.UserJoined(username)), username)
	h.broadcaster.Broadcast(list, username)
	if err := s.conn.Send(list); err != nil {
		h.deliveryFailed(username, s.conn, err)
	}
	logger.Info("user joined", "online", h.registry.Len())
	return nil
}

// removeUser tears down a joined user's shared state. A session that lost
// its registry entry to a newer connection leaves everything untouched.
func (h *Hub) removeUser(s *Session, username string, logger *slog.Logger) {
	h.members.Lock()
	defer h.members.Unlock()

	if !h.registry.UnregisterConn(username, s.conn) {
		return
	}
	h.tracker.Cancel(username)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if _, err := h.presence.Remove(ctx, username); err != nil {
		h.metrics.PersistenceFailures.Add(1)
		logger.Error("persist leave failed", "err", err)
	}
	h.metrics.Disconnects.Add(1)

	h.broadcaster.Broadcast(protocol.MustEncode(protocol.UserLeft(username)), "")
	h.broadcaster.Broadcast(protocol.MustEncode(protocol.UserList(h.registry.Snapshot())), "")
	logger.Info("user left", "online", h.registry.Len())
}

// deliveryFailed counts a failed send and evicts the recipient
// asynchronously, since the caller may hold locks.
func (h *Hub) deliveryFailed(username string, conn Conn, err error) {
	h.metrics.DeliveryFailures.Add(1)
	h.logger.Warn("delivery failed, evicting", "user", username, "err", err)
	go h.evict(conn)
}

func (h *Hub) evict(conn Conn) {
	h.mu.Lock()
	s := h.sessions[conn]
	h.mu.Unlock()

	if s == nil {
		_ = conn.Close()
		return
	}
	if s.close("evicted") {
		h.metrics.Evictions.Add(1)
	}
}

// Reserve adds a username to the durable presence list without a live
// connection. It reports whether the name was new.
func (h *Hub) Reserve(ctx context.Context, raw string) (string, bool, error) {
	name, err := model.NormalizeUsername(raw)
	if err != nil {
		return "", false, err
	}
	added, err := h.presence.Add(ctx, name)
	if err != nil {
		h.metrics.PersistenceFailures.Add(1)
		return name, added, err
	}
	return name, added, nil
}

// Users returns the online usernames in join order.
func (h *Hub) Users() []string {
	return h.registry.Snapshot()
}

// OnlineUsers returns the online users with their recording state.
func (h *Hub) OnlineUsers() []model.User {
	return model.Presence(h.registry.Snapshot()).Users(h.tracker.Recording)
}

// Online reports whether username has a live connection.
func (h *Hub) Online(username string) bool {
	return h.registry.Online(username)
}

// Recording reports whether username is currently transmitting.
func (h *Hub) Recording(username string) bool {
	return h.tracker.Recording(username)
}

// Metrics returns the hub's counters.
func (h *Hub) Metrics() *Metrics { return h.metrics }

// Presence returns the durable presence list.
func (h *Hub) Presence() *store.Presence { return h.presence }

// Close closes every session, stops all recording timers and closes the
// presence store. Later connections are refused.
func (h *Hub) Close() error {
	if !h.closing.CompareAndSwap(false, true) {
		return nil
	}

	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close("shutdown")
	}
	h.tracker.Stop()
	h.logger.Info("hub closed", "sessions", len(sessions))
	return h.presence.Close()
}
