package hub

import (
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/NicolasHaas/walkie/pkg/model"
	"github.com/NicolasHaas/walkie/pkg/protocol"
)

// Error notices sent before a refused connection is closed.
const (
	msgUsernameRequired = "Username is required."
	msgUsernameTaken    = "Username already taken."
	msgJoinTimeout      = "Join timed out."
)

// State is a session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection state machine. Frames are fed to it by the
// transport's single reader goroutine; Close may be called from anywhere.
type Session struct {
	hub     *Hub
	conn    Conn
	id      string
	limiter *rate.Limiter

	mu        sync.Mutex
	state     State
	username  string
	logger    *slog.Logger
	joinTimer stopper
}

func newSession(h *Hub, conn Conn, id string) *Session {
	s := &Session{
		hub:    h,
		conn:   conn,
		id:     id,
		state:  StateConnecting,
		logger: h.logger.With("conn", id),
	}
	if h.cfg.RateLimit > 0 {
		burst := h.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(h.cfg.RateLimit), burst)
	}
	return s
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the joined username, or "" before a join.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// HandleMessage decodes and dispatches one inbound frame. Malformed frames
// are logged and dropped; the session stays open.
func (s *Session) HandleMessage(data []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.hub.metrics.RateLimited.Add(1)
		s.log().Debug("frame dropped by rate limiter")
		return
	}
	f, err := protocol.Decode(data)
	if err != nil {
		s.hub.metrics.MalformedMessages.Add(1)
		if errors.Is(err, protocol.ErrUnknownType) {
			s.log().Debug("ignoring frame", "err", err)
		} else {
			s.log().Warn("malformed frame", "err", err, "bytes", len(data))
		}
		return
	}
	s.HandleFrame(f)
}

// HandleFrame dispatches a decoded frame according to the session state.
func (s *Session) HandleFrame(f *protocol.Frame) {
	if s.conn.Closed() {
		s.close("connection closed")
		return
	}

	s.mu.Lock()
	state, username := s.state, s.username
	s.mu.Unlock()

	switch state {
	case StateConnecting:
		if f.Type != protocol.TypeJoin {
			s.log().Debug("ignoring frame before join", "type", f.Type)
			return
		}
		s.join(f.Username)
	case StateJoined:
		s.dispatch(username, f)
	case StateClosed:
	}
}

func (s *Session) dispatch(username string, f *protocol.Frame) {
	h := s.hub
	switch f.Type {
	case protocol.TypeAudio:
		if s.State() != StateJoined {
			return
		}
		msg := protocol.MustEncode(protocol.AudioRelay(f.Audio, username, f.To))
		if f.To != "" {
			if !h.router.SendTo(f.To, msg) {
				s.log().Debug("audio target not connected", "to", f.To)
			}
		} else {
			h.broadcaster.Broadcast(msg, username)
		}
		h.metrics.AudioRelayed.Add(1)
		h.metrics.AudioBytes.Add(int64(len(f.Audio)))
		if !h.tracker.NoteAudio(username) {
			s.log().Debug("recording flag not set, sender left")
		}
	case protocol.TypeRing:
		if f.From != "" && f.From != username {
			s.log().Debug("overriding ring sender", "claimed", f.From)
		}
		h.router.RouteRing(username, f.To)
	case protocol.TypeJoin:
		s.log().Debug("ignoring repeated join", "requested", f.Username)
	default:
		s.log().Debug("ignoring frame", "type", f.Type)
	}
}

func (s *Session) join(raw string) {
	h := s.hub

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	name, err := model.NormalizeUsername(raw)
	if err != nil {
		s.mu.Unlock()
		s.reject(msgUsernameRequired, err)
		return
	}
	if err := h.admit(s, name); err != nil {
		s.mu.Unlock()
		s.reject(msgUsernameTaken, err)
		return
	}
	s.state = StateJoined
	s.username = name
	s.logger = s.logger.With("user", name)
	if s.joinTimer != nil {
		s.joinTimer.Stop()
		s.joinTimer = nil
	}
	s.mu.Unlock()
}

func (s *Session) reject(message string, err error) {
	s.hub.metrics.JoinsRejected.Add(1)
	s.log().Info("join rejected", "err", err)
	if sendErr := s.conn.Send(protocol.MustEncode(protocol.Error(message))); sendErr != nil {
		s.log().Debug("error notice not sent", "err", sendErr)
	}
	s.close("join rejected")
}

func (s *Session) joinExpired() {
	s.mu.Lock()
	waiting := s.state == StateConnecting
	s.mu.Unlock()
	if !waiting {
		return
	}
	s.reject(msgJoinTimeout, errors.New("no join before timeout"))
}

// Close ends the session. It is idempotent.
func (s *Session) Close() {
	s.close("closed")
}

// close transitions to Closed and reports whether this call did so.
func (s *Session) close(reason string) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	prev, username, logger := s.state, s.username, s.logger
	s.state = StateClosed
	if s.joinTimer != nil {
		s.joinTimer.Stop()
		s.joinTimer = nil
	}
	s.mu.Unlock()

	_ = s.conn.Close()
	s.hub.forget(s)
	if prev == StateJoined {
		s.hub.removeUser(s, username, logger)
	}
	s.hub.metrics.ActiveConnections.Add(-1)
	logger.Debug("session closed", "reason", reason, "state", prev)
	return true
}

func (s *Session) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}
