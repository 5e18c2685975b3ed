// Package server exposes the walkie hub over HTTP and WebSocket.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/walkie/pkg/hub"
	"github.com/NicolasHaas/walkie/pkg/logging"
	"github.com/NicolasHaas/walkie/pkg/protocol"
	"github.com/NicolasHaas/walkie/pkg/store"
)

// Config holds server configuration.
type Config struct {
	Listen             string        `mapstructure:"listen"`               // HTTP bind address (e.g. ":8080")
	WSPath             string        `mapstructure:"ws_path"`              // WebSocket upgrade path
	StaticDir          string        `mapstructure:"static_dir"`           // directory served at / (empty = disabled)
	RecordingTimeout   time.Duration `mapstructure:"recording_timeout"`    // recording flag lifetime after the last audio frame
	JoinTimeout        time.Duration `mapstructure:"join_timeout"`         // time allowed between connect and join (0 = unlimited)
	SendBuffer         int           `mapstructure:"send_buffer"`          // outbound messages queued per connection
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes"`    // largest accepted inbound frame
	RateLimit          float64       `mapstructure:"rate_limit"`           // inbound frames per second per connection (0 = unlimited)
	RateBurst          int           `mapstructure:"rate_burst"`           // inbound burst allowance
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"` // periodic metrics log (0 = disabled)

	Store store.Options   `mapstructure:"store"`
	Log   logging.Options `mapstructure:"log"`
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Presence and will Close() it on shutdown.
type Dependencies struct {
	Presence *store.Presence
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	hc := hub.DefaultConfig()
	return Config{
		Listen:             ":8080",
		WSPath:             "/ws",
		RecordingTimeout:   hc.RecordingTimeout,
		JoinTimeout:        hc.JoinTimeout,
		SendBuffer:         256,
		MaxMessageBytes:    protocol.MaxFrameSize,
		RateLimit:          hc.RateLimit,
		RateBurst:          hc.RateBurst,
		MetricsLogInterval: 60 * time.Second,
		Store: store.Options{
			Driver: store.DriverSQLite,
			Path:   "walkie.db",
		},
		Log: logging.Options{
			Level:  "info",
			Format: "text",
		},
	}
}

// HubConfig extracts the hub settings.
func (c Config) HubConfig() hub.Config {
	return hub.Config{
		RecordingTimeout: c.RecordingTimeout,
		JoinTimeout:      c.JoinTimeout,
		RateLimit:        c.RateLimit,
		RateBurst:        c.RateBurst,
	}
}

// Validate checks the settings that have no usable fallback.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("server: listen address is required")
	}
	if c.WSPath == "" || c.WSPath[0] != '/' {
		return fmt.Errorf("server: ws_path must start with / (got %q)", c.WSPath)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("server: send_buffer must be positive (got %d)", c.SendBuffer)
	}
	if c.MaxMessageBytes < 1 {
		return fmt.Errorf("server: max_message_bytes must be positive (got %d)", c.MaxMessageBytes)
	}
	if c.RecordingTimeout <= 0 {
		return fmt.Errorf("server: recording_timeout must be positive (got %s)", c.RecordingTimeout)
	}
	if c.JoinTimeout < 0 || c.RateLimit < 0 || c.MetricsLogInterval < 0 {
		return fmt.Errorf("server: join_timeout, rate_limit and metrics_log_interval must not be negative")
	}
	return logging.Validate(c.Log.Level)
}

// Server is the walkie HTTP and WebSocket front end.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a server around a fresh hub.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Presence == nil {
		return nil, fmt.Errorf("server: missing presence dependency")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg: cfg,
		hub: hub.New(cfg.HubConfig(), deps.Presence),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: slog.Default().With("component", "server"),
	}, nil
}

// Hub returns the underlying hub.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get(s.cfg.WSPath, s.handleWS)
	r.Post("/save-username", s.handleSaveUsername)
	r.Get("/recently-joined", s.handleRecentlyJoined)
	r.Get("/users", s.handleUsers)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/*", s.handleRoot)

	return r
}
