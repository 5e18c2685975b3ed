package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/walkie/pkg/model"
	"github.com/NicolasHaas/walkie/pkg/store"
)

type event struct {
	Type     string          `json:"type"`
	Username string          `json:"username,omitempty"`
	Users    []string        `json:"users,omitempty"`
	Audio    json.RawMessage `json:"audio,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Status   bool            `json:"status,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func newTestServer(t *testing.T, mutate func(*Config), seed ...string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MetricsLogInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	presence, err := store.NewPresence(context.Background(), store.NewMemoryWith(seed...))
	if err != nil {
		t.Fatalf("NewPresence: %v", err)
	}
	srv, err := New(cfg, Dependencies{Presence: presence})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Hub().Close() })
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func read(t *testing.T, ws *websocket.Conn) event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return ev
}

// readType skips events until one of the wanted type arrives.
func readType(t *testing.T, ws *websocket.Conn, typ string) event {
	t.Helper()
	for range 10 {
		if ev := read(t, ws); ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event within 10 messages", typ)
	return event{}
}

func join(t *testing.T, ts *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	ws := dial(t, ts, "/ws")
	send(t, ws, map[string]string{"type": "join", "username": name})
	readType(t, ws, "user_list")
	return ws
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within 2s")
}

func TestJoinAnnouncesAndLists(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	alice := dial(t, ts, "/ws")
	send(t, alice, map[string]string{"type": "join", "username": "alice"})
	if diff := cmp.Diff(event{Type: "user_list", Users: []string{"alice"}}, read(t, alice)); diff != "" {
		t.Fatalf("alice join (-want +got):\n%s", diff)
	}

	bob := join(t, ts, "bob")
	if diff := cmp.Diff(event{Type: "user_joined", Username: "bob"}, read(t, alice)); diff != "" {
		t.Fatalf("user_joined (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(event{Type: "user_list", Users: []string{"alice", "bob"}}, read(t, alice)); diff != "" {
		t.Fatalf("user_list (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"alice", "bob"}, srv.Hub().Users()); diff != "" {
		t.Fatalf("hub users (-want +got):\n%s", diff)
	}

	_ = bob.Close()
	if diff := cmp.Diff(event{Type: "user_left", Username: "bob"}, readType(t, alice, "user_left")); diff != "" {
		t.Fatalf("user_left (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(event{Type: "user_list", Users: []string{"alice"}}, read(t, alice)); diff != "" {
		t.Fatalf("user_list after leave (-want +got):\n%s", diff)
	}
	if srv.Hub().Presence().Contains("bob") {
		t.Fatalf("bob still in presence after disconnect")
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)
	join(t, ts, "alice")

	dup := dial(t, ts, "/ws")
	send(t, dup, map[string]string{"type": "join", "username": "alice"})
	if diff := cmp.Diff(event{Type: "error", Message: "Username already taken."}, read(t, dup)); diff != "" {
		t.Fatalf("duplicate join (-want +got):\n%s", diff)
	}
	_ = dup.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := dup.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed after rejection")
	}
}

func TestAudioRelayAndRecording(t *testing.T) {
	_, ts := newTestServer(t, nil)
	alice := join(t, ts, "alice")
	bob := join(t, ts, "bob")
	readType(t, alice, "user_list") // bob's arrival

	send(t, bob, map[string]any{"type": "audio", "audio": "UklGRg=="})

	got := readType(t, alice, "audio")
	want := event{Type: "audio", Audio: json.RawMessage(`"UklGRg=="`), Username: "bob", From: "bob"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("relayed audio (-want +got):\n%s", diff)
	}
	rec := readType(t, alice, "recording")
	if rec.Username != "bob" || !rec.Status {
		t.Fatalf("recording event: got %+v, want bob=true", rec)
	}
}

func TestRingTargetsOneUser(t *testing.T) {
	_, ts := newTestServer(t, nil)
	alice := join(t, ts, "alice")
	bob := join(t, ts, "bob")
	readType(t, alice, "user_list")

	send(t, alice, map[string]string{"type": "ring", "from": "mallory", "to": "bob"})
	if diff := cmp.Diff(event{Type: "ring", From: "alice", To: "bob"}, readType(t, bob, "ring")); diff != "" {
		t.Fatalf("ring (-want +got):\n%s", diff)
	}
}

func TestWebSocketOnRootPath(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	ws := dial(t, ts, "/")
	send(t, ws, map[string]string{"type": "join", "username": "carol"})
	readType(t, ws, "user_list")
	if !srv.Hub().Online("carol") {
		t.Fatalf("carol not online after joining on /")
	}
}

func postJSON(t *testing.T, url, body string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func TestSaveUsername(t *testing.T) {
	tcases := map[string]struct {
		body       string
		wantStatus int
		wantBody   map[string]string
	}{
		"saved": {
			body:       `{"username":"  dave "}`,
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"message": "Username saved successfully"},
		},
		"blank": {
			body:       `{"username":"   "}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]string{"error": "Username is required"},
		},
		"missing": {
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]string{"error": "Username is required"},
		},
		"not json": {
			body:       `username=dave`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]string{"error": "Invalid request body"},
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			_, ts := newTestServer(t, nil)
			status, body := postJSON(t, ts.URL+"/save-username", tc.body)
			if status != tc.wantStatus {
				t.Fatalf("status: got %d, want %d", status, tc.wantStatus)
			}
			if diff := cmp.Diff(tc.wantBody, body); diff != "" {
				t.Fatalf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecentlyJoined(t *testing.T) {
	_, ts := newTestServer(t, nil, "alice")

	if status, _ := postJSON(t, ts.URL+"/save-username", `{"username":"bob"}`); status != http.StatusOK {
		t.Fatalf("save bob: status %d", status)
	}
	// Saving twice keeps a single entry.
	if status, _ := postJSON(t, ts.URL+"/save-username", `{"username":"alice"}`); status != http.StatusOK {
		t.Fatalf("save alice: status %d", status)
	}

	status, body := getBody(t, ts.URL+"/recently-joined")
	if status != http.StatusOK {
		t.Fatalf("status: got %d", status)
	}
	var got []string
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, got); diff != "" {
		t.Fatalf("recently joined (-want +got):\n%s", diff)
	}
}

func TestUsersEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, nil, "offline")
	alice := join(t, ts, "alice")
	join(t, ts, "bob")

	send(t, alice, map[string]any{"type": "audio", "audio": "UklGRg=="})
	waitUntil(t, func() bool { return srv.Hub().Recording("alice") })

	_, body := getBody(t, ts.URL+"/users")
	var got usersResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	want := usersResponse{Users: []model.User{
		{Username: "alice", Online: true, Recording: true},
		{Username: "bob", Online: true},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("users (-want +got):\n%s", diff)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	join(t, ts, "alice")
	waitUntil(t, func() bool { return srv.Hub().Metrics().Joins.Load() == 1 })

	if status, body := getBody(t, ts.URL+"/healthz"); status != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz: got %d %q", status, body)
	}

	_, body := getBody(t, ts.URL+"/metrics")
	for _, want := range []string{
		"# TYPE walkie_joins_total counter",
		"walkie_joins_total 1\n",
		"walkie_users_online 1\n",
		"walkie_presence_entries 1\n",
		"walkie_connections_active 1\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>walkie</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	_, ts := newTestServer(t, func(c *Config) { c.StaticDir = dir })
	if status, body := getBody(t, ts.URL+"/"); status != http.StatusOK || !strings.Contains(body, "walkie") {
		t.Fatalf("static index: got %d %q", status, body)
	}

	_, bare := newTestServer(t, nil)
	if status, _ := getBody(t, bare.URL+"/"); status != http.StatusNotFound {
		t.Fatalf("no static dir: got %d, want 404", status)
	}
}

func TestServeShutdown(t *testing.T) {
	presence, err := store.NewPresence(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatalf("NewPresence: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	srv, err := New(cfg, Dependencies{Presence: presence})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		cancel()
		t.Fatalf("Dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer ws.Close()
	send(t, ws, map[string]string{"type": "join", "username": "alice"})
	readType(t, ws, "user_list")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
	if presence.Len() != 0 {
		t.Fatalf("presence after shutdown: got %v, want empty", presence.List())
	}
}

func TestNewRequiresPresence(t *testing.T) {
	if _, err := New(DefaultConfig(), Dependencies{}); err == nil {
		t.Fatalf("expected error without presence")
	}
}
