package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/overlay-core/internal/announce"
	"github.com/nerrad567/overlay-core/internal/infrastructure/config"
	"github.com/nerrad567/overlay-core/internal/infrastructure/database"
	"github.com/nerrad567/overlay-core/internal/infrastructure/logging"
	"github.com/nerrad567/overlay-core/internal/overlay"
	_ "github.com/nerrad567/overlay-core/migrations"
)

var errDiskFull = errors.New("disk I/O error")

// failingRepository fails draft inserts and publishes while failing is set.
type failingRepository struct {
	overlay.Repository
	failing atomic.Bool
}

func (f *failingRepository) InsertDraftLayer(ctx context.Context, sceneID string, l *overlay.Layer) error {
	if f.failing.Load() {
		return errDiskFull
	}
	return f.Repository.InsertDraftLayer(ctx, sceneID, l)
}

func (f *failingRepository) ReplaceLive(ctx context.Context, sceneID string, layers []overlay.Layer) error {
	if f.failing.Load() {
		return errDiskFull
	}
	return f.Repository.ReplaceLive(ctx, sceneID, layers)
}

// recordingTelemetry captures command outcomes.
type recordingTelemetry struct {
	mu        sync.Mutex
	outcomes  []string
	published map[string]int
}

func (r *recordingTelemetry) RecordCommand(kind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, kind+":"+outcome)
}

func (r *recordingTelemetry) RecordPublish(sceneID string, layers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.published == nil {
		r.published = make(map[string]int)
	}
	r.published[sceneID] = layers
}

func (r *recordingTelemetry) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

type testEnv struct {
	srv  *Server
	http *httptest.Server
	db   *database.DB
	repo *failingRepository
	main overlay.Scene
}

// testServer starts a server over a seeded, migrated SQLite database.
// Options may adjust Deps before the server is created.
func testServer(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "overlay.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	repo := &failingRepository{Repository: overlay.NewSQLiteRepository(db.DB)}
	registry := overlay.NewRegistry(repo)
	if err := registry.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := registry.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS: config.WebSocketConfig{
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     64,
		},
		Logger:          logging.Discard(),
		Registry:        registry,
		Slot:            announce.NewSlot(),
		AnnounceTimeout: time.Second,
		DB:              db,
		Version:         "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	srv.startBackground(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup

	return &testEnv{srv: srv, http: ts, db: db, repo: repo, main: registry.Scenes()[0]}
}

func (e *testEnv) postCommand(t *testing.T, body string) (*http.Response, Error) {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/api/v1/commands", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /commands: %v", err)
	}
	defer resp.Body.Close()

	var apiErr Error
	if resp.StatusCode >= 400 {
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			t.Fatalf("decoding error body: %v", err)
		}
	}
	return resp, apiErr
}

func (e *testEnv) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// =============================================================================
// WebSocket helpers
// =============================================================================

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// frame is a decoded server frame of either type.
type frame struct {
	Type         string                 `json:"type"`
	Scenes       []overlay.Scene        `json:"scenes"`
	Announcement *announce.Announcement `json:"announcement"`
	Code         string                 `json:"code"`
	Message      string                 `json:"message"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // Test deadline
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return f
}

func readSync(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != FrameSync {
		t.Fatalf("frame type = %q (%s: %s), want sync", f.Type, f.Code, f.Message)
	}
	return f
}

func readError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != FrameError || f.Code != code {
		t.Fatalf("frame = %+v, want error %s", f, code)
	}
}

// expectSilence fails if conn receives a frame within d.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d)) //nolint:errcheck // Test deadline
	var f frame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// =============================================================================
// REST Tests
// =============================================================================

func TestHealth(t *testing.T) {
	env := testServer(t)

	var body map[string]any
	if code := env.getJSON(t, "/api/v1/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["status"] != "ok" || body["version"] != "test" || body["database"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

// listenerDeps returns a copy of a test server's dependencies for building a
// second server that owns a real listener.
func listenerDeps(t *testing.T) Deps {
	t.Helper()
	var deps Deps
	testServer(t, func(d *Deps) { deps = *d })
	return deps
}

func TestStart_ServesOnListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	deps := listenerDeps(t)
	deps.Config.Port = port
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStart_PortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("occupying port: %v", err)
	}
	t.Cleanup(func() { busy.Close() })

	deps := listenerDeps(t)
	deps.Config.Port = busy.Addr().(*net.TCPAddr).Port
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	err = srv.Start(context.Background())
	if err == nil {
		srv.Close() //nolint:errcheck // Test cleanup
		t.Fatal("Start() on a bound port should fail")
	}
	if !strings.Contains(err.Error(), "listening on") {
		t.Errorf("Start() error = %v, want a listen error", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() after failed Start = %v", err)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := testServer(t)
	env.db.Close() //nolint:errcheck // Simulating failure

	var body map[string]any
	if code := env.getJSON(t, "/api/v1/health", &body); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)
	resp, err := http.Get(env.http.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)
	req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/api/v1/commands", nil)
	req.Header.Set("Origin", "http://control.local")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://control.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	env := testServer(t)

	var snap Snapshot
	if code := env.getJSON(t, "/api/v1/snapshot", &snap); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if snap.Type != FrameSync || len(snap.Scenes) != 1 || snap.Scenes[0].Name != "Main" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Announcement != nil {
		t.Errorf("announcement = %+v, want nil", snap.Announcement)
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	env := testServer(t)

	var body struct {
		Templates []overlay.TemplateInfo `json:"templates"`
	}
	env.getJSON(t, "/api/v1/templates", &body)
	if len(body.Templates) != 5 {
		t.Errorf("templates = %d, want 5", len(body.Templates))
	}
}

func TestUIServedAtRoot(t *testing.T) {
	env := testServer(t, func(d *Deps) { d.UI = config.UIConfig{Enabled: true} })

	resp, err := http.Get(env.http.URL + "/render")
	if err != nil {
		t.Fatalf("GET /render: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<!DOCTYPE html>") {
		t.Errorf("GET /render = %d, want the UI page", resp.StatusCode)
	}

	// API routes are not shadowed by the UI fallback.
	var snap Snapshot
	if code := env.getJSON(t, "/api/v1/snapshot", &snap); code != http.StatusOK || snap.Type != FrameSync {
		t.Errorf("snapshot through UI router = %d %+v", code, snap)
	}
}

func TestUIDisabled(t *testing.T) {
	env := testServer(t)

	resp, err := http.Get(env.http.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET / with UI disabled = %d, want 404", resp.StatusCode)
	}
}

func TestSyncStatusEndpoint(t *testing.T) {
	env := testServer(t)

	var report overlay.SyncReport
	if code := env.getJSON(t, "/api/v1/scenes/"+env.main.ID+"/sync-status", &report); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if report.SceneSynced {
		t.Error("seeded scene with unpublished layer reported synced")
	}
	if report.Statuses[env.main.Draft[0].ID] != overlay.StatusNew {
		t.Errorf("statuses = %v", report.Statuses)
	}

	resp, _ := env.postCommand(t, `{"type":"sync-to-live","sceneId":"`+env.main.ID+`"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status = %d", resp.StatusCode)
	}
	env.getJSON(t, "/api/v1/scenes/"+env.main.ID+"/sync-status", &report)
	if !report.SceneSynced {
		t.Errorf("after publish report = %+v, want synced", report)
	}

	if code := env.getJSON(t, "/api/v1/scenes/missing/sync-status", nil); code != http.StatusNotFound {
		t.Errorf("unknown scene status = %d, want 404", code)
	}
}

func TestCommandsEndpoint(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"create scene", `{"type":"create-scene","name":"Interview"}`, http.StatusAccepted, ""},
		{"malformed", `{"type":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown type", `{"type":"explode"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing field", `{"type":"delete-scene"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid template", `{"type":"add-layer","sceneId":"` + env.main.ID + `","template":"marquee"}`, http.StatusBadRequest, ErrCodeValidation},
		{"stale reference", `{"type":"delete-scene","sceneId":"gone"}`, http.StatusAccepted, ""},
		{"announcements disabled", `{"type":"show-announcement","url":"https://x.com/a/status/1"}`, http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, apiErr := env.postCommand(t, tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if apiErr.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantErr)
			}
		})
	}

	if n := len(env.srv.registry.Scenes()); n != 2 {
		t.Errorf("scenes = %d, want 2", n)
	}
}

func TestCommandsEndpoint_PersistenceFault(t *testing.T) {
	env := testServer(t)
	env.repo.failing.Store(true)

	resp, apiErr := env.postCommand(t, `{"type":"add-layer","sceneId":"`+env.main.ID+`","template":"brb"}`)
	if resp.StatusCode != http.StatusInternalServerError || apiErr.Code != ErrCodePersistence {
		t.Errorf("status = %d code = %q, want 500 persistence_error", resp.StatusCode, apiErr.Code)
	}

	sc, _ := env.srv.registry.Scene(env.main.ID)
	if len(sc.Draft) != 1 {
		t.Errorf("draft layers = %d, want 1 (unchanged)", len(sc.Draft))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)
	env.dial(t)

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.hub.SessionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	var m SystemMetrics
	env.getJSON(t, "/api/v1/metrics", &m)
	if m.Version != "test" || m.WebSocket.Sessions != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Scenes.Total != 1 || m.Scenes.DraftLayers != 1 || m.Scenes.Unpublished != 1 {
		t.Errorf("scene metrics = %+v", m.Scenes)
	}
	if m.Database.OpenConnections < 1 {
		t.Errorf("database metrics = %+v", m.Database)
	}
}

func TestTelemetryRecordsOutcomes(t *testing.T) {
	tel := &recordingTelemetry{}
	env := testServer(t, func(d *Deps) { d.Telemetry = tel })

	env.postCommand(t, `{"type":"sync-to-live","sceneId":"`+env.main.ID+`"}`)
	env.postCommand(t, `{"type":"nope"}`)

	got := tel.snapshot()
	want := []string{"sync-to-live:ok", "unknown:bad_request"}
	if len(got) != len(want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("outcome[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	tel.mu.Lock()
	defer tel.mu.Unlock()
	if tel.published[env.main.ID] != 1 {
		t.Errorf("published = %v", tel.published)
	}
}
