package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/world"
	"robominions.dev/internal/transport/ws"
)

func newTestMux(t *testing.T) (*http.ServeMux, *world.World) {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "test", TickRateHz: 200, ExecutorEveryTicks: 1}, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	logger := log.New(io.Discard, "", 0)
	mux := buildMux(serverDeps{
		WorldID:     "test",
		World:       w,
		WS:          ws.NewServer(w, ws.Config{}, logger),
		Logger:      logger,
		EnableAdmin: true,
	})
	return mux, w
}

func join(t *testing.T, w *world.World, name string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	before := w.Metrics().Sessions
	if err := w.Join(ctx, name, identity.FromName(name)); err != nil {
		t.Fatalf("join: %v", err)
	}
	for w.Metrics().Sessions <= before {
		if ctx.Err() != nil {
			t.Fatalf("join never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func do(t *testing.T, mux http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestAdminLoopbackAndMethod(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback admin state, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec, _ = do(t, mux, http.MethodGet, "/admin/v1/robots/spawn", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec, out := do(t, mux, http.MethodGet, "/admin/v1/state", "")
	if rec.Code != http.StatusOK || out["world_id"] != "test" {
		t.Fatalf("state: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRobotLifecycle(t *testing.T) {
	mux, w := newTestMux(t)

	rec, _ := do(t, mux, http.MethodPost, "/admin/v1/robots/spawn", `{"name":"bob"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("spawn for unknown name: expected 404, got %d body=%s", rec.Code, rec.Body.String())
	}

	join(t, w, "alice")
	rec, out := do(t, mux, http.MethodPost, "/admin/v1/robots/spawn", `{"name":"alice","kind":"pumpkin"}`)
	if rec.Code != http.StatusOK || out["owner"] != identity.FromName("alice").String() {
		t.Fatalf("spawn: %d %s", rec.Code, rec.Body.String())
	}

	rec, out = do(t, mux, http.MethodGet, "/admin/v1/robots", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("robots: %d", rec.Code)
	}
	if list, _ := out["robots"].([]any); len(list) != 1 {
		t.Fatalf("robots = %s", rec.Body.String())
	}

	rec, out = do(t, mux, http.MethodPost, "/admin/v1/robots/command", `{"name":"alice","action":{"move_direction":"SOUTH"}}`)
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("command: %d %s", rec.Code, rec.Body.String())
	}
	rec, out = do(t, mux, http.MethodPost, "/admin/v1/robots/command", `{"name":"alice","action":{"turn_direction":"UP"}}`)
	if rec.Code != http.StatusOK || out["success"] != false {
		t.Fatalf("turn up should fail: %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = do(t, mux, http.MethodPost, "/admin/v1/items/drop", `{"pos":[0,0,0],"material":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad material: expected 400, got %d", rec.Code)
	}

	rec, out = do(t, mux, http.MethodPost, "/admin/v1/robots/remove", `{"name":"alice"}`)
	if rec.Code != http.StatusOK || out["removed"] != true {
		t.Fatalf("remove: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = do(t, mux, http.MethodPost, "/admin/v1/robots/remove", `{"name":"alice"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second remove: expected 404, got %d", rec.Code)
	}

	rec, _ = do(t, mux, http.MethodPost, "/admin/v1/robots/spawn", `{"name":"alice","extra":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rec.Code)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	mux, w := newTestMux(t)
	join(t, w, "alice")

	rec, _ := do(t, mux, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec, _ = do(t, mux, http.MethodGet, "/metrics", "")
	body := rec.Body.String()
	for _, want := range []string{
		`robominions_world_sessions{world="test"} 1`,
		`robominions_world_queue_depth{world="test",queue="actions"}`,
		`robominions_ws_connections 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "robominions_index_") {
		t.Fatalf("index metrics without an index")
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	if got := latestSnapshot(dir); got != "" {
		t.Fatalf("empty dir: %q", got)
	}
	snaps := dir + "/snapshots"
	mustMkdir(t, snaps)
	for _, name := range []string{"90.snap.zst", "1200.snap.zst", "junk.snap.zst", "300.tmp"} {
		mustWrite(t, snaps+"/"+name)
	}
	if got := latestSnapshot(dir); !strings.HasSuffix(got, "1200.snap.zst") {
		t.Fatalf("latest = %q", got)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v", addr, got)
		}
	}
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
