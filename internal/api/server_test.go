package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orblink/orblink/internal/auth"
	"github.com/orblink/orblink/internal/config"
	"github.com/orblink/orblink/internal/health"
	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/oracle"
	"github.com/orblink/orblink/internal/orbit"
	"github.com/orblink/orblink/internal/stream"
	"github.com/orblink/orblink/internal/windows"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestServer builds a server over a three-body fixture: link 0 always
// visible, link 1 permanently occluded.
func newTestServer(t *testing.T, authCfg auth.Config) *Server {
	t.Helper()
	const (
		mu     = 398600.4418
		radius = 6371.0
	)
	in := &instance.Instance{
		Radius: radius,
		Mu:     mu,
		Bodies: []orbit.Satellite{
			orbit.NewSatellite(orbit.Elements{HeightPerigee: 400, RotationSpeed: 0.01, ConeAngle: 0.1}, mu, radius),
			orbit.NewSatellite(orbit.Elements{HeightPerigee: 400, TrueAnomaly: 0.1, RotationSpeed: 0.01, ConeAngle: 0.1}, mu, radius),
			orbit.NewSatellite(orbit.Elements{HeightPerigee: 400, TrueAnomaly: math.Pi, RotationSpeed: 0.01, ConeAngle: 0.1}, mu, radius),
		},
	}
	for _, l := range [][2]int{{0, 1}, {0, 2}} {
		if err := in.AddLink(l[0], l[1]); err != nil {
			t.Fatal(err)
		}
	}

	logger := testLogger()
	set := windows.BuildAll(context.Background(), in, 1.0, 2, logger)
	store := oracle.NewStore()
	eng := oracle.New(in, set, store, 1.0)
	sse := stream.NewHandler(in, eng, config.StreamConfig{
		MaxConcurrentPerIP: 4,
		KeepaliveInterval:  15 * time.Second,
	}, time.Now(), logger)

	state := &health.State{}
	state.SetReady()
	return NewServer(":0", in, eng, store, sse, state, authCfg, logger)
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	h.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("GET %s: invalid JSON: %v", path, err)
		}
	}
	return rec, body
}

func TestProbes(t *testing.T) {
	s := newTestServer(t, auth.Config{})
	h := s.Handler()

	rec, _ := get(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rec.Code)
	}
	rec, _ = get(t, h, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", rec.Code)
	}
	rec, _ = get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", rec.Code)
	}
}

func TestReadyzBeforeReady(t *testing.T) {
	state := &health.State{}
	rec := httptest.NewRecorder()
	state.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before SetReady", rec.Code)
	}
}

func TestInstanceEndpoint(t *testing.T) {
	s := newTestServer(t, auth.Config{})
	rec, body := get(t, s.Handler(), "/api/v1/instance")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if n := len(body["bodies"].([]any)); n != 3 {
		t.Errorf("bodies = %d, want 3", n)
	}
	if n := len(body["links"].([]any)); n != 2 {
		t.Errorf("links = %d, want 2", n)
	}
	if body["radius"].(float64) != 6371 {
		t.Errorf("radius = %v", body["radius"])
	}
}

func TestLowerBound(t *testing.T) {
	s := newTestServer(t, auth.Config{})
	rec, body := get(t, s.Handler(), "/api/v1/lowerbound")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// Link 0 is visible at t=0.
	if lb := body["lower_bound"].(float64); lb != 0 {
		t.Errorf("lower_bound = %v, want 0", lb)
	}
}

func TestNextVisibility(t *testing.T) {
	s := newTestServer(t, auth.Config{})
	h := s.Handler()

	rec, body := get(t, h, "/api/v1/links/0/next-visibility?t=100")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if at, ok := body["visible_at"].(float64); !ok || at < 100 {
		t.Errorf("visible_at = %v, want >= 100", body["visible_at"])
	}

	rec, body = get(t, h, "/api/v1/links/1/next-visibility")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["never_visible"] != true {
		t.Errorf("never_visible = %v, want true", body["never_visible"])
	}
	if _, ok := body["visible_at"]; ok {
		t.Error("visible_at should be omitted for a dead link")
	}
}

func TestNextCommunication(t *testing.T) {
	s := newTestServer(t, auth.Config{})
	h := s.Handler()

	rec, body := get(t, h, "/api/v1/links/0/next-communication")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["outcome"] != "feasible" {
		t.Errorf("outcome = %v, want feasible", body["outcome"])
	}
	if _, ok := body["time"].(float64); !ok {
		t.Errorf("time = %v, want number", body["time"])
	}

	_, body = get(t, h, "/api/v1/links/1/next-communication")
	if body["outcome"] != "never_visible" {
		t.Errorf("outcome = %v, want never_visible", body["outcome"])
	}
	if _, ok := body["time"]; ok {
		t.Error("time should be omitted for never_visible")
	}
}

func TestLineGraph(t *testing.T) {
	s := newTestServer(t, auth.Config{})
	rec, body := get(t, s.Handler(), "/api/v1/linegraph")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	adj := body["adjacency"].([]any)
	if len(adj) != 2 {
		t.Fatalf("adjacency rows = %d, want 2", len(adj))
	}
	// Links 0 and 1 share body 0, so each is the other's only neighbor.
	row0 := adj[0].([]any)
	if len(row0) != 1 || row0[0].(float64) != 1 {
		t.Errorf("adjacency[0] = %v, want [1]", row0)
	}
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, auth.Config{})
	h := s.Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/links/99/next-visibility", http.StatusNotFound},
		{"/api/v1/links/abc/next-visibility", http.StatusNotFound},
		{"/api/v1/links/0/next-visibility?t=-5", http.StatusBadRequest},
		{"/api/v1/links/0/next-communication?t=nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec, _ := get(t, h, tt.path)
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestSetOrientation(t *testing.T) {
	s := newTestServer(t, auth.Config{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/api/v1/bodies/0/orientation",
		strings.NewReader(`{"dir":[1,0,0],"time":50}`))
	req.RemoteAddr = "127.0.0.1:12345"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	got := s.store.Orientation(0)
	if got.Dir.X != 1 || got.Time != 50 {
		t.Errorf("stored sample = %+v", got)
	}

	for _, tt := range []struct {
		path, body string
		want       int
	}{
		{"/api/v1/bodies/99/orientation", `{"dir":[1,0,0],"time":0}`, http.StatusNotFound},
		{"/api/v1/bodies/0/orientation", `not json`, http.StatusBadRequest},
		{"/api/v1/bodies/0/orientation", `{"dir":[1,0,0],"time":-1}`, http.StatusBadRequest},
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("PUT", tt.path, strings.NewReader(tt.body))
		req.RemoteAddr = "127.0.0.1:12345"
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("PUT %s %q = %d, want %d", tt.path, tt.body, rec.Code, tt.want)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, auth.Config{Enabled: true, Token: "secret"})
	h := s.Handler()

	rec, _ := get(t, h, "/api/v1/instance")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", rec.Code)
	}

	// Probes stay public.
	rec, _ = get(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/instance", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with token", rec2.Code)
	}
}
