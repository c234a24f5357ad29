package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orblink/orblink/internal/config"
	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/oracle"
	"github.com/orblink/orblink/internal/orbit"
	"github.com/orblink/orblink/internal/windows"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		MaxConcurrentPerIP: 10,
		BandwidthLimit:     1048576,
		KeepaliveInterval:  30 * time.Second,
	}
}

// testHandler builds a two-link fixture: link 0 always visible, link 1
// permanently occluded.
func testHandler(t *testing.T) *Handler {
	t.Helper()
	in := &instance.Instance{
		Radius: 6371,
		Mu:     398600.4418,
		Bodies: []orbit.Satellite{
			orbit.NewSatellite(orbit.Elements{HeightPerigee: 400, RotationSpeed: 0.01}, 398600.4418, 6371),
			orbit.NewSatellite(orbit.Elements{HeightPerigee: 400, TrueAnomaly: 0.1, RotationSpeed: 0.01}, 398600.4418, 6371),
			orbit.NewSatellite(orbit.Elements{HeightPerigee: 400, TrueAnomaly: math.Pi, RotationSpeed: 0.01}, 398600.4418, 6371),
		},
	}
	for _, l := range [][2]int{{0, 1}, {0, 2}} {
		if err := in.AddLink(l[0], l[1]); err != nil {
			t.Fatal(err)
		}
	}
	set := windows.BuildAll(context.Background(), in, 1.0, 2, testLogger())
	eng := oracle.New(in, set, oracle.NewStore(), 1.0)
	return NewHandler(in, eng, testStreamConfig(), time.Now(), testLogger())
}

// TestSnapshot verifies the visibility payload structure, including the
// omitted next_visible for a permanently occluded link.
func TestSnapshot(t *testing.T) {
	h := testHandler(t)
	msg := h.snapshot(0)

	if msg.Type != "visibility" {
		t.Errorf("type = %q, want visibility", msg.Type)
	}
	if len(msg.Links) != 2 {
		t.Fatalf("links = %d, want 2", len(msg.Links))
	}

	if !msg.Links[0].Visible {
		t.Error("link 0 should be visible at t=0")
	}
	if msg.Links[0].NextVisible == nil || *msg.Links[0].NextVisible != 0 {
		t.Errorf("link 0 next_visible = %v, want 0", msg.Links[0].NextVisible)
	}

	if msg.Links[1].Visible {
		t.Error("link 1 should be occluded at t=0")
	}
	if msg.Links[1].NextVisible != nil {
		t.Errorf("link 1 next_visible = %v, want omitted", *msg.Links[1].NextVisible)
	}
}

// TestSnapshotJSON verifies the payload serializes without the sentinel
// leaking into the wire format.
func TestSnapshotJSON(t *testing.T) {
	h := testHandler(t)
	data, err := json.Marshal(h.snapshot(42))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["t"].(float64) != 42 {
		t.Errorf("t = %v, want 42", parsed["t"])
	}
	links := parsed["links"].([]any)
	dead := links[1].(map[string]any)
	if _, ok := dead["next_visible"]; ok {
		t.Error("occluded link should omit next_visible")
	}
}

// TestSSEMessageFormat verifies the wire format and that metadata arrives
// first on every connection.
func TestSSEMessageFormat(t *testing.T) {
	h := testHandler(t)

	req := httptest.NewRequest("GET", "/api/v1/stream/visibility?step=1", nil)
	req.RemoteAddr = "127.0.0.1:12345"

	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	h.HandleVisibility(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	scanner := bufio.NewScanner(strings.NewReader(body))
	var types []string
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Errorf("invalid JSON in SSE data line: %v", err)
			continue
		}
		types = append(types, msg["type"].(string))
	}

	if len(types) == 0 || types[0] != "metadata" {
		t.Fatalf("first message types = %v, want metadata first", types)
	}
	var sawVisibility bool
	for _, tp := range types[1:] {
		if tp == "visibility" {
			sawVisibility = true
		}
	}
	if !sawVisibility {
		t.Error("did not receive a visibility snapshot")
	}

	for _, line := range strings.Split(body, "\n") {
		if line == "" || line == ":" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestInvalidStep verifies step parameter validation.
func TestInvalidStep(t *testing.T) {
	h := testHandler(t)
	for _, q := range []string{"step=0", "step=61", "step=abc"} {
		req := httptest.NewRequest("GET", "/api/v1/stream/visibility?"+q, nil)
		req.RemoteAddr = "127.0.0.1:12345"
		w := httptest.NewRecorder()
		h.HandleVisibility(w, req)
		if w.Code != 400 {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

// TestStreamRateLimit verifies the per-IP concurrent connection cap returns 429.
func TestStreamRateLimit(t *testing.T) {
	h := testHandler(t)
	h.config.MaxConcurrentPerIP = 1
	h.limiter = newConnLimiter(1)

	if !h.limiter.acquire("1.2.3.4") {
		t.Fatal("first acquire should succeed")
	}

	req := httptest.NewRequest("GET", "/api/v1/stream/visibility", nil)
	req.RemoteAddr = "1.2.3.4:9999"
	w := httptest.NewRecorder()
	h.HandleVisibility(w, req)
	if w.Code != 429 {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

// TestConnLimiter verifies per-IP concurrent stream limits.
func TestConnLimiter(t *testing.T) {
	limiter := newConnLimiter(3)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}
	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}

	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
}

// TestConnLimiterConcurrent verifies limiter thread safety.
func TestConnLimiterConcurrent(t *testing.T) {
	limiter := newConnLimiter(100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				limiter.release("10.0.0.1")
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}
