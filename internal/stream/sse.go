// Package stream implements Server-Sent Events (SSE) streaming of link
// visibility. Clients connect via GET /api/v1/stream/visibility and receive
// periodic snapshots of every link's occlusion state against a wall clock
// mapped onto the simulation clock (t = 0 at server start).
//
// SSE message format:
//
//	data: {"type":"visibility","t":123.0,"links":[{"id":0,"a":0,"b":1,"visible":true}...]}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","bodies":4,"links":3,"step":5}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent
// timeout. Reconnecting clients receive a fresh metadata message on each
// connection.
package stream

import (
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/orblink/orblink/internal/config"
	"github.com/orblink/orblink/internal/httputil"
	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/metrics"
	"github.com/orblink/orblink/internal/oracle"
)

// Handler manages SSE streaming connections.
type Handler struct {
	inst    *instance.Instance
	eng     *oracle.Engine
	config  config.StreamConfig
	limiter *connLimiter
	logger  *slog.Logger
	epoch   time.Time
}

// NewHandler creates a new streaming handler. The epoch anchors the
// simulation clock: snapshot times are seconds since epoch.
func NewHandler(inst *instance.Instance, eng *oracle.Engine, cfg config.StreamConfig, epoch time.Time, logger *slog.Logger) *Handler {
	return &Handler{
		inst:    inst,
		eng:     eng,
		config:  cfg,
		limiter: newConnLimiter(cfg.MaxConcurrentPerIP),
		logger:  logger,
		epoch:   epoch,
	}
}

// HandleVisibility serves the SSE visibility stream.
// GET /api/v1/stream/visibility?step=5
func (h *Handler) HandleVisibility(w http.ResponseWriter, r *http.Request) {
	step := 5
	if v := r.URL.Query().Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid step parameter, must be 1-60")
			return
		}
		step = n
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"step", step,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection; per-write
	// deadlines take over from here.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	var bandwidth *rate.Limiter
	if h.config.BandwidthLimit > 0 {
		bandwidth = rate.NewLimiter(rate.Limit(h.config.BandwidthLimit), h.config.BandwidthLimit)
	}

	c := &client{
		w:         w,
		flusher:   flusher,
		rc:        rc,
		ip:        ip,
		logger:    h.logger,
		bandwidth: bandwidth,
	}

	ctx := r.Context()

	// Jittered retry interval (3-7s) prevents thundering-herd reconnection
	// storms when the server restarts.
	retryMs := 3000 + rand.Intn(4000)
	if err := c.write(ctx, "retry: "+strconv.Itoa(retryMs)+"\n\n", false); err != nil {
		return
	}

	meta := metadataMessage{
		Type:   "metadata",
		Bodies: len(h.inst.Bodies),
		Links:  len(h.inst.Links),
		Step:   step,
	}
	if err := c.sendJSON(ctx, meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(time.Duration(step) * time.Second)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			t := now.Sub(h.epoch).Seconds()
			if err := c.sendJSON(ctx, h.snapshot(t)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(ctx); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// snapshot evaluates every link at simulation time t. NextVisible is omitted
// for permanently occluded links (the sentinel is not representable in JSON).
func (h *Handler) snapshot(t float64) visibilityMessage {
	links := make([]linkPayload, len(h.inst.Links))
	for li, l := range h.inst.Links {
		p := linkPayload{
			ID:      li,
			A:       l.A,
			B:       l.B,
			Visible: !h.inst.Blocked(li, t),
		}
		if next := h.eng.NextVisibility(li, t); !math.IsInf(next, 1) {
			p.NextVisible = &next
		}
		links[li] = p
	}
	return visibilityMessage{Type: "visibility", T: t, Links: links}
}

// SSE message payload types.

type metadataMessage struct {
	Type   string `json:"type"`
	Bodies int    `json:"bodies"`
	Links  int    `json:"links"`
	Step   int    `json:"step"`
}

type visibilityMessage struct {
	Type  string        `json:"type"`
	T     float64       `json:"t"`
	Links []linkPayload `json:"links"`
}

type linkPayload struct {
	ID          int      `json:"id"`
	A           int      `json:"a"`
	B           int      `json:"b"`
	Visible     bool     `json:"visible"`
	NextVisible *float64 `json:"next_visible,omitempty"`
}
