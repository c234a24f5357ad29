// Package api wires the HTTP surface: instance inspection, oracle queries,
// orientation updates, probes and the metrics endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/orblink/orblink/internal/auth"
	"github.com/orblink/orblink/internal/geom"
	"github.com/orblink/orblink/internal/health"
	"github.com/orblink/orblink/internal/httputil"
	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/metrics"
	"github.com/orblink/orblink/internal/oracle"
	"github.com/orblink/orblink/internal/stream"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	inst       *instance.Instance
	eng        *oracle.Engine
	store      *oracle.Store
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server over a loaded instance.
func NewServer(addr string, inst *instance.Instance, eng *oracle.Engine, store *oracle.Store,
	sse *stream.Handler, state *health.State, authCfg auth.Config, logger *slog.Logger) *Server {

	s := &Server{
		inst:   inst,
		eng:    eng,
		store:  store,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", state.Healthz)
	mux.HandleFunc("GET /readyz", state.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/instance", s.handleInstance)
	mux.HandleFunc("GET /api/v1/lowerbound", s.handleLowerBound)
	mux.HandleFunc("GET /api/v1/linegraph", s.handleLineGraph)
	mux.HandleFunc("GET /api/v1/links/{id}/next-visibility", s.handleNextVisibility)
	mux.HandleFunc("GET /api/v1/links/{id}/next-communication", s.handleNextCommunication)
	mux.HandleFunc("PUT /api/v1/bodies/{id}/orientation", s.handleSetOrientation)
	mux.HandleFunc("GET /api/v1/stream/visibility", sse.HandleVisibility)

	// Middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the full middleware-wrapped handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// linkID parses and bounds-checks the {id} path value. A negative return
// means the response has already been written.
func (s *Server) linkID(w http.ResponseWriter, r *http.Request) int {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 || id >= len(s.inst.Links) {
		httputil.WriteError(w, http.StatusNotFound, "link not found")
		return -1
	}
	return id
}

// queryTime parses the optional ?t= parameter (default 0). The second
// return is false when the response has already been written.
func queryTime(w http.ResponseWriter, r *http.Request) (float64, bool) {
	v := r.URL.Query().Get("t")
	if v == "" {
		return 0, true
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid t parameter")
		return 0, false
	}
	return t, true
}

type bodyPayload struct {
	HeightPerigee float64 `json:"height_perigee"`
	Eccentricity  float64 `json:"eccentricity"`
	TrueAnomaly   float64 `json:"true_anomaly"`
	RAAN          float64 `json:"raan"`
	ArgPeriapsis  float64 `json:"arg_periapsis"`
	Inclination   float64 `json:"inclination"`
	RotationSpeed float64 `json:"rotation_speed"`
	ConeAngle     float64 `json:"cone_angle"`
}

func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	bodies := make([]bodyPayload, len(s.inst.Bodies))
	for i, b := range s.inst.Bodies {
		el := b.Elements()
		bodies[i] = bodyPayload{
			HeightPerigee: el.HeightPerigee,
			Eccentricity:  el.Eccentricity,
			TrueAnomaly:   el.TrueAnomaly,
			RAAN:          el.RAAN,
			ArgPeriapsis:  el.ArgPeriapsis,
			Inclination:   el.Inclination,
			RotationSpeed: el.RotationSpeed,
			ConeAngle:     el.ConeAngle,
		}
	}
	links := make([][2]int, len(s.inst.Links))
	for i, l := range s.inst.Links {
		links[i] = [2]int{l.A, l.B}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"radius": s.inst.Radius,
		"mu":     s.inst.Mu,
		"bodies": bodies,
		"links":  links,
	})
}

func (s *Server) handleLowerBound(w http.ResponseWriter, r *http.Request) {
	lb := s.eng.LowerBound()
	metrics.IncOracleQuery("lower_bound", "ok")
	httputil.WriteJSON(w, http.StatusOK, map[string]float64{"lower_bound": lb})
}

func (s *Server) handleLineGraph(w http.ResponseWriter, r *http.Request) {
	adj := s.inst.LineGraph()
	// Normalize nil rows so isolated links serialize as [] rather than null.
	for i, row := range adj {
		if row == nil {
			adj[i] = []int{}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"adjacency": adj})
}

func (s *Server) handleNextVisibility(w http.ResponseWriter, r *http.Request) {
	id := s.linkID(w, r)
	if id < 0 {
		return
	}
	t0, ok := queryTime(w, r)
	if !ok {
		return
	}

	resp := map[string]any{"link": id, "from": t0}
	if tv := s.eng.NextVisibility(id, t0); math.IsInf(tv, 1) {
		metrics.IncOracleQuery("next_visibility", "never_visible")
		resp["never_visible"] = true
	} else {
		metrics.IncOracleQuery("next_visibility", "visible")
		resp["visible_at"] = tv
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNextCommunication(w http.ResponseWriter, r *http.Request) {
	id := s.linkID(w, r)
	if id < 0 {
		return
	}
	t0, ok := queryTime(w, r)
	if !ok {
		return
	}

	res := s.eng.NextCommunication(id, t0)
	metrics.IncOracleQuery("next_communication", res.Outcome.String())

	resp := map[string]any{"link": id, "from": t0, "outcome": res.Outcome.String()}
	if res.Outcome == oracle.Feasible {
		resp["time"] = res.Time
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type orientationRequest struct {
	Dir  [3]float64 `json:"dir"`
	Time float64    `json:"time"`
}

func (s *Server) handleSetOrientation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 || id >= len(s.inst.Bodies) {
		httputil.WriteError(w, http.StatusNotFound, "body not found")
		return
	}

	var req orientationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for _, v := range req.Dir {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			httputil.WriteError(w, http.StatusBadRequest, "dir components must be finite")
			return
		}
	}
	if math.IsNaN(req.Time) || math.IsInf(req.Time, 0) || req.Time < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "time must be finite and >= 0")
		return
	}

	dir := geom.Vec3{X: req.Dir[0], Y: req.Dir[1], Z: req.Dir[2]}
	if dir.Norm() > 0 {
		dir = dir.Normalize()
	}
	s.store.Set(id, instance.Sample{Dir: dir, Time: req.Time})

	s.logger.Info("orientation updated",
		"component", "api",
		"body", id,
		"sample_time", req.Time,
	)
	w.WriteHeader(http.StatusNoContent)
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE streams keep working behind
// the logging middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
