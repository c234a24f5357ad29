// Package health exposes liveness and readiness probe handlers.
package health

import (
	"net/http"
	"sync/atomic"
)

// State tracks readiness. The visibility caches are built before the
// listener starts, so SetReady is normally called once during startup,
// but the gate keeps probes honest if startup is ever made asynchronous.
type State struct {
	ready atomic.Bool
}

func (s *State) SetReady() { s.ready.Store(true) }

// Healthz returns 200 "ok\n" unconditionally.
func (s *State) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns 200 "ready\n" once the visibility caches are built,
// 503 before that.
func (s *State) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("building caches\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
