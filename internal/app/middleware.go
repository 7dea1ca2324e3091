package app

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"printfleet/dashboard-server/internal/feed/wsfeed"
	"printfleet/dashboard-server/internal/metrics"
)

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument records request counts and latency by route template.
func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
		a.logger.Debug("http request", "method", r.Method, "route", route, "status", rec.status, "elapsed", time.Since(start))
	})
}

// requireAPIKey guards the API when a key is configured.
func (a *App) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.APIKey != "" {
			got := r.Header.Get(wsfeed.APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.APIKey)) != 1 {
				writeJSON(w, http.StatusForbidden, errorBody("PERMISSION_DENIED", "invalid api key"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// limited throttles a write handler with the shared token bucket.
func (a *App) limited(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			a.logger.Warn("write rate limit exceeded", "path", r.URL.Path, "method", r.Method, "remote", r.RemoteAddr)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody("RATE_LIMITED", "too many writes, retry shortly"))
			return
		}
		h(w, r)
	})
}
