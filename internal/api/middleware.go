package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithFields(logger.Fields{
					"request_id": requestIDFrom(r.Context()),
					"panic":      rec,
					"stack":      string(debug.Stack()),
				}).Error("Handler panicked")
				s.writeError(w, r, errors.InternalError(errors.CodeUnexpectedError, "handle_request", fmt.Errorf("%v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the response status for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		entry := s.logger.WithFields(logger.Fields{
			"request_id": requestIDFrom(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"bytes":      rec.bytes,
			"duration":   time.Since(start),
		})
		switch {
		case rec.status >= 500:
			entry.Error("Request failed")
		case rec.status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := false
	for _, o := range s.config.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && s.originAllowed(r):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", CorrelationIDHeader, RequestIDHeader}, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
