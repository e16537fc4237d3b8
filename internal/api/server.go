// Package api is the HTTP host for the resolver: it runs resolutions, writes
// dispositions to the wire and reports stream failures.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitstatic/internal/index"
	"github.com/fruitsalade/fruitstatic/internal/logging"
	"github.com/fruitsalade/fruitstatic/internal/metrics"
	"github.com/fruitsalade/fruitstatic/internal/resolver"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// StreamErrorHook is called when a body fails mid-transfer. Headers and part
// of the body may already have been sent.
type StreamErrorHook func(r *http.Request, err error)

// Server serves files through a resolver.
type Server struct {
	resolver      *resolver.Resolver
	index         *index.Index
	onStreamError StreamErrorHook
}

// NewServer creates a new server.
func NewServer(res *resolver.Resolver, ix *index.Index) *Server {
	return &Server{
		resolver:      res,
		index:         ix,
		onStreamError: logStreamError,
	}
}

// SetStreamErrorHook replaces the default hook, which logs and counts the error.
func (s *Server) SetStreamErrorHook(fn StreamErrorHook) {
	if fn == nil {
		fn = logStreamError
	}
	s.onStreamError = fn
}

// Handler returns the standalone HTTP handler. Unknown paths get a JSON 404.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Files
	mux.Handle("/", s.Middleware(nil))

	return metrics.Middleware(logging.Middleware(mux))
}

// Middleware returns the server as a pipeline stage. Requests it does not
// handle (not found, or a method other than GET/HEAD) are passed to next.
// A nil next makes the stage terminal.
func (s *Server) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, next)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		if next != nil {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", "GET, HEAD")
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	d := s.resolver.Resolve(r.Context(), resolver.Request{
		Path:        r.URL.Path,
		IfNoneMatch: r.Header.Get("If-None-Match"),
		Range:       r.Header.Get("Range"),
	})
	defer d.Close()

	if d.Kind == resolver.NotFound {
		if next != nil {
			next.ServeHTTP(w, r)
			return
		}
		var nf *resolver.NotFoundError
		if errors.As(d.Err, &nf) {
			s.sendError(w, nf.Status, nf.Message, nf.Name)
			return
		}
		s.sendError(w, http.StatusNotFound, "not found", "")
		return
	}

	for k, v := range d.Header {
		w.Header()[k] = v
	}

	if d.Degenerate() {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	w.WriteHeader(d.Status)

	if r.Method == http.MethodHead || d.Body == nil {
		return
	}
	n, err := io.Copy(w, d.Body)
	metrics.RecordBytesServed(n)
	if err != nil {
		s.onStreamError(r, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"mode":    s.index.Mode(),
		"entries": s.index.Len(),
		"source":  s.index.Source().Type(),
	})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func logStreamError(r *http.Request, err error) {
	metrics.RecordStreamError()
	logging.WithContext(r.Context()).Warn("stream failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}
