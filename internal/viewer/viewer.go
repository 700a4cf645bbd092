// Package viewer serves the read-only review API over stored alignment
// artifacts:
//
//	GET /api/chapters                      chapter list in natural order
//	GET /api/report/{chapter}              hydrated transcript (JSON)
//	GET /api/report/{chapter}/text         validation report (plain text)
//	GET /api/artifacts/{chapter}/{kind}    any stored artifact (JSON)
//
// plus /healthz, /readyz and, when configured, /metrics.
package viewer

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/bookalign/internal/artifact"
	"github.com/MrWong99/bookalign/internal/health"
	"github.com/MrWong99/bookalign/internal/hydrate"
	"github.com/MrWong99/bookalign/internal/observe"
	"github.com/MrWong99/bookalign/internal/report"
)

// Chapter is one entry of the chapter list.
type Chapter struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h on /metrics, typically promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithHealth replaces the health handler. By default readiness pings the
// store.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// Server is the review API.
type Server struct {
	store          artifact.Store
	metrics        *observe.Metrics
	metricsHandler http.Handler
	health         *health.Handler
}

// New returns a [Server] reading from store.
func New(store artifact.Store, opts ...Option) *Server {
	s := &Server{store: store}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New(health.Ping("store", store))
	}
	return s
}

// Handler returns the routed and instrumented API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chapters", s.chapters)
	mux.HandleFunc("GET /api/report/{chapter}", s.reportJSON)
	mux.HandleFunc("GET /api/report/{chapter}/text", s.reportText)
	mux.HandleFunc("GET /api/artifacts/{chapter}/{kind}", s.artifact)
	s.health.Register(mux)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	route := func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			return "unmatched"
		}
		if _, path, ok := strings.Cut(pattern, " "); ok {
			return path
		}
		return pattern
	}
	return observe.Middleware(s.metrics, observe.WithRoute(route))(mux)
}

func (s *Server) chapters(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report.SortChapters(names)
	out := make([]Chapter, len(names))
	for i, n := range names {
		out[i] = Chapter{Name: n, Path: n}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) reportJSON(w http.ResponseWriter, r *http.Request) {
	a, ok := s.load(w, r, r.PathValue("chapter"), artifact.KindHydrated)
	if !ok {
		return
	}
	serveArtifact(w, r, a)
}

func (s *Server) reportText(w http.ResponseWriter, r *http.Request) {
	chapter := r.PathValue("chapter")
	a, ok := s.load(w, r, chapter, artifact.KindHydrated)
	if !ok {
		return
	}
	var t hydrate.Transcript
	if err := a.Decode(&t); err != nil {
		s.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, chapter, &t); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("ETag", `"`+a.ContentHash+`-text"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) artifact(w http.ResponseWriter, r *http.Request) {
	kind := artifact.Kind(r.PathValue("kind"))
	if !kind.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown artifact kind", "kind": string(kind)})
		return
	}
	a, ok := s.load(w, r, r.PathValue("chapter"), kind)
	if !ok {
		return
	}
	serveArtifact(w, r, a)
}

// load fetches an artifact and writes the error response itself when it
// cannot be served.
func (s *Server) load(w http.ResponseWriter, r *http.Request, chapter string, kind artifact.Kind) (artifact.Artifact, bool) {
	a, found, err := s.store.Get(r.Context(), chapter, kind)
	switch {
	case errors.Is(err, artifact.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chapter name", "chapter": chapter})
		return artifact.Artifact{}, false
	case err != nil:
		s.fail(w, r, err)
		return artifact.Artifact{}, false
	case !found:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Report not found", "chapter": chapter, "kind": string(kind)})
		return artifact.Artifact{}, false
	}
	return a, true
}

// serveArtifact writes the stored bytes unchanged, with the content hash as
// ETag.
func serveArtifact(w http.ResponseWriter, r *http.Request, a artifact.Artifact) {
	etag := `"` + a.ContentHash + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(a.Data)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	observe.Logger(r.Context()).Error("review api request failed", "path", r.URL.Path, "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}
