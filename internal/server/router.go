package server

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/livediagram/internal/logging"
)

// NewFileRouter serves the watched directory. "/" returns the index page;
// every other path is served from dir as a plain file server.
func NewFileRouter(dir, indexFile string, logger logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("http")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	// Browsers must refetch the index after a reload notification.
	r.Use(middleware.NoCache)

	indexPath := filepath.Join(dir, indexFile)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.ServeFile(w, req, indexPath)
	})
	r.Handle("/*", http.FileServer(http.Dir(dir)))

	return r
}

// NewNotifyRouter mounts the push endpoint at path.
func NewNotifyRouter(path string, hub http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(path, hub)

	return r
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
