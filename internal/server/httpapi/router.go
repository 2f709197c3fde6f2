// Package httpapi wires the server's HTTP surface (external-interfaces.md
// §6.1) onto a go-chi router: authentication, file CRUD, chunked upload
// session management, and the sync polling endpoints.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foldersync/foldersync/internal/server/auth"
	"github.com/foldersync/foldersync/internal/server/chunksession"
	"github.com/foldersync/foldersync/internal/server/contentstore"
	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/server/push"
	"github.com/foldersync/foldersync/internal/server/reconcile"
)

// Deps are the services the router dispatches to. All fields are required.
type Deps struct {
	Store       metastore.Store
	Content     *contentstore.Store
	Auth        *auth.Service
	Chunks      *chunksession.Manager
	Reconciler  *reconcile.Service
	Hub         *push.Hub
	Logger      *slog.Logger
	MaxFileSize int64
}

// NewRouter builds the complete chi router for the server's HTTP API.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(deps.Auth))
			r.Post("/logout", h.logout)
		})
	})

	r.Route("/files", func(r chi.Router) {
		r.Use(bearerAuth(deps.Auth))

		r.Get("/", h.listFiles)
		r.Post("/upload", h.uploadDirect)

		r.Route("/upload", func(r chi.Router) {
			r.Post("/initiate-chunked", h.initiateChunked)
			r.Post("/chunk", h.uploadChunk)
			r.Get("/status/{sessionId}", h.sessionStatus)
			r.Delete("/cancel/{sessionId}", h.cancelSession)
			r.Get("/sessions", h.listSessions)
		})

		r.Route("/{fileId}", func(r chi.Router) {
			r.Get("/download", h.download)
			r.Get("/download-chunked", h.downloadChunked)
			r.Put("/", h.replace)
			r.Delete("/", h.deleteFile)
			r.Get("/versions", h.versions)
			r.Get("/metadata", h.metadata)
		})
	})

	r.Route("/sync", func(r chi.Router) {
		r.Use(bearerAuth(deps.Auth))
		r.Get("/changes", h.syncChanges)
		r.Post("/heartbeat", h.heartbeat)
	})

	r.Handle("/ws/sync", push.NewHandler(deps.Hub, deps.Auth, deps.Logger))

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
