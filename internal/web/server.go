// Package web provides the JSON HTTP API for boards, backlogs and sprints.
package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

// ActorHeader carries the caller identity.
const ActorHeader = "X-User-ID"

// Options configures the HTTP server.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the agile board API server.
type Server struct {
	engine *agile.Engine
	hub    *Hub
	log    *zap.Logger
	md     goldmark.Markdown
	router chi.Router

	mu           sync.Mutex
	server       *http.Server
	stopped      bool
	shutdownOnce sync.Once
}

// NewServer creates a server for engine. Events delivered to hub are streamed on /api/events.
func NewServer(engine *agile.Engine, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		engine: engine,
		hub:    hub,
		log:    log.Named("web"),
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)
	r.Use(withActor)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleSSE)

		r.Route("/boards", func(r chi.Router) {
			r.Get("/", s.apiListBoards)
			r.Post("/", s.apiCreateBoard)
			r.Route("/{boardID}", func(r chi.Router) {
				r.Get("/", s.apiGetBoard)
				r.Put("/settings", s.apiUpdateBoardSettings)
				r.Post("/columns", s.apiCreateColumn)
				r.Get("/sprints", s.apiListSprints)
				r.Post("/sprints", s.apiCreateSprint)
			})
		})

		r.Route("/columns/{columnID}", func(r chi.Router) {
			r.Get("/", s.apiGetColumn)
			r.Patch("/", s.apiUpdateColumn)
			r.Delete("/", s.apiDeleteColumn)
			r.Post("/move", s.apiMoveColumn)
			r.Post("/cards", s.apiCreateCard)
		})

		r.Route("/cards/{cardID}", func(r chi.Router) {
			r.Get("/", s.apiGetCard)
			r.Patch("/", s.apiUpdateCard)
			r.Delete("/", s.apiDeleteCard)
			r.Post("/move", s.apiMoveCard)
			r.Put("/link", s.apiLinkCard)
			r.Delete("/link", s.apiUnlinkCard)
		})

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/backlog", s.apiProductBacklog)
			r.Post("/backlog", s.apiCreateItem)
			r.Get("/removed", s.apiRemovedItems)
		})

		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Get("/", s.apiGetItem)
			r.Patch("/", s.apiUpdateItem)
			r.Delete("/", s.apiRemoveItem)
			r.Post("/move", s.apiMoveItem)
			r.Put("/priority", s.apiUpdatePriority)
			r.Put("/status", s.apiUpdateStatus)
			r.Put("/assignee", s.apiAssign)
		})

		r.Route("/sprints/{sprintID}", func(r chi.Router) {
			r.Get("/", s.apiGetSprint)
			r.Patch("/", s.apiUpdateSprint)
			r.Get("/backlog", s.apiSprintBacklog)
			r.Post("/start", s.apiStartSprint)
			r.Post("/complete", s.apiCompleteSprint)
			r.Post("/carry-over", s.apiCarryOver)
			r.Get("/progress", s.apiSprintProgress)
			r.Get("/burndown", s.apiBurndown)
		})
	})

	return r
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string, opts Options) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	s.log.Info("Starting API server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects event streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(s.hub.Close)

	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// withLogging logs each request once it has been served.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// withActor moves the caller identity header into the request context.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(ActorHeader); actor != "" {
			r = r.WithContext(agile.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// markdown renders a description to HTML. Raw HTML in the source is not passed through.
func (s *Server) markdown(src string) string {
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(src), &buf); err != nil {
		s.log.Warn("Markdown rendering failed", zap.Error(err))
		return ""
	}
	return buf.String()
}
