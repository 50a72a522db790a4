// Package api exposes scene staging over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/engine"
	"github.com/dokzlo13/lightstage/internal/ledger"
	"github.com/dokzlo13/lightstage/internal/registry"
	"github.com/dokzlo13/lightstage/internal/scene"
)

// Engine is the part of *engine.Engine the handlers drive.
type Engine interface {
	StageScene(ctx context.Context, id int, opts scene.StageOptions) (scene.Staged, error)
	UnstageScene(ctx context.Context, id int, transitionMs *int) (bool, error)
	ToggleScene(ctx context.Context, id int, opts scene.StageOptions) (scene.Status, error)
	ApplyAll(ctx context.Context, opts scene.ApplyOptions) (scene.Plan, error)
	StagedScenes(ctx context.Context) ([]scene.Staged, error)
	UnstagingScenes(ctx context.Context) ([]int, error)
	SceneStatus(ctx context.Context, id int) (scene.Status, error)
	Effects(ctx context.Context) ([]engine.RunningEffect, error)
	Done() <-chan struct{}
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Engine         Engine
	Scenes         *registry.Scenes
	Groups         *registry.Groups
	Ledger         *ledger.Ledger // nil when disabled
	EffectNames    func() []string
	AllowedOrigins []string
}

// Server is the HTTP control surface.
type Server struct {
	addr       string
	deps       Deps
	httpServer *http.Server
}

// NewServer creates a new control server.
func NewServer(host string, port int, deps Deps) *Server {
	if deps.EffectNames == nil {
		deps.EffectNames = func() []string { return nil }
	}
	return &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
		deps: deps,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(s.deps.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.deps.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}).Handler)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Get("/scene", s.handleGetScene)
	r.Get("/scenes", s.handleListScenes)
	r.Post("/scenes", s.handleAddScene)
	r.Delete("/scenes", s.handleRemoveScene)
	r.Get("/groups", s.handleListGroups)
	r.Post("/groups", s.handleAddGroup)
	r.Delete("/groups", s.handleRemoveGroup)
	r.Get("/effects", s.handleListEffects)

	r.Get("/scene/status", s.handleSceneStatus)
	r.Get("/scene/stage", s.handleListStaged)
	r.Post("/scene/stage", s.handleStage)
	r.Get("/scene/unstage", s.handleListUnstaging)
	r.Post("/scene/unstage", s.handleUnstage)
	r.Post("/scene/toggle", s.handleToggle)
	r.Post("/scene/send", s.handleSend)

	r.Post("/registry/save", s.handleSave)
	r.Get("/ledger", s.handleLedger)
	return r
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
