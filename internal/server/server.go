// Package server exposes the command catalog, trajectory playback, script
// sessions and the live frame stream over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/designctl/internal/auth"
	"github.com/danmuck/designctl/internal/catalog"
	"github.com/danmuck/designctl/internal/observability"
	"github.com/danmuck/designctl/internal/script"
	"github.com/danmuck/designctl/internal/trajectory"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Pinger checks that the engine answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Name        string
	Addr        string
	CorsOrigins []string

	Catalog *catalog.Catalog
	Engine  Pinger
	Store   *trajectory.Store
	Script  *script.Controller
	// Frames serves the live frame websocket; nil disables /frames.
	Frames http.Handler
	// Auth gates the POST routes; nil leaves them open.
	Auth auth.Validator
}

type Server struct {
	name    string
	addr    string
	started time.Time

	catalog *catalog.Catalog
	engine  Pinger
	store   *trajectory.Store
	script  *script.Controller
	frames  http.Handler
	auth    auth.Validator

	router *gin.Engine
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPMiddleware(log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		name:    opts.Name,
		addr:    opts.Addr,
		started: time.Now(),
		catalog: opts.Catalog,
		engine:  opts.Engine,
		store:   opts.Store,
		script:  opts.Script,
		frames:  opts.Frames,
		auth:    opts.Auth,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("name", s.name).Str("addr", s.addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Str("name", s.name).Msg("server stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
