// Package service wires the engine link, command catalog, trajectory store,
// script controller and HTTP surface into one process.
package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/danmuck/designctl/internal/auth"
	"github.com/danmuck/designctl/internal/catalog"
	"github.com/danmuck/designctl/internal/config"
	"github.com/danmuck/designctl/internal/engine"
	"github.com/danmuck/designctl/internal/frames"
	"github.com/danmuck/designctl/internal/link"
	"github.com/danmuck/designctl/internal/script"
	"github.com/danmuck/designctl/internal/server"
	"github.com/danmuck/designctl/internal/trajectory"
	"github.com/rs/zerolog/log"
)

// Autorun starts a script session as soon as the engine answers.
type Autorun struct {
	Snapshot string
	Script   string
}

type Service struct {
	cfg config.Config

	link       *link.Link
	dispatcher *engine.Dispatcher
	catalog    *catalog.Catalog
	frames     *frames.Broadcaster
	store      *trajectory.Store
	script     *script.Controller
	server     *server.Server
}

func New(cfg config.Config) *Service {
	l := link.New(cfg.Engine)
	disp := engine.NewDispatcher(l)
	cat := catalog.New(disp)
	bc := frames.NewBroadcaster(frames.BroadcasterOptions{
		CheckOrigin: originChecker(cfg.CorsOrigins),
	})
	store := trajectory.NewStore(cfg.Trajectory, bc)
	ctrl := script.NewController(cfg.Script, cat, store)
	srv := server.New(server.Options{
		Name:        cfg.Name,
		Addr:        cfg.ListenAddr,
		CorsOrigins: cfg.CorsOrigins,
		Catalog:     cat,
		Engine:      disp,
		Store:       store,
		Script:      ctrl,
		Frames:      bc,
		Auth:        auth.FromConfig(cfg.ControlToken),
	})
	return &Service{
		cfg:        cfg,
		link:       l,
		dispatcher: disp,
		catalog:    cat,
		frames:     bc,
		store:      store,
		script:     ctrl,
		server:     srv,
	}
}

func (s *Service) Store() *trajectory.Store { return s.store }

func (s *Service) Script() *script.Controller { return s.script }

func (s *Service) Server() *server.Server { return s.server }

// Start connects to the engine, checks it answers, and starts the
// optional autorun session.
func (s *Service) Start(ctx context.Context, auto *Autorun) error {
	if err := s.dispatcher.Ping(ctx); err != nil {
		return fmt.Errorf("engine %s unreachable: %w", s.cfg.Engine.Address, err)
	}
	log.Info().Str("engine", s.link.Addr()).Msg("service.Start engine reachable")

	if auto == nil {
		return nil
	}
	started, err := s.script.Run(ctx, script.RunRequest{Snapshot: auto.Snapshot, Script: auto.Script})
	if err != nil {
		return fmt.Errorf("autorun: %w", err)
	}
	log.Info().Bool("started", started).Msg("service.Start autorun")
	return nil
}

// Run starts the service and serves HTTP until ctx is done.
func (s *Service) Run(ctx context.Context, auto *Autorun) error {
	defer s.Close()
	if err := s.Start(ctx, auto); err != nil {
		return err
	}
	return s.server.Serve(ctx)
}

// Close stops any session, halts playback and drops the engine link.
func (s *Service) Close() {
	s.script.Stop()
	s.script.Wait()
	s.store.Halt()
	s.store.Wait()
	s.frames.Close()
	if err := s.link.Close(); err != nil {
		log.Debug().Err(err).Msg("service.Close link")
	}
}

// originChecker admits websocket viewers from the configured origins, and
// clients that send no Origin header.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[strings.TrimRight(origin, "/")]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
