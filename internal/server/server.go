// Package server exposes the research engine over HTTP with fiber. Progress
// events and report text are streamed as server-sent events.
package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/events"
	"deepresearch/internal/logging"
	"deepresearch/internal/orchestrator"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server owns the fiber app and the background runs it started.
type Server struct {
	app    *fiber.App
	cfg    config.ServerConfig
	engine *orchestrator.Engine
	bus    *events.Bus

	keepalive time.Duration

	// background runs are tied to baseCtx and drained by Shutdown
	baseCtx context.Context
	stop    context.CancelFunc
	runs    sync.WaitGroup
}

// New builds the app and registers every route.
func New(cfg config.ServerConfig, engine *orchestrator.Engine, bus *events.Bus) *Server {
	bodyLimit := cfg.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 10
	}
	app := fiber.New(fiber.Config{
		AppName:               "deepresearch",
		BodyLimit:             bodyLimit * 1024 * 1024,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: defaultString(cfg.CorsOrigins, "*"),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(requestLogger)

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		app:       app,
		cfg:       cfg,
		engine:    engine,
		bus:       bus,
		keepalive: 15 * time.Second,
		baseCtx:   ctx,
		stop:      stop,
	}
	s.registerRoutes()
	return s
}

// App returns the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address until Shutdown.
func (s *Server) Run() error {
	addr := defaultString(s.cfg.Address, ":8080")
	logging.Server("Listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests, cancels background runs and waits for
// them to persist their state.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	err := s.app.ShutdownWithContext(ctx)

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.ServerWarn("Shutdown: background runs still active")
		return ctx.Err()
	}
	return err
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")

	sessions := api.Group("/sessions")
	sessions.Get("", s.listSessions)
	sessions.Post("", s.createSession)
	sessions.Get("/:id", s.getSession)
	sessions.Post("/:id/advance", s.advance)
	sessions.Post("/:id/cancel", s.cancel)
	sessions.Post("/:id/regenerate", s.regenerate)
	sessions.Get("/:id/report", s.getReport)
	sessions.Get("/:id/report/sections", s.getReportSections)
	sessions.Get("/:id/report/stream", s.streamReport)
	sessions.Get("/:id/events", s.streamEvents)

	profiles := api.Group("/profiles")
	profiles.Get("/options", s.profileOptions)
	profiles.Post("", s.createProfile)

	api.Post("/sections", s.parseSections)
	api.Post("/graph", s.generateGraph)
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	logging.ServerDebug("%s %s -> %d (%s)", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start))
	return err
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
