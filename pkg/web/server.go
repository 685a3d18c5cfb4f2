// Package web serves the companion's HTTP API and the live status feed.
package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-companion/pkg/devicelink"
	"github.com/teslashibe/go-companion/pkg/dvr"
	"github.com/teslashibe/go-companion/pkg/hub"
	"github.com/teslashibe/go-companion/pkg/orchestrator"
	"github.com/teslashibe/go-companion/pkg/tools"
)

// Controller is the part of the orchestrator the API drives.
type Controller interface {
	Wake(ctx context.Context) error
	Sleep(ctx context.Context) error
	TextInput(ctx context.Context, text string) error
	EndConversation(ctx context.Context) error
	Status(ctx context.Context) (orchestrator.Status, error)
	ExecuteTool(ctx context.Context, name string, args map[string]any) tools.Result
}

// ClipLister lists saved event clips.
type ClipLister interface {
	List() []*dvr.Clip
	Get(id string) (*dvr.Clip, error)
}

// Config configures a Server.
type Config struct {
	Addr string
	// RequestTimeout bounds calls into the controller.
	RequestTimeout time.Duration

	Controller Controller
	// Status is the hub /ws/status subscribers join. Required.
	Status *hub.Hub
	// Devices mounts the device websocket and listing routes when set.
	Devices *devicelink.Link
	// Clips serves the event clip index when set.
	Clips ClipLister

	// Version is reported by /health.
	Version string
	// Debug enables request logging.
	Debug bool

	Logger *slog.Logger
}

// Server is the companion HTTP server
type Server struct {
	cfg Config
	app *fiber.App
	log *slog.Logger
}

// NewServer creates a new server and registers its routes
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg: cfg,
		log: cfg.Logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Companion",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/device", s.handleDevice)
	api.Post("/wake", s.handleWake)
	api.Post("/sleep", s.handleSleep)
	api.Post("/text", s.handleText)
	api.Post("/end", s.handleEnd)
	api.Get("/tools", s.handleListTools)
	api.Post("/tools/:name", s.handleTriggerTool)
	if cfg.Clips != nil {
		api.Get("/clips", s.handleListClips)
		api.Get("/clips/:id", s.handleGetClip)
	}
	if cfg.Devices != nil {
		cfg.Devices.RegisterAPIRoutes(api)
		cfg.Devices.RegisterRoutes(app)
	}

	// WebSocket upgrade middleware
	app.Use("/ws/status", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
