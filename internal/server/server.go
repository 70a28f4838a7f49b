// Package server is the HTTP control API: room creation, bot start and
// status, health, metrics and an MCP websocket endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/terifai/terifai/internal/control"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/mcp"
	"github.com/terifai/terifai/internal/metrics"
)

const requestTimeout = 90 * time.Second

// Server wires the control service to fiber routes.
type Server struct {
	app *fiber.App
	svc *control.Service
	mcp *sdk.Server
}

type Option func(*Server)

// WithMCP serves s at /mcp/ws.
func WithMCP(s *sdk.Server) Option {
	return func(srv *Server) { srv.mcp = s }
}

// New builds the routes. reg may be nil to skip /metrics.
func New(svc *control.Service, reg *prometheus.Registry, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	app := fiber.New(fiber.Config{
		AppName:               "terifai",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(cors.New())

	app.Post("/create", s.handleCreate)
	app.Post("/start", s.handleStart)
	app.Get("/status/:id", s.handleStatus)
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	if reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(reg)))
	}
	if s.mcp != nil {
		app.Use("/mcp/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/mcp/ws", websocket.New(s.handleMCP))
	}
	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	logging.Infow("control server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders every error as {"detail": ...}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		logging.Errorw("request failed", "method", c.Method(), "path", c.Path(), "status", code, "err", err)
	}
	return c.Status(code).JSON(fiber.Map{"detail": err.Error()})
}

type createRequest struct {
	RoomURL string `json:"room_url"`
}

func (s *Server) handleCreate(c *fiber.Ctx) error {
	var req createRequest
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
		}
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	room, err := s.svc.CreateRoom(ctx, req.RoomURL)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(room)
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req control.StartRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	b, err := s.svc.StartBot(ctx, req)
	switch {
	case errors.Is(err, control.ErrInvalid):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, control.ErrRoomFull):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case err != nil:
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to start machine: "+err.Error())
	}
	return c.JSON(fiber.Map{"bot_id": b.ID, "room_url": b.RoomURL})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	st, err := s.svc.Status(c.UserContext(), id)
	if errors.Is(err, control.ErrBotNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Bot with machine id: "+id+" not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(st)
}

func (s *Server) handleMCP(conn *websocket.Conn) {
	if err := mcp.Serve(context.Background(), s.mcp, conn); err != nil {
		logging.Debugw("mcp session ended", "err", err)
	}
}
