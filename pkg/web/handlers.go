package web

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-companion/pkg/dvr"
	"github.com/teslashibe/go-companion/pkg/hub"
	"github.com/teslashibe/go-companion/pkg/orchestrator"
	"github.com/teslashibe/go-companion/pkg/protocol"
	"github.com/teslashibe/go-companion/pkg/session"
	"github.com/teslashibe/go-companion/pkg/tools"
)

// ToolInfo describes an available tool
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TriggerToolRequest is the request body for triggering a tool
type TriggerToolRequest struct {
	Args map[string]any `json:"args"`
}

// TextRequest is the request body for typed input
type TextRequest struct {
	Text string `json:"text"`
}

func (s *Server) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.cfg.RequestTimeout)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	body := fiber.Map{"status": "ok", "version": s.cfg.Version}
	if s.cfg.Devices != nil {
		body["devices"] = s.cfg.Devices.DeviceCount()
	}
	return c.JSON(body)
}

// handleMetrics exposes counters in the Prometheus text format
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	var b strings.Builder
	metric := func(name, kind, help string, v uint64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, kind, name, v)
	}

	metric("companion_status_clients", "gauge", "Connected status subscribers", uint64(s.cfg.Status.ClientCount()))
	metric("companion_status_dropped", "counter", "Broadcasts dropped by the status hub", s.cfg.Status.Dropped())
	if s.cfg.Devices != nil {
		st := s.cfg.Devices.GetStats()
		metric("companion_devices", "gauge", "Connected devices", uint64(st.DeviceCount))
		metric("companion_signals_received", "counter", "Signals received from devices", st.MessagesReceived)
		metric("companion_messages_sent", "counter", "Messages sent to devices", st.MessagesSent)
		metric("companion_signals_throttled", "counter", "Signals dropped by rate limiting", st.Throttled)
		metric("companion_signals_rejected", "counter", "Malformed or unexpected signals", st.Rejected)
	}

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}

// handleStatus returns the session and device state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()

	st, err := s.cfg.Controller.Status(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(st)
}

func (s *Server) handleDevice(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()

	st, err := s.cfg.Controller.Status(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(st.Device)
}

func (s *Server) handleWake(c *fiber.Ctx) error {
	return s.lifecycle(c, s.cfg.Controller.Wake)
}

func (s *Server) handleSleep(c *fiber.Ctx) error {
	return s.lifecycle(c, s.cfg.Controller.Sleep)
}

func (s *Server) handleEnd(c *fiber.Ctx) error {
	return s.lifecycle(c, s.cfg.Controller.EndConversation)
}

// lifecycle runs a state change and answers with the resulting status.
func (s *Server) lifecycle(c *fiber.Ctx, fn func(context.Context) error) error {
	ctx, cancel := s.ctx(c)
	defer cancel()

	if err := fn(ctx); err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	st, err := s.cfg.Controller.Status(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(st.Session)
}

func (s *Server) handleText(c *fiber.Ctx) error {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}

	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.cfg.Controller.TextInput(ctx, req.Text); err != nil {
		if errors.Is(err, orchestrator.ErrNoSession) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// handleListTools returns available tools
func (s *Server) handleListTools(c *fiber.Ctx) error {
	defs := tools.Definitions()
	out := make([]ToolInfo, len(defs))
	for i, d := range defs {
		out[i] = ToolInfo{Name: d.Name, Description: d.Description}
	}
	return c.JSON(out)
}

// handleTriggerTool runs a tool manually
func (s *Server) handleTriggerTool(c *fiber.Ctx) error {
	name := c.Params("name")
	if !knownTool(name) {
		return fiber.NewError(fiber.StatusNotFound, "unknown tool: "+name)
	}

	var req TriggerToolRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
		}
	}

	ctx, cancel := s.ctx(c)
	defer cancel()
	r := s.cfg.Controller.ExecuteTool(ctx, name, req.Args)
	s.log.Info("manual tool call", "tool", name, "ok", r.OK)

	return c.JSON(fiber.Map{
		"tool":   name,
		"result": r,
	})
}

func knownTool(name string) bool {
	for _, d := range tools.Definitions() {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) handleListClips(c *fiber.Ctx) error {
	clips := s.cfg.Clips.List()
	return c.JSON(fiber.Map{"clips": clips, "count": len(clips)})
}

func (s *Server) handleGetClip(c *fiber.Ctx) error {
	clip, err := s.cfg.Clips.Get(c.Params("id"))
	if errors.Is(err, dvr.ErrClipNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(clip)
}

// handleStatusWS sends the current state, then streams every broadcast.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	st, err := s.cfg.Controller.Status(ctx)
	cancel()
	if err == nil {
		if msg, err := protocol.NewSessionStateMessage(st.Session); err == nil {
			c.WriteJSON(msg)
		}
		if msg, err := protocol.NewDeviceStateMessage(st.Device); err == nil {
			c.WriteJSON(msg)
		}
	}

	client := hub.NewClient(s.cfg.Status, c)
	client.Run()
}
