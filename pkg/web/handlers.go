package web

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-balltrack/pkg/hub"
)

// handleIndex serves the dashboard page
func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Type("html")
	return c.Send(indexHTML)
}

// handleStatus returns the tracker's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	if s.status == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "tracker not configured",
		})
	}
	return c.JSON(s.status.Snapshot())
}

// handleConfig returns the effective configuration
func (s *Server) handleConfig(c *fiber.Ctx) error {
	if s.config == nil {
		return c.JSON(fiber.Map{})
	}
	return c.JSON(s.config)
}

// handleStatusWS sends the current status, then streams updates
func (s *Server) handleStatusWS(c *websocket.Conn) {
	client := hub.NewClient(s.statusHub, c)
	if s.status != nil {
		if data, err := json.Marshal(s.status.Snapshot()); err == nil {
			c.WriteMessage(websocket.TextMessage, data)
		}
	}
	client.Run()
}

// handleStreamWS returns a handler attaching the connection to h
func (s *Server) handleStreamWS(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		hub.NewClient(h, c).Run()
	}
}
