package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // browser clients connect from the app's own origin
	},
}

// handleWebSocket upgrades the request and hands the connection to the hub,
// which blocks for the connection's lifetime.
func (s *Server) handleWebSocket(c echo.Context) error {
	if !s.verify(c.Request()) {
		return c.String(http.StatusForbidden, "connection rejected")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket", "error", err)
		return nil
	}

	if err := s.hub.Accept(conn); err != nil {
		slog.Warn("Connection rejected by hub", "error", err)
	}
	return nil
}
