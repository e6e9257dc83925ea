package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades GET /ws to a WebSocket and hands the connection to
// the event hub. Allowed origins come from server config; an empty list
// restricts connections to the API's own host.
func (s *Server) wsHandler(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorBody{Error: ErrorDetail{
			Kind:    KindInternal,
			Message: "event streaming is not available",
		}})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		// Accept already wrote the handshake failure response.
		return
	}

	// HandleConnection blocks until the WebSocket closes.
	s.hub.HandleConnection(c.Request.Context(), conn)
}
