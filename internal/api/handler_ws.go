package api

import (
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/kwld/twitch-service/internal/netsec"
	"github.com/kwld/twitch-service/internal/wstoken"
)

const (
	closeCodeForbiddenIP     websocket.StatusCode = 4403
	closeCodeUnauthorized    websocket.StatusCode = 4401
	closeCodeTokenInvalid    websocket.StatusCode = 4401
	closeCodeConsumerOffline websocket.StatusCode = 4401
)

// handleDownstreamWS implements GET /ws/events: the downstream-WS handshake
// (§6 steps 1-6). A successful handshake registers the connection with the
// Hub; the connection then only ever receives (never sends meaningful
// frames), so the read loop below exists purely to detect client close and
// respond to protocol-level pings.
func (s *Server) handleDownstreamWS(c *gin.Context) {
	trustXFF := s.cfg != nil && s.cfg.AppTrustXForwardedFor
	clientIP := netsec.ResolveClientIP(directHost(c.Request.RemoteAddr), c.GetHeader("X-Forwarded-For"), trustXFF)
	if len(s.allowlist) > 0 && !netsec.IsIPAllowed(clientIP, s.allowlist) {
		conn, err := websocket.Accept(c.Writer, c.Request, nil)
		if err == nil {
			_ = conn.Close(closeCodeForbiddenIP, "ip not allowed")
		}
		return
	}

	token := c.Query("ws_token")
	if wstoken.IsEmptyOrSentinel(token) {
		conn, err := websocket.Accept(c.Writer, c.Request, nil)
		if err == nil {
			_ = conn.Close(closeCodeUnauthorized, "missing ws_token")
		}
		return
	}

	consumerID, ok := s.tokens.Consume(token)
	if !ok {
		conn, err := websocket.Accept(c.Writer, c.Request, nil)
		if err == nil {
			_ = conn.Close(closeCodeTokenInvalid, "invalid or expired ws_token")
		}
		return
	}

	ctx := c.Request.Context()
	consumer, err := s.store.Consumers.GetByID(ctx, consumerID)
	if err != nil || !consumer.Enabled {
		conn, acceptErr := websocket.Accept(c.Writer, c.Request, nil)
		if acceptErr == nil {
			_ = conn.Close(closeCodeConsumerOffline, "consumer not found or disabled")
		}
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		if s.log != nil {
			s.log.Warn("api: ws accept failed", "error", err)
		}
		return
	}

	connID := s.hub.Connect(consumerID, conn)
	defer s.hub.Disconnect(consumerID, connID)

	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return
		}
	}
}
