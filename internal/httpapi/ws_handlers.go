package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"aura/internal/hub"
	"aura/internal/metrics"
)

// commandDeckClientID names the frontend's single socket. One socket per
// user carries every frame; a reconnect replaces the previous one.
const commandDeckClientID = "command_deck"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowedOrigins.MatchString(origin)
	},
}

func closePolicyViolation(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = conn.Close()
}

// commandDeckSocket upgrades the connection, authenticates via the token
// query parameter, and parks in a read loop. The server never acts on
// inbound frames beyond keepalive pings; the socket exists for fan-out.
func (s *Server) commandDeckSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	token := c.Query("token")
	if token == "" {
		closePolicyViolation(conn, "missing token")
		return
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		closePolicyViolation(conn, "invalid or expired token")
		return
	}
	user, err := s.store.GetUserByID(claims.UserID)
	if err != nil {
		closePolicyViolation(conn, "unknown user")
		return
	}

	sock := hub.WrapConn(conn)
	s.hub.Connect(sock, user.ID, commandDeckClientID)
	metrics.ConnectedClients.Inc()
	defer func() {
		s.hub.Disconnect(user.ID, commandDeckClientID)
		metrics.ConnectedClients.Dec()
		_ = conn.Close()
	}()

	s.hub.SendToClient(hub.Connected(), user.ID, commandDeckClientID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &frame) == nil && frame.Type == hub.TypePing {
			continue
		}
		// Anything else is ignored; state changes ride the REST API.
	}
}
