package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aura/internal/logging"
)

// Socket is the transport a client hangs off the hub. The production
// implementation wraps a gorilla/websocket connection; tests use fakes.
type Socket interface {
	WriteJSON(v any) error
	// CloseGoingAway sends a 1001 close frame with reason and tears the
	// connection down.
	CloseGoingAway(reason string) error
	Close() error
}

type wsSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// WrapConn adapts a websocket connection into a Socket with serialized writes.
// Gorilla connections allow at most one concurrent writer.
func WrapConn(conn *websocket.Conn) Socket {
	return &wsSocket{conn: conn}
}

func (s *wsSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSocket) CloseGoingAway(reason string) error {
	s.mu.Lock()
	deadline := time.Now().Add(2 * time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason), deadline)
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}

// Hub tracks live client sockets keyed by (user, client) and fans messages
// out to them. A user may hold several clients (tabs, devices); each
// (user, client) pair holds at most one socket.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[string]Socket
	log     logging.Logger
}

func New(log logging.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[string]Socket),
		log:     logging.OrNop(log),
	}
}

// Connect registers a socket under (userID, clientID). If that pair already
// holds a socket, the old one is told to go away first so a reconnecting tab
// never fights its own ghost.
func (h *Hub) Connect(sock Socket, userID int64, clientID string) {
	h.mu.Lock()
	perUser, ok := h.clients[userID]
	if !ok {
		perUser = make(map[string]Socket)
		h.clients[userID] = perUser
	}
	old := perUser[clientID]
	perUser[clientID] = sock
	h.mu.Unlock()

	if old != nil {
		if err := old.CloseGoingAway("new connection established"); err != nil {
			h.log.Debug("closing stale socket for user %d client %s: %v", userID, clientID, err)
		}
	}
	h.log.Info("client connected: user %d client %s", userID, clientID)
}

// Disconnect removes the socket for (userID, clientID) if it is still the
// registered one. Empty per-user maps are pruned.
func (h *Hub) Disconnect(userID int64, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perUser, ok := h.clients[userID]
	if !ok {
		return
	}
	delete(perUser, clientID)
	if len(perUser) == 0 {
		delete(h.clients, userID)
	}
	h.log.Info("client disconnected: user %d client %s", userID, clientID)
}

func (h *Hub) socket(userID int64, clientID string) Socket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[userID][clientID]
}

func (h *Hub) sockets(userID int64) map[string]Socket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	perUser := h.clients[userID]
	if len(perUser) == 0 {
		return nil
	}
	out := make(map[string]Socket, len(perUser))
	for clientID, sock := range perUser {
		out[clientID] = sock
	}
	return out
}

// SendToClient delivers msg to one client. A failed write disconnects the
// socket; the message is dropped, not retried.
func (h *Hub) SendToClient(msg Message, userID int64, clientID string) {
	sock := h.socket(userID, clientID)
	if sock == nil {
		return
	}
	if err := sock.WriteJSON(msg); err != nil {
		h.log.Warn("send to user %d client %s failed, dropping connection: %v", userID, clientID, err)
		h.Disconnect(userID, clientID)
		_ = sock.Close()
	}
}

// BroadcastToUser delivers msg to every client of a user concurrently. One
// dead socket never blocks the others.
func (h *Hub) BroadcastToUser(msg Message, userID int64) {
	targets := h.sockets(userID)
	if len(targets) == 0 {
		return
	}
	var wg sync.WaitGroup
	for clientID, sock := range targets {
		wg.Add(1)
		go func(clientID string, sock Socket) {
			defer wg.Done()
			if err := sock.WriteJSON(msg); err != nil {
				h.log.Warn("broadcast to user %d client %s failed, dropping connection: %v", userID, clientID, err)
				h.Disconnect(userID, clientID)
				_ = sock.Close()
			}
		}(clientID, sock)
	}
	wg.Wait()
}

// ClientCount reports the number of live sockets for a user.
func (h *Hub) ClientCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
