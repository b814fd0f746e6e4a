package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Role distinguishes the two client sides of a session.
type Role string

const (
	RolePresenter Role = "presenter"
	RolePlayer    Role = "player"
)

// ConnectionManager tracks WebSocket connections grouped by session so
// session updates can be fanned out to every screen watching one session
// (a projector mirror counts as a second presenter connection).
type ConnectionManager struct {
	sessionConns map[string]map[*Connection]bool
	mu           sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection represents one WebSocket client.
type Connection struct {
	ID      string
	Role    Role
	Send    chan []byte
	manager *ConnectionManager
	conn    *websocket.Conn

	// onCommand handles client commands; onClose tears down the
	// per-connection session manager. Set before pumps start.
	onCommand func(cmd Command)
	onClose   func()

	mu        sync.Mutex
	sessionID string
	closeOnce sync.Once

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds WebSocket tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage targets every connection attached to one session,
// optionally filtered by role.
type BroadcastMessage struct {
	SessionID string
	Role      Role // empty means both roles
	Event     *Event
}

// DefaultConnectionConfig returns the stock WebSocket tuning. Stroke
// payloads dominate message size; 64KB leaves ample headroom for long
// touch-move strokes.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// The player device arrives from an arbitrary origin after a
			// QR scan; origin policy is enforced by the CORS layer.
			return true
		},
	}
}

// NewConnectionManager creates a WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessionConns: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast messages until the context ends.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade upgrades an HTTP request to a WebSocket connection. The returned
// connection has no session attached yet; AttachSession binds it once the
// role handshake determines one.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, role Role) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		ID:          uuid.New().String(),
		Role:        role,
		Send:        make(chan []byte, 256),
		manager:     cm,
		conn:        conn,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}
	return c, nil
}

// StartPumps begins the read/write loops after the handlers are set.
func (c *Connection) StartPumps() {
	go c.writePump()
	go c.readPump()
}

// AttachSession registers the connection under a session for broadcast.
// Re-attaching under a new session (presenter moved to the next question)
// detaches from the old one.
func (c *Connection) AttachSession(sessionID string) {
	c.mu.Lock()
	old := c.sessionID
	c.sessionID = sessionID
	c.mu.Unlock()

	cm := c.manager
	cm.mu.Lock()
	if old != "" {
		cm.detachLocked(old, c)
	}
	if sessionID != "" {
		if cm.sessionConns[sessionID] == nil {
			cm.sessionConns[sessionID] = make(map[*Connection]bool)
		}
		cm.sessionConns[sessionID][c] = true
	}
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", c.ID).
		Str("role", string(c.Role)).
		Str("session_id", sessionID).
		Msg("connection attached to session")
}

// SendEvent queues one event to this connection, dropping it when the client
// cannot keep up.
func (c *Connection) SendEvent(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping event")
	}
}

// Broadcast fans an event out to every connection attached to a session.
func (cm *ConnectionManager) Broadcast(sessionID string, role Role, event *Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Role: role, Event: event}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections := cm.sessionConns[message.SessionID]
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		if message.Role != "" && conn.Role != message.Role {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		conn.SendEvent(message.Event)
	}
}

// Stats returns counts of active connections.
func (cm *ConnectionManager) Stats() (total int, sessions int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, conns := range cm.sessionConns {
		total += len(conns)
	}
	return total, len(cm.sessionConns)
}

func (cm *ConnectionManager) detachLocked(sessionID string, c *Connection) {
	if conns, ok := cm.sessionConns[sessionID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(cm.sessionConns, sessionID)
		}
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(c.doClose)
}

func (c *Connection) doClose() {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	cm := c.manager
	cm.mu.Lock()
	if sessionID != "" {
		cm.detachLocked(sessionID, c)
	}
	cm.mu.Unlock()

	if c.onClose != nil {
		c.onClose()
	}
	c.conn.Close()

	log.Info().
		Str("connection_id", c.ID).
		Str("role", string(c.Role)).
		Msg("connection closed")
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.SendEvent(NewEvent(EventError, ErrorPayload{Message: "malformed command"}))
			continue
		}
		if c.onCommand != nil {
			c.onCommand(cmd)
		}
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
