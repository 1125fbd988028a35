package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // rooms are keyed by secrets, not origins
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SessionVerifier validates session credentials and room existence for the
// upgrade operation.
type SessionVerifier interface {
	VerifySessionKey(tokenString string) (*domain.RoomClaim, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}

// HostCapability is the explicit role token a connection earns through a
// successful upgrade. Broadcast privilege is checked against this token,
// never inferred from channel membership at call time.
type HostCapability struct {
	RoomID domain.RoomID
}

// Message is the wire envelope in both directions.
type Message struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	RoomID string `json:"room_id"`
}

type upgradePayload struct {
	SessionKey string `json:"session_key"`
}

type sendToPayload struct {
	TargetID string          `json:"target_id"`
	Payload  json.RawMessage `json:"payload"`
}

type connection struct {
	id         string
	ws         *websocket.Conn
	roomID     domain.RoomID
	capability *HostCapability
	send       chan []byte
	closeOnce  sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.ws.Close()
	})
}

// enqueue drops the message if the client's send buffer is full; a slow
// guest must not stall the room.
func (c *connection) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// WebSocketServer is the room-scoped realtime channel. It relays opaque
// ciphertext between members and never inspects payloads.
type WebSocketServer struct {
	verifier SessionVerifier

	mu    sync.RWMutex
	conns map[string]*connection
	rooms map[domain.RoomID]map[string]*connection

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(verifier SessionVerifier, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		verifier:     verifier,
		conns:        make(map[string]*connection),
		rooms:        make(map[domain.RoomID]map[string]*connection),
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// SetPongTimeout sets pong timeout for WebSocket connections
func (s *WebSocketServer) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	conn := &connection{
		id:   uuid.New().String(),
		ws:   ws,
		send: make(chan []byte, 64),
	}

	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()

	s.logger.Infow("connection opened", "conn_id", conn.id)

	go s.writePump(conn)

	ws.SetReadDeadline(time.Now().Add(s.pongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Message, 16)
	errorChan := make(chan error, 1)
	readerDone := make(chan struct{})
	defer close(readerDone)

	go func() {
		for {
			var msg Message
			if err := ws.ReadJSON(&msg); err != nil {
				select {
				case errorChan <- err:
				case <-readerDone:
				}
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.pongTimeout))
			// the select loop may have exited on a ping failure with the
			// buffer full; a plain send would pin this goroutine forever
			select {
			case messageChan <- msg:
			case <-readerDone:
				return
			}
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			s.handleMessage(r.Context(), conn, msg)

		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.Infow("error sending ping", "conn_id", conn.id, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "conn_id", conn.id, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.removeConnection(conn)
	s.logger.Infow("connection closed", "conn_id", conn.id)
}

func (s *WebSocketServer) writePump(conn *connection) {
	for data := range conn.send {
		conn.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, conn *connection, msg Message) {
	switch msg.Type {
	case "join":
		s.handleJoin(ctx, conn, msg)
	case "upgrade":
		s.handleUpgrade(ctx, conn, msg)
	case "broadcast":
		s.handleBroadcast(conn, msg)
	case "send_host":
		s.handleSendHost(conn, msg)
	case "send_to":
		s.handleSendTo(conn, msg)
	default:
		s.sendEvent(conn, Message{Type: "error", Data: mustJSON("unknown message type")})
	}
}

// handleJoin adds the connection as a plain member. Joining needs only the
// room id.
func (s *WebSocketServer) handleJoin(ctx context.Context, conn *connection, msg Message) {
	var payload joinPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.RoomID == "" {
		s.sendEvent(conn, Message{Type: "join_error", Data: mustJSON("room_id is required")})
		return
	}

	roomID := domain.RoomID(payload.RoomID)
	if _, err := s.verifier.GetRoom(ctx, roomID); err != nil {
		s.sendEvent(conn, Message{Type: "join_error", Data: mustJSON("room not found")})
		return
	}

	s.joinRoom(conn, roomID, nil)
	s.sendEvent(conn, Message{Type: "joined", Data: msg.Data})
}

// handleUpgrade promotes the connection to the host channel after verifying
// the session credential's signature, issuer and room ownership.
func (s *WebSocketServer) handleUpgrade(ctx context.Context, conn *connection, msg Message) {
	var payload upgradePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.SessionKey == "" {
		s.sendEvent(conn, Message{Type: "upgrade_error", Data: mustJSON("session_key is required")})
		return
	}

	claim, err := s.verifier.VerifySessionKey(payload.SessionKey)
	if err != nil {
		s.logger.Warnw("upgrade failed: bad session key", "conn_id", conn.id, "error", err)
		s.sendEvent(conn, Message{Type: "upgrade_error", Data: mustJSON("session key rejected")})
		return
	}

	roomID := domain.RoomID(claim.ID)
	room, err := s.verifier.GetRoom(ctx, roomID)
	if err != nil {
		s.sendEvent(conn, Message{Type: "upgrade_error", Data: mustJSON("room not found")})
		return
	}
	if room.Owner != "" && room.Owner != claim.Owner {
		s.logger.Warnw("upgrade failed: ownership mismatch", "conn_id", conn.id, "room_id", roomID)
		s.sendEvent(conn, Message{Type: "upgrade_error", Data: mustJSON("room is not owned by you")})
		return
	}

	s.joinRoom(conn, roomID, &HostCapability{RoomID: roomID})
	s.logger.Infow("connection upgraded to host", "conn_id", conn.id, "room_id", roomID)
	s.sendEvent(conn, Message{Type: "upgrade_ok"})
}

// handleBroadcast fans a ciphertext message out to every room member.
// A connection without the host capability is silently dropped: the sender
// is potentially misbehaving, so it gets a log line rather than feedback.
func (s *WebSocketServer) handleBroadcast(conn *connection, msg Message) {
	s.mu.RLock()
	capability := conn.capability
	roomID := conn.roomID
	s.mu.RUnlock()

	if capability == nil || capability.RoomID != roomID {
		s.logger.Warnw("broadcast attempted without host capability", "conn_id", conn.id, "room_id", roomID)
		return
	}

	s.fanOut(roomID, Message{Type: "broadcast", Data: msg.Data}, "")
}

// handleSendHost forwards a member message up to the room's host channel.
func (s *WebSocketServer) handleSendHost(conn *connection, msg Message) {
	s.mu.RLock()
	roomID := conn.roomID
	var hosts []*connection
	for _, member := range s.rooms[roomID] {
		if member.capability != nil {
			hosts = append(hosts, member)
		}
	}
	s.mu.RUnlock()

	if roomID == "" {
		return
	}

	data, err := json.Marshal(Message{Type: "send_host", From: conn.id, Data: msg.Data})
	if err != nil {
		return
	}
	for _, host := range hosts {
		host.enqueue(data)
	}
}

// handleSendTo lets the host address one member directly.
func (s *WebSocketServer) handleSendTo(conn *connection, msg Message) {
	var payload sendToPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return
	}

	s.mu.RLock()
	capability := conn.capability
	roomID := conn.roomID
	target, ok := s.conns[payload.TargetID]
	targetInRoom := ok && target.roomID == roomID
	s.mu.RUnlock()

	if capability == nil || capability.RoomID != roomID || !targetInRoom {
		s.logger.Warnw("send_to rejected", "conn_id", conn.id, "target_id", payload.TargetID)
		return
	}

	data, err := json.Marshal(Message{Type: "host_message", Data: payload.Payload})
	if err != nil {
		return
	}
	target.enqueue(data)
}

// NotifyFilePut informs every member that a content ID became available in
// the room's store. Guests waiting on that ID resolve their wait here.
func (s *WebSocketServer) NotifyFilePut(roomID domain.RoomID, key domain.ContentID) {
	payload, err := json.Marshal(domain.FilePutEvent{Key: key})
	if err != nil {
		return
	}
	s.fanOut(roomID, Message{Type: "file_put", Data: payload}, "")
}

// ConnectionCount reports live connections, for health checks.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *WebSocketServer) joinRoom(conn *connection, roomID domain.RoomID, capability *HostCapability) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn.roomID != "" && conn.roomID != roomID {
		if members, ok := s.rooms[conn.roomID]; ok {
			delete(members, conn.id)
			if len(members) == 0 {
				delete(s.rooms, conn.roomID)
			}
		}
		conn.capability = nil
	}

	conn.roomID = roomID
	if capability != nil {
		conn.capability = capability
	}

	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[string]*connection)
		s.rooms[roomID] = members
	}
	members[conn.id] = conn
}

func (s *WebSocketServer) removeConnection(conn *connection) {
	s.mu.Lock()
	delete(s.conns, conn.id)
	if members, ok := s.rooms[conn.roomID]; ok {
		delete(members, conn.id)
		if len(members) == 0 {
			delete(s.rooms, conn.roomID)
		}
	}
	s.mu.Unlock()

	conn.close()
}

func (s *WebSocketServer) fanOut(roomID domain.RoomID, msg Message, excludeID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	members := make([]*connection, 0, len(s.rooms[roomID]))
	for id, member := range s.rooms[roomID] {
		if id != excludeID {
			members = append(members, member)
		}
	}
	s.mu.RUnlock()

	for _, member := range members {
		if !member.enqueue(data) {
			s.logger.Debugw("dropped message for slow member", "conn_id", member.id)
		}
	}
}

func (s *WebSocketServer) sendEvent(conn *connection, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	conn.enqueue(data)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return data
}
