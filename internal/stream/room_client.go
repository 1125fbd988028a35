package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wireMessage mirrors the relay's realtime envelope.
type wireMessage struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RoomClient is the websocket connection into a room. A guest joins with
// just the room id; the host additionally upgrades with its session key to
// earn broadcast rights. It implements ports.Broadcaster.
type RoomClient struct {
	endpoint   string
	roomID     domain.RoomID
	sessionKey string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan domain.Event

	closeOnce sync.Once
	done      chan struct{}
}

var _ ports.Broadcaster = (*RoomClient)(nil)

// NewRoomClient builds a client for the relay at baseURL. sessionKey may be
// empty for plain guests.
func NewRoomClient(baseURL string, roomID domain.RoomID, sessionKey string, logger *zap.SugaredLogger) (*RoomClient, error) {
	endpoint, err := websocketEndpoint(baseURL)
	if err != nil {
		return nil, err
	}
	return &RoomClient{
		endpoint:   endpoint,
		roomID:     roomID,
		sessionKey: sessionKey,
		logger:     logger,
		events:     make(chan domain.Event, 64),
		done:       make(chan struct{}),
	}, nil
}

func websocketEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/ws"
	return u.String(), nil
}

// Connect dials the relay, joins the room, and upgrades when a session key
// is present. The read loop starts feeding Events after this returns.
func (c *RoomClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	joinData, err := json.Marshal(map[string]string{"room_id": string(c.roomID)})
	if err != nil {
		return err
	}
	if err := c.send(wireMessage{Type: "join", Data: joinData}); err != nil {
		return err
	}

	if c.sessionKey != "" {
		upgradeData, err := json.Marshal(map[string]string{"session_key": c.sessionKey})
		if err != nil {
			return err
		}
		if err := c.send(wireMessage{Type: "upgrade", Data: upgradeData}); err != nil {
			return err
		}
	}

	go c.readLoop(conn)
	return nil
}

// Events is the stream of room events: host broadcasts, file_put
// notifications and direct host messages.
func (c *RoomClient) Events() <-chan domain.Event {
	return c.events
}

// Broadcast sends ciphertext to every room member. The relay rejects this
// silently unless the connection holds the host capability.
func (c *RoomClient) Broadcast(_ context.Context, ciphertext []byte) error {
	data, err := json.Marshal(base64.StdEncoding.EncodeToString(ciphertext))
	if err != nil {
		return err
	}
	return c.send(wireMessage{Type: "broadcast", Data: data})
}

// SendHost forwards an opaque payload up to the room's host.
func (c *RoomClient) SendHost(payload []byte) error {
	data, err := json.Marshal(base64.StdEncoding.EncodeToString(payload))
	if err != nil {
		return err
	}
	return c.send(wireMessage{Type: "send_host", Data: data})
}

// Close tears the connection down and closes the event stream.
func (c *RoomClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}

func (c *RoomClient) send(msg wireMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *RoomClient) readLoop(conn *websocket.Conn) {
	defer close(c.events)

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warnw("room connection lost", "error", err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *RoomClient) dispatch(msg wireMessage) {
	switch msg.Type {
	case "broadcast", "host_message":
		raw, ok := decodePayload(msg.Data)
		if !ok {
			c.logger.Warnw("undecodable broadcast payload dropped")
			return
		}
		c.emit(domain.Event{Kind: domain.EventHostMessage, Raw: raw})

	case "send_host":
		raw, ok := decodePayload(msg.Data)
		if !ok {
			return
		}
		c.emit(domain.Event{Kind: domain.EventHostMessage, Raw: raw})

	case "file_put":
		var put domain.FilePutEvent
		if err := json.Unmarshal(msg.Data, &put); err != nil {
			return
		}
		c.emit(domain.Event{Kind: domain.EventFilePut, FilePut: &put})

	case "joined", "upgrade_ok":
		c.logger.Infow("room handshake step complete", "type", msg.Type)

	case "join_error", "upgrade_error", "error":
		c.logger.Warnw("relay reported an error", "type", msg.Type, "detail", string(msg.Data))
	}
}

// decodePayload unwraps the base64 JSON string carrying ciphertext.
func decodePayload(data json.RawMessage) ([]byte, bool) {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (c *RoomClient) emit(ev domain.Event) {
	select {
	case c.events <- ev:
	default:
		// a stalled consumer loses events rather than blocking the read loop
		c.logger.Debugw("event dropped", "kind", ev.Kind.String())
	}
}
