package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubVerifier accepts one fixed room and one fixed session key.
type stubVerifier struct {
	roomID     domain.RoomID
	owner      string
	sessionKey string
}

func (v *stubVerifier) VerifySessionKey(tokenString string) (*domain.RoomClaim, error) {
	if tokenString != v.sessionKey {
		return nil, domain.ErrNotHost
	}
	return &domain.RoomClaim{ID: string(v.roomID), Owner: v.owner}, nil
}

func (v *stubVerifier) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	if id != v.roomID {
		return nil, domain.ErrRoomNotFound
	}
	return &domain.Room{ID: v.roomID, Owner: v.owner}, nil
}

func newTestServer(t *testing.T) (*WebSocketServer, *httptest.Server, *stubVerifier) {
	t.Helper()

	verifier := &stubVerifier{
		roomID:     "movienight",
		owner:      "alice",
		sessionKey: "valid-session-key",
	}
	server := NewWebSocketServer(verifier, zaptest.NewLogger(t).Sugar())

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return server, ts, verifier
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, Data: data}))
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestJoinRoom(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, "join", map[string]string{"room_id": "movienight"})

	reply := read(t, conn)
	assert.Equal(t, "joined", reply.Type)
}

func TestJoinUnknownRoom(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, "join", map[string]string{"room_id": "ghost"})

	reply := read(t, conn)
	assert.Equal(t, "join_error", reply.Type)
}

func TestUpgradeWithValidSessionKey(t *testing.T) {
	_, ts, verifier := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, "upgrade", map[string]string{"session_key": verifier.sessionKey})

	reply := read(t, conn)
	assert.Equal(t, "upgrade_ok", reply.Type)
}

func TestUpgradeWithBadSessionKey(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, "upgrade", map[string]string{"session_key": "forged"})

	reply := read(t, conn)
	assert.Equal(t, "upgrade_error", reply.Type)
}

func TestHostBroadcastReachesMembers(t *testing.T) {
	_, ts, verifier := newTestServer(t)

	guest := dial(t, ts)
	send(t, guest, "join", map[string]string{"room_id": "movienight"})
	require.Equal(t, "joined", read(t, guest).Type)

	host := dial(t, ts)
	send(t, host, "upgrade", map[string]string{"session_key": verifier.sessionKey})
	require.Equal(t, "upgrade_ok", read(t, host).Type)

	send(t, host, "broadcast", "ciphertext-base64")

	// both the guest and the host itself receive the fan-out
	reply := read(t, guest)
	assert.Equal(t, "broadcast", reply.Type)

	var payload string
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.Equal(t, "ciphertext-base64", payload)
}

func TestGuestBroadcastIsSilentlyDropped(t *testing.T) {
	_, ts, _ := newTestServer(t)

	sender := dial(t, ts)
	send(t, sender, "join", map[string]string{"room_id": "movienight"})
	require.Equal(t, "joined", read(t, sender).Type)

	observer := dial(t, ts)
	send(t, observer, "join", map[string]string{"room_id": "movienight"})
	require.Equal(t, "joined", read(t, observer).Type)

	send(t, sender, "broadcast", "should-not-fan-out")

	// no fan-out and no error reply: the observer's read must time out
	observer.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg Message
	err := observer.ReadJSON(&msg)
	assert.Error(t, err, "expected no message, got %+v", msg)
}

func TestNotifyFilePut(t *testing.T) {
	server, ts, _ := newTestServer(t)

	guest := dial(t, ts)
	send(t, guest, "join", map[string]string{"room_id": "movienight"})
	require.Equal(t, "joined", read(t, guest).Type)

	// allow the join to settle into the room map before notifying
	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	server.NotifyFilePut("movienight", "_root")

	reply := read(t, guest)
	require.Equal(t, "file_put", reply.Type)

	var put domain.FilePutEvent
	require.NoError(t, json.Unmarshal(reply.Data, &put))
	assert.Equal(t, domain.ContentID("_root"), put.Key)
}

func TestReaderShutsDownAfterBurst(t *testing.T) {
	server, ts, _ := newTestServer(t)

	conn := dial(t, ts)
	send(t, conn, "join", map[string]string{"room_id": "movienight"})
	require.Equal(t, "joined", read(t, conn).Type)

	// pile messages into the reader faster than the loop can drain them,
	// then drop the connection; the server must still tear everything down
	for i := 0; i < 100; i++ {
		send(t, conn, "send_host", "noise")
	}
	conn.Close()

	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionCount(t *testing.T) {
	server, ts, _ := newTestServer(t)

	conn := dial(t, ts)
	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 0
	}, time.Second, 10*time.Millisecond)
}
