package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/services"
	"github.com/javaarchive/togetherfin/pkg/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeBroadcaster collects broadcast ciphertexts.
type fakeBroadcaster struct {
	mu    sync.Mutex
	sends [][]byte
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, ciphertext []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, append([]byte(nil), ciphertext...))
	return nil
}

func (b *fakeBroadcaster) all() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.sends...)
}

func newTestSession(t *testing.T, upstream *fakeUpstream, publisher *fakePublisher, broadcaster *fakeBroadcaster) (*Session, *ClockPlayer) {
	t.Helper()
	syncSvc := services.NewSyncService(5*time.Second, 2*time.Second, zaptest.NewLogger(t).Sugar())
	player := NewClockPlayer()
	session := NewSession(SessionConfig{
		Profiles:     []domain.Profile{{Name: "1080p", MaxWidth: 1920}, {Name: "720p", MaxWidth: 1280}},
		PastBuffer:   15 * time.Second,
		FutureBuffer: 60 * time.Second,
		TickInterval: 500 * time.Millisecond,
		RoomKey:      testRoomKey,
	}, upstream, publisher, broadcaster, syncSvc, player, zaptest.NewLogger(t).Sugar())
	return session, player
}

func TestSessionPlayPublishesRoot(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	session, _ := newTestSession(t, upstream, publisher, &fakeBroadcaster{})

	item := domain.PlayableItem{ItemID: "item", MediaSourceID: "src-1", SubtitleTrack: -1, Name: "Movie", Year: 2020, DurationSec: 7200}
	require.NoError(t, session.Play(context.Background(), item))

	rootBlob := publisher.blobs[domain.RootKey]
	require.NotNil(t, rootBlob, "root listing must be published under the well-known key")

	var root domain.RootListing
	require.NoError(t, json.Unmarshal(rootBlob, &root))
	require.Len(t, root.Profiles, 2)
	for _, ref := range root.Profiles {
		assert.True(t, ref.ID.Special())
		assert.NotNil(t, publisher.blobs[ref.ID], "each profile's master playlist must be resident")
	}
}

func TestSessionTickBroadcastsEncryptedState(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	broadcaster := &fakeBroadcaster{}
	session, player := newTestSession(t, upstream, publisher, broadcaster)

	item := domain.PlayableItem{ItemID: "item", MediaSourceID: "src-1", SubtitleTrack: -1, Name: "Movie", Year: 2020, DurationSec: 7200}
	require.NoError(t, session.Play(context.Background(), item))
	player.Pause()
	player.SeekMs(30_000)

	require.NoError(t, session.Tick(context.Background(), time.Now()))
	require.NoError(t, session.Tick(context.Background(), time.Now()))

	sends := broadcaster.all()
	require.Len(t, sends, 2)

	var ticks []uint64
	for _, ciphertext := range sends {
		plaintext, err := crypto.DecryptFromBuffer(ciphertext, testRoomKey)
		require.NoError(t, err, "broadcasts must decrypt under the room key")

		var msg domain.SyncMessage
		require.NoError(t, json.Unmarshal(plaintext, &msg))
		assert.Equal(t, domain.SyncMessageType, msg.Type)
		ticks = append(ticks, msg.Tick)

		require.NotNil(t, msg.Data.CurrentItem)
		assert.Equal(t, "Movie", msg.Data.CurrentItem.Name)
		// the raw media source id never travels; only its hash does
		assert.NotEqual(t, "src-1", msg.Data.CurrentItem.SourceID)
		assert.Equal(t, crypto.HashString("src-1"), msg.Data.CurrentItem.SourceID)

		assert.True(t, msg.Data.Playback.Paused)
		assert.Equal(t, int64(30_000), msg.Data.Playback.CurrentTimeMs)
	}

	assert.Less(t, ticks[0], ticks[1], "tick counter must increase monotonically")
}

func TestSessionTickClampsPositionToDuration(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	broadcaster := &fakeBroadcaster{}
	session, player := newTestSession(t, upstream, publisher, broadcaster)

	item := domain.PlayableItem{ItemID: "item", MediaSourceID: "src-1", SubtitleTrack: -1, Name: "Short", DurationSec: 60}
	require.NoError(t, session.Play(context.Background(), item))
	player.Pause()
	player.SeekMs(90_000)

	require.NoError(t, session.Tick(context.Background(), time.Now()))

	sends := broadcaster.all()
	require.Len(t, sends, 1)
	plaintext, err := crypto.DecryptFromBuffer(sends[0], testRoomKey)
	require.NoError(t, err)

	var msg domain.SyncMessage
	require.NoError(t, json.Unmarshal(plaintext, &msg))
	assert.Equal(t, int64(60_000), msg.Data.Playback.CurrentTimeMs,
		"broadcast position must not run past the end of the item")
}

func TestSessionQueue(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	session, _ := newTestSession(t, upstream, publisher, &fakeBroadcaster{})

	assert.Error(t, session.PlayNext(context.Background()), "empty queue cannot play")

	session.Enqueue(domain.PlayableItem{ItemID: "a", MediaSourceID: "sa", SubtitleTrack: -1, Name: "First"})
	session.Enqueue(domain.PlayableItem{ItemID: "b", MediaSourceID: "sb", SubtitleTrack: -1, Name: "Second"})
	require.Len(t, session.Queue(), 2)

	require.NoError(t, session.PlayNext(context.Background()))
	assert.Len(t, session.Queue(), 1)
	assert.Equal(t, "Second", session.Queue()[0].Name)
}

func TestClockPlayer(t *testing.T) {
	player := NewClockPlayer()
	assert.True(t, player.Paused())
	assert.Equal(t, int64(0), player.PositionMs())

	player.SeekMs(60_000)
	assert.Equal(t, int64(60_000), player.PositionMs())

	player.Play()
	assert.False(t, player.Paused())
	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, player.PositionMs(), int64(60_000))

	player.Pause()
	frozen := player.PositionMs()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, player.PositionMs())

	player.SeekMs(-5)
	assert.Equal(t, int64(0), player.PositionMs())
}
