package stream

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:5
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:5.000,
seg0.ts
#EXTINF:5.000,
seg1.ts
#EXTINF:5.000,
seg2.ts
#EXTINF:5.000,
seg3.ts
#EXT-X-ENDLIST
`

// fakeUpstream serves a fixed playlist and counts byte fetches per URL.
type fakeUpstream struct {
	mu      sync.Mutex
	fetches map[string]int
	gate    chan struct{} // when set, FetchBytes blocks until closed
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{fetches: make(map[string]int)}
}

func (u *fakeUpstream) FetchManifest(_ context.Context, _ ports.ManifestRequest) (string, *url.URL, error) {
	base, _ := url.Parse("https://media.example/Videos/item/main.m3u8")
	return testPlaylist, base, nil
}

func (u *fakeUpstream) FetchBytes(_ context.Context, privateURL string) ([]byte, string, error) {
	u.mu.Lock()
	u.fetches[privateURL]++
	gate := u.gate
	u.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return []byte("segment-bytes"), "video/mp2t", nil
}

func (u *fakeUpstream) fetchCount(privateURL string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fetches[privateURL]
}

func (u *fakeUpstream) totalFetches() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	total := 0
	for _, n := range u.fetches {
		total += n
	}
	return total
}

// fakePublisher records published content ids in order.
type fakePublisher struct {
	mu        sync.Mutex
	published []domain.ContentID
	blobs     map[domain.ContentID][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{blobs: make(map[domain.ContentID][]byte)}
}

func (p *fakePublisher) Publish(_ context.Context, id domain.ContentID, plaintext []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, id)
	p.blobs[id] = plaintext
	return nil
}

func (p *fakePublisher) ids() []domain.ContentID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ContentID(nil), p.published...)
}

func newTestStreamer(t *testing.T, upstream *fakeUpstream, publisher *fakePublisher) *Streamer {
	t.Helper()
	item := domain.PlayableItem{ItemID: "item", MediaSourceID: "src", SubtitleTrack: -1, Name: "Movie"}
	profile := domain.Profile{Name: "1080p", MaxWidth: 1920}
	return NewStreamer(item, profile, "play-session", upstream, publisher, zaptest.NewLogger(t).Sugar())
}

func TestStreamerInitPublishesManifest(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	streamer := newTestStreamer(t, upstream, publisher)

	require.NoError(t, streamer.Init(context.Background()))

	assert.Equal(t, StateActive, streamer.State())
	require.True(t, streamer.MasterID().Special())

	blob := publisher.blobs[streamer.MasterID()]
	require.NotNil(t, blob)
	assert.Contains(t, string(blob), "opaque://")
	assert.NotContains(t, string(blob), "media.example")

	require.Len(t, streamer.Segments(), 4)
}

func TestStreamerWindowSelection(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	streamer := newTestStreamer(t, upstream, publisher)
	require.NoError(t, streamer.Init(context.Background()))

	segments := streamer.Segments()
	require.Len(t, segments, 4)

	// playhead at 10s, window [5s, 16s]: the first segment [0,5) ends at the
	// window start and must stay out; the other three are in
	require.NoError(t, streamer.EnsureWindow(context.Background(), 10_000, 5_000, 6_000))

	published := publisher.ids()
	assert.NotContains(t, published, segments[0].ID)
	assert.Contains(t, published, segments[1].ID)
	assert.Contains(t, published, segments[2].ID)
	assert.Contains(t, published, segments[3].ID)
}

func TestStreamerWindowIsIdempotentAcrossTicks(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	streamer := newTestStreamer(t, upstream, publisher)
	require.NoError(t, streamer.Init(context.Background()))

	require.NoError(t, streamer.EnsureWindow(context.Background(), 10_000, 5_000, 6_000))
	before := upstream.totalFetches()

	// same playhead, same window: nothing new to fetch
	require.NoError(t, streamer.EnsureWindow(context.Background(), 10_000, 5_000, 6_000))
	assert.Equal(t, before, upstream.totalFetches())
}

func TestStreamerFetchCoalescing(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	streamer := newTestStreamer(t, upstream, publisher)
	require.NoError(t, streamer.Init(context.Background()))

	seg := streamer.Segments()[0]
	private, ok := streamer.rewriter.PrivateURL(seg.ID)
	require.True(t, ok)

	gate := make(chan struct{})
	upstream.mu.Lock()
	upstream.gate = gate
	upstream.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = streamer.Fetch(context.Background(), seg.ID)
		}(i)
	}

	// wait until the first fetch is in flight, then release both
	require.Eventually(t, func() bool {
		return upstream.fetchCount(private) == 1
	}, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, upstream.fetchCount(private), "concurrent fetches must coalesce into one upstream request")
}

func TestStreamerCancelStopsPublishing(t *testing.T) {
	upstream := newFakeUpstream()
	publisher := newFakePublisher()
	streamer := newTestStreamer(t, upstream, publisher)
	require.NoError(t, streamer.Init(context.Background()))

	streamer.Cancel()
	assert.Equal(t, StateCancelled, streamer.State())

	before := upstream.totalFetches()
	require.NoError(t, streamer.EnsureWindow(context.Background(), 10_000, 5_000, 6_000))
	assert.Equal(t, before, upstream.totalFetches())

	seg := streamer.Segments()[0]
	assert.ErrorIs(t, streamer.Fetch(context.Background(), seg.ID), domain.ErrStreamerCancelled)
}

func TestAddVttTimeMap(t *testing.T) {
	vtt := "WEBVTT\n\n00:00.000 --> 00:05.000\nhello\n"
	out := string(AddVttTimeMap([]byte(vtt), "text/vtt"))
	assert.True(t, strings.Contains(out, "X-TIMESTAMP-MAP=MPEGTS:900000"))

	// already mapped bodies and non-VTT content pass through untouched
	assert.Equal(t, out, string(AddVttTimeMap([]byte(out), "text/vtt")))
	assert.Equal(t, "binary", string(AddVttTimeMap([]byte("binary"), "video/mp2t")))
}
