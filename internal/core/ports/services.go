package ports

import (
	"context"
	"net/url"

	"github.com/javaarchive/togetherfin/internal/core/domain"
)

// ManifestRequest identifies one playlist fetch against the upstream media
// service.
type ManifestRequest struct {
	ItemID        string
	MediaSourceID string
	PlaySessionID string
	AudioTrack    int
	SubtitleTrack int
	Profile       domain.Profile
	Master        bool
}

// UpstreamSource is the credentialed media service collaborator. The core
// needs nothing beyond manifest text and raw bytes for private URLs.
type UpstreamSource interface {
	// FetchManifest returns the playlist text and the absolute base URL
	// relative URIs inside it resolve against.
	FetchManifest(ctx context.Context, req ManifestRequest) (string, *url.URL, error)
	// FetchBytes performs an authenticated GET for a private URL and
	// returns the body plus its content type.
	FetchBytes(ctx context.Context, privateURL string) ([]byte, string, error)
}

// RelayPublisher mirrors host-side content into the room's relay store.
// Implementations encrypt before upload; the relay only ever holds
// ciphertext.
type RelayPublisher interface {
	Publish(ctx context.Context, id domain.ContentID, plaintext []byte, contentType string) error
}

// Broadcaster fans an encrypted message out to every room member. Only a
// connection holding the host capability may broadcast.
type Broadcaster interface {
	Broadcast(ctx context.Context, ciphertext []byte) error
}

// Player is the local media element a follower steers. Hard seeks bracket
// the position change with StopLoad/StartLoad so stale segment requests are
// dropped.
type Player interface {
	Paused() bool
	PositionMs() int64
	Play()
	Pause()
	SeekMs(positionMs int64)
	StopLoad()
	StartLoad()
}
