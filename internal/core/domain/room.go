package domain

import "strings"

// RoomID is the routable, non-secret identifier of a watch-party session.
type RoomID string

// ContentID is the deterministic hash of an absolute private URI, used as an
// opaque, credential-free reference through the relay.
type ContentID string

// SpecialPrefix marks manifest-class content IDs (playlists, root listing,
// init segments). Special entries live in the durable store tier and are
// exempt from window eviction.
const SpecialPrefix = "_"

// Special reports whether the ID belongs to the durable store channel.
func (id ContentID) Special() bool {
	return strings.HasPrefix(string(id), SpecialPrefix)
}

// Channel names a relay store tier.
type Channel string

const (
	ChannelSpecial Channel = "special"
	ChannelDefault Channel = "default"
)

// ChannelOf maps a content ID to its store tier.
func ChannelOf(id ContentID) Channel {
	if id.Special() {
		return ChannelSpecial
	}
	return ChannelDefault
}

// Room is the relay-side view of a session. The relay never learns the
// symmetric key; the challenge is ciphertext participants use to prove key
// possession by decrypting it.
type Room struct {
	ID        RoomID
	Challenge string
	Owner     string
}

// RoomClaim is the payload of a signed session credential.
type RoomClaim struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

// Profile is a named target quality. One Streamer is instantiated per
// profile per currently-playing item.
type Profile struct {
	Name         string `json:"name"`
	MaxWidth     int    `json:"maxWidth"`
	VideoBitRate int    `json:"videoBitRate"`
	AudioCodec   string `json:"audioCodec,omitempty"`
	AudioBitRate int    `json:"audioBitRate,omitempty"`
}

// PlayableItem references an upstream library item plus the chosen media
// source and tracks. Host-only; never leaves the host process unsanitized.
type PlayableItem struct {
	ItemID        string
	MediaSourceID string
	AudioTrack    int
	SubtitleTrack int // -1 when no subtitle track is selected
	Name          string
	Year          int
	DurationSec   float64
}

// PlayingItem is the broadcast-safe projection of a PlayableItem. SourceID
// is a one-way hash of the private media source identifier.
type PlayingItem struct {
	Name        string  `json:"name"`
	Year        int     `json:"year"`
	DurationSec float64 `json:"durationSeconds"`
	SourceID    string  `json:"sourceID"`
}

// ProfileRef points a guest at one profile's rewritten master playlist.
type ProfileRef struct {
	Name string    `json:"name"`
	ID   ContentID `json:"id"`
}

// RootListing is the current profile listing published to the room as the
// special "_root" file.
type RootListing struct {
	Profiles []ProfileRef `json:"profiles"`
}

// RootKey is the well-known content ID of the room's profile listing.
const RootKey ContentID = "_root"
