package domain

// PlaybackState is the host-authoritative clock snapshot. When playing,
// MediaBaseTimeMs is the wall-clock epoch instant corresponding to media
// position zero (now - position). When paused, CurrentTimeMs holds the
// frozen position and MediaBaseTimeMs is not meaningful.
type PlaybackState struct {
	Paused          bool  `json:"paused"`
	CurrentTimeMs   int64 `json:"currentTime"`
	MediaBaseTimeMs int64 `json:"mediaBaseTime"`
}

// PositionAt returns the media position in milliseconds the host expects at
// wall-clock time nowMs, clamped to durationMs when duration is known.
func (p PlaybackState) PositionAt(nowMs, durationMs int64) int64 {
	if p.Paused {
		return p.CurrentTimeMs
	}
	pos := nowMs - p.MediaBaseTimeMs
	if pos < 0 {
		pos = 0
	}
	if durationMs > 0 && pos > durationMs {
		pos = durationMs
	}
	return pos
}

// SyncPayload is the full state snapshot broadcast by the host. Snapshots
// are idempotent: a receiver applies whichever arrived last. Tick is a
// monotonically increasing counter letting guests drop stale snapshots.
type SyncPayload struct {
	Root        *RootListing  `json:"root,omitempty"`
	CurrentItem *PlayingItem  `json:"currentItem,omitempty"`
	Playback    PlaybackState `json:"playback"`
}

// SyncMessage is the envelope that travels, encrypted, through the room.
type SyncMessage struct {
	Type string      `json:"type"`
	Tick uint64      `json:"tick"`
	Data SyncPayload `json:"data"`
}

// SyncMessageType is the Type value of a sync snapshot.
const SyncMessageType = "sync"
