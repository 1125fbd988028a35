package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/ports"
	"github.com/javaarchive/togetherfin/internal/core/services"
	"github.com/javaarchive/togetherfin/pkg/crypto"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionConfig tunes the host agent's sync loop and publish window.
type SessionConfig struct {
	Profiles     []domain.Profile
	PastBuffer   time.Duration
	FutureBuffer time.Duration
	TickInterval time.Duration
	RoomKey      string
}

// Session is the host-side orchestrator: it runs the playback queue, keeps
// one streamer per profile alive for the current item, republishes the room
// root, and broadcasts the authoritative clock on a fixed cadence.
type Session struct {
	cfg         SessionConfig
	upstream    ports.UpstreamSource
	publisher   ports.RelayPublisher
	broadcaster ports.Broadcaster
	syncSvc     *services.SyncService
	player      ports.Player
	logger      *zap.SugaredLogger

	mu        sync.Mutex
	queue     []domain.PlayableItem
	current   *domain.PlayableItem
	streamers map[string]*Streamer
	root      *domain.RootListing
	tick      uint64

	stopOnce sync.Once
	stop     chan struct{}
}

func NewSession(cfg SessionConfig, upstream ports.UpstreamSource, publisher ports.RelayPublisher, broadcaster ports.Broadcaster, syncSvc *services.SyncService, player ports.Player, logger *zap.SugaredLogger) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	return &Session{
		cfg:         cfg,
		upstream:    upstream,
		publisher:   publisher,
		broadcaster: broadcaster,
		syncSvc:     syncSvc,
		player:      player,
		logger:      logger,
		streamers:   make(map[string]*Streamer),
		stop:        make(chan struct{}),
	}
}

// Enqueue appends an item to the playback queue.
func (s *Session) Enqueue(item domain.PlayableItem) {
	s.mu.Lock()
	s.queue = append(s.queue, item)
	s.mu.Unlock()
	s.logger.Infow("item enqueued", "item", item.Name)
}

// Queue returns a snapshot of the pending items.
func (s *Session) Queue() []domain.PlayableItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PlayableItem, len(s.queue))
	copy(out, s.queue)
	return out
}

// PlayNext pops the queue head and plays it.
func (s *Session) PlayNext(ctx context.Context) error {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return domain.ErrFileNotFound
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	return s.Play(ctx, item)
}

// Play tears down the streamers of the previous item, brings up one
// streamer per configured profile for the new one, and republishes the
// room root once all of them are active.
func (s *Session) Play(ctx context.Context, item domain.PlayableItem) error {
	s.mu.Lock()
	old := s.streamers
	s.streamers = make(map[string]*Streamer)
	s.current = &item
	s.mu.Unlock()

	for _, streamer := range old {
		streamer.Cancel()
	}

	playSessionID := uuid.New().String()
	next := make(map[string]*Streamer, len(s.cfg.Profiles))
	refs := make([]domain.ProfileRef, 0, len(s.cfg.Profiles))

	for _, profile := range s.cfg.Profiles {
		streamer := NewStreamer(item, profile, playSessionID, s.upstream, s.publisher, s.logger)
		if err := streamer.Init(ctx); err != nil {
			for _, started := range next {
				started.Cancel()
			}
			return err
		}
		next[profile.Name] = streamer
		refs = append(refs, domain.ProfileRef{Name: profile.Name, ID: streamer.MasterID()})
	}

	root := &domain.RootListing{Profiles: refs}

	s.mu.Lock()
	s.streamers = next
	s.root = root
	s.mu.Unlock()

	if err := s.publishRoot(ctx, root); err != nil {
		return err
	}

	s.player.SeekMs(0)
	s.player.Play()

	s.logger.Infow("now playing", "item", item.Name, "profiles", len(refs))
	return nil
}

// publishRoot mirrors the profile listing into the room under the
// well-known root key.
func (s *Session) publishRoot(ctx context.Context, root *domain.RootListing) error {
	plaintext, err := json.Marshal(root)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, domain.RootKey, plaintext, "application/json")
}

// Run drives the broadcast loop until the context ends or Stop is called.
// Every tick it snapshots the local player, broadcasts the encrypted state,
// and tops up each streamer's publish window around the playhead.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx, time.Now()); err != nil {
				s.logger.Warnw("tick failed", "error", err)
			}
		}
	}
}

// Tick performs one broadcast plus window maintenance pass.
func (s *Session) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	current := s.current
	root := s.root
	streamers := make([]*Streamer, 0, len(s.streamers))
	for _, streamer := range s.streamers {
		streamers = append(streamers, streamer)
	}
	s.tick++
	tick := s.tick
	s.mu.Unlock()

	// controlled time never runs past the end of the item
	positionMs := s.player.PositionMs()
	if current != nil && current.DurationSec > 0 {
		if durationMs := int64(current.DurationSec * 1000); positionMs > durationMs {
			positionMs = durationMs
		}
	}

	state := s.syncSvc.HostState(s.player.Paused(), positionMs, now)

	msg := domain.SyncMessage{
		Type: domain.SyncMessageType,
		Tick: tick,
		Data: domain.SyncPayload{
			Root:     root,
			Playback: state,
		},
	}
	if current != nil {
		msg.Data.CurrentItem = &domain.PlayingItem{
			Name:        current.Name,
			Year:        current.Year,
			DurationSec: current.DurationSec,
			SourceID:    crypto.HashString(current.MediaSourceID),
		}
	}

	plaintext, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ciphertext, err := crypto.EncryptToBuffer(plaintext, s.cfg.RoomKey)
	if err != nil {
		return err
	}
	if err := s.broadcaster.Broadcast(ctx, ciphertext); err != nil {
		return err
	}

	for _, streamer := range streamers {
		if err := streamer.EnsureWindow(ctx, positionMs, s.cfg.PastBuffer.Milliseconds(), s.cfg.FutureBuffer.Milliseconds()); err != nil {
			s.logger.Warnw("window maintenance failed", "error", err)
		}
	}
	return nil
}

// Stop halts the broadcast loop and cancels all streamers.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	streamers := s.streamers
	s.streamers = make(map[string]*Streamer)
	s.mu.Unlock()

	for _, streamer := range streamers {
		streamer.Cancel()
	}
}
