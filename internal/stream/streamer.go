package stream

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/ports"
	"github.com/javaarchive/togetherfin/internal/manifest"
	"github.com/javaarchive/togetherfin/pkg/crypto"
	apperrors "github.com/javaarchive/togetherfin/pkg/errors"

	"go.uber.org/zap"
)

// State is a streamer's lifecycle phase.
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

const playlistContentType = "application/vnd.apple.mpegurl"

// Streamer mirrors one profile of one item into the room. It owns the
// rewriter for its manifests, keeps the published window around the
// playhead, and coalesces concurrent fetches of the same content id.
type Streamer struct {
	item          domain.PlayableItem
	profile       domain.Profile
	playSessionID string

	upstream  ports.UpstreamSource
	publisher ports.RelayPublisher
	rewriter  *manifest.Rewriter
	logger    *zap.SugaredLogger

	state    atomic.Int32
	masterID domain.ContentID

	mu        sync.Mutex
	pending   map[domain.ContentID]chan struct{}
	published map[domain.ContentID]bool
}

func NewStreamer(item domain.PlayableItem, profile domain.Profile, playSessionID string, upstream ports.UpstreamSource, publisher ports.RelayPublisher, logger *zap.SugaredLogger) *Streamer {
	return &Streamer{
		item:          item,
		profile:       profile,
		playSessionID: playSessionID,
		upstream:      upstream,
		publisher:     publisher,
		rewriter:      manifest.NewRewriter(logger),
		logger:        logger,
		pending:       make(map[domain.ContentID]chan struct{}),
		published:     make(map[domain.ContentID]bool),
	}
}

func (s *Streamer) State() State {
	return State(s.state.Load())
}

// MasterID is the content id of the rewritten master playlist, valid after
// Init succeeds.
func (s *Streamer) MasterID() domain.ContentID {
	return s.masterID
}

// Init fetches and rewrites the master playlist, publishes it, then does the
// same for every media playlist and init segment it references. Only after
// all manifest-class content is resident does the streamer go active.
func (s *Streamer) Init(ctx context.Context) error {
	if s.State() == StateCancelled {
		return domain.ErrStreamerCancelled
	}

	req := ports.ManifestRequest{
		ItemID:        s.item.ItemID,
		MediaSourceID: s.item.MediaSourceID,
		PlaySessionID: s.playSessionID,
		AudioTrack:    s.item.AudioTrack,
		SubtitleTrack: s.item.SubtitleTrack,
		Profile:       s.profile,
		Master:        true,
	}

	text, base, err := s.upstream.FetchManifest(ctx, req)
	if err != nil {
		return err
	}

	rewritten, err := s.rewriter.Rewrite(text, base)
	if err != nil {
		return err
	}

	s.masterID = domain.ContentID(domain.SpecialPrefix + crypto.HashString(base.String()))
	if err := s.publisher.Publish(ctx, s.masterID, []byte(rewritten), playlistContentType); err != nil {
		return err
	}
	s.markPublished(s.masterID)

	for _, id := range s.rewriter.SpecialIDs() {
		if err := s.Fetch(ctx, id); err != nil {
			return err
		}
		if s.State() == StateCancelled {
			return domain.ErrStreamerCancelled
		}
	}

	s.state.Store(int32(StateActive))
	s.logger.Infow("streamer active",
		"profile", s.profile.Name,
		"item", s.item.Name,
		"master_id", s.masterID,
	)
	return nil
}

// Cancel stops all further publishing. In-flight fetches complete but a
// cancelled streamer publishes nothing new from EnsureWindow.
func (s *Streamer) Cancel() {
	s.state.Store(int32(StateCancelled))
}

// EnsureWindow publishes every segment whose [start,end) interval
// intersects the closed window [positionMs-pastMs, positionMs+futureMs].
// A segment ending exactly at the window start is already behind the
// playhead and excluded. Published segments that fell out of the window
// are forgotten locally so the relay's FIFO eviction and this set stay
// roughly in step.
func (s *Streamer) EnsureWindow(ctx context.Context, positionMs, pastMs, futureMs int64) error {
	if s.State() != StateActive {
		return nil
	}

	winStart := float64(positionMs-pastMs) / 1000.0
	winEnd := float64(positionMs+futureMs) / 1000.0

	segments := s.rewriter.Segments()

	s.mu.Lock()
	for id := range s.published {
		if id.Special() {
			continue
		}
		inWindow := false
		for _, seg := range segments {
			if seg.ID == id && seg.StartSec <= winEnd && seg.EndSec > winStart {
				inWindow = true
				break
			}
		}
		if !inWindow {
			delete(s.published, id)
		}
	}
	s.mu.Unlock()

	for _, seg := range segments {
		if seg.StartSec > winEnd || seg.EndSec <= winStart {
			continue
		}
		if err := s.Fetch(ctx, seg.ID); err != nil {
			// one bad segment must not starve the rest of the window
			s.logger.Warnw("segment publish failed", "content_id", seg.ID, "error", err)
		}
		if s.State() == StateCancelled {
			return domain.ErrStreamerCancelled
		}
	}
	return nil
}

// Fetch publishes the content id if it is not already resident. Concurrent
// calls for the same id coalesce onto a single upstream request.
func (s *Streamer) Fetch(ctx context.Context, id domain.ContentID) error {
	if s.State() == StateCancelled {
		return domain.ErrStreamerCancelled
	}

	s.mu.Lock()
	if s.published[id] {
		s.mu.Unlock()
		return nil
	}
	if waitCh, inFlight := s.pending[id]; inFlight {
		s.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		ok := s.published[id]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("coalesced fetch of %s failed", id)
		}
		return nil
	}
	done := make(chan struct{})
	s.pending[id] = done
	s.mu.Unlock()

	err := s.fetchAndPublish(ctx, id)

	s.mu.Lock()
	delete(s.pending, id)
	if err == nil {
		s.published[id] = true
	}
	s.mu.Unlock()
	close(done)

	return err
}

// fetchAndPublish pulls the private URL for a content id, reruns playlist
// bodies through the rewriter so nested references stay opaque, and
// publishes the result.
func (s *Streamer) fetchAndPublish(ctx context.Context, id domain.ContentID) error {
	privateURL, ok := s.rewriter.PrivateURL(id)
	if !ok {
		return apperrors.NewNotFoundError("content id")
	}

	body, contentType, err := s.upstream.FetchBytes(ctx, privateURL)
	if err != nil {
		return err
	}

	if manifest.IsPlaylistContentType(contentType) {
		base, err := url.Parse(privateURL)
		if err != nil {
			return fmt.Errorf("failed to parse private url: %w", err)
		}
		rewritten, err := s.rewriter.Rewrite(string(body), base)
		if err != nil {
			return err
		}
		body = []byte(rewritten)
		contentType = playlistContentType
	} else {
		body = AddVttTimeMap(body, contentType)
	}

	return s.publisher.Publish(ctx, id, body, contentType)
}

func (s *Streamer) markPublished(id domain.ContentID) {
	s.mu.Lock()
	s.published[id] = true
	s.mu.Unlock()
}

// Segments exposes the accumulated timeline, mainly for window decisions by
// the session.
func (s *Streamer) Segments() []manifest.SegmentInfo {
	return s.rewriter.Segments()
}
