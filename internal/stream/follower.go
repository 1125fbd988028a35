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
	apperrors "github.com/javaarchive/togetherfin/pkg/errors"

	"go.uber.org/zap"
)

// Follower is the guest-side engine. It decrypts host broadcasts, applies
// snapshots to the local player through the sync service, and serves content
// fetches with a bounded wait for files the host has not published yet.
type Follower struct {
	roomKey     string
	relay       *RelayClient
	syncSvc     *services.SyncService
	player      ports.Player
	waitTimeout time.Duration
	logger      *zap.SugaredLogger

	mu          sync.Mutex
	lastTick    uint64
	root        *domain.RootListing
	currentItem *domain.PlayingItem
	waiters     map[domain.ContentID][]chan struct{}
}

func NewFollower(roomKey string, relay *RelayClient, syncSvc *services.SyncService, player ports.Player, waitTimeout time.Duration, logger *zap.SugaredLogger) *Follower {
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &Follower{
		roomKey:     roomKey,
		relay:       relay,
		syncSvc:     syncSvc,
		player:      player,
		waitTimeout: waitTimeout,
		logger:      logger,
		waiters:     make(map[domain.ContentID][]chan struct{}),
	}
}

// Root returns the last root listing received from the host.
func (f *Follower) Root() *domain.RootListing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.root
}

// CurrentItem returns the host's currently playing item, if any.
func (f *Follower) CurrentItem() *domain.PlayingItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentItem
}

// HandleEvent consumes one room event. Host broadcasts carry ciphertext;
// file_put notifications are plaintext metadata from the relay itself.
func (f *Follower) HandleEvent(ev domain.Event, now time.Time) {
	switch ev.Kind {
	case domain.EventHostMessage, domain.EventSync:
		if err := f.handleBroadcast(ev.Raw, now); err != nil {
			f.logger.Warnw("broadcast rejected", "error", err)
		}
	case domain.EventFilePut:
		if ev.FilePut != nil {
			f.notifyFilePut(ev.FilePut.Key)
		}
	}
}

// handleBroadcast decrypts and applies one host snapshot. Snapshots with a
// tick at or below the last applied one are stale and dropped: delivery
// order is not guaranteed end to end.
func (f *Follower) handleBroadcast(ciphertext []byte, now time.Time) error {
	plaintext, err := crypto.DecryptFromBuffer(ciphertext, f.roomKey)
	if err != nil {
		return err
	}

	var msg domain.SyncMessage
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		return err
	}
	if msg.Type != domain.SyncMessageType {
		return nil
	}

	f.mu.Lock()
	if msg.Tick <= f.lastTick {
		f.mu.Unlock()
		f.logger.Debugw("stale snapshot dropped", "tick", msg.Tick, "last_tick", f.lastTick)
		return nil
	}
	f.lastTick = msg.Tick
	if msg.Data.Root != nil {
		f.root = msg.Data.Root
	}
	if msg.Data.CurrentItem != nil {
		f.currentItem = msg.Data.CurrentItem
	}
	f.mu.Unlock()

	f.syncSvc.Reconcile(msg.Data.Playback, f.player, now)
	return nil
}

// GetChunk fetches and decrypts a content id from the relay. When the file
// is not there yet, the follower waits for a file_put notification up to the
// configured timeout; segments just outside the host's publish window
// usually arrive within a tick or two.
func (f *Follower) GetChunk(ctx context.Context, id domain.ContentID) ([]byte, string, error) {
	deadline := time.Now().Add(f.waitTimeout)

	for {
		// The waiter must be registered before the fetch: a file_put that
		// fans out while the GET is in flight would otherwise be lost and
		// the wait would run its full window for a resident file.
		arrived := f.waitFor(id)

		data, contentType, err := f.relay.GetFile(ctx, id)
		if err == nil {
			f.dropWaiter(id, arrived)
			return data, contentType, nil
		}
		if !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			f.dropWaiter(id, arrived)
			return nil, "", err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			f.dropWaiter(id, arrived)
			return nil, "", apperrors.NewTimeoutError("timed out waiting for content to be published")
		}

		timer := time.NewTimer(remaining)
		select {
		case <-arrived:
			timer.Stop()
		case <-timer.C:
			f.dropWaiter(id, arrived)
			return nil, "", apperrors.NewTimeoutError("timed out waiting for content to be published")
		case <-ctx.Done():
			timer.Stop()
			f.dropWaiter(id, arrived)
			return nil, "", ctx.Err()
		}
	}
}

func (f *Follower) waitFor(id domain.ContentID) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.waiters[id] = append(f.waiters[id], ch)
	f.mu.Unlock()
	return ch
}

func (f *Follower) dropWaiter(id domain.ContentID, ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.waiters[id]
	for i, w := range list {
		if w == ch {
			f.waiters[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(f.waiters[id]) == 0 {
		delete(f.waiters, id)
	}
}

func (f *Follower) notifyFilePut(id domain.ContentID) {
	f.mu.Lock()
	list := f.waiters[id]
	delete(f.waiters, id)
	f.mu.Unlock()

	for _, ch := range list {
		close(ch)
	}
}
