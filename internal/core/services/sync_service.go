package services

import (
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/ports"

	"go.uber.org/zap"
)

// Drift thresholds. Corrections below threshold are deliberately skipped:
// constant micro-seeks cause visible stutter, a bounded drift window does
// not.
const (
	MaxDriftMs       = 5000
	MaxDriftPausedMs = 2000
)

// SyncService implements both halves of the leader/follower clock protocol:
// the host-side state computation and the guest-side reconciliation.
type SyncService struct {
	maxDriftMs       int64
	maxDriftPausedMs int64
	logger           *zap.SugaredLogger
}

func NewSyncService(maxDrift, maxDriftPaused time.Duration, logger *zap.SugaredLogger) *SyncService {
	s := &SyncService{
		maxDriftMs:       maxDrift.Milliseconds(),
		maxDriftPausedMs: maxDriftPaused.Milliseconds(),
		logger:           logger,
	}
	if s.maxDriftMs <= 0 {
		s.maxDriftMs = MaxDriftMs
	}
	if s.maxDriftPausedMs <= 0 {
		s.maxDriftPausedMs = MaxDriftPausedMs
	}
	return s
}

// HostState computes the authoritative snapshot from the host player. When
// playing, mediaBaseTime is the wall-clock instant corresponding to media
// position zero.
func (s *SyncService) HostState(paused bool, positionMs int64, now time.Time) domain.PlaybackState {
	state := domain.PlaybackState{Paused: paused, CurrentTimeMs: positionMs}
	if !paused {
		state.MediaBaseTimeMs = now.UnixMilli() - positionMs
	}
	return state
}

// ReconcileResult describes what a guest-side reconciliation did.
type ReconcileResult struct {
	ToggledPause bool
	DriftMs      int64
	Seeked       bool
	SeekToMs     int64
}

// Reconcile applies a host snapshot to a local player. Pause state is
// matched first; then drift against the expected position is measured and a
// hard seek issued only past the threshold for the current mode.
func (s *SyncService) Reconcile(state domain.PlaybackState, player ports.Player, now time.Time) ReconcileResult {
	var res ReconcileResult

	if player.Paused() != state.Paused {
		if state.Paused {
			player.Pause()
		} else {
			player.Play()
		}
		res.ToggledPause = true
	}

	var desiredMs int64
	var thresholdMs int64
	if state.Paused {
		desiredMs = state.CurrentTimeMs
		thresholdMs = s.maxDriftPausedMs
	} else {
		desiredMs = now.UnixMilli() - state.MediaBaseTimeMs
		thresholdMs = s.maxDriftMs
	}

	res.DriftMs = player.PositionMs() - desiredMs
	if res.DriftMs < 0 {
		res.DriftMs = -res.DriftMs
	}

	if res.DriftMs > thresholdMs {
		// Hard seek: stop segment loading so stale requests are dropped,
		// move the clock, resume loading.
		player.StopLoad()
		player.SeekMs(desiredMs)
		player.StartLoad()
		res.Seeked = true
		res.SeekToMs = desiredMs
		s.logger.Debugw("drift correction",
			"drift_ms", res.DriftMs,
			"seek_to_ms", desiredMs,
			"paused", state.Paused,
		)
	}

	return res
}
