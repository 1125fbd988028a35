package services

import (
	"testing"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

// fakePlayer records the calls a reconciliation makes.
type fakePlayer struct {
	paused     bool
	positionMs int64

	playCalls  int
	pauseCalls int
	seeks      []int64
	stopLoads  int
	startLoads int
}

func (p *fakePlayer) Paused() bool      { return p.paused }
func (p *fakePlayer) PositionMs() int64 { return p.positionMs }
func (p *fakePlayer) Play()             { p.playCalls++; p.paused = false }
func (p *fakePlayer) Pause()            { p.pauseCalls++; p.paused = true }
func (p *fakePlayer) SeekMs(ms int64)   { p.seeks = append(p.seeks, ms); p.positionMs = ms }
func (p *fakePlayer) StopLoad()         { p.stopLoads++ }
func (p *fakePlayer) StartLoad()        { p.startLoads++ }

func newSyncService(t *testing.T) *SyncService {
	return NewSyncService(5*time.Second, 2*time.Second, zaptest.NewLogger(t).Sugar())
}

func TestHostStatePlaying(t *testing.T) {
	svc := newSyncService(t)
	now := time.UnixMilli(1_000_000)

	state := svc.HostState(false, 100_000, now)

	assert.False(t, state.Paused)
	assert.Equal(t, int64(900_000), state.MediaBaseTimeMs)
	assert.Equal(t, int64(100_000), state.PositionAt(now.UnixMilli(), 0))
}

func TestHostStatePaused(t *testing.T) {
	svc := newSyncService(t)
	now := time.UnixMilli(1_000_000)

	state := svc.HostState(true, 42_000, now)

	assert.True(t, state.Paused)
	assert.Equal(t, int64(42_000), state.CurrentTimeMs)
	assert.Equal(t, int64(42_000), state.PositionAt(now.UnixMilli()+60_000, 0))
}

func TestReconcileSeeksPastThreshold(t *testing.T) {
	svc := newSyncService(t)
	now := time.UnixMilli(1_000_000)

	// host expects position 106000, guest sits at 100000: 6s drift
	player := &fakePlayer{positionMs: 100_000}
	state := domain.PlaybackState{MediaBaseTimeMs: now.UnixMilli() - 106_000}

	res := svc.Reconcile(state, player, now)

	assert.Equal(t, int64(6_000), res.DriftMs)
	assert.True(t, res.Seeked)
	assert.Equal(t, int64(106_000), res.SeekToMs)
	assert.Equal(t, []int64{106_000}, player.seeks)
	// hard seeks bracket the position change with a load stop/start
	assert.Equal(t, 1, player.stopLoads)
	assert.Equal(t, 1, player.startLoads)
}

func TestReconcileToleratesSmallDrift(t *testing.T) {
	svc := newSyncService(t)
	now := time.UnixMilli(1_000_000)

	// 3s drift while playing stays under the 5s threshold
	player := &fakePlayer{positionMs: 100_000}
	state := domain.PlaybackState{MediaBaseTimeMs: now.UnixMilli() - 103_000}

	res := svc.Reconcile(state, player, now)

	assert.Equal(t, int64(3_000), res.DriftMs)
	assert.False(t, res.Seeked)
	assert.Empty(t, player.seeks)
}

func TestReconcilePausedUsesTighterThreshold(t *testing.T) {
	svc := newSyncService(t)
	now := time.UnixMilli(1_000_000)

	// 3s drift would be fine while playing, but paused tolerance is 2s
	player := &fakePlayer{paused: true, positionMs: 50_000}
	state := domain.PlaybackState{Paused: true, CurrentTimeMs: 53_000}

	res := svc.Reconcile(state, player, now)

	assert.True(t, res.Seeked)
	assert.Equal(t, int64(53_000), res.SeekToMs)
}

func TestReconcileMatchesPauseState(t *testing.T) {
	svc := newSyncService(t)
	now := time.UnixMilli(1_000_000)

	player := &fakePlayer{paused: false, positionMs: 10_000}
	state := domain.PlaybackState{Paused: true, CurrentTimeMs: 10_000}

	res := svc.Reconcile(state, player, now)

	assert.True(t, res.ToggledPause)
	assert.Equal(t, 1, player.pauseCalls)
	assert.False(t, res.Seeked)
}

func TestReconcileResumesPlayback(t *testing.T) {
	svc := newSyncService(t)
	now := time.UnixMilli(1_000_000)

	player := &fakePlayer{paused: true, positionMs: 10_000}
	state := domain.PlaybackState{MediaBaseTimeMs: now.UnixMilli() - 10_500}

	res := svc.Reconcile(state, player, now)

	assert.True(t, res.ToggledPause)
	assert.Equal(t, 1, player.playCalls)
	assert.False(t, res.Seeked)
}
