package stream

import (
	"sync"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/ports"
)

// ClockPlayer is a headless player driven by the wall clock. The host agent
// has no media element of its own; it advances a virtual playhead that the
// room's guests follow.
type ClockPlayer struct {
	mu     sync.Mutex
	paused bool
	baseMs int64 // wall-clock ms of position zero, valid while playing
	posMs  int64 // frozen position, valid while paused
}

var _ ports.Player = (*ClockPlayer)(nil)

// NewClockPlayer starts paused at position zero.
func NewClockPlayer() *ClockPlayer {
	return &ClockPlayer{paused: true}
}

func (p *ClockPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *ClockPlayer) PositionMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return p.posMs
	}
	return time.Now().UnixMilli() - p.baseMs
}

func (p *ClockPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.baseMs = time.Now().UnixMilli() - p.posMs
	p.paused = false
}

func (p *ClockPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.posMs = time.Now().UnixMilli() - p.baseMs
	p.paused = true
}

func (p *ClockPlayer) SeekMs(positionMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if positionMs < 0 {
		positionMs = 0
	}
	if p.paused {
		p.posMs = positionMs
		return
	}
	p.baseMs = time.Now().UnixMilli() - positionMs
}

// StopLoad and StartLoad exist for players that stream segments; a virtual
// clock has nothing to interrupt.
func (p *ClockPlayer) StopLoad()  {}
func (p *ClockPlayer) StartLoad() {}
