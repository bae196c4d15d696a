package catalog

import (
	"context"
	"sync"
)

// Gate is a cooperative pause/resume coordinator for catalog commits. The
// crawler and the downloader may run concurrently against the same source;
// each pauses the gate around its store commit and resumes it after, and
// waits while another writer holds a pause. The gate covers commit sections
// only: fetching, decoding and downloading proceed unpaused.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{} // closed while the gate is open
}

// NewGate returns an open gate.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{resumed: ch}
}

// Pause acquires the gate for a commit section, waiting (without spinning)
// while another writer holds it. Every successful Pause must be matched by
// a Resume.
func (g *Gate) Pause(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.paused {
			g.paused = true
			g.resumed = make(chan struct{})
			g.mu.Unlock()
			return nil
		}
		wait := g.resumed
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Resume reopens the gate, releasing all waiters.
func (g *Gate) Resume() {
	g.mu.Lock()
	if g.paused {
		g.paused = false
		close(g.resumed)
	}
	g.mu.Unlock()
}

// Wait blocks while a pause is active. Read-side snapshots (the crawl cursor
// seed, the downloader's work-set scan) call this so they do not read
// mid-commit state; commit writers use Pause/Resume exclusively.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	paused, wait := g.paused, g.resumed
	g.mu.Unlock()
	if !paused {
		return nil
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
