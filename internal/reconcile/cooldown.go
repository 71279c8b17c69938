package reconcile

import (
	"sync"
	"time"
)

// Cooldown suppresses repeat notifications for the same token within a
// window, independent of event identity. State is memory only; after a
// restart every token is eligible again, which costs at most one extra
// notification per token.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Active reports whether tokenID was marked less than one window before
// now. A token never marked is not cooling down.
func (c *Cooldown) Active(tokenID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.last[tokenID]
	if !ok {
		return false
	}
	return now.Sub(at) < c.window
}

// Mark opens the suppression window for tokenID. Call only when an event
// for that token was accepted.
func (c *Cooldown) Mark(tokenID string, now time.Time) {
	c.mu.Lock()
	c.last[tokenID] = now
	c.mu.Unlock()
}
