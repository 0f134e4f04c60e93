package dedup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is how long a message stays eligible for processing after
// it was sent, and how long processed message ids are remembered.
const DefaultWindow = 60 * time.Second

// Gate suppresses duplicate, stale and rapid-fire messages. Admit answers
// whether a message may enter the pipeline; Commit records a message once
// it has produced a response, which marks it processed and stamps the
// user's cooldown. Messages that never produce a response are not
// committed, so they do not burn the user's cooldown.
type Gate struct {
	window time.Duration
	log    *zap.Logger

	mu          sync.Mutex
	seen        map[int]time.Time   // message id -> commit time
	last        map[int64]time.Time // user id -> last response time
	maxCooldown time.Duration
}

// NewGate creates a gate with the given staleness window.
func NewGate(window time.Duration, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		window: window,
		log:    log,
		seen:   make(map[int]time.Time),
		last:   make(map[int64]time.Time),
	}
}

// Admit reports whether the message may be processed: it must not have
// been processed before, must not be older than the staleness window, and
// the sender must be outside their cooldown. Now is passed explicitly so
// decisions are reproducible.
func (g *Gate) Admit(messageID int, userID int64, sentAt, now time.Time, cooldown time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[messageID]; ok {
		return false
	}
	if now.Sub(sentAt) > g.window {
		g.log.Debug("Ignoring stale message",
			zap.Int("message_id", messageID),
			zap.Duration("age", now.Sub(sentAt)))
		return false
	}
	if cooldown > g.maxCooldown {
		g.maxCooldown = cooldown
	}
	if cooldown > 0 {
		if lastAt, ok := g.last[userID]; ok && now.Sub(lastAt) < cooldown {
			g.log.Debug("User on cooldown", zap.Int64("user_id", userID))
			return false
		}
	}
	return true
}

// Commit marks the message processed and stamps the sender's cooldown.
// Call it only for messages that produced an effective rewrite.
func (g *Gate) Commit(messageID int, userID int64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[messageID] = now
	g.last[userID] = now
}

// Len returns the number of remembered message ids.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Run sweeps expired entries until ctx is cancelled, keeping both maps
// bounded.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(time.Now())
		}
	}
}

// sweep drops message ids past the staleness window, which can never be
// admitted again, and cooldown stamps too old to suppress anything.
func (g *Gate) sweep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, at := range g.seen {
		if now.Sub(at) > g.window {
			delete(g.seen, id)
		}
	}
	horizon := g.window
	if g.maxCooldown > horizon {
		horizon = g.maxCooldown
	}
	for user, at := range g.last {
		if now.Sub(at) > horizon {
			delete(g.last, user)
		}
	}
}
