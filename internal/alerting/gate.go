package alerting

import (
	"context"
	"sync"
	"time"
)

// Gate forwards notifications that carry enough failures, at most once per
// cooldown.
type Gate struct {
	notifier    Notifier
	minFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewGate wraps notifier.
func NewGate(notifier Notifier, minFailures int, cooldown time.Duration) *Gate {
	if minFailures < 1 {
		minFailures = 1
	}
	return &Gate{
		notifier:    notifier,
		minFailures: minFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Notify sends note when it qualifies and reports whether it was sent.
func (g *Gate) Notify(ctx context.Context, note Notification) (bool, error) {
	if g == nil || g.notifier == nil || len(note.Failures) < g.minFailures {
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.last.IsZero() && g.cooldown > 0 && now.Sub(g.last) < g.cooldown {
		return false, nil
	}
	if err := g.notifier.Notify(ctx, note); err != nil {
		return false, err
	}
	g.last = now
	return true, nil
}
