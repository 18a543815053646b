package websocket

import (
	"context"
	"sync"
)

// AudienceResolver names the users who should hear about userID's presence.
type AudienceResolver interface {
	FriendsOf(ctx context.Context, userID string) ([]string, error)
}

// NoAudience announces presence to nobody.
type NoAudience struct{}

func (NoAudience) FriendsOf(context.Context, string) ([]string, error) { return nil, nil }

// AudienceFunc adapts a plain function to AudienceResolver.
type AudienceFunc func(ctx context.Context, userID string) ([]string, error)

func (f AudienceFunc) FriendsOf(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

type presenceNotifier interface {
	NotifyUserOnline(ctx context.Context, userID string, isOnline bool) DeliveryResult
}

// PresenceTracker turns registry transitions into at most one announcement per
// change of state. It remembers what it last announced for each user and
// compares that with the registry, so a second device never re-announces online
// and a racing connect/disconnect settles on the registry's final answer.
//
// Only one goroutine emits for a given user at a time. A caller that finds an
// emission in flight returns immediately; the emitting goroutine re-reads the
// registry after each announcement and sends again if the state moved.
type PresenceTracker struct {
	mu        sync.Mutex
	announced map[string]bool
	emitting  map[string]bool

	online  func(userID string) bool
	notify  presenceNotifier
	metrics *Metrics
}

func newPresenceTracker(online func(string) bool, notify presenceNotifier, metrics *Metrics) *PresenceTracker {
	return &PresenceTracker{
		announced: make(map[string]bool),
		emitting:  make(map[string]bool),
		online:    online,
		notify:    notify,
		metrics:   metrics,
	}
}

// OnConnectionAdded is called when userID goes from zero to one connection.
func (p *PresenceTracker) OnConnectionAdded(ctx context.Context, userID string) {
	p.reconcile(ctx, userID)
}

// OnConnectionRemoved is called when userID's last connection is removed.
func (p *PresenceTracker) OnConnectionRemoved(ctx context.Context, userID string) {
	p.reconcile(ctx, userID)
}

// Announced reports the last state sent for userID.
func (p *PresenceTracker) Announced(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.announced[userID]
}

func (p *PresenceTracker) reconcile(ctx context.Context, userID string) {
	p.mu.Lock()
	if p.emitting[userID] {
		p.mu.Unlock()
		return
	}
	p.emitting[userID] = true

	for {
		now := p.online(userID)
		if now == p.announced[userID] {
			delete(p.emitting, userID)
			p.mu.Unlock()
			return
		}
		if now {
			p.announced[userID] = true
		} else {
			delete(p.announced, userID)
		}
		p.mu.Unlock()

		// Emission can evict other connections and re-enter the tracker, so no
		// lock is held here.
		p.metrics.presenceAnnounced(now)
		p.notify.NotifyUserOnline(ctx, userID, now)

		p.mu.Lock()
	}
}
