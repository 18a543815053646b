package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenVerifier resolves a bearer token to a user ID.
type TokenVerifier interface {
	Verify(token string) (userID string, ok bool)
}

// DeliveryResult counts what happened to one fan-out. Delivered is the number of
// connections the envelope was queued on; Evicted is how many connections were
// dropped because they could not take it. Zero delivered is a normal outcome.
type DeliveryResult struct {
	Delivered int
	Evicted   int
}

func (r *DeliveryResult) add(o DeliveryResult) {
	r.Delivered += o.Delivered
	r.Evicted += o.Evicted
}

// Stats is a point-in-time view used by health checks.
type Stats struct {
	Connections int `json:"connections"`
	OnlineUsers int `json:"onlineUsers"`
}

// Hub owns every live connection in the process and is the only path by which
// events reach clients.
type Hub struct {
	opts     Options
	registry *Registry
	presence *PresenceTracker
	monitor  *HeartbeatMonitor
	metrics  *Metrics
	verifier TokenVerifier
	audience AudienceResolver
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders admissions against Shutdown.
	mu      sync.Mutex
	closing atomic.Bool
	wg      sync.WaitGroup
}

func NewHub(opts Options, verifier TokenVerifier, audience AudienceResolver, logger *zap.Logger) *Hub {
	opts = opts.withDefaults()
	if audience == nil {
		audience = NoAudience{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:     opts,
		registry: NewRegistry(),
		metrics:  NewMetrics(),
		verifier: verifier,
		audience: audience,
		logger:   logger.With(zap.String("component", "hub")),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.presence = newPresenceTracker(h.registry.IsOnline, h, h.metrics)
	h.monitor = newHeartbeatMonitor(h.registry, h.evict, opts.Clock, opts.HeartbeatInterval, opts.HeartbeatTimeout, h.logger)
	return h
}

// Run drives the liveness monitor until ctx is cancelled or Shutdown is called.
func (h *Hub) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, h.cancel)
	defer stop()

	h.logger.Info("hub running",
		zap.Duration("heartbeat_interval", h.opts.HeartbeatInterval),
		zap.Duration("heartbeat_timeout", h.opts.HeartbeatTimeout))
	h.monitor.Run(h.ctx)
	h.logger.Info("hub stopped")
	return nil
}

// Shutdown refuses new handshakes, closes every connection with a going-away
// frame and waits for the write pumps to exit or ctx to expire. No presence
// announcements are made for connections closed here.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	already := h.closing.Swap(true)
	h.mu.Unlock()
	if already {
		return nil
	}

	conns := h.registry.Snapshot()
	for _, c := range conns {
		c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
		h.evict(c, reasonShutdown)
	}
	h.cancel()
	h.logger.Info("hub shutting down", zap.Int("connections", len(conns)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics exposes the hub's collectors.
func (h *Hub) Metrics() *Metrics { return h.metrics }

// Registry exposes the connection registry for read-only queries.
func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

func (h *Hub) ConnectionCount(userID string) int {
	return h.registry.ConnectionCount(userID)
}

func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.registry.Count(),
		OnlineUsers: len(h.registry.OnlineUsers()),
	}
}

// OnlineAmong returns the subset of userIDs that are currently online, in input
// order and without duplicates.
func (h *Hub) OnlineAmong(userIDs []string) []string {
	online := make([]string, 0, len(userIDs))
	for _, id := range dedupe(userIDs, "") {
		if h.registry.IsOnline(id) {
			online = append(online, id)
		}
	}
	return online
}

// SendToUser queues env on every connection userID holds. Connections that
// cannot take it are evicted and the rest still receive it.
func (h *Hub) SendToUser(userID string, env Envelope) DeliveryResult {
	frame, err := EncodeEnvelope(env)
	if err != nil {
		h.logger.Error("drop envelope", zap.String("user_id", userID), zap.Error(err))
		return DeliveryResult{}
	}
	return h.deliver(userID, env.Event, frame)
}

// BroadcastToSet sends env to each distinct user in userIDs.
func (h *Hub) BroadcastToSet(userIDs []string, env Envelope) DeliveryResult {
	return h.broadcast(dedupe(userIDs, ""), env)
}

// NotifyUserOnline tells userID's audience whether userID is online.
func (h *Hub) NotifyUserOnline(ctx context.Context, userID string, isOnline bool) DeliveryResult {
	audience, err := h.audience.FriendsOf(ctx, userID)
	if err != nil {
		h.logger.Warn("resolve presence audience",
			zap.String("user_id", userID), zap.Bool("online", isOnline), zap.Error(err))
		return DeliveryResult{}
	}

	env := NewEnvelope(EventPresence, PresenceData{
		UserID:    userID,
		IsOnline:  isOnline,
		Timestamp: h.opts.Clock.Now().UTC(),
	})
	res := h.broadcast(dedupe(audience, userID), env)
	h.logger.Debug("presence announced",
		zap.String("user_id", userID), zap.Bool("online", isOnline), zap.Int("delivered", res.Delivered))
	return res
}

// NotifyTyping relays a typing indicator to the conversation's participants,
// never back to the typist.
func (h *Hub) NotifyTyping(conversationID, fromUserID, fromName string, participantIDs []string) DeliveryResult {
	env := NewEnvelope(EventTyping, TypingData{
		ConversationID: conversationID,
		UserID:         fromUserID,
		UserName:       fromName,
	})
	return h.broadcast(dedupe(participantIDs, fromUserID), env)
}

func (h *Hub) broadcast(userIDs []string, env Envelope) DeliveryResult {
	var res DeliveryResult
	if len(userIDs) == 0 {
		return res
	}
	frame, err := EncodeEnvelope(env)
	if err != nil {
		h.logger.Error("drop envelope", zap.String("event", env.Event.String()), zap.Error(err))
		return res
	}
	for _, id := range userIDs {
		res.add(h.deliver(id, env.Event, frame))
	}
	return res
}

func (h *Hub) deliver(userID string, event EventType, frame []byte) DeliveryResult {
	var res DeliveryResult
	for _, c := range h.registry.ConnectionsFor(userID) {
		if err := c.enqueue(frame); err != nil {
			h.logger.Debug("enqueue failed",
				zap.String("user_id", userID), zap.String("conn_id", c.id), zap.Error(err))
			if h.evict(c, reasonSendFailure) {
				res.Evicted++
			}
			continue
		}
		h.metrics.envelopeDelivered(event)
		res.Delivered++
	}
	return res
}

// sendTo queues env on c alone, evicting c if it cannot take it.
func (h *Hub) sendTo(c *Connection, env Envelope) bool {
	if err := c.Send(env); err != nil {
		h.logger.Debug("send failed", zap.String("conn_id", c.id), zap.Error(err))
		h.evict(c, reasonSendFailure)
		return false
	}
	h.metrics.envelopeDelivered(env.Event)
	return true
}

// admit registers c, starts its write pump and queues the connected envelope
// ahead of anything a producer can send. It reports false once the hub is
// shutting down.
func (h *Hub) admit(c *Connection) bool {
	h.mu.Lock()
	if h.closing.Load() || h.ctx.Err() != nil {
		h.mu.Unlock()
		return false
	}
	h.wg.Add(1)
	go h.writePump(c)

	_ = c.Send(NewEnvelope(EventConnected, ConnectedData{
		UserID:       c.userID,
		ConnectionID: c.id,
		Message:      "connected",
	}))
	h.metrics.envelopeDelivered(EventConnected)
	count := h.registry.Register(c)
	h.mu.Unlock()

	h.metrics.connectionAdded(count == 1)
	h.logger.Info("connection registered",
		zap.String("user_id", c.userID), zap.String("conn_id", c.id), zap.Int("user_connections", count))

	if count == 1 {
		h.presence.OnConnectionAdded(h.ctx, c.userID)
	}
	return true
}

// evict is the single terminal path for a connection. Only the call that
// actually removes c from the registry re-evaluates presence, and it reports
// true.
func (h *Hub) evict(c *Connection, reason string) bool {
	c.Close()
	removed, remaining := h.registry.Unregister(c)
	if !removed {
		return false
	}

	h.metrics.connectionRemoved(reason, remaining == 0)
	h.logger.Info("connection removed",
		zap.String("user_id", c.userID), zap.String("conn_id", c.id),
		zap.String("reason", reason), zap.Int("user_connections", remaining))

	if remaining == 0 && !h.closing.Load() && h.ctx.Err() == nil {
		h.presence.OnConnectionRemoved(h.ctx, c.userID)
	}
	return true
}

// writePump is the only writer of data frames on c.
func (h *Hub) writePump(c *Connection) {
	defer h.wg.Done()
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				h.logger.Debug("write failed", zap.String("conn_id", c.id), zap.Error(err))
				h.evict(c, reasonSendFailure)
				return
			}
		case <-c.done:
			return
		case <-h.ctx.Done():
			h.evict(c, reasonShutdown)
			return
		}
	}
}

// dedupe drops blanks, repeats and exclude, keeping first-seen order.
func dedupe(ids []string, exclude string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
