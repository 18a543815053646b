package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeRegistersAndGreets(t *testing.T) {
	h := newTestHub(t, nil)
	tr, conn := h.connect(t, "tok-u1")

	envs := tr.envelopes(t)
	require.NotEmpty(t, envs)
	assert.Equal(t, EventConnected, envs[0].Event, "connected is the first envelope")

	var data ConnectedData
	require.NoError(t, json.Unmarshal(envs[0].Data, &data))
	assert.Equal(t, "u1", data.UserID)
	assert.Equal(t, conn.ID(), data.ConnectionID)

	assert.True(t, h.IsOnline("u1"))
	assert.Equal(t, 1, h.ConnectionCount("u1"))
	assert.Equal(t, Stats{Connections: 1, OnlineUsers: 1}, h.Stats())

	eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.readLimit == DefaultOptions().MaxMessageSize
	})
}

func TestServeRejectsInvalidToken(t *testing.T) {
	h := newTestHub(t, nil)
	tr := newMockTransport()

	err := h.Serve(tr, "forged")
	assert.ErrorIs(t, err, ErrUnauthorized)

	envs := tr.eventsOf(t, EventError)
	require.Len(t, envs, 1)
	var data ErrorData
	require.NoError(t, json.Unmarshal(envs[0].Data, &data))
	assert.Equal(t, CodeUnauthorized, data.Code)

	closes := tr.controlsOf(websocket.CloseMessage)
	require.Len(t, closes, 1)
	assert.Equal(t, websocket.ClosePolicyViolation, closes[0].closeCode())
	assert.True(t, tr.isClosed())

	assert.Zero(t, h.Stats().Connections)
	assert.Empty(t, tr.eventsOf(t, EventConnected))
}

func TestSendToUserFansOutToEveryDevice(t *testing.T) {
	h := newTestHub(t, nil)
	tr1, _ := h.connect(t, "tok-u1")
	tr2, _ := h.connect(t, "tok-u1")

	res := h.SendToUser("u1", NewEnvelope(EventNewLike, LikeData{CatchID: "c9", Liker: Actor{ID: "u2", Name: "Bo"}}))
	assert.Equal(t, DeliveryResult{Delivered: 2}, res)

	for _, tr := range []*mockTransport{tr1, tr2} {
		tr := tr
		eventually(t, func() bool { return len(tr.eventsOf(t, EventNewLike)) == 1 })
	}
}

func TestSendToOfflineUserDeliversNothing(t *testing.T) {
	h := newTestHub(t, nil)
	assert.Equal(t, DeliveryResult{}, h.SendToUser("nobody", NewEnvelope(EventNewCatch, CatchSummary{CatchID: "c1"})))
}

func TestBroadcastToSetDeduplicates(t *testing.T) {
	h := newTestHub(t, nil)
	tr1, _ := h.connect(t, "tok-u1")
	h.connect(t, "tok-u2")

	res := h.BroadcastToSet([]string{"u1", "u2", "u1", "", "offline"}, NewEnvelope(EventNewCatch, CatchSummary{CatchID: "c1"}))
	assert.Equal(t, 2, res.Delivered)

	eventually(t, func() bool { return len(tr1.eventsOf(t, EventNewCatch)) == 1 })
	assert.Never(t, func() bool { return len(tr1.eventsOf(t, EventNewCatch)) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestPresenceIsEdgeTriggered(t *testing.T) {
	h := newTestHub(t, friendGraph{"u1": {"f1"}, "f1": {"u1"}})
	friend, _ := h.connect(t, "tok-f1")

	presence := func() []PresenceData {
		var out []PresenceData
		for _, env := range friend.eventsOf(t, EventPresence) {
			var p PresenceData
			require.NoError(t, json.Unmarshal(env.Data, &p))
			if p.UserID == "u1" {
				out = append(out, p)
			}
		}
		return out
	}

	d1, _ := h.connect(t, "tok-u1")
	eventually(t, func() bool { return len(presence()) == 1 })
	assert.True(t, presence()[0].IsOnline)

	d2, _ := h.connect(t, "tok-u1")
	assert.Never(t, func() bool { return len(presence()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	d1.hangUp()
	eventually(t, func() bool { return h.ConnectionCount("u1") == 1 })
	assert.Never(t, func() bool { return len(presence()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	d2.hangUp()
	eventually(t, func() bool { return len(presence()) == 2 })
	assert.False(t, presence()[1].IsOnline)
	assert.False(t, h.IsOnline("u1"))
}

func TestMultiDeviceScenario(t *testing.T) {
	h := newTestHub(t, friendGraph{"u1": {"u2"}})
	c1, conn1 := h.connect(t, "tok-u1")
	_, conn2 := h.connect(t, "tok-u1")
	assert.Equal(t, 2, h.ConnectionCount("u1"))

	res := h.SendToUser("u2", NewEnvelope(EventNewCatch, CatchSummary{CatchID: "c1", AuthorID: "u1"}))
	assert.Zero(t, res.Delivered)

	c1.hangUp()
	eventually(t, func() bool { return h.ConnectionCount("u1") == 1 })
	assert.Equal(t, []*Connection{conn2}, h.Registry().ConnectionsFor("u1"))
	assert.True(t, h.IsOnline("u1"))
	assert.True(t, h.presence.Announced("u1"))
	assert.NotSame(t, conn1, conn2)
}

func TestTypingExcludesSender(t *testing.T) {
	h := newTestHub(t, nil)
	sender, _ := h.connect(t, "tok-u1")
	peer, _ := h.connect(t, "tok-u2")

	sender.push(t, map[string]any{
		"event": "message",
		"data": map[string]any{
			"type":           "typing",
			"conversationId": "conv-1",
			"userName":       "Ann",
			"participantIds": []string{"u1", "u2"},
		},
	})

	eventually(t, func() bool { return len(peer.eventsOf(t, EventTyping)) == 1 })
	var data TypingData
	require.NoError(t, json.Unmarshal(peer.eventsOf(t, EventTyping)[0].Data, &data))
	assert.Equal(t, TypingData{ConversationID: "conv-1", UserID: "u1", UserName: "Ann"}, data)
	assert.Empty(t, sender.eventsOf(t, EventTyping))
}

func TestTypingAcceptsMobileFrame(t *testing.T) {
	h := newTestHub(t, nil)
	sender, _ := h.connect(t, "tok-u1")
	peer, _ := h.connect(t, "tok-u2")

	sender.push(t, map[string]any{
		"type": "typing",
		"data": map[string]any{
			"conversationId": "conv-2",
			"userName":       "Ann",
			"participantIds": []string{"u1", "u2"},
		},
	})

	eventually(t, func() bool { return len(peer.eventsOf(t, EventTyping)) == 1 })
	var data TypingData
	require.NoError(t, json.Unmarshal(peer.eventsOf(t, EventTyping)[0].Data, &data))
	assert.Equal(t, TypingData{ConversationID: "conv-2", UserID: "u1", UserName: "Ann"}, data)
	assert.Zero(t, testutil.ToFloat64(h.Metrics().dropped.WithLabelValues(dropInvalid)))
}

func TestPingRepliesToOriginOnly(t *testing.T) {
	h := newTestHub(t, nil)
	phone, _ := h.connect(t, "tok-u1")
	tablet, _ := h.connect(t, "tok-u1")

	phone.push(t, map[string]any{"event": "message", "data": map[string]any{"type": "ping"}})
	eventually(t, func() bool { return len(phone.eventsOf(t, EventPong)) == 1 })
	assert.Empty(t, tablet.eventsOf(t, EventPong))
}

func TestBadFramesAreDropped(t *testing.T) {
	h := newTestHub(t, nil)
	tr, _ := h.connect(t, "tok-u1")

	tr.inbound <- []byte("{not json")
	tr.push(t, map[string]any{"type": "dance"})
	tr.push(t, map[string]any{"type": "typing", "conversationId": "c1"})
	tr.push(t, map[string]any{"type": "ping"})

	eventually(t, func() bool { return len(tr.eventsOf(t, EventPong)) == 1 })
	assert.True(t, h.IsOnline("u1"))

	dropped := h.Metrics().dropped
	assert.Equal(t, 1.0, testutil.ToFloat64(dropped.WithLabelValues(dropMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(dropped.WithLabelValues(dropUnknownType)))
	assert.Equal(t, 1.0, testutil.ToFloat64(dropped.WithLabelValues(dropInvalid)))
}

func TestLargeTypingFrameFitsReadLimit(t *testing.T) {
	h := newTestHub(t, nil)
	sender, _ := h.connect(t, "tok-u1")
	peer, _ := h.connect(t, "tok-u2")

	participants := []string{"u2"}
	for i := 0; i < 500; i++ {
		participants = append(participants, fmt.Sprintf("angler-%08d-%08d", i, i))
	}
	sender.push(t, map[string]any{
		"type": "typing",
		"data": map[string]any{"conversationId": "group", "userName": "Ann", "participantIds": participants},
	})

	eventually(t, func() bool { return len(peer.eventsOf(t, EventTyping)) == 1 })
	assert.True(t, h.IsOnline("u1"))
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	h := newTestHub(t, friendGraph{"u1": {"f1"}}, func(o *Options) { o.MaxMessageSize = 128 })
	friend, _ := h.connect(t, "tok-f1")
	tr, _ := h.connect(t, "tok-u1")
	eventually(t, func() bool { return len(friend.eventsOf(t, EventPresence)) == 1 })

	tr.push(t, map[string]any{"type": "typing", "conversationId": strings.Repeat("x", 256)})

	eventually(t, func() bool { return !h.IsOnline("u1") })
	assert.True(t, tr.isClosed())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().dropped.WithLabelValues(dropOversized)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().removals.WithLabelValues(reasonClosed)))
	eventually(t, func() bool { return len(friend.eventsOf(t, EventPresence)) == 2 })
}

func TestInboundRateLimit(t *testing.T) {
	h := newTestHub(t, nil, func(o *Options) {
		o.InboundRate = 0.001
		o.InboundBurst = 1
	})
	tr, _ := h.connect(t, "tok-u1")

	for i := 0; i < 3; i++ {
		tr.push(t, map[string]any{"type": "ping"})
	}
	eventually(t, func() bool {
		return testutil.ToFloat64(h.Metrics().dropped.WithLabelValues(dropRateLimited)) == 2
	})
	eventually(t, func() bool { return len(tr.eventsOf(t, EventPong)) == 1 })
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	h := newTestHub(t, nil, func(o *Options) { o.SendBufferSize = 1 })
	slow, slowConn := h.connect(t, "tok-u1")
	fast, _ := h.connect(t, "tok-u1")
	slow.stall()

	var res DeliveryResult
	for i := 1; i <= 10; i++ {
		res = h.SendToUser("u1", NewEnvelope(EventNewComment, CommentData{CatchID: "c1", Comment: "nice"}))
		if res.Evicted > 0 {
			break
		}
		// Keep the healthy device drained so only the stalled one backs up.
		eventually(t, func() bool { return len(fast.eventsOf(t, EventNewComment)) == i })
	}
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 1, res.Delivered, "the healthy device still gets it")

	assert.Equal(t, 1, h.ConnectionCount("u1"))
	assert.NotContains(t, h.Registry().ConnectionsFor("u1"), slowConn)
	assert.True(t, slow.isClosed())
	eventually(t, func() bool { return len(fast.eventsOf(t, EventNewComment)) > 0 })
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().removals.WithLabelValues(reasonSendFailure)))
}

func TestWriteFailureEvictsAndAnnouncesOffline(t *testing.T) {
	h := newTestHub(t, friendGraph{"u1": {"f1"}})
	friend, _ := h.connect(t, "tok-f1")
	tr, _ := h.connect(t, "tok-u1")
	tr.failWrites()

	h.SendToUser("u1", NewEnvelope(EventFriendRequest, FriendRequestData{Requester: Actor{ID: "u9"}}))
	eventually(t, func() bool { return !h.IsOnline("u1") })
	eventually(t, func() bool { return len(friend.eventsOf(t, EventPresence)) == 2 })
}

func TestAudienceErrorSkipsAnnouncement(t *testing.T) {
	var calls atomic.Int32
	audience := AudienceFunc(func(context.Context, string) ([]string, error) {
		calls.Add(1)
		return nil, errors.New("db down")
	})
	h := newTestHub(t, audience)
	h.connect(t, "tok-u1")

	eventually(t, func() bool { return calls.Load() == 1 })
	assert.True(t, h.IsOnline("u1"))
}

func TestShutdownClosesConnectionsAndRefusesNewOnes(t *testing.T) {
	var calls atomic.Int32
	audience := AudienceFunc(func(context.Context, string) ([]string, error) {
		calls.Add(1)
		return nil, nil
	})
	h := newTestHub(t, audience)
	tr1, _ := h.connect(t, "tok-u1")
	tr2, _ := h.connect(t, "tok-u2")
	eventually(t, func() bool { return calls.Load() == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	for _, tr := range []*mockTransport{tr1, tr2} {
		assert.True(t, tr.isClosed())
		closes := tr.controlsOf(websocket.CloseMessage)
		require.Len(t, closes, 1)
		assert.Equal(t, websocket.CloseGoingAway, closes[0].closeCode())
	}
	assert.Zero(t, h.Stats().Connections)
	assert.Equal(t, int32(2), calls.Load(), "no offline announcements during shutdown")

	late := newMockTransport()
	assert.ErrorIs(t, h.Serve(late, "tok-u3"), ErrHubClosed)
	assert.True(t, late.isClosed())
	assert.NoError(t, h.Shutdown(ctx), "second shutdown is a no-op")
}

func TestRunStopsWithContext(t *testing.T) {
	h := newTestHub(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMetricsTrackConnections(t *testing.T) {
	h := newTestHub(t, nil)
	tr, _ := h.connect(t, "tok-u1")
	h.connect(t, "tok-u1")
	_ = h.Serve(newMockTransport(), "bad")

	m := h.Metrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.onlineUsers))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.handshakes.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handshakes.WithLabelValues("rejected")))

	tr.hangUp()
	eventually(t, func() bool { return testutil.ToFloat64(m.connections) == 1 })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.removals.WithLabelValues(reasonClosed)))
}

func TestOnlineAmong(t *testing.T) {
	h := newTestHub(t, nil)
	h.connect(t, "tok-u1")
	h.connect(t, "tok-u3")
	assert.Equal(t, []string{"u3", "u1"}, h.OnlineAmong([]string{"u3", "u2", "u1", "u3"}))
}
