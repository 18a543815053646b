package websocket

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Options tunes a Hub. Zero fields fall back to DefaultOptions, except
// InboundRate.
type Options struct {
	SendBufferSize    int
	MaxMessageSize    int64
	WriteWait         time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// InboundRate is client frames per second per connection. Zero means
	// unlimited.
	InboundRate  float64
	InboundBurst int

	// Clock drives liveness bookkeeping. Tests swap in clock.NewMock().
	Clock clock.Clock
}

func DefaultOptions() Options {
	return Options{
		SendBufferSize:    256,
		MaxMessageSize:    32 << 10,
		WriteWait:         10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  75 * time.Second,
		InboundRate:       10,
		InboundBurst:      20,
		Clock:             clock.New(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = def.SendBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = def.WriteWait
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = def.HeartbeatInterval
	}
	if o.HeartbeatTimeout <= o.HeartbeatInterval {
		o.HeartbeatTimeout = o.HeartbeatInterval * 5 / 2
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = def.InboundBurst
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	return o
}
