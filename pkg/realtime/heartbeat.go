package realtime

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/transport"
)

// heartbeat sends the keep-alive frame for exactly one connection.
type heartbeat struct {
	ticker *clock.Ticker
	stop   chan struct{}
	once   sync.Once
}

// startHeartbeatLocked creates the ticker before returning so that a clock
// advanced after the connection is observed open always reaches it.
func (c *Client) startHeartbeatLocked(gen uint64, conn transport.Conn) *heartbeat {
	hb := &heartbeat{
		ticker: c.clock.Ticker(c.heartbeatInterval),
		stop:   make(chan struct{}),
	}
	go c.runHeartbeat(hb, gen, conn)
	return hb
}

func (c *Client) runHeartbeat(hb *heartbeat, gen uint64, conn transport.Conn) {
	defer hb.ticker.Stop()
	for {
		select {
		case <-hb.stop:
			return
		case <-hb.ticker.C:
			c.sendHeartbeat(gen, conn)
		}
	}
}

func (c *Client) sendHeartbeat(gen uint64, conn transport.Conn) {
	c.mu.Lock()
	open := gen == c.gen && c.state == StateOpen
	c.mu.Unlock()
	if !open {
		return
	}

	// A failed write is not a liveness verdict; the read loop reports loss.
	if err := conn.WriteMessage(c.heartbeatFrame); err != nil {
		c.logger.Debug("send heartbeat", zap.Error(err))
		return
	}
	c.heartbeats.Add(1)
}

// Stop is idempotent and safe on a nil heartbeat.
func (hb *heartbeat) Stop() {
	if hb == nil {
		return
	}
	hb.once.Do(func() { close(hb.stop) })
}
