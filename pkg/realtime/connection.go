package realtime

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/transport"
)

// ensureOpenLocked starts a connection attempt unless one is open or in flight.
func (c *Client) ensureOpenLocked() {
	switch c.state {
	case StateOpen, StateConnecting:
		return
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}

	c.state = StateConnecting
	c.gen++
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	c.cancelDial = cancel
	go c.connect(ctx, c.gen)
}

func (c *Client) connect(ctx context.Context, gen uint64) {
	conn, err := c.dialer.Dial(ctx)

	c.mu.Lock()
	if gen != c.gen {
		// Shut down while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.cancelDial()
	c.cancelDial = nil

	if err != nil {
		c.state = StateClosed
		delay := c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Debug("connect failed", zap.Error(err), zap.Duration("retry_in", delay))
		return
	}

	if c.backoff.Attempt() > 0 {
		c.reconnects.Add(1)
	}
	c.state = StateOpen
	c.conn = conn
	c.backoff.Reset()
	c.heartbeat = c.startHeartbeatLocked(gen, conn)
	c.mu.Unlock()

	c.logger.Info("realtime connection open")
	go c.readLoop(gen, conn)
}

// readLoop runs every dispatch pass of one connection, in wire order.
func (c *Client) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen, conn, err)
			return
		}
		c.dispatch(gen, data)
	}
}

func (c *Client) connectionLost(gen uint64, conn transport.Conn, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.conn = nil
	c.heartbeat.Stop()
	c.heartbeat = nil
	delay := c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Warn("realtime connection lost", zap.Error(err), zap.Duration("retry_in", delay))
	_ = conn.Close()
}

// scheduleReconnectLocked arms the reconnect timer and returns its delay.
// Each call counts one failed attempt.
func (c *Client) scheduleReconnectLocked() time.Duration {
	delay := c.backoff.Duration()
	var t *clock.Timer
	t = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.reconnect != t || c.state != StateClosed {
			return
		}
		c.reconnect = nil
		c.ensureOpenLocked()
	})
	c.reconnect = t
	return delay
}
