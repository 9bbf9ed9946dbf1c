package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/transport"
	"github.com/bizflycloud/crisis-stream/pkg/transport/mqtt"
	"github.com/bizflycloud/crisis-stream/pkg/transport/websocket"
)

type Option func(c *Client) error

// WithDialer returns an Option which set the transport used to open connections.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) error {
		if d == nil {
			return ErrNoDialer
		}
		c.dialer = d
		return nil
	}
}

// WithURL returns an Option which selects the transport from the url scheme:
// ws and wss use websocket, mqtt and tcp use an MQTT broker.
func WithURL(u string) Option {
	return func(c *Client) error {
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		switch uri.Scheme {
		case "ws", "wss", "mqtt", "tcp":
		default:
			return fmt.Errorf("unsupported url scheme %q", uri.Scheme)
		}
		c.url = u
		return nil
	}
}

// WithLogger returns an Option which set the logger for Client.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithClock returns an Option which set the clock driving heartbeat and reconnect timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) error {
		c.clock = clk
		return nil
	}
}

// WithHeartbeatInterval returns an Option which set the keep-alive interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("heartbeat interval must be positive")
		}
		c.heartbeatInterval = d
		return nil
	}
}

// WithHeartbeatFrame returns an Option which set the keep-alive frame.
func WithHeartbeatFrame(frame []byte) Option {
	return func(c *Client) error {
		if len(frame) == 0 {
			return errors.New("empty heartbeat frame")
		}
		c.heartbeatFrame = frame
		return nil
	}
}

// WithDialTimeout returns an Option which bound each connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("dial timeout must be positive")
		}
		c.dialTimeout = d
		return nil
	}
}

// WithReconnectDelay returns an Option which retry on a fixed delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("reconnect delay must be positive")
		}
		c.backoff = &backoff.Backoff{Min: d, Max: d}
		return nil
	}
}

// WithReconnectBackoff returns an Option which retry with capped exponential
// backoff and jitter, starting at minDelay and never exceeding maxDelay.
func WithReconnectBackoff(minDelay, maxDelay time.Duration) Option {
	return func(c *Client) error {
		if minDelay <= 0 || maxDelay < minDelay {
			return errors.New("invalid reconnect backoff bounds")
		}
		c.backoff = &backoff.Backoff{Min: minDelay, Max: maxDelay, Factor: 2, Jitter: true}
		return nil
	}
}

func dialerForURL(u string, logger *zap.Logger) (transport.Dialer, error) {
	uri, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	switch uri.Scheme {
	case "mqtt", "tcp":
		return mqtt.NewDialer(mqtt.WithURL(u), mqtt.WithLogger(logger))
	default:
		return websocket.NewDialer(websocket.WithURL(u), websocket.WithLogger(logger))
	}
}
