package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
	"github.com/bizflycloud/crisis-stream/pkg/transport"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultReconnectDelay    = 3 * time.Second
	defaultDialTimeout       = 10 * time.Second
)

var (
	ErrEmptyTopic = errors.New("empty topic")
	ErrNilHandler = errors.New("nil handler")
	ErrNoDialer   = errors.New("no dialer configured")
)

// Client shares one connection between any number of topic subscribers.
//
// mu guards state, the attempt counter, the registry, the current connection
// and the generation as a unit. It is never held across dial, read, write or
// a handler call.
type Client struct {
	dialer            transport.Dialer
	url               string
	logger            *zap.Logger
	clock             clock.Clock
	heartbeatInterval time.Duration
	heartbeatFrame    []byte
	dialTimeout       time.Duration

	mu         sync.Mutex
	state      State
	backoff    *backoff.Backoff
	gen        uint64
	conn       transport.Conn
	heartbeat  *heartbeat
	reconnect  *clock.Timer
	cancelDial context.CancelFunc
	registry   *registry

	received      atomic.Int64
	delivered     atomic.Int64
	malformed     atomic.Int64
	handlerErrors atomic.Int64
	heartbeats    atomic.Int64
	reconnects    atomic.Int64
}

// Stats is a snapshot of client counters.
type Stats struct {
	State           State
	Attempts        int
	Topics          int
	Subscriptions   int
	FramesReceived  int64
	EventsDelivered int64
	MalformedFrames int64
	HandlerErrors   int64
	HeartbeatsSent  int64
	Reconnects      int64
}

// New creates new realtime client. No connection is opened until the first Subscribe.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		clock:             clock.New(),
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatFrame:    broker.PingFrame(),
		dialTimeout:       defaultDialTimeout,
		backoff:           &backoff.Backoff{Min: defaultReconnectDelay, Max: defaultReconnectDelay},
		registry:          newRegistry(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		c.logger = l
	}
	if c.dialer == nil && c.url != "" {
		d, err := dialerForURL(c.url, c.logger)
		if err != nil {
			return nil, err
		}
		c.dialer = d
	}
	if c.dialer == nil {
		return nil, ErrNoDialer
	}
	return c, nil
}

// Subscribe registers h for events on topic and makes sure a connection is
// open or opening. It returns immediately whatever the connection state.
func (c *Client) Subscribe(topic string, h broker.Handler) (*Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if h == nil {
		return nil, ErrNilHandler
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.registry.add(c, topic, h)
	c.ensureOpenLocked()
	return s, nil
}

// Shutdown closes the connection, cancels any pending reconnect and drops
// every subscription. Outstanding subscription handles become no-ops. A later
// Subscribe opens a fresh connection.
func (c *Client) Shutdown() {
	c.mu.Lock()
	conn := c.conn
	c.gen++
	c.conn = nil
	c.state = StateIdle
	c.heartbeat.Stop()
	c.heartbeat = nil
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.registry.clear()
	c.backoff.Reset()
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}
	c.logger.Info("realtime client shut down")
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of failed connection attempts since the last
// successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.backoff.Attempt())
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		State:         c.state,
		Attempts:      int(c.backoff.Attempt()),
		Topics:        c.registry.topicCount(),
		Subscriptions: c.registry.subscriptionCount(),
	}
	c.mu.Unlock()

	st.FramesReceived = c.received.Load()
	st.EventsDelivered = c.delivered.Load()
	st.MalformedFrames = c.malformed.Load()
	st.HandlerErrors = c.handlerErrors.Load()
	st.HeartbeatsSent = c.heartbeats.Load()
	st.Reconnects = c.reconnects.Load()
	return st
}
