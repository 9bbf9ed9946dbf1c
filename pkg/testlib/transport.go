package testlib

import (
	"context"
	"sync"

	"github.com/bizflycloud/crisis-stream/pkg/transport"
)

// Dialer is an in-process transport.Dialer whose connections are driven by tests.
type Dialer struct {
	mu    sync.Mutex
	err   error
	dials int
	conns []*Conn
}

// NewDialer returns a Dialer whose dials succeed.
func NewDialer() *Dialer {
	return &Dialer{}
}

// FailWith makes subsequent dials fail with err. A nil err makes them succeed again.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := newConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns the number of dial attempts, failed ones included.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every connection handed out so far, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conn is an in-memory transport.Conn.
type Conn struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	err     error
	written [][]byte
}

func newConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// Deliver queues an inbound frame for the reader.
func (c *Conn) Deliver(frame []byte) {
	select {
	case c.inbound <- frame:
	case <-c.done:
	}
}

// Drop simulates an abrupt close by the network; the reader sees err.
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

// Written returns a copy of every frame written so far.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// Closed reports whether the connection was closed or dropped.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	// Drain queued frames before reporting the close.
	select {
	case frame := <-c.inbound:
		return frame, nil
	default:
	}
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return nil, c.err
		}
		return nil, transport.ErrClosed
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	if c.Closed() {
		return transport.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
