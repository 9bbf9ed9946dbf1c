package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a connection that has been closed.
var ErrClosed = errors.New("connection closed")

// Conn is one established duplex connection carrying text frames.
//
// ReadMessage is called from a single goroutine. WriteMessage and Close may be
// called concurrently with ReadMessage and with each other.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes connections to a fixed endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
