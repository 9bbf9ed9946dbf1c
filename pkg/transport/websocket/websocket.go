package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/transport"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 1 << 20
	closeWaitTimeout        = time.Second
)

var _ transport.Dialer = (*Dialer)(nil)

// Dialer dials websocket connections to a fixed URL.
type Dialer struct {
	url              string
	header           http.Header
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	readLimit        int64
	logger           *zap.Logger
}

// NewDialer creates new websocket dialer.
func NewDialer(opts ...Option) (*Dialer, error) {
	d := &Dialer{
		header:           http.Header{},
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		readLimit:        defaultReadLimit,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.url == "" {
		return nil, errors.New("empty websocket url")
	}
	if d.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		d.logger = l
	}
	return d, nil
}

// Dial opens a new connection. ctx bounds the handshake only.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.handshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(d.readLimit)

	d.logger.Debug("websocket connected", zap.String("url", redact(d.url)))
	return &conn{ws: ws, writeTimeout: d.writeTimeout}, nil
}

func (d *Dialer) String() string {
	return "websocket [" + redact(d.url) + "]"
}

// conn implements transport.Conn over a gorilla websocket.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		// Best effort; the peer may already be gone.
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWaitTimeout),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// redact strips credentials from u for logging.
func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	return parsed.Redacted()
}
