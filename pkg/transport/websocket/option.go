package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

type Option func(d *Dialer) error

// WithURL returns an Option which set the websocket endpoint.
func WithURL(u string) Option {
	return func(d *Dialer) error {
		if u == "" {
			return errors.New("empty websocket url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		if uri.Scheme != "ws" && uri.Scheme != "wss" {
			return errors.New("websocket url must use ws or wss scheme")
		}
		d.url = u
		return nil
	}
}

// WithHeader returns an Option which set a request header sent during the handshake.
func WithHeader(key, value string) Option {
	return func(d *Dialer) error {
		if d.header == nil {
			d.header = http.Header{}
		}
		d.header.Set(key, value)
		return nil
	}
}

// WithHandshakeTimeout returns an Option which set the handshake timeout.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(d *Dialer) error {
		d.handshakeTimeout = timeout
		return nil
	}
}

// WithWriteTimeout returns an Option which set the write deadline of each frame.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Dialer) error {
		if timeout <= 0 {
			return errors.New("write timeout must be positive")
		}
		d.writeTimeout = timeout
		return nil
	}
}

// WithReadLimit returns an Option which set the maximum inbound frame size.
func WithReadLimit(limit int64) Option {
	return func(d *Dialer) error {
		d.readLimit = limit
		return nil
	}
}

// WithLogger returns an Option which set the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dialer) error {
		d.logger = logger
		return nil
	}
}
