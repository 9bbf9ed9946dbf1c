package mqtt

import (
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type Option func(d *Dialer) error

// WithURL returns an Option which set the broker url.
func WithURL(u string) Option {
	return func(d *Dialer) error {
		if u == "" {
			return errors.New("empty broker url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		if uri.Host == "" {
			return errors.New("broker url has no host")
		}
		d.uri = uri
		return nil
	}
}

// WithClientID returns an Option which set the broker client id.
func WithClientID(id string) Option {
	return func(d *Dialer) error {
		d.clientID = id
		return nil
	}
}

// WithCredentials returns an Option which set the username and password used
// when the url carries none.
func WithCredentials(username, password string) Option {
	return func(d *Dialer) error {
		d.username = username
		d.password = password
		return nil
	}
}

// WithTopicPrefix returns an Option which set the topic prefix the dialer subscribes under.
func WithTopicPrefix(prefix string) Option {
	return func(d *Dialer) error {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		d.prefix = prefix
		return nil
	}
}

// WithQos returns an Option which set the subscription QoS.
func WithQos(qos byte) Option {
	return func(d *Dialer) error {
		if qos > 2 {
			return errors.New("qos must be 0, 1 or 2")
		}
		d.qos = qos
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
