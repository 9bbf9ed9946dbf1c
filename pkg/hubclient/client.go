// Package hubclient talks to the crisis-stream event hub over HTTP.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
	"github.com/bizflycloud/crisis-stream/pkg/server"
)

const (
	defaultServerURLString = "http://127.0.0.1:9000"
	userAgent              = "crisis-stream-client"
	eventsPath             = "/events"
	statsPath              = "/stats"
	healthPath             = "/healthz"
	defaultMaxRetry        = 30 * time.Second
)

// Client is the client for interacting with the event hub.
type Client struct {
	client    *http.Client
	ServerURL *url.URL
	maxRetry  time.Duration

	userAgent string

	logger *zap.Logger
}

// NewClient creates a Client with given options.
func NewClient(opts ...ClientOption) (*Client, error) {
	serverURL, _ := url.Parse(defaultServerURLString)
	c := &Client{
		client:    newHTTPClient(nil),
		ServerURL: serverURL,
		maxRetry:  defaultMaxRetry,
		userAgent: userAgent,
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

	return c, nil
}

func newHTTPClient(dial func(ctx context.Context, network, addr string) (net.Conn, error)) *http.Client {
	if dial == nil {
		dial = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dial,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: 10 * time.Second,
	}
}

// ClientOption provides mechanism to configure Client.
type ClientOption func(c *Client) error

// WithHTTPClient sets the underlying HTTP client for Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) error {
		if client == nil {
			return errors.New("nil HTTP client")
		}
		c.client = client
		return nil
	}
}

// WithServerURL sets the hub url for Client. A "unix://" url talks to a hub
// listening on a unix socket.
func WithServerURL(serverURL string) ClientOption {
	return func(c *Client) error {
		if strings.HasPrefix(serverURL, "unix://") {
			sock := strings.TrimPrefix(serverURL, "unix://")
			c.client = newHTTPClient(func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sock)
			})
			serverURL = "http://unix"
		}
		su, err := url.Parse(serverURL)
		if err != nil {
			return err
		}
		c.ServerURL = su
		return nil
	}
}

// WithMaxRetry sets how long Publish keeps retrying. Zero disables retries.
func WithMaxRetry(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("negative max retry")
		}
		c.maxRetry = d
		return nil
	}
}

// WithLogger sets the logger for Client.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// StatusError is returned for a non-success hub response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected error: %s, status: %d", e.Body, e.StatusCode)
}

// NewRequest create new http request
func (c *Client) NewRequest(ctx context.Context, method, relPath string, body []byte) (*http.Request, error) {
	reqURL, err := c.urlStringFromRelPath(relPath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Add("User-Agent", c.userAgent)
	req.Header.Add("Content-Type", "application/json")
	return req, nil
}

func (c *Client) urlStringFromRelPath(relPath string) (string, error) {
	if c.ServerURL.Path != "" && c.ServerURL.Path != "/" {
		relPath = path.Join(c.ServerURL.Path, relPath)
	}
	relURL, err := url.Parse(relPath)
	if err != nil {
		return "", err
	}

	u := c.ServerURL.ResolveReference(relURL)
	return u.String(), nil
}

func (c *Client) do(req *http.Request, wantStatus int) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != wantStatus {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(buf))}
	}
	return buf, nil
}

// Publish sends one event to the hub. Network failures and server errors are
// retried with exponential backoff; a rejected event is not.
func (c *Client) Publish(ctx context.Context, topic string, payload json.RawMessage) error {
	frame, err := broker.Encode(topic, payload)
	if err != nil {
		return err
	}

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if c.maxRetry > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.MaxInterval = c.maxRetry
		exp.MaxElapsedTime = c.maxRetry
		bo = exp
	}

	op := func() error {
		req, err := c.NewRequest(ctx, http.MethodPost, eventsPath, frame)
		if err != nil {
			return backoff.Permanent(err)
		}
		_, err = c.do(req, http.StatusAccepted)
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		c.logger.Sugar().Info("Publish error. Retry in ", d, ": ", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}

// Stats fetches the hub counters.
func (c *Client) Stats(ctx context.Context) (*server.Stats, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, statsPath, nil)
	if err != nil {
		return nil, err
	}
	buf, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var st server.Stats
	if err := json.Unmarshal(buf, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health reports whether the hub answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.NewRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, http.StatusOK)
	return err
}
