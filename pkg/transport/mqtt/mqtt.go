package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
	"github.com/bizflycloud/crisis-stream/pkg/transport"
)

const (
	clientDisconnectWaitTimeout = 250
	lastWillStatement           = `{"status": "OFFLINE"}`
	defaultTopicPrefix          = "crisis/"
	frameBufferSize             = 256
)

var _ transport.Dialer = (*Dialer)(nil)

// ErrPublishTimeout is returned when the broker does not acknowledge a publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

var tokenWaitTimeout = 3 * time.Second

// Dialer implements transport.Dialer over an MQTT broker.
//
// Every message published under the topic prefix becomes one inbound frame
// whose topic is the MQTT topic without the prefix. Outbound frames are
// published to the client's presence topic.
type Dialer struct {
	uri      *url.URL
	username string
	password string
	clientID string
	prefix   string
	qos      byte
	logger   *zap.Logger
}

// NewDialer creates new mqtt dialer.
func NewDialer(opts ...Option) (*Dialer, error) {
	d := &Dialer{
		prefix: defaultTopicPrefix,
		qos:    1,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.uri == nil {
		return nil, errors.New("empty broker url")
	}
	if d.clientID == "" {
		d.clientID = "crisis-stream-" + uuid.NewString()
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

func (d *Dialer) presenceTopic() string {
	return "clients/" + d.clientID + "/presence"
}

func (d *Dialer) opts(c *conn) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + d.uri.Host)
	username := d.username
	if u := d.uri.User.Username(); u != "" {
		username = u
	}
	opts.SetUsername(username)
	password := d.password
	if p, isSet := d.uri.User.Password(); isSet {
		password = p
	}
	opts.SetPassword(password)
	opts.SetClientID(d.clientID)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	// The realtime client owns reconnection.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
		d.logger.Warn("Connection lost with broker", zap.Error(err))
		c.fail(err)
	}
	opts.OnConnectionLost = connectLostHandler

	opts.SetWill(d.presenceTopic(), lastWillStatement, 0, false)
	return opts
}

// Dial connects to the broker and subscribes to the topic prefix.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	c := &conn{
		prefix:   d.prefix,
		presence: d.presenceTopic(),
		frames:   make(chan []byte, frameBufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		logger:   d.logger,
	}
	client := mqtt.NewClient(d.opts(c))
	if err := wait(ctx, client.Connect()); err != nil {
		if client.IsConnectionOpen() {
			client.Disconnect(0)
		}
		return nil, fmt.Errorf("connect %s: %w", d.uri.Host, err)
	}
	c.client = client

	token := client.Subscribe(d.prefix+"#", d.qos, c.deliver)
	if err := wait(ctx, token); err != nil {
		client.Disconnect(clientDisconnectWaitTimeout)
		return nil, fmt.Errorf("subscribe %s#: %w", d.prefix, err)
	}

	d.logger.Debug("Connected to broker", zap.String("client_id", d.clientID))
	return c, nil
}

func (d *Dialer) String() string {
	return fmt.Sprintf("Broker [%s]", d.clientID)
}

// conn implements transport.Conn on top of a connected paho client.
type conn struct {
	client   mqtt.Client
	prefix   string
	presence string
	logger   *zap.Logger

	frames    chan []byte
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) deliver(_ mqtt.Client, msg mqtt.Message) {
	frame, err := frameFor(c.prefix, msg.Topic(), msg.Payload())
	if err != nil {
		c.logger.Debug("dropping mqtt message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	select {
	case c.frames <- frame:
	case <-c.done:
	}
}

func (c *conn) fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func (c *conn) ReadMessage() ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case err := <-c.errs:
		return nil, err
	case <-c.done:
		return nil, transport.ErrClosed
	}
}

func (c *conn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	token := c.client.Publish(c.presence, 0, false, data)
	if !token.WaitTimeout(tokenWaitTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.client.Disconnect(clientDisconnectWaitTimeout)
	})
	return nil
}

// frameFor wraps an MQTT message into a wire frame. Payloads that are not
// valid JSON are carried as a JSON string.
func frameFor(prefix, topic string, payload []byte) ([]byte, error) {
	name := strings.TrimPrefix(topic, prefix)
	if name == "" {
		return nil, broker.ErrMissingTopic
	}
	raw := json.RawMessage(payload)
	if !json.Valid(payload) {
		b, err := json.Marshal(string(payload))
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(broker.Message{Type: name, Payload: raw})
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
