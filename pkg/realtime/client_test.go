package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
	"github.com/bizflycloud/crisis-stream/pkg/testlib"
	"github.com/bizflycloud/crisis-stream/pkg/transport/websocket"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

var errNetwork = errors.New("network unreachable")

func newTestClient(t *testing.T, d *testlib.Dialer, mock *clock.Mock, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithDialer(d), WithClock(mock), WithLogger(zap.NewNop())}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick, "state never became %s", want)
}

// waitConn waits until the n-th connection is open and returns it.
func waitConn(t *testing.T, c *Client, d *testlib.Dialer, n int) *testlib.Conn {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(d.Conns()) >= n && c.State() == StateOpen
	}, waitFor, tick, "connection %d never opened", n)
	return d.Conns()[n-1]
}

// recorder collects events per subscriber label in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []string
	seen   []broker.Event
}

func (r *recorder) handler(label string) broker.Handler {
	return func(e broker.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, label)
		r.seen = append(r.seen, e)
		return nil
	}
}

func (r *recorder) labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) waitLen(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.labels()) >= n }, waitFor, tick)
}

func frame(t *testing.T, topic string, payload interface{}) []byte {
	t.Helper()
	b, err := broker.Encode(topic, payload)
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{"no dialer", nil, true},
		{"nil dialer", []Option{WithDialer(nil)}, true},
		{"fake dialer", []Option{WithDialer(testlib.NewDialer())}, false},
		{"websocket url", []Option{WithURL("ws://localhost:9000/ws")}, false},
		{"mqtt url", []Option{WithURL("mqtt://localhost:1883")}, false},
		{"http url", []Option{WithURL("http://localhost:9000")}, true},
		{"zero heartbeat", []Option{WithDialer(testlib.NewDialer()), WithHeartbeatInterval(0)}, true},
		{"empty heartbeat frame", []Option{WithDialer(testlib.NewDialer()), WithHeartbeatFrame(nil)}, true},
		{"zero reconnect delay", []Option{WithDialer(testlib.NewDialer()), WithReconnectDelay(0)}, true},
		{"inverted backoff", []Option{WithDialer(testlib.NewDialer()), WithReconnectBackoff(time.Minute, time.Second)}, true},
		{"zero dial timeout", []Option{WithDialer(testlib.NewDialer()), WithDialTimeout(0)}, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(append(tc.opts, WithLogger(zap.NewNop()))...)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewWithURLPicksTransport(t *testing.T) {
	c, err := New(WithURL("ws://localhost:9000/ws"), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.IsType(t, &websocket.Dialer{}, c.dialer)
}

func TestSubscribeMisuse(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	_, err := c.Subscribe("", func(broker.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyTopic)

	_, err = c.Subscribe(broker.NewCrisis, nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	// Misuse never opens a connection.
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, d.Dials())
}

func TestSubscribeOpensConnectionLazily(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, d.Dials())

	var rec recorder
	_, err := c.Subscribe(broker.NewCrisis, rec.handler("a"))
	require.NoError(t, err)
	waitConn(t, c, d, 1)

	_, err = c.Subscribe(broker.CrisisUpdate, rec.handler("b"))
	require.NoError(t, err)
	_, err = c.Subscribe(broker.NewCrisis, rec.handler("c"))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Dials())
}

func TestSubscribeBeforeAndAfterOpen(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	var rec recorder
	_, err := c.Subscribe(broker.NewCrisis, rec.handler("before"))
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	_, err = c.Subscribe(broker.NewCrisis, rec.handler("after"))
	require.NoError(t, err)

	conn.Deliver(frame(t, broker.NewCrisis, map[string]string{"id": "c-1"}))
	rec.waitLen(t, 2)
	assert.Equal(t, []string{"before", "after"}, rec.labels())
}

func TestTopicIsolation(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	var recA, recB recorder
	_, err := c.Subscribe("A", recA.handler("a"))
	require.NoError(t, err)
	_, err = c.Subscribe("B", recB.handler("b"))
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	conn.Deliver(frame(t, "A", 1))
	// A marker on B proves the first frame was fully dispatched.
	conn.Deliver(frame(t, "B", 2))
	recB.waitLen(t, 1)

	assert.Equal(t, []string{"a"}, recA.labels())
	assert.Equal(t, []string{"b"}, recB.labels())
	assert.JSONEq(t, "1", string(recA.seen[0].Payload))
	assert.JSONEq(t, "2", string(recB.seen[0].Payload))
}

func TestFanOutInSubscriptionOrder(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	var rec recorder
	for _, label := range []string{"s1", "s2", "s3"} {
		_, err := c.Subscribe("crisis_update", rec.handler(label))
		require.NoError(t, err)
	}
	conn := waitConn(t, c, d, 1)

	conn.Deliver(frame(t, "crisis_update", map[string]int{"severity": 4}))
	rec.waitLen(t, 3)

	assert.Equal(t, []string{"s1", "s2", "s3"}, rec.labels())
	for _, e := range rec.seen {
		assert.Equal(t, "crisis_update", e.Topic)
		assert.JSONEq(t, `{"severity":4}`, string(e.Payload))
	}
	assert.EqualValues(t, 3, c.Stats().EventsDelivered)
}

func TestSameHandlerSubscribedTwice(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	var rec recorder
	h := rec.handler("h")
	s1, err := c.Subscribe(broker.NewCrisis, h)
	require.NoError(t, err)
	_, err = c.Subscribe(broker.NewCrisis, h)
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	conn.Deliver(frame(t, broker.NewCrisis, 1))
	rec.waitLen(t, 2)

	s1.Cancel()
	conn.Deliver(frame(t, broker.NewCrisis, 2))
	rec.waitLen(t, 3)
	assert.Len(t, rec.labels(), 3)
	assert.Equal(t, 1, c.Stats().Subscriptions)
}

func TestCancel(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	var rec recorder
	s1, err := c.Subscribe(broker.NewCrisis, rec.handler("s1"))
	require.NoError(t, err)
	_, err = c.Subscribe(broker.NewCrisis, rec.handler("s2"))
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	s1.Cancel()
	s1.Cancel()

	conn.Deliver(frame(t, broker.NewCrisis, nil))
	rec.waitLen(t, 1)
	conn.Deliver(frame(t, broker.NewCrisis, nil))
	rec.waitLen(t, 2)
	assert.Equal(t, []string{"s2", "s2"}, rec.labels())
	assert.Equal(t, broker.NewCrisis, s1.Topic())
}

func TestCancelLastSubscriptionPrunesTopic(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	s, err := c.Subscribe(broker.NewCrisis, func(broker.Event) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Topics)

	s.Cancel()
	st := c.Stats()
	assert.Equal(t, 0, st.Topics)
	assert.Equal(t, 0, st.Subscriptions)
}

func TestCancelDuringDispatchCompletesPass(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	var rec recorder
	var s2 *Subscription
	_, err := c.Subscribe(broker.CrisisUpdate, func(e broker.Event) error {
		s2.Cancel()
		return rec.handler("s1")(e)
	})
	require.NoError(t, err)
	s2, err = c.Subscribe(broker.CrisisUpdate, rec.handler("s2"))
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	conn.Deliver(frame(t, broker.CrisisUpdate, 1))
	rec.waitLen(t, 2)
	assert.Equal(t, []string{"s1", "s2"}, rec.labels())

	conn.Deliver(frame(t, broker.CrisisUpdate, 2))
	rec.waitLen(t, 3)
	assert.Equal(t, []string{"s1", "s2", "s1"}, rec.labels())
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	var rec recorder
	_, err := c.Subscribe(broker.NewCrisis, func(broker.Event) error { return errors.New("render failed") })
	require.NoError(t, err)
	_, err = c.Subscribe(broker.NewCrisis, func(broker.Event) error { panic("boom") })
	require.NoError(t, err)
	_, err = c.Subscribe(broker.NewCrisis, rec.handler("ok"))
	require.NoError(t, err)
	_, err = c.Subscribe(broker.CrisisUpdate, rec.handler("other"))
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	conn.Deliver(frame(t, broker.NewCrisis, 1))
	conn.Deliver(frame(t, broker.CrisisUpdate, 2))
	rec.waitLen(t, 2)

	assert.Equal(t, []string{"ok", "other"}, rec.labels())
	assert.EqualValues(t, 2, c.Stats().HandlerErrors)
	assert.Equal(t, StateOpen, c.State())
}

func TestMalformedFramesAreDropped(t *testing.T) {
	d := testlib.NewDialer()
	c := newTestClient(t, d, clock.NewMock())

	var rec recorder
	_, err := c.Subscribe(broker.NewCrisis, rec.handler("a"))
	require.NoError(t, err)
	_, err = c.Subscribe(broker.CrisisUpdate, rec.handler("b"))
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	conn.Deliver([]byte("not json"))
	conn.Deliver([]byte(`{"payload":{"id":1}}`))
	conn.Deliver([]byte(`{"type":"unknown-topic","payload":1}`))
	conn.Deliver(frame(t, broker.CrisisUpdate, 1))
	rec.waitLen(t, 1)

	assert.Equal(t, []string{"b"}, rec.labels())
	st := c.Stats()
	assert.EqualValues(t, 2, st.MalformedFrames)
	assert.EqualValues(t, 4, st.FramesReceived)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 1, d.Dials())
}

func TestReconnectPreservesSubscriptions(t *testing.T) {
	d := testlib.NewDialer()
	mock := clock.NewMock()
	c := newTestClient(t, d, mock)

	var rec recorder
	_, err := c.Subscribe(broker.NewCrisis, rec.handler("a"))
	require.NoError(t, err)
	first := waitConn(t, c, d, 1)

	first.Drop(errNetwork)
	waitState(t, c, StateClosed)
	assert.Equal(t, 1, c.Attempts())

	mock.Add(defaultReconnectDelay)
	second := waitConn(t, c, d, 2)
	assert.True(t, first.Closed())
	assert.Equal(t, 0, c.Attempts())

	second.Deliver(frame(t, broker.NewCrisis, "after reconnect"))
	rec.waitLen(t, 1)
	assert.JSONEq(t, `"after reconnect"`, string(rec.seen[0].Payload))
	assert.EqualValues(t, 1, c.Stats().Reconnects)
}

func TestReconnectWaitsForDelay(t *testing.T) {
	d := testlib.NewDialer()
	mock := clock.NewMock()
	c := newTestClient(t, d, mock, WithReconnectDelay(5*time.Second))

	_, err := c.Subscribe(broker.NewCrisis, func(broker.Event) error { return nil })
	require.NoError(t, err)
	waitConn(t, c, d, 1).Drop(errNetwork)
	waitState(t, c, StateClosed)

	mock.Add(4 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.Dials())
	assert.Equal(t, StateClosed, c.State())

	mock.Add(time.Second)
	waitConn(t, c, d, 2)
}

func TestFailedDialsRetryForever(t *testing.T) {
	d := testlib.NewDialer()
	d.FailWith(errNetwork)
	mock := clock.NewMock()
	c := newTestClient(t, d, mock)

	_, err := c.Subscribe(broker.NewCrisis, func(broker.Event) error { return nil })
	require.NoError(t, err)

	for attempt := 1; ; attempt++ {
		require.Eventually(t, func() bool {
			return d.Dials() == attempt && c.State() == StateClosed && c.Attempts() == attempt
		}, waitFor, tick, "attempt %d", attempt)
		if attempt == 5 {
			break
		}
		mock.Add(defaultReconnectDelay)
	}

	d.FailWith(nil)
	mock.Add(defaultReconnectDelay)
	waitConn(t, c, d, 1)
	assert.Equal(t, 0, c.Attempts())
	assert.Equal(t, 6, d.Dials())
	assert.EqualValues(t, 1, c.Stats().Reconnects)
}

func TestSubscribeWhileClosedRedialsImmediately(t *testing.T) {
	d := testlib.NewDialer()
	d.FailWith(errNetwork)
	mock := clock.NewMock()
	c := newTestClient(t, d, mock, WithReconnectDelay(time.Hour))

	var rec recorder
	_, err := c.Subscribe(broker.NewCrisis, rec.handler("a"))
	require.NoError(t, err)
	waitState(t, c, StateClosed)

	d.FailWith(nil)
	_, err = c.Subscribe(broker.CrisisUpdate, rec.handler("b"))
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	// The pending reconnect timer was cancelled by the new attempt.
	mock.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, d.Dials())

	conn.Deliver(frame(t, broker.NewCrisis, 1))
	rec.waitLen(t, 1)
}

func TestHeartbeatLifecycle(t *testing.T) {
	d := testlib.NewDialer()
	mock := clock.NewMock()
	c := newTestClient(t, d, mock, WithReconnectDelay(time.Minute))

	_, err := c.Subscribe(broker.NewCrisis, func(broker.Event) error { return nil })
	require.NoError(t, err)
	first := waitConn(t, c, d, 1)
	assert.Empty(t, first.Written())

	mock.Add(defaultHeartbeatInterval)
	require.Eventually(t, func() bool { return len(first.Written()) == 1 }, waitFor, tick)
	assert.JSONEq(t, `{"type":"ping"}`, string(first.Written()[0]))

	mock.Add(defaultHeartbeatInterval)
	require.Eventually(t, func() bool { return len(first.Written()) == 2 }, waitFor, tick)

	first.Drop(errNetwork)
	waitState(t, c, StateClosed)

	// No heartbeats while closed.
	mock.Add(defaultHeartbeatInterval)
	mock.Add(defaultHeartbeatInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, first.Written(), 2)
	assert.Len(t, d.Conns(), 1)

	mock.Add(30 * time.Second)
	second := waitConn(t, c, d, 2)
	assert.Empty(t, second.Written())

	mock.Add(defaultHeartbeatInterval)
	require.Eventually(t, func() bool { return len(second.Written()) == 1 }, waitFor, tick)
	assert.Len(t, first.Written(), 2)
	assert.EqualValues(t, 3, c.Stats().HeartbeatsSent)
}

func TestCustomHeartbeat(t *testing.T) {
	d := testlib.NewDialer()
	mock := clock.NewMock()
	c := newTestClient(t, d, mock,
		WithHeartbeatInterval(time.Second),
		WithHeartbeatFrame([]byte(`{"type":"keepalive"}`)),
	)

	_, err := c.Subscribe(broker.NewCrisis, func(broker.Event) error { return nil })
	require.NoError(t, err)
	conn := waitConn(t, c, d, 1)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return len(conn.Written()) == 1 }, waitFor, tick)
	assert.Equal(t, `{"type":"keepalive"}`, string(conn.Written()[0]))
}

func TestShutdown(t *testing.T) {
	d := testlib.NewDialer()
	mock := clock.NewMock()
	c := newTestClient(t, d, mock)

	var rec recorder
	old, err := c.Subscribe(broker.NewCrisis, rec.handler("old"))
	require.NoError(t, err)
	first := waitConn(t, c, d, 1)

	c.Shutdown()
	assert.Equal(t, StateIdle, c.State())
	assert.True(t, first.Closed())
	assert.Equal(t, 0, c.Stats().Subscriptions)

	// Shutdown never reconnects and never heartbeats.
	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.Dials())
	assert.Empty(t, first.Written())

	// A new subscription starts over; the old handle must not touch it.
	_, err = c.Subscribe(broker.NewCrisis, rec.handler("new"))
	require.NoError(t, err)
	second := waitConn(t, c, d, 2)
	old.Cancel()
	assert.Equal(t, 1, c.Stats().Subscriptions)

	second.Deliver(frame(t, broker.NewCrisis, 1))
	rec.waitLen(t, 1)
	assert.Equal(t, []string{"new"}, rec.labels())
}

func TestShutdownCancelsPendingReconnect(t *testing.T) {
	d := testlib.NewDialer()
	d.FailWith(errNetwork)
	mock := clock.NewMock()
	c := newTestClient(t, d, mock)

	_, err := c.Subscribe(broker.NewCrisis, func(broker.Event) error { return nil })
	require.NoError(t, err)
	waitState(t, c, StateClosed)

	c.Shutdown()
	assert.Equal(t, 0, c.Attempts())

	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.Dials())
	assert.Equal(t, StateIdle, c.State())
}

func TestExponentialBackoffCountsAttempts(t *testing.T) {
	d := testlib.NewDialer()
	d.FailWith(errNetwork)
	mock := clock.NewMock()
	c := newTestClient(t, d, mock, WithReconnectBackoff(time.Second, 4*time.Second))
	c.backoff.Jitter = false

	_, err := c.Subscribe(broker.NewCrisis, func(broker.Event) error { return nil })
	require.NoError(t, err)

	waitDials := func(n int) {
		t.Helper()
		require.Eventually(t, func() bool {
			return d.Dials() == n && c.Attempts() == n
		}, waitFor, tick, "attempt %d", n)
	}
	waitDials(1)

	// Delays double from the minimum and stop growing at the cap.
	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		mock.Add(delay - time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, i+1, d.Dials(), "redialed before %s", delay)

		mock.Add(time.Millisecond)
		waitDials(i + 2)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
