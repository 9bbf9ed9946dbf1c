package realtime

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
)

// dispatch decodes one frame and runs one dispatch pass over the subscriber
// list as it stood when the pass started.
func (c *Client) dispatch(gen uint64, data []byte) {
	c.received.Add(1)

	msg, err := broker.Decode(data)
	if err != nil {
		c.malformed.Add(1)
		c.logger.Debug("dropping malformed frame", zap.Error(err), zap.Int("size", len(data)))
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	subs := c.registry.snapshot(msg.Type)
	c.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	e := broker.Event{
		Topic:      msg.Type,
		Payload:    msg.Payload,
		ReceivedAt: c.clock.Now(),
	}
	for _, s := range subs {
		c.invoke(s, e)
	}
}

func (c *Client) invoke(s *Subscription, e broker.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.handlerErrors.Add(1)
			c.logger.Error("subscriber panicked", zap.String("topic", e.Topic), zap.Any("panic", r))
		}
	}()

	if err := s.handler(e); err != nil {
		c.handlerErrors.Add(1)
		c.logger.Error("subscriber failed", zap.String("topic", e.Topic), zap.Error(err))
		return
	}
	c.delivered.Add(1)
}
