package realtime

import "github.com/bizflycloud/crisis-stream/pkg/broker"

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	topic   string
	handler broker.Handler
	client  *Client
}

// Topic returns the topic the subscription was registered for.
func (s *Subscription) Topic() string {
	return s.topic
}

// Cancel removes this registration only. It is idempotent and may be called
// from inside a handler; a dispatch pass already running still completes on
// the subscriber list it started with.
func (s *Subscription) Cancel() {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	s.client.registry.remove(s)
}

// registry maps topics to subscribers in registration order. Topic slices are
// never modified in place, so a slice handed out by snapshot stays valid.
type registry struct {
	nextID uint64
	topics map[string][]*Subscription
}

func newRegistry() *registry {
	return &registry{topics: make(map[string][]*Subscription)}
}

func (r *registry) add(c *Client, topic string, h broker.Handler) *Subscription {
	r.nextID++
	s := &Subscription{id: r.nextID, topic: topic, handler: h, client: c}
	subs := r.topics[topic]
	r.topics[topic] = append(subs[:len(subs):len(subs)], s)
	return s
}

func (r *registry) remove(s *Subscription) bool {
	subs := r.topics[s.topic]
	for i, sub := range subs {
		if sub.id != s.id {
			continue
		}
		if len(subs) == 1 {
			delete(r.topics, s.topic)
			return true
		}
		next := make([]*Subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		r.topics[s.topic] = next
		return true
	}
	return false
}

func (r *registry) snapshot(topic string) []*Subscription {
	return r.topics[topic]
}

// clear drops every registration. IDs keep increasing, so handles issued
// before clear never match a later registration.
func (r *registry) clear() {
	r.topics = make(map[string][]*Subscription)
}

func (r *registry) topicCount() int {
	return len(r.topics)
}

func (r *registry) subscriptionCount() int {
	n := 0
	for _, subs := range r.topics {
		n += len(subs)
	}
	return n
}
