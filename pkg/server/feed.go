package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
)

// FeedEvent is one entry of a demo feed fixtures file:
//
//	- type: new-crisis
//	  payload:
//	    id: c-1
//	    title: Flooding in the east district
type FeedEvent struct {
	Type    string      `yaml:"type"`
	Payload interface{} `yaml:"payload"`
}

var ErrEmptyFeed = errors.New("feed has no events")

// LoadFeed reads a YAML list of events.
func LoadFeed(path string) ([]FeedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []FeedEvent
	if err := yaml.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", path, err)
	}
	if len(events) == 0 {
		return nil, ErrEmptyFeed
	}
	for i := range events {
		if events[i].Type == "" {
			return nil, fmt.Errorf("feed event %d: %w", i, broker.ErrMissingTopic)
		}
		if events[i].Type == broker.Ping {
			return nil, fmt.Errorf("feed event %d: %w", i, ErrReservedTopic)
		}
		events[i].Payload = normalize(events[i].Payload)
	}
	return events, nil
}

// normalize turns the map[interface{}]interface{} values yaml.v2 produces
// into shapes encoding/json accepts.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []interface{}:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	default:
		return v
	}
}

// feed replays its events round-robin on a cron schedule.
type feed struct {
	events   []FeedEvent
	schedule string

	mu   sync.Mutex
	next int
}

func (f *feed) pop() FeedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[f.next]
	f.next = (f.next + 1) % len(f.events)
	return ev
}

type publishFunc func(ctx context.Context, msg broker.Message) error

func (f *feed) emit(ctx context.Context, publish publishFunc) error {
	ev := f.pop()
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	return publish(ctx, broker.Message{Type: ev.Type, Payload: payload})
}

func (f *feed) run(ctx context.Context, publish publishFunc, logger *zap.Logger) error {
	c := cron.New()
	if _, err := c.AddFunc(f.schedule, func() {
		if err := f.emit(ctx, publish); err != nil {
			logger.Warn("demo feed publish failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	logger.Info("demo feed started", zap.String("schedule", f.schedule), zap.Int("events", len(f.events)))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
