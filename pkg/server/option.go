package server

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
// A "unix://" prefix listens on a unix socket.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithBackplane returns an Option which set the backplane events are relayed through.
func WithBackplane(b Backplane) Option {
	return func(s *Server) error {
		if b == nil {
			return errors.New("nil backplane")
		}
		s.backplane = b
		return nil
	}
}

// WithFeed returns an Option which replays the events of a YAML fixtures file
// on the given cron schedule.
func WithFeed(path, schedule string) Option {
	return func(s *Server) error {
		events, err := LoadFeed(path)
		if err != nil {
			return err
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			return err
		}
		s.feed = &feed{events: events, schedule: schedule}
		return nil
	}
}

// WithSendQueueSize returns an Option which set the per client outbound queue length.
func WithSendQueueSize(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return errors.New("send queue size must be positive")
		}
		s.queueSize = n
		return nil
	}
}

// WithWriteTimeout returns an Option which bound each websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return errors.New("write timeout must be positive")
		}
		s.writeTimeout = d
		return nil
	}
}

// WithShutdownTimeout returns an Option which bound the graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.shutdownTimeout = d
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
