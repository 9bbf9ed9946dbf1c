package server

import (
	"context"
	"errors"
	"sync"
)

const backplaneBuffer = 256

var (
	ErrBackplaneClosed = errors.New("backplane closed")
	ErrBackplaneFull   = errors.New("backplane buffer full")
)

// Backplane carries encoded event frames between publishers and every hub
// instance sharing it.
type Backplane interface {
	Publish(ctx context.Context, frame []byte) error
	// Subscribe returns a channel of frames that is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// MemoryBackplane relays frames inside a single process.
type MemoryBackplane struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

func NewMemoryBackplane() *MemoryBackplane {
	return &MemoryBackplane{subs: make(map[chan []byte]struct{})}
}

func (b *MemoryBackplane) Publish(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackplaneClosed
	}
	for ch := range b.subs {
		select {
		case ch <- frame:
		default:
			return ErrBackplaneFull
		}
	}
	return nil
}

func (b *MemoryBackplane) Subscribe(ctx context.Context) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackplaneClosed
	}
	ch := make(chan []byte, backplaneBuffer)
	b.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

func (b *MemoryBackplane) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan []byte]struct{})
	return nil
}
