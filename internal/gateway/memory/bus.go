// Package memory provides an in-process transport. Every Transport created
// from the same Bus sees the others' publications, which makes it suitable for
// tests and for running a module without a broker.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSimModule/internal/gateway"
)

var (
	ErrNotConnected = errors.New("memory transport not connected")
	ErrClosed       = errors.New("memory transport closed")
)

const defaultBufferSize = 256

// Bus is the shared medium.
type Bus struct {
	mu         sync.RWMutex
	subs       map[*subscription]struct{}
	bufferSize int
}

type BusOption func(*Bus)

// WithBufferSize sets the per-subscription queue length.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:       make(map[*subscription]struct{}),
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Transport returns a new endpoint attached to the bus.
func (b *Bus) Transport() *Transport {
	return &Transport{bus: b}
}

func (b *Bus) matching(subject string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*subscription
	for sub := range b.subs {
		if MatchSubject(sub.pattern, subject) {
			out = append(out, sub)
		}
	}
	return out
}

func (b *Bus) add(sub *subscription) {
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// MatchSubject reports whether subject matches pattern. Tokens are separated
// by '.', '*' matches one token and a trailing '>' matches the rest.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// Transport is one endpoint on a Bus. It implements gateway.Transport.
type Transport struct {
	bus *Bus

	mu        sync.Mutex
	connected bool
	closed    bool
	subs      []*subscription
	wg        sync.WaitGroup
}

var _ gateway.Transport = (*Transport)(nil)

func (t *Transport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	t.connected = true
	return nil
}

// Publish queues data on every matching subscription. It blocks while a
// subscriber's queue is full so that nothing is dropped.
func (t *Transport) Publish(ctx context.Context, subject string, data []byte) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	for _, sub := range t.bus.matching(subject) {
		msg := make([]byte, len(data))
		copy(msg, data)

		select {
		case sub.queue <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (gateway.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil, ErrNotConnected
	}

	sub := &subscription{
		owner:   t,
		pattern: subject,
		queue:   make(chan []byte, t.bus.bufferSize),
		done:    make(chan struct{}),
	}
	t.subs = append(t.subs, sub)
	t.bus.add(sub)

	t.wg.Add(1)
	go sub.run(ctx, handler, &t.wg)

	return sub, nil
}

// Close removes this endpoint's subscriptions and waits for their delivery
// goroutines to return.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscription struct {
	owner   *Transport
	pattern string
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) run(ctx context.Context, handler func(context.Context, []byte), wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			// Unsubscribe may race with a queued message.
			select {
			case <-s.done:
				return
			default:
			}
			handler(ctx, msg)
		}
	}
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.owner.bus.remove(s)
		close(s.done)
	})
	return nil
}
