// Package natsbus carries gateway envelopes over NATS core subjects.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/gateway"
)

var ErrNotConnected = errors.New("not connected to NATS")

// Client is a gateway.Transport backed by a single NATS connection.
type Client struct {
	url    string
	logger *zap.Logger

	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	mu     sync.RWMutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed atomic.Bool

	connClosed     chan struct{}
	connClosedOnce sync.Once

	reconnects atomic.Int32
}

type Option func(*Client)

func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

func WithMaxReconnects(n int) Option {
	return func(c *Client) {
		c.maxReconnects = n
	}
}

func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectWait = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.drainTimeout = d
		}
	}
}

func New(url string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:           url,
		logger:        logger,
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
		connClosed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ gateway.Transport = (*Client)(nil)

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Reconnects returns how often the connection was re-established.
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

func (c *Client) options() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.reconnects.Add(1)
			c.logger.Info("NATS reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.connClosedOnce.Do(func() { close(c.connClosed) })
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("NATS async error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	return opts
}

// Connect dials the server, giving up when ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}

	c.logger.Info("Connecting to NATS", zap.String("url", c.url))

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.options()...)
		done <- result{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("failed to connect to %s: %w", c.url, r.err)
		}
		c.mu.Lock()
		c.conn = r.conn
		c.mu.Unlock()
	case <-ctx.Done():
		// The dial goroutine may still succeed; close whatever it returns.
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return fmt.Errorf("connection cancelled: %w", ctx.Err())
	}

	c.logger.Info("Connected to NATS", zap.String("url", c.url))
	return nil
}

func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Subscribe registers handler on subject. NATS delivers the messages of one
// subscription sequentially, which keeps per-topic order.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (gateway.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		handler(ctx, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	// Make sure the server knows about the interest before anyone publishes.
	if err := c.conn.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}

	c.subs = append(c.subs, sub)
	return sub, nil
}

// Close drains the connection, bounded by ctx and the drain timeout.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Subject, err))
		}
	}
	c.subs = nil

	if c.conn == nil {
		return errors.Join(errs...)
	}

	// Drain returns immediately; the closed handler fires once it finished.
	if err := c.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, fmt.Errorf("drain: %w", err))
	}

	select {
	case <-c.connClosed:
	case <-time.After(c.drainTimeout):
		errs = append(errs, fmt.Errorf("drain timeout after %v", c.drainTimeout))
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("context cancelled during drain: %w", ctx.Err()))
	}

	c.conn.Close()
	c.conn = nil

	c.logger.Info("NATS connection closed", zap.String("url", c.url))
	return errors.Join(errs...)
}
