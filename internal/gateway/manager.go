package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

// Result distinguishes a completed registration from one that was already in
// place. Neither is an error.
type Result int

const (
	ResultOK Result = iota
	ResultAlreadyInitialized
	ResultAlreadyRegistered
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultAlreadyInitialized:
		return "already initialized"
	case ResultAlreadyRegistered:
		return "already registered"
	default:
		return "unknown"
	}
}

// Observer is notified about gateway traffic. Used for metrics.
type Observer interface {
	ObserveWrite(kind amm.TopicKind, err error)
	ObserveReceive(kind amm.TopicKind)
	ObserveDecodeFailure(kind amm.TopicKind)
}

const DefaultSubjectPrefix = "amm"

// Manager is the module's handle on the pub/sub network.
type Manager struct {
	transport Transport
	logger    *zap.Logger
	observer  Observer
	prefix    string
	source    string
	echo      bool

	mu            sync.Mutex
	connected     bool
	initialized   map[amm.TopicKind]bool
	publishers    map[amm.TopicKind]bool
	subscriptions []Subscription

	subCtx    context.Context
	subCancel context.CancelFunc
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSubjectPrefix sets the first subject token for every topic.
func WithSubjectPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithSource sets the CloudEvents source attribute of written envelopes.
func WithSource(source string) Option {
	return func(m *Manager) {
		m.source = source
	}
}

// WithEcho delivers samples this manager wrote back to its own subscribers.
// By default they are dropped.
func WithEcho(echo bool) Option {
	return func(m *Manager) {
		m.echo = echo
	}
}

func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// Connect opens the transport and returns a ready Manager.
func Connect(ctx context.Context, transport Transport, opts ...Option) (*Manager, error) {
	m := &Manager{
		transport:   transport,
		logger:      zap.NewNop(),
		prefix:      DefaultSubjectPrefix,
		source:      "amm://anonymous",
		initialized: make(map[amm.TopicKind]bool),
		publishers:  make(map[amm.TopicKind]bool),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := transport.Connect(ctx); err != nil {
		return nil, NewError(KindConnection, "connect", "", err)
	}

	m.subCtx, m.subCancel = context.WithCancel(context.Background())
	m.connected = true

	m.logger.Info("Gateway connected",
		zap.String("subject_prefix", m.prefix),
		zap.String("source", m.source))

	return m, nil
}

// UUIDGenerator generates module identifiers without needing a connection.
type UUIDGenerator struct{}

// GenerateIdentifier returns a random UUID in text form.
func (UUIDGenerator) GenerateIdentifier() amm.ModuleID {
	return amm.ModuleID(uuid.NewString())
}

// GenerateIdentifier returns a new process-unique module identifier.
func (m *Manager) GenerateIdentifier() amm.ModuleID {
	return UUIDGenerator{}.GenerateIdentifier()
}

// SetSource changes the envelope source, typically once the module id is known.
func (m *Manager) SetSource(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

// Subject returns the transport subject used for a topic kind.
func (m *Manager) Subject(kind amm.TopicKind) string {
	return m.prefix + "." + string(kind)
}

// Initialize prepares a topic kind for publishers and subscribers.
func (m *Manager) Initialize(kind amm.TopicKind) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ResultOK, NewError(KindRegistration, "initialize", kind, ErrNotConnected)
	}
	if m.initialized[kind] {
		return ResultAlreadyInitialized, nil
	}
	m.initialized[kind] = true

	m.logger.Debug("Topic initialized", zap.String("topic", string(kind)))
	return ResultOK, nil
}

// RegisterPublisher enables writes for an initialized topic kind.
func (m *Manager) RegisterPublisher(kind amm.TopicKind) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ResultOK, NewError(KindRegistration, "register publisher", kind, ErrNotConnected)
	}
	if !m.initialized[kind] {
		return ResultOK, NewError(KindRegistration, "register publisher", kind, ErrTopicNotInitialized)
	}
	if m.publishers[kind] {
		return ResultAlreadyRegistered, nil
	}
	m.publishers[kind] = true

	m.logger.Debug("Publisher registered", zap.String("topic", string(kind)))
	return ResultOK, nil
}

// RegisterSubscriber attaches h to its topic kind. Several subscribers may
// share a kind.
func (m *Manager) RegisterSubscriber(h Handler) (Result, error) {
	kind := h.Kind()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ResultOK, NewError(KindRegistration, "register subscriber", kind, ErrNotConnected)
	}
	if !m.initialized[kind] {
		return ResultOK, NewError(KindRegistration, "register subscriber", kind, ErrTopicNotInitialized)
	}

	subject := m.Subject(kind)
	sub, err := m.transport.Subscribe(m.subCtx, subject, func(ctx context.Context, data []byte) {
		m.deliver(ctx, kind, subject, h, data)
	})
	if err != nil {
		return ResultOK, NewError(KindRegistration, "register subscriber", kind, err)
	}
	m.subscriptions = append(m.subscriptions, sub)

	m.logger.Debug("Subscriber registered",
		zap.String("topic", string(kind)),
		zap.String("subject", subject))
	return ResultOK, nil
}

func (m *Manager) deliver(ctx context.Context, kind amm.TopicKind, subject string, h Handler, data []byte) {
	event, err := decodeEnvelope(data)
	if err != nil {
		m.logger.Warn("Dropping undecodable sample",
			zap.String("topic", string(kind)),
			zap.Error(err))
		m.observeDecodeFailure(kind)
		return
	}
	if event.Type() != kind.EventType() {
		m.logger.Warn("Dropping sample with unexpected type",
			zap.String("topic", string(kind)),
			zap.String("type", event.Type()))
		m.observeDecodeFailure(kind)
		return
	}

	if !m.echo && event.Source() == m.currentSource() {
		return
	}

	m.observeReceive(kind)

	ctx = withSampleInfo(ctx, SampleInfo{
		ID:      event.ID(),
		Source:  event.Source(),
		Topic:   kind,
		Subject: subject,
		Time:    event.Time(),
	})
	if err := h.Handle(ctx, event.Data()); err != nil {
		m.logger.Warn("Subscriber rejected sample",
			zap.String("topic", string(kind)),
			zap.Error(err))
		m.observeDecodeFailure(kind)
	}
}

func (m *Manager) currentSource() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Write publishes payload on its topic kind. The publisher for that kind must
// be registered first.
func (m *Manager) Write(ctx context.Context, payload amm.Payload) error {
	kind := payload.TopicKind()

	m.mu.Lock()
	connected := m.connected
	registered := m.publishers[kind]
	source := m.source
	m.mu.Unlock()

	err := m.write(ctx, kind, source, connected, registered, payload)
	if m.observer != nil {
		m.observer.ObserveWrite(kind, err)
	}
	return err
}

func (m *Manager) write(ctx context.Context, kind amm.TopicKind, source string, connected, registered bool, payload amm.Payload) error {
	if !connected {
		return NewError(KindWrite, "write", kind, ErrNotConnected)
	}
	if !registered {
		return NewError(KindWrite, "write", kind, ErrPublisherNotRegistered)
	}

	data, err := encodeEnvelope(source, payload)
	if err != nil {
		return NewError(KindWrite, "write", kind, err)
	}
	if err := m.transport.Publish(ctx, m.Subject(kind), data); err != nil {
		return NewError(KindWrite, "write", kind, err)
	}
	return nil
}

// Disconnect removes all subscriptions and closes the transport. Safe to call
// more than once.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = false
	subs := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	m.subCancel()

	if err := m.transport.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	m.logger.Info("Gateway disconnected")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

func (m *Manager) observeReceive(kind amm.TopicKind) {
	if m.observer != nil {
		m.observer.ObserveReceive(kind)
	}
}

func (m *Manager) observeDecodeFailure(kind amm.TopicKind) {
	if m.observer != nil {
		m.observer.ObserveDecodeFailure(kind)
	}
}
