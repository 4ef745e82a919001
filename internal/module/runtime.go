package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/capabilities"
	"github.com/KevinKickass/OpenSimModule/internal/gateway"
	"github.com/KevinKickass/OpenSimModule/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrAlreadyAnnounced   = errors.New("operational description already published")
	ErrNotAccepting       = errors.New("module is not accepting events")
	ErrUnknownCapability  = errors.New("unknown capability")
	ErrStartupInProgress  = errors.New("module startup in progress")
	ErrInvalidStatusValue = errors.New("invalid status value")
)

// Gateway is the pub/sub surface the runtime needs. *gateway.Manager
// implements it.
type Gateway interface {
	SetSource(source string)
	Initialize(kind amm.TopicKind) (gateway.Result, error)
	RegisterPublisher(kind amm.TopicKind) (gateway.Result, error)
	RegisterSubscriber(h gateway.Handler) (gateway.Result, error)
	Write(ctx context.Context, payload amm.Payload) error
	Disconnect(ctx context.Context) error
}

// Dialer opens a gateway connection.
type Dialer func(ctx context.Context) (Gateway, error)

// BlobLoader reads the capability schema and configuration blobs.
type BlobLoader interface {
	Load(schemaFile, configurationFile string) (capabilities.Blobs, error)
}

// Timing bounds the waits around startup and shutdown.
type Timing struct {
	SettleDelay  time.Duration
	HandlerGrace time.Duration
	DrainGrace   time.Duration
}

// DefaultTiming matches the gateway defaults of the config package.
var DefaultTiming = Timing{
	SettleDelay:  250 * time.Millisecond,
	HandlerGrace: 2 * time.Second,
	DrainGrace:   100 * time.Millisecond,
}

type Option func(*Runtime)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

func WithTiming(t Timing) Option {
	return func(r *Runtime) {
		r.timing = t
	}
}

func WithIdentifierGenerator(gen IdentifierGenerator) Option {
	return func(r *Runtime) {
		if gen != nil {
			r.ids = gen
		}
	}
}

// WithClock replaces the millisecond clock used for timestamps.
func WithClock(now func() int64) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// Runtime is one simulation module: it announces itself, keeps the module
// state and reacts to control, configuration and tick events.
type Runtime struct {
	settings Settings
	timing   Timing
	dial     Dialer
	blobs    BlobLoader
	ids      IdentifierGenerator
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() int64

	// Written once during Start, before the gate opens.
	identity Identity
	gw       Gateway

	mu        sync.Mutex
	current   State
	defaults  State
	running   bool
	announced bool

	phaseMu sync.RWMutex
	phase   Phase

	gateMu    sync.RWMutex
	accepting bool
	inflight  sync.WaitGroup

	listenersMu     sync.RWMutex
	listeners       []chan StateChange
	listenersClosed bool

	done chan struct{}
}

func New(settings Settings, dial Dialer, blobs BlobLoader, opts ...Option) *Runtime {
	r := &Runtime{
		settings: settings,
		timing:   DefaultTiming,
		dial:     dial,
		blobs:    blobs,
		ids:      gateway.UUIDGenerator{},
		logger:   zap.NewNop(),
		now:      amm.NowMillis,
		phase:    PhaseUninitialized,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics.SetPhase("", r.phase.String())
	return r
}

// Start brings the module onto the network. Any failure leaves the runtime
// in PhaseFailed with the gateway disconnected and nothing published.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.setPhase(PhaseAnnouncing); err != nil {
		return err
	}

	if err := r.start(ctx); err != nil {
		r.logger.Error("Module startup failed", zap.Error(err))
		r.abort()
		return err
	}

	if err := r.setPhase(PhaseReady); err != nil {
		return err
	}

	r.logger.Info("Module ready",
		zap.String("name", r.settings.Name),
		zap.Strings("capabilities", r.settings.Capabilities))
	return nil
}

func (r *Runtime) start(ctx context.Context) error {
	// 1. Identity: the identifier comes before anything else.
	id := r.ids.GenerateIdentifier()
	r.logger = r.logger.With(zap.String("module_id", id.String()))

	blobs, err := r.blobs.Load(r.settings.CapabilitySchema, r.settings.CapabilityConfiguration)
	if err != nil {
		return gateway.NewError(gateway.KindConfigLoad, "load capabilities", "", err)
	}
	r.identity = NewIdentity(id, r.settings, blobs)
	r.logger.Info("Module identity generated")

	// 2. Connection
	gw, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect gateway: %w", err)
	}
	r.gw = gw
	gw.SetSource("amm://" + r.identity.ID.String())

	state := defaultState(r.identity.ID, r.settings, blobs, r.now())

	// 3. Operational description
	if err := r.register(amm.TopicOperationalDescription, true, nil); err != nil {
		return err
	}

	// 4. Configuration
	if err := r.register(amm.TopicModuleConfiguration, true, gateway.OnModuleConfiguration(r.OnConfiguration)); err != nil {
		return err
	}
	r.mu.Lock()
	r.current.Configuration = state.Configuration
	r.mu.Unlock()

	// 5. Simulation control
	if err := r.register(amm.TopicSimulationControl, false, gateway.OnSimulationControl(r.OnControl)); err != nil {
		return err
	}

	// 6. Status
	if err := r.register(amm.TopicStatus, true, nil); err != nil {
		return err
	}
	r.mu.Lock()
	r.current.Statuses = state.Statuses
	r.mu.Unlock()

	// 7. Tick
	if r.settings.TickSubscription {
		if err := r.register(amm.TopicTick, false, gateway.OnTick(r.OnTick)); err != nil {
			return err
		}
	}

	// 8. Default snapshot, then open the delivery gate.
	r.mu.Lock()
	r.defaults = r.current.Clone()
	r.mu.Unlock()

	r.gateMu.Lock()
	r.accepting = true
	r.gateMu.Unlock()

	// 9. Let discovery settle.
	if r.timing.SettleDelay > 0 {
		timer := time.NewTimer(r.timing.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("startup cancelled while settling: %w", ctx.Err())
		}
	}

	// 10. Announce
	if err := r.AnnounceDescription(ctx); err != nil && !errors.Is(err, ErrAlreadyAnnounced) {
		r.logger.Error("Failed to publish operational description", zap.Error(err))
	}

	r.mu.Lock()
	configuration := r.current.Configuration
	statuses := append([]amm.Status(nil), r.current.Statuses...)
	r.mu.Unlock()

	// Published copies are stamped at write time, after the settle delay.
	announcedAt := r.now()
	configuration.Timestamp = announcedAt
	_ = r.write(ctx, configuration)
	for _, status := range statuses {
		status.Timestamp = announcedAt
		_ = r.write(ctx, status)
	}

	return nil
}

func (r *Runtime) register(kind amm.TopicKind, publish bool, h gateway.Handler) error {
	res, err := r.gw.Initialize(kind)
	if err != nil {
		return err
	}
	if res != gateway.ResultOK {
		r.logger.Debug("Topic initialize", zap.String("topic", string(kind)), zap.Stringer("result", res))
	}

	if publish {
		res, err := r.gw.RegisterPublisher(kind)
		if err != nil {
			return err
		}
		if res != gateway.ResultOK {
			r.logger.Debug("Register publisher", zap.String("topic", string(kind)), zap.Stringer("result", res))
		}
	}

	if h != nil {
		if _, err := r.gw.RegisterSubscriber(h); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runtime) abort() {
	r.gateMu.Lock()
	r.accepting = false
	r.gateMu.Unlock()

	if r.gw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.timing.HandlerGrace+time.Second)
		defer cancel()
		r.waitInflight(ctx)
		if err := r.gw.Disconnect(ctx); err != nil {
			r.logger.Warn("Failed to disconnect after startup failure", zap.Error(err))
		}
	}

	if err := r.setPhase(PhaseFailed); err != nil {
		r.logger.Error("Phase transition failed", zap.Error(err))
	}
}

// AnnounceDescription publishes the operational description. It succeeds at
// most once per process.
func (r *Runtime) AnnounceDescription(ctx context.Context) error {
	r.mu.Lock()
	if r.announced {
		r.mu.Unlock()
		return ErrAlreadyAnnounced
	}
	r.announced = true
	r.mu.Unlock()

	return r.write(ctx, r.identity.Description)
}

// Run blocks until ctx is cancelled, then shuts the runtime down.
func (r *Runtime) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-r.done:
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		r.timing.HandlerGrace+r.timing.DrainGrace+5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops event delivery, waits for handlers in flight, then
// disconnects. Safe to call more than once; later calls return nil at once.
// It refuses to run while Start is announcing the module.
func (r *Runtime) Shutdown(ctx context.Context) error {
	from, first, err := r.beginShutdown()
	if err != nil || !first {
		return err
	}
	return r.shutdown(ctx, from)
}

// beginShutdown claims the shutdown under phaseMu, so the decision cannot
// interleave with the phase changes of Start.
func (r *Runtime) beginShutdown() (Phase, bool, error) {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()

	from := r.phase
	switch from {
	case PhaseAnnouncing:
		return from, false, ErrStartupInProgress
	case PhaseShuttingDown, PhaseTerminated:
		return from, false, nil
	case PhaseUninitialized, PhaseFailed:
		r.phase = PhaseTerminated
	default:
		r.phase = PhaseShuttingDown
	}
	return from, true, nil
}

func (r *Runtime) shutdown(ctx context.Context, from Phase) error {
	defer close(r.done)

	if from == PhaseUninitialized || from == PhaseFailed {
		r.metrics.SetPhase(from.String(), PhaseTerminated.String())
		r.closeListeners()
		return nil
	}

	r.metrics.SetPhase(from.String(), PhaseShuttingDown.String())
	r.logger.Info("Shutting down module")

	r.gateMu.Lock()
	r.accepting = false
	r.gateMu.Unlock()

	graceCtx, cancel := context.WithTimeout(ctx, r.timing.HandlerGrace)
	if !r.waitInflight(graceCtx) {
		r.logger.Warn("Handlers still running after grace period")
	}
	cancel()

	var shutdownErr error
	if err := r.gw.Disconnect(ctx); err != nil {
		r.logger.Error("Gateway disconnect failed", zap.Error(err))
		shutdownErr = err
	}

	if r.timing.DrainGrace > 0 {
		timer := time.NewTimer(r.timing.DrainGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	r.closeListeners()
	if err := r.setPhase(PhaseTerminated); err != nil {
		return err
	}

	r.logger.Info("Module terminated")
	return shutdownErr
}

// Done is closed once shutdown completes.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

func (r *Runtime) waitInflight(ctx context.Context) bool {
	finished := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return true
	case <-ctx.Done():
		return false
	}
}

// enter admits one handler invocation through the delivery gate.
func (r *Runtime) enter(kind amm.TopicKind) bool {
	r.gateMu.RLock()
	defer r.gateMu.RUnlock()

	if !r.accepting {
		r.metrics.ObserveIgnored(kind, "not_accepting")
		return false
	}
	r.inflight.Add(1)
	return true
}

func (r *Runtime) leave() {
	r.inflight.Done()
}

func (r *Runtime) write(ctx context.Context, payload amm.Payload) error {
	if err := r.gw.Write(ctx, payload); err != nil {
		r.logger.Error("Gateway write failed",
			zap.String("topic", string(payload.TopicKind())),
			zap.Error(err))
		return err
	}
	return nil
}

// Phase returns the current lifecycle phase.
func (r *Runtime) Phase() Phase {
	r.phaseMu.RLock()
	defer r.phaseMu.RUnlock()
	return r.phase
}

func (r *Runtime) setPhase(next Phase) error {
	r.phaseMu.Lock()
	prev := r.phase
	if err := ValidateTransition(prev, next); err != nil {
		r.phaseMu.Unlock()
		return err
	}
	r.phase = next
	r.phaseMu.Unlock()

	r.metrics.SetPhase(prev.String(), next.String())
	r.logger.Debug("Module phase changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next))
	return nil
}

// Identity is valid once Start has generated it.
func (r *Runtime) Identity() Identity {
	return r.identity
}

// Running reports the run flag.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Snapshot returns a consistent copy of the live state.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// DefaultState returns a copy of the state captured at startup.
func (r *Runtime) DefaultState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaults.Clone()
}

func (r *Runtime) snapshotLocked() Snapshot {
	return Snapshot{
		ModuleID: r.identity.ID,
		Phase:    r.Phase(),
		Running:  r.running,
		State:    r.current.Clone(),
	}
}

// SubscribeState returns a channel receiving state changes. Slow readers
// miss changes rather than block handlers.
func (r *Runtime) SubscribeState() <-chan StateChange {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	ch := make(chan StateChange, 16)
	if r.listenersClosed {
		close(ch)
		return ch
	}
	r.listeners = append(r.listeners, ch)
	return ch
}

func (r *Runtime) UnsubscribeState(ch <-chan StateChange) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	for i, listener := range r.listeners {
		if listener == ch {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			close(listener)
			break
		}
	}
}

func (r *Runtime) notify(reason string, snap Snapshot) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()

	change := StateChange{Reason: reason, Snapshot: snap}
	for _, listener := range r.listeners {
		select {
		case listener <- change:
		default:
		}
	}
}

func (r *Runtime) closeListeners() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	for _, listener := range r.listeners {
		close(listener)
	}
	r.listeners = nil
	r.listenersClosed = true
}
