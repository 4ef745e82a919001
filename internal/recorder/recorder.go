// Package recorder persists the module configurations published in response
// to a SAVE command.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/gateway"
	"github.com/KevinKickass/OpenSimModule/internal/storage"
)

// Subscriber is the part of the gateway the recorder listens through.
type Subscriber interface {
	Initialize(kind amm.TopicKind) (gateway.Result, error)
	RegisterSubscriber(h gateway.Handler) (gateway.Result, error)
}

type Option func(*Recorder)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithLead sets how long a configuration that arrives before its SAVE is
// held. Control and configuration samples travel on separate subscriptions,
// so the write back to a SAVE may be handled first. Zero disables holding.
func WithLead(d time.Duration) Option {
	return func(r *Recorder) {
		if d >= 0 {
			r.lead = d
		}
	}
}

// WithOnRecorded is called after every stored save state.
func WithOnRecorded(fn func(storage.SaveState)) Option {
	return func(r *Recorder) {
		r.onRecorded = fn
	}
}

// DefaultLead is the hold time for configurations seen just before a SAVE.
const DefaultLead = 500 * time.Millisecond

type heldConfiguration struct {
	cfg amm.ModuleConfiguration
	at  time.Time
}

// Recorder opens a save window on every SAVE control. Configurations that
// arrive while the window is open, or at most the lead time before it
// opened, are stored under the window's session id.
type Recorder struct {
	store      storage.Store
	window     time.Duration
	lead       time.Duration
	logger     *zap.Logger
	now        func() time.Time
	onRecorded func(storage.SaveState)

	mu       sync.Mutex
	session  string
	deadline time.Time
	held     map[amm.ModuleID]heldConfiguration
	recorded int
}

func New(store storage.Store, window time.Duration, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		window: window,
		lead:   DefaultLead,
		held:   make(map[amm.ModuleID]heldConfiguration),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the recorder to control and configuration samples.
func (r *Recorder) Attach(sub Subscriber) error {
	for _, kind := range []amm.TopicKind{amm.TopicSimulationControl, amm.TopicModuleConfiguration} {
		if _, err := sub.Initialize(kind); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", kind, err)
		}
	}
	if _, err := sub.RegisterSubscriber(gateway.OnSimulationControl(r.OnControl)); err != nil {
		return fmt.Errorf("failed to subscribe to control: %w", err)
	}
	if _, err := sub.RegisterSubscriber(gateway.OnModuleConfiguration(r.OnConfiguration)); err != nil {
		return fmt.Errorf("failed to subscribe to configuration: %w", err)
	}
	return nil
}

func (r *Recorder) OnControl(ctx context.Context, control amm.SimulationControl) {
	if control.Type != amm.ControlSave {
		return
	}

	r.mu.Lock()
	now := r.now()
	r.session = xid.New().String()
	r.deadline = now.Add(r.window)
	session := r.session
	early := r.takeHeldLocked(now)
	r.mu.Unlock()

	r.logger.Info("Save window opened",
		zap.String("session_id", session),
		zap.Duration("window", r.window),
		zap.Int("held", len(early)))

	for _, cfg := range early {
		r.record(ctx, session, cfg)
	}
}

func (r *Recorder) OnConfiguration(ctx context.Context, cfg amm.ModuleConfiguration) {
	r.mu.Lock()
	now := r.now()
	session := r.session
	open := session != "" && !now.After(r.deadline)
	if !open && r.lead > 0 {
		r.pruneHeldLocked(now)
		r.held[cfg.ModuleID] = heldConfiguration{cfg: cfg, at: now}
	}
	r.mu.Unlock()

	if !open {
		r.logger.Debug("Configuration outside save window",
			zap.String("module_id", cfg.ModuleID.String()),
			zap.Bool("held", r.lead > 0))
		return
	}

	r.record(ctx, session, cfg)
}

// takeHeldLocked empties the hold and returns what is still within the
// lead time. Callers hold r.mu.
func (r *Recorder) takeHeldLocked(now time.Time) []amm.ModuleConfiguration {
	r.pruneHeldLocked(now)
	out := make([]amm.ModuleConfiguration, 0, len(r.held))
	for id, h := range r.held {
		out = append(out, h.cfg)
		delete(r.held, id)
	}
	return out
}

func (r *Recorder) pruneHeldLocked(now time.Time) {
	for id, h := range r.held {
		if now.Sub(h.at) > r.lead {
			delete(r.held, id)
		}
	}
}

func (r *Recorder) record(ctx context.Context, session string, cfg amm.ModuleConfiguration) {
	state := storage.NewSaveState(session, cfg)
	if err := r.store.SaveState(ctx, state); err != nil {
		r.logger.Error("Failed to store save state",
			zap.String("module_id", cfg.ModuleID.String()),
			zap.Error(err))
		return
	}

	r.mu.Lock()
	r.recorded++
	r.mu.Unlock()

	r.logger.Info("Save state recorded",
		zap.String("session_id", session),
		zap.String("module_id", cfg.ModuleID.String()),
		zap.String("id", state.ID.String()))

	if r.onRecorded != nil {
		r.onRecorded(*state)
	}
}

// Session returns the id of the current save window and whether it is still
// open.
func (r *Recorder) Session() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session, r.session != "" && !r.now().After(r.deadline)
}

// Recorded is the number of save states stored so far.
func (r *Recorder) Recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded
}
