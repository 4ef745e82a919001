package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/KevinKickass/OpenSimModule/internal/api/rest"
	"github.com/KevinKickass/OpenSimModule/internal/api/websocket"
	"github.com/KevinKickass/OpenSimModule/internal/auth"
	"github.com/KevinKickass/OpenSimModule/internal/capabilities"
	"github.com/KevinKickass/OpenSimModule/internal/config"
	"github.com/KevinKickass/OpenSimModule/internal/gateway"
	"github.com/KevinKickass/OpenSimModule/internal/gateway/memory"
	"github.com/KevinKickass/OpenSimModule/internal/interfaces"
	"github.com/KevinKickass/OpenSimModule/internal/metrics"
	"github.com/KevinKickass/OpenSimModule/internal/module"
	"github.com/KevinKickass/OpenSimModule/internal/storage"
)

// HealthService is the gRPC health service name that follows the module.
const HealthService = "amm.Module"

type LifecycleManager struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *memory.Bus

	runtime     *module.Runtime
	store       storage.Store
	authService *auth.AuthService
	wsHub       *websocket.Hub
	hubCancel   context.CancelFunc
	scheduler   *cron.Cron

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

type Option func(*LifecycleManager)

// WithBus attaches the memory transport to a shared bus.
func WithBus(bus *memory.Bus) Option {
	return func(lm *LifecycleManager) {
		lm.bus = bus
	}
}

// WithIdentifierGenerator fixes the module id, mainly for tests.
func WithIdentifierGenerator(gen module.IdentifierGenerator) Option {
	return func(lm *LifecycleManager) {
		lm.runtime = lm.newRuntime(gen)
	}
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger, opts ...Option) *LifecycleManager {
	m := metrics.New()
	authService := auth.NewAuthService(cfg.Auth, logger.Named("auth"))

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		metrics:      m,
		authService:  authService,
		wsHub:        websocket.NewHub(logger.Named("websocket"), authService),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lm)
	}
	if lm.runtime == nil {
		lm.runtime = lm.newRuntime(nil)
	}
	lm.wsHub.SetSnapshotProvider(lm.runtime)

	return lm
}

func (lm *LifecycleManager) newRuntime(gen module.IdentifierGenerator) *module.Runtime {
	cfg := lm.config
	return module.New(
		ModuleSettings(cfg.Module),
		lm.dial,
		capabilities.NewLoader(cfg.Module.SearchPaths),
		module.WithLogger(lm.logger.Named("module")),
		module.WithMetrics(lm.metrics),
		module.WithIdentifierGenerator(gen),
		module.WithTiming(module.Timing{
			SettleDelay:  cfg.Gateway.SettleDelay,
			HandlerGrace: cfg.Gateway.HandlerGrace,
			DrainGrace:   cfg.Gateway.DrainGrace,
		}),
	)
}

// ModuleSettings maps the module section of the config onto the runtime.
func ModuleSettings(cfg config.ModuleConfig) module.Settings {
	return module.Settings{
		Name:                    cfg.Name,
		Description:             cfg.Description,
		Manufacturer:            cfg.Manufacturer,
		SerialNumber:            cfg.SerialNumber,
		Version:                 cfg.Version,
		StatusModuleName:        cfg.ModuleStatusName(),
		Capabilities:            cfg.Capabilities,
		CapabilitySchema:        cfg.CapabilitySchema,
		CapabilityConfiguration: cfg.CapabilityConfiguration,
		TickSubscription:        cfg.TickSubscription,
	}
}

func (lm *LifecycleManager) dial(ctx context.Context) (module.Gateway, error) {
	return Connect(ctx, lm.config.Gateway, lm.logger.Named("gateway"), lm.bus,
		gateway.WithObserver(lm.metrics))
}

// Config returns the active configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Module returns the module runtime
func (lm *LifecycleManager) Module() interfaces.ModuleRuntime {
	return lm.runtime
}

// Runtime returns the concrete module runtime
func (lm *LifecycleManager) Runtime() *module.Runtime {
	return lm.runtime
}

// SaveStates returns the save-state store, or nil when it could not be opened.
func (lm *LifecycleManager) SaveStates() storage.Store {
	return lm.store
}

// Metrics returns the process collectors
func (lm *LifecycleManager) Metrics() *metrics.Metrics {
	return lm.metrics
}

// Done is closed once shutdown has completed, or when the module runtime
// terminated on its own.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting simulation module",
		zap.String("name", lm.config.Module.Name),
		zap.String("transport", lm.config.Gateway.Transport))

	lm.setState(StateInitializing)
	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	lm.hubCancel = hubCancel
	go lm.wsHub.Run(hubCtx)

	if err := lm.openSaveStates(ctx); err != nil {
		lm.logger.Warn("Save-state store unavailable", zap.Error(err))
		// Continue anyway, not critical
	}

	if err := lm.startGRPCServer(); err != nil {
		return lm.fail(ctx, fmt.Errorf("failed to start gRPC: %w", err))
	}

	if err := lm.runtime.Start(ctx); err != nil {
		return lm.fail(ctx, fmt.Errorf("failed to start module: %w", err))
	}
	go lm.wsHub.Forward(hubCtx, lm.runtime.SubscribeState())

	if err := lm.startRESTServer(); err != nil {
		return lm.fail(ctx, fmt.Errorf("failed to start REST API: %w", err))
	}

	if err := lm.startScheduler(); err != nil {
		return lm.fail(ctx, fmt.Errorf("failed to schedule status republish: %w", err))
	}

	if lm.health != nil {
		lm.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	}

	go lm.watchRuntime()

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.String("module_id", lm.runtime.Identity().ID.String()),
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))

	return nil
}

func (lm *LifecycleManager) fail(ctx context.Context, err error) error {
	lm.logger.Error("Startup failed", zap.Error(err))
	lm.setState(StateError)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lm.config.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := lm.Shutdown(shutdownCtx); shutdownErr != nil {
		lm.logger.Warn("Cleanup after failed startup incomplete", zap.Error(shutdownErr))
	}
	return err
}

// watchRuntime shuts the process down when the runtime terminates without
// going through Shutdown.
func (lm *LifecycleManager) watchRuntime() {
	select {
	case <-lm.runtime.Done():
	case <-lm.shutdownChan:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lm.config.Server.ShutdownTimeout)
	defer cancel()
	if err := lm.Shutdown(ctx); err != nil {
		lm.logger.Error("Shutdown after module termination failed", zap.Error(err))
	}
}

func (lm *LifecycleManager) openSaveStates(ctx context.Context) error {
	store, err := storage.Open(ctx, lm.config.SaveState, lm.logger.Named("storage"))
	if err != nil {
		return err
	}
	lm.store = store
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	if lm.config.Server.GRPCPort == 0 {
		return nil
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.health = health.NewServer()
	lm.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", healthpb.Health_ServiceDesc.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	if lm.config.Server.HTTPPort == 0 {
		return nil
	}
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub, lm.authService, lm.metrics)
	return lm.restServer.Start()
}

// startScheduler republishes every status on the configured cron schedule.
func (lm *LifecycleManager) startScheduler() error {
	spec := lm.config.Module.StatusRepublish
	if spec == "" {
		return nil
	}

	lm.scheduler = cron.New(cron.WithSeconds())
	_, err := lm.scheduler.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), lm.config.Gateway.HandlerGrace)
		defer cancel()
		if err := lm.runtime.RepublishStatuses(ctx); err != nil && !errors.Is(err, module.ErrNotAccepting) {
			lm.logger.Warn("Status republish failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	lm.scheduler.Start()
	lm.logger.Info("Status republish scheduled", zap.String("schedule", spec))
	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	if lm.health != nil {
		lm.health.Shutdown()
	}

	// 1. No more scheduled writes
	if lm.scheduler != nil {
		select {
		case <-lm.scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}

	// 2. Module leaves the network; this drains its handlers
	if err := lm.runtime.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("module shutdown failed: %w", err))
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 3. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 4. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}
	close(errChan)
	for err := range errChan {
		errs = append(errs, err)
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	if lm.store != nil {
		if err := lm.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("save-state store close failed: %w", err))
		}
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if lm.currentState == state {
		return
	}
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
}

// State returns the process state
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	snap := lm.runtime.Snapshot()
	status := interfaces.SystemStatus{
		State:            state.String(),
		ModuleID:         snap.ModuleID,
		Phase:            snap.Phase.String(),
		Running:          snap.Running,
		ConnectedClients: lm.wsHub.GetClientCount(),
	}
	if !startedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return status
}
