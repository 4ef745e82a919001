package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSimModule/internal/api/websocket"
	"github.com/KevinKickass/OpenSimModule/internal/auth"
	"github.com/KevinKickass/OpenSimModule/internal/config"
	"github.com/KevinKickass/OpenSimModule/internal/interfaces"
	"github.com/KevinKickass/OpenSimModule/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
	metrics     *metrics.Metrics
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
		metrics:     m,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("Starting REST API server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
		}

		protected := v1.Group("")
		protected.Use(s.authService.AuthMiddleware())
		{
			protected.GET("/auth/me", s.getCurrentPrincipal)
			protected.GET("/metrics", auth.RequirePermission(auth.PermObserver), s.metricsHandler)

			module := protected.Group("/module")
			{
				module.GET("", auth.RequirePermission(auth.PermObserver), s.getModule)
				module.GET("/state", auth.RequirePermission(auth.PermObserver), s.getModuleState)
				module.POST("/status", auth.RequirePermission(auth.PermOperator), s.setCapabilityStatus)
				module.POST("/status/republish", auth.RequirePermission(auth.PermOperator), s.republishStatuses)
			}

			saves := protected.Group("/savestates")
			saves.Use(auth.RequirePermission(auth.PermObserver))
			{
				saves.GET("", s.listSaveStates)
				saves.GET("/:id", s.getSaveState)
			}

			system := protected.Group("/system")
			{
				system.GET("/status", auth.RequirePermission(auth.PermObserver), s.getSystemStatus)
				system.POST("/shutdown", auth.RequirePermission(auth.PermOperator), s.shutdown)
			}

			protected.GET("/ws/status", auth.RequirePermission(auth.PermObserver), s.wsStatus)
		}

		// The websocket authenticates with its first message.
		v1.GET("/ws/live", s.wsLiveConnection)
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) metricsHandler(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse("METRICS_503", "Metrics disabled", nil))
		return
	}
	s.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"phase":     s.lm.Module().Phase().String(),
		"timestamp": time.Now().Unix(),
	})
}
