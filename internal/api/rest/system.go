package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/auth"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	switch status.State {
	case "STOPPING", "STOPPED":
		c.JSON(http.StatusConflict, NewErrorResponse("SYSTEM_409", "Shutdown already in progress", status.State))
		return
	}

	principal, _ := auth.GetPrincipal(c)
	s.logger.Info("Shutdown requested over REST",
		zap.String("by", principal.Username),
		zap.Stringer("module_id", status.ModuleID))

	c.JSON(http.StatusAccepted, gin.H{
		"message":   "Shutdown initiated",
		"module_id": status.ModuleID,
	})

	// The request context ends with this handler.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lm.Config().Server.ShutdownTimeout)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}
