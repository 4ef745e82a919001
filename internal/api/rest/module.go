package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/module"
	"github.com/KevinKickass/OpenSimModule/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Capability documents are XML. Responses carrying them use PureJSON so
// clients see the markup unescaped.

type ModuleResponse struct {
	module.Identity
	Phase string `json:"phase"`
}

// GET /api/v1/module
func (s *Server) getModule(c *gin.Context) {
	rt := s.lm.Module()
	c.PureJSON(http.StatusOK, ModuleResponse{
		Identity: rt.Identity(),
		Phase:    rt.Phase().String(),
	})
}

// GET /api/v1/module/state
func (s *Server) getModuleState(c *gin.Context) {
	c.PureJSON(http.StatusOK, s.lm.Module().Snapshot())
}

type SetStatusRequest struct {
	Capability string `json:"capability" binding:"required"`
	Value      string `json:"value" binding:"required"`
	Message    string `json:"message"`
}

// POST /api/v1/module/status
func (s *Server) setCapabilityStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("MODULE_400", "Invalid request body", err.Error()))
		return
	}

	err := s.lm.Module().SetCapabilityStatus(c.Request.Context(), req.Capability, amm.StatusValue(req.Value), req.Message)
	switch {
	case err == nil:
	case errors.Is(err, module.ErrInvalidStatusValue):
		c.JSON(http.StatusBadRequest, NewErrorResponse("MODULE_400", "Invalid status value", err.Error()))
		return
	case errors.Is(err, module.ErrUnknownCapability):
		c.JSON(http.StatusNotFound, NewErrorResponse("MODULE_404", "Unknown capability", err.Error()))
		return
	case errors.Is(err, module.ErrNotAccepting):
		c.JSON(http.StatusConflict, NewErrorResponse("MODULE_409", "Module is not running", err.Error()))
		return
	default:
		s.logger.Error("Status update failed",
			zap.String("capability", req.Capability),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, NewErrorResponse("MODULE_502", "Status publish failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Status updated",
		"capability": req.Capability,
		"value":      req.Value,
	})
}

// POST /api/v1/module/status/republish
func (s *Server) republishStatuses(c *gin.Context) {
	err := s.lm.Module().RepublishStatuses(c.Request.Context())
	if errors.Is(err, module.ErrNotAccepting) {
		c.JSON(http.StatusConflict, NewErrorResponse("MODULE_409", "Module is not running", err.Error()))
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, NewErrorResponse("MODULE_502", "Status publish failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Statuses republished"})
}

// GET /api/v1/savestates
func (s *Server) listSaveStates(c *gin.Context) {
	store := s.lm.SaveStates()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse("SAVESTATE_503", "No save-state store configured", nil))
		return
	}

	filter := storage.ListFilter{
		ModuleID:  amm.ModuleID(c.Query("module_id")),
		SessionID: c.Query("session_id"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse("SAVESTATE_400", "Invalid limit", raw))
			return
		}
		filter.Limit = limit
	}

	states, err := store.ListSaveStates(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list save states", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("SAVESTATE_500", "Failed to list save states", err.Error()))
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"savestates": states,
		"count":      len(states),
	})
}

// GET /api/v1/savestates/:id
func (s *Server) getSaveState(c *gin.Context) {
	store := s.lm.SaveStates()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse("SAVESTATE_503", "No save-state store configured", nil))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("SAVESTATE_400", "Invalid save state ID", err.Error()))
		return
	}

	state, err := store.GetSaveState(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, NewErrorResponse("SAVESTATE_404", "Save state not found", nil))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse("SAVESTATE_500", "Failed to load save state", err.Error()))
		return
	}

	c.PureJSON(http.StatusOK, state)
}
