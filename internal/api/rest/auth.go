package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSimModule/internal/auth"
	"github.com/gin-gonic/gin"
)

// Login request/response types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	accessToken, expiresAt, err := s.authService.LoginUser(
		c.Request.Context(),
		req.Username,
		req.Password,
		c.ClientIP(),
	)
	if errors.Is(err, auth.ErrLoginDisabled) {
		c.JSON(http.StatusForbidden, NewErrorResponse("AUTH_403", "Operator login is disabled", nil))
		return
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
	})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentPrincipal(c *gin.Context) {
	principal, ok := auth.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("AUTH_401", "Not authenticated", nil))
		return
	}
	c.JSON(http.StatusOK, principal)
}
