package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/config"
)

type Permission string

const (
	PermObserver Permission = "observer"
	PermOperator Permission = "operator"
)

const RoleOperator = "operator"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginDisabled      = errors.New("operator login is not configured")
	ErrInvalidToken       = errors.New("invalid token")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Username    string       `json:"username,omitempty"`
	Role        string       `json:"role,omitempty"`
	Machine     bool         `json:"machine"`
	Permissions []Permission `json:"permissions"`
}

func (p Principal) Has(perm Permission) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// AuthService authenticates the configured operator and machine tokens.
type AuthService struct {
	cfg             config.AuthConfig
	logger          *zap.Logger
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	machineTokenGen *MachineTokenGenerator
	machineTokens   map[string]struct{}
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready", zap.String("env", cfg.JWTSecretEnv))
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	tokens := make(map[string]struct{}, len(cfg.MachineTokenHashes))
	for _, hash := range cfg.MachineTokenHashes {
		tokens[hash] = struct{}{}
	}

	return &AuthService{
		cfg:             cfg,
		logger:          logger,
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), ttl),
		passwordHasher:  NewPasswordHasher(),
		machineTokenGen: NewMachineTokenGenerator(),
		machineTokens:   tokens,
	}
}

// LoginUser checks the operator credentials and issues an access token.
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress string) (string, time.Time, error) {
	if a.cfg.OperatorPasswordHash == "" {
		return "", time.Time{}, ErrLoginDisabled
	}

	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.OperatorUser)) == 1
	valid, err := a.passwordHasher.VerifyPassword(password, a.cfg.OperatorPasswordHash)
	if err != nil {
		a.logger.Error("Operator password hash is unusable", zap.Error(err))
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !userMatch || !valid {
		a.logAuthEvent("user_login_failed", username, ipAddress, false)
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken(username, RoleOperator)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent("user_login_success", username, ipAddress, true)
	return token, expiresAt, nil
}

// ValidateMachineToken accepts tokens whose hash is configured. Machine
// tokens only observe.
func (a *AuthService) ValidateMachineToken(token, ipAddress string) (Principal, error) {
	id, ok := a.machineTokenGen.TokenID(token)
	if !ok {
		return Principal{}, ErrInvalidToken
	}

	if _, ok := a.machineTokens[a.machineTokenGen.HashToken(token)]; !ok {
		a.logAuthEvent("machine_token_failed", id, ipAddress, false)
		return Principal{}, ErrInvalidToken
	}

	return Principal{Username: id, Machine: true, Permissions: []Permission{PermObserver}}, nil
}

// ValidateToken accepts an operator JWT or a configured machine token.
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress string) (Principal, error) {
	if strings.HasPrefix(token, machineTokenPrefix) {
		return a.ValidateMachineToken(token, ipAddress)
	}

	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		a.logger.Debug("Rejected access token", zap.String("ip", ipAddress), zap.Error(err))
		return Principal{}, ErrInvalidToken
	}
	return Principal{
		Username:    claims.Username(),
		Role:        claims.Role,
		Permissions: a.roleToPermissions(claims.Role),
	}, nil
}

func (a *AuthService) roleToPermissions(role string) []Permission {
	switch role {
	case RoleOperator:
		return []Permission{PermObserver, PermOperator}
	default:
		return []Permission{PermObserver}
	}
}

func (a *AuthService) logAuthEvent(eventType, username, ip string, success bool) {
	a.logger.Info("Auth event",
		zap.String("event", eventType),
		zap.String("username", username),
		zap.String("ip", ip),
		zap.Bool("success", success))
}
