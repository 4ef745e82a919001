package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/config"
)

func cheapHasher() *PasswordHasher {
	return NewPasswordHasher(WithCost(1024, 1))
}

func newTestService(t *testing.T) (*AuthService, string) {
	t.Helper()
	t.Setenv("OSM_AUTH_TEST_SECRET", "0123456789abcdef0123456789abcdef")

	hash, err := cheapHasher().HashPassword("s3cret")
	require.NoError(t, err)

	token, tokenHash, err := NewMachineTokenGenerator().GenerateMachineToken()
	require.NoError(t, err)

	svc := NewAuthService(config.AuthConfig{
		JWTSecretEnv:         "OSM_AUTH_TEST_SECRET",
		AccessTokenTTL:       time.Minute,
		OperatorUser:         "operator",
		OperatorPasswordHash: hash,
		MachineTokenHashes:   []string{tokenHash},
	}, zap.NewNop())
	return svc, token
}

func TestPasswordHasherRoundTrip(t *testing.T) {
	ph := cheapHasher()
	hash, err := ph.HashPassword("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=1024,t=1,")

	ok, err := ph.VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ph.VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ph.VerifyPassword("x", "$bcrypt$whatever")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = ph.VerifyPassword("x", strings.Replace(hash, "v=19", "v=16", 1))
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWTHandler("secret", time.Minute)
	token, expiresAt, err := j.GenerateAccessToken("operator", RoleOperator)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	claims, err := j.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username())
	assert.Equal(t, RoleOperator, claims.Role)

	_, err = NewJWTHandler("other", time.Minute).ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _, err := NewJWTHandler("secret", -time.Minute).GenerateAccessToken("operator", RoleOperator)
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(expired)
	assert.Error(t, err)
}

func TestMachineTokenFormat(t *testing.T) {
	gen := NewMachineTokenGenerator()
	token, hash, err := gen.GenerateMachineToken()
	require.NoError(t, err)

	assert.True(t, gen.ValidateTokenFormat(token))
	assert.Equal(t, hash, gen.HashToken(token))

	id, ok := gen.TokenID(token)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(token, "osm_"+id+"_"))

	assert.False(t, gen.ValidateTokenFormat("osm_short"))
	assert.False(t, gen.ValidateTokenFormat("omc_"+id+"_"+strings.Repeat("a", 64)))
	assert.False(t, gen.ValidateTokenFormat("osm_not-an-xid_"+strings.Repeat("a", 64)))
}

func TestLoginUser(t *testing.T) {
	svc, _ := newTestService(t)
	svc.passwordHasher = cheapHasher()
	ctx := context.Background()

	token, _, err := svc.LoginUser(ctx, "operator", "s3cret", "127.0.0.1")
	require.NoError(t, err)

	principal, err := svc.ValidateToken(ctx, token, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "operator", principal.Username)
	assert.True(t, principal.Has(PermOperator))
	assert.True(t, principal.Has(PermObserver))

	_, _, err = svc.LoginUser(ctx, "operator", "nope", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.LoginUser(ctx, "admin", "s3cret", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	svc := NewAuthService(config.AuthConfig{OperatorUser: "operator"}, zap.NewNop())
	_, _, err := svc.LoginUser(context.Background(), "operator", "x", "")
	assert.ErrorIs(t, err, ErrLoginDisabled)
}

func TestMachineTokenValidation(t *testing.T) {
	svc, token := newTestService(t)

	principal, err := svc.ValidateToken(context.Background(), token, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, principal.Machine)
	assert.NotEmpty(t, principal.Username)
	assert.True(t, principal.Has(PermObserver))
	assert.False(t, principal.Has(PermOperator))

	other, _, err := NewMachineTokenGenerator().GenerateMachineToken()
	require.NoError(t, err)
	_, err = svc.ValidateToken(context.Background(), other, "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, token := newTestService(t)

	router := gin.New()
	router.GET("/observe", svc.AuthMiddleware(), RequirePermission(PermObserver), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/operate", svc.AuthMiddleware(), RequirePermission(PermOperator), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(path, header string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do("/observe", ""))
	assert.Equal(t, http.StatusUnauthorized, do("/observe", "Token abc"))
	assert.Equal(t, http.StatusUnauthorized, do("/observe", "Bearer garbage"))
	assert.Equal(t, http.StatusNoContent, do("/observe", "Bearer "+token))
	assert.Equal(t, http.StatusNoContent, do("/observe", "bearer "+token))
	assert.Equal(t, http.StatusForbidden, do("/operate", "Bearer "+token))
}
