package services_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"dinepay/internal/services"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain keeps test output free of service logs.
func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	os.Exit(m.Run())
}

const testJWTSecret = "test_jwt_secret"

func TestAuthService_IssueAndValidateToken(t *testing.T) {
	authService := services.NewAuthService(testJWTSecret, "")

	token, err := authService.IssueToken("user-42", "Khoi", "")
	require.NoError(t, err)

	identity, err := authService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", identity.UserID)
	assert.Equal(t, "Khoi", identity.Name)
	assert.False(t, identity.IsStaff())

	token, err = authService.IssueToken("kitchen-1", "Kitchen", services.RoleStaff)
	require.NoError(t, err)
	identity, err = authService.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, identity.IsStaff())
}

func TestAuthService_ValidateToken(t *testing.T) {
	authService := services.NewAuthService(testJWTSecret, "")

	sign := func(claims jwt.MapClaims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	future := time.Now().Add(time.Hour).Unix()

	identity, err := authService.ValidateToken(sign(jwt.MapClaims{"sub": "user-7", "exp": future}, testJWTSecret))
	require.NoError(t, err)
	assert.Equal(t, "user-7", identity.UserID)

	_, err = authService.ValidateToken(sign(jwt.MapClaims{"user_id": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}, testJWTSecret))
	assert.Error(t, err, "expired token")

	_, err = authService.ValidateToken(sign(jwt.MapClaims{"user_id": "user-1", "exp": future}, "wrong_secret"))
	assert.Error(t, err, "wrong secret")

	_, err = authService.ValidateToken(sign(jwt.MapClaims{"exp": future}, testJWTSecret))
	assert.Error(t, err, "no user id")

	_, err = authService.ValidateToken("invalid.token.string")
	assert.Error(t, err)
}

func TestAuthService_VerifyAPIKey(t *testing.T) {
	hash, err := services.HashAPIKey("sepay-secret")
	require.NoError(t, err)
	authService := services.NewAuthService(testJWTSecret, hash)

	assert.NoError(t, authService.VerifyAPIKey("sepay-secret"))
	assert.ErrorIs(t, authService.VerifyAPIKey("guess"), services.ErrInvalidAPIKey)
	assert.ErrorIs(t, authService.VerifyAPIKey(""), services.ErrInvalidAPIKey)

	unconfigured := services.NewAuthService(testJWTSecret, "")
	assert.ErrorIs(t, unconfigured.VerifyAPIKey("sepay-secret"), services.ErrInvalidAPIKey)
}
