package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	svc.RegisterAPICredentials("key", "secret")
	svc.RegisterAPICredentials("ops", "ops-secret", PermissionInternal)

	token, err := svc.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.Expiration, time.Minute)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "key", claims.ClientID)
	assert.True(t, claims.HasPermission(PermissionTrade))
	assert.False(t, claims.HasPermission(PermissionInternal))

	ops, err := svc.GenerateToken(Credentials{APIKey: "ops", APISecret: "ops-secret"})
	require.NoError(t, err)
	claims, err = svc.ValidateToken(ops.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{PermissionInternal}, claims.Permissions)
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	svc.RegisterAPICredentials("key", "secret")

	_, err := svc.GenerateToken(Credentials{APIKey: "key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.GenerateToken(Credentials{APIKey: "unknown", APISecret: "secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	svc.RegisterAPICredentials("key", "secret")
	token, err := svc.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)

	other := NewService("other-secret", time.Hour)
	_, err = other.ValidateToken(token.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewService("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired.RegisterAPICredentials("key", "secret")
	old, err := expired.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)
	_, err = svc.ValidateToken(old.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService("test-secret", time.Hour)
	svc.RegisterAPICredentials("key", "secret")

	router := gin.New()
	router.POST("/api/v1/auth/token", NewGinHandlers(svc).GenerateTokenHandler())

	for body, want := range map[string]int{
		`{"api_key":"key","api_secret":"secret"}`: http.StatusCreated,
		`{"api_key":"key","api_secret":"nope"}`:   http.StatusUnauthorized,
		`{"api_key":"key"}`:                       http.StatusBadRequest,
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, body)
	}
}
