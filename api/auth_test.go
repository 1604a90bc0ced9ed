package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "jwt-test-secret"

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(testSecret), func(c *gin.Context) {
		caller := callerFrom(c)
		c.JSON(http.StatusOK, gin.H{"user": caller.UserID, "role": caller.Role})
	})
	r.GET("/staff", JWTAuth(testSecret), RequireRole(RoleStaff, RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	valid := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	expired := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	noSubject := Claims{Role: RoleAdmin}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid", header: "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, valid), wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", jwt.SigningMethodHS256, valid), wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, expired), wantStatus: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, noSubject), wantStatus: http.StatusUnauthorized},
	}

	router := authRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestJWTAuth_defaultsRoleToUser(t *testing.T) {
	token := signToken(t, testSecret, jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"user-1","role":"user"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		role       string
		wantStatus int
	}{
		{role: RoleUser, wantStatus: http.StatusForbidden},
		{role: RoleStaff, wantStatus: http.StatusNoContent},
		{role: RoleAdmin, wantStatus: http.StatusNoContent},
	}

	router := authRouter()
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			token := signToken(t, testSecret, jwt.SigningMethodHS256, Claims{
				Role:             tt.role,
				RegisteredClaims: jwt.RegisteredClaims{Subject: "someone"},
			})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/staff", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
