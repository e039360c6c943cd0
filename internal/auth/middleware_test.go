package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(audience string, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers := append([]gin.HandlerFunc{JWTMiddleware(testSecret, audience)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		userID, _ := GetUserID(c.Request.Context())
		c.String(http.StatusOK, userID)
	})
	router.GET("/protected", handlers...)
	return router
}

func do(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddleware(t *testing.T) {
	valid := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	expired := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}}
	noSubject := Claims{}
	withAudience := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Audience: jwt.ClaimStrings{"faceverify"}}}

	tests := []struct {
		name     string
		audience string
		header   string
		status   int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + signToken(t, testSecret, valid), status: http.StatusOK},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", valid), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, testSecret, expired), status: http.StatusUnauthorized},
		{name: "missing subject", header: "Bearer " + signToken(t, testSecret, noSubject), status: http.StatusUnauthorized},
		{name: "audience mismatch", audience: "faceverify", header: "Bearer " + signToken(t, testSecret, valid), status: http.StatusUnauthorized},
		{name: "audience match", audience: "faceverify", header: "Bearer " + signToken(t, testSecret, withAudience), status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(newRouter(tt.audience), tt.header)
			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d (%s)", tt.status, resp.Code, resp.Body.String())
			}
			if tt.status == http.StatusOK && resp.Body.String() != "user-1" {
				t.Fatalf("expected subject in context, got %q", resp.Body.String())
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	router := newRouter("", RequireScope(ScopeReferencesWrite))

	reader := signToken(t, testSecret, Claims{Scope: "references:read", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	if resp := do(router, "Bearer "+reader); resp.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, resp.Code)
	}

	writer := signToken(t, testSecret, Claims{Scope: "references:read references:write", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	if resp := do(router, "Bearer "+writer); resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}
