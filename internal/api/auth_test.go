package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"binary-options-bot/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func testAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return NewAuthenticator(config.AuthConfig{
		Enabled:             true,
		JWTSecret:           "test-secret",
		AccessTokenDuration: time.Hour,
		Username:            "operator",
		PasswordHash:        string(hash),
	})
}

// TestLoginAndValidate verifies the token round trip
func TestLoginAndValidate(t *testing.T) {
	auth := testAuthenticator(t)

	token, expiresAt, err := auth.Login("operator", "hunter2")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token == "" {
		t.Fatal("login returned an empty token")
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("expiry %v, want about an hour out", expiresAt)
	}

	claims, err := auth.Validate(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.Username != "operator" {
		t.Errorf("claims username = %q, want operator", claims.Username)
	}
}

// TestLoginRejectsBadCredentials verifies wrong user or password fail the same way
func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := testAuthenticator(t)

	if _, _, err := auth.Login("operator", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := auth.Login("admin", "hunter2"); err != ErrInvalidCredentials {
		t.Errorf("wrong username error = %v, want ErrInvalidCredentials", err)
	}
}

// TestValidateRejectsExpiredToken verifies expiry surfaces distinctly
func TestValidateRejectsExpiredToken(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	auth := NewAuthenticator(config.AuthConfig{
		Enabled:             true,
		JWTSecret:           "test-secret",
		AccessTokenDuration: -time.Minute,
		Username:            "operator",
		PasswordHash:        string(hash),
	})

	token, _, err := auth.Login("operator", "hunter2")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := auth.Validate(token); err != ErrTokenExpired {
		t.Errorf("expired token error = %v, want ErrTokenExpired", err)
	}
}

// TestValidateRejectsForeignToken verifies tokens signed elsewhere fail
func TestValidateRejectsForeignToken(t *testing.T) {
	auth := testAuthenticator(t)

	other := testAuthenticator(t)
	other.secret = []byte("different-secret")
	token, _, err := other.Login("operator", "hunter2")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := auth.Validate(token); err != ErrInvalidToken {
		t.Errorf("foreign token error = %v, want ErrInvalidToken", err)
	}
}

// TestMiddlewareGuardsRoutes verifies the bearer-token middleware
func TestMiddlewareGuardsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := testAuthenticator(t)

	router := gin.New()
	router.GET("/protected", auth.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString("username")})
	})

	// No token
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	// Garbage token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", rec.Code)
	}

	// Valid token
	token, _, err := auth.Login("operator", "hunter2")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", rec.Code)
	}
}
