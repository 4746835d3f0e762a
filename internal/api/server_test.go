package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"binary-options-bot/config"
	"binary-options-bot/internal/database"
)

type fakeEngine struct {
	paused  bool
	resumed bool
}

func (f *fakeEngine) GetStatus() map[string]interface{} {
	return map[string]interface{}{"phase": "RUNNING", "active_trades": 0}
}
func (f *fakeEngine) Pause()  { f.paused = true }
func (f *fakeEngine) Resume() { f.resumed = true }

type fakeReporter struct{ status map[string]interface{} }

func (f *fakeReporter) GetStatus() map[string]interface{} { return f.status }
func (f *fakeReporter) GetStats() map[string]interface{}  { return f.status }

type fakeTradeReader struct {
	trades []*database.TradeRecord
	err    error
	limit  int
}

func (f *fakeTradeReader) RecentTrades(_ context.Context, limit int) ([]*database.TradeRecord, error) {
	f.limit = limit
	return f.trades, f.err
}

func testServer(t *testing.T, authEnabled bool, trades TradeReader) (*Server, *fakeEngine) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	engine := &fakeEngine{}
	srv := NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 0, AllowedOrigins: "*"},
		config.AuthConfig{
			Enabled:             authEnabled,
			JWTSecret:           "test-secret",
			AccessTokenDuration: time.Hour,
			Username:            "operator",
			PasswordHash:        string(hash),
		},
		Deps{
			Engine:    engine,
			RiskState: func() interface{} { return map[string]interface{}{"current_stake": 2.0} },
			Learner:   &fakeReporter{status: map[string]interface{}{"state": "STABLE"}},
			Adaptive:  &fakeReporter{status: map[string]interface{}{"total": 10}},
			Trades:    trades,
		},
	)
	return srv, engine
}

func doRequest(srv *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

// TestHealthEndpoint verifies the health check needs no token
func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, true, nil)
	w := doRequest(srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

// TestHealthEndpointDegraded verifies a failing dependency probe flips the
// health status
func TestHealthEndpointDegraded(t *testing.T) {
	srv, _ := testServer(t, false, nil)
	srv.health = func(context.Context) error { return errors.New("connection refused") }
	w := doRequest(srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", w.Code)
	}
}

// TestLoginFlow verifies login issues a token that unlocks protected routes
func TestLoginFlow(t *testing.T) {
	srv, engine := testServer(t, true, nil)

	if w := doRequest(srv, http.MethodGet, "/api/status", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	body, _ := json.Marshal(map[string]string{"username": "operator", "password": "hunter2"})
	w := doRequest(srv, http.MethodPost, "/api/login", "", body)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("login response missing token: %s", w.Body.String())
	}

	w = doRequest(srv, http.MethodGet, "/api/status", resp.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", w.Code)
	}
	var status map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("status body: %v", err)
	}
	if status["phase"] != "RUNNING" {
		t.Errorf("phase = %v, want RUNNING", status["phase"])
	}

	if w = doRequest(srv, http.MethodPost, "/api/pause", resp.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("pause status = %d", w.Code)
	}
	if !engine.paused {
		t.Error("pause endpoint did not reach the engine")
	}
	if w = doRequest(srv, http.MethodPost, "/api/resume", resp.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("resume status = %d", w.Code)
	}
	if !engine.resumed {
		t.Error("resume endpoint did not reach the engine")
	}
}

// TestLoginRejectsBadPassword verifies the wrong password yields 401
func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := testServer(t, true, nil)
	body, _ := json.Marshal(map[string]string{"username": "operator", "password": "wrong"})
	if w := doRequest(srv, http.MethodPost, "/api/login", "", body); w.Code != http.StatusUnauthorized {
		t.Errorf("login status = %d, want 401", w.Code)
	}
	if w := doRequest(srv, http.MethodPost, "/api/login", "", []byte("{}")); w.Code != http.StatusBadRequest {
		t.Errorf("empty login status = %d, want 400", w.Code)
	}
}

// TestAuthDisabledOpensRoutes verifies routes are open when auth is off
func TestAuthDisabledOpensRoutes(t *testing.T) {
	srv, _ := testServer(t, false, nil)

	if w := doRequest(srv, http.MethodGet, "/api/risk", "", nil); w.Code != http.StatusOK {
		t.Errorf("risk status = %d, want 200", w.Code)
	}
	if w := doRequest(srv, http.MethodGet, "/api/learner", "", nil); w.Code != http.StatusOK {
		t.Errorf("learner status = %d, want 200", w.Code)
	}
	if w := doRequest(srv, http.MethodGet, "/api/performance", "", nil); w.Code != http.StatusOK {
		t.Errorf("performance status = %d, want 200", w.Code)
	}

	w := doRequest(srv, http.MethodPost, "/api/login", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login with auth off = %d", w.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["auth_disabled"] != true {
		t.Errorf("login response = %v, want auth_disabled", resp)
	}
}

// TestRecentTradesEndpoint covers limits, no persistence, and query errors
func TestRecentTradesEndpoint(t *testing.T) {
	reader := &fakeTradeReader{trades: []*database.TradeRecord{{Asset: "EURUSD", Status: "WIN"}}}
	srv, _ := testServer(t, false, reader)

	w := doRequest(srv, http.MethodGet, "/api/trades/recent", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trades status = %d", w.Code)
	}
	if reader.limit != 50 {
		t.Errorf("default limit = %d, want 50", reader.limit)
	}

	doRequest(srv, http.MethodGet, "/api/trades/recent?limit=10", "", nil)
	if reader.limit != 10 {
		t.Errorf("limit = %d, want 10", reader.limit)
	}

	// Out-of-range limits fall back to the default
	doRequest(srv, http.MethodGet, "/api/trades/recent?limit=9999", "", nil)
	if reader.limit != 50 {
		t.Errorf("capped limit = %d, want 50", reader.limit)
	}

	reader.err = errors.New("connection refused")
	if w = doRequest(srv, http.MethodGet, "/api/trades/recent", "", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("failing query status = %d, want 500", w.Code)
	}

	// nil reader means no persistence configured
	noStore, _ := testServer(t, false, nil)
	w = doRequest(noStore, http.MethodGet, "/api/trades/recent", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no-store trades status = %d, want 200", w.Code)
	}
}
