package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fairhold/fairhold/internal/config"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		LogFormat:     "text",
		SweepInterval: time.Minute,
		RateLimitRPS:  1000,
	}
}

// newTestServer creates a server with in-memory stores
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestEscrowRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	escrowRoutes := map[string]bool{
		"GET:/v1/escrows/:id":              false,
		"GET:/v1/escrows/:id/status":       false,
		"GET:/v1/escrows/:id/resolution":   false,
		"GET:/v1/contracts/:ref/escrow":    false,
		"GET:/v1/parties/:address/escrows": false,
		"POST:/v1/escrows":                 false,
		"POST:/v1/escrows/:id/deposit":     false,
		"POST:/v1/escrows/:id/accept":      false,
		"POST:/v1/escrows/:id/reject":      false,
		"POST:/v1/escrows/:id/release":     false,
		"POST:/v1/escrows/:id/dispute":     false,
		"POST:/v1/escrows/:id/resolve":     false,
		"PATCH:/v1/escrows/:id/parties":    false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := escrowRoutes[key]; ok {
			escrowRoutes[key] = true
		}
	}

	for route, found := range escrowRoutes {
		if !found {
			t.Errorf("Escrow route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/parties",
		"GET:/v1/parties/:address/balance",
		"GET:/v1/parties/:address/ledger",
		"GET:/v1/escrows/:id/hold",
		"GET:/v1/admin/escrows/expired",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Party registration
// ---------------------------------------------------------------------------

func TestRegisterPartyReturnsAPIKey(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	body := `{"address": "party:alice", "name": "Alice"}`
	req := httptest.NewRequest("POST", "/v1/parties", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	apiKey, _ := resp["apiKey"].(string)
	if !strings.HasPrefix(apiKey, "sk_") {
		t.Errorf("Expected sk_-prefixed API key, got %q", apiKey)
	}
}

func TestRegisterPartyRejectsInvalidAddress(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	body := `{"address": "` + strings.Repeat("x", 200) + `"}`
	req := httptest.NewRequest("POST", "/v1/parties", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end escrow lifecycle over HTTP
// ---------------------------------------------------------------------------

// registerParty registers a party and returns its API key.
func registerParty(t *testing.T, s *Server, addr string) string {
	t.Helper()

	w := httptest.NewRecorder()
	body := fmt.Sprintf(`{"address": %q}`, addr)
	req := httptest.NewRequest("POST", "/v1/parties", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d: %s", addr, w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("register %s: parse response: %v", addr, err)
	}
	key, _ := resp["apiKey"].(string)
	return key
}

// doJSON performs an authenticated JSON request and returns the recorder.
func doJSON(s *Server, method, path, apiKey, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	s.router.ServeHTTP(w, req)
	return w
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	buyerKey := registerParty(t, s, "party:buyer")
	sellerKey := registerParty(t, s, "party:seller")

	// Create
	endDate := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	createBody := fmt.Sprintf(`{
		"contract_ref": "job-001",
		"buyer_addr": "party:buyer",
		"seller_addr": "party:seller",
		"admin_addr": "party:admin",
		"amount": "25.50",
		"end_date": %q
	}`, endDate)
	w := doJSON(s, "POST", "/v1/escrows", buyerKey, createBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Escrow struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"escrow"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("create: parse response: %v", err)
	}
	id := created.Escrow.ID
	if created.Escrow.State != "awaiting_payment" {
		t.Errorf("Expected awaiting_payment after create, got %s", created.Escrow.State)
	}

	// Deposit (buyer)
	w = doJSON(s, "POST", "/v1/escrows/"+id+"/deposit", buyerKey, `{"amount": "25.50"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Accept (seller)
	w = doJSON(s, "POST", "/v1/escrows/"+id+"/accept", sellerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Release (buyer)
	w = doJSON(s, "POST", "/v1/escrows/"+id+"/release", buyerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var released struct {
		Escrow struct {
			State string `json:"state"`
		} `json:"escrow"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &released); err != nil {
		t.Fatalf("release: parse response: %v", err)
	}
	if released.Escrow.State != "completed" {
		t.Errorf("Expected completed after release, got %s", released.Escrow.State)
	}

	// Seller's balance reflects the payout
	w = doJSON(s, "GET", "/v1/parties/party:seller/balance", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bal struct {
		Balance struct {
			Available string `json:"available"`
		} `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatalf("balance: parse response: %v", err)
	}
	if bal.Balance.Available != "25.500000" {
		t.Errorf("Expected seller available 25.500000, got %s", bal.Balance.Available)
	}
}

func TestEscrowActionsRequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/v1/escrows", "", `{"contract_ref": "job-x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}

	w = doJSON(s, "POST", "/v1/escrows/esc_missing/deposit", "", `{"amount": "1.00"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}

func TestUnknownEscrowReturns404(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/v1/escrows/esc_missing", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestAdminExpiredEscrowsDemoMode(t *testing.T) {
	s := newTestServer(t)

	// Demo mode (no ADMIN_SECRET): any authenticated caller may query.
	key := registerParty(t, s, "party:ops")
	w := doJSON(s, "GET", "/v1/admin/escrows/expired", key, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Unauthenticated callers are rejected even in demo mode.
	w = doJSON(s, "GET", "/v1/admin/escrows/expired", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}
