package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:       ts.URL,
		APIKey:       "sk_test_key",
		PartyAddress: "party:buyer",
	}
	client := NewFairholdClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewFairholdClient(Config{APIURL: ts.URL, APIKey: "sk_secret123", PartyAddress: "party:a"})
	_, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "unauthorized",
			"message": "Caller is not a party to this escrow",
		})
	}))
	defer ts.Close()

	client := NewFairholdClient(Config{APIURL: ts.URL, APIKey: "bad", PartyAddress: "party:a"})
	_, err := client.Release(context.Background(), "esc_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Caller is not a party to this escrow")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewFairholdClient(Config{APIURL: ts.URL, APIKey: "k", PartyAddress: "party:a"})
	_, err := client.GetBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewFairholdClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k", PartyAddress: "party:a"})
	_, err := client.GetBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewFairholdClient(Config{APIURL: ts.URL, APIKey: "k", PartyAddress: "party:a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := client.GetBalance(ctx)
	require.Error(t, err)
}

func TestClient_CreateEscrow_SendsBuyerAddress(t *testing.T) {
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/escrows", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_1"}}`))
	}))
	defer ts.Close()

	client := NewFairholdClient(Config{APIURL: ts.URL, APIKey: "k", PartyAddress: "party:buyer"})
	_, err := client.CreateEscrow(context.Background(), "job-1", "party:seller", "party:admin", "5.00", "translation", "2027-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "party:buyer", gotBody["buyer_addr"])
	assert.Equal(t, "party:seller", gotBody["seller_addr"])
	assert.Equal(t, "job-1", gotBody["contract_ref"])
}

func TestClient_ListEscrows_DefaultsToOwnAddress(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"escrows": [], "count": 0}`))
	}))
	defer ts.Close()

	client := NewFairholdClient(Config{APIURL: ts.URL, APIKey: "k", PartyAddress: "party:me"})
	_, err := client.ListEscrows(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, "/v1/parties/party:me/escrows", gotPath)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleCreateEscrow_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_abc", "state": "awaiting_payment"}}`))
	}))
	defer done()

	result, err := h.HandleCreateEscrow(context.Background(), makeRequest(map[string]any{
		"contract_ref": "job-42",
		"seller":       "party:seller",
		"admin":        "party:admin",
		"amount":       "10.00",
		"end_date":     "2027-01-01T00:00:00Z",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "esc_abc")
	assert.Contains(t, text, "job-42")
	assert.Contains(t, text, "deposit_funds")
}

func TestHandleCreateEscrow_MissingArgs(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("should not reach the API")
	}))
	defer done()

	for _, args := range []map[string]any{
		{},
		{"contract_ref": "job-1"},
		{"contract_ref": "job-1", "seller": "party:s"},
		{"contract_ref": "job-1", "seller": "party:s", "admin": "party:a"},
		{"contract_ref": "job-1", "seller": "party:s", "admin": "party:a", "amount": "1.00"},
	} {
		result, err := h.HandleCreateEscrow(context.Background(), makeRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "expected error for args %v", args)
	}
}

func TestHandleGetEscrow_FormatsRecord(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"escrow": {
			"id": "esc_1",
			"contract_ref": "job-1",
			"state": "in_dispute",
			"amount": "25.500000",
			"buyer_addr": "party:buyer",
			"seller_addr": "party:seller",
			"admin_addr": "party:admin",
			"dispute_reason": "work not delivered",
			"disputed_by": "party:buyer",
			"end_date": "2027-01-01T00:00:00Z"
		}}`))
	}))
	defer done()

	result, err := h.HandleGetEscrow(context.Background(), makeRequest(map[string]any{"escrow_id": "esc_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "esc_1")
	assert.Contains(t, text, "in_dispute")
	assert.Contains(t, text, "work not delivered")
	assert.Contains(t, text, "party:buyer")
}

func TestHandleGetEscrow_NotFound(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_found",
			"message": "Escrow not found",
		})
	}))
	defer done()

	result, err := h.HandleGetEscrow(context.Background(), makeRequest(map[string]any{"escrow_id": "esc_missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Escrow not found")
}

func TestHandleListEscrows_FormatsList(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"escrows": [
			{"id": "esc_1", "state": "active", "contract_ref": "job-1", "amount": "5.000000", "buyer_addr": "party:buyer", "seller_addr": "party:s1"},
			{"id": "esc_2", "state": "completed", "contract_ref": "job-2", "amount": "9.000000", "buyer_addr": "party:buyer", "seller_addr": "party:s2"}
		], "count": 2}`))
	}))
	defer done()

	result, err := h.HandleListEscrows(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 escrow(s)")
	assert.Contains(t, text, "esc_1")
	assert.Contains(t, text, "esc_2")
	assert.Contains(t, text, "completed")
}

func TestHandleListEscrows_Empty(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"escrows": [], "count": 0}`))
	}))
	defer done()

	result, err := h.HandleListEscrows(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No escrows found.", resultText(t, result))
}

func TestHandleDepositFunds_Success(t *testing.T) {
	var gotBody map[string]string
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1/deposit", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_1", "state": "awaiting_acceptance"}}`))
	}))
	defer done()

	result, err := h.HandleDepositFunds(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_1",
		"amount":    "25.50",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "25.50", gotBody["amount"])
	assert.Contains(t, resultText(t, result), "awaiting_acceptance")
}

func TestHandleDepositFunds_AmountMismatch(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_amount",
			"message": "Deposit must match the agreed amount",
		})
	}))
	defer done()

	result, err := h.HandleDepositFunds(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_1",
		"amount":    "1.00",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Deposit must match the agreed amount")
}

func TestHandleAcceptEscrow_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1/accept", r.URL.Path)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_1", "state": "active"}}`))
	}))
	defer done()

	result, err := h.HandleAcceptEscrow(context.Background(), makeRequest(map[string]any{"escrow_id": "esc_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "active")
}

func TestHandleRejectEscrow_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1/reject", r.URL.Path)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_1", "state": "rejected"}}`))
	}))
	defer done()

	result, err := h.HandleRejectEscrow(context.Background(), makeRequest(map[string]any{"escrow_id": "esc_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "refunded")
}

func TestHandleReleaseFunds_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1/release", r.URL.Path)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_1", "state": "completed"}}`))
	}))
	defer done()

	result, err := h.HandleReleaseFunds(context.Background(), makeRequest(map[string]any{"escrow_id": "esc_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "completed")
}

func TestHandleReleaseFunds_WrongState(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_state",
			"message": "Action not allowed in current state",
		})
	}))
	defer done()

	result, err := h.HandleReleaseFunds(context.Background(), makeRequest(map[string]any{"escrow_id": "esc_1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Action not allowed in current state")
}

func TestHandleRaiseDispute_Success(t *testing.T) {
	var gotBody map[string]string
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1/dispute", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_1", "state": "in_dispute"}}`))
	}))
	defer done()

	result, err := h.HandleRaiseDispute(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_1",
		"reason":    "deliverable was empty",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "deliverable was empty", gotBody["reason"])
	assert.Contains(t, resultText(t, result), "in dispute")
}

func TestHandleRaiseDispute_RequiresReason(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("should not reach the API")
	}))
	defer done()

	result, err := h.HandleRaiseDispute(context.Background(), makeRequest(map[string]any{"escrow_id": "esc_1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleResolveDispute_FavorBuyer(t *testing.T) {
	var gotBody map[string]any
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1/resolve", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_1", "state": "completed"}}`))
	}))
	defer done()

	result, err := h.HandleResolveDispute(context.Background(), makeRequest(map[string]any{
		"escrow_id":     "esc_1",
		"favor":         "buyer",
		"justification": "seller never delivered",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, true, gotBody["favor_buyer"])
	assert.Contains(t, resultText(t, result), "refunded to the buyer")
}

func TestHandleResolveDispute_FavorSeller(t *testing.T) {
	var gotBody map[string]any
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"escrow": {"id": "esc_1", "state": "completed"}}`))
	}))
	defer done()

	result, err := h.HandleResolveDispute(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_1",
		"favor":     "seller",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, false, gotBody["favor_buyer"])
	assert.Contains(t, resultText(t, result), "paid out to the seller")
}

func TestHandleResolveDispute_InvalidFavor(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("should not reach the API")
	}))
	defer done()

	result, err := h.HandleResolveDispute(context.Background(), makeRequest(map[string]any{
		"escrow_id": "esc_1",
		"favor":     "nobody",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCheckBalance_FormatsBalance(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/parties/party:buyer/balance", r.URL.Path)
		_, _ = w.Write([]byte(`{"balance": {
			"party_addr": "party:buyer",
			"available": "12.340000",
			"held": "5.000000",
			"total_in": "20.000000",
			"total_out": "2.660000"
		}}`))
	}))
	defer done()

	result, err := h.HandleCheckBalance(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Available: 12.340000")
	assert.Contains(t, text, "Held in escrow: 5.000000")
}

func TestHandleCheckBalance_OmitsZeroFields(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"balance": {"available": "0.000000", "held": "0.000000", "total_in": "0.000000", "total_out": "0.000000"}}`))
	}))
	defer done()

	result, err := h.HandleCheckBalance(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Available: 0.000000")
	assert.NotContains(t, text, "Held in escrow")
}

func TestHandleEscrowStatus_PassesThroughJSON(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"status": {"escrow_id": "esc_1", "state": "active", "is_expired": false}}`))
	}))
	defer done()

	result, err := h.HandleEscrowStatus(context.Background(), makeRequest(map[string]any{"escrow_id": "esc_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, `"state": "active"`)
}
