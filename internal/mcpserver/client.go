package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Fairhold platform.
type Config struct {
	APIURL       string // Base URL, e.g. "http://localhost:8080"
	APIKey       string // API key, e.g. "sk_..."
	PartyAddress string // The party's address this client acts as
}

// FairholdClient is a pure HTTP client for the Fairhold platform API.
type FairholdClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewFairholdClient creates a new client for the Fairhold platform.
func NewFairholdClient(cfg Config) *FairholdClient {
	return &FairholdClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *FairholdClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CreateEscrow opens a new escrow account with the caller as buyer.
func (c *FairholdClient) CreateEscrow(ctx context.Context, contractRef, sellerAddr, adminAddr, amount, description, endDate string) (json.RawMessage, error) {
	body := map[string]string{
		"contract_ref": contractRef,
		"buyer_addr":   c.cfg.PartyAddress,
		"seller_addr":  sellerAddr,
		"admin_addr":   adminAddr,
		"amount":       amount,
		"description":  description,
		"end_date":     endDate,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", nil, body)
}

// GetEscrow fetches a single escrow account by ID.
func (c *FairholdClient) GetEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows/"+escrowID, nil, nil)
}

// GetEscrowStatus fetches the status view for an escrow.
func (c *FairholdClient) GetEscrowStatus(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows/"+escrowID+"/status", nil, nil)
}

// ListEscrows lists escrows where the given party is buyer, seller, or administrator.
func (c *FairholdClient) ListEscrows(ctx context.Context, partyAddr string, limit int) (json.RawMessage, error) {
	if partyAddr == "" {
		partyAddr = c.cfg.PartyAddress
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/parties/"+partyAddr+"/escrows", q, nil)
}

// Deposit places the buyer's funds into escrow custody.
func (c *FairholdClient) Deposit(ctx context.Context, escrowID, amount string) (json.RawMessage, error) {
	body := map[string]string{"amount": amount}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/deposit", nil, body)
}

// Accept records the seller's acceptance, activating the contract.
func (c *FairholdClient) Accept(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/accept", nil, nil)
}

// Reject declines the contract and refunds the buyer's deposit.
func (c *FairholdClient) Reject(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/reject", nil, nil)
}

// Release pays the escrowed funds out to the seller.
func (c *FairholdClient) Release(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/release", nil, nil)
}

// Dispute freezes the escrow pending an administrator ruling.
func (c *FairholdClient) Dispute(ctx context.Context, escrowID, reason string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/dispute", nil, body)
}

// Resolve rules on a disputed escrow in favor of the buyer or the seller.
func (c *FairholdClient) Resolve(ctx context.Context, escrowID string, favorBuyer bool, justification string) (json.RawMessage, error) {
	body := map[string]any{
		"favor_buyer":   favorBuyer,
		"justification": justification,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/resolve", nil, body)
}

// GetBalance returns the party's current ledger balance.
func (c *FairholdClient) GetBalance(ctx context.Context) (json.RawMessage, error) {
	path := "/v1/parties/" + c.cfg.PartyAddress + "/balance"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}
