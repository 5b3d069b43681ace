package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *FairholdClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *FairholdClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCreateEscrow opens a new escrow account.
func (h *Handlers) HandleCreateEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contractRef := req.GetString("contract_ref", "")
	if contractRef == "" {
		return mcp.NewToolResultError("contract_ref is required"), nil
	}
	seller := req.GetString("seller", "")
	if seller == "" {
		return mcp.NewToolResultError("seller is required"), nil
	}
	admin := req.GetString("admin", "")
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	endDate := req.GetString("end_date", "")
	if endDate == "" {
		return mcp.NewToolResultError("end_date is required"), nil
	}
	description := req.GetString("description", "")

	raw, err := h.client.CreateEscrow(ctx, contractRef, seller, admin, amount, description, endDate)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create escrow: %v", err)), nil
	}

	escrowID, err := extractEscrowID(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow created for contract %s\n"+
			"Escrow ID: %s\n"+
			"Amount: %s\n"+
			"State: awaiting_payment\n\n"+
			"Use deposit_funds with this escrow_id to fund it.",
		contractRef, escrowID, amount)), nil
}

// HandleGetEscrow fetches a single escrow account.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleEscrowStatus fetches the status view for an escrow.
func (h *Handlers) HandleEscrowStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrowStatus(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow status: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleListEscrows lists a party's escrows.
func (h *Handlers) HandleListEscrows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	party := req.GetString("party", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListEscrows(ctx, party, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list escrows: %v", err)), nil
	}

	text, err := formatEscrowList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrows: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleDepositFunds deposits the agreed amount into an escrow.
func (h *Handlers) HandleDepositFunds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}

	if _, err := h.client.Deposit(ctx, escrowID, amount); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Deposit failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Deposited %s into escrow %s.\n"+
			"State: awaiting_acceptance\n\n"+
			"The funds are held until the seller accepts or rejects the contract.",
		amount, escrowID)), nil
}

// HandleAcceptEscrow accepts a funded contract as the seller.
func (h *Handlers) HandleAcceptEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	if _, err := h.client.Accept(ctx, escrowID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Accept failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s accepted. The contract is now active.\n"+
			"The buyer releases the funds on delivery, or either side may raise a dispute.",
		escrowID)), nil
}

// HandleRejectEscrow declines a funded contract as the seller.
func (h *Handlers) HandleRejectEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	if _, err := h.client.Reject(ctx, escrowID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reject failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s rejected. The buyer's deposit has been refunded in full.",
		escrowID)), nil
}

// HandleReleaseFunds releases the escrowed funds to the seller.
func (h *Handlers) HandleReleaseFunds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	if _, err := h.client.Release(ctx, escrowID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Release failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s released. Funds have been paid out to the seller and the contract is completed.",
		escrowID)), nil
}

// HandleRaiseDispute disputes an active contract.
func (h *Handlers) HandleRaiseDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	if _, err := h.client.Dispute(ctx, escrowID, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Dispute failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s is now in dispute.\n"+
			"Reason: %s\n"+
			"Funds stay frozen until the administrator resolves the dispute.",
		escrowID, reason)), nil
}

// HandleResolveDispute rules on a disputed escrow as its administrator.
func (h *Handlers) HandleResolveDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	favor := req.GetString("favor", "")
	if favor != "buyer" && favor != "seller" {
		return mcp.NewToolResultError("favor must be 'buyer' or 'seller'"), nil
	}
	justification := req.GetString("justification", "")

	if _, err := h.client.Resolve(ctx, escrowID, favor == "buyer", justification); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Resolve failed: %v", err)), nil
	}

	outcome := "Funds paid out to the seller."
	if favor == "buyer" {
		outcome = "Deposit refunded to the buyer."
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute on escrow %s resolved in favor of the %s.\n%s",
		escrowID, favor, outcome)), nil
}

// HandleCheckBalance returns the party's ledger balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBalance(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func extractEscrowID(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	// Try resp.escrow.id
	if escrow, ok := resp["escrow"].(map[string]any); ok {
		if id, ok := escrow["id"].(string); ok {
			return id, nil
		}
	}
	// Try resp.id
	if id, ok := resp["id"].(string); ok {
		return id, nil
	}
	return "", fmt.Errorf("no escrow ID in response: %s", string(raw))
}

func formatEscrow(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	esc := resp
	if e, ok := resp["escrow"].(map[string]any); ok {
		esc = e
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow %s\n", getString(esc, "id"))
	fmt.Fprintf(&sb, "  Contract: %s\n", getString(esc, "contract_ref"))
	fmt.Fprintf(&sb, "  State: %s\n", getString(esc, "state"))
	fmt.Fprintf(&sb, "  Amount: %s\n", getString(esc, "amount"))
	fmt.Fprintf(&sb, "  Buyer: %s\n", getString(esc, "buyer_addr"))
	fmt.Fprintf(&sb, "  Seller: %s\n", getString(esc, "seller_addr"))
	fmt.Fprintf(&sb, "  Administrator: %s\n", getString(esc, "admin_addr"))
	if v := getString(esc, "description"); v != "" {
		fmt.Fprintf(&sb, "  Description: %s\n", v)
	}
	if v := getString(esc, "dispute_reason"); v != "" {
		fmt.Fprintf(&sb, "  Dispute reason: %s (raised by %s)\n", v, getString(esc, "disputed_by"))
	}
	fmt.Fprintf(&sb, "  End date: %s\n", getString(esc, "end_date"))
	return sb.String(), nil
}

func formatEscrowList(raw json.RawMessage) (string, error) {
	var resp struct {
		Escrows []map[string]any `json:"escrows"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected escrows response format")
	}
	if len(resp.Escrows) == 0 {
		return "No escrows found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d escrow(s):\n\n", len(resp.Escrows))
	for i, e := range resp.Escrows {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, getString(e, "id"), getString(e, "state"))
		fmt.Fprintf(&sb, "   Contract: %s | Amount: %s\n", getString(e, "contract_ref"), getString(e, "amount"))
		fmt.Fprintf(&sb, "   Buyer: %s | Seller: %s\n", getString(e, "buyer_addr"), getString(e, "seller_addr"))
		if i < len(resp.Escrows)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	// Balance might be at top level or nested under "balance"
	bal := resp
	if b, ok := resp["balance"].(map[string]any); ok {
		bal = b
	}

	var sb strings.Builder
	sb.WriteString("Ledger balance:\n")
	fmt.Fprintf(&sb, "  Available: %s\n", getString(bal, "available"))
	if v := getString(bal, "held"); v != "" && v != "0" && v != "0.000000" {
		fmt.Fprintf(&sb, "  Held in escrow: %s\n", v)
	}
	if v := getString(bal, "total_in"); v != "" && v != "0" && v != "0.000000" {
		fmt.Fprintf(&sb, "  Total in: %s\n", v)
	}
	if v := getString(bal, "total_out"); v != "" && v != "0" && v != "0.000000" {
		fmt.Fprintf(&sb, "  Total out: %s\n", v)
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}
