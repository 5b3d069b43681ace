package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Fairhold MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCreateEscrow = mcp.NewTool("create_escrow",
	mcp.WithDescription(
		"Open a new escrow account for a service contract, with you as the buyer. "+
			"The escrow starts in awaiting_payment; use deposit_funds to fund it. "+
			"Funds are held until you release them, the seller rejects, or an administrator resolves a dispute."),
	mcp.WithString("contract_ref",
		mcp.Required(),
		mcp.Description("Your reference for the underlying contract (e.g. an order or job ID). Must be unique.")),
	mcp.WithString("seller",
		mcp.Required(),
		mcp.Description("The seller party's address")),
	mcp.WithString("admin",
		mcp.Description("The administrator party's address (rules on disputes). Omit to use the service's configured administrator.")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Agreed contract amount (e.g. '25.50')")),
	mcp.WithString("description",
		mcp.Description("Optional free-text description of the contracted service")),
	mcp.WithString("end_date",
		mcp.Required(),
		mcp.Description("Contract end date in RFC 3339 format (e.g. '2026-10-01T00:00:00Z'). Must be in the future.")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Fetch the full record of an escrow account: parties, amount, state, and timestamps."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow account ID (e.g. 'esc_...')")),
)

var ToolEscrowStatus = mcp.NewTool("escrow_status",
	mcp.WithDescription(
		"Get a compact status view of an escrow: its current state, whether it is past "+
			"its end date, and what actions remain possible."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow account ID")),
)

var ToolListEscrows = mcp.NewTool("list_escrows",
	mcp.WithDescription(
		"List escrow accounts where a party is buyer, seller, or administrator. "+
			"Defaults to your own address."),
	mcp.WithString("party",
		mcp.Description("Party address to list escrows for (defaults to your own)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of escrows to return (default 20)")),
)

var ToolDepositFunds = mcp.NewTool("deposit_funds",
	mcp.WithDescription(
		"Deposit the agreed amount into an escrow you opened as buyer. "+
			"The deposit must match the agreed amount exactly and moves the escrow to awaiting_acceptance."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow account ID")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to deposit; must equal the escrow's agreed amount")),
)

var ToolAcceptEscrow = mcp.NewTool("accept_escrow",
	mcp.WithDescription(
		"Accept a funded contract as the seller, activating it. "+
			"Only valid while the escrow is awaiting_acceptance."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow account ID")),
)

var ToolRejectEscrow = mcp.NewTool("reject_escrow",
	mcp.WithDescription(
		"Decline a funded contract as the seller. The buyer's deposit is refunded in full "+
			"and the escrow ends in the rejected state."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow account ID")),
)

var ToolReleaseFunds = mcp.NewTool("release_funds",
	mcp.WithDescription(
		"Release the escrowed funds to the seller as the buyer, completing the contract. "+
			"Use this when the service has been delivered satisfactorily."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow account ID")),
)

var ToolRaiseDispute = mcp.NewTool("raise_dispute",
	mcp.WithDescription(
		"Dispute an active contract as buyer or seller. Funds stay frozen in escrow until "+
			"the administrator resolves the dispute in one side's favor."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow account ID")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Explanation of what went wrong")),
)

var ToolResolveDispute = mcp.NewTool("resolve_dispute",
	mcp.WithDescription(
		"Resolve a disputed escrow as its administrator. Ruling for the buyer refunds the "+
			"deposit; ruling for the seller pays the funds out. Only the escrow's administrator may do this."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow account ID")),
	mcp.WithString("favor",
		mcp.Required(),
		mcp.Description("Which side wins the dispute"),
		mcp.Enum("buyer", "seller")),
	mcp.WithString("justification",
		mcp.Description("Optional written justification for the ruling")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check your party's ledger balance on Fairhold: available funds, amounts held in "+
			"escrow, and lifetime totals in and out."),
)
