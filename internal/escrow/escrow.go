// Package escrow implements two-party service contract escrow accounts:
// a buyer deposits funds which are held until the seller delivers and the
// buyer releases them, with an administrator arbitrating disputes.
package escrow

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// State is the lifecycle state of an escrow account.
type State string

const (
	StateAwaitingPayment    State = "awaiting_payment"
	StateAwaitingAcceptance State = "awaiting_acceptance"
	StateActive             State = "active"
	StateInDispute          State = "in_dispute"
	StateCompleted          State = "completed"
	StateRejected           State = "rejected"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateRejected
}

// Action is a caller-initiated operation on an escrow account.
type Action string

const (
	ActionDeposit Action = "deposit"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionRelease Action = "release"
	ActionDispute Action = "dispute"
	ActionResolve Action = "resolve"
)

// Role identifies which party on an account may perform an action.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
	// RoleParty is satisfied by either the buyer or the seller.
	RoleParty Role = "party"
)

var (
	ErrNotFound          = errors.New("escrow account not found")
	ErrValidation        = errors.New("invalid request")
	ErrInvalidState      = errors.New("action not allowed in current state")
	ErrUnauthorized      = errors.New("caller not authorized for this action")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrDuplicateContract = errors.New("contract reference already has an escrow account")
	ErrLedgerFailure     = errors.New("ledger operation failed")
)

// transition describes one legal (state, action) edge: who may take it
// and where it leads. Authorization and state checks share this single
// table so the two can never drift apart.
type transition struct {
	role Role
	next State
}

var transitions = map[State]map[Action]transition{
	StateAwaitingPayment: {
		ActionDeposit: {role: RoleBuyer, next: StateAwaitingAcceptance},
	},
	StateAwaitingAcceptance: {
		ActionAccept: {role: RoleSeller, next: StateActive},
		ActionReject: {role: RoleSeller, next: StateRejected},
	},
	StateActive: {
		ActionRelease: {role: RoleBuyer, next: StateCompleted},
		ActionDispute: {role: RoleParty, next: StateInDispute},
	},
	StateInDispute: {
		ActionResolve: {role: RoleAdmin, next: StateCompleted},
	},
}

// Allowed returns the role permitted to perform action in state and the
// resulting state. ok is false when the edge does not exist.
func Allowed(state State, action Action) (Role, State, bool) {
	t, ok := transitions[state][action]
	if !ok {
		return "", "", false
	}
	return t.role, t.next, true
}

// Account is an escrow account backing one service contract.
type Account struct {
	ID            string     `json:"id"`
	ContractRef   string     `json:"contract_ref"`
	BuyerAddr     string     `json:"buyer_addr"`
	SellerAddr    string     `json:"seller_addr"`
	AdminAddr     string     `json:"admin_addr"`
	Amount        string     `json:"amount"`
	Description   string     `json:"description,omitempty"`
	State         State      `json:"state"`
	DisputeReason string     `json:"dispute_reason,omitempty"`
	DisputedBy    string     `json:"disputed_by,omitempty"`
	EndDate       time.Time  `json:"end_date"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DepositedAt   *time.Time `json:"deposited_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// HasParty reports whether addr is the buyer, seller or administrator.
func (a *Account) HasParty(addr string) bool {
	return addr == a.BuyerAddr || addr == a.SellerAddr || addr == a.AdminAddr
}

// roleOf maps a caller address to its role on the account. An address
// that matches no party returns "".
func (a *Account) roleOf(addr string) Role {
	switch addr {
	case a.BuyerAddr:
		return RoleBuyer
	case a.SellerAddr:
		return RoleSeller
	case a.AdminAddr:
		return RoleAdmin
	}
	return ""
}

// authorize checks the transition table for (account state, action) and
// verifies the caller holds the required role. It returns the next state.
func (a *Account) authorize(action Action, caller string) (State, error) {
	t, ok := transitions[a.State][action]
	if !ok {
		return "", ErrInvalidState
	}
	role := a.roleOf(caller)
	if role == "" {
		return "", ErrUnauthorized
	}
	switch t.role {
	case RoleParty:
		if role != RoleBuyer && role != RoleSeller {
			return "", ErrUnauthorized
		}
	default:
		if role != t.role {
			return "", ErrUnauthorized
		}
	}
	return t.next, nil
}

// StatusView is a read-only snapshot of an account's position in its
// lifecycle, including the advisory end-date flag.
type StatusView struct {
	ID          string     `json:"id"`
	ContractRef string     `json:"contract_ref"`
	State       State      `json:"state"`
	Amount      string     `json:"amount"`
	IsTerminal  bool       `json:"is_terminal"`
	IsExpired   bool       `json:"is_expired"`
	EndDate     time.Time  `json:"end_date"`
	DepositedAt *time.Time `json:"deposited_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Resolution is the immutable record of an administrator ruling on a
// disputed account.
type Resolution struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	FavorBuyer    bool      `json:"favor_buyer"`
	Justification string    `json:"justification,omitempty"`
	ResolverAddr  string    `json:"resolver_addr"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists escrow accounts. UpdateFrom is a compare-and-swap on
// the account's state so concurrent transitions cannot both win.
type Store interface {
	Create(ctx context.Context, acc *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByContractRef(ctx context.Context, ref string) (*Account, error)
	UpdateFrom(ctx context.Context, acc *Account, prev State) error
	ListByParty(ctx context.Context, addr string, limit int) ([]*Account, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Account, error)
}

// ResolutionStore persists dispute resolutions.
type ResolutionStore interface {
	CreateResolution(ctx context.Context, res *Resolution) error
	GetResolution(ctx context.Context, accountID string) (*Resolution, error)
}

// Ledger is the value-transfer boundary. Implementations move real funds;
// the escrow service only decides when a movement is permitted. accountID
// is the escrow account the funds are held under.
type Ledger interface {
	Hold(ctx context.Context, accountID, fromParty string, amount *big.Int) error
	Payout(ctx context.Context, accountID, toParty string, amount *big.Int) error
	Refund(ctx context.Context, accountID, toParty string, amount *big.Int) error
	HasSufficientDeposit(ctx context.Context, accountID string) (bool, error)
}
