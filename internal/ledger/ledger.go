// Package ledger tracks party balances and the funds held in custody
// for escrow accounts.
//
// Flow:
//  1. A buyer's deposit creates a hold tied to the escrow account
//  2. Held funds leave the buyer's control but belong to no one yet
//  3. Release or resolution pays the hold out to the seller
//  4. Rejection or a buyer-favoring ruling refunds it to the buyer
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/fairhold/fairhold/internal/money"
	"github.com/fairhold/fairhold/internal/traces"
)

var (
	ErrHoldNotFound     = errors.New("no funds held for account")
	ErrDuplicateHold    = errors.New("account already has held funds")
	ErrInsufficientHeld = errors.New("held funds insufficient")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// Entry is one journal line. Every fund movement writes at least one.
type Entry struct {
	ID          string    `json:"id"`
	PartyAddr   string    `json:"party_addr"`
	Type        string    `json:"type"` // hold, payout, refund
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"` // escrow account ID
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Balance is a party's position. Held counts funds the party placed in
// custody that have not yet been paid out or refunded.
type Balance struct {
	PartyAddr string    `json:"party_addr"`
	Available string    `json:"available"`
	Held      string    `json:"held"`
	TotalIn   string    `json:"total_in"`
	TotalOut  string    `json:"total_out"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hold is the custody record for one escrow account.
type Hold struct {
	AccountID  string     `json:"account_id"`
	FromParty  string     `json:"from_party"`
	Amount     string     `json:"amount"`
	Remaining  string     `json:"remaining"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Store persists balances, holds and the journal. CreateHold and
// ReleaseHold must each be atomic: balances, the hold and the journal
// entry move together or not at all.
type Store interface {
	GetBalance(ctx context.Context, partyAddr string) (*Balance, error)
	GetHold(ctx context.Context, accountID string) (*Hold, error)
	CreateHold(ctx context.Context, accountID, fromParty, amount string) error
	ReleaseHold(ctx context.Context, accountID, toParty, amount, entryType string) error
	GetHistory(ctx context.Context, partyAddr string, limit int) ([]*Entry, error)
}

// Ledger is the fund-movement engine behind escrow accounts.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

func New(store Store) *Ledger {
	return &Ledger{store: store, logger: slog.Default()}
}

func (l *Ledger) WithLogger(lg *slog.Logger) *Ledger {
	l.logger = lg
	return l
}

// Hold places amount from fromParty into custody for accountID. At most
// one hold may exist per account.
func (l *Ledger) Hold(ctx context.Context, accountID, fromParty string, amount *big.Int) error {
	ctx, span := traces.StartSpan(ctx, "ledger.Hold", traces.Reference(accountID), traces.PartyAddr(fromParty))
	defer span.End()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.store.CreateHold(ctx, accountID, fromParty, money.Format(amount)); err != nil {
		return err
	}
	l.logger.Info("funds held", "account_id", accountID, "from", fromParty, "amount", money.Format(amount))
	return nil
}

// Payout releases held funds to toParty. Paying out more than remains
// held fails, which also stops a second payout for the same account.
func (l *Ledger) Payout(ctx context.Context, accountID, toParty string, amount *big.Int) error {
	ctx, span := traces.StartSpan(ctx, "ledger.Payout", traces.Reference(accountID), traces.PartyAddr(toParty))
	defer span.End()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.store.ReleaseHold(ctx, accountID, toParty, money.Format(amount), "payout"); err != nil {
		return err
	}
	l.logger.Info("funds paid out", "account_id", accountID, "to", toParty, "amount", money.Format(amount))
	return nil
}

// Refund returns held funds to toParty, normally the party that funded
// the hold. Mechanically identical to Payout; journaled separately.
func (l *Ledger) Refund(ctx context.Context, accountID, toParty string, amount *big.Int) error {
	ctx, span := traces.StartSpan(ctx, "ledger.Refund", traces.Reference(accountID), traces.PartyAddr(toParty))
	defer span.End()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.store.ReleaseHold(ctx, accountID, toParty, money.Format(amount), "refund"); err != nil {
		return err
	}
	l.logger.Info("funds refunded", "account_id", accountID, "to", toParty, "amount", money.Format(amount))
	return nil
}

// HasSufficientDeposit reports whether accountID still has funds in
// custody.
func (l *Ledger) HasSufficientDeposit(ctx context.Context, accountID string) (bool, error) {
	hold, err := l.store.GetHold(ctx, accountID)
	if errors.Is(err, ErrHoldNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	remaining, ok := money.Parse(hold.Remaining)
	if !ok {
		return false, ErrInvalidAmount
	}
	return remaining.Sign() > 0, nil
}

// GetBalance returns a party's position. Unknown parties get a zero
// balance rather than an error.
func (l *Ledger) GetBalance(ctx context.Context, partyAddr string) (*Balance, error) {
	return l.store.GetBalance(ctx, partyAddr)
}

// GetHold returns the custody record for an escrow account.
func (l *Ledger) GetHold(ctx context.Context, accountID string) (*Hold, error) {
	return l.store.GetHold(ctx, accountID)
}

// GetHistory returns a party's journal entries, newest first.
func (l *Ledger) GetHistory(ctx context.Context, partyAddr string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.GetHistory(ctx, partyAddr, limit)
}
