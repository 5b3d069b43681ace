package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairhold/fairhold/internal/idgen"
	"github.com/fairhold/fairhold/internal/metrics"
	"github.com/fairhold/fairhold/internal/money"
	"github.com/fairhold/fairhold/internal/traces"
	"github.com/fairhold/fairhold/internal/validation"
)

// CreateRequest carries everything needed to open an escrow account.
type CreateRequest struct {
	ContractRef string    `json:"contract_ref" binding:"required"`
	BuyerAddr   string    `json:"buyer_addr" binding:"required"`
	SellerAddr  string    `json:"seller_addr" binding:"required"`
	AdminAddr   string    `json:"admin_addr"`
	Amount      string    `json:"amount" binding:"required"`
	Description string    `json:"description"`
	EndDate     time.Time `json:"end_date" binding:"required"`
}

// Registry opens escrow accounts and looks them up. At most one account
// may exist per contract reference.
type Registry struct {
	store        Store
	defaultAdmin string
	logger       *slog.Logger
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store, logger: slog.Default()}
}

func (r *Registry) WithLogger(l *slog.Logger) *Registry {
	r.logger = l
	return r
}

// WithDefaultAdmin sets the administrator used when a create request
// names none.
func (r *Registry) WithDefaultAdmin(addr string) *Registry {
	r.defaultAdmin = addr
	return r
}

// Create validates the request and opens an account in awaiting_payment.
// The three parties must be distinct addresses.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create", traces.ContractRef(req.ContractRef), traces.Amount(req.Amount))
	defer span.End()

	if req.ContractRef == "" {
		return nil, fmt.Errorf("%w: contract_ref is required", ErrValidation)
	}
	if req.AdminAddr == "" {
		req.AdminAddr = r.defaultAdmin
	}
	for name, addr := range map[string]string{
		"buyer_addr":  req.BuyerAddr,
		"seller_addr": req.SellerAddr,
		"admin_addr":  req.AdminAddr,
	} {
		if !validation.IsValidPartyAddr(addr) {
			return nil, fmt.Errorf("%w: invalid %s: %q", ErrValidation, name, addr)
		}
	}
	if req.BuyerAddr == req.SellerAddr || req.BuyerAddr == req.AdminAddr || req.SellerAddr == req.AdminAddr {
		return nil, fmt.Errorf("%w: buyer, seller and admin must be distinct parties", ErrValidation)
	}
	if _, ok := money.ParsePositive(req.Amount); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, req.Amount)
	}
	if !req.EndDate.After(time.Now()) {
		return nil, fmt.Errorf("%w: end_date must be in the future", ErrValidation)
	}

	now := time.Now()
	acc := &Account{
		ID:          idgen.WithPrefix("esc_"),
		ContractRef: req.ContractRef,
		BuyerAddr:   req.BuyerAddr,
		SellerAddr:  req.SellerAddr,
		AdminAddr:   req.AdminAddr,
		Amount:      req.Amount,
		Description: req.Description,
		State:       StateAwaitingPayment,
		EndDate:     req.EndDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Create(ctx, acc); err != nil {
		return nil, err
	}

	metrics.EscrowsCreated.Inc()
	r.logger.Info("escrow account created",
		"escrow_id", acc.ID, "contract_ref", acc.ContractRef,
		"buyer", acc.BuyerAddr, "seller", acc.SellerAddr, "amount", acc.Amount)
	return acc, nil
}

// Get returns the account by ID.
func (r *Registry) Get(ctx context.Context, id string) (*Account, error) {
	return r.store.Get(ctx, id)
}

// GetByContractRef returns the account opened for a contract reference.
func (r *Registry) GetByContractRef(ctx context.Context, ref string) (*Account, error) {
	return r.store.GetByContractRef(ctx, ref)
}

// ListByParty returns accounts where addr is the buyer, seller or admin.
func (r *Registry) ListByParty(ctx context.Context, addr string, limit int) ([]*Account, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return r.store.ListByParty(ctx, addr, limit)
}

// CorrectParties lets the administrator fix a mistyped buyer or seller
// address. Only allowed before any funds are deposited.
func (r *Registry) CorrectParties(ctx context.Context, id, caller, buyerAddr, sellerAddr string) (*Account, error) {
	acc, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != acc.AdminAddr {
		return nil, ErrUnauthorized
	}
	if acc.State != StateAwaitingPayment {
		return nil, ErrInvalidState
	}
	if buyerAddr != "" {
		if !validation.IsValidPartyAddr(buyerAddr) {
			return nil, fmt.Errorf("%w: invalid buyer_addr: %q", ErrValidation, buyerAddr)
		}
		acc.BuyerAddr = buyerAddr
	}
	if sellerAddr != "" {
		if !validation.IsValidPartyAddr(sellerAddr) {
			return nil, fmt.Errorf("%w: invalid seller_addr: %q", ErrValidation, sellerAddr)
		}
		acc.SellerAddr = sellerAddr
	}
	if acc.BuyerAddr == acc.SellerAddr || acc.BuyerAddr == acc.AdminAddr || acc.SellerAddr == acc.AdminAddr {
		return nil, fmt.Errorf("%w: buyer, seller and admin must be distinct parties", ErrValidation)
	}
	acc.UpdatedAt = time.Now()
	if err := r.store.UpdateFrom(ctx, acc, StateAwaitingPayment); err != nil {
		return nil, err
	}
	r.logger.Info("escrow parties corrected", "escrow_id", acc.ID, "admin", caller)
	return acc, nil
}
