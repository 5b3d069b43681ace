package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairhold/fairhold/internal/metrics"
	"github.com/fairhold/fairhold/internal/money"
	"github.com/fairhold/fairhold/internal/traces"
)

// EventEmitter receives lifecycle notifications after a transition has
// been committed. Implementations must not block.
type EventEmitter interface {
	EscrowEvent(event string, acc *Account)
}

// Service executes escrow state transitions. All fund movement goes
// through the Ledger before the new state is committed, so a ledger
// refusal leaves the account untouched.
type Service struct {
	store       Store
	ledger      Ledger
	resolutions ResolutionStore
	events      EventEmitter
	logger      *slog.Logger

	// one mutex per account ID, so transitions on the same account
	// serialize while different accounts proceed in parallel
	locks sync.Map
}

func NewService(store Store, ledger Ledger) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		logger: slog.Default(),
	}
}

// WithResolutions enables persisted dispute resolution records.
func (s *Service) WithResolutions(rs ResolutionStore) *Service {
	s.resolutions = rs
	return s
}

// WithEvents wires a lifecycle event sink.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// WithLogger overrides the default logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

func (s *Service) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Service) emit(event string, acc *Account) {
	metrics.EscrowTransitions.WithLabelValues(event).Inc()
	if s.events != nil {
		s.events.EscrowEvent(event, acc)
	}
}

// Get returns the account by ID.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.Get(ctx, id)
}

// Status returns a lifecycle snapshot of the account. IsExpired is
// advisory: a past end date never moves the state machine by itself.
func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:          acc.ID,
		ContractRef: acc.ContractRef,
		State:       acc.State,
		Amount:      acc.Amount,
		IsTerminal:  acc.State.IsTerminal(),
		IsExpired:   !acc.State.IsTerminal() && time.Now().After(acc.EndDate),
		EndDate:     acc.EndDate,
		DepositedAt: acc.DepositedAt,
		ResolvedAt:  acc.ResolvedAt,
	}, nil
}

// Deposit places the buyer's funds into custody. The amount must match
// the figure agreed at creation exactly.
func (s *Service) Deposit(ctx context.Context, id, caller, amount string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Deposit", traces.EscrowID(id), traces.Amount(amount))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := acc.authorize(ActionDeposit, caller)
	if err != nil {
		return nil, err
	}
	units, ok := money.ParsePositive(amount)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !money.Equal(amount, acc.Amount) {
		return nil, fmt.Errorf("%w: deposit %s does not match agreed amount %s", ErrInvalidAmount, amount, acc.Amount)
	}

	if err := s.ledger.Hold(ctx, acc.ID, acc.BuyerAddr, units); err != nil {
		metrics.EscrowLedgerFailures.WithLabelValues("hold").Inc()
		return nil, fmt.Errorf("%w: hold: %v", ErrLedgerFailure, err)
	}

	prev := acc.State
	now := time.Now()
	acc.State = next
	acc.DepositedAt = &now
	acc.UpdatedAt = now
	if err := s.store.UpdateFrom(ctx, acc, prev); err != nil {
		// funds are already held; return them before reporting failure
		if rerr := s.ledger.Refund(ctx, acc.ID, acc.BuyerAddr, units); rerr != nil {
			s.logger.Error("CRITICAL: deposit compensation failed, funds held without state change",
				"escrow_id", acc.ID, "buyer", acc.BuyerAddr, "amount", amount, "error", rerr)
		}
		return nil, err
	}

	s.logger.Info("escrow deposit", "escrow_id", acc.ID, "buyer", caller, "amount", amount)
	s.emit("deposited", acc)
	return acc, nil
}

// Accept is the seller agreeing to perform the contract. No funds move.
func (s *Service) Accept(ctx context.Context, id, caller string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Accept", traces.EscrowID(id), traces.PartyAddr(caller))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := acc.authorize(ActionAccept, caller)
	if err != nil {
		return nil, err
	}

	prev := acc.State
	acc.State = next
	acc.UpdatedAt = time.Now()
	if err := s.store.UpdateFrom(ctx, acc, prev); err != nil {
		return nil, err
	}

	s.logger.Info("escrow accepted", "escrow_id", acc.ID, "seller", caller)
	s.emit("accepted", acc)
	return acc, nil
}

// Reject is the seller declining the contract. The full deposit is
// returned to the buyer and the account terminates.
func (s *Service) Reject(ctx context.Context, id, caller string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Reject", traces.EscrowID(id), traces.PartyAddr(caller))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := acc.authorize(ActionReject, caller)
	if err != nil {
		return nil, err
	}
	units, ok := money.Parse(acc.Amount)
	if !ok {
		return nil, fmt.Errorf("%w: stored amount %q", ErrInvalidAmount, acc.Amount)
	}

	if err := s.ledger.Refund(ctx, acc.ID, acc.BuyerAddr, units); err != nil {
		metrics.EscrowLedgerFailures.WithLabelValues("refund").Inc()
		return nil, fmt.Errorf("%w: refund: %v", ErrLedgerFailure, err)
	}

	prev := acc.State
	now := time.Now()
	acc.State = next
	acc.ResolvedAt = &now
	acc.UpdatedAt = now
	if err := s.store.UpdateFrom(ctx, acc, prev); err != nil {
		s.logger.Error("CRITICAL: refund executed but state not committed",
			"escrow_id", acc.ID, "buyer", acc.BuyerAddr, "amount", acc.Amount, "error", err)
		return nil, err
	}

	s.logger.Info("escrow rejected", "escrow_id", acc.ID, "seller", caller, "refunded", acc.Amount)
	s.emit("rejected", acc)
	return acc, nil
}

// requireCustody verifies the deposit is still held before moving it.
func (s *Service) requireCustody(ctx context.Context, acc *Account) error {
	ok, err := s.ledger.HasSufficientDeposit(ctx, acc.ID)
	if err != nil {
		return fmt.Errorf("%w: custody check: %v", ErrLedgerFailure, err)
	}
	if !ok {
		return fmt.Errorf("%w: no funds held for %s", ErrLedgerFailure, acc.ID)
	}
	return nil
}

// Release pays the held funds out to the seller and completes the
// account. Only the buyer may release.
func (s *Service) Release(ctx context.Context, id, caller string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release", traces.EscrowID(id), traces.PartyAddr(caller))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := acc.authorize(ActionRelease, caller)
	if err != nil {
		return nil, err
	}
	units, ok := money.Parse(acc.Amount)
	if !ok {
		return nil, fmt.Errorf("%w: stored amount %q", ErrInvalidAmount, acc.Amount)
	}
	if err := s.requireCustody(ctx, acc); err != nil {
		return nil, err
	}

	if err := s.ledger.Payout(ctx, acc.ID, acc.SellerAddr, units); err != nil {
		metrics.EscrowLedgerFailures.WithLabelValues("payout").Inc()
		return nil, fmt.Errorf("%w: payout: %v", ErrLedgerFailure, err)
	}

	prev := acc.State
	now := time.Now()
	acc.State = next
	acc.ResolvedAt = &now
	acc.UpdatedAt = now
	if err := s.store.UpdateFrom(ctx, acc, prev); err != nil {
		s.logger.Error("CRITICAL: payout executed but state not committed",
			"escrow_id", acc.ID, "seller", acc.SellerAddr, "amount", acc.Amount, "error", err)
		return nil, err
	}

	s.logger.Info("escrow released", "escrow_id", acc.ID, "buyer", caller, "paid", acc.Amount)
	s.emit("released", acc)
	return acc, nil
}

// Dispute freezes an active account pending an administrator ruling.
// Either the buyer or the seller may raise it. Funds stay held.
func (s *Service) Dispute(ctx context.Context, id, caller, reason string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Dispute", traces.EscrowID(id), traces.PartyAddr(caller))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := acc.authorize(ActionDispute, caller)
	if err != nil {
		return nil, err
	}

	prev := acc.State
	acc.State = next
	acc.DisputeReason = reason
	acc.DisputedBy = caller
	acc.UpdatedAt = time.Now()
	if err := s.store.UpdateFrom(ctx, acc, prev); err != nil {
		return nil, err
	}

	s.logger.Warn("escrow disputed", "escrow_id", acc.ID, "by", caller, "reason", reason)
	s.emit("disputed", acc)
	return acc, nil
}
