package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/fairhold/fairhold/internal/idgen"
	"github.com/fairhold/fairhold/internal/metrics"
	"github.com/fairhold/fairhold/internal/money"
	"github.com/fairhold/fairhold/internal/traces"
)

// Resolve is the administrator ruling on a disputed account. Favoring
// the buyer refunds the full deposit; favoring the seller pays it out.
// Either way the account completes and a resolution record is written.
func (s *Service) Resolve(ctx context.Context, id, caller string, favorBuyer bool, justification string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Resolve", traces.EscrowID(id), traces.PartyAddr(caller))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := acc.authorize(ActionResolve, caller)
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

	if favorBuyer {
		err = s.ledger.Refund(ctx, acc.ID, acc.BuyerAddr, units)
	} else {
		err = s.ledger.Payout(ctx, acc.ID, acc.SellerAddr, units)
	}
	if err != nil {
		metrics.EscrowLedgerFailures.WithLabelValues("resolve").Inc()
		return nil, fmt.Errorf("%w: resolve: %v", ErrLedgerFailure, err)
	}

	prev := acc.State
	now := time.Now()
	acc.State = next
	acc.ResolvedAt = &now
	acc.UpdatedAt = now
	if err := s.store.UpdateFrom(ctx, acc, prev); err != nil {
		s.logger.Error("CRITICAL: resolution funds moved but state not committed",
			"escrow_id", acc.ID, "favor_buyer", favorBuyer, "amount", acc.Amount, "error", err)
		return nil, err
	}

	if s.resolutions != nil {
		res := &Resolution{
			ID:            idgen.WithPrefix("res_"),
			AccountID:     acc.ID,
			FavorBuyer:    favorBuyer,
			Justification: justification,
			ResolverAddr:  caller,
			CreatedAt:     now,
		}
		if err := s.resolutions.CreateResolution(ctx, res); err != nil {
			// the transition stands; the audit record is best effort
			s.logger.Error("failed to persist resolution record", "escrow_id", acc.ID, "error", err)
		}
	}

	winner := acc.SellerAddr
	if favorBuyer {
		winner = acc.BuyerAddr
	}
	metrics.EscrowDisputesResolved.WithLabelValues(favorLabel(favorBuyer)).Inc()
	s.logger.Info("escrow dispute resolved", "escrow_id", acc.ID, "admin", caller, "in_favor_of", winner)
	s.emit("resolved", acc)
	return acc, nil
}

// GetResolution returns the ruling for a resolved account.
func (s *Service) GetResolution(ctx context.Context, accountID string) (*Resolution, error) {
	if s.resolutions == nil {
		return nil, ErrNotFound
	}
	return s.resolutions.GetResolution(ctx, accountID)
}

func favorLabel(favorBuyer bool) string {
	if favorBuyer {
		return "buyer"
	}
	return "seller"
}
