package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/fairhold/fairhold/internal/idgen"
	"github.com/fairhold/fairhold/internal/money"
)

type balance struct {
	available *big.Int
	held      *big.Int
	totalIn   *big.Int
	totalOut  *big.Int
	updatedAt time.Time
}

type hold struct {
	fromParty  string
	amount     *big.Int
	remaining  *big.Int
	createdAt  time.Time
	releasedAt *time.Time
}

// MemoryStore is an in-memory Store for tests and single-node use.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*balance
	holds    map[string]*hold
	entries  []*Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*balance),
		holds:    make(map[string]*hold),
	}
}

// balanceFor returns the mutable balance record, creating a zero one.
// Caller must hold the write lock.
func (m *MemoryStore) balanceFor(partyAddr string) *balance {
	b, ok := m.balances[partyAddr]
	if !ok {
		b = &balance{
			available: big.NewInt(0),
			held:      big.NewInt(0),
			totalIn:   big.NewInt(0),
			totalOut:  big.NewInt(0),
			updatedAt: time.Now(),
		}
		m.balances[partyAddr] = b
	}
	return b
}

func (m *MemoryStore) appendEntry(partyAddr, entryType, amount, reference string) {
	m.entries = append(m.entries, &Entry{
		ID:        idgen.WithPrefix("led_"),
		PartyAddr: partyAddr,
		Type:      entryType,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	})
}

func (m *MemoryStore) GetBalance(ctx context.Context, partyAddr string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[partyAddr]
	if !ok {
		return &Balance{
			PartyAddr: partyAddr,
			Available: money.Format(big.NewInt(0)),
			Held:      money.Format(big.NewInt(0)),
			TotalIn:   money.Format(big.NewInt(0)),
			TotalOut:  money.Format(big.NewInt(0)),
			UpdatedAt: time.Now(),
		}, nil
	}
	return &Balance{
		PartyAddr: partyAddr,
		Available: money.Format(b.available),
		Held:      money.Format(b.held),
		TotalIn:   money.Format(b.totalIn),
		TotalOut:  money.Format(b.totalOut),
		UpdatedAt: b.updatedAt,
	}, nil
}

func (m *MemoryStore) GetHold(ctx context.Context, accountID string) (*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holds[accountID]
	if !ok {
		return nil, ErrHoldNotFound
	}
	out := &Hold{
		AccountID: accountID,
		FromParty: h.fromParty,
		Amount:    money.Format(h.amount),
		Remaining: money.Format(h.remaining),
		CreatedAt: h.createdAt,
	}
	if h.releasedAt != nil {
		t := *h.releasedAt
		out.ReleasedAt = &t
	}
	return out, nil
}

func (m *MemoryStore) CreateHold(ctx context.Context, accountID, fromParty, amount string) error {
	units, ok := money.ParsePositive(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.holds[accountID]; exists {
		return ErrDuplicateHold
	}
	m.holds[accountID] = &hold{
		fromParty: fromParty,
		amount:    new(big.Int).Set(units),
		remaining: new(big.Int).Set(units),
		createdAt: time.Now(),
	}
	b := m.balanceFor(fromParty)
	b.held.Add(b.held, units)
	b.totalOut.Add(b.totalOut, units)
	b.updatedAt = time.Now()
	m.appendEntry(fromParty, "hold", amount, accountID)
	return nil
}

func (m *MemoryStore) ReleaseHold(ctx context.Context, accountID, toParty, amount, entryType string) error {
	units, ok := money.ParsePositive(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h, exists := m.holds[accountID]
	if !exists {
		return ErrHoldNotFound
	}
	if h.remaining.Cmp(units) < 0 {
		return ErrInsufficientHeld
	}

	h.remaining.Sub(h.remaining, units)
	if h.remaining.Sign() == 0 {
		now := time.Now()
		h.releasedAt = &now
	}

	funder := m.balanceFor(h.fromParty)
	funder.held.Sub(funder.held, units)
	funder.updatedAt = time.Now()

	recipient := m.balanceFor(toParty)
	recipient.available.Add(recipient.available, units)
	recipient.totalIn.Add(recipient.totalIn, units)
	recipient.updatedAt = time.Now()

	m.appendEntry(toParty, entryType, amount, accountID)
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, partyAddr string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].PartyAddr == partyAddr {
			c := *m.entries[i]
			out = append(out, &c)
		}
	}
	return out, nil
}
