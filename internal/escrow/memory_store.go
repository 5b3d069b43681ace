package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node use.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]*Account
	byRef       map[string]string // contract ref -> account ID
	resolutions map[string]*Resolution
}

var _ Store = (*MemoryStore)(nil)
var _ ResolutionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*Account),
		byRef:       make(map[string]string),
		resolutions: make(map[string]*Resolution),
	}
}

func copyAccount(acc *Account) *Account {
	c := *acc
	if acc.DepositedAt != nil {
		t := *acc.DepositedAt
		c.DepositedAt = &t
	}
	if acc.ResolvedAt != nil {
		t := *acc.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func (m *MemoryStore) Create(ctx context.Context, acc *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRef[acc.ContractRef]; exists {
		return ErrDuplicateContract
	}
	m.accounts[acc.ID] = copyAccount(acc)
	m.byRef[acc.ContractRef] = acc.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(acc), nil
}

func (m *MemoryStore) GetByContractRef(ctx context.Context, ref string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(m.accounts[id]), nil
}

func (m *MemoryStore) UpdateFrom(ctx context.Context, acc *Account, prev State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[acc.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.State != prev {
		return ErrInvalidState
	}
	m.accounts[acc.ID] = copyAccount(acc)
	return nil
}

func (m *MemoryStore) ListByParty(ctx context.Context, addr string, limit int) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Account
	for _, acc := range m.accounts {
		if acc.HasParty(addr) {
			out = append(out, copyAccount(acc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Account
	for _, acc := range m.accounts {
		if !acc.State.IsTerminal() && acc.EndDate.Before(before) {
			out = append(out, copyAccount(acc))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateResolution(ctx context.Context, res *Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *res
	m.resolutions[res.AccountID] = &c
	return nil
}

func (m *MemoryStore) GetResolution(ctx context.Context, accountID string) (*Resolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.resolutions[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *res
	return &c, nil
}
