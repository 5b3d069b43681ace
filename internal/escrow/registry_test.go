package escrow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func validCreateRequest() CreateRequest {
	return CreateRequest{
		ContractRef: "job-001",
		BuyerAddr:   buyer,
		SellerAddr:  seller,
		AdminAddr:   admin,
		Amount:      "25.50",
		Description: "website redesign",
		EndDate:     time.Now().Add(72 * time.Hour),
	}
}

func TestRegistryCreate(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store).WithLogger(quietLogger())

	acc, err := reg.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(acc.ID, "esc_") {
		t.Errorf("ID = %q, want esc_ prefix", acc.ID)
	}
	if acc.State != StateAwaitingPayment {
		t.Errorf("state = %s, want %s", acc.State, StateAwaitingPayment)
	}
	if acc.ContractRef != "job-001" || acc.Amount != "25.50" {
		t.Errorf("account = %+v", acc)
	}

	// retrievable by ID and by contract ref
	got, err := reg.Get(context.Background(), acc.ID)
	if err != nil || got.ID != acc.ID {
		t.Errorf("Get = (%v, %v)", got, err)
	}
	got, err = reg.GetByContractRef(context.Background(), "job-001")
	if err != nil || got.ID != acc.ID {
		t.Errorf("GetByContractRef = (%v, %v)", got, err)
	}
}

func TestRegistryDefaultAdmin(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store).WithDefaultAdmin(admin).WithLogger(quietLogger())

	req := validCreateRequest()
	req.AdminAddr = ""
	acc, err := reg.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acc.AdminAddr != admin {
		t.Errorf("AdminAddr = %q, want default %q", acc.AdminAddr, admin)
	}

	// an explicit administrator still wins over the default
	req = validCreateRequest()
	req.ContractRef = "job-002"
	req.AdminAddr = "party:arbiter"
	acc, err = reg.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acc.AdminAddr != "party:arbiter" {
		t.Errorf("AdminAddr = %q, want explicit party", acc.AdminAddr)
	}
}

func TestRegistryCreateNoAdminConfigured(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store).WithLogger(quietLogger())

	req := validCreateRequest()
	req.AdminAddr = ""
	if _, err := reg.Create(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestRegistryCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateRequest)
		wantErr error
	}{
		{"missing contract_ref", func(r *CreateRequest) { r.ContractRef = "" }, ErrValidation},
		{"missing buyer", func(r *CreateRequest) { r.BuyerAddr = "" }, ErrValidation},
		{"buyer with whitespace", func(r *CreateRequest) { r.BuyerAddr = "party buyer" }, ErrValidation},
		{"overlong seller", func(r *CreateRequest) { r.SellerAddr = strings.Repeat("x", 129) }, ErrValidation},
		{"buyer equals seller", func(r *CreateRequest) { r.SellerAddr = buyer }, ErrValidation},
		{"buyer equals admin", func(r *CreateRequest) { r.AdminAddr = buyer }, ErrValidation},
		{"seller equals admin", func(r *CreateRequest) { r.AdminAddr = seller }, ErrValidation},
		{"zero amount", func(r *CreateRequest) { r.Amount = "0" }, ErrInvalidAmount},
		{"negative amount", func(r *CreateRequest) { r.Amount = "-5.00" }, ErrInvalidAmount},
		{"malformed amount", func(r *CreateRequest) { r.Amount = "five" }, ErrInvalidAmount},
		{"too many decimals", func(r *CreateRequest) { r.Amount = "1.0000001" }, ErrInvalidAmount},
		{"past end date", func(r *CreateRequest) { r.EndDate = time.Now().Add(-time.Hour) }, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			reg := NewRegistry(store).WithLogger(quietLogger())
			req := validCreateRequest()
			tt.mutate(&req)
			if _, err := reg.Create(context.Background(), req); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryDuplicateContractRef(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store).WithLogger(quietLogger())

	if _, err := reg.Create(context.Background(), validCreateRequest()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// same ref, different parties: still rejected
	req := validCreateRequest()
	req.BuyerAddr = "party:other-buyer"
	if _, err := reg.Create(context.Background(), req); !errors.Is(err, ErrDuplicateContract) {
		t.Errorf("err = %v, want ErrDuplicateContract", err)
	}
}

func TestRegistryListByParty(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store).WithLogger(quietLogger())

	for i := 0; i < 3; i++ {
		req := validCreateRequest()
		req.ContractRef = "job-" + string(rune('a'+i))
		if _, err := reg.Create(context.Background(), req); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	req := validCreateRequest()
	req.ContractRef = "job-unrelated"
	req.BuyerAddr = "party:other-buyer"
	if _, err := reg.Create(context.Background(), req); err != nil {
		t.Fatalf("create unrelated: %v", err)
	}

	accounts, err := reg.ListByParty(context.Background(), buyer, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 3 {
		t.Errorf("len = %d, want 3", len(accounts))
	}
	for _, acc := range accounts {
		if !acc.HasParty(buyer) {
			t.Errorf("account %s does not name %s", acc.ID, buyer)
		}
	}

	// admin sees everything it arbitrates
	accounts, err = reg.ListByParty(context.Background(), admin, 0)
	if err != nil {
		t.Fatalf("list admin: %v", err)
	}
	if len(accounts) != 4 {
		t.Errorf("admin len = %d, want 4", len(accounts))
	}

	// unknown party gets an empty list, not an error
	accounts, err = reg.ListByParty(context.Background(), "party:nobody", 0)
	if err != nil {
		t.Fatalf("list unknown: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("unknown party len = %d, want 0", len(accounts))
	}
}

func TestCorrectParties(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store).WithLogger(quietLogger())

	acc, err := reg.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fixed, err := reg.CorrectParties(context.Background(), acc.ID, admin, "party:buyer2", "")
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if fixed.BuyerAddr != "party:buyer2" {
		t.Errorf("buyer = %s, want party:buyer2", fixed.BuyerAddr)
	}
	if fixed.SellerAddr != seller {
		t.Errorf("seller = %s, want unchanged", fixed.SellerAddr)
	}
}

func TestCorrectPartiesRestrictions(t *testing.T) {
	newAccount := func(t *testing.T, state State) (*Registry, string) {
		t.Helper()
		store := NewMemoryStore()
		reg := NewRegistry(store).WithLogger(quietLogger())
		acc, err := reg.Create(context.Background(), validCreateRequest())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if state != StateAwaitingPayment {
			prev := acc.State
			acc.State = state
			if err := store.UpdateFrom(context.Background(), acc, prev); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
		return reg, acc.ID
	}

	// admin only
	reg, id := newAccount(t, StateAwaitingPayment)
	if _, err := reg.CorrectParties(context.Background(), id, buyer, "party:buyer2", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("buyer correction err = %v, want ErrUnauthorized", err)
	}

	// only before any deposit
	reg, id = newAccount(t, StateAwaitingAcceptance)
	if _, err := reg.CorrectParties(context.Background(), id, admin, "party:buyer2", ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("post-deposit correction err = %v, want ErrInvalidState", err)
	}

	// corrected parties must stay distinct
	reg, id = newAccount(t, StateAwaitingPayment)
	if _, err := reg.CorrectParties(context.Background(), id, admin, seller, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("non-distinct correction err = %v, want ErrValidation", err)
	}

	// corrected address must be well formed
	reg, id = newAccount(t, StateAwaitingPayment)
	if _, err := reg.CorrectParties(context.Background(), id, admin, "bad addr", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("malformed correction err = %v, want ErrValidation", err)
	}
}
