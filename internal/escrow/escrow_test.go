package escrow

import (
	"context"
	"testing"
	"time"
)

func TestStateIsTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateAwaitingPayment:    false,
		StateAwaitingAcceptance: false,
		StateActive:             false,
		StateInDispute:          false,
		StateCompleted:          true,
		StateRejected:           true,
	}
	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		state  State
		action Action
		role   Role
		next   State
		ok     bool
	}{
		{StateAwaitingPayment, ActionDeposit, RoleBuyer, StateAwaitingAcceptance, true},
		{StateAwaitingAcceptance, ActionAccept, RoleSeller, StateActive, true},
		{StateAwaitingAcceptance, ActionReject, RoleSeller, StateRejected, true},
		{StateActive, ActionRelease, RoleBuyer, StateCompleted, true},
		{StateActive, ActionDispute, RoleParty, StateInDispute, true},
		{StateInDispute, ActionResolve, RoleAdmin, StateCompleted, true},

		// missing edges
		{StateAwaitingPayment, ActionAccept, "", "", false},
		{StateAwaitingPayment, ActionRelease, "", "", false},
		{StateAwaitingAcceptance, ActionDeposit, "", "", false},
		{StateAwaitingAcceptance, ActionDispute, "", "", false},
		{StateActive, ActionAccept, "", "", false},
		{StateActive, ActionResolve, "", "", false},
		{StateInDispute, ActionRelease, "", "", false},
		{StateInDispute, ActionDispute, "", "", false},
		{StateCompleted, ActionDeposit, "", "", false},
		{StateCompleted, ActionResolve, "", "", false},
		{StateRejected, ActionDeposit, "", "", false},
		{StateRejected, ActionAccept, "", "", false},
	}

	for _, tt := range tests {
		role, next, ok := Allowed(tt.state, tt.action)
		if ok != tt.ok {
			t.Errorf("Allowed(%s, %s) ok = %v, want %v", tt.state, tt.action, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if role != tt.role || next != tt.next {
			t.Errorf("Allowed(%s, %s) = (%s, %s), want (%s, %s)",
				tt.state, tt.action, role, next, tt.role, tt.next)
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, state := range []State{StateCompleted, StateRejected} {
		for _, action := range []Action{ActionDeposit, ActionAccept, ActionReject, ActionRelease, ActionDispute, ActionResolve} {
			if _, _, ok := Allowed(state, action); ok {
				t.Errorf("terminal state %s allows %s", state, action)
			}
		}
	}
}

func TestAccountHasParty(t *testing.T) {
	acc := &Account{
		BuyerAddr:  "party:buyer",
		SellerAddr: "party:seller",
		AdminAddr:  "party:admin",
	}

	for _, addr := range []string{"party:buyer", "party:seller", "party:admin"} {
		if !acc.HasParty(addr) {
			t.Errorf("HasParty(%q) = false, want true", addr)
		}
	}
	if acc.HasParty("party:stranger") {
		t.Error("HasParty of an unrelated address = true, want false")
	}
	// addresses are case-sensitive opaque strings
	if acc.HasParty("party:Buyer") {
		t.Error("HasParty should not match a differently cased address")
	}
}

func TestAccountAuthorize(t *testing.T) {
	acc := &Account{
		BuyerAddr:  "party:buyer",
		SellerAddr: "party:seller",
		AdminAddr:  "party:admin",
		State:      StateActive,
	}

	// buyer may release
	next, err := acc.authorize(ActionRelease, "party:buyer")
	if err != nil {
		t.Fatalf("buyer release: %v", err)
	}
	if next != StateCompleted {
		t.Errorf("release next = %s, want %s", next, StateCompleted)
	}

	// seller may not release
	if _, err := acc.authorize(ActionRelease, "party:seller"); err != ErrUnauthorized {
		t.Errorf("seller release err = %v, want ErrUnauthorized", err)
	}

	// either side may dispute, the admin may not
	if _, err := acc.authorize(ActionDispute, "party:buyer"); err != nil {
		t.Errorf("buyer dispute err = %v, want nil", err)
	}
	if _, err := acc.authorize(ActionDispute, "party:seller"); err != nil {
		t.Errorf("seller dispute err = %v, want nil", err)
	}
	if _, err := acc.authorize(ActionDispute, "party:admin"); err != ErrUnauthorized {
		t.Errorf("admin dispute err = %v, want ErrUnauthorized", err)
	}

	// strangers get ErrUnauthorized, not ErrInvalidState
	if _, err := acc.authorize(ActionRelease, "party:stranger"); err != ErrUnauthorized {
		t.Errorf("stranger release err = %v, want ErrUnauthorized", err)
	}

	// wrong state beats wrong caller: the edge does not exist at all
	if _, err := acc.authorize(ActionDeposit, "party:buyer"); err != ErrInvalidState {
		t.Errorf("deposit on active err = %v, want ErrInvalidState", err)
	}
}

func TestStatusViewExpiry(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &fakeLedger{})

	past := time.Now().Add(-time.Hour)
	acc := &Account{
		ID:          "esc_expired",
		ContractRef: "job-expired",
		BuyerAddr:   "party:buyer",
		SellerAddr:  "party:seller",
		AdminAddr:   "party:admin",
		Amount:      "10.00",
		State:       StateActive,
		EndDate:     past,
		CreatedAt:   past,
		UpdatedAt:   past,
	}
	if err := store.Create(context.Background(), acc); err != nil {
		t.Fatalf("create: %v", err)
	}

	view, err := svc.Status(context.Background(), "esc_expired")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !view.IsExpired {
		t.Error("expected IsExpired for a past end date")
	}
	if view.IsTerminal {
		t.Error("active account should not be terminal")
	}

	// expiry is advisory: the stored state is untouched
	got, _ := store.Get(context.Background(), "esc_expired")
	if got.State != StateActive {
		t.Errorf("state after status = %s, want %s", got.State, StateActive)
	}

	// terminal accounts are never reported expired
	acc.State = StateCompleted
	if err := store.UpdateFrom(context.Background(), acc, StateActive); err != nil {
		t.Fatalf("update: %v", err)
	}
	view, err = svc.Status(context.Background(), "esc_expired")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.IsExpired {
		t.Error("terminal account should not be flagged expired")
	}
	if !view.IsTerminal {
		t.Error("completed account should be terminal")
	}
}
