package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/fairhold/fairhold/internal/idgen"
)

// PostgresStore persists ledger data in PostgreSQL. Hold creation and
// release run inside transactions so balances, holds and the journal
// never drift apart.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, partyAddr string) (*Balance, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT party_addr, available, held, total_in, total_out, updated_at
		FROM ledger_balances WHERE party_addr = $1`, partyAddr)

	b := &Balance{}
	err := row.Scan(&b.PartyAddr, &b.Available, &b.Held, &b.TotalIn, &b.TotalOut, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Balance{
			PartyAddr: partyAddr,
			Available: "0.000000",
			Held:      "0.000000",
			TotalIn:   "0.000000",
			TotalOut:  "0.000000",
			UpdatedAt: time.Now(),
		}, nil
	}
	return b, err
}

func (p *PostgresStore) GetHold(ctx context.Context, accountID string) (*Hold, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT account_id, from_party, amount, remaining, created_at, released_at
		FROM ledger_holds WHERE account_id = $1`, accountID)

	h := &Hold{}
	var releasedAt sql.NullTime
	err := row.Scan(&h.AccountID, &h.FromParty, &h.Amount, &h.Remaining, &h.CreatedAt, &releasedAt)
	if err == sql.ErrNoRows {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		h.ReleasedAt = &releasedAt.Time
	}
	return h, nil
}

func (p *PostgresStore) CreateHold(ctx context.Context, accountID, fromParty, amount string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_holds (account_id, from_party, amount, remaining, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), $3::NUMERIC(20,6), NOW())`,
		accountID, fromParty, amount)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateHold
	}
	if err != nil {
		return err
	}

	if err := p.adjustBalance(ctx, tx, fromParty, "0", amount, "0", amount); err != nil {
		return err
	}
	if err := p.insertEntry(ctx, tx, fromParty, "hold", amount, accountID); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ReleaseHold(ctx context.Context, accountID, toParty, amount, entryType string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var fromParty, remaining string
	err = tx.QueryRowContext(ctx, `
		SELECT from_party, remaining FROM ledger_holds
		WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&fromParty, &remaining)
	if err == sql.ErrNoRows {
		return ErrHoldNotFound
	}
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_holds SET
			remaining = remaining - $2::NUMERIC(20,6),
			released_at = CASE WHEN remaining - $2::NUMERIC(20,6) = 0 THEN NOW() ELSE released_at END
		WHERE account_id = $1 AND remaining >= $2::NUMERIC(20,6)`,
		accountID, amount)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInsufficientHeld
	}

	// funder's custody shrinks, recipient's spendable balance grows
	if err := p.adjustBalance(ctx, tx, fromParty, "0", "-"+amount, "0", "0"); err != nil {
		return err
	}
	if err := p.adjustBalance(ctx, tx, toParty, amount, "0", amount, "0"); err != nil {
		return err
	}
	if err := p.insertEntry(ctx, tx, toParty, entryType, amount, accountID); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) adjustBalance(ctx context.Context, tx *sql.Tx, partyAddr, availableDelta, heldDelta, totalInDelta, totalOutDelta string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (party_addr, available, held, total_in, total_out, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $3::NUMERIC(20,6), $4::NUMERIC(20,6), $5::NUMERIC(20,6), NOW())
		ON CONFLICT (party_addr) DO UPDATE SET
			available = ledger_balances.available + $2::NUMERIC(20,6),
			held = ledger_balances.held + $3::NUMERIC(20,6),
			total_in = ledger_balances.total_in + $4::NUMERIC(20,6),
			total_out = ledger_balances.total_out + $5::NUMERIC(20,6),
			updated_at = NOW()`,
		partyAddr, availableDelta, heldDelta, totalInDelta, totalOutDelta)
	return err
}

func (p *PostgresStore) insertEntry(ctx context.Context, tx *sql.Tx, partyAddr, entryType, amount, reference string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, party_addr, entry_type, amount, reference, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), $5, NOW())`,
		idgen.WithPrefix("led_"), partyAddr, entryType, amount, reference)
	return err
}

func (p *PostgresStore) GetHistory(ctx context.Context, partyAddr string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, party_addr, entry_type, amount, reference, COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE party_addr = $1
		ORDER BY created_at DESC
		LIMIT $2`, partyAddr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var reference sql.NullString
		if err := rows.Scan(&e.ID, &e.PartyAddr, &e.Type, &e.Amount, &reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = reference.String
		out = append(out, e)
	}
	return out, rows.Err()
}
