package escrow

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrow accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)
var _ ResolutionStore = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, acc *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_accounts (
			id, contract_ref, buyer_addr, seller_addr, admin_addr,
			amount, description, state, dispute_reason, disputed_by,
			end_date, created_at, updated_at, deposited_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(20,6), $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`,
		acc.ID, acc.ContractRef, acc.BuyerAddr, acc.SellerAddr, acc.AdminAddr,
		acc.Amount, nullString(acc.Description), string(acc.State),
		nullString(acc.DisputeReason), nullString(acc.DisputedBy),
		acc.EndDate, acc.CreatedAt, acc.UpdatedAt,
		nullTime(acc.DepositedAt), nullTime(acc.ResolvedAt),
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateContract
	}
	return err
}

const accountColumns = `id, contract_ref, buyer_addr, seller_addr, admin_addr,
		       amount, description, state, dispute_reason, disputed_by,
		       end_date, created_at, updated_at, deposited_at, resolved_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE id = $1`, id)

	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return acc, err
}

func (p *PostgresStore) GetByContractRef(ctx context.Context, ref string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE contract_ref = $1`, ref)

	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return acc, err
}

// UpdateFrom commits the account only while its row still carries the
// prev state. A lost race surfaces as ErrInvalidState.
func (p *PostgresStore) UpdateFrom(ctx context.Context, acc *Account, prev State) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_accounts SET
			buyer_addr = $1, seller_addr = $2, state = $3,
			dispute_reason = $4, disputed_by = $5, updated_at = $6,
			deposited_at = $7, resolved_at = $8
		WHERE id = $9 AND state = $10`,
		acc.BuyerAddr, acc.SellerAddr, string(acc.State),
		nullString(acc.DisputeReason), nullString(acc.DisputedBy), acc.UpdatedAt,
		nullTime(acc.DepositedAt), nullTime(acc.ResolvedAt),
		acc.ID, string(prev),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM escrow_accounts WHERE id = $1)`, acc.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidState
	}
	return nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, addr string, limit int) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM escrow_accounts
		WHERE buyer_addr = $1 OR seller_addr = $1 OR admin_addr = $1
		ORDER BY created_at DESC
		LIMIT $2`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanAccounts(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM escrow_accounts
		WHERE state NOT IN ('completed', 'rejected')
		  AND end_date < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanAccounts(rows)
}

func (p *PostgresStore) CreateResolution(ctx context.Context, res *Resolution) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_resolutions (
			id, account_id, favor_buyer, justification, resolver_addr, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID, res.AccountID, res.FavorBuyer,
		nullString(res.Justification), res.ResolverAddr, res.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetResolution(ctx context.Context, accountID string) (*Resolution, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, account_id, favor_buyer, justification, resolver_addr, created_at
		FROM escrow_resolutions WHERE account_id = $1`, accountID)

	res := &Resolution{}
	var justification sql.NullString
	err := row.Scan(&res.ID, &res.AccountID, &res.FavorBuyer, &justification, &res.ResolverAddr, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res.Justification = justification.String
	return res, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(s scanner) (*Account, error) {
	acc := &Account{}
	var (
		description   sql.NullString
		disputeReason sql.NullString
		disputedBy    sql.NullString
		state         string
		depositedAt   sql.NullTime
		resolvedAt    sql.NullTime
	)

	err := s.Scan(
		&acc.ID, &acc.ContractRef, &acc.BuyerAddr, &acc.SellerAddr, &acc.AdminAddr,
		&acc.Amount, &description, &state, &disputeReason, &disputedBy,
		&acc.EndDate, &acc.CreatedAt, &acc.UpdatedAt, &depositedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	acc.State = State(state)
	acc.Description = description.String
	acc.DisputeReason = disputeReason.String
	acc.DisputedBy = disputedBy.String
	if depositedAt.Valid {
		acc.DepositedAt = &depositedAt.Time
	}
	if resolvedAt.Valid {
		acc.ResolvedAt = &resolvedAt.Time
	}
	return acc, nil
}

func scanAccounts(rows *sql.Rows) ([]*Account, error) {
	var out []*Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
