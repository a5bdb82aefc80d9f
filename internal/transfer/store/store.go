// Package store is the Postgres persistence for transfer legs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/transfer"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const legColumns = `
	id, owner_id, bank_transaction_id, entry_id, account_id, direction,
	amount, leg_date, status, pair_id, fee_entry_id, created_at
`

func scanLeg(row interface{ Scan(...any) error }) (*transfer.Leg, error) {
	var (
		l      transfer.Leg
		amount string
		pair   sql.NullString
		fee    sql.NullString
	)

	err := row.Scan(
		&l.ID,
		&l.OwnerID,
		&l.BankTransactionID,
		&l.EntryID,
		&l.AccountID,
		&l.Direction,
		&amount,
		&l.Date,
		&l.Status,
		&pair,
		&fee,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}

		return nil, fmt.Errorf("scanning leg: %w", err)
	}

	l.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing leg amount %q: %w", amount, err)
	}

	if pair.Valid {
		id, err := uuid.Parse(pair.String)
		if err != nil {
			return nil, fmt.Errorf("parsing pair_id %q: %w", pair.String, err)
		}

		l.PairID = &id
	}

	if fee.Valid {
		id, err := uuid.Parse(fee.String)
		if err != nil {
			return nil, fmt.Errorf("parsing fee_entry_id %q: %w", fee.String, err)
		}

		l.FeeEntryID = &id
	}

	return &l, nil
}

func (s *Store) CreateLeg(ctx context.Context, leg *transfer.Leg) error {
	query := `
		INSERT INTO transfer_legs (
			id, owner_id, bank_transaction_id, entry_id, account_id,
			direction, amount, leg_date, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`

	if leg.ID == uuid.Nil {
		leg.ID = uuid.New()
	}

	err := s.db.QueryRowContext(ctx, query,
		leg.ID,
		leg.OwnerID,
		leg.BankTransactionID,
		leg.EntryID,
		leg.AccountID,
		leg.Direction,
		leg.Amount.String(),
		leg.Date,
		leg.Status,
	).Scan(&leg.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating transfer leg: %w", err)
	}

	return nil
}

func (s *Store) GetLeg(ctx context.Context, owner, id uuid.UUID) (*transfer.Leg, error) {
	query := `SELECT ` + legColumns + ` FROM transfer_legs WHERE owner_id = $1 AND id = $2`

	return scanLeg(s.db.QueryRowContext(ctx, query, owner, id))
}

func (s *Store) ListUnpaired(ctx context.Context, owner uuid.UUID) ([]*transfer.Leg, error) {
	query := `
		SELECT ` + legColumns + `
		FROM transfer_legs
		WHERE owner_id = $1 AND status = 'unpaired'
		ORDER BY leg_date ASC, created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("listing unpaired legs: %w", err)
	}
	defer rows.Close()

	var out []*transfer.Leg

	for rows.Next() {
		l, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing unpaired legs: %w", err)
	}

	return out, nil
}

// MarkPaired stamps both legs with the shared pair id in one transaction.
// The fee entry, if any, is recorded on the outgoing leg.
func (s *Store) MarkPaired(ctx context.Context, owner, outID, inID, pairID uuid.UUID, feeEntryID *uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning pair transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE transfer_legs
		SET status = 'paired', pair_id = $1, fee_entry_id = $2
		WHERE owner_id = $3 AND id = $4 AND status = 'unpaired'
	`

	for _, step := range []struct {
		id  uuid.UUID
		fee *uuid.UUID
	}{
		{id: outID, fee: feeEntryID},
		{id: inID},
	} {
		var fee any
		if step.fee != nil {
			fee = *step.fee
		}

		res, err := tx.ExecContext(ctx, query, pairID, fee, owner, step.id)
		if err != nil {
			return fmt.Errorf("pairing leg %s: %w", step.id, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("pairing leg %s: %w", step.id, err)
		}

		if n == 0 {
			return ledger.Conflictf("leg %s is not unpaired", step.id)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing pair: %w", err)
	}

	return nil
}

// HasPairedAccounts reports whether the two accounts have completed a
// transfer pair before, in either direction.
func (s *Store) HasPairedAccounts(ctx context.Context, owner, a, b uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM transfer_legs o
			JOIN transfer_legs i ON i.pair_id = o.pair_id AND i.id <> o.id
			WHERE o.owner_id = $1
				AND o.status = 'paired'
				AND ((o.account_id = $2 AND i.account_id = $3)
					OR (o.account_id = $3 AND i.account_id = $2))
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, owner, a, b).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking pair history: %w", err)
	}

	return exists, nil
}
