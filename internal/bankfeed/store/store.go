package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const selectTransactionColumns = `
	t.id, t.owner_id, t.account_id, t.date, t.amount, t.direction, t.description, t.reference, t.confidence, t.status, t.created_at
`

func scanTransaction(s scanner) (*bankfeed.Transaction, error) {
	var tx bankfeed.Transaction

	var amountStr, directionStr, confidenceStr, statusStr string

	var reference sql.NullString

	if err := s.Scan(
		&tx.ID, &tx.OwnerID, &tx.AccountID, &tx.Date, &amountStr, &directionStr,
		&tx.Description, &reference, &confidenceStr, &statusStr, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parsing amount: %w", err)
	}

	tx.Amount = amount
	tx.Direction = bankfeed.Direction(directionStr)
	tx.Reference = reference.String
	tx.Confidence = bankfeed.Confidence(confidenceStr)
	tx.Status = bankfeed.Status(statusStr)

	return &tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, owner, id uuid.UUID) (*bankfeed.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM bank_transactions t WHERE t.id = $1 AND t.owner_id = $2`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, id, owner))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}

		return nil, fmt.Errorf("getting bank transaction: %w", err)
	}

	return tx, nil
}

func (s *Store) ListByStatus(ctx context.Context, owner uuid.UUID, status bankfeed.Status) ([]*bankfeed.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + `
		FROM bank_transactions t
		WHERE t.owner_id = $1 AND t.status = $2
		ORDER BY t.date ASC, t.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, owner, status)
	if err != nil {
		return nil, fmt.Errorf("listing bank transactions: %w", err)
	}
	defer rows.Close()

	var txs []*bankfeed.Transaction

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bank transaction: %w", err)
		}

		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// CompareAndSwapStatus transitions the transaction from -> to. Returns false
// without error when the transaction is no longer in the from status, which
// is how concurrent match commits lose gracefully.
func (s *Store) CompareAndSwapStatus(ctx context.Context, owner, id uuid.UUID, from, to bankfeed.Status) (bool, error) {
	query := `
		UPDATE bank_transactions
		SET status = $1
		WHERE id = $2 AND owner_id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, to, id, owner, from)
	if err != nil {
		return false, fmt.Errorf("updating bank transaction status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating bank transaction status: %w", err)
	}

	return n == 1, nil
}

func importLockKey(owner uuid.UUID, minDate, maxDate time.Time) int64 {
	h := fnv.New64a()
	h.Write(owner[:])
	h.Write([]byte(minDate.Format(time.DateOnly)))
	h.Write([]byte{0})
	h.Write([]byte(maxDate.Format(time.DateOnly)))

	return int64(h.Sum64())
}

type importTx struct {
	tx *sql.Tx
}

func (s *Store) BeginImport(ctx context.Context, owner uuid.UUID, minDate, maxDate time.Time) (bankfeed.ImportTx, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning import tx: %w", err)
	}

	lockKey := importLockKey(owner, minDate, maxDate)
	if _, err := dbTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey); err != nil {
		dbTx.Rollback()
		return nil, fmt.Errorf("acquiring import lock: %w", err)
	}

	return &importTx{tx: dbTx}, nil
}

func (itx *importTx) Commit() error   { return itx.tx.Commit() }
func (itx *importTx) Rollback() error { return itx.tx.Rollback() }

func (itx *importTx) FindExisting(ctx context.Context, accountID uuid.UUID, minDate, maxDate time.Time) ([]*bankfeed.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + `
		FROM bank_transactions t
		WHERE t.account_id = $1 AND t.date >= $2 AND t.date <= $3
		ORDER BY t.date ASC`

	rows, err := itx.tx.QueryContext(ctx, query, accountID, minDate, maxDate)
	if err != nil {
		return nil, fmt.Errorf("finding existing transactions: %w", err)
	}
	defer rows.Close()

	var txs []*bankfeed.Transaction

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bank transaction: %w", err)
		}

		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

func (itx *importTx) CreateTransactions(ctx context.Context, txs []*bankfeed.Transaction) error {
	query := `
		INSERT INTO bank_transactions (owner_id, account_id, date, amount, direction, description, reference, confidence, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id, created_at
	`

	for _, tx := range txs {
		err := itx.tx.QueryRowContext(ctx, query,
			tx.OwnerID,
			tx.AccountID,
			tx.Date,
			tx.Amount.String(),
			tx.Direction,
			tx.Description,
			tx.Reference,
			tx.Confidence,
			tx.Status,
		).Scan(&tx.ID, &tx.CreatedAt)
		if err != nil {
			return fmt.Errorf("creating bank transaction: %w", err)
		}
	}

	return nil
}
