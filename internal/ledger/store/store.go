package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ownerLockKey derives the advisory-lock key serializing all ledger writes
// for one owner.
func ownerLockKey(owner uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write([]byte("ledger:"))
	h.Write(owner[:])

	return int64(h.Sum64())
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateAccount(ctx context.Context, acc *ledger.Account) error {
	query := `
		INSERT INTO accounts (owner_id, name, type, currency, code, parent_id, system, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		acc.OwnerID,
		acc.Name,
		acc.Type,
		acc.Currency,
		acc.Code,
		acc.ParentID,
		acc.System,
		acc.Active,
	).Scan(&acc.ID, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}

	return nil
}

const selectAccountColumns = `
	a.id, a.owner_id, a.name, a.type, a.currency, a.code, a.parent_id, a.system, a.active, a.created_at, a.updated_at
`

func scanAccount(s scanner) (*ledger.Account, error) {
	var acc ledger.Account

	var typeStr string

	var code sql.NullString

	if err := s.Scan(
		&acc.ID, &acc.OwnerID, &acc.Name, &typeStr, &acc.Currency, &code, &acc.ParentID,
		&acc.System, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	acc.Type = ledger.AccountType(typeStr)
	acc.Code = code.String

	return &acc, nil
}

func (s *Store) GetAccount(ctx context.Context, owner, id uuid.UUID) (*ledger.Account, error) {
	query := `SELECT ` + selectAccountColumns + ` FROM accounts a WHERE a.id = $1 AND a.owner_id = $2`

	acc, err := scanAccount(s.db.QueryRowContext(ctx, query, id, owner))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}

		return nil, fmt.Errorf("getting account: %w", err)
	}

	return acc, nil
}

func (s *Store) ListAccounts(ctx context.Context, owner uuid.UUID) ([]*ledger.Account, error) {
	query := `SELECT ` + selectAccountColumns + ` FROM accounts a WHERE a.owner_id = $1 ORDER BY a.name ASC`

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*ledger.Account

	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}

		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

func (s *Store) FindSystemAccount(ctx context.Context, owner uuid.UUID, name string) (*ledger.Account, error) {
	query := `SELECT ` + selectAccountColumns + ` FROM accounts a WHERE a.owner_id = $1 AND a.name = $2 AND a.system`

	acc, err := scanAccount(s.db.QueryRowContext(ctx, query, owner, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}

		return nil, fmt.Errorf("finding system account: %w", err)
	}

	return acc, nil
}

func (s *Store) SetAccountActive(ctx context.Context, owner, id uuid.UUID, active bool) error {
	query := `UPDATE accounts SET active = $1, updated_at = NOW() WHERE id = $2 AND owner_id = $3`

	res, err := s.db.ExecContext(ctx, query, active, id, owner)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}

	return nil
}

// CreateEntry inserts the entry and its lines atomically under the owner's
// advisory lock.
func (s *Store) CreateEntry(ctx context.Context, e *ledger.Entry) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning entry tx: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", ownerLockKey(e.OwnerID)); err != nil {
		return fmt.Errorf("acquiring owner lock: %w", err)
	}

	entryQuery := `
		INSERT INTO journal_entries (owner_id, date, memo, source, source_ref, status, void_reason, reversal_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err = dbTx.QueryRowContext(ctx, entryQuery,
		e.OwnerID,
		e.Date,
		e.Memo,
		e.Source,
		e.SourceRef,
		e.Status,
		e.VoidReason,
		e.ReversalID,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating entry: %w", err)
	}

	lineQuery := `
		INSERT INTO journal_lines (entry_id, account_id, direction, amount, currency, rate, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	for i := range e.Lines {
		line := &e.Lines[i]
		line.EntryID = e.ID

		var rate *string
		if line.Rate != nil {
			r := line.Rate.String()
			rate = &r
		}

		err := dbTx.QueryRowContext(ctx, lineQuery,
			line.EntryID,
			line.AccountID,
			line.Direction,
			line.Amount.String(),
			line.Currency,
			rate,
			tagsParam(line.Tags),
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("creating line %d: %w", i, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("committing entry: %w", err)
	}

	return nil
}

// tagsParam stores tags as a comma-joined text column; empty means none.
func tagsParam(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}

		out += t
	}

	return out
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}

	var tags []string

	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				tags = append(tags, s[start:i])
			}

			start = i + 1
		}
	}

	return tags
}

const selectEntryColumns = `
	e.id, e.owner_id, e.date, e.memo, e.source, e.source_ref, e.status, e.void_reason, e.reversal_id, e.created_at, e.updated_at
`

func scanEntry(s scanner) (*ledger.Entry, error) {
	var e ledger.Entry

	var sourceStr, statusStr string

	var sourceRef, voidReason sql.NullString

	if err := s.Scan(
		&e.ID, &e.OwnerID, &e.Date, &e.Memo, &sourceStr, &sourceRef, &statusStr,
		&voidReason, &e.ReversalID, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	e.Source = ledger.Source(sourceStr)
	e.Status = ledger.Status(statusStr)
	e.SourceRef = sourceRef.String
	e.VoidReason = voidReason.String

	return &e, nil
}

func (s *Store) GetEntry(ctx context.Context, owner, id uuid.UUID) (*ledger.Entry, error) {
	query := `SELECT ` + selectEntryColumns + ` FROM journal_entries e WHERE e.id = $1 AND e.owner_id = $2`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id, owner))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}

		return nil, fmt.Errorf("getting entry: %w", err)
	}

	if err := s.loadLines(ctx, []*ledger.Entry{e}); err != nil {
		return nil, err
	}

	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, owner uuid.UUID, filter ledger.EntryFilter) ([]*ledger.Entry, error) {
	query := `SELECT ` + selectEntryColumns + ` FROM journal_entries e WHERE e.owner_id = $1`

	args := []any{owner}
	argIdx := 2

	if filter.Status != nil {
		query += fmt.Sprintf(" AND e.status = $%d", argIdx)

		args = append(args, *filter.Status)
		argIdx++
	}

	if filter.Source != nil {
		query += fmt.Sprintf(" AND e.source = $%d", argIdx)

		args = append(args, *filter.Source)
		argIdx++
	}

	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND e.date >= $%d", argIdx)

		args = append(args, *filter.StartDate)
		argIdx++
	}

	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND e.date <= $%d", argIdx)

		args = append(args, *filter.EndDate)
		argIdx++
	}

	if filter.AccountID != nil {
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM journal_lines l WHERE l.entry_id = e.id AND l.account_id = $%d)", argIdx)

		args = append(args, *filter.AccountID)
		argIdx++
	}

	query += " ORDER BY e.date ASC, e.created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	if err := s.loadLines(ctx, entries); err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *Store) loadLines(ctx context.Context, entries []*ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*ledger.Entry, len(entries))
	ids := make([]string, 0, len(entries))

	for _, e := range entries {
		byID[e.ID] = e
		ids = append(ids, e.ID.String())
	}

	query := `
		SELECT l.id, l.entry_id, l.account_id, l.direction, l.amount, l.currency, l.rate, l.tags
		FROM journal_lines l
		WHERE l.entry_id = ANY($1::uuid[])
		ORDER BY l.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("loading lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line ledger.Line

		var directionStr, amountStr, tagsStr string

		var rateStr sql.NullString

		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &directionStr, &amountStr, &line.Currency, &rateStr, &tagsStr); err != nil {
			return fmt.Errorf("scanning line: %w", err)
		}

		line.Direction = ledger.Direction(directionStr)

		line.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return fmt.Errorf("parsing line amount: %w", err)
		}

		if rateStr.Valid {
			rate, err := decimal.NewFromString(rateStr.String)
			if err != nil {
				return fmt.Errorf("parsing line rate: %w", err)
			}

			line.Rate = &rate
		}

		line.Tags = splitTags(tagsStr)

		if e, ok := byID[line.EntryID]; ok {
			e.Lines = append(e.Lines, line)
		}
	}

	return rows.Err()
}

// UpdateEntryStatus transitions the entry from -> to. The WHERE clause on the
// current status makes the transition a compare-and-swap.
func (s *Store) UpdateEntryStatus(ctx context.Context, owner, id uuid.UUID, from, to ledger.Status, voidReason string, reversalID *uuid.UUID) error {
	query := `
		UPDATE journal_entries
		SET status = $1, void_reason = COALESCE(NULLIF($2, ''), void_reason), reversal_id = COALESCE($3, reversal_id), updated_at = NOW()
		WHERE id = $4 AND owner_id = $5 AND status = $6
	`

	res, err := s.db.ExecContext(ctx, query, to, voidReason, reversalID, id, owner, from)
	if err != nil {
		return fmt.Errorf("updating entry status: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.Conflictf("entry %s is not %s", id, from)
	}

	return nil
}

func (s *Store) SetEntriesStatus(ctx context.Context, owner uuid.UUID, ids []uuid.UUID, from, to ledger.Status) error {
	query := `
		UPDATE journal_entries
		SET status = $1, updated_at = NOW()
		WHERE owner_id = $2 AND id = ANY($3::uuid[]) AND status = $4
	`

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	if _, err := s.db.ExecContext(ctx, query, to, owner, strIDs, from); err != nil {
		return fmt.Errorf("updating entries status: %w", err)
	}

	return nil
}

// AccountBalance sums posted and reconciled lines up to asOf, signed by the
// account's normal side.
func (s *Store) AccountBalance(ctx context.Context, owner, accountID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	query := `
		SELECT
			a.type,
			COALESCE((
				SELECT SUM(CASE WHEN l.direction = 'debit' THEN l.amount ELSE -l.amount END)
				FROM journal_lines l
				JOIN journal_entries e ON e.id = l.entry_id
				WHERE l.account_id = a.id
					AND e.status IN ('posted', 'reconciled')
					AND e.date <= $3
			), 0)
		FROM accounts a
		WHERE a.id = $1 AND a.owner_id = $2
	`

	var typeStr, netStr string

	err := s.db.QueryRowContext(ctx, query, accountID, owner, asOf).Scan(&typeStr, &netStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, ledger.ErrNotFound
		}

		return decimal.Zero, fmt.Errorf("computing balance: %w", err)
	}

	net, err := decimal.NewFromString(netStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing balance: %w", err)
	}

	if ledger.AccountType(typeStr).DebitNormal() {
		return net, nil
	}

	return net.Neg(), nil
}

// TypeTotals returns, per account type, the net debit-minus-credit total over
// posted and reconciled lines up to asOf.
func (s *Store) TypeTotals(ctx context.Context, owner uuid.UUID, asOf time.Time) (map[ledger.AccountType]decimal.Decimal, error) {
	query := `
		SELECT
			a.type,
			COALESCE(SUM(CASE WHEN l.direction = 'debit' THEN l.amount ELSE -l.amount END), 0)
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		JOIN accounts a ON a.id = l.account_id
		WHERE e.owner_id = $1 AND e.status IN ('posted', 'reconciled') AND e.date <= $2
		GROUP BY a.type
	`

	rows, err := s.db.QueryContext(ctx, query, owner, asOf)
	if err != nil {
		return nil, fmt.Errorf("computing type totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[ledger.AccountType]decimal.Decimal)

	for rows.Next() {
		var typeStr, netStr string

		if err := rows.Scan(&typeStr, &netStr); err != nil {
			return nil, fmt.Errorf("scanning type total: %w", err)
		}

		net, err := decimal.NewFromString(netStr)
		if err != nil {
			return nil, fmt.Errorf("parsing type total: %w", err)
		}

		totals[ledger.AccountType(typeStr)] = net
	}

	return totals, rows.Err()
}
