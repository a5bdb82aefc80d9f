// Package store is the Postgres persistence for match records. Versions are
// append-only: a row is only ever updated to change status or to set its
// superseded_by pointer.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/matching"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const matchColumns = `
	id, owner_id, bank_transaction_id, entry_ids, score, breakdown,
	status, version, superseded_by, pattern_key, created_at
`

func scanMatch(row interface{ Scan(...any) error }) (*matching.Match, error) {
	var (
		m            matching.Match
		entryIDs     []string
		breakdownRaw []byte
		superseded   sql.NullString
	)

	err := row.Scan(
		&m.ID,
		&m.OwnerID,
		&m.BankTransactionID,
		pqStringArray{&entryIDs},
		&m.Score,
		&breakdownRaw,
		&m.Status,
		&m.Version,
		&superseded,
		&m.PatternKey,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}

		return nil, fmt.Errorf("scanning match: %w", err)
	}

	for _, s := range entryIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing entry id %q: %w", s, err)
		}

		m.EntryIDs = append(m.EntryIDs, id)
	}

	if err := json.Unmarshal(breakdownRaw, &m.Breakdown); err != nil {
		return nil, fmt.Errorf("decoding breakdown: %w", err)
	}

	if superseded.Valid {
		id, err := uuid.Parse(superseded.String)
		if err != nil {
			return nil, fmt.Errorf("parsing superseded_by %q: %w", superseded.String, err)
		}

		m.SupersededBy = &id
	}

	return &m, nil
}

// querier is the slice of *sql.DB / *sql.Tx the insert helper needs.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateMatch inserts the next version for the match's bank transaction. The
// version number is assigned here, under the unique
// (bank_transaction_id, version) constraint.
func (s *Store) CreateMatch(ctx context.Context, m *matching.Match) error {
	return insertMatch(ctx, s.db, m)
}

func insertMatch(ctx context.Context, q querier, m *matching.Match) error {
	query := `
		INSERT INTO matches (
			id, owner_id, bank_transaction_id, entry_ids, score, breakdown,
			status, version, pattern_key, created_at
		)
		VALUES (
			$1, $2, $3, $4::uuid[], $5, $6,
			$7,
			COALESCE((
				SELECT MAX(version) FROM matches
				WHERE owner_id = $2 AND bank_transaction_id = $3
			), 0) + 1,
			$8, NOW()
		)
		RETURNING version, created_at
	`

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	breakdown, err := json.Marshal(m.Breakdown)
	if err != nil {
		return fmt.Errorf("encoding breakdown: %w", err)
	}

	entryIDs := make([]string, len(m.EntryIDs))
	for i, id := range m.EntryIDs {
		entryIDs[i] = id.String()
	}

	err = q.QueryRowContext(ctx, query,
		m.ID,
		m.OwnerID,
		m.BankTransactionID,
		entryIDs,
		m.Score,
		breakdown,
		m.Status,
		m.PatternKey,
	).Scan(&m.Version, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating match: %w", err)
	}

	return nil
}

func (s *Store) GetMatch(ctx context.Context, owner, id uuid.UUID) (*matching.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE owner_id = $1 AND id = $2`

	return scanMatch(s.db.QueryRowContext(ctx, query, owner, id))
}

// ActiveForTransaction returns the standing version for a bank transaction:
// not superseded and not rejected. At most one row can satisfy that.
func (s *Store) ActiveForTransaction(ctx context.Context, owner, txID uuid.UUID) (*matching.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE owner_id = $1 AND bank_transaction_id = $2
			AND superseded_by IS NULL
			AND status NOT IN ('rejected', 'superseded')
		ORDER BY version DESC
		LIMIT 1
	`

	return scanMatch(s.db.QueryRowContext(ctx, query, owner, txID))
}

func (s *Store) UpdateStatus(ctx context.Context, owner, id uuid.UUID, from, to matching.Status) (bool, error) {
	query := `
		UPDATE matches
		SET status = $1
		WHERE owner_id = $2 AND id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, to, owner, id, from)
	if err != nil {
		return false, fmt.Errorf("updating match status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating match status: %w", err)
	}

	return n == 1, nil
}

// SupersedeMatch retires the old version and inserts its replacement in one
// transaction. Clearing the old row first keeps the partial unique index on
// active versions satisfied at every point: the new row only appears once the
// old one no longer counts as active.
func (s *Store) SupersedeMatch(ctx context.Context, owner, oldID uuid.UUID, next *matching.Match) error {
	if next.ID == uuid.Nil {
		return fmt.Errorf("superseding match: replacement has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("superseding match: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE matches
		SET status = 'superseded', superseded_by = $1
		WHERE owner_id = $2 AND id = $3 AND superseded_by IS NULL
	`

	res, err := tx.ExecContext(ctx, query, next.ID, owner, oldID)
	if err != nil {
		return fmt.Errorf("superseding match: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("superseding match: %w", err)
	}

	if n == 0 {
		return ledger.Conflictf("match %s already superseded", oldID)
	}

	if err := insertMatch(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("superseding match: %w", err)
	}

	return nil
}

func (s *Store) ListByTransaction(ctx context.Context, owner, txID uuid.UUID) ([]*matching.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE owner_id = $1 AND bank_transaction_id = $2
		ORDER BY version ASC
	`

	rows, err := s.db.QueryContext(ctx, query, owner, txID)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	var out []*matching.Match

	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}

	return out, nil
}

// AcceptedPatterns returns the distinct counterparty pattern keys of every
// accepted match, feeding the historical-pattern score dimension.
func (s *Store) AcceptedPatterns(ctx context.Context, owner uuid.UUID) (matching.History, error) {
	query := `
		SELECT DISTINCT pattern_key
		FROM matches
		WHERE owner_id = $1
			AND status IN ('accepted', 'auto_accepted')
			AND pattern_key <> ''
	`

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("listing accepted patterns: %w", err)
	}
	defer rows.Close()

	history := make(matching.History)

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning pattern key: %w", err)
		}

		history[key] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing accepted patterns: %w", err)
	}

	return history, nil
}

// pqStringArray scans a Postgres uuid[]/text[] value of the canonical
// {a,b,c} form into a string slice.
type pqStringArray struct {
	dest *[]string
}

func (a pqStringArray) Scan(src any) error {
	var raw string

	switch v := src.(type) {
	case nil:
		*a.dest = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported array source %T", src)
	}

	raw = trimBraces(raw)
	if raw == "" {
		*a.dest = nil
		return nil
	}

	var (
		out   []string
		start int
	)

	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			out = append(out, raw[start:i])
			start = i + 1
		}
	}

	*a.dest = out

	return nil
}

func trimBraces(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		return s[1 : len(s)-1]
	}

	return s
}
