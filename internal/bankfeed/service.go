package bankfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/ledger"
)

type Repository interface {
	GetTransaction(ctx context.Context, owner, id uuid.UUID) (*Transaction, error)
	ListByStatus(ctx context.Context, owner uuid.UUID, status Status) ([]*Transaction, error)
	CompareAndSwapStatus(ctx context.Context, owner, id uuid.UUID, from, to Status) (bool, error)

	BeginImport(ctx context.Context, owner uuid.UUID, minDate, maxDate time.Time) (ImportTx, error)
}

// ImportTx scopes one statement import. The store takes an advisory lock for
// the owner/date range so two uploads of the same statement cannot interleave.
type ImportTx interface {
	FindExisting(ctx context.Context, accountID uuid.UUID, minDate, maxDate time.Time) ([]*Transaction, error)
	CreateTransactions(ctx context.Context, txs []*Transaction) error
	Commit() error
	Rollback() error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type CreateParams struct {
	Date        time.Time
	Amount      decimal.Decimal
	Direction   Direction
	Description string
	Reference   string
	Confidence  Confidence
}

type ImportResult struct {
	Imported []*Transaction
	Skipped  int
}

// Import stores a batch of extracted transactions for one account. Records
// already present (same date, amount, direction and description) are skipped,
// so re-uploading a statement is harmless.
func (s *Service) Import(ctx context.Context, owner, accountID uuid.UUID, params []CreateParams) (*ImportResult, error) {
	if len(params) == 0 {
		return &ImportResult{}, nil
	}

	for i, p := range params {
		if p.Date.IsZero() {
			return nil, ledger.Validationf("record %d: date is required", i)
		}

		if !p.Amount.IsPositive() {
			return nil, ledger.Validationf("record %d: amount must be positive", i)
		}

		if !p.Direction.Valid() {
			return nil, ledger.Validationf("record %d: unknown direction %q", i, p.Direction)
		}
	}

	minDate, maxDate := dateRange(params)

	itx, err := s.repo.BeginImport(ctx, owner, minDate, maxDate)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer itx.Rollback()

	existing, err := itx.FindExisting(ctx, accountID, minDate, maxDate)
	if err != nil {
		return nil, fmt.Errorf("find existing: %w", err)
	}

	seen := make(map[dupKey]struct{}, len(existing))
	for _, tx := range existing {
		seen[keyOf(tx.Date, tx.Amount, tx.Direction, tx.Description)] = struct{}{}
	}

	result := &ImportResult{}

	var txs []*Transaction

	for _, p := range params {
		k := keyOf(p.Date, p.Amount, p.Direction, p.Description)
		if _, dup := seen[k]; dup {
			result.Skipped++
			continue
		}

		seen[k] = struct{}{}

		confidence := p.Confidence
		if confidence == "" {
			confidence = ConfidenceMedium
		}

		txs = append(txs, &Transaction{
			OwnerID:     owner,
			AccountID:   accountID,
			Date:        p.Date,
			Amount:      p.Amount,
			Direction:   p.Direction,
			Description: p.Description,
			Reference:   p.Reference,
			Confidence:  confidence,
			Status:      StatusPending,
		})
	}

	if len(txs) > 0 {
		if err := itx.CreateTransactions(ctx, txs); err != nil {
			return nil, fmt.Errorf("create transactions: %w", err)
		}
	}

	if err := itx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}

	result.Imported = txs

	return result, nil
}

type dupKey struct {
	Date        string
	Amount      string
	Direction   Direction
	Description string
}

func keyOf(date time.Time, amount decimal.Decimal, dir Direction, desc string) dupKey {
	return dupKey{
		Date:        date.Format(time.DateOnly),
		Amount:      amount.String(),
		Direction:   dir,
		Description: desc,
	}
}

func dateRange(params []CreateParams) (time.Time, time.Time) {
	minDate := params[0].Date
	maxDate := params[0].Date

	for _, p := range params[1:] {
		if p.Date.Before(minDate) {
			minDate = p.Date
		}

		if p.Date.After(maxDate) {
			maxDate = p.Date
		}
	}

	return minDate, maxDate
}

func (s *Service) Get(ctx context.Context, owner, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, owner, id)
}

// ListPending returns transactions no reconciliation decision has claimed yet.
func (s *Service) ListPending(ctx context.Context, owner uuid.UUID) ([]*Transaction, error) {
	return s.repo.ListByStatus(ctx, owner, StatusPending)
}

// Claim marks a pending transaction as matched. Returns false when another
// decision already claimed it.
func (s *Service) Claim(ctx context.Context, owner, id uuid.UUID) (bool, error) {
	return s.repo.CompareAndSwapStatus(ctx, owner, id, StatusPending, StatusMatched)
}

// Release puts a matched transaction back into the pending pool, after its
// match was rejected or superseded away.
func (s *Service) Release(ctx context.Context, owner, id uuid.UUID) (bool, error) {
	return s.repo.CompareAndSwapStatus(ctx, owner, id, StatusMatched, StatusPending)
}

// ClaimTransfer marks a pending transaction as a transfer leg.
func (s *Service) ClaimTransfer(ctx context.Context, owner, id uuid.UUID) (bool, error) {
	return s.repo.CompareAndSwapStatus(ctx, owner, id, StatusPending, StatusTransfer)
}
