package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/money"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=ledger
type Repository interface {
	CreateAccount(ctx context.Context, acc *Account) error
	GetAccount(ctx context.Context, owner, id uuid.UUID) (*Account, error)
	ListAccounts(ctx context.Context, owner uuid.UUID) ([]*Account, error)
	FindSystemAccount(ctx context.Context, owner uuid.UUID, name string) (*Account, error)
	SetAccountActive(ctx context.Context, owner, id uuid.UUID, active bool) error

	CreateEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, owner, id uuid.UUID) (*Entry, error)
	ListEntries(ctx context.Context, owner uuid.UUID, filter EntryFilter) ([]*Entry, error)
	UpdateEntryStatus(ctx context.Context, owner, id uuid.UUID, from, to Status, voidReason string, reversalID *uuid.UUID) error
	SetEntriesStatus(ctx context.Context, owner uuid.UUID, ids []uuid.UUID, from, to Status) error

	AccountBalance(ctx context.Context, owner, accountID uuid.UUID, asOf time.Time) (decimal.Decimal, error)
	TypeTotals(ctx context.Context, owner uuid.UUID, asOf time.Time) (map[AccountType]decimal.Decimal, error)
}

// Service is the ledger core: posting, voiding, balances and the accounting
// equation. All mutations for one owner are serialized through a per-owner
// mutex; the store additionally takes a per-owner advisory lock so two
// processes cannot interleave either.
type Service struct {
	repo Repository

	mu     sync.Mutex
	owners map[uuid.UUID]*sync.Mutex
	halted map[uuid.UUID]string
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:   repo,
		owners: make(map[uuid.UUID]*sync.Mutex),
		halted: make(map[uuid.UUID]string),
	}
}

func (s *Service) ownerLock(owner uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.owners[owner]
	if !ok {
		m = &sync.Mutex{}
		s.owners[owner] = m
	}

	return m
}

// haltOwner stops all further mutations for the owner. Tripped when the
// accounting equation fails after a committed write; cleared only by restart
// after manual investigation.
func (s *Service) haltOwner(owner uuid.UUID, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted[owner] = detail
}

func (s *Service) checkHalted(owner uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if detail, ok := s.halted[owner]; ok {
		return &IntegrityError{OwnerID: owner, Detail: "writes halted: " + detail}
	}

	return nil
}

type CreateAccountParams struct {
	OwnerID  uuid.UUID
	Name     string
	Type     AccountType
	Currency string
	Code     string
	ParentID *uuid.UUID
}

// CreateAccount creates an ordinary (non-system) account for the owner.
func (s *Service) CreateAccount(ctx context.Context, params CreateAccountParams) (*Account, error) {
	if params.Name == "" {
		return nil, Validationf("account name is required")
	}

	if !params.Type.Valid() {
		return nil, Validationf("unknown account type %q", params.Type)
	}

	if params.Currency == "" {
		return nil, Validationf("account currency is required")
	}

	acc := &Account{
		OwnerID:  params.OwnerID,
		Name:     params.Name,
		Type:     params.Type,
		Currency: params.Currency,
		Code:     params.Code,
		ParentID: params.ParentID,
		System:   false,
		Active:   true,
	}
	if err := s.repo.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	return acc, nil
}

// EnsureSystemAccount returns the owner's system account with the given name,
// creating it on first reference.
func (s *Service) EnsureSystemAccount(ctx context.Context, owner uuid.UUID, name string, typ AccountType, currency string) (*Account, error) {
	acc, err := s.repo.FindSystemAccount(ctx, owner, name)
	if err == nil {
		return acc, nil
	}

	if err != ErrNotFound {
		return nil, err
	}

	acc = &Account{
		OwnerID:  owner,
		Name:     name,
		Type:     typ,
		Currency: currency,
		System:   true,
		Active:   true,
	}
	if err := s.repo.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	return acc, nil
}

// EnsureProcessingAccount returns the owner's transfer clearing account,
// creating it lazily. Its balance should trend to zero; a sustained non-zero
// balance signals an unpaired transfer leg.
func (s *Service) EnsureProcessingAccount(ctx context.Context, owner uuid.UUID, currency string) (*Account, error) {
	return s.EnsureSystemAccount(ctx, owner, ProcessingAccountName, TypeAsset, currency)
}

func (s *Service) Accounts(ctx context.Context, owner uuid.UUID) ([]*Account, error) {
	return s.repo.ListAccounts(ctx, owner)
}

func (s *Service) GetAccount(ctx context.Context, owner, id uuid.UUID) (*Account, error) {
	return s.repo.GetAccount(ctx, owner, id)
}

// SetAccountActive soft-enables or soft-disables an account. Accounts are
// never hard-deleted once a posted line references them.
func (s *Service) SetAccountActive(ctx context.Context, owner, id uuid.UUID, active bool) error {
	acc, err := s.repo.GetAccount(ctx, owner, id)
	if err != nil {
		return err
	}

	if acc.System {
		return Validationf("system account %q cannot be disabled", acc.Name)
	}

	return s.repo.SetAccountActive(ctx, owner, id, active)
}

// PostEntry validates a draft entry and transitions it draft -> posted.
// After the commit the accounting equation is re-checked; a residual trips
// the owner's halt switch and surfaces as an IntegrityError.
func (s *Service) PostEntry(ctx context.Context, e *Entry) (*Entry, error) {
	lock := s.ownerLock(e.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.checkHalted(e.OwnerID); err != nil {
		return nil, err
	}

	if err := s.validateDraft(ctx, e); err != nil {
		return nil, err
	}

	e.Status = StatusPosted
	if err := s.repo.CreateEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("posting entry: %w", err)
	}

	if err := s.verifyEquation(ctx, e.OwnerID, e.Date); err != nil {
		return nil, err
	}

	return e, nil
}

func (s *Service) validateDraft(ctx context.Context, e *Entry) error {
	if e.Status != "" && e.Status != StatusDraft {
		return Validationf("entry is %s, only drafts can be posted", e.Status)
	}

	if !e.Source.Valid() {
		return Validationf("unknown source kind %q", e.Source)
	}

	if e.Date.IsZero() {
		return Validationf("entry date is required")
	}

	if len(e.Lines) < 2 {
		return Validationf("entry needs at least two lines, got %d", len(e.Lines))
	}

	accounts := make(map[uuid.UUID]*Account)

	for i := range e.Lines {
		line := &e.Lines[i]

		if line.Direction != Debit && line.Direction != Credit {
			return Validationf("line %d: unknown direction %q", i, line.Direction)
		}

		if !line.Amount.IsPositive() {
			return Validationf("line %d: amount must be strictly positive", i)
		}

		acc, ok := accounts[line.AccountID]
		if !ok {
			var err error

			acc, err = s.repo.GetAccount(ctx, e.OwnerID, line.AccountID)
			if err != nil {
				if err == ErrNotFound {
					return Validationf("line %d: account %s does not exist", i, line.AccountID)
				}

				return err
			}

			accounts[line.AccountID] = acc
		}

		if !acc.Active {
			return Validationf("line %d: account %q is inactive", i, acc.Name)
		}

		// System accounts are only writable by the system itself.
		if acc.System && e.Source != SourceSystem {
			return Validationf("line %d: account %q is system-managed", i, acc.Name)
		}

		if line.Currency == "" {
			line.Currency = acc.Currency
		}
	}

	if err := balancedByCurrency(e); err != nil {
		return err
	}

	return nil
}

func balancedByCurrency(e *Entry) error {
	type totals struct{ debit, credit decimal.Decimal }

	byCurrency := make(map[string]totals)

	for _, l := range e.Lines {
		t := byCurrency[l.Currency]
		if l.Direction == Debit {
			t.debit = t.debit.Add(l.Amount)
		} else {
			t.credit = t.credit.Add(l.Amount)
		}

		byCurrency[l.Currency] = t
	}

	for cur, t := range byCurrency {
		if !money.WithinTolerance(t.debit, t.credit, money.BalanceTolerance) {
			return Validationf("entry not balanced: %s debits %s != credits %s", cur, t.debit, t.credit)
		}
	}

	return nil
}

// VoidEntry voids a posted or reconciled entry by posting exactly one
// direction-flipped reversal and marking the original void. Voiding an
// already-void entry is a conflict.
func (s *Service) VoidEntry(ctx context.Context, owner, entryID uuid.UUID, reason string) (*Entry, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	if err := s.checkHalted(owner); err != nil {
		return nil, err
	}

	if reason == "" {
		return nil, Validationf("void reason is required")
	}

	orig, err := s.repo.GetEntry(ctx, owner, entryID)
	if err != nil {
		return nil, err
	}

	switch orig.Status {
	case StatusPosted, StatusReconciled:
	case StatusVoid:
		return nil, Conflictf("entry %s is already void", entryID)
	default:
		return nil, Validationf("entry is %s, only posted entries can be voided", orig.Status)
	}

	reversal := &Entry{
		OwnerID:   owner,
		Date:      orig.Date,
		Memo:      fmt.Sprintf("VOID (%s): %s", reason, orig.Memo),
		Source:    SourceSystem,
		SourceRef: orig.ID.String(),
		Status:    StatusPosted,
		Lines:     make([]Line, len(orig.Lines)),
	}
	for i, l := range orig.Lines {
		reversal.Lines[i] = Line{
			AccountID: l.AccountID,
			Direction: l.Direction.Flip(),
			Amount:    l.Amount,
			Currency:  l.Currency,
			Rate:      l.Rate,
			Tags:      l.Tags,
		}
	}

	if err := s.repo.CreateEntry(ctx, reversal); err != nil {
		return nil, fmt.Errorf("posting reversal: %w", err)
	}

	if err := s.repo.UpdateEntryStatus(ctx, owner, orig.ID, orig.Status, StatusVoid, reason, &reversal.ID); err != nil {
		return nil, fmt.Errorf("voiding entry: %w", err)
	}

	if err := s.verifyEquation(ctx, owner, orig.Date); err != nil {
		return nil, err
	}

	return reversal, nil
}

func (s *Service) Get(ctx context.Context, owner, id uuid.UUID) (*Entry, error) {
	return s.repo.GetEntry(ctx, owner, id)
}

func (s *Service) List(ctx context.Context, owner uuid.UUID, filter EntryFilter) ([]*Entry, error) {
	return s.repo.ListEntries(ctx, owner, filter)
}

// MarkReconciled transitions posted entries to reconciled. Only the review
// layer calls this, once an active accepted match references the entries.
func (s *Service) MarkReconciled(ctx context.Context, owner uuid.UUID, entryIDs []uuid.UUID) error {
	if len(entryIDs) == 0 {
		return nil
	}

	return s.repo.SetEntriesStatus(ctx, owner, entryIDs, StatusPosted, StatusReconciled)
}

// UnmarkReconciled reverts reconciled entries to posted, when the match that
// reconciled them is superseded.
func (s *Service) UnmarkReconciled(ctx context.Context, owner uuid.UUID, entryIDs []uuid.UUID) error {
	if len(entryIDs) == 0 {
		return nil
	}

	return s.repo.SetEntriesStatus(ctx, owner, entryIDs, StatusReconciled, StatusPosted)
}

// AccountBalance returns the account's balance as of the given time, signed
// by the account's normal side.
func (s *Service) AccountBalance(ctx context.Context, owner, accountID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	if _, err := s.repo.GetAccount(ctx, owner, accountID); err != nil {
		return decimal.Zero, err
	}

	return s.repo.AccountBalance(ctx, owner, accountID, asOf)
}

// CheckAccountingEquation reports whether
// Assets - (Liabilities + Equity + Income - Expenses) is zero within
// tolerance over all posted and reconciled lines up to asOf.
func (s *Service) CheckAccountingEquation(ctx context.Context, owner uuid.UUID, asOf time.Time) (bool, error) {
	residual, err := s.equationResidual(ctx, owner, asOf)
	if err != nil {
		return false, err
	}

	return residual.Abs().LessThanOrEqual(money.BalanceTolerance), nil
}

// equationResidual computes the equation from per-type net (debit - credit)
// totals. Every type balance is expressed on its normal side first.
func (s *Service) equationResidual(ctx context.Context, owner uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	net, err := s.repo.TypeTotals(ctx, owner, asOf)
	if err != nil {
		return decimal.Zero, err
	}

	balance := func(t AccountType) decimal.Decimal {
		n := net[t]
		if t.DebitNormal() {
			return n
		}

		return n.Neg()
	}

	assets := balance(TypeAsset)
	liabilities := balance(TypeLiability)
	equity := balance(TypeEquity)
	income := balance(TypeIncome)
	expenses := balance(TypeExpense)

	return assets.Sub(liabilities.Add(equity).Add(income).Sub(expenses)), nil
}

func (s *Service) verifyEquation(ctx context.Context, owner uuid.UUID, asOf time.Time) error {
	residual, err := s.equationResidual(ctx, owner, asOf)
	if err != nil {
		return fmt.Errorf("checking accounting equation: %w", err)
	}

	if residual.Abs().GreaterThan(money.BalanceTolerance) {
		detail := fmt.Sprintf("accounting equation residual %s as of %s", residual, asOf.Format(time.DateOnly))
		s.haltOwner(owner, detail)

		return &IntegrityError{OwnerID: owner, Detail: detail}
	}

	return nil
}
