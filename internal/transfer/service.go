package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/money"
)

// LedgerService is the slice of the ledger the transfer subsystem posts
// through. Synthesized entries carry the system source kind; the ledger
// itself enforces that only those may touch the clearing account.
type LedgerService interface {
	PostEntry(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error)
	GetAccount(ctx context.Context, owner, id uuid.UUID) (*ledger.Account, error)
	EnsureProcessingAccount(ctx context.Context, owner uuid.UUID, currency string) (*ledger.Account, error)
	EnsureSystemAccount(ctx context.Context, owner uuid.UUID, name string, typ ledger.AccountType, currency string) (*ledger.Account, error)
	AccountBalance(ctx context.Context, owner, accountID uuid.UUID, asOf time.Time) (decimal.Decimal, error)
}

type BankService interface {
	Get(ctx context.Context, owner, id uuid.UUID) (*bankfeed.Transaction, error)
	ListPending(ctx context.Context, owner uuid.UUID) ([]*bankfeed.Transaction, error)
	ClaimTransfer(ctx context.Context, owner, id uuid.UUID) (bool, error)
}

type Repository interface {
	CreateLeg(ctx context.Context, leg *Leg) error
	GetLeg(ctx context.Context, owner, id uuid.UUID) (*Leg, error)
	ListUnpaired(ctx context.Context, owner uuid.UUID) ([]*Leg, error)
	MarkPaired(ctx context.Context, owner, outID, inID, pairID uuid.UUID, feeEntryID *uuid.UUID) error
	HasPairedAccounts(ctx context.Context, owner, a, b uuid.UUID) (bool, error)
}

type Service struct {
	repo   Repository
	ledger LedgerService
	bank   BankService
	cfg    Config

	now func() time.Time

	mu     sync.Mutex
	owners map[uuid.UUID]*sync.Mutex
}

func NewService(repo Repository, ledgerSvc LedgerService, bankSvc BankService, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Service{
		repo:   repo,
		ledger: ledgerSvc,
		bank:   bankSvc,
		cfg:    cfg,
		now:    time.Now,
		owners: make(map[uuid.UUID]*sync.Mutex),
	}, nil
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

// ReviewReason explains why a transaction or leg needs a human.
type ReviewReason string

const (
	// ReasonLowConfidence marks a transaction the classifier suspects is a
	// transfer but is not sure enough to handle automatically.
	ReasonLowConfidence ReviewReason = "low_confidence"
	// ReasonOverdue marks a leg unpaired past the grace period. It is never
	// auto-zeroed; someone has to look at it.
	ReasonOverdue ReviewReason = "overdue"
)

type ReviewItem struct {
	Reason            ReviewReason
	BankTransactionID uuid.UUID
	LegID             uuid.UUID
	Score             float64
}

type Result struct {
	Created       []*Leg
	Paired        []*Leg
	PendingReview []ReviewItem
}

// ReconcileTransfers sweeps the owner's pending bank feed for transfer legs,
// posts a clearing entry for each detected leg, pairs legs whose amounts net
// out, and surfaces everything that needs a human. Transactions the
// classifier scores below the confirm threshold are left for expense/income
// matching.
func (s *Service) ReconcileTransfers(ctx context.Context, owner uuid.UUID) (*Result, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	result := &Result{}

	pending, err := s.bank.ListPending(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}

	// Oldest first, so an outgoing leg posts before the incoming leg that
	// pairs against it.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Date.Before(pending[j].Date)
	})

	unpaired, err := s.repo.ListUnpaired(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing unpaired legs: %w", err)
	}

	for _, tx := range pending {
		counterpart, score, err := s.classify(ctx, owner, tx, unpaired)
		if err != nil {
			return nil, err
		}

		switch {
		case score >= s.cfg.AutoThreshold:
			leg, err := s.processLeg(ctx, owner, tx, counterpart)
			if err != nil {
				return nil, err
			}

			if leg == nil {
				// Lost the claim; someone else decided this transaction.
				continue
			}

			result.Created = append(result.Created, leg)

			if leg.Paired() {
				result.Paired = append(result.Paired, leg)
				unpaired = removeLeg(unpaired, counterpart.ID)
			} else {
				unpaired = append(unpaired, leg)
			}
		case score >= s.cfg.ConfirmThreshold:
			result.PendingReview = append(result.PendingReview, ReviewItem{
				Reason:            ReasonLowConfidence,
				BankTransactionID: tx.ID,
				Score:             score,
			})
		}
	}

	now := s.now()

	for _, leg := range unpaired {
		if leg.Overdue(now, s.cfg.gracePeriod()) {
			result.PendingReview = append(result.PendingReview, ReviewItem{
				Reason:            ReasonOverdue,
				BankTransactionID: leg.BankTransactionID,
				LegID:             leg.ID,
			})
		}
	}

	return result, nil
}

// Confirm force-handles one transaction as a transfer leg, regardless of the
// classifier's score. This is the manual path for the low-confidence queue.
func (s *Service) Confirm(ctx context.Context, owner, txID uuid.UUID) (*Leg, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.bank.Get(ctx, owner, txID)
	if err != nil {
		return nil, err
	}

	if tx.Status != bankfeed.StatusPending {
		return nil, ledger.Conflictf("transaction %s is %s, not pending", txID, tx.Status)
	}

	unpaired, err := s.repo.ListUnpaired(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing unpaired legs: %w", err)
	}

	counterpart := bestCounterpart(tx, unpaired)

	leg, err := s.processLeg(ctx, owner, tx, counterpart)
	if err != nil {
		return nil, err
	}

	if leg == nil {
		return nil, ledger.Conflictf("transaction %s was claimed concurrently", txID)
	}

	return leg, nil
}

// classify scores one pending transaction, choosing the strongest unpaired
// counterpart leg if any exists.
func (s *Service) classify(ctx context.Context, owner uuid.UUID, tx *bankfeed.Transaction, unpaired []*Leg) (*Leg, float64, error) {
	counterpart := bestCounterpart(tx, unpaired)
	if counterpart == nil {
		return nil, LoneScore(tx), nil
	}

	pairedBefore, err := s.repo.HasPairedAccounts(ctx, owner, tx.AccountID, counterpart.AccountID)
	if err != nil {
		return nil, 0, fmt.Errorf("checking pair history: %w", err)
	}

	return counterpart, PairScore(tx, counterpart, pairedBefore, s.cfg), nil
}

// bestCounterpart picks the unpaired opposite-direction leg with the closest
// amount, provided the amounts could belong to one transfer at all.
func bestCounterpart(tx *bankfeed.Transaction, unpaired []*Leg) *Leg {
	var best *Leg

	for _, leg := range unpaired {
		if leg.Direction == tx.Direction || leg.AccountID == tx.AccountID {
			continue
		}

		if !PairableAmounts(leg.Amount, tx.Amount) {
			continue
		}

		// Fees only ever shrink the incoming side, so the outgoing leg must
		// cover the incoming one.
		out, in := leg.Amount, tx.Amount
		if leg.Direction == bankfeed.DirectionIn {
			out, in = in, out
		}

		if out.Add(money.BalanceTolerance).LessThan(in) {
			continue
		}

		if best == nil || money.Diff(leg.Amount, tx.Amount).LessThan(money.Diff(best.Amount, tx.Amount)) {
			best = leg
		}
	}

	return best
}

// processLeg claims the transaction, posts its clearing entry, records the
// leg and, when a counterpart is present, completes the pair. A nil leg with
// nil error means the claim was lost.
func (s *Service) processLeg(ctx context.Context, owner uuid.UUID, tx *bankfeed.Transaction, counterpart *Leg) (*Leg, error) {
	claimed, err := s.bank.ClaimTransfer(ctx, owner, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("claiming transaction %s: %w", tx.ID, err)
	}

	if !claimed {
		return nil, nil
	}

	account, err := s.ledger.GetAccount(ctx, owner, tx.AccountID)
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", tx.AccountID, err)
	}

	processing, err := s.ledger.EnsureProcessingAccount(ctx, owner, account.Currency)
	if err != nil {
		return nil, fmt.Errorf("ensuring clearing account: %w", err)
	}

	entry, err := s.postLegEntry(ctx, owner, tx, account, processing)
	if err != nil {
		return nil, err
	}

	leg := &Leg{
		OwnerID:           owner,
		BankTransactionID: tx.ID,
		EntryID:           entry.ID,
		AccountID:         tx.AccountID,
		Direction:         tx.Direction,
		Amount:            tx.Amount,
		Date:              tx.Date,
		Status:            LegUnpaired,
	}
	if err := s.repo.CreateLeg(ctx, leg); err != nil {
		return nil, fmt.Errorf("recording leg: %w", err)
	}

	if counterpart != nil {
		if err := s.pair(ctx, owner, leg, counterpart, processing); err != nil {
			return nil, err
		}
	}

	return leg, nil
}

// postLegEntry synthesizes the clearing entry for one leg. Outgoing money
// debits the clearing account and credits the source; incoming money is the
// mirror image.
func (s *Service) postLegEntry(ctx context.Context, owner uuid.UUID, tx *bankfeed.Transaction, account, processing *ledger.Account) (*ledger.Entry, error) {
	var debit, credit uuid.UUID

	switch tx.Direction {
	case bankfeed.DirectionOut:
		debit, credit = processing.ID, account.ID
	case bankfeed.DirectionIn:
		debit, credit = account.ID, processing.ID
	default:
		return nil, ledger.Validationf("unknown direction %q", tx.Direction)
	}

	entry := &ledger.Entry{
		OwnerID:   owner,
		Date:      tx.Date,
		Memo:      fmt.Sprintf("Transfer (%s): %s", tx.Direction, tx.Description),
		Source:    ledger.SourceSystem,
		SourceRef: tx.ID.String(),
		Lines: []ledger.Line{
			{AccountID: debit, Direction: ledger.Debit, Amount: tx.Amount, Currency: account.Currency},
			{AccountID: credit, Direction: ledger.Credit, Amount: tx.Amount, Currency: account.Currency},
		},
	}

	posted, err := s.ledger.PostEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("posting leg entry: %w", err)
	}

	return posted, nil
}

// pair completes a transfer: both legs point at a shared pair id, and any
// fee the bank took is booked as its own expense entry, never by touching
// the leg amounts.
func (s *Service) pair(ctx context.Context, owner uuid.UUID, leg, counterpart *Leg, processing *ledger.Account) error {
	out, in := leg, counterpart
	if out.Direction == bankfeed.DirectionIn {
		out, in = in, out
	}

	var feeEntryID *uuid.UUID

	fee := out.Amount.Sub(in.Amount)
	if fee.IsPositive() && !money.WithinTolerance(out.Amount, in.Amount, money.BalanceTolerance) {
		entry, err := s.postFeeEntry(ctx, owner, fee, processing, in.Date)
		if err != nil {
			return err
		}

		feeEntryID = &entry.ID
	}

	pairID := uuid.New()

	if err := s.repo.MarkPaired(ctx, owner, out.ID, in.ID, pairID, feeEntryID); err != nil {
		return fmt.Errorf("pairing legs: %w", err)
	}

	leg.Status = LegPaired
	leg.PairID = &pairID
	counterpart.Status = LegPaired
	counterpart.PairID = &pairID

	if feeEntryID != nil {
		out.FeeEntryID = feeEntryID
	}

	return nil
}

// postFeeEntry drains the fee residue from the clearing account into the
// transfer-fee expense account.
func (s *Service) postFeeEntry(ctx context.Context, owner uuid.UUID, fee decimal.Decimal, processing *ledger.Account, date time.Time) (*ledger.Entry, error) {
	fees, err := s.ledger.EnsureSystemAccount(ctx, owner, ledger.TransferFeeAccountName, ledger.TypeExpense, processing.Currency)
	if err != nil {
		return nil, fmt.Errorf("ensuring fee account: %w", err)
	}

	entry := &ledger.Entry{
		OwnerID: owner,
		Date:    date,
		Memo:    "Transfer fee",
		Source:  ledger.SourceSystem,
		Lines: []ledger.Line{
			{AccountID: fees.ID, Direction: ledger.Debit, Amount: fee, Currency: processing.Currency},
			{AccountID: processing.ID, Direction: ledger.Credit, Amount: fee, Currency: processing.Currency},
		},
	}

	posted, err := s.ledger.PostEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("posting fee entry: %w", err)
	}

	return posted, nil
}

// ProcessingBalance is the clearing account's balance as of now: the sum of
// currently unpaired legs. Zero means every transfer has both legs.
func (s *Service) ProcessingBalance(ctx context.Context, owner uuid.UUID, currency string) (decimal.Decimal, error) {
	processing, err := s.ledger.EnsureProcessingAccount(ctx, owner, currency)
	if err != nil {
		return decimal.Zero, err
	}

	return s.ledger.AccountBalance(ctx, owner, processing.ID, s.now())
}

// PendingLegs lists the owner's unpaired legs, oldest first.
func (s *Service) PendingLegs(ctx context.Context, owner uuid.UUID) ([]*Leg, error) {
	legs, err := s.repo.ListUnpaired(ctx, owner)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(legs, func(i, j int) bool {
		return legs[i].Date.Before(legs[j].Date)
	})

	return legs, nil
}

func removeLeg(legs []*Leg, id uuid.UUID) []*Leg {
	out := legs[:0]

	for _, l := range legs {
		if l.ID != id {
			out = append(out, l)
		}
	}

	return out
}
