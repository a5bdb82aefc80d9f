package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/ledger"
)

// scoringConcurrency bounds the parallel fan-out of the pure scoring phase.
const scoringConcurrency = 8

// LedgerService is the slice of the ledger the matcher needs.
type LedgerService interface {
	List(ctx context.Context, owner uuid.UUID, filter ledger.EntryFilter) ([]*ledger.Entry, error)
	Get(ctx context.Context, owner, id uuid.UUID) (*ledger.Entry, error)
	Accounts(ctx context.Context, owner uuid.UUID) ([]*ledger.Account, error)
	MarkReconciled(ctx context.Context, owner uuid.UUID, entryIDs []uuid.UUID) error
	UnmarkReconciled(ctx context.Context, owner uuid.UUID, entryIDs []uuid.UUID) error
}

// BankService is the slice of the bank feed the matcher needs. Claim and
// Release are the compare-and-swap commit points for match decisions.
type BankService interface {
	Get(ctx context.Context, owner, id uuid.UUID) (*bankfeed.Transaction, error)
	ListPending(ctx context.Context, owner uuid.UUID) ([]*bankfeed.Transaction, error)
	Claim(ctx context.Context, owner, id uuid.UUID) (bool, error)
	Release(ctx context.Context, owner, id uuid.UUID) (bool, error)
}

type Repository interface {
	CreateMatch(ctx context.Context, m *Match) error
	GetMatch(ctx context.Context, owner, id uuid.UUID) (*Match, error)
	ActiveForTransaction(ctx context.Context, owner, txID uuid.UUID) (*Match, error)
	UpdateStatus(ctx context.Context, owner, id uuid.UUID, from, to Status) (bool, error)

	// SupersedeMatch atomically points the old version at next and inserts
	// next. The caller assigns next.ID up front; the two writes must land
	// together or not at all, the active-version uniqueness of the store
	// permits no intermediate state.
	SupersedeMatch(ctx context.Context, owner, oldID uuid.UUID, next *Match) error

	ListByTransaction(ctx context.Context, owner, txID uuid.UUID) ([]*Match, error)
	AcceptedPatterns(ctx context.Context, owner uuid.UUID) (History, error)
}

// Service runs matching and owns the review/versioning state machine.
// Scoring is pure and fans out in parallel; committing decisions is
// serialized per owner.
type Service struct {
	repo   Repository
	ledger LedgerService
	bank   BankService
	cfg    Config

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

// Unmatched is a transaction no candidate reached the review threshold for.
// Reported in the run result for traceability; no match record is stored.
type Unmatched struct {
	BankTransactionID uuid.UUID
	BestScore         float64
}

type RunResult struct {
	AutoAccepted  []*Match
	PendingReview []*Match
	Unmatched     []Unmatched
}

// RunMatching scores every pending bank transaction for the owner and
// commits the resulting decisions. Re-running over already-decided
// transactions is a no-op: they are no longer pending.
func (s *Service) RunMatching(ctx context.Context, owner uuid.UUID) (*RunResult, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	result := &RunResult{}

	pending, err := s.bank.ListPending(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}

	if len(pending) == 0 {
		return result, nil
	}

	entries, accountTypes, err := s.candidatePool(ctx, owner)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.AcceptedPatterns(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading accepted patterns: %w", err)
	}

	// Phase 1: pure scoring, parallel across transactions.
	scored := make([]*Scored, len(pending))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(scoringConcurrency)

	for i, tx := range pending {
		i, tx := i, tx
		g.Go(func() error {
			scored[i] = BestMatch(tx, entries, accountTypes, history, s.cfg)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Phase 2: serial commit, one decision at a time.
	used := make(map[uuid.UUID]bool)

	for i, tx := range pending {
		best := scored[i]

		if best == nil || best.Score < s.cfg.ReviewThreshold || anyUsed(used, best.EntryIDs) {
			u := Unmatched{BankTransactionID: tx.ID}
			if best != nil {
				u.BestScore = best.Score
			}

			result.Unmatched = append(result.Unmatched, u)

			continue
		}

		claimed, err := s.bank.Claim(ctx, owner, tx.ID)
		if err != nil {
			return nil, fmt.Errorf("claiming transaction %s: %w", tx.ID, err)
		}

		if !claimed {
			// Another decision got there first; nothing to do.
			continue
		}

		status := StatusPendingReview
		if best.Score >= s.cfg.AutoAcceptThreshold {
			status = StatusAutoAccepted
		}

		m := &Match{
			OwnerID:           owner,
			BankTransactionID: tx.ID,
			EntryIDs:          best.EntryIDs,
			Score:             best.Score,
			Breakdown:         best.Breakdown,
			Status:            status,
			PatternKey:        PatternKey(tx.Description),
		}
		if err := s.repo.CreateMatch(ctx, m); err != nil {
			// Give the claim back; a matched transaction with no match
			// record would be stranded until manual repair.
			if _, relErr := s.bank.Release(ctx, owner, tx.ID); relErr != nil {
				return nil, errors.Join(
					fmt.Errorf("creating match: %w", err),
					fmt.Errorf("releasing claim on %s: %w", tx.ID, relErr),
				)
			}

			return nil, fmt.Errorf("creating match: %w", err)
		}

		for _, id := range best.EntryIDs {
			used[id] = true
		}

		if status == StatusAutoAccepted {
			if err := s.ledger.MarkReconciled(ctx, owner, m.EntryIDs); err != nil {
				return nil, fmt.Errorf("reconciling entries: %w", err)
			}

			result.AutoAccepted = append(result.AutoAccepted, m)
		} else {
			result.PendingReview = append(result.PendingReview, m)
		}
	}

	return result, nil
}

// candidatePool loads the posted, non-system entries and the account type
// index the engine scores against. System-sourced entries belong to the
// transfer subsystem and never match bank transactions directly.
func (s *Service) candidatePool(ctx context.Context, owner uuid.UUID) ([]*ledger.Entry, map[uuid.UUID]ledger.AccountType, error) {
	posted := ledger.StatusPosted

	all, err := s.ledger.List(ctx, owner, ledger.EntryFilter{Status: &posted})
	if err != nil {
		return nil, nil, fmt.Errorf("listing entries: %w", err)
	}

	entries := make([]*ledger.Entry, 0, len(all))

	for _, e := range all {
		if e.Source != ledger.SourceSystem {
			entries = append(entries, e)
		}
	}

	accounts, err := s.ledger.Accounts(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("listing accounts: %w", err)
	}

	accountTypes := make(map[uuid.UUID]ledger.AccountType, len(accounts))
	for _, acc := range accounts {
		accountTypes[acc.ID] = acc.Type
	}

	return entries, accountTypes, nil
}

func anyUsed(used map[uuid.UUID]bool, ids []uuid.UUID) bool {
	for _, id := range ids {
		if used[id] {
			return true
		}
	}

	return false
}

// Review applies a manual accept/reject decision to a pending match.
// Re-issuing a decision the match already reached is a no-op; any other
// state is a conflict.
func (s *Service) Review(ctx context.Context, owner, matchID uuid.UUID, decision Decision) (*Match, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	var target Status

	switch decision {
	case DecisionAccept:
		target = StatusAccepted
	case DecisionReject:
		target = StatusRejected
	default:
		return nil, ledger.Validationf("unknown decision %q", decision)
	}

	m, err := s.repo.GetMatch(ctx, owner, matchID)
	if err != nil {
		return nil, err
	}

	if m.Status == target {
		return m, nil
	}

	if m.Status != StatusPendingReview {
		return nil, ledger.Conflictf("match %s is %s, not reviewable", matchID, m.Status)
	}

	swapped, err := s.repo.UpdateStatus(ctx, owner, matchID, StatusPendingReview, target)
	if err != nil {
		return nil, fmt.Errorf("updating match status: %w", err)
	}

	if !swapped {
		return nil, ledger.Conflictf("match %s changed state concurrently", matchID)
	}

	m.Status = target

	switch target {
	case StatusAccepted:
		if err := s.ledger.MarkReconciled(ctx, owner, m.EntryIDs); err != nil {
			return nil, fmt.Errorf("reconciling entries: %w", err)
		}
	case StatusRejected:
		// The transaction goes back into the pool; the rejected match
		// stays on record forever.
		if _, err := s.bank.Release(ctx, owner, m.BankTransactionID); err != nil {
			return nil, fmt.Errorf("releasing transaction: %w", err)
		}
	}

	return m, nil
}

// Supersede corrects a standing match: it appends a new accepted version
// with the given entries and points the old version at it. The old version
// is never edited beyond the supersession mark.
func (s *Service) Supersede(ctx context.Context, owner, matchID uuid.UUID, entryIDs []uuid.UUID) (*Match, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	if len(entryIDs) == 0 {
		return nil, ledger.Validationf("a correction needs at least one entry")
	}

	old, err := s.repo.GetMatch(ctx, owner, matchID)
	if err != nil {
		return nil, err
	}

	if old.SupersededBy != nil {
		return nil, ledger.Conflictf("match %s is already superseded", matchID)
	}

	if old.Status == StatusRejected {
		return nil, ledger.Conflictf("match %s was rejected; run matching again instead", matchID)
	}

	tx, err := s.bank.Get(ctx, owner, old.BankTransactionID)
	if err != nil {
		return nil, err
	}

	group := make([]*ledger.Entry, 0, len(entryIDs))

	for _, id := range entryIDs {
		e, err := s.ledger.Get(ctx, owner, id)
		if err != nil {
			return nil, err
		}

		if e.Status != ledger.StatusPosted && e.Status != ledger.StatusReconciled {
			return nil, ledger.Validationf("entry %s is %s, cannot be matched", id, e.Status)
		}

		group = append(group, e)
	}

	_, accountTypes, err := s.candidatePool(ctx, owner)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.AcceptedPatterns(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading accepted patterns: %w", err)
	}

	// Re-score for the audit trail; a manual correction is accepted
	// regardless of where the score lands.
	rescored := ScoreGroup(tx, group, accountTypes, history, s.cfg)

	next := &Match{
		ID:                uuid.New(),
		OwnerID:           owner,
		BankTransactionID: old.BankTransactionID,
		EntryIDs:          entryIDs,
		Score:             rescored.Score,
		Breakdown:         rescored.Breakdown,
		Status:            StatusAccepted,
		PatternKey:        PatternKey(tx.Description),
	}
	if err := s.repo.SupersedeMatch(ctx, owner, old.ID, next); err != nil {
		return nil, fmt.Errorf("superseding match: %w", err)
	}

	if released := removed(old.EntryIDs, entryIDs); len(released) > 0 {
		if err := s.ledger.UnmarkReconciled(ctx, owner, released); err != nil {
			return nil, fmt.Errorf("releasing replaced entries: %w", err)
		}
	}

	if err := s.ledger.MarkReconciled(ctx, owner, entryIDs); err != nil {
		return nil, fmt.Errorf("reconciling corrected entries: %w", err)
	}

	return next, nil
}

// removed returns the ids in old that are absent from next.
func removed(old, next []uuid.UUID) []uuid.UUID {
	keep := make(map[uuid.UUID]bool, len(next))
	for _, id := range next {
		keep[id] = true
	}

	var out []uuid.UUID

	for _, id := range old {
		if !keep[id] {
			out = append(out, id)
		}
	}

	return out
}

// History returns the full version chain recorded for a bank transaction,
// oldest first.
func (s *Service) History(ctx context.Context, owner, txID uuid.UUID) ([]*Match, error) {
	return s.repo.ListByTransaction(ctx, owner, txID)
}

// Active returns the standing match for a bank transaction, if any.
func (s *Service) Active(ctx context.Context, owner, txID uuid.UUID) (*Match, error) {
	return s.repo.ActiveForTransaction(ctx, owner, txID)
}
