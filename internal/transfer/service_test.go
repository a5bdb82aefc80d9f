package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/ledger"
)

type fakeLedger struct {
	accounts map[uuid.UUID]*ledger.Account
	entries  []*ledger.Entry
}

func (f *fakeLedger) PostEntry(_ context.Context, e *ledger.Entry) (*ledger.Entry, error) {
	if e.Source != ledger.SourceSystem {
		return nil, ledger.Validationf("only system entries expected here")
	}

	e.ID = uuid.New()
	e.Status = ledger.StatusPosted
	f.entries = append(f.entries, e)

	return e, nil
}

func (f *fakeLedger) GetAccount(_ context.Context, owner, id uuid.UUID) (*ledger.Account, error) {
	acc, ok := f.accounts[id]
	if !ok || acc.OwnerID != owner {
		return nil, ledger.ErrNotFound
	}

	return acc, nil
}

func (f *fakeLedger) ensure(owner uuid.UUID, name string, typ ledger.AccountType, currency string) *ledger.Account {
	for _, acc := range f.accounts {
		if acc.OwnerID == owner && acc.Name == name && acc.System {
			return acc
		}
	}

	acc := &ledger.Account{
		ID:       uuid.New(),
		OwnerID:  owner,
		Name:     name,
		Type:     typ,
		Currency: currency,
		System:   true,
		Active:   true,
	}
	f.accounts[acc.ID] = acc

	return acc
}

func (f *fakeLedger) EnsureProcessingAccount(_ context.Context, owner uuid.UUID, currency string) (*ledger.Account, error) {
	return f.ensure(owner, ledger.ProcessingAccountName, ledger.TypeAsset, currency), nil
}

func (f *fakeLedger) EnsureSystemAccount(_ context.Context, owner uuid.UUID, name string, typ ledger.AccountType, currency string) (*ledger.Account, error) {
	return f.ensure(owner, name, typ, currency), nil
}

func (f *fakeLedger) AccountBalance(_ context.Context, owner, accountID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero

	for _, e := range f.entries {
		if e.OwnerID != owner || e.Date.After(asOf) {
			continue
		}

		for _, l := range e.Lines {
			if l.AccountID != accountID {
				continue
			}

			if l.Direction == ledger.Debit {
				sum = sum.Add(l.Amount)
			} else {
				sum = sum.Sub(l.Amount)
			}
		}
	}

	return sum, nil
}

type fakeBank struct {
	txs map[uuid.UUID]*bankfeed.Transaction
}

func (f *fakeBank) Get(_ context.Context, owner, id uuid.UUID) (*bankfeed.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok || tx.OwnerID != owner {
		return nil, ledger.ErrNotFound
	}

	return tx, nil
}

func (f *fakeBank) ListPending(_ context.Context, owner uuid.UUID) ([]*bankfeed.Transaction, error) {
	var out []*bankfeed.Transaction

	for _, tx := range f.txs {
		if tx.OwnerID == owner && tx.Status == bankfeed.StatusPending {
			out = append(out, tx)
		}
	}

	return out, nil
}

func (f *fakeBank) ClaimTransfer(_ context.Context, owner, id uuid.UUID) (bool, error) {
	tx, ok := f.txs[id]
	if !ok || tx.OwnerID != owner || tx.Status != bankfeed.StatusPending {
		return false, nil
	}

	tx.Status = bankfeed.StatusTransfer

	return true, nil
}

type fakeLegRepo struct {
	legs map[uuid.UUID]*Leg
}

func (f *fakeLegRepo) CreateLeg(_ context.Context, leg *Leg) error {
	leg.ID = uuid.New()
	leg.CreatedAt = time.Now()
	f.legs[leg.ID] = leg

	return nil
}

func (f *fakeLegRepo) GetLeg(_ context.Context, owner, id uuid.UUID) (*Leg, error) {
	leg, ok := f.legs[id]
	if !ok || leg.OwnerID != owner {
		return nil, ledger.ErrNotFound
	}

	return leg, nil
}

func (f *fakeLegRepo) ListUnpaired(_ context.Context, owner uuid.UUID) ([]*Leg, error) {
	var out []*Leg

	for _, leg := range f.legs {
		if leg.OwnerID == owner && leg.Status == LegUnpaired {
			out = append(out, leg)
		}
	}

	return out, nil
}

func (f *fakeLegRepo) MarkPaired(_ context.Context, owner, outID, inID, pairID uuid.UUID, feeEntryID *uuid.UUID) error {
	for _, id := range []uuid.UUID{outID, inID} {
		leg, ok := f.legs[id]
		if !ok || leg.OwnerID != owner || leg.Status != LegUnpaired {
			return ledger.Conflictf("leg %s is not unpaired", id)
		}

		leg.Status = LegPaired
		leg.PairID = &pairID
	}

	if feeEntryID != nil {
		f.legs[outID].FeeEntryID = feeEntryID
	}

	return nil
}

func (f *fakeLegRepo) HasPairedAccounts(_ context.Context, owner, a, b uuid.UUID) (bool, error) {
	byPair := make(map[uuid.UUID][]uuid.UUID)

	for _, leg := range f.legs {
		if leg.OwnerID == owner && leg.PairID != nil {
			byPair[*leg.PairID] = append(byPair[*leg.PairID], leg.AccountID)
		}
	}

	for _, accounts := range byPair {
		if len(accounts) == 2 {
			if (accounts[0] == a && accounts[1] == b) || (accounts[0] == b && accounts[1] == a) {
				return true, nil
			}
		}
	}

	return false, nil
}

type fixture struct {
	owner uuid.UUID
	bankA uuid.UUID
	bankB uuid.UUID

	ledger *fakeLedger
	bank   *fakeBank
	repo   *fakeLegRepo
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		owner: uuid.New(),
		bank:  &fakeBank{txs: make(map[uuid.UUID]*bankfeed.Transaction)},
		repo:  &fakeLegRepo{legs: make(map[uuid.UUID]*Leg)},
	}

	f.ledger = &fakeLedger{accounts: make(map[uuid.UUID]*ledger.Account)}

	a := &ledger.Account{ID: uuid.New(), OwnerID: f.owner, Name: "Bank A", Type: ledger.TypeAsset, Currency: "EUR", Active: true}
	b := &ledger.Account{ID: uuid.New(), OwnerID: f.owner, Name: "Bank B", Type: ledger.TypeAsset, Currency: "EUR", Active: true}
	f.ledger.accounts[a.ID] = a
	f.ledger.accounts[b.ID] = b
	f.bankA, f.bankB = a.ID, b.ID

	svc, err := NewService(f.repo, f.ledger, f.bank, DefaultConfig())
	require.NoError(t, err)

	// Pin the clock well past every test date, so grace-period checks are
	// deterministic.
	svc.now = func() time.Time { return jan(20) }

	f.svc = svc

	return f
}

func (f *fixture) addTx(account uuid.UUID, amount string, date time.Time, dir bankfeed.Direction, desc string) *bankfeed.Transaction {
	tx := &bankfeed.Transaction{
		ID:          uuid.New(),
		OwnerID:     f.owner,
		AccountID:   account,
		Date:        date,
		Amount:      decimal.RequireFromString(amount),
		Direction:   dir,
		Description: desc,
		Status:      bankfeed.StatusPending,
	}
	f.bank.txs[tx.ID] = tx

	return tx
}

func (f *fixture) processingBalance(t *testing.T, asOf time.Time) decimal.Decimal {
	t.Helper()

	processing, err := f.ledger.EnsureProcessingAccount(context.Background(), f.owner, "EUR")
	require.NoError(t, err)

	balance, err := f.ledger.AccountBalance(context.Background(), f.owner, processing.ID, asOf)
	require.NoError(t, err)

	return balance
}

func jan(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestService_ReconcileTransfers_TwoLegs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.addTx(f.bankA, "10000.00", jan(1), bankfeed.DirectionOut, "TRANSFER TO BANK B")

	// Only the outgoing leg has arrived: clearing holds the full amount.
	result, err := f.svc.ReconcileTransfers(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Empty(t, result.Paired)
	assert.Equal(t, LegUnpaired, result.Created[0].Status)
	assert.Equal(t, bankfeed.StatusTransfer, out.Status)
	assert.True(t, f.processingBalance(t, jan(1)).Equal(decimal.RequireFromString("10000.00")))

	// The incoming leg lands two days later and pairs automatically.
	f.addTx(f.bankB, "10000.00", jan(3), bankfeed.DirectionIn, "TRANSFER FROM BANK A")

	result, err = f.svc.ReconcileTransfers(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Len(t, result.Paired, 1)
	assert.Equal(t, LegPaired, result.Paired[0].Status)
	assert.True(t, f.processingBalance(t, jan(3)).IsZero())

	// Both legs share the pair id.
	legs := make([]*Leg, 0, len(f.repo.legs))
	for _, leg := range f.repo.legs {
		legs = append(legs, leg)
	}

	require.Len(t, legs, 2)
	require.NotNil(t, legs[0].PairID)
	require.NotNil(t, legs[1].PairID)
	assert.Equal(t, *legs[0].PairID, *legs[1].PairID)
}

func TestService_ReconcileTransfers_SameRunPairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTx(f.bankA, "500.00", jan(1), bankfeed.DirectionOut, "TRANSFER TO BANK B")
	f.addTx(f.bankB, "500.00", jan(2), bankfeed.DirectionIn, "TRANSFER FROM BANK A")

	// Both legs in one sweep: the older leg posts first, the newer pairs.
	result, err := f.svc.ReconcileTransfers(ctx, f.owner)
	require.NoError(t, err)
	assert.Len(t, result.Created, 2)
	assert.Len(t, result.Paired, 1)
	assert.True(t, f.processingBalance(t, jan(2)).IsZero())
}

func TestService_ReconcileTransfers_FeeEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTx(f.bankA, "10000.00", jan(1), bankfeed.DirectionOut, "WIRE TO BANK B")
	f.addTx(f.bankB, "9996.00", jan(1), bankfeed.DirectionIn, "WIRE FROM BANK A")

	result, err := f.svc.ReconcileTransfers(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, result.Paired, 1)

	// The 4.00 difference drains into the fee account, leaving clearing at
	// zero without ever touching the leg amounts.
	assert.True(t, f.processingBalance(t, jan(1)).IsZero())

	var feeEntry *ledger.Entry

	for _, e := range f.ledger.entries {
		if e.Memo == "Transfer fee" {
			feeEntry = e
		}
	}

	require.NotNil(t, feeEntry)
	assert.True(t, feeEntry.DebitTotal().Equal(decimal.RequireFromString("4.00")))

	for _, leg := range f.repo.legs {
		if leg.Direction == bankfeed.DirectionOut {
			assert.NotNil(t, leg.FeeEntryID)
		}
	}
}

func TestService_ReconcileTransfers_LowConfidenceQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx := f.addTx(f.bankA, "300.00", jan(1), bankfeed.DirectionOut, "ATM 00231")

	result, err := f.svc.ReconcileTransfers(ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	require.Len(t, result.PendingReview, 1)
	assert.Equal(t, ReasonLowConfidence, result.PendingReview[0].Reason)
	assert.Equal(t, tx.ID, result.PendingReview[0].BankTransactionID)

	// The transaction stays pending for the regular matcher or manual
	// confirmation.
	assert.Equal(t, bankfeed.StatusPending, tx.Status)
}

func TestService_ReconcileTransfers_IgnoresOrdinarySpending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx := f.addTx(f.bankA, "54.30", jan(1), bankfeed.DirectionOut, "SUPERMARKET LISBOA")

	result, err := f.svc.ReconcileTransfers(ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Empty(t, result.PendingReview)
	assert.Equal(t, bankfeed.StatusPending, tx.Status)
}

func TestService_ReconcileTransfers_OverdueLegSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addTx(f.bankA, "10000.00", jan(1), bankfeed.DirectionOut, "TRANSFER TO BANK B")

	result, err := f.svc.ReconcileTransfers(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, result.Created, 1)

	legID := result.Created[0].ID

	// The clock sits at Jan 20; the counterpart never arrived.
	result, err = f.svc.ReconcileTransfers(ctx, f.owner)
	require.NoError(t, err)

	overdue := false

	for _, item := range result.PendingReview {
		if item.Reason == ReasonOverdue && item.LegID == legID {
			overdue = true
		}
	}

	assert.True(t, overdue)

	// The leg is surfaced, never auto-zeroed: clearing still holds the funds.
	assert.True(t, f.processingBalance(t, jan(20)).Equal(decimal.RequireFromString("10000.00")))
}

func TestService_Confirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx := f.addTx(f.bankA, "300.00", jan(1), bankfeed.DirectionOut, "ATM 00231")

	leg, err := f.svc.Confirm(ctx, f.owner, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, LegUnpaired, leg.Status)
	assert.Equal(t, bankfeed.StatusTransfer, tx.Status)

	t.Run("AlreadyClaimedConflicts", func(t *testing.T) {
		_, err := f.svc.Confirm(ctx, f.owner, tx.ID)

		var cerr *ledger.ConflictError
		assert.ErrorAs(t, err, &cerr)
	})
}
