package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/bankfeed"
	"github.com/tallyhq/tally/internal/ledger"
)

type testLedger struct {
	accountTypes map[uuid.UUID]ledger.AccountType
	checking     uuid.UUID
	groceries    uuid.UUID
	salary       uuid.UUID
}

func newTestLedger() *testLedger {
	tl := &testLedger{
		accountTypes: make(map[uuid.UUID]ledger.AccountType),
		checking:     uuid.New(),
		groceries:    uuid.New(),
		salary:       uuid.New(),
	}
	tl.accountTypes[tl.checking] = ledger.TypeAsset
	tl.accountTypes[tl.groceries] = ledger.TypeExpense
	tl.accountTypes[tl.salary] = ledger.TypeIncome

	return tl
}

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

// expense builds a posted Dr expense / Cr checking entry.
func (tl *testLedger) expense(amount string, date time.Time, memo string, tags ...string) *ledger.Entry {
	return &ledger.Entry{
		ID:     uuid.New(),
		Date:   date,
		Memo:   memo,
		Source: ledger.SourceManual,
		Status: ledger.StatusPosted,
		Lines: []ledger.Line{
			{AccountID: tl.groceries, Direction: ledger.Debit, Amount: dec(amount), Currency: "EUR", Tags: tags},
			{AccountID: tl.checking, Direction: ledger.Credit, Amount: dec(amount), Currency: "EUR", Tags: tags},
		},
	}
}

// income builds a posted Dr checking / Cr salary entry.
func (tl *testLedger) income(amount string, date time.Time, memo string) *ledger.Entry {
	return &ledger.Entry{
		ID:     uuid.New(),
		Date:   date,
		Memo:   memo,
		Source: ledger.SourceManual,
		Status: ledger.StatusPosted,
		Lines: []ledger.Line{
			{AccountID: tl.checking, Direction: ledger.Debit, Amount: dec(amount), Currency: "EUR", Tags: nil},
			{AccountID: tl.salary, Direction: ledger.Credit, Amount: dec(amount), Currency: "EUR", Tags: nil},
		},
	}
}

func outTx(amount string, date time.Time, description string) *bankfeed.Transaction {
	return &bankfeed.Transaction{
		ID:          uuid.New(),
		Date:        date,
		Amount:      dec(amount),
		Direction:   bankfeed.DirectionOut,
		Description: description,
		Status:      bankfeed.StatusPending,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestScoreGroup_PerfectMatch(t *testing.T) {
	tl := newTestLedger()
	cfg := DefaultConfig()

	tx := outTx("54.30", day(12), "SUPERMARKET LISBOA")
	e := tl.expense("54.30", day(12), "Supermarket Lisboa")

	scored := ScoreGroup(tx, []*ledger.Entry{e}, tl.accountTypes, nil, cfg)

	assert.Equal(t, 100.0, scored.Breakdown.Amount)
	assert.Equal(t, 100.0, scored.Breakdown.Date)
	assert.Equal(t, 100.0, scored.Breakdown.Description)
	assert.Equal(t, 100.0, scored.Breakdown.Validity)
	assert.Empty(t, scored.Breakdown.Skipped)
	assert.GreaterOrEqual(t, scored.Score, cfg.AutoAcceptThreshold)
}

func TestScoreGroup_NearAmountAndDate(t *testing.T) {
	tl := newTestLedger()
	cfg := DefaultConfig()

	// Within relative tolerance on amount, five days off on date: strong but
	// not strong enough to auto-accept.
	tx := outTx("1000.05", day(15), "RENT JANUARY")
	e := tl.expense("1000.00", day(10), "Rent January")

	scored := ScoreGroup(tx, []*ledger.Entry{e}, tl.accountTypes, nil, cfg)

	assert.Equal(t, 90.0, scored.Breakdown.Amount)
	assert.Equal(t, 70.0, scored.Breakdown.Date)
	assert.GreaterOrEqual(t, scored.Score, cfg.ReviewThreshold)
	assert.Less(t, scored.Score, cfg.AutoAcceptThreshold)
}

func TestScoreGroup_MissingDescriptionSkipsDimensions(t *testing.T) {
	tl := newTestLedger()

	tx := outTx("54.30", day(12), "")
	e := tl.expense("54.30", day(12), "Supermarket")

	scored := ScoreGroup(tx, []*ledger.Entry{e}, tl.accountTypes, nil, DefaultConfig())

	assert.Contains(t, scored.Breakdown.Skipped, "description")
	assert.Contains(t, scored.Breakdown.Skipped, "history")
	assert.Zero(t, scored.Breakdown.Description)
	assert.Zero(t, scored.Breakdown.History)
	// The skipped dimensions contribute nothing; the rest still count.
	assert.InDelta(t, 0.40*100+0.25*100+0.10*100, scored.Score, 1e-9)
}

func TestScoreGroup_ValidityRejectsWrongDirection(t *testing.T) {
	tl := newTestLedger()

	// An outgoing payment explained by an income entry crediting salary.
	tx := outTx("1000.00", day(10), "ACME PAYROLL")
	e := tl.income("1000.00", day(10), "Acme payroll")

	scored := ScoreGroup(tx, []*ledger.Entry{e}, tl.accountTypes, nil, DefaultConfig())

	assert.Zero(t, scored.Breakdown.Validity)
}

func TestScoreGroup_HistoryDimension(t *testing.T) {
	tl := newTestLedger()

	tx := outTx("54.30", day(12), "SUPERMARKET LISBOA")
	e := tl.expense("54.30", day(12), "Supermarket Lisboa")

	history := History{PatternKey(tx.Description): {}}

	with := ScoreGroup(tx, []*ledger.Entry{e}, tl.accountTypes, history, DefaultConfig())
	without := ScoreGroup(tx, []*ledger.Entry{e}, tl.accountTypes, nil, DefaultConfig())

	assert.Equal(t, 100.0, with.Breakdown.History)
	assert.InDelta(t, 5.0, with.Score-without.Score, 1e-9)
}

func TestScoreGroup_Bounds(t *testing.T) {
	tl := newTestLedger()

	tx := outTx("500.00", day(1), "SOMETHING ELSE ENTIRELY")
	e := tl.expense("9.99", day(28), "unrelated")

	scored := ScoreGroup(tx, []*ledger.Entry{e}, tl.accountTypes, nil, DefaultConfig())

	assert.GreaterOrEqual(t, scored.Score, 0.0)
	assert.LessOrEqual(t, scored.Score, 100.0)
}

func TestCandidateGroups_SplitsAndWindow(t *testing.T) {
	tl := newTestLedger()
	cfg := DefaultConfig()

	tx := outTx("150.00", day(10), "CARD SETTLEMENT")

	a := tl.expense("100.00", day(9), "dinner")
	b := tl.expense("50.00", day(10), "drinks")
	farAway := tl.expense("150.00", day(25), "outside the window")

	groups := CandidateGroups(tx, []*ledger.Entry{a, b, farAway}, cfg)
	require.NotEmpty(t, groups)

	var foundPair bool

	for _, g := range groups {
		ids := make(map[uuid.UUID]bool, len(g))
		for _, e := range g {
			assert.NotEqual(t, farAway.ID, e.ID)
			ids[e.ID] = true
		}

		if ids[a.ID] && ids[b.ID] {
			foundPair = true
		}
	}

	assert.True(t, foundPair, "expected the two-entry split to be a candidate")
}

func TestCandidateGroups_RelativeWindowAboveFeeCap(t *testing.T) {
	tl := newTestLedger()
	cfg := DefaultConfig()

	// A large entry more than the flat fee window above the transaction is
	// still a candidate while inside the relative amount window.
	tx := outTx("10000.00", day(12), "ANNUAL INSURANCE PREMIUM")
	e := tl.expense("10040.00", day(12), "Annual insurance premium")

	groups := CandidateGroups(tx, []*ledger.Entry{e}, cfg)
	require.Len(t, groups, 1)
	assert.Equal(t, e.ID, groups[0][0].ID)

	best := BestMatch(tx, []*ledger.Entry{e}, tl.accountTypes, nil, cfg)
	require.NotNil(t, best)
	assert.Equal(t, 90.0, best.Breakdown.Amount)
}

func TestCandidateGroups_CrossPeriodTagWidensWindow(t *testing.T) {
	tl := newTestLedger()
	cfg := DefaultConfig()

	tx := outTx("800.00", day(25), "DECEMBER INVOICE")
	e := tl.expense("800.00", day(2), "December invoice", CrossPeriodTag)

	groups := CandidateGroups(tx, []*ledger.Entry{e}, cfg)
	require.Len(t, groups, 1)
	assert.Equal(t, e.ID, groups[0][0].ID)

	// Without the tag the same entry sits outside the seven-day window.
	plain := tl.expense("800.00", day(2), "December invoice")
	assert.Empty(t, CandidateGroups(tx, []*ledger.Entry{plain}, cfg))
}

func TestBestMatch_PicksStrongestCandidate(t *testing.T) {
	tl := newTestLedger()
	cfg := DefaultConfig()

	tx := outTx("54.30", day(12), "SUPERMARKET LISBOA")

	exact := tl.expense("54.30", day(12), "Supermarket Lisboa")
	weaker := tl.expense("54.30", day(16), "cash withdrawal")

	best := BestMatch(tx, []*ledger.Entry{weaker, exact}, tl.accountTypes, nil, cfg)
	require.NotNil(t, best)
	assert.Equal(t, []uuid.UUID{exact.ID}, best.EntryIDs)
}

func TestBestMatch_NoCandidates(t *testing.T) {
	tl := newTestLedger()

	tx := outTx("54.30", day(12), "SUPERMARKET")

	assert.Nil(t, BestMatch(tx, nil, tl.accountTypes, nil, DefaultConfig()))
}
