package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tallyhq/tally/internal/ledger"
)

var (
	ownerID   = uuid.MustParse("6f1e1e1e-0000-4000-8000-000000000001")
	bankID    = uuid.MustParse("6f1e1e1e-0000-4000-8000-000000000002")
	incomeID  = uuid.MustParse("6f1e1e1e-0000-4000-8000-000000000003")
	expenseID = uuid.MustParse("6f1e1e1e-0000-4000-8000-000000000004")
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bankAccount() *ledger.Account {
	return &ledger.Account{ID: bankID, OwnerID: ownerID, Name: "Bank", Type: ledger.TypeAsset, Currency: "EUR", Active: true}
}

func incomeAccount() *ledger.Account {
	return &ledger.Account{ID: incomeID, OwnerID: ownerID, Name: "Salary", Type: ledger.TypeIncome, Currency: "EUR", Active: true}
}

func draftEntry(debit, credit string) *ledger.Entry {
	return &ledger.Entry{
		OwnerID: ownerID,
		Date:    time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		Memo:    "January salary",
		Source:  ledger.SourceManual,
		Lines: []ledger.Line{
			{AccountID: bankID, Direction: ledger.Debit, Amount: amt(debit), Currency: "EUR"},
			{AccountID: incomeID, Direction: ledger.Credit, Amount: amt(credit), Currency: "EUR"},
		},
	}
}

func balancedTotals() map[ledger.AccountType]decimal.Decimal {
	return map[ledger.AccountType]decimal.Decimal{
		ledger.TypeAsset:  amt("100.00"),
		ledger.TypeIncome: amt("-100.00"),
	}
}

func TestService_PostEntry(t *testing.T) {
	type testCase struct {
		name      string
		entry     *ledger.Entry
		setupMock func(m *ledger.MockRepository)
		wantErr   func(t *testing.T, err error)
	}

	tests := []testCase{
		{
			name:  "Success",
			entry: draftEntry("100.00", "100.00"),
			setupMock: func(m *ledger.MockRepository) {
				m.EXPECT().GetAccount(gomock.Any(), ownerID, bankID).Return(bankAccount(), nil)
				m.EXPECT().GetAccount(gomock.Any(), ownerID, incomeID).Return(incomeAccount(), nil)
				m.EXPECT().
					CreateEntry(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, e *ledger.Entry) error {
						e.ID = uuid.New()
						e.CreatedAt = time.Now()
						return nil
					})
				m.EXPECT().TypeTotals(gomock.Any(), ownerID, gomock.Any()).Return(balancedTotals(), nil)
			},
		},
		{
			name:  "Unbalanced",
			entry: draftEntry("100.00", "90.00"),
			setupMock: func(m *ledger.MockRepository) {
				m.EXPECT().GetAccount(gomock.Any(), ownerID, bankID).Return(bankAccount(), nil)
				m.EXPECT().GetAccount(gomock.Any(), ownerID, incomeID).Return(incomeAccount(), nil)
			},
			wantErr: func(t *testing.T, err error) {
				var verr *ledger.ValidationError
				assert.ErrorAs(t, err, &verr)
			},
		},
		{
			name:  "WithinTolerance",
			entry: draftEntry("100.00", "100.01"),
			setupMock: func(m *ledger.MockRepository) {
				m.EXPECT().GetAccount(gomock.Any(), ownerID, bankID).Return(bankAccount(), nil)
				m.EXPECT().GetAccount(gomock.Any(), ownerID, incomeID).Return(incomeAccount(), nil)
				m.EXPECT().
					CreateEntry(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, e *ledger.Entry) error {
						e.ID = uuid.New()
						return nil
					})
				m.EXPECT().TypeTotals(gomock.Any(), ownerID, gomock.Any()).Return(balancedTotals(), nil)
			},
		},
		{
			name: "SingleLine",
			entry: &ledger.Entry{
				OwnerID: ownerID,
				Date:    time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
				Source:  ledger.SourceManual,
				Lines: []ledger.Line{
					{AccountID: bankID, Direction: ledger.Debit, Amount: amt("100.00"), Currency: "EUR"},
				},
			},
			wantErr: func(t *testing.T, err error) {
				var verr *ledger.ValidationError
				assert.ErrorAs(t, err, &verr)
			},
		},
		{
			name: "NegativeAmount",
			entry: &ledger.Entry{
				OwnerID: ownerID,
				Date:    time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
				Source:  ledger.SourceManual,
				Lines: []ledger.Line{
					{AccountID: bankID, Direction: ledger.Debit, Amount: amt("-5.00"), Currency: "EUR"},
					{AccountID: incomeID, Direction: ledger.Credit, Amount: amt("-5.00"), Currency: "EUR"},
				},
			},
			wantErr: func(t *testing.T, err error) {
				var verr *ledger.ValidationError
				assert.ErrorAs(t, err, &verr)
			},
		},
		{
			name:  "InactiveAccount",
			entry: draftEntry("100.00", "100.00"),
			setupMock: func(m *ledger.MockRepository) {
				inactive := bankAccount()
				inactive.Active = false
				m.EXPECT().GetAccount(gomock.Any(), ownerID, bankID).Return(inactive, nil)
			},
			wantErr: func(t *testing.T, err error) {
				var verr *ledger.ValidationError
				assert.ErrorAs(t, err, &verr)
			},
		},
		{
			name:  "ManualWriteToSystemAccount",
			entry: draftEntry("100.00", "100.00"),
			setupMock: func(m *ledger.MockRepository) {
				clearing := bankAccount()
				clearing.Name = ledger.ProcessingAccountName
				clearing.System = true
				m.EXPECT().GetAccount(gomock.Any(), ownerID, bankID).Return(clearing, nil)
			},
			wantErr: func(t *testing.T, err error) {
				var verr *ledger.ValidationError
				assert.ErrorAs(t, err, &verr)
			},
		},
		{
			name: "SystemSourceMayWriteSystemAccount",
			entry: func() *ledger.Entry {
				e := draftEntry("100.00", "100.00")
				e.Source = ledger.SourceSystem
				return e
			}(),
			setupMock: func(m *ledger.MockRepository) {
				clearing := bankAccount()
				clearing.Name = ledger.ProcessingAccountName
				clearing.System = true
				m.EXPECT().GetAccount(gomock.Any(), ownerID, bankID).Return(clearing, nil)
				m.EXPECT().GetAccount(gomock.Any(), ownerID, incomeID).Return(incomeAccount(), nil)
				m.EXPECT().
					CreateEntry(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, e *ledger.Entry) error {
						e.ID = uuid.New()
						return nil
					})
				m.EXPECT().TypeTotals(gomock.Any(), ownerID, gomock.Any()).Return(balancedTotals(), nil)
			},
		},
		{
			name:  "UnknownAccount",
			entry: draftEntry("100.00", "100.00"),
			setupMock: func(m *ledger.MockRepository) {
				m.EXPECT().GetAccount(gomock.Any(), ownerID, bankID).Return(nil, ledger.ErrNotFound)
			},
			wantErr: func(t *testing.T, err error) {
				var verr *ledger.ValidationError
				assert.ErrorAs(t, err, &verr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := ledger.NewMockRepository(ctrl)
			if tt.setupMock != nil {
				tt.setupMock(repo)
			}

			svc := ledger.NewService(repo)
			got, err := svc.PostEntry(context.Background(), tt.entry)

			if tt.wantErr != nil {
				tt.wantErr(t, err)
				assert.Nil(t, got)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, ledger.StatusPosted, got.Status)
			assert.NotEmpty(t, got.ID)
		})
	}
}

func TestService_PostEntry_IntegrityHaltsOwner(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := ledger.NewMockRepository(ctrl)
	repo.EXPECT().GetAccount(gomock.Any(), ownerID, bankID).Return(bankAccount(), nil)
	repo.EXPECT().GetAccount(gomock.Any(), ownerID, incomeID).Return(incomeAccount(), nil)
	repo.EXPECT().
		CreateEntry(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e *ledger.Entry) error {
			e.ID = uuid.New()
			return nil
		})
	// A corrupted ledger: assets do not cover the other side.
	repo.EXPECT().TypeTotals(gomock.Any(), ownerID, gomock.Any()).Return(map[ledger.AccountType]decimal.Decimal{
		ledger.TypeAsset:  amt("100.00"),
		ledger.TypeIncome: amt("-250.00"),
	}, nil)

	svc := ledger.NewService(repo)

	_, err := svc.PostEntry(context.Background(), draftEntry("100.00", "100.00"))

	var ierr *ledger.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, ownerID, ierr.OwnerID)

	// The owner is halted: the next write is refused before any validation.
	_, err = svc.PostEntry(context.Background(), draftEntry("10.00", "10.00"))
	assert.ErrorAs(t, err, &ierr)
}

func TestService_VoidEntry(t *testing.T) {
	posted := &ledger.Entry{
		ID:      uuid.MustParse("6f1e1e1e-0000-4000-8000-0000000000aa"),
		OwnerID: ownerID,
		Date:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Memo:    "Office chair",
		Source:  ledger.SourceManual,
		Status:  ledger.StatusPosted,
		Lines: []ledger.Line{
			{AccountID: expenseID, Direction: ledger.Debit, Amount: amt("500.00"), Currency: "EUR"},
			{AccountID: bankID, Direction: ledger.Credit, Amount: amt("500.00"), Currency: "EUR"},
		},
	}

	t.Run("Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := ledger.NewMockRepository(ctrl)
		repo.EXPECT().GetEntry(gomock.Any(), ownerID, posted.ID).Return(posted, nil)
		repo.EXPECT().
			CreateEntry(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e *ledger.Entry) error {
				e.ID = uuid.New()
				return nil
			})
		repo.EXPECT().
			UpdateEntryStatus(gomock.Any(), ownerID, posted.ID, ledger.StatusPosted, ledger.StatusVoid, "duplicate", gomock.Any()).
			Return(nil)
		repo.EXPECT().TypeTotals(gomock.Any(), ownerID, gomock.Any()).Return(map[ledger.AccountType]decimal.Decimal{}, nil)

		svc := ledger.NewService(repo)

		reversal, err := svc.VoidEntry(context.Background(), ownerID, posted.ID, "duplicate")
		require.NoError(t, err)

		require.Len(t, reversal.Lines, 2)
		assert.Equal(t, ledger.Credit, reversal.Lines[0].Direction)
		assert.Equal(t, ledger.Debit, reversal.Lines[1].Direction)
		assert.True(t, reversal.Lines[0].Amount.Equal(amt("500.00")))
		assert.Equal(t, ledger.SourceSystem, reversal.Source)
		assert.Equal(t, posted.ID.String(), reversal.SourceRef)
		assert.Contains(t, reversal.Memo, "duplicate")
		assert.Equal(t, ledger.StatusPosted, reversal.Status)
	})

	t.Run("AlreadyVoid", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		void := *posted
		void.Status = ledger.StatusVoid

		repo := ledger.NewMockRepository(ctrl)
		repo.EXPECT().GetEntry(gomock.Any(), ownerID, posted.ID).Return(&void, nil)

		svc := ledger.NewService(repo)

		_, err := svc.VoidEntry(context.Background(), ownerID, posted.ID, "duplicate")

		var cerr *ledger.ConflictError
		assert.ErrorAs(t, err, &cerr)
	})

	t.Run("MissingReason", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := ledger.NewMockRepository(ctrl)
		svc := ledger.NewService(repo)

		_, err := svc.VoidEntry(context.Background(), ownerID, posted.ID, "")

		var verr *ledger.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestService_CheckAccountingEquation(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		totals map[ledger.AccountType]decimal.Decimal
		want   bool
	}{
		{
			name: "Holds",
			totals: map[ledger.AccountType]decimal.Decimal{
				ledger.TypeAsset:     amt("900.00"),
				ledger.TypeLiability: amt("-200.00"),
				ledger.TypeIncome:    amt("-1000.00"),
				ledger.TypeExpense:   amt("300.00"),
			},
			want: true,
		},
		{
			name: "Violated",
			totals: map[ledger.AccountType]decimal.Decimal{
				ledger.TypeAsset:  amt("900.00"),
				ledger.TypeIncome: amt("-1000.00"),
			},
			want: false,
		},
		{
			name:   "EmptyLedger",
			totals: map[ledger.AccountType]decimal.Decimal{},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := ledger.NewMockRepository(ctrl)
			repo.EXPECT().TypeTotals(gomock.Any(), ownerID, asOf).Return(tt.totals, nil)

			svc := ledger.NewService(repo)

			ok, err := svc.CheckAccountingEquation(context.Background(), ownerID, asOf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestService_EnsureProcessingAccount(t *testing.T) {
	t.Run("CreatesLazily", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := ledger.NewMockRepository(ctrl)
		repo.EXPECT().
			FindSystemAccount(gomock.Any(), ownerID, ledger.ProcessingAccountName).
			Return(nil, ledger.ErrNotFound)
		repo.EXPECT().
			CreateAccount(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, acc *ledger.Account) error {
				acc.ID = uuid.New()
				return nil
			})

		svc := ledger.NewService(repo)

		acc, err := svc.EnsureProcessingAccount(context.Background(), ownerID, "EUR")
		require.NoError(t, err)
		assert.True(t, acc.System)
		assert.True(t, acc.Active)
		assert.Equal(t, ledger.TypeAsset, acc.Type)
	})

	t.Run("ReturnsExisting", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		existing := &ledger.Account{ID: uuid.New(), OwnerID: ownerID, Name: ledger.ProcessingAccountName, Type: ledger.TypeAsset, System: true, Active: true}

		repo := ledger.NewMockRepository(ctrl)
		repo.EXPECT().
			FindSystemAccount(gomock.Any(), ownerID, ledger.ProcessingAccountName).
			Return(existing, nil)

		svc := ledger.NewService(repo)

		acc, err := svc.EnsureProcessingAccount(context.Background(), ownerID, "EUR")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, acc.ID)
	})
}
