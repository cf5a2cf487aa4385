package walletservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	gomock "go.uber.org/mock/gomock"

	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/pg"
)

func NewMock(t *testing.T) (*Service, *MockWalletRepo, *MockTransactionRepo, *pg.MockTXManager) {
	ctrl := gomock.NewController(t)
	walletRepo := NewMockWalletRepo(ctrl)
	txnRepo := NewMockTransactionRepo(ctrl)
	txManager := pg.NewMockTXManager(ctrl)
	service := New(walletRepo, txnRepo, txManager)
	defer ctrl.Finish()
	return service, walletRepo, txnRepo, txManager
}

func passthroughBegin(txManager *pg.MockTXManager) {
	txManager.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn pg.TransactionalFn) error {
		return fn(ctx)
	}).AnyTimes()
}

func TestGetOrCreate(t *testing.T) {
	service, walletRepo, _, _ := NewMock(t)

	tests := []struct {
		name          string
		affiliateID   string
		prepareMock   func()
		expected      *domain.Wallet
		expectedError error
	}{
		{
			name:        "Existing wallet is returned",
			affiliateID: "aff-1",
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1, AffiliateID: "aff-1"}, nil)
			},
			expected: &domain.Wallet{ID: 1, AffiliateID: "aff-1"},
		},
		{
			name:        "First touch creates an empty wallet",
			affiliateID: "aff-2",
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-2").Return(nil, nil)
				walletRepo.EXPECT().Create(gomock.Any(), "aff-2").Return(&domain.Wallet{ID: 2, AffiliateID: "aff-2"}, nil)
			},
			expected: &domain.Wallet{ID: 2, AffiliateID: "aff-2"},
		},
		{
			name:        "Lookup error",
			affiliateID: "aff-1",
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(nil, errors.New("db error"))
			},
			expectedError: errors.New("db error"),
		},
		{
			name:        "Create error",
			affiliateID: "aff-2",
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-2").Return(nil, nil)
				walletRepo.EXPECT().Create(gomock.Any(), "aff-2").Return(nil, errors.New("db error"))
			},
			expectedError: errors.New("db error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepareMock()

			wallet, err := service.GetOrCreate(context.Background(), tt.affiliateID)
			if tt.expectedError != nil {
				assert.Error(t, err)
				assert.Equal(t, tt.expectedError.Error(), err.Error())
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, wallet)
			}
		})
	}
}

func TestGetWallet(t *testing.T) {
	service, walletRepo, _, _ := NewMock(t)

	t.Run("Wallet exists", func(t *testing.T) {
		walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1, AvailableBalance: 10}, nil)

		wallet, err := service.GetWallet(context.Background(), "aff-1")
		assert.NoError(t, err)
		assert.Equal(t, 10.0, wallet.AvailableBalance)
	})

	t.Run("No wallet yet returns nil without error", func(t *testing.T) {
		walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-404").Return(nil, nil)

		wallet, err := service.GetWallet(context.Background(), "aff-404")
		assert.NoError(t, err)
		assert.Nil(t, wallet)
	})
}

func TestListTransactions(t *testing.T) {
	service, walletRepo, txnRepo, _ := NewMock(t)

	tests := []struct {
		name          string
		page          int
		pageSize      int
		prepareMock   func()
		expectedLen   int
		expectedError error
	}{
		{
			name:     "Defaults applied for zero paging",
			page:     0,
			pageSize: 0,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1}, nil)
				txnRepo.EXPECT().ListByWalletID(gomock.Any(), 1, defaultPageSize, 0).Return([]domain.Transaction{{ID: 1}}, nil)
			},
			expectedLen: 1,
		},
		{
			name:     "Page size capped",
			page:     2,
			pageSize: 500,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1}, nil)
				txnRepo.EXPECT().ListByWalletID(gomock.Any(), 1, maxPageSize, maxPageSize).Return(nil, nil)
			},
			expectedLen: 0,
		},
		{
			name:     "No wallet means no history",
			page:     1,
			pageSize: 10,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(nil, nil)
			},
			expectedLen: 0,
		},
		{
			name:     "Listing error",
			page:     1,
			pageSize: 10,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1}, nil)
				txnRepo.EXPECT().ListByWalletID(gomock.Any(), 1, 10, 0).Return(nil, errors.New("db error"))
			},
			expectedError: errors.New("db error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepareMock()

			txns, err := service.ListTransactions(context.Background(), "aff-1", tt.page, tt.pageSize)
			if tt.expectedError != nil {
				assert.Error(t, err)
				assert.Equal(t, tt.expectedError.Error(), err.Error())
			} else {
				assert.NoError(t, err)
				assert.Len(t, txns, tt.expectedLen)
			}
		})
	}
}

func TestAppendTransaction(t *testing.T) {
	service, walletRepo, txnRepo, txManager := NewMock(t)
	passthroughBegin(txManager)

	returnCreated := func(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error) {
		txn.ID = 1
		return txn, nil
	}

	tests := []struct {
		name          string
		txnType       domain.TransactionType
		amount        float64
		status        domain.TransactionStatus
		relatedID     string
		prepareMock   func()
		check         func(t *testing.T, txn *domain.Transaction)
		expectedError error
	}{
		{
			name:          "Zero amount rejected",
			txnType:       domain.TransactionCommission,
			amount:        0,
			status:        domain.StatusPending,
			prepareMock:   func() {},
			expectedError: domain.ErrInvalidAmount,
		},
		{
			name:          "Negative amount rejected",
			txnType:       domain.TransactionBonus,
			amount:        -5,
			status:        domain.StatusCompleted,
			prepareMock:   func() {},
			expectedError: domain.ErrInvalidAmount,
		},
		{
			name:      "Pending commission goes to held",
			txnType:   domain.TransactionCommission,
			amount:    100,
			status:    domain.StatusPending,
			relatedID: "ORD-1",
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1, AffiliateID: "aff-1"}, nil)
				walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
					assert.Equal(t, 100.0, w.HeldBalance)
					assert.Equal(t, 0.0, w.AvailableBalance)
					assert.Equal(t, 100.0, w.TotalEarnings)
					return nil
				})
				txnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(returnCreated)
			},
			check: func(t *testing.T, txn *domain.Transaction) {
				assert.Equal(t, domain.StatusPending, txn.Status)
				assert.Equal(t, "ORD-1", txn.RelatedID)
				assert.Equal(t, 100.0, txn.RunningBalance)
				assert.Nil(t, txn.ProcessedAt)
				assert.NotEmpty(t, txn.TxnID)
			},
		},
		{
			name:    "Completed commission goes straight to available",
			txnType: domain.TransactionCommission,
			amount:  50,
			status:  domain.StatusCompleted,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1}, nil)
				walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
					assert.Equal(t, 50.0, w.AvailableBalance)
					assert.Equal(t, 0.0, w.HeldBalance)
					return nil
				})
				txnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(returnCreated)
			},
			check: func(t *testing.T, txn *domain.Transaction) {
				assert.NotNil(t, txn.ProcessedAt)
			},
		},
		{
			name:    "Payout deducts available and counts payouts",
			txnType: domain.TransactionPayout,
			amount:  30,
			status:  domain.StatusCompleted,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1, AvailableBalance: 100, HeldBalance: 20}, nil)
				walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
					assert.Equal(t, 70.0, w.AvailableBalance)
					assert.Equal(t, 30.0, w.TotalPayouts)
					return nil
				})
				txnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(returnCreated)
			},
			check: func(t *testing.T, txn *domain.Transaction) {
				// available 70 plus held 20
				assert.Equal(t, 90.0, txn.RunningBalance)
			},
		},
		{
			name:    "Payout cannot spend held funds",
			txnType: domain.TransactionPayout,
			amount:  110,
			status:  domain.StatusCompleted,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1, AvailableBalance: 100, HeldBalance: 500}, nil)
			},
			expectedError: domain.ErrInsufficientBalance,
		},
		{
			name:    "Bonus credits available directly",
			txnType: domain.TransactionBonus,
			amount:  25,
			status:  domain.StatusCompleted,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1}, nil)
				walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
					assert.Equal(t, 25.0, w.AvailableBalance)
					assert.Equal(t, 0.0, w.TotalEarnings)
					return nil
				})
				txnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(returnCreated)
			},
		},
		{
			name:    "Adjustment records without moving balances",
			txnType: domain.TransactionAdjustment,
			amount:  40,
			status:  domain.StatusCompleted,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1, AvailableBalance: 60}, nil)
				walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
					assert.Equal(t, 60.0, w.AvailableBalance)
					return nil
				})
				txnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(returnCreated)
			},
		},
		{
			name:    "Unknown type rejected",
			txnType: domain.TransactionType("mystery"),
			amount:  10,
			status:  domain.StatusCompleted,
			prepareMock: func() {
				walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1}, nil)
			},
			expectedError: errors.New("unknown transaction type: mystery"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepareMock()

			txn, err := service.AppendTransaction(context.Background(), "aff-1", tt.txnType, tt.amount, "test", tt.status, tt.relatedID)
			if tt.expectedError != nil {
				assert.Error(t, err)
				assert.Equal(t, tt.expectedError.Error(), err.Error())
				assert.Nil(t, txn)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, txn)
				if tt.check != nil {
					tt.check(t, txn)
				}
			}
		})
	}
}

func TestAppendTransactionRetriesOnConflict(t *testing.T) {
	service, walletRepo, txnRepo, txManager := NewMock(t)
	passthroughBegin(txManager)

	// First attempt loses the version race, second one lands.
	first := walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1, Version: 1}, nil)
	walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).Return(domain.ErrVersionConflict).After(first)

	second := walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1, Version: 2}, nil)
	walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).Return(nil).After(second)
	txnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error) {
		txn.ID = 1
		return txn, nil
	})

	txn, err := service.AppendTransaction(context.Background(), "aff-1", domain.TransactionBonus, 10, "retry test", domain.StatusCompleted, "")
	assert.NoError(t, err)
	assert.NotNil(t, txn)
}

func TestAppendTransactionGivesUpAfterRetries(t *testing.T) {
	service, walletRepo, _, txManager := NewMock(t)
	passthroughBegin(txManager)

	walletRepo.EXPECT().GetByAffiliateID(gomock.Any(), "aff-1").Return(&domain.Wallet{ID: 1}, nil).Times(int(maxRetries) + 1)
	walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).Return(domain.ErrVersionConflict).Times(int(maxRetries) + 1)

	txn, err := service.AppendTransaction(context.Background(), "aff-1", domain.TransactionBonus, 10, "conflict test", domain.StatusCompleted, "")
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Nil(t, txn)
}
