package ledgerservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gomock "go.uber.org/mock/gomock"

	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/pg"
)

type mocks struct {
	walletStore   *MockWalletStore
	walletRepo    *MockWalletRepo
	txnRepo       *MockTransactionRepo
	affiliateRepo *MockAffiliateRepo
	txManager     *pg.MockTXManager
	notifier      *MockNotifier
}

func NewMock(t *testing.T) (*Service, *mocks) {
	ctrl := gomock.NewController(t)
	m := &mocks{
		walletStore:   NewMockWalletStore(ctrl),
		walletRepo:    NewMockWalletRepo(ctrl),
		txnRepo:       NewMockTransactionRepo(ctrl),
		affiliateRepo: NewMockAffiliateRepo(ctrl),
		txManager:     pg.NewMockTXManager(ctrl),
		notifier:      NewMockNotifier(ctrl),
	}
	service := New(m.walletStore, m.walletRepo, m.txnRepo, m.affiliateRepo, m.txManager, m.notifier)
	defer ctrl.Finish()
	return service, m
}

func passthroughBegin(m *mocks) {
	m.txManager.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn pg.TransactionalFn) error {
		return fn(ctx)
	}).AnyTimes()
}

func TestAccrue(t *testing.T) {
	service, m := NewMock(t)
	passthroughBegin(m)

	tests := []struct {
		name          string
		affiliateID   string
		orderID       string
		amount        float64
		linkCode      string
		prepareMock   func()
		expectedError error
	}{
		{
			name:        "No affiliate attached to order",
			affiliateID: "",
			orderID:     "ORD-1",
			amount:      100,
			prepareMock: func() {},
		},
		{
			name:        "Non-positive amount skipped",
			affiliateID: "aff-1",
			orderID:     "ORD-1",
			amount:      0,
			prepareMock: func() {},
		},
		{
			name:        "Accrues held commission and records conversion",
			affiliateID: "aff-1",
			orderID:     "ORD-1",
			amount:      120.5,
			linkCode:    "spring-sale",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").Return(nil, nil)
				m.walletStore.EXPECT().
					AppendTransaction(gomock.Any(), "aff-1", domain.TransactionCommission, 120.5, "commission for order ORD-1", domain.StatusPending, "ORD-1").
					Return(&domain.Transaction{ID: 1}, nil)
				m.affiliateRepo.EXPECT().RecordConversion(gomock.Any(), &domain.Conversion{
					OrderID:     "ORD-1",
					AffiliateID: "aff-1",
					LinkCode:    "spring-sale",
					Amount:      120.5,
				}).Return(nil)
			},
		},
		{
			name:        "Second settlement for same order is a no-op",
			affiliateID: "aff-1",
			orderID:     "ORD-1",
			amount:      120.5,
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").Return(&domain.Transaction{ID: 1}, nil)
			},
		},
		{
			name:        "Unique index wins a concurrent accrual race",
			affiliateID: "aff-1",
			orderID:     "ORD-1",
			amount:      120.5,
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").Return(nil, nil)
				m.walletStore.EXPECT().
					AppendTransaction(gomock.Any(), "aff-1", domain.TransactionCommission, 120.5, "commission for order ORD-1", domain.StatusPending, "ORD-1").
					Return(nil, domain.ErrDuplicateTransaction)
			},
		},
		{
			name:        "Append failure surfaces",
			affiliateID: "aff-1",
			orderID:     "ORD-1",
			amount:      120.5,
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").Return(nil, nil)
				m.walletStore.EXPECT().
					AppendTransaction(gomock.Any(), "aff-1", domain.TransactionCommission, 120.5, "commission for order ORD-1", domain.StatusPending, "ORD-1").
					Return(nil, errors.New("db error"))
			},
			expectedError: errors.New("db error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepareMock()

			err := service.Accrue(context.Background(), tt.affiliateID, tt.orderID, tt.amount, tt.linkCode)
			if tt.expectedError != nil {
				assert.Error(t, err)
				assert.Equal(t, tt.expectedError.Error(), err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRelease(t *testing.T) {
	service, m := NewMock(t)
	passthroughBegin(m)

	tests := []struct {
		name          string
		orderID       string
		prepareMock   func()
		expectedError error
	}{
		{
			name:    "Moves held commission to available",
			orderID: "ORD-1",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").
					Return(&domain.Transaction{ID: 10, WalletID: 1, Amount: 100, Status: domain.StatusPending}, nil)
				m.walletRepo.EXPECT().GetByID(gomock.Any(), 1).
					Return(&domain.Wallet{ID: 1, AvailableBalance: 50, HeldBalance: 100, TotalEarnings: 150}, nil)
				m.walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
					assert.Equal(t, 150.0, w.AvailableBalance)
					assert.Equal(t, 0.0, w.HeldBalance)
					assert.Equal(t, 150.0, w.TotalEarnings)
					return nil
				})
				m.txnRepo.EXPECT().UpdateStatus(gomock.Any(), int64(10), domain.StatusCompleted, gomock.Any()).Return(nil)
				m.txnRepo.EXPECT().ListAllByWalletID(gomock.Any(), 1).Return(nil, nil)
				m.txnRepo.EXPECT().UpdateRunningBalances(gomock.Any(), gomock.Any()).Return(nil)
			},
		},
		{
			name:    "No commission for the order",
			orderID: "ORD-404",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-404").Return(nil, nil)
			},
			expectedError: domain.ErrNotFound,
		},
		{
			name:    "Already released commission",
			orderID: "ORD-1",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").
					Return(&domain.Transaction{ID: 10, WalletID: 1, Amount: 100, Status: domain.StatusCompleted}, nil)
			},
			expectedError: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepareMock()

			err := service.Release(context.Background(), tt.orderID)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReleaseRepairsRunningBalances(t *testing.T) {
	service, m := NewMock(t)
	passthroughBegin(m)

	// History after release (newest first): payout 30, commission 100 (just
	// released), commission 50. Wallet ends at available 120, held 0.
	m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-2").
		Return(&domain.Transaction{ID: 2, WalletID: 1, Amount: 100, Status: domain.StatusPending}, nil)
	m.walletRepo.EXPECT().GetByID(gomock.Any(), 1).
		Return(&domain.Wallet{ID: 1, AvailableBalance: 20, HeldBalance: 100, TotalEarnings: 150, TotalPayouts: 30}, nil)
	m.walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).Return(nil)
	m.txnRepo.EXPECT().UpdateStatus(gomock.Any(), int64(2), domain.StatusCompleted, gomock.Any()).Return(nil)
	m.txnRepo.EXPECT().ListAllByWalletID(gomock.Any(), 1).Return([]domain.Transaction{
		{ID: 3, Type: domain.TransactionPayout, Amount: 30},
		{ID: 2, Type: domain.TransactionCommission, Amount: 100},
		{ID: 1, Type: domain.TransactionCommission, Amount: 50},
	}, nil)
	m.txnRepo.EXPECT().UpdateRunningBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, txns []domain.Transaction) error {
		// Walk backwards from the current total of 120: the payout restores
		// 30, each commission subtracts its amount.
		assert.Equal(t, 120.0, txns[0].RunningBalance)
		assert.Equal(t, 150.0, txns[1].RunningBalance)
		assert.Equal(t, 50.0, txns[2].RunningBalance)
		return nil
	})

	err := service.Release(context.Background(), "ORD-2")
	assert.NoError(t, err)
}

func TestReverse(t *testing.T) {
	service, m := NewMock(t)
	passthroughBegin(m)

	tests := []struct {
		name          string
		orderID       string
		prepareMock   func()
		expectedError error
	}{
		{
			name:    "Pending commission is removed outright",
			orderID: "ORD-1",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").
					Return(&domain.Transaction{ID: 10, WalletID: 1, Amount: 100, Status: domain.StatusPending}, nil)
				m.walletRepo.EXPECT().GetByID(gomock.Any(), 1).
					Return(&domain.Wallet{ID: 1, HeldBalance: 100, TotalEarnings: 100}, nil)
				m.walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
					assert.Equal(t, 0.0, w.HeldBalance)
					assert.Equal(t, 0.0, w.TotalEarnings)
					return nil
				})
				m.txnRepo.EXPECT().Delete(gomock.Any(), int64(10)).Return(nil)
				m.affiliateRepo.EXPECT().DeleteConversion(gomock.Any(), "ORD-1").Return(&domain.Conversion{}, nil)
			},
		},
		{
			name:    "Released commission is deducted with an adjustment",
			orderID: "ORD-2",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-2").
					Return(&domain.Transaction{ID: 10, WalletID: 1, Amount: 100, Status: domain.StatusCompleted}, nil)
				m.walletRepo.EXPECT().GetByID(gomock.Any(), 1).
					Return(&domain.Wallet{ID: 1, AvailableBalance: 150, TotalEarnings: 150}, nil)
				m.walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
					assert.Equal(t, 50.0, w.AvailableBalance)
					assert.Equal(t, 50.0, w.TotalEarnings)
					return nil
				})
				m.txnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error) {
					assert.Equal(t, domain.TransactionAdjustment, txn.Type)
					assert.Equal(t, domain.StatusCompleted, txn.Status)
					assert.Equal(t, 100.0, txn.Amount)
					assert.Equal(t, "reversal of commission for order ORD-2 (deduction)", txn.Description)
					assert.Equal(t, 50.0, txn.RunningBalance)
					return txn, nil
				})
				m.txnRepo.EXPECT().UpdateStatus(gomock.Any(), int64(10), domain.StatusReversed, gomock.Any()).Return(nil)
				m.affiliateRepo.EXPECT().DeleteConversion(gomock.Any(), "ORD-2").Return(&domain.Conversion{}, nil)
			},
		},
		{
			name:    "Drained balance blocks the reversal and alerts",
			orderID: "ORD-3",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-3").
					Return(&domain.Transaction{ID: 10, WalletID: 1, Amount: 100, Status: domain.StatusCompleted}, nil)
				m.walletRepo.EXPECT().GetByID(gomock.Any(), 1).
					Return(&domain.Wallet{ID: 1, AvailableBalance: 40, TotalEarnings: 150}, nil)
				m.notifier.EXPECT().Alert(gomock.Any(), "commission reversal blocked", gomock.Any())
			},
			expectedError: domain.ErrNegativeBalance,
		},
		{
			name:    "No commission to reverse",
			orderID: "ORD-404",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-404").Return(nil, nil)
			},
			expectedError: domain.ErrNotFound,
		},
		{
			name:    "Failed commission has nothing to unwind",
			orderID: "ORD-5",
			prepareMock: func() {
				m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-5").
					Return(&domain.Transaction{ID: 10, WalletID: 1, Amount: 100, Status: domain.StatusFailed}, nil)
				m.walletRepo.EXPECT().GetByID(gomock.Any(), 1).
					Return(&domain.Wallet{ID: 1}, nil)
			},
			expectedError: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepareMock()

			err := service.Reverse(context.Background(), tt.orderID)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReverseRedeliveredRefundIsNoOp(t *testing.T) {
	service, m := NewMock(t)
	passthroughBegin(m)

	// First refund deducts the released commission and marks it reversed.
	m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").
		Return(&domain.Transaction{ID: 10, WalletID: 1, Amount: 100, Status: domain.StatusCompleted}, nil)
	m.walletRepo.EXPECT().GetByID(gomock.Any(), 1).
		Return(&domain.Wallet{ID: 1, AvailableBalance: 250, TotalEarnings: 150}, nil)
	m.walletRepo.EXPECT().UpdateBalances(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, w *domain.Wallet) error {
		assert.Equal(t, 150.0, w.AvailableBalance)
		assert.Equal(t, 50.0, w.TotalEarnings)
		return nil
	})
	m.txnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error) {
		assert.Equal(t, domain.TransactionAdjustment, txn.Type)
		return txn, nil
	})
	m.txnRepo.EXPECT().UpdateStatus(gomock.Any(), int64(10), domain.StatusReversed, gomock.Any()).Return(nil)
	m.affiliateRepo.EXPECT().DeleteConversion(gomock.Any(), "ORD-1").Return(&domain.Conversion{}, nil)

	assert.NoError(t, service.Reverse(context.Background(), "ORD-1"))

	// The same refund event delivered again finds the reversed commission:
	// no balance movement, no second adjustment.
	m.txnRepo.EXPECT().FindCommissionByRelatedID(gomock.Any(), "ORD-1").
		Return(&domain.Transaction{ID: 10, WalletID: 1, Amount: 100, Status: domain.StatusReversed}, nil)
	m.walletRepo.EXPECT().GetByID(gomock.Any(), 1).
		Return(&domain.Wallet{ID: 1, AvailableBalance: 150, TotalEarnings: 50}, nil)

	assert.ErrorIs(t, service.Reverse(context.Background(), "ORD-1"), domain.ErrNotFound)
}

func TestRequestPayout(t *testing.T) {
	service, m := NewMock(t)

	t.Run("Records completed payout with masked card", func(t *testing.T) {
		now := time.Now()
		m.walletStore.EXPECT().
			AppendTransaction(gomock.Any(), "aff-1", domain.TransactionPayout, 500.0, "payout to card ****3456", domain.StatusCompleted, "").
			Return(&domain.Transaction{ID: 1, Amount: 500, ProcessedAt: &now}, nil)

		txn, err := service.RequestPayout(context.Background(), "aff-1", 500, "1234123412343456")
		assert.NoError(t, err)
		assert.Equal(t, 500.0, txn.Amount)
	})

	t.Run("Insufficient balance surfaces unchanged", func(t *testing.T) {
		m.walletStore.EXPECT().
			AppendTransaction(gomock.Any(), "aff-1", domain.TransactionPayout, 500.0, gomock.Any(), domain.StatusCompleted, "").
			Return(nil, domain.ErrInsufficientBalance)

		txn, err := service.RequestPayout(context.Background(), "aff-1", 500, "1234123412343456")
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		assert.Nil(t, txn)
	})
}

func TestMaskCard(t *testing.T) {
	assert.Equal(t, "****3456", maskCard("1234123412343456"))
	assert.Equal(t, "****", maskCard("123"))
}
