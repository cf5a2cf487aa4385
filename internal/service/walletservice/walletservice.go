package walletservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/pg"
)

const (
	maxRetries    = 3
	retryInterval = 50 * time.Millisecond

	defaultPageSize = 20
	maxPageSize     = 100
)

type WalletRepo interface {
	GetByAffiliateID(ctx context.Context, affiliateID string) (*domain.Wallet, error)
	Create(ctx context.Context, affiliateID string) (*domain.Wallet, error)
	UpdateBalances(ctx context.Context, wallet *domain.Wallet) error
}

type TransactionRepo interface {
	Create(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error)
	ListByWalletID(ctx context.Context, walletID, limit, offset int) ([]domain.Transaction, error)
}

// Service is the wallet store: one ledger per affiliate, mutated only through
// AppendTransaction so every balance change leaves a transaction behind.
type Service struct {
	walletRepo WalletRepo
	txnRepo    TransactionRepo
	txManager  pg.TXManager
}

func New(walletRepo WalletRepo, txnRepo TransactionRepo, txManager pg.TXManager) *Service {
	return &Service{
		walletRepo: walletRepo,
		txnRepo:    txnRepo,
		txManager:  txManager,
	}
}

// GetOrCreate returns the affiliate's wallet, creating an empty one on first
// touch.
func (s *Service) GetOrCreate(ctx context.Context, affiliateID string) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByAffiliateID(ctx, affiliateID)
	if err != nil {
		zap.L().Error("failed to get wallet", zap.Error(err))
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet, err = s.walletRepo.Create(ctx, affiliateID)
	if err != nil {
		zap.L().Error("failed to create wallet", zap.Error(err))
		return nil, err
	}
	return wallet, nil
}

// GetWallet returns the wallet snapshot, or nil when the affiliate has never
// earned commission.
func (s *Service) GetWallet(ctx context.Context, affiliateID string) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByAffiliateID(ctx, affiliateID)
	if err != nil {
		zap.L().Error("failed to get wallet", zap.Error(err))
		return nil, err
	}
	return wallet, nil
}

// ListTransactions returns one page of the wallet's history, newest first.
func (s *Service) ListTransactions(ctx context.Context, affiliateID string, page, pageSize int) ([]domain.Transaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	wallet, err := s.walletRepo.GetByAffiliateID(ctx, affiliateID)
	if err != nil {
		zap.L().Error("failed to get wallet", zap.Error(err))
		return nil, err
	}
	if wallet == nil {
		return nil, nil
	}

	txns, err := s.txnRepo.ListByWalletID(ctx, wallet.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		zap.L().Error("failed to list transactions", zap.Error(err))
		return nil, err
	}
	return txns, nil
}

// AppendTransaction applies the balance effect of one transaction and records
// it, atomically. The wallet row carries an optimistic version; a lost race
// is retried with backoff before surfacing as a conflict.
func (s *Service) AppendTransaction(ctx context.Context, affiliateID string, txnType domain.TransactionType, amount float64, description string, status domain.TransactionStatus, relatedID string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var txn *domain.Transaction
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		return s.txManager.Begin(ctx, func(ctx context.Context) error {
			wallet, err := s.GetOrCreate(ctx, affiliateID)
			if err != nil {
				return err
			}

			if err := applyEffect(wallet, txnType, amount, status); err != nil {
				return err
			}
			if err := s.walletRepo.UpdateBalances(ctx, wallet); err != nil {
				return err
			}

			now := time.Now()
			txn = &domain.Transaction{
				WalletID:       wallet.ID,
				TxnID:          uuid.NewString(),
				Type:           txnType,
				Status:         status,
				Amount:         amount,
				Description:    description,
				RelatedID:      relatedID,
				RunningBalance: wallet.TotalBalance(),
				CreatedAt:      now,
			}
			if status == domain.StatusCompleted {
				txn.ProcessedAt = &now
			}

			txn, err = s.txnRepo.Create(ctx, txn)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func applyEffect(wallet *domain.Wallet, txnType domain.TransactionType, amount float64, status domain.TransactionStatus) error {
	switch txnType {
	case domain.TransactionCommission:
		wallet.TotalEarnings += amount
		if status == domain.StatusPending {
			wallet.HeldBalance += amount
		} else {
			wallet.AvailableBalance += amount
		}
	case domain.TransactionPayout:
		if wallet.AvailableBalance < amount {
			return domain.ErrInsufficientBalance
		}
		wallet.AvailableBalance -= amount
		wallet.TotalPayouts += amount
	case domain.TransactionBonus:
		wallet.AvailableBalance += amount
	case domain.TransactionAdjustment:
		// The reversal engine moves the balances itself before recording an
		// adjustment; the row is audit trail only. Amounts stay positive, the
		// semantic sign lives in the description.
	default:
		return fmt.Errorf("unknown transaction type: %s", txnType)
	}
	return nil
}

func retryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryInterval))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}
