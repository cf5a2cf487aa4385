package ledgerservice

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
)

type WalletStore interface {
	AppendTransaction(ctx context.Context, affiliateID string, txnType domain.TransactionType, amount float64, description string, status domain.TransactionStatus, relatedID string) (*domain.Transaction, error)
}

type WalletRepo interface {
	GetByID(ctx context.Context, id int) (*domain.Wallet, error)
	UpdateBalances(ctx context.Context, wallet *domain.Wallet) error
}

type TransactionRepo interface {
	Create(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error)
	FindCommissionByRelatedID(ctx context.Context, relatedID string) (*domain.Transaction, error)
	ListAllByWalletID(ctx context.Context, walletID int) ([]domain.Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status domain.TransactionStatus, processedAt time.Time) error
	Delete(ctx context.Context, id int64) error
	UpdateRunningBalances(ctx context.Context, txns []domain.Transaction) error
}

type AffiliateRepo interface {
	RecordConversion(ctx context.Context, conv *domain.Conversion) error
	DeleteConversion(ctx context.Context, orderID string) (*domain.Conversion, error)
}

type Notifier interface {
	Alert(ctx context.Context, subject string, details map[string]any)
}

// Service reacts to the order lifecycle: accrues held commission on
// settlement, releases it on delivery, reverses it on refund, and records
// payouts.
type Service struct {
	walletStore   WalletStore
	walletRepo    WalletRepo
	txnRepo       TransactionRepo
	affiliateRepo AffiliateRepo
	txManager     pg.TXManager
	notifier      Notifier
}

func New(walletStore WalletStore, walletRepo WalletRepo, txnRepo TransactionRepo, affiliateRepo AffiliateRepo, txManager pg.TXManager, notifier Notifier) *Service {
	return &Service{
		walletStore:   walletStore,
		walletRepo:    walletRepo,
		txnRepo:       txnRepo,
		affiliateRepo: affiliateRepo,
		txManager:     txManager,
		notifier:      notifier,
	}
}

// Accrue records a pending (held) commission for a settled order. Safe to
// call twice with the same order: the second call is a no-op, guarded both by
// lookup and by a unique index on the commission's related id.
func (s *Service) Accrue(ctx context.Context, affiliateID, orderID string, amount float64, linkCode string) error {
	if affiliateID == "" || amount <= 0 {
		zap.L().Warn("skipping commission accrual",
			zap.String("orderID", orderID),
			zap.String("affiliateID", affiliateID),
			zap.Float64("amount", amount),
		)
		return nil
	}

	err := s.txManager.Begin(ctx, func(ctx context.Context) error {
		existing, err := s.txnRepo.FindCommissionByRelatedID(ctx, orderID)
		if err != nil {
			return err
		}
		if existing != nil {
			zap.L().Warn("commission already accrued for order", zap.String("orderID", orderID))
			return nil
		}

		description := fmt.Sprintf("commission for order %s", orderID)
		_, err = s.walletStore.AppendTransaction(ctx, affiliateID, domain.TransactionCommission, amount, description, domain.StatusPending, orderID)
		if err != nil {
			return err
		}

		return s.affiliateRepo.RecordConversion(ctx, &domain.Conversion{
			OrderID:     orderID,
			AffiliateID: affiliateID,
			LinkCode:    linkCode,
			Amount:      amount,
		})
	})
	if errors.Is(err, domain.ErrDuplicateTransaction) {
		zap.L().Warn("commission already accrued for order", zap.String("orderID", orderID))
		return nil
	}
	return err
}

// Release moves a pending commission from held to available once the order
// reaches a funds-releasable state. Total earnings were already counted at
// accrual time and stay put.
func (s *Service) Release(ctx context.Context, orderID string) error {
	return retryOnConflict(ctx, func(ctx context.Context) error {
		return s.txManager.Begin(ctx, func(ctx context.Context) error {
			txn, err := s.txnRepo.FindCommissionByRelatedID(ctx, orderID)
			if err != nil {
				return err
			}
			if txn == nil || txn.Status != domain.StatusPending {
				zap.L().Warn("no pending commission to release", zap.String("orderID", orderID))
				return domain.ErrNotFound
			}

			wallet, err := s.walletRepo.GetByID(ctx, txn.WalletID)
			if err != nil {
				return err
			}
			if wallet == nil {
				return domain.ErrNotFound
			}

			wallet.HeldBalance -= txn.Amount
			wallet.AvailableBalance += txn.Amount
			if err := s.walletRepo.UpdateBalances(ctx, wallet); err != nil {
				return err
			}
			if err := s.txnRepo.UpdateStatus(ctx, txn.ID, domain.StatusCompleted, time.Now()); err != nil {
				return err
			}

			return s.repairRunningBalances(ctx, wallet)
		})
	})
}

// Reverse unwinds the commission for a refunded order. A still-pending
// commission is removed outright (the funds never left the held state); a
// released one is deducted from the available balance with an adjustment
// record so the audit trail shows the correction, and marked reversed.
// Either way a repeated call for the same order hits NotFound, so a
// redelivered refund event never deducts twice.
func (s *Service) Reverse(ctx context.Context, orderID string) error {
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		return s.txManager.Begin(ctx, func(ctx context.Context) error {
			txn, err := s.txnRepo.FindCommissionByRelatedID(ctx, orderID)
			if err != nil {
				return err
			}
			if txn == nil {
				zap.L().Warn("no commission to reverse", zap.String("orderID", orderID))
				return domain.ErrNotFound
			}

			wallet, err := s.walletRepo.GetByID(ctx, txn.WalletID)
			if err != nil {
				return err
			}
			if wallet == nil {
				return domain.ErrNotFound
			}

			switch txn.Status {
			case domain.StatusPending:
				wallet.HeldBalance -= txn.Amount
				wallet.TotalEarnings -= txn.Amount
				if err := s.walletRepo.UpdateBalances(ctx, wallet); err != nil {
					return err
				}
				if err := s.txnRepo.Delete(ctx, txn.ID); err != nil {
					return err
				}

			case domain.StatusCompleted:
				if wallet.AvailableBalance-txn.Amount < 0 {
					return domain.ErrNegativeBalance
				}
				wallet.AvailableBalance -= txn.Amount
				wallet.TotalEarnings -= txn.Amount
				if err := s.walletRepo.UpdateBalances(ctx, wallet); err != nil {
					return err
				}

				now := time.Now()
				adjustment := &domain.Transaction{
					WalletID:       wallet.ID,
					TxnID:          uuid.NewString(),
					Type:           domain.TransactionAdjustment,
					Status:         domain.StatusCompleted,
					Amount:         txn.Amount,
					Description:    fmt.Sprintf("reversal of commission for order %s (deduction)", orderID),
					RelatedID:      orderID,
					RunningBalance: wallet.TotalBalance(),
					CreatedAt:      now,
					ProcessedAt:    &now,
				}
				if _, err := s.txnRepo.Create(ctx, adjustment); err != nil {
					return err
				}
				// Flip the commission in the same DB transaction: a redelivered
				// refund event then finds it reversed and takes the soft path.
				if err := s.txnRepo.UpdateStatus(ctx, txn.ID, domain.StatusReversed, now); err != nil {
					return err
				}

			case domain.StatusReversed:
				zap.L().Warn("commission already reversed", zap.String("orderID", orderID))
				return domain.ErrNotFound

			default:
				zap.L().Warn("commission in unexpected status, nothing to reverse",
					zap.String("orderID", orderID),
					zap.String("status", string(txn.Status)),
				)
				return domain.ErrNotFound
			}

			_, err = s.affiliateRepo.DeleteConversion(ctx, orderID)
			return err
		})
	})
	if errors.Is(err, domain.ErrNegativeBalance) {
		zap.L().Error("commission reversal requires manual reconciliation", zap.String("orderID", orderID))
		s.notifier.Alert(ctx, "commission reversal blocked", map[string]any{
			"order_id": orderID,
			"reason":   "available balance would go negative",
		})
	}
	return err
}

// RequestPayout records a completed withdrawal against the available balance.
// The actual transfer of money is out of scope; this is bookkeeping only.
func (s *Service) RequestPayout(ctx context.Context, affiliateID string, amount float64, card string) (*domain.Transaction, error) {
	description := fmt.Sprintf("payout to card %s", maskCard(card))
	txn, err := s.walletStore.AppendTransaction(ctx, affiliateID, domain.TransactionPayout, amount, description, domain.StatusCompleted, "")
	if err != nil {
		return nil, err
	}
	zap.L().Info("payout recorded",
		zap.String("affiliateID", affiliateID),
		zap.Float64("amount", amount),
	)
	return txn, nil
}

// repairRunningBalances rewrites every transaction's running balance after a
// retroactive status change. Walks newest to oldest: stamp the current total,
// then undo the transaction's effect to get the balance as it stood before
// it. Payouts are undone by adding the amount back, all other types by
// subtracting. O(n) over one wallet's history, which is bounded by business
// volume.
func (s *Service) repairRunningBalances(ctx context.Context, wallet *domain.Wallet) error {
	txns, err := s.txnRepo.ListAllByWalletID(ctx, wallet.ID)
	if err != nil {
		return err
	}

	running := wallet.TotalBalance()
	for i := range txns {
		txns[i].RunningBalance = running
		if txns[i].Type == domain.TransactionPayout {
			running += txns[i].Amount
		} else {
			running -= txns[i].Amount
		}
	}

	return s.txnRepo.UpdateRunningBalances(ctx, txns)
}

func maskCard(card string) string {
	if len(card) < 4 {
		return "****"
	}
	return "****" + card[len(card)-4:]
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
