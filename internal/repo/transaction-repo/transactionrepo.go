package transactionrepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/pg"
)

const uniqueViolationCode = "23505"

type Repository struct {
	db pg.Database
}

func New(db pg.Database) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Create(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error) {
	query := `
        INSERT INTO wallet_transactions (wallet_id, txn_id, type, status, amount, description, related_id, running_balance, created_at, processed_at)
        VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
        RETURNING id
    `
	err := r.db.QueryRow(ctx, query,
		txn.WalletID, txn.TxnID, txn.Type, txn.Status, txn.Amount,
		txn.Description, txn.RelatedID, txn.RunningBalance, txn.CreatedAt, txn.ProcessedAt,
	).Scan(&txn.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, domain.ErrDuplicateTransaction
		}
		zap.L().Error("can't save transaction", zap.Error(err))
		return nil, err
	}
	return txn, nil
}

// FindCommissionByRelatedID returns the commission transaction accrued for
// the given order, in any status, or nil when none was ever accrued.
func (r *Repository) FindCommissionByRelatedID(ctx context.Context, relatedID string) (*domain.Transaction, error) {
	query := `
        SELECT id, wallet_id, txn_id, type, status, amount, description, COALESCE(related_id, ''), running_balance, created_at, processed_at
        FROM wallet_transactions
        WHERE related_id = $1 AND type = 'commission'
    `
	row := r.db.QueryRow(ctx, query, relatedID)
	var txn domain.Transaction
	err := row.Scan(&txn.ID, &txn.WalletID, &txn.TxnID, &txn.Type, &txn.Status, &txn.Amount, &txn.Description, &txn.RelatedID, &txn.RunningBalance, &txn.CreatedAt, &txn.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		zap.L().Error("can't find commission transaction", zap.Error(err))
		return nil, err
	}
	return &txn, nil
}

func (r *Repository) ListByWalletID(ctx context.Context, walletID, limit, offset int) ([]domain.Transaction, error) {
	query := `
        SELECT id, wallet_id, txn_id, type, status, amount, description, COALESCE(related_id, ''), running_balance, created_at, processed_at
        FROM wallet_transactions
        WHERE wallet_id = $1
        ORDER BY id DESC
        LIMIT $2 OFFSET $3
    `
	rows, err := r.db.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		zap.L().Error("can't list transactions", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListAllByWalletID returns the wallet's entire history, newest first. Used
// by the running-balance repair, which walks it backwards in time.
func (r *Repository) ListAllByWalletID(ctx context.Context, walletID int) ([]domain.Transaction, error) {
	query := `
        SELECT id, wallet_id, txn_id, type, status, amount, description, COALESCE(related_id, ''), running_balance, created_at, processed_at
        FROM wallet_transactions
        WHERE wallet_id = $1
        ORDER BY id DESC
    `
	rows, err := r.db.Query(ctx, query, walletID)
	if err != nil {
		zap.L().Error("can't list transactions for repair", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (r *Repository) UpdateStatus(ctx context.Context, id int64, status domain.TransactionStatus, processedAt time.Time) error {
	query := `
        UPDATE wallet_transactions
        SET status = $1, processed_at = $2
        WHERE id = $3
    `
	_, err := r.db.Exec(ctx, query, status, processedAt, id)
	if err != nil {
		zap.L().Error("failed to update transaction status", zap.Error(err))
		return err
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	query := `
        DELETE FROM wallet_transactions
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		zap.L().Error("failed to delete transaction", zap.Error(err))
		return err
	}
	return nil
}

// UpdateRunningBalances writes recomputed running balances in one batch.
func (r *Repository) UpdateRunningBalances(ctx context.Context, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	query := `
        UPDATE wallet_transactions
        SET running_balance = $1
        WHERE id = $2
    `
	batch := &pgx.Batch{}
	for _, txn := range txns {
		batch.Queue(query, txn.RunningBalance, txn.ID)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range txns {
		if _, err := results.Exec(); err != nil {
			zap.L().Error("failed to update running balance", zap.Error(err))
			return err
		}
	}
	return nil
}

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		err := rows.Scan(&txn.ID, &txn.WalletID, &txn.TxnID, &txn.Type, &txn.Status, &txn.Amount, &txn.Description, &txn.RelatedID, &txn.RunningBalance, &txn.CreatedAt, &txn.ProcessedAt)
		if err != nil {
			zap.L().Error("can't scan transaction row", zap.Error(err))
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}
