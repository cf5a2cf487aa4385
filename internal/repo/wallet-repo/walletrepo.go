package walletrepo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/pg"
)

type Repository struct {
	db pg.Database
}

func New(db pg.Database) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetByAffiliateID(ctx context.Context, affiliateID string) (*domain.Wallet, error) {
	query := `
        SELECT id, affiliate_id, available_balance, held_balance, total_earnings, total_payouts, version
        FROM wallets
        WHERE affiliate_id = $1
    `
	row := r.db.QueryRow(ctx, query, affiliateID)
	var wallet domain.Wallet
	err := row.Scan(&wallet.ID, &wallet.AffiliateID, &wallet.AvailableBalance, &wallet.HeldBalance, &wallet.TotalEarnings, &wallet.TotalPayouts, &wallet.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		zap.L().Error("failed to get wallet", zap.Error(err))
		return nil, err
	}
	return &wallet, nil
}

func (r *Repository) GetByID(ctx context.Context, id int) (*domain.Wallet, error) {
	query := `
        SELECT id, affiliate_id, available_balance, held_balance, total_earnings, total_payouts, version
        FROM wallets
        WHERE id = $1
    `
	row := r.db.QueryRow(ctx, query, id)
	var wallet domain.Wallet
	err := row.Scan(&wallet.ID, &wallet.AffiliateID, &wallet.AvailableBalance, &wallet.HeldBalance, &wallet.TotalEarnings, &wallet.TotalPayouts, &wallet.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		zap.L().Error("failed to get wallet by id", zap.Error(err))
		return nil, err
	}
	return &wallet, nil
}

func (r *Repository) Create(ctx context.Context, affiliateID string) (*domain.Wallet, error) {
	query := `
        INSERT INTO wallets (affiliate_id, available_balance, held_balance, total_earnings, total_payouts, version)
        VALUES ($1, 0, 0, 0, 0, 0)
        ON CONFLICT (affiliate_id) DO NOTHING
        RETURNING id, affiliate_id, available_balance, held_balance, total_earnings, total_payouts, version
    `
	row := r.db.QueryRow(ctx, query, affiliateID)
	var wallet domain.Wallet
	err := row.Scan(&wallet.ID, &wallet.AffiliateID, &wallet.AvailableBalance, &wallet.HeldBalance, &wallet.TotalEarnings, &wallet.TotalPayouts, &wallet.Version)
	if err != nil {
		// Lost a creation race: the row exists, fetch it.
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetByAffiliateID(ctx, affiliateID)
		}
		zap.L().Error("failed to create wallet", zap.Error(err))
		return nil, err
	}
	return &wallet, nil
}

// UpdateBalances writes the wallet's balance fields with an optimistic
// version check. domain.ErrVersionConflict means a concurrent writer won.
func (r *Repository) UpdateBalances(ctx context.Context, wallet *domain.Wallet) error {
	query := `
        UPDATE wallets
        SET available_balance = $1, held_balance = $2, total_earnings = $3, total_payouts = $4, version = version + 1
        WHERE id = $5 AND version = $6
    `
	tag, err := r.db.Exec(ctx, query,
		wallet.AvailableBalance, wallet.HeldBalance, wallet.TotalEarnings, wallet.TotalPayouts,
		wallet.ID, wallet.Version,
	)
	if err != nil {
		zap.L().Error("failed to update wallet balances", zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	wallet.Version++
	return nil
}
