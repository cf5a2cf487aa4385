package affiliaterepo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/pg"
)

// Repository keeps the affiliate program's aggregate counters: lifetime
// conversions/earnings per affiliate and per tracking link. These are
// reporting figures, not wallet invariants.
type Repository struct {
	db        pg.Database
	txManager pg.TXManager
}

func New(db pg.Database, txManager pg.TXManager) *Repository {
	return &Repository{
		db:        db,
		txManager: txManager,
	}
}

// RecordConversion remembers which affiliate and link earned commission on an
// order and bumps both counters. One transaction: either all counters move or
// none do.
func (r *Repository) RecordConversion(ctx context.Context, conv *domain.Conversion) error {
	return r.txManager.Begin(ctx, func(ctx context.Context) error {
		query := `
            INSERT INTO affiliate_conversions (order_id, affiliate_id, link_code, amount)
            VALUES ($1, $2, $3, $4)
            RETURNING id
        `
		err := r.db.QueryRow(ctx, query, conv.OrderID, conv.AffiliateID, conv.LinkCode, conv.Amount).Scan(&conv.ID)
		if err != nil {
			zap.L().Error("can't record conversion", zap.Error(err))
			return err
		}

		query = `
            INSERT INTO affiliates (affiliate_id, total_conversions, total_earnings)
            VALUES ($1, 1, $2)
            ON CONFLICT (affiliate_id) DO UPDATE
            SET total_conversions = affiliates.total_conversions + 1,
                total_earnings = affiliates.total_earnings + $2
        `
		if _, err := r.db.Exec(ctx, query, conv.AffiliateID, conv.Amount); err != nil {
			zap.L().Error("can't increment affiliate stats", zap.Error(err))
			return err
		}

		if conv.LinkCode != "" {
			query = `
                UPDATE affiliate_links
                SET conversions = conversions + 1
                WHERE link_code = $1
            `
			if _, err := r.db.Exec(ctx, query, conv.LinkCode); err != nil {
				zap.L().Error("can't increment link conversions", zap.Error(err))
				return err
			}
		}
		return nil
	})
}

// DeleteConversion unwinds RecordConversion for a refunded order. Returns the
// removed record, or nil when the order never converted.
func (r *Repository) DeleteConversion(ctx context.Context, orderID string) (*domain.Conversion, error) {
	var conv domain.Conversion
	err := r.txManager.Begin(ctx, func(ctx context.Context) error {
		query := `
            DELETE FROM affiliate_conversions
            WHERE order_id = $1
            RETURNING id, order_id, affiliate_id, link_code, amount
        `
		err := r.db.QueryRow(ctx, query, orderID).Scan(&conv.ID, &conv.OrderID, &conv.AffiliateID, &conv.LinkCode, &conv.Amount)
		if err != nil {
			return err
		}

		query = `
            UPDATE affiliates
            SET total_conversions = total_conversions - 1,
                total_earnings = total_earnings - $2
            WHERE affiliate_id = $1
        `
		if _, err := r.db.Exec(ctx, query, conv.AffiliateID, conv.Amount); err != nil {
			zap.L().Error("can't decrement affiliate stats", zap.Error(err))
			return err
		}

		if conv.LinkCode != "" {
			query = `
                UPDATE affiliate_links
                SET conversions = conversions - 1
                WHERE link_code = $1
            `
			if _, err := r.db.Exec(ctx, query, conv.LinkCode); err != nil {
				zap.L().Error("can't decrement link conversions", zap.Error(err))
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

func (r *Repository) GetStats(ctx context.Context, affiliateID string) (*domain.AffiliateStats, error) {
	query := `
        SELECT id, affiliate_id, total_conversions, total_earnings
        FROM affiliates
        WHERE affiliate_id = $1
    `
	row := r.db.QueryRow(ctx, query, affiliateID)
	var stats domain.AffiliateStats
	err := row.Scan(&stats.ID, &stats.AffiliateID, &stats.TotalConversions, &stats.TotalEarnings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		zap.L().Error("failed to get affiliate stats", zap.Error(err))
		return nil, err
	}
	return &stats, nil
}
