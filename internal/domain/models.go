package domain

import "time"

type TransactionType string

const (
	TransactionCommission TransactionType = "commission"
	TransactionPayout     TransactionType = "payout"
	TransactionBonus      TransactionType = "bonus"
	TransactionAdjustment TransactionType = "adjustment"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	// StatusReversed marks a released commission that was deducted back on
	// refund. The marker keeps a redelivered refund event from deducting twice.
	StatusReversed TransactionStatus = "reversed"
)

type Wallet struct {
	ID               int       `db:"id"`
	AffiliateID      string    `db:"affiliate_id"`
	AvailableBalance float64   `db:"available_balance"`
	HeldBalance      float64   `db:"held_balance"`
	TotalEarnings    float64   `db:"total_earnings"`
	TotalPayouts     float64   `db:"total_payouts"`
	Version          int64     `db:"version"`
	CreatedAt        time.Time `db:"created_at"`
}

// TotalBalance is the running-balance base: everything the wallet holds,
// spendable or not.
func (w *Wallet) TotalBalance() float64 {
	return w.AvailableBalance + w.HeldBalance
}

type Transaction struct {
	ID             int64             `db:"id"`
	WalletID       int               `db:"wallet_id"`
	TxnID          string            `db:"txn_id"`
	Type           TransactionType   `db:"type"`
	Status         TransactionStatus `db:"status"`
	Amount         float64           `db:"amount"`
	Description    string            `db:"description"`
	RelatedID      string            `db:"related_id"`
	RunningBalance float64           `db:"running_balance"`
	CreatedAt      time.Time         `db:"created_at"`
	ProcessedAt    *time.Time        `db:"processed_at"`
}

// Conversion links an order to the affiliate and tracking link that earned
// commission on it. Kept so a refund can unwind the aggregate counters.
type Conversion struct {
	ID          int64   `db:"id"`
	OrderID     string  `db:"order_id"`
	AffiliateID string  `db:"affiliate_id"`
	LinkCode    string  `db:"link_code"`
	Amount      float64 `db:"amount"`
}

type AffiliateStats struct {
	ID               int     `db:"id"`
	AffiliateID      string  `db:"affiliate_id"`
	TotalConversions int     `db:"total_conversions"`
	TotalEarnings    float64 `db:"total_earnings"`
}
