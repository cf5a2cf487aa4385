package dto

import "time"

type WalletResponseDTO struct {
	Available     float64 `json:"available" example:"500.5"`
	Held          float64 `json:"held" example:"120"`
	TotalEarnings float64 `json:"total_earnings" example:"620.5"`
	TotalPayouts  float64 `json:"total_payouts" example:"0"`
}

type TransactionResponseDTO struct {
	ID             string     `json:"id" example:"6f1f87e4-810e-4f30-b1b4-1fbdbc2a34c6"`
	Type           string     `json:"type" example:"commission"`
	Status         string     `json:"status" example:"pending"`
	Amount         float64    `json:"amount" example:"120.5"`
	Description    string     `json:"description" example:"commission for order ORD-1001"`
	OrderID        string     `json:"order_id,omitempty" example:"ORD-1001"`
	RunningBalance float64    `json:"running_balance" example:"620.5"`
	CreatedAt      time.Time  `json:"created_at" example:"2020-12-09T16:09:57+03:00"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

type PayoutRequestDTO struct {
	Amount float64 `json:"amount" example:"500"`
	Card   string  `json:"card" example:"2377225624"`
}

type PayoutResponseDTO struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount" example:"500"`
	ProcessedAt time.Time `json:"processed_at"`
}
