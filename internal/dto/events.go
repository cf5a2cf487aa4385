package dto

// Order event types carried on the order-events topic.
const (
	EventOrderSettled   = "order.settled"
	EventOrderDelivered = "order.delivered"
	EventOrderRefunded  = "order.refunded"
)

// OrderEventDTO is the envelope published by the order-lifecycle component.
// AffiliateID, Amount and LinkCode are only present on settlement.
type OrderEventDTO struct {
	Type        string  `json:"type"`
	OrderID     string  `json:"orderId"`
	AffiliateID string  `json:"affiliateId,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	LinkCode    string  `json:"linkCode,omitempty"`
}

type OrderSettledRequestDTO struct {
	OrderID     string  `json:"orderId" example:"ORD-1001"`
	AffiliateID string  `json:"affiliateId" example:"aff-42"`
	Amount      float64 `json:"amount" example:"120.5"`
	LinkCode    string  `json:"linkCode,omitempty" example:"spring-sale"`
}

type OrderDeliveredRequestDTO struct {
	OrderID string `json:"orderId" example:"ORD-1001"`
}

type OrderRefundedRequestDTO struct {
	OrderID string `json:"orderId" example:"ORD-1001"`
}
