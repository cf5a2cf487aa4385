package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/dto"
	"github.com/avoronin/affiliate-ledger/pkg/utils"
)

// Service is the ledger's reaction to the order lifecycle. NotFound results
// are soft: the order may simply have no affiliate attached.
type Service interface {
	Accrue(ctx context.Context, affiliateID, orderID string, amount float64, linkCode string) error
	Release(ctx context.Context, orderID string) error
	Reverse(ctx context.Context, orderID string) error
}

type OrderHandler struct {
	ledgerService Service
}

func New(ledgerService Service) *OrderHandler {
	return &OrderHandler{
		ledgerService: ledgerService,
	}
}

// OrderSettled godoc
//
//	@Summary		Order settled
//	@Description	Accrue a pending (held) commission for a settled order. Repeated calls for the same order are no-ops.
//	@Tags			Orders
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.OrderSettledRequestDTO	true	"Settlement payload"
//	@Success		202		{object}	utils.Response				"Commission accrued"
//	@Failure		400		{object}	utils.Response				"Invalid payload"
//	@Failure		401		{object}	utils.Response				"Missing service token"
//	@Failure		500		{object}	utils.Response				"Internal server error"
//	@Router			/api/internal/orders/settled [post]
func (h *OrderHandler) OrderSettled(w http.ResponseWriter, r *http.Request) {
	var req dto.OrderSettledRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	if err := h.ledgerService.Accrue(r.Context(), req.AffiliateID, req.OrderID, req.Amount, req.LinkCode); err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	utils.RespondWithJSON(w, http.StatusAccepted, utils.Response{Message: "commission accrued"})
}

// OrderDelivered godoc
//
//	@Summary		Order delivered
//	@Description	Release the held commission for a delivered order to the available balance.
//	@Tags			Orders
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.OrderDeliveredRequestDTO	true	"Delivery payload"
//	@Success		200		{object}	utils.Response					"Commission released, or nothing to release"
//	@Failure		400		{object}	utils.Response					"Invalid payload"
//	@Failure		401		{object}	utils.Response					"Missing service token"
//	@Failure		500		{object}	utils.Response					"Internal server error"
//	@Router			/api/internal/orders/delivered [post]
func (h *OrderHandler) OrderDelivered(w http.ResponseWriter, r *http.Request) {
	var req dto.OrderDeliveredRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	err := h.ledgerService.Release(r.Context(), req.OrderID)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusOK, utils.Response{Message: "commission released"})
	case errors.Is(err, domain.ErrNotFound):
		utils.RespondWithJSON(w, http.StatusOK, utils.Response{Message: "no pending commission for order"})
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// OrderRefunded godoc
//
//	@Summary		Order refunded
//	@Description	Reverse the commission accrued for a refunded order.
//	@Tags			Orders
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.OrderRefundedRequestDTO	true	"Refund payload"
//	@Success		200		{object}	utils.Response				"Commission reversed, or nothing to reverse"
//	@Failure		400		{object}	utils.Response				"Invalid payload"
//	@Failure		401		{object}	utils.Response				"Missing service token"
//	@Failure		409		{object}	utils.Response				"Reversal requires manual reconciliation"
//	@Failure		500		{object}	utils.Response				"Internal server error"
//	@Router			/api/internal/orders/refunded [post]
func (h *OrderHandler) OrderRefunded(w http.ResponseWriter, r *http.Request) {
	var req dto.OrderRefundedRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	err := h.ledgerService.Reverse(r.Context(), req.OrderID)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusOK, utils.Response{Message: "commission reversed"})
	case errors.Is(err, domain.ErrNotFound):
		utils.RespondWithJSON(w, http.StatusOK, utils.Response{Message: "no commission to reverse"})
	case errors.Is(err, domain.ErrNegativeBalance):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
