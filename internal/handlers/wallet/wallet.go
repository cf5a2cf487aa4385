package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/avoronin/affiliate-ledger/internal/domain"
	"github.com/avoronin/affiliate-ledger/internal/dto"
	"github.com/avoronin/affiliate-ledger/pkg/auth"
	"github.com/avoronin/affiliate-ledger/pkg/utils"
	"github.com/avoronin/affiliate-ledger/pkg/validate"
)

type Service interface {
	GetWallet(ctx context.Context, affiliateID string) (*domain.Wallet, error)
	ListTransactions(ctx context.Context, affiliateID string, page, pageSize int) ([]domain.Transaction, error)
}

type PayoutService interface {
	RequestPayout(ctx context.Context, affiliateID string, amount float64, card string) (*domain.Transaction, error)
}

type WalletHandler struct {
	walletService Service
	payoutService PayoutService
}

func New(walletService Service, payoutService PayoutService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		payoutService: payoutService,
	}
}

// GetWallet godoc
//
//	@Summary		Get affiliate wallet
//	@Description	Retrieve the available/held balances and lifetime totals for the authenticated affiliate.
//	@Tags			Wallet
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	dto.WalletResponseDTO	"Wallet balances"
//	@Failure		401	{object}	utils.Response			"Affiliate not authorized"
//	@Failure		500	{object}	utils.Response			"Internal server error"
//	@Router			/api/affiliate/wallet [get]
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	affiliateID := r.Context().Value(auth.AffiliateIDKey).(string)

	wallet, err := h.walletService.GetWallet(r.Context(), affiliateID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// No commission yet: the wallet does not exist, report zeros.
	resp := dto.WalletResponseDTO{}
	if wallet != nil {
		resp = dto.WalletResponseDTO{
			Available:     wallet.AvailableBalance,
			Held:          wallet.HeldBalance,
			TotalEarnings: wallet.TotalEarnings,
			TotalPayouts:  wallet.TotalPayouts,
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// ListTransactions godoc
//
//	@Summary		Get wallet transaction history
//	@Description	Get one page of the affiliate's transaction history, newest first.
//	@Tags			Wallet
//	@Security		BearerAuth
//	@Produce		json
//	@Param			page		query		int								false	"Page number, starting at 1"
//	@Param			page_size	query		int								false	"Page size, capped at 100"
//	@Success		200			{array}		dto.TransactionResponseDTO		"Transaction page"
//	@Success		204			{object}	utils.Response					"No transactions"
//	@Failure		401			{object}	utils.Response					"Affiliate not authorized"
//	@Failure		500			{object}	utils.Response					"Internal server error"
//	@Router			/api/affiliate/wallet/transactions [get]
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	affiliateID := r.Context().Value(auth.AffiliateIDKey).(string)

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	txns, err := h.walletService.ListTransactions(r.Context(), affiliateID, page, pageSize)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch transactions")
		return
	}

	if len(txns) == 0 {
		utils.RespondWithError(w, http.StatusNoContent, "Transactions not found")
		return
	}

	response := make([]dto.TransactionResponseDTO, len(txns))
	for i, txn := range txns {
		response[i] = dto.TransactionResponseDTO{
			ID:             txn.TxnID,
			Type:           string(txn.Type),
			Status:         string(txn.Status),
			Amount:         txn.Amount,
			Description:    txn.Description,
			OrderID:        txn.RelatedID,
			RunningBalance: txn.RunningBalance,
			CreatedAt:      txn.CreatedAt,
			ProcessedAt:    txn.ProcessedAt,
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, response)
}

// RequestPayout godoc
//
//	@Summary		Request funds withdrawal
//	@Description	Record a payout of the requested amount against the available balance.
//	@Tags			Wallet
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.PayoutRequestDTO	true	"Payout request payload"
//	@Success		200		{object}	dto.PayoutResponseDTO	"Payout recorded"
//	@Failure		400		{object}	utils.Response			"Invalid amount"
//	@Failure		401		{object}	utils.Response			"Affiliate not authorized"
//	@Failure		402		{object}	utils.Response			"Insufficient balance"
//	@Failure		422		{object}	utils.Response			"Invalid card number"
//	@Failure		500		{object}	utils.Response			"Internal server error"
//	@Router			/api/affiliate/wallet/withdraw [post]
func (h *WalletHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	affiliateID := r.Context().Value(auth.AffiliateIDKey).(string)

	var req dto.PayoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !validate.IsLuhn(req.Card) {
		utils.RespondWithError(w, http.StatusUnprocessableEntity, "Invalid card number")
		return
	}

	txn, err := h.payoutService.RequestPayout(r.Context(), affiliateID, req.Amount, req.Card)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrInsufficientBalance):
			utils.RespondWithError(w, http.StatusPaymentRequired, err.Error())
		default:
			utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dto.PayoutResponseDTO{
		ID:          txn.TxnID,
		Amount:      txn.Amount,
		ProcessedAt: *txn.ProcessedAt,
	})
}
