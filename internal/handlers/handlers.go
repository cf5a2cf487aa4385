package handlers

import (
	"net/http"

	_ "github.com/avoronin/affiliate-ledger/docs"
	"github.com/avoronin/affiliate-ledger/internal/config"
	ordershandlers "github.com/avoronin/affiliate-ledger/internal/handlers/orders"
	wallethandlers "github.com/avoronin/affiliate-ledger/internal/handlers/wallet"
	"github.com/avoronin/affiliate-ledger/internal/service"
	"github.com/avoronin/affiliate-ledger/pkg/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type WalletHandler interface {
	GetWallet(w http.ResponseWriter, r *http.Request)
	ListTransactions(w http.ResponseWriter, r *http.Request)
	RequestPayout(w http.ResponseWriter, r *http.Request)
}

type OrderHandler interface {
	OrderSettled(w http.ResponseWriter, r *http.Request)
	OrderDelivered(w http.ResponseWriter, r *http.Request)
	OrderRefunded(w http.ResponseWriter, r *http.Request)
}

type Handlers struct {
	WalletHandler WalletHandler
	OrderHandler  OrderHandler

	serviceToken string
}

func New(s *service.Services, cfg *config.Config) *Handlers {
	return &Handlers{
		WalletHandler: wallethandlers.New(s.WalletService, s.LedgerService),
		OrderHandler:  ordershandlers.New(s.LedgerService),
		serviceToken:  cfg.ServiceToken,
	}
}

func (h *Handlers) InitRoutes(r chi.Router) chi.Router {
	r.Use(
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
	)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("doc.json"),
	))
	r.Route("/api", func(r chi.Router) {
		r.Route("/affiliate", func(r chi.Router) {
			r.Use(auth.AuthMiddleware)
			r.Route("/wallet", func(r chi.Router) {
				r.Get("/", h.WalletHandler.GetWallet)
				r.Get("/transactions", h.WalletHandler.ListTransactions)
				r.Post("/withdraw", h.WalletHandler.RequestPayout)
			})
		})
		r.Route("/internal/orders", func(r chi.Router) {
			r.Use(auth.ServiceAuthMiddleware(h.serviceToken))
			r.Post("/settled", h.OrderHandler.OrderSettled)
			r.Post("/delivered", h.OrderHandler.OrderDelivered)
			r.Post("/refunded", h.OrderHandler.OrderRefunded)
		})
	})

	return r
}
