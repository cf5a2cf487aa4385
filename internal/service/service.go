package service

import (
	"github.com/avoronin/affiliate-ledger/internal/pg"
	"github.com/avoronin/affiliate-ledger/internal/repo"
	"github.com/avoronin/affiliate-ledger/internal/service/ledgerservice"
	"github.com/avoronin/affiliate-ledger/internal/service/walletservice"
)

type Services struct {
	WalletService *walletservice.Service
	LedgerService *ledgerservice.Service
}

func New(repo *repo.Repositories, txManager pg.TXManager, notifier ledgerservice.Notifier) *Services {
	walletService := walletservice.New(repo.WalletRepo, repo.TransactionRepo, txManager)
	ledgerService := ledgerservice.New(walletService, repo.WalletRepo, repo.TransactionRepo, repo.AffiliateRepo, txManager, notifier)

	return &Services{
		WalletService: walletService,
		LedgerService: ledgerService,
	}
}
