package repo

import (
	"github.com/avoronin/affiliate-ledger/internal/pg"
	affiliaterepo "github.com/avoronin/affiliate-ledger/internal/repo/affiliate-repo"
	transactionrepo "github.com/avoronin/affiliate-ledger/internal/repo/transaction-repo"
	walletrepo "github.com/avoronin/affiliate-ledger/internal/repo/wallet-repo"
)

type Repositories struct {
	WalletRepo      *walletrepo.Repository
	TransactionRepo *transactionrepo.Repository
	AffiliateRepo   *affiliaterepo.Repository
}

func New(conn pg.Database, txManager pg.TXManager) *Repositories {
	walletRepo := walletrepo.New(conn)
	transactionRepo := transactionrepo.New(conn)
	affiliateRepo := affiliaterepo.New(conn, txManager)

	return &Repositories{
		WalletRepo:      walletRepo,
		TransactionRepo: transactionRepo,
		AffiliateRepo:   affiliateRepo,
	}
}
