package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/utils"
)

// ReceiptRepo defines the repository contract required by ReceiptService.
type ReceiptRepo interface {
	CreateReceipt(ctx context.Context, db *gorm.DB, r *domain.PaymentReceipt) error
	ListReceiptsByPayer(ctx context.Context, db *gorm.DB, wallet string, limit int) ([]domain.PaymentReceipt, error)
}

// ReceiptService stores settlement receipts of paid-route calls.
type ReceiptService struct {
	DB   *gorm.DB
	Repo ReceiptRepo
}

// NewReceiptService constructs a ReceiptService.
func NewReceiptService(db *gorm.DB, r ReceiptRepo) *ReceiptService {
	return &ReceiptService{DB: db, Repo: r}
}

// Record validates r and stores it.
func (s *ReceiptService) Record(ctx context.Context, r *domain.PaymentReceipt) error {
	checks := []struct {
		name string
		v    *string
		max  int
	}{
		{"endpoint", &r.Endpoint, 200},
		{"network", &r.Network, 32},
		{"priceUsd", &r.PriceUSD, 32},
		{"payer", r.Payer, 42},
		{"transaction", r.Transaction, 100},
		{"paymentResponseHeader", r.PaymentResponseHeader, 10_000},
		{"decodeError", r.DecodeError, 1_000},
	}
	for _, c := range checks {
		if c.v == nil {
			continue
		}
		if err := checkMaxLen(c.name, *c.v, c.max); err != nil {
			return err
		}
	}
	if err := checkEVMAddress("payTo", r.PayTo); err != nil {
		return err
	}
	if err := checkEVMAddress("payerWalletAddress", r.PayerWalletAddress); err != nil {
		return err
	}
	if r.Payer != nil && *r.Payer != "" {
		if err := checkEVMAddress("payer", *r.Payer); err != nil {
			return err
		}
	}
	return s.Repo.CreateReceipt(ctx, s.DB, r)
}

// ListForWallet returns receipts paid by wallet, newest first.
func (s *ReceiptService) ListForWallet(ctx context.Context, wallet string, limit int) ([]domain.PaymentReceipt, error) {
	if err := checkEVMAddress("payerWalletAddress", wallet); err != nil {
		return nil, err
	}
	return s.Repo.ListReceiptsByPayer(ctx, s.DB, wallet, utils.Limit(limit, 25, 100))
}
