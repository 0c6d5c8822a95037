package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
)

// CreateReceipt inserts a payment receipt.
func CreateReceipt(ctx context.Context, db *gorm.DB, r *domain.PaymentReceipt) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(r).Error
}

// ListReceiptsByPayer returns up to limit receipts paid by wallet, newest first.
func ListReceiptsByPayer(ctx context.Context, db *gorm.DB, wallet string, limit int) ([]domain.PaymentReceipt, error) {
	var out []domain.PaymentReceipt
	err := db.WithContext(ctx).
		Where("payer_wallet_address = ?", wallet).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
