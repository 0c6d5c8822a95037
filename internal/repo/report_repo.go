package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
)

// CreateReport inserts a portfolio report; ErrDuplicate on slug collision.
func CreateReport(ctx context.Context, db *gorm.DB, r *domain.PortfolioReport) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return translate(db.WithContext(ctx).Create(r).Error)
}

// GetReportBySlug loads a report by its share slug or ErrNotFound.
func GetReportBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.PortfolioReport, error) {
	var r domain.PortfolioReport
	if err := db.WithContext(ctx).Where("slug = ?", slug).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReportsByAddress returns up to limit reports for address, newest first.
func ListReportsByAddress(ctx context.Context, db *gorm.DB, address string, limit int) ([]domain.PortfolioReport, error) {
	var out []domain.PortfolioReport
	err := db.WithContext(ctx).
		Where("address = ?", address).
		Order("generated_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
