// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Listing
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound.
//   - A slug collision on insert surfaces as ErrDuplicate so callers can
//     retry slug allocation without matching on error text.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
)

// CreateListing inserts l, assigning an ID and UTC timestamps when unset.
// It returns ErrDuplicate when the slug is already taken.
func CreateListing(ctx context.Context, db *gorm.DB, l *domain.Listing) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = l.CreatedAt
	return translate(db.WithContext(ctx).Create(l).Error)
}

// GetListingBySlug loads a listing by its slug (matched in lowercase).
func GetListingBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Listing, error) {
	var l domain.Listing
	err := db.WithContext(ctx).
		Where("slug = ?", strings.ToLower(strings.TrimSpace(slug))).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetListing loads a listing by ID.
func GetListing(ctx context.Context, db *gorm.DB, id string) (*domain.Listing, error) {
	var l domain.Listing
	if err := db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ListActiveListings returns up to limit active listings, newest first.
func ListActiveListings(ctx context.Context, db *gorm.DB, limit int) ([]domain.Listing, error) {
	var out []domain.Listing
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListListingsByProvider returns up to limit listings owned by providerID,
// active or not, newest first.
func ListListingsByProvider(ctx context.Context, db *gorm.DB, providerID string, limit int) ([]domain.Listing, error) {
	var out []domain.Listing
	err := db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
