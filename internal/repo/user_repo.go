package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
)

// GetUserBySubject loads the user for an identity subject or ErrNotFound.
func GetUserBySubject(ctx context.Context, db *gorm.DB, subject string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("subject = ?", subject).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates the user for subject or, when it exists, patches the
// movement address. A nil address leaves the stored one untouched.
func UpsertUser(ctx context.Context, db *gorm.DB, subject string, movementAddress *string) (*domain.User, error) {
	now := time.Now().UTC()
	existing, err := GetUserBySubject(ctx, db, subject)
	switch {
	case err == nil:
		if movementAddress == nil {
			return existing, nil
		}
		res := db.WithContext(ctx).
			Model(&domain.User{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{"movement_address": *movementAddress, "updated_at": now})
		if res.Error != nil {
			return nil, res.Error
		}
		existing.MovementAddress = movementAddress
		existing.UpdatedAt = now
		return existing, nil

	case errors.Is(err, ErrNotFound):
		u := &domain.User{
			ID:              uuid.NewString(),
			Subject:         subject,
			MovementAddress: movementAddress,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := translate(db.WithContext(ctx).Create(u).Error); err != nil {
			// Lost a first-login race; the other writer's row wins.
			if errors.Is(err, ErrDuplicate) {
				return UpsertUser(ctx, db, subject, movementAddress)
			}
			return nil, err
		}
		return u, nil

	default:
		return nil, err
	}
}
