package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/repo"
)

// UserRepo defines the repository contract required by UserService.
type UserRepo interface {
	GetUserBySubject(ctx context.Context, db *gorm.DB, subject string) (*domain.User, error)
	UpsertUser(ctx context.Context, db *gorm.DB, subject string, movementAddress *string) (*domain.User, error)
}

// UserService links identity subjects to Movement wallets.
type UserService struct {
	DB   *gorm.DB
	Repo UserRepo
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, r UserRepo) *UserService {
	return &UserService{DB: db, Repo: r}
}

// Sync upserts the user for subject. A blank address leaves any stored
// address untouched.
func (s *UserService) Sync(ctx context.Context, subject, address string) (*domain.User, error) {
	var addr *string
	if address != "" {
		a, ok := movementAddress(address)
		if !ok {
			return nil, invalid("movementAddress must be a valid Movement address (0x + hex)")
		}
		addr = &a
	}
	return s.Repo.UpsertUser(ctx, s.DB, subject, addr)
}

// Get returns the user for subject or ErrUserNotFound.
func (s *UserService) Get(ctx context.Context, subject string) (*domain.User, error) {
	u, err := s.Repo.GetUserBySubject(ctx, s.DB, subject)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}
