package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/repo"
	"github.com/movemeter/backend/internal/utils"
)

// ReportRepo defines the repository contract required by ReportService.
type ReportRepo interface {
	CreateReport(ctx context.Context, db *gorm.DB, r *domain.PortfolioReport) error
	GetReportBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.PortfolioReport, error)
	ListReportsByAddress(ctx context.Context, db *gorm.DB, address string, limit int) ([]domain.PortfolioReport, error)
}

// NewReport is the input of ReportService.Create. Data is stored as JSON.
type NewReport struct {
	Slug        string
	Address     string
	ChainID     int64
	GeneratedAt time.Time
	Data        any
}

// ReportService stores shareable portfolio snapshots.
type ReportService struct {
	DB   *gorm.DB
	Repo ReportRepo
}

// NewReportService constructs a ReportService.
func NewReportService(db *gorm.DB, r ReportRepo) *ReportService {
	return &ReportService{DB: db, Repo: r}
}

// Create validates in and stores it. A taken slug returns ErrReportSlugTaken.
func (s *ReportService) Create(ctx context.Context, in NewReport) (*domain.PortfolioReport, error) {
	slug := strings.TrimSpace(in.Slug)
	address := strings.ToLower(strings.TrimSpace(in.Address))

	if err := checkMaxLen("slug", slug, 128); err != nil {
		return nil, err
	}
	if err := checkMaxLen("address", address, 66); err != nil {
		return nil, err
	}
	if err := checkLength("slug", slug, 8, 128); err != nil {
		return nil, err
	}
	if !urlSafeSlugRE.MatchString(slug) {
		return nil, invalid("slug must be URL-safe (letters, numbers, '_' or '-')")
	}
	if _, ok := movementAddress(address); !ok {
		return nil, invalid("address must be a 0x-prefixed Movement address")
	}
	if in.ChainID <= 0 {
		return nil, invalid("movementChainId must be a positive number")
	}
	if in.GeneratedAt.IsZero() || in.GeneratedAt.Unix() <= 0 {
		return nil, invalid("generatedAt must be a positive number")
	}

	data, err := json.Marshal(in.Data)
	if err != nil {
		return nil, fmt.Errorf("encode report data: %w", err)
	}

	r := &domain.PortfolioReport{
		Slug:            slug,
		Address:         address,
		MovementChainID: in.ChainID,
		GeneratedAt:     in.GeneratedAt.UTC(),
		Data:            datatypes.JSON(data),
	}
	if err := s.Repo.CreateReport(ctx, s.DB, r); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrReportSlugTaken
		}
		return nil, err
	}
	return r, nil
}

// Get returns the report for slug or ErrReportNotFound.
func (s *ReportService) Get(ctx context.Context, slug string) (*domain.PortfolioReport, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrReportNotFound
	}
	r, err := s.Repo.GetReportBySlug(ctx, s.DB, slug)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrReportNotFound
	}
	return r, err
}

// ListForAddress returns the newest reports generated for address.
func (s *ReportService) ListForAddress(ctx context.Context, address string, limit int) ([]domain.PortfolioReport, error) {
	a, ok := movementAddress(address)
	if !ok {
		return nil, invalid("address must be a 0x-prefixed Movement address")
	}
	return s.Repo.ListReportsByAddress(ctx, s.DB, a, utils.Limit(limit, 20, 100))
}
