// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the usage ledger: immutable events and the
// per-(route, day) daily aggregate.
//
// Aggregates are bumped with column arithmetic (calls = calls + 1) so two
// concurrent writers on one key never overwrite each other's increments. The
// event insert and the aggregate bump are still separate statements; the
// event table is the source of truth and aggregates can be rebuilt from it.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
)

// InsertUsageEvent appends one immutable event.
func InsertUsageEvent(ctx context.Context, db *gorm.DB, ev *domain.UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(ev).Error
}

// GetUsageDaily returns the aggregate for (route, day) or ErrNotFound.
// Writes go through BumpUsageDaily; this read is for inspection and tests.
func GetUsageDaily(ctx context.Context, db *gorm.DB, route, day string) (*domain.UsageDaily, error) {
	var row domain.UsageDaily
	err := db.WithContext(ctx).
		Where("route = ? AND day = ?", route, day).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// BumpUsageDaily adds one call (okInc successes, revenue micros) to the
// (route, day) aggregate, creating it on first use. A lost insert race
// against another writer falls back to the in-place increment.
func BumpUsageDaily(ctx context.Context, db *gorm.DB, route, day string, okInc, revenueMicros int64) error {
	increment := func() (int64, error) {
		res := db.WithContext(ctx).
			Model(&domain.UsageDaily{}).
			Where("route = ? AND day = ?", route, day).
			Updates(map[string]any{
				"calls":              gorm.Expr("calls + ?", 1),
				"ok_calls":           gorm.Expr("ok_calls + ?", okInc),
				"revenue_usd_micros": gorm.Expr("revenue_usd_micros + ?", revenueMicros),
			})
		return res.RowsAffected, res.Error
	}

	n, err := increment()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	row := &domain.UsageDaily{
		ID:               uuid.NewString(),
		Day:              day,
		Route:            route,
		Calls:            1,
		OKCalls:          okInc,
		RevenueUSDMicros: revenueMicros,
	}
	err = translate(db.WithContext(ctx).Create(row).Error)
	if !errors.Is(err, ErrDuplicate) {
		return err
	}
	_, err = increment()
	return err
}

// ListUsageDailyByDay returns every aggregate for day (all routes).
func ListUsageDailyByDay(ctx context.Context, db *gorm.DB, day string) ([]domain.UsageDaily, error) {
	var out []domain.UsageDaily
	err := db.WithContext(ctx).Where("day = ?", day).Find(&out).Error
	return out, err
}

// ListUsageDailyByRouteDay returns the aggregates for (route, day).
func ListUsageDailyByRouteDay(ctx context.Context, db *gorm.DB, route, day string) ([]domain.UsageDaily, error) {
	var out []domain.UsageDaily
	err := db.WithContext(ctx).Where("route = ? AND day = ?", route, day).Find(&out).Error
	return out, err
}

// ListUsageEventsByRoute returns up to limit events for route, newest first.
func ListUsageEventsByRoute(ctx context.Context, db *gorm.DB, route string, limit int) ([]domain.UsageEvent, error) {
	var out []domain.UsageEvent
	err := db.WithContext(ctx).
		Where("route = ?", route).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
