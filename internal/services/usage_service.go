// Package services – UsageService
//
// This file implements the usage ledger. Every metered call appends one
// immutable UsageEvent and bumps the per-(route, day) UsageDaily rollup;
// DailySummary reads the rollup back for dashboards.
//
// Prices travel as "$"-prefixed decimal strings and are stored as exact
// integer micro-units. Days are UTC calendar dates from the server clock.
package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/utils"
)

const (
	microsPerUSD = 1_000_000

	// maxSafeMicros keeps values exactly representable by JSON clients (2^53-1).
	maxSafeMicros = 1<<53 - 1

	dayLayout = "2006-01-02"
)

// UsageRepo defines the repository contract required by UsageService.
type UsageRepo interface {
	InsertUsageEvent(ctx context.Context, db *gorm.DB, ev *domain.UsageEvent) error
	BumpUsageDaily(ctx context.Context, db *gorm.DB, route, day string, okInc, revenueMicros int64) error
	ListUsageDailyByDay(ctx context.Context, db *gorm.DB, day string) ([]domain.UsageDaily, error)
	ListUsageDailyByRouteDay(ctx context.Context, db *gorm.DB, route, day string) ([]domain.UsageDaily, error)
	ListUsageEventsByRoute(ctx context.Context, db *gorm.DB, route string, limit int) ([]domain.UsageEvent, error)
}

// PaidCall is one metered call attempt.
type PaidCall struct {
	Route    string
	Network  string
	PayTo    string
	PriceUSD string
	OK       bool
}

// DaySummary is one row of DailySummary.
type DaySummary struct {
	Day              string  `json:"day"`
	Calls            int64   `json:"calls"`
	OKCalls          int64   `json:"ok_calls"`
	RevenueUSD       float64 `json:"revenue_usd"`
	RevenueUSDMicros int64   `json:"revenue_usd_micros"`
}

// UsageService records paid calls and summarizes them per day.
type UsageService struct {
	DB   *gorm.DB
	Repo UsageRepo

	// Now is the ledger clock; tests pin it.
	Now func() time.Time
}

// NewUsageService constructs a UsageService on the wall clock.
func NewUsageService(db *gorm.DB, r UsageRepo) *UsageService {
	return &UsageService{DB: db, Repo: r, Now: time.Now}
}

// ParsePriceToMicros converts "$1.50" into 1_500_000 without floating point.
func ParsePriceToMicros(price string) (int64, error) {
	if !strings.HasPrefix(price, "$") {
		return 0, invalid("priceUsd must start with '$'")
	}
	whole, frac, _ := strings.Cut(price[1:], ".")
	if whole == "" || !allDigits(whole) || !allDigits(frac) {
		return 0, invalid("Invalid USD price")
	}
	if len(frac) > 6 {
		return 0, invalid("USD price supports up to 6 decimals")
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, invalid("USD price is too large")
	}
	var f int64
	if frac != "" {
		f, _ = strconv.ParseInt((frac + "000000")[:6], 10, 64)
	}
	if w > (maxSafeMicros-f)/microsPerUSD {
		return 0, invalid("USD price is too large")
	}
	return w*microsPerUSD + f, nil
}

// MicrosToUSD is the exact decimal value of micros.
func MicrosToUSD(micros int64) decimal.Decimal {
	return decimal.New(micros, -6)
}

// LogPaidCall appends an event for c and bumps the (route, day) aggregate:
// calls+1, okCalls+1 and revenue+price only when c.OK.
func (s *UsageService) LogPaidCall(ctx context.Context, c PaidCall) error {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "LogPaidCall",
		trace.WithAttributes(
			attribute.String("usage.route", c.Route),
			attribute.Bool("usage.ok", c.OK),
		),
	)
	defer span.End()

	if err := checkMaxLen("route", c.Route, 200); err != nil {
		return err
	}
	if err := checkMaxLen("network", c.Network, 32); err != nil {
		return err
	}
	if err := checkMaxLen("priceUsd", c.PriceUSD, 32); err != nil {
		return err
	}
	if err := checkEVMAddress("payTo", c.PayTo); err != nil {
		return err
	}
	micros, err := ParsePriceToMicros(c.PriceUSD)
	if err != nil {
		return err
	}

	now := s.Now().UTC()
	day := now.Format(dayLayout)

	ev := &domain.UsageEvent{
		CreatedAt:      now,
		Day:            day,
		Route:          c.Route,
		Network:        c.Network,
		PayTo:          c.PayTo,
		PriceUSD:       c.PriceUSD,
		PriceUSDMicros: micros,
		OK:             c.OK,
	}
	if err := s.Repo.InsertUsageEvent(ctx, s.DB, ev); err != nil {
		return err
	}

	var okInc, revenue int64
	if c.OK {
		okInc, revenue = 1, micros
	}
	if err := s.Repo.BumpUsageDaily(ctx, s.DB, c.Route, day, okInc, revenue); err != nil {
		return err
	}

	paidCalls.WithLabelValues(c.Route, strconv.FormatBool(c.OK)).Inc()
	if c.OK {
		paidRevenue.WithLabelValues(c.Route).Add(MicrosToUSD(micros).InexactFloat64())
	}
	return nil
}

// DailySummary returns one row per day for the trailing days (clamped to
// [1, 60]), oldest first and ending today. Days without traffic are zero rows.
// An empty route sums every route of the day.
func (s *UsageService) DailySummary(ctx context.Context, days int, route string) ([]DaySummary, error) {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "DailySummary",
		trace.WithAttributes(
			attribute.Int("days", days),
			attribute.String("usage.route", route),
		),
	)
	defer span.End()

	days = utils.Clamp(days, 1, 60)
	now := s.Now().UTC()

	out := make([]DaySummary, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format(dayLayout)

		var (
			rows []domain.UsageDaily
			err  error
		)
		if route != "" {
			rows, err = s.Repo.ListUsageDailyByRouteDay(ctx, s.DB, route, day)
		} else {
			rows, err = s.Repo.ListUsageDailyByDay(ctx, s.DB, day)
		}
		if err != nil {
			return nil, err
		}

		row := DaySummary{Day: day}
		for _, r := range rows {
			row.Calls += r.Calls
			row.OKCalls += r.OKCalls
			row.RevenueUSDMicros += r.RevenueUSDMicros
		}
		row.RevenueUSD = MicrosToUSD(row.RevenueUSDMicros).InexactFloat64()
		out = append(out, row)
	}
	return out, nil
}

// RecentEvents returns the newest events for route.
func (s *UsageService) RecentEvents(ctx context.Context, route string, limit int) ([]domain.UsageEvent, error) {
	if strings.TrimSpace(route) == "" {
		return nil, invalid("route is required")
	}
	return s.Repo.ListUsageEventsByRoute(ctx, s.DB, route, utils.Limit(limit, 25, 100))
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
