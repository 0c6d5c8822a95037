package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
)

const payTo = "0x1111111111111111111111111111111111111111"

// ----- Fake repo -----

type dailyKey struct{ route, day string }

type fakeUsageRepo struct {
	events []domain.UsageEvent
	daily  map[dailyKey]*domain.UsageDaily

	insertErr error

	eventsRoute string
	eventsLimit int
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{daily: map[dailyKey]*domain.UsageDaily{}}
}

func (r *fakeUsageRepo) InsertUsageEvent(_ context.Context, _ *gorm.DB, ev *domain.UsageEvent) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.events = append(r.events, *ev)
	return nil
}

func (r *fakeUsageRepo) BumpUsageDaily(_ context.Context, _ *gorm.DB, route, day string, okInc, revenue int64) error {
	k := dailyKey{route, day}
	row, ok := r.daily[k]
	if !ok {
		row = &domain.UsageDaily{Route: route, Day: day}
		r.daily[k] = row
	}
	row.Calls++
	row.OKCalls += okInc
	row.RevenueUSDMicros += revenue
	return nil
}

func (r *fakeUsageRepo) ListUsageDailyByDay(_ context.Context, _ *gorm.DB, day string) ([]domain.UsageDaily, error) {
	var out []domain.UsageDaily
	for k, v := range r.daily {
		if k.day == day {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (r *fakeUsageRepo) ListUsageDailyByRouteDay(_ context.Context, _ *gorm.DB, route, day string) ([]domain.UsageDaily, error) {
	if v, ok := r.daily[dailyKey{route, day}]; ok {
		return []domain.UsageDaily{*v}, nil
	}
	return nil, nil
}

func (r *fakeUsageRepo) ListUsageEventsByRoute(_ context.Context, _ *gorm.DB, route string, limit int) ([]domain.UsageEvent, error) {
	r.eventsRoute, r.eventsLimit = route, limit
	return r.events, nil
}

func fixedClock(ts string) func() time.Time {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func newUsageSvc() (*UsageService, *fakeUsageRepo) {
	r := newFakeUsageRepo()
	s := NewUsageService(nil, r)
	s.Now = fixedClock("2025-03-10T23:59:30-02:00") // 2025-03-11 in UTC
	return s, r
}

// ----- ParsePriceToMicros -----

func TestParsePriceToMicros(t *testing.T) {
	ok := map[string]int64{
		"$1.50":       1_500_000,
		"$0.05":       50_000,
		"$0":          0,
		"$12":         12_000_000,
		"$0.000001":   1,
		"$3.":         3_000_000,
		"$007.10":     7_100_000,
		"$9007199254": 9_007_199_254_000_000,
	}
	for in, want := range ok {
		got, err := ParsePriceToMicros(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriceToMicros(%q) = %d, %v; want %d", in, got, err, want)
		}
	}

	bad := map[string]string{
		"1.50":                  "priceUsd must start with '$'",
		"$":                     "Invalid USD price",
		"$.5":                   "Invalid USD price",
		"$1.2.3":                "Invalid USD price",
		"$-1":                   "Invalid USD price",
		"$1,000":                "Invalid USD price",
		"$1.1234567":            "USD price supports up to 6 decimals",
		"$9007199255":           "USD price is too large",
		"$99999999999999999999": "USD price is too large",
	}
	for in, want := range bad {
		_, err := ParsePriceToMicros(in)
		if !errors.Is(err, ErrInvalidInput) || err.Error() != want {
			t.Fatalf("ParsePriceToMicros(%q) err=%v; want %q", in, err, want)
		}
	}
}

func TestParsePriceToMicros_RoundTripsThroughDecimal(t *testing.T) {
	for _, p := range []string{"$1.50", "$0.000001", "$123.456789", "$42", "$0.1"} {
		m, err := ParsePriceToMicros(p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		want := decimal.RequireFromString(strings.TrimPrefix(p, "$"))
		if !MicrosToUSD(m).Equal(want) {
			t.Fatalf("%s -> %d -> %s", p, m, MicrosToUSD(m))
		}
	}
}

// ----- LogPaidCall -----

func TestLogPaidCall_NCallsSameKey(t *testing.T) {
	s, r := newUsageSvc()
	const n = 7
	for i := 0; i < n; i++ {
		err := s.LogPaidCall(context.Background(), PaidCall{
			Route: "/api/paid/meter-report", Network: "eip155:84532", PayTo: payTo, PriceUSD: "$1.50", OK: true,
		})
		if err != nil {
			t.Fatalf("LogPaidCall: %v", err)
		}
	}
	row := r.daily[dailyKey{"/api/paid/meter-report", "2025-03-11"}]
	if row == nil || row.Calls != n || row.OKCalls != n || row.RevenueUSDMicros != n*1_500_000 {
		t.Fatalf("aggregate = %+v", row)
	}
	if len(r.events) != n {
		t.Fatalf("events = %d", len(r.events))
	}
	ev := r.events[0]
	if ev.Day != "2025-03-11" || ev.PriceUSDMicros != 1_500_000 || ev.CreatedAt.Location() != time.UTC {
		t.Fatalf("event = %+v", ev)
	}
}

func TestLogPaidCall_FailedCallCountsWithoutRevenue(t *testing.T) {
	s, r := newUsageSvc()
	ctx := context.Background()
	_ = s.LogPaidCall(ctx, PaidCall{Route: "/r", Network: "n", PayTo: payTo, PriceUSD: "$0.05", OK: true})
	_ = s.LogPaidCall(ctx, PaidCall{Route: "/r", Network: "n", PayTo: payTo, PriceUSD: "$0.05", OK: false})

	row := r.daily[dailyKey{"/r", "2025-03-11"}]
	if row.Calls != 2 || row.OKCalls != 1 || row.RevenueUSDMicros != 50_000 {
		t.Fatalf("aggregate = %+v", row)
	}
	if r.events[1].OK || r.events[1].PriceUSDMicros != 50_000 {
		t.Fatalf("failed event = %+v", r.events[1])
	}
}

func TestLogPaidCall_Validation(t *testing.T) {
	base := PaidCall{Route: "/r", Network: "eip155:8453", PayTo: payTo, PriceUSD: "$1", OK: true}
	cases := []struct {
		name   string
		mutate func(*PaidCall)
		want   string
	}{
		{"route", func(c *PaidCall) { c.Route = strings.Repeat("r", 201) }, "route must be <= 200 characters"},
		{"network", func(c *PaidCall) { c.Network = strings.Repeat("n", 33) }, "network must be <= 32 characters"},
		{"price length", func(c *PaidCall) { c.PriceUSD = "$" + strings.Repeat("1", 32) }, "priceUsd must be <= 32 characters"},
		{"payTo length", func(c *PaidCall) { c.PayTo = payTo + "1" }, "payTo must be <= 42 characters"},
		{"payTo hex", func(c *PaidCall) { c.PayTo = "0xZZ11111111111111111111111111111111111111" }, "payTo must be a 0x-prefixed 20-byte hex address"},
		{"price", func(c *PaidCall) { c.PriceUSD = "1.00" }, "priceUsd must start with '$'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, r := newUsageSvc()
			c := base
			tc.mutate(&c)
			err := s.LogPaidCall(context.Background(), c)
			if !errors.Is(err, ErrInvalidInput) || err.Error() != tc.want {
				t.Fatalf("err=%v; want %q", err, tc.want)
			}
			if len(r.events) != 0 || len(r.daily) != 0 {
				t.Fatalf("nothing must be written on invalid input")
			}
		})
	}
}

func TestLogPaidCall_InsertErrorSkipsAggregate(t *testing.T) {
	s, r := newUsageSvc()
	r.insertErr = errors.New("database is locked")
	if err := s.LogPaidCall(context.Background(), PaidCall{Route: "/r", Network: "n", PayTo: payTo, PriceUSD: "$1", OK: true}); err == nil {
		t.Fatalf("expected insert error")
	}
	if len(r.daily) != 0 {
		t.Fatalf("aggregate bumped despite failed event insert")
	}
}

// ----- DailySummary -----

func TestDailySummary_ThreeDaysWithTrafficToday(t *testing.T) {
	s, r := newUsageSvc()
	r.daily[dailyKey{"/r", "2025-03-11"}] = &domain.UsageDaily{Route: "/r", Day: "2025-03-11", Calls: 5, OKCalls: 4, RevenueUSDMicros: 2_500_000}

	rows, err := s.DailySummary(context.Background(), 3, "")
	if err != nil {
		t.Fatalf("DailySummary: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	wantDays := []string{"2025-03-09", "2025-03-10", "2025-03-11"}
	for i, d := range wantDays {
		if rows[i].Day != d {
			t.Fatalf("row %d day = %s; want %s", i, rows[i].Day, d)
		}
	}
	if rows[0].Calls != 0 || rows[1].Calls != 0 || rows[0].RevenueUSD != 0 {
		t.Fatalf("empty days not zero: %+v", rows[:2])
	}
	if rows[2].Calls != 5 || rows[2].OKCalls != 4 || rows[2].RevenueUSD != 2.5 || rows[2].RevenueUSDMicros != 2_500_000 {
		t.Fatalf("today = %+v", rows[2])
	}
}

func TestDailySummary_SumsRoutesAndFilters(t *testing.T) {
	s, r := newUsageSvc()
	r.daily[dailyKey{"/a", "2025-03-11"}] = &domain.UsageDaily{Calls: 2, OKCalls: 2, RevenueUSDMicros: 100}
	r.daily[dailyKey{"/b", "2025-03-11"}] = &domain.UsageDaily{Calls: 3, OKCalls: 1, RevenueUSDMicros: 50}

	all, _ := s.DailySummary(context.Background(), 1, "")
	if len(all) != 1 || all[0].Calls != 5 || all[0].OKCalls != 3 || all[0].RevenueUSDMicros != 150 {
		t.Fatalf("unfiltered = %+v", all)
	}
	onlyB, _ := s.DailySummary(context.Background(), 1, "/b")
	if onlyB[0].Calls != 3 || onlyB[0].RevenueUSD != 0.00005 {
		t.Fatalf("filtered = %+v", onlyB)
	}
}

func TestDailySummary_ClampsDays(t *testing.T) {
	s, _ := newUsageSvc()
	if rows, _ := s.DailySummary(context.Background(), 0, ""); len(rows) != 1 {
		t.Fatalf("days=0 -> %d rows; want 1", len(rows))
	}
	if rows, _ := s.DailySummary(context.Background(), 365, ""); len(rows) != 60 || rows[59].Day != "2025-03-11" {
		t.Fatalf("days=365 -> %d rows", len(rows))
	}
}

// ----- RecentEvents -----

func TestRecentEvents(t *testing.T) {
	s, r := newUsageSvc()
	if _, err := s.RecentEvents(context.Background(), " ", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank route err=%v", err)
	}
	if _, err := s.RecentEvents(context.Background(), "/r", 0); err != nil || r.eventsRoute != "/r" || r.eventsLimit != 25 {
		t.Fatalf("RecentEvents args = %q %d, %v", r.eventsRoute, r.eventsLimit, err)
	}
}
