package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/http/middleware"
	"github.com/movemeter/backend/internal/services"
)

// ---------- service stubs ----------

type stubUsage struct {
	days     int
	route    string
	rows     []services.DaySummary
	events   []domain.UsageEvent
	err      error
	gotLimit int
}

func (s *stubUsage) DailySummary(_ context.Context, days int, route string) ([]services.DaySummary, error) {
	s.days, s.route = days, route
	return s.rows, s.err
}

func (s *stubUsage) RecentEvents(_ context.Context, route string, limit int) ([]domain.UsageEvent, error) {
	s.route, s.gotLimit = route, limit
	if strings.TrimSpace(route) == "" {
		return nil, &services.ValidationError{Msg: "route is required"}
	}
	return s.events, s.err
}

type stubReceipts struct {
	recorded *domain.PaymentReceipt
	err      error
	list     []domain.PaymentReceipt
}

func (s *stubReceipts) Record(_ context.Context, r *domain.PaymentReceipt) error {
	s.recorded = r
	if s.err != nil {
		return s.err
	}
	r.ID = "rc-1"
	return nil
}

func (s *stubReceipts) ListForWallet(_ context.Context, wallet string, _ int) ([]domain.PaymentReceipt, error) {
	if !services.IsEVMAddress(wallet) {
		return nil, &services.ValidationError{Msg: "payerWalletAddress must be a 0x-prefixed 20-byte hex address"}
	}
	return s.list, nil
}

type stubUsers struct {
	subject, address string
	user             *domain.User
	err              error
}

func (s *stubUsers) Sync(_ context.Context, subject, address string) (*domain.User, error) {
	s.subject, s.address = subject, address
	if s.err != nil {
		return nil, s.err
	}
	return &domain.User{ID: "u-1", Subject: subject}, nil
}

func (s *stubUsers) Get(_ context.Context, subject string) (*domain.User, error) {
	s.subject = subject
	if s.user == nil {
		return nil, services.ErrUserNotFound
	}
	return s.user, nil
}

type stubReports struct {
	report *domain.PortfolioReport
	list   []domain.PortfolioReport
}

func (s *stubReports) Get(_ context.Context, slug string) (*domain.PortfolioReport, error) {
	if s.report == nil || s.report.Slug != slug {
		return nil, services.ErrReportNotFound
	}
	return s.report, nil
}

func (s *stubReports) ListForAddress(_ context.Context, address string, _ int) ([]domain.PortfolioReport, error) {
	if _, err := services.NormalizeMovementAddress(address); err != nil {
		return nil, err
	}
	return s.list, nil
}

func recordsEngine(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/usage/daily", h.DailySummary)
	r.GET("/usage/events", h.UsageEvents)
	r.GET("/receipts", h.ListReceipts)
	r.GET("/reports", h.ListReports)
	r.GET("/reports/:slug", h.GetReport)
	authed := r.Group("", asUser("did:privy:alice"))
	authed.POST("/receipts", h.RecordReceipt)
	authed.POST("/me/sync", h.SyncUser)
	authed.GET("/me", h.GetMe)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	r.ServeHTTP(w, req)
	return w
}

// ---------- usage ----------

func TestDailySummary_DefaultsAndErrors(t *testing.T) {
	u := &stubUsage{rows: []services.DaySummary{{Day: "2026-10-14", Calls: 3, OKCalls: 2, RevenueUSD: 0.1, RevenueUSDMicros: 100_000}}}
	r := recordsEngine(New(Services{Usage: u}))

	w := serve(r, http.MethodGet, "/usage/daily?route=%2Fapi%2Fv1%2Fpaid%2Fmeter-report", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if u.days != 7 || u.route != "/api/v1/paid/meter-report" {
		t.Fatalf("service got days=%d route=%q", u.days, u.route)
	}
	want := `{"days":[{"day":"2026-10-14","calls":3,"ok_calls":2,"revenue_usd":0.1,"revenue_usd_micros":100000}]}`
	if w.Body.String() != want {
		t.Fatalf("body = %s", w.Body.String())
	}

	serve(r, http.MethodGet, "/usage/daily?days=90", "")
	if u.days != 90 {
		t.Fatalf("days should pass through for the service to clamp, got %d", u.days)
	}

	u.err = errors.New("db down")
	w = serve(r, http.MethodGet, "/usage/daily", "")
	if w.Code != http.StatusInternalServerError || decodeError(t, w).Code != ErrCodeListFailed {
		t.Fatalf("error path -> %d %s", w.Code, w.Body.String())
	}
}

func TestUsageEvents_RequiresRoute(t *testing.T) {
	u := &stubUsage{}
	r := recordsEngine(New(Services{Usage: u}))

	w := serve(r, http.MethodGet, "/usage/events", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeValidation || er.Message != "route is required" {
		t.Fatalf("unexpected body: %+v", er)
	}

	w = serve(r, http.MethodGet, "/usage/events?route=r&limit=5", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"events":[]}` || u.gotLimit != 5 {
		t.Fatalf("got %d %s limit=%d", w.Code, w.Body.String(), u.gotLimit)
	}
}

// ---------- receipts ----------

func TestRecordReceipt_DecodesPaymentResponse(t *testing.T) {
	rs := &stubReceipts{}
	r := recordsEngine(New(Services{Receipts: rs}))

	settle := base64.StdEncoding.EncodeToString([]byte(`{"success":true,"transaction":"0xabc","network":"eip155:84532","payer":"0x2222222222222222222222222222222222222222"}`))
	body := `{"endpoint":"/api/v1/paid/meter-report","network":"eip155:84532","payTo":"0x1111111111111111111111111111111111111111","priceUsd":"$0.05","payerWalletAddress":"0x2222222222222222222222222222222222222222","paymentResponseHeader":"` + settle + `"}`

	w := serve(r, http.MethodPost, "/receipts", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	got := rs.recorded
	if got.Transaction == nil || *got.Transaction != "0xabc" || got.Payer == nil || *got.Payer != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("settlement not decoded: %+v", got)
	}
	if got.DecodeError != nil {
		t.Fatalf("unexpected decode error: %s", *got.DecodeError)
	}
}

func TestRecordReceipt_KeepsDecodeErrorAndMapsValidation(t *testing.T) {
	rs := &stubReceipts{}
	r := recordsEngine(New(Services{Receipts: rs}))

	body := `{"endpoint":"/x","network":"eip155:84532","payTo":"0x1111111111111111111111111111111111111111","priceUsd":"$0.05","payerWalletAddress":"0x2222222222222222222222222222222222222222","paymentResponseHeader":"%%%"}`
	if w := serve(r, http.MethodPost, "/receipts", body); w.Code != http.StatusCreated {
		t.Fatalf("status=%d", w.Code)
	}
	if rs.recorded.DecodeError == nil || rs.recorded.Transaction != nil {
		t.Fatalf("expected decode error, got %+v", rs.recorded)
	}

	rs.err = &services.ValidationError{Msg: "payTo must be a 0x-prefixed 20-byte hex address"}
	w := serve(r, http.MethodPost, "/receipts", `{"endpoint":"/x"}`)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Message != rs.err.Error() {
		t.Fatalf("validation -> %d %s", w.Code, w.Body.String())
	}

	if w := serve(r, http.MethodPost, "/receipts", `[`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json -> %d", w.Code)
	}
}

func TestListReceipts(t *testing.T) {
	rs := &stubReceipts{list: []domain.PaymentReceipt{{ID: "rc-1", Endpoint: "/x"}}}
	r := recordsEngine(New(Services{Receipts: rs}))

	w := serve(r, http.MethodGet, "/receipts?wallet=0x2222222222222222222222222222222222222222", "")
	var resp ReceiptsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || w.Code != http.StatusOK {
		t.Fatalf("status=%d err=%v", w.Code, err)
	}
	if len(resp.Receipts) != 1 || resp.Receipts[0].ID != "rc-1" {
		t.Fatalf("unexpected receipts: %+v", resp.Receipts)
	}

	if w := serve(r, http.MethodGet, "/receipts?wallet=nope", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid wallet -> %d", w.Code)
	}
}

// ---------- users ----------

func TestSyncUser_BodyOptional(t *testing.T) {
	us := &stubUsers{}
	r := recordsEngine(New(Services{Users: us}))

	if w := serve(r, http.MethodPost, "/me/sync", ""); w.Code != http.StatusOK {
		t.Fatalf("empty body -> %d %s", w.Code, w.Body.String())
	}
	if us.subject != "did:privy:alice" || us.address != "" {
		t.Fatalf("service got %q %q", us.subject, us.address)
	}

	if w := serve(r, http.MethodPost, "/me/sync", `{"movementAddress":" 0xAB "}`); w.Code != http.StatusOK {
		t.Fatalf("with address -> %d", w.Code)
	}
	if us.address != "0xAB" {
		t.Fatalf("address passed = %q", us.address)
	}

	us.err = &services.ValidationError{Msg: "movementAddress must be a valid Movement address (0x + hex)"}
	if w := serve(r, http.MethodPost, "/me/sync", `{"movementAddress":"zz"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid -> %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/me/sync", `{`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json -> %d", w.Code)
	}
}

func TestGetMe(t *testing.T) {
	us := &stubUsers{}
	r := recordsEngine(New(Services{Users: us}))

	w := serve(r, http.MethodGet, "/me", "")
	if w.Code != http.StatusNotFound || decodeError(t, w).Code != ErrCodeNotFound {
		t.Fatalf("unsynced -> %d %s", w.Code, w.Body.String())
	}

	us.user = &domain.User{ID: "u-1", Subject: "did:privy:alice"}
	w = serve(r, http.MethodGet, "/me", "")
	var u domain.User
	_ = json.Unmarshal(w.Body.Bytes(), &u)
	if w.Code != http.StatusOK || u.Subject != "did:privy:alice" {
		t.Fatalf("synced -> %d %+v", w.Code, u)
	}
}

// ---------- reports ----------

func TestReports_GetAndList(t *testing.T) {
	rp := &stubReports{
		report: &domain.PortfolioReport{ID: "r-1", Slug: "2dd7a756-3d2c-4d18-a5cb-8eb9a25a3fd2", Address: "0x1", Data: []byte(`{"address":"0x1"}`)},
		list:   []domain.PortfolioReport{{ID: "r-1"}},
	}
	r := recordsEngine(New(Services{Reports: rp}))

	w := serve(r, http.MethodGet, "/reports/2dd7a756-3d2c-4d18-a5cb-8eb9a25a3fd2", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"data":{"address":"0x1"}`) {
		t.Fatalf("get -> %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected cache header")
	}

	if w := serve(r, http.MethodGet, "/reports/unknown-slug", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing -> %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/reports?address=0x1", "")
	var resp ReportsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Reports) != 1 {
		t.Fatalf("list -> %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/reports?address=bogus", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid address -> %d", w.Code)
	}
}
