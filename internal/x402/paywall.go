package x402

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/movemeter/backend/internal/domain"
)

const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	maxTimeoutSeconds = 60
)

var errMalformed = errors.New("malformed payment payload")

var (
	facilitatorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "x402_facilitator_requests_total",
			Help: "Facilitator verify/settle requests by outcome.",
		},
		[]string{"op", "outcome"},
	)
	paywallOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "x402_paywall_requests_total",
			Help: "Paid-route requests by paywall outcome.",
		},
		[]string{"route", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(facilitatorCalls, paywallOutcomes)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// PaymentService is the facilitator contract the paywall relies on.
type PaymentService interface {
	Verify(ctx context.Context, payload json.RawMessage, req Requirements) (*VerifyResult, error)
	Settle(ctx context.Context, payload json.RawMessage, req Requirements) (*SettleResult, error)
}

// ReceiptRecorder stores settlement receipts.
type ReceiptRecorder interface {
	Record(ctx context.Context, r *domain.PaymentReceipt) error
}

// Route describes one paid endpoint.
type Route struct {
	Description string
	MimeType    string
}

// Paywall builds per-route payment middleware from one set of terms.
type Paywall struct {
	terms    Terms
	termsErr error
	svc      PaymentService
	receipts ReceiptRecorder
}

// NewPaywall returns a Paywall. When termsErr is non-nil every gated route
// answers 500 "x402 is not configured"; the rest of the API is unaffected.
func NewPaywall(terms Terms, termsErr error, svc PaymentService, receipts ReceiptRecorder) *Paywall {
	return &Paywall{terms: terms, termsErr: termsErr, svc: svc, receipts: receipts}
}

// Terms returns the configured terms and whether they are valid.
func (p *Paywall) Terms() (Terms, bool) { return p.terms, p.termsErr == nil }

// Configured is a middleware that fails fast when the terms are invalid.
// Handlers that validate input before the paywall sit behind it.
func (p *Paywall) Configured() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.termsErr != nil {
			c.Header("Cache-Control", "no-store")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"ok":      false,
				"error":   "x402 is not configured",
				"details": p.termsErr.Error(),
			})
			return
		}
		c.Next()
	}
}

// Require gates the remaining handlers behind a payment.
func (p *Paywall) Require(rt Route) gin.HandlerFunc {
	if rt.MimeType == "" {
		rt.MimeType = "application/json"
	}
	return func(c *gin.Context) {
		if p.termsErr != nil {
			p.Configured()(c)
			return
		}
		route := c.FullPath()
		req := p.requirements(c, rt)

		header := strings.TrimSpace(c.GetHeader(HeaderPayment))
		if header == "" {
			paywallOutcomes.WithLabelValues(route, "required").Inc()
			paymentRequired(c, req, "X-PAYMENT header is required")
			return
		}
		payload, err := decodeHeader(header)
		if err != nil {
			paywallOutcomes.WithLabelValues(route, "malformed").Inc()
			paymentRequired(c, req, "Invalid or malformed payment header")
			return
		}

		ctx := c.Request.Context()
		vr, err := p.svc.Verify(ctx, payload, req)
		if err != nil {
			log.Warn().Err(err).Str("route", route).Msg("x402 verify failed")
			paywallOutcomes.WithLabelValues(route, "verify_error").Inc()
			paymentRequired(c, req, "Payment verification failed")
			return
		}
		if !vr.IsValid {
			paywallOutcomes.WithLabelValues(route, "invalid").Inc()
			paymentRequired(c, req, firstNonEmpty(vr.InvalidReason, "Payment is invalid"))
			return
		}

		orig := c.Writer
		bw := &bufferedWriter{ResponseWriter: orig, status: http.StatusOK}
		c.Writer = bw
		c.Next()
		c.Writer = orig

		// Failed responses are not charged.
		if bw.status >= http.StatusBadRequest {
			paywallOutcomes.WithLabelValues(route, "handler_error").Inc()
			bw.flush()
			return
		}

		sr, err := p.svc.Settle(ctx, payload, req)
		if err != nil || !sr.Success {
			reason := "Payment settlement failed"
			if sr != nil && sr.ErrorReason != "" {
				reason = sr.ErrorReason
			}
			if err != nil {
				log.Warn().Err(err).Str("route", route).Msg("x402 settle failed")
			}
			paywallOutcomes.WithLabelValues(route, "settle_failed").Inc()
			bw.discard()
			paymentRequired(c, req, reason)
			return
		}

		encoded := encodeSettlement(sr)
		orig.Header().Set(HeaderPaymentResponse, encoded)
		orig.Header().Add("Access-Control-Expose-Headers", HeaderPaymentResponse)
		bw.flush()
		paywallOutcomes.WithLabelValues(route, "settled").Inc()

		p.record(ctx, route, sr, vr.Payer, encoded)
	}
}

func (p *Paywall) record(ctx context.Context, route string, sr *SettleResult, verifiedPayer, header string) {
	if p.receipts == nil {
		return
	}
	payer := firstNonEmpty(sr.Payer, verifiedPayer)
	rc := &domain.PaymentReceipt{
		Endpoint:              route,
		Network:               firstNonEmpty(sr.Network, p.terms.Network),
		PayTo:                 p.terms.PayTo,
		PriceUSD:              p.terms.PriceUSD,
		PayerWalletAddress:    payer,
		PaymentResponseHeader: &header,
	}
	if payer != "" {
		rc.Payer = &payer
	}
	if sr.Transaction != "" {
		tx := sr.Transaction
		rc.Transaction = &tx
	}
	if err := p.receipts.Record(context.WithoutCancel(ctx), rc); err != nil {
		log.Warn().Err(err).Str("route", route).Msg("failed to record payment receipt")
	}
}

func (p *Paywall) requirements(c *gin.Context, rt Route) Requirements {
	return Requirements{
		Scheme:            "exact",
		Network:           p.terms.Network,
		MaxAmountRequired: p.terms.Amount,
		Resource:          resourceURL(c.Request),
		Description:       rt.Description,
		MimeType:          rt.MimeType,
		PayTo:             p.terms.PayTo,
		MaxTimeoutSeconds: maxTimeoutSeconds,
		Asset:             p.terms.Asset,
		Extra:             map[string]string{"name": "USDC", "version": "2"},
	}
}

func paymentRequired(c *gin.Context, req Requirements, msg string) {
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
		"x402Version": Version,
		"error":       msg,
		"accepts":     []Requirements{req},
	})
}

func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// decodeHeader returns the JSON payment payload carried by X-PAYMENT.
func decodeHeader(h string) (json.RawMessage, error) {
	b, err := base64.StdEncoding.DecodeString(h)
	if err != nil {
		if b, err = base64.RawURLEncoding.DecodeString(h); err != nil {
			return nil, err
		}
	}
	var probe struct {
		X402Version int    `json:"x402Version"`
		Scheme      string `json:"scheme"`
		Network     string `json:"network"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, err
	}
	if probe.Scheme == "" || probe.Network == "" {
		return nil, errMalformed
	}
	return json.RawMessage(b), nil
}

// DecodeSettlement parses an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(h string) (*SettleResult, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, err
	}
	var sr SettleResult
	if err := json.Unmarshal(b, &sr); err != nil {
		return nil, err
	}
	return &sr, nil
}

func encodeSettlement(sr *SettleResult) string {
	b, _ := json.Marshal(sr)
	return base64.StdEncoding.EncodeToString(b)
}

// bufferedWriter holds the route's response until the payment is settled.
type bufferedWriter struct {
	gin.ResponseWriter
	buf    bytes.Buffer
	status int
	wrote  bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 && !w.wrote {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.buf.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.wrote = true
	return w.buf.WriteString(s)
}

func (w *bufferedWriter) Status() int   { return w.status }
func (w *bufferedWriter) Size() int     { return w.buf.Len() }
func (w *bufferedWriter) Written() bool { return w.wrote }

func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.status)
	_, _ = w.ResponseWriter.Write(w.buf.Bytes())
}

func (w *bufferedWriter) discard() {
	w.buf.Reset()
	h := w.ResponseWriter.Header()
	h.Del("Content-Type")
	h.Del("Content-Length")
}
