package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Version is the protocol version spoken with clients and the facilitator.
const Version = 1

// Requirements describes one accepted way to pay for a resource.
type Requirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// VerifyResult is the facilitator's /verify answer.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResult is the facilitator's /settle answer; it is also what the
// X-PAYMENT-RESPONSE header carries, base64 encoded.
type SettleResult struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

type facilitatorRequest struct {
	X402Version         int             `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements Requirements    `json:"paymentRequirements"`
}

// Facilitator is an HTTP client for a payment facilitator.
type Facilitator struct {
	base string
	http *http.Client
}

// NewFacilitator returns a client for baseURL. A nil hc gets a 15 s default.
func NewFacilitator(baseURL string, hc *http.Client) *Facilitator {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Facilitator{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// Verify checks a decoded payment payload against req.
func (f *Facilitator) Verify(ctx context.Context, payload json.RawMessage, req Requirements) (*VerifyResult, error) {
	var out VerifyResult
	if err := f.post(ctx, "verify", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle executes a verified payment.
func (f *Facilitator) Settle(ctx context.Context, payload json.RawMessage, req Requirements) (*SettleResult, error) {
	var out SettleResult
	if err := f.post(ctx, "settle", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Facilitator) post(ctx context.Context, op string, payload json.RawMessage, req Requirements, out any) (err error) {
	ctx, span := otel.Tracer("x402").Start(ctx, "Facilitator."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		facilitatorCalls.WithLabelValues(op, outcome(err)).Inc()
		span.End()
	}()

	b, err := json.Marshal(facilitatorRequest{X402Version: Version, PaymentPayload: payload, PaymentRequirements: req})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.base+"/"+op, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(hreq)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("facilitator %s HTTP %d: %s", op, resp.StatusCode, strings.TrimSpace(string(text)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
