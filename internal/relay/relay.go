// Package relay performs the single bounded outbound call behind the try
// console.
//
// A Relay never follows redirects, caps both the request body and the
// response body, and aborts the call once its timeout elapses. The transport
// it builds by default refuses to dial any address the egress policy
// classifies as non-public, which closes the gap between the pre-flight
// hostname check and the connection actually made.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/movemeter/backend/internal/egress"
)

// Defaults applied by New when an Options field is zero.
const (
	DefaultTimeout          = 10 * time.Second
	DefaultMaxBodyChars     = 50_000
	DefaultMaxResponseBytes = 250_000
)

var (
	ErrMethodNotAllowed = errors.New("method must be GET or POST")
	ErrBodyTooLarge     = errors.New("request body is too large")
	ErrInvalidJSON      = errors.New("body must be valid JSON")
	ErrTimeout          = errors.New("upstream request timed out")
	ErrResponseTooLarge = errors.New("response exceeded maximum size")
)

// Request is one outbound call. Body is only read for POST.
type Request struct {
	Method string
	URL    *url.URL
	Body   string
}

// Result summarizes the upstream response.
type Result struct {
	OK          bool   `json:"ok"`
	Status      int    `json:"status"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Location    string `json:"location,omitempty"`
	Body        string `json:"body"`
}

// Options configures a Relay.
type Options struct {
	Timeout          time.Duration
	MaxBodyChars     int
	MaxResponseBytes int64

	// Policy guards every dial made by the default transport.
	Policy *egress.Policy

	// Transport overrides the guarded transport (tests).
	Transport http.RoundTripper
}

// Relay is safe for concurrent use.
type Relay struct {
	client           *http.Client
	timeout          time.Duration
	maxBodyChars     int
	maxResponseBytes int64
}

// New builds a Relay from opts.
func New(opts Options) *Relay {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyChars <= 0 {
		opts.MaxBodyChars = DefaultMaxBodyChars
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}
	rt := opts.Transport
	if rt == nil {
		rt = GuardedTransport(opts.Policy)
	}
	return &Relay{
		client: &http.Client{
			Transport: rt,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:          opts.Timeout,
		maxBodyChars:     opts.MaxBodyChars,
		maxResponseBytes: opts.MaxResponseBytes,
	}
}

// GuardedTransport returns an http.Transport whose dialer rejects
// connections to blocked address ranges after DNS resolution.
func GuardedTransport(p *egress.Policy) *http.Transport {
	d := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return err
			}
			return p.CheckAddr(addr)
		},
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           d.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// PrepareBody validates and compacts a POST body. An empty body becomes "{}".
func (r *Relay) PrepareBody(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	if utf8.RuneCountInString(raw) > r.maxBodyChars {
		return "", ErrBodyTooLarge
	}
	if !json.Valid([]byte(raw)) {
		return "", ErrInvalidJSON
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return "", ErrInvalidJSON
	}
	return buf.String(), nil
}

// Do performs req and returns the summarized response.
func (r *Relay) Do(ctx context.Context, req Request) (*Result, error) {
	ctx, span := otel.Tracer("relay").Start(ctx, "Relay.Do",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("server.address", req.URL.Hostname()),
		),
	)
	defer span.End()

	res, err := r.do(ctx, req)
	outcome := "ok"
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = outcomeOf(err)
	default:
		span.SetAttributes(attribute.Int("http.response.status_code", res.Status))
	}
	relayCalls.WithLabelValues(req.Method, outcome).Inc()
	return res, err
}

func (r *Relay) do(ctx context.Context, req Request) (*Result, error) {
	var (
		body   io.Reader
		header = http.Header{}
	)
	switch req.Method {
	case http.MethodGet:
	case http.MethodPost:
		payload, err := r.PrepareBody(req.Body)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(payload)
		header.Set("Content-Type", "application/json")
	default:
		return nil, ErrMethodNotAllowed
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	hreq.Header = header

	resp, err := r.client.Do(hreq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	text, err := readLimited(resp.Body, r.maxResponseBytes)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	relayLatency.Observe(time.Since(start).Seconds())

	return &Result{
		OK:          resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:      resp.StatusCode,
		URL:         req.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Location:    resp.Header.Get("Location"),
		Body:        text,
	}, nil
}

// readLimited reads at most max bytes and fails if more are available.
// Invalid UTF-8 is replaced rather than rejected.
func readLimited(rc io.Reader, max int64) (string, error) {
	b, err := io.ReadAll(io.LimitReader(rc, max+1))
	if err != nil {
		return "", fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(b)) > max {
		return "", ErrResponseTooLarge
	}
	return strings.ToValidUTF8(string(b), "\uFFFD"), nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrResponseTooLarge):
		return "too_large"
	case errors.Is(err, ErrBodyTooLarge), errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrMethodNotAllowed):
		return "rejected"
	case errors.Is(err, egress.ErrBlockedAddress):
		return "blocked"
	default:
		return "error"
	}
}
