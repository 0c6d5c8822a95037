// Package movement reads from the Movement network: ledger info, view
// functions and account resources from a fullnode, and GraphQL queries
// against the indexer. It is deliberately small; the marketplace only needs
// these reads.
package movement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultIndexerTimeout bounds a single indexer query.
const DefaultIndexerTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept in an APIError.
const maxErrorBody = 2048

// APIError is a non-2xx fullnode or indexer response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("movement fullnode HTTP %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the fullnode.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// LedgerInfo is the subset of the fullnode index response we surface.
type LedgerInfo struct {
	ChainID         *int    `json:"chain_id"`
	LedgerVersion   *string `json:"ledger_version"`
	LedgerTimestamp *string `json:"ledger_timestamp"`
}

// ViewRequest calls a Move view function.
type ViewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// Options configures a Client.
type Options struct {
	FullnodeURL    string
	IndexerURL     string
	IndexerTimeout time.Duration
	HTTPClient     *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	fullnode       string
	indexer        string
	indexerTimeout time.Duration
	http           *http.Client
}

// NewClient returns a Client. A nil HTTPClient gets a 15 s default.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.IndexerTimeout <= 0 {
		opts.IndexerTimeout = DefaultIndexerTimeout
	}
	return &Client{
		fullnode:       strings.TrimRight(opts.FullnodeURL, "/"),
		indexer:        opts.IndexerURL,
		indexerTimeout: opts.IndexerTimeout,
		http:           hc,
	}
}

// FullnodeURL returns the configured fullnode base.
func (c *Client) FullnodeURL() string { return c.fullnode }

// LedgerInfo fetches the fullnode index.
func (c *Client) LedgerInfo(ctx context.Context) (*LedgerInfo, error) {
	var out LedgerInfo
	if err := c.doJSON(ctx, "LedgerInfo", http.MethodGet, c.fullnode, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// View runs a view function and returns its raw return values.
func (c *Client) View(ctx context.Context, req ViewRequest) ([]json.RawMessage, error) {
	if req.TypeArguments == nil {
		req.TypeArguments = []string{}
	}
	if req.Arguments == nil {
		req.Arguments = []any{}
	}
	var out []json.RawMessage
	if err := c.doJSON(ctx, "View", http.MethodPost, c.fullnode+"/view", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AccountResource returns the data field of one resource. A missing account
// or resource surfaces as an APIError with status 404.
func (c *Client) AccountResource(ctx context.Context, address, resourceType string) (json.RawMessage, error) {
	u := c.fullnode + "/accounts/" + url.PathEscape(address) + "/resource/" + url.PathEscape(resourceType)
	var out struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := c.doJSON(ctx, "AccountResource", http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Ping reports whether the fullnode index answers 2xx.
func (c *Client) Ping(ctx context.Context) bool {
	return c.probe(ctx, http.MethodGet, c.fullnode, nil)
}

func (c *Client) probe(ctx context.Context, method, u string, body []byte) bool {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) doJSON(ctx context.Context, op, method, u string, in, out any) (err error) {
	ctx, span := otel.Tracer("movement").Start(ctx, "Fullnode."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observe("fullnode", op, err)
		span.End()
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
