package movement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoData is returned when the indexer answers without errors or data.
var ErrNoData = errors.New("Movement indexer returned no data")

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query posts a GraphQL query to the indexer and decodes data into out.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any, out any) (err error) {
	ctx, span := otel.Tracer("movement").Start(ctx, "Indexer.Query", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observe("indexer", "query", err)
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.indexerTimeout)
	defer cancel()

	b, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.indexer, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("Movement indexer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("Movement indexer HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var gr graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("decode indexer response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			m := e.Message
			if m == "" {
				m = "Unknown GraphQL error"
			}
			msgs = append(msgs, m)
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	if len(gr.Data) == 0 || bytes.Equal(gr.Data, []byte("null")) {
		return ErrNoData
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decode indexer data: %w", err)
	}
	return nil
}

// PingIndexer reports whether the indexer answers a trivial query with 2xx.
func (c *Client) PingIndexer(ctx context.Context) bool {
	return c.probe(ctx, http.MethodPost, c.indexer, []byte(`{"query":"query { __typename }"}`))
}

// IndexerURL returns the configured indexer endpoint.
func (c *Client) IndexerURL() string { return c.indexer }
