package movement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const coinType = "0x1::aptos_coin::AptosCoin"

// fakeNode serves a minimal fullnode + indexer under /v1 and /graphql.
type fakeNode struct {
	coinInfoHits atomic.Int32
	viewStatus   int
	viewBody     string
	storeStatus  int
	storeBody    string
	indexer      func(w http.ResponseWriter, body map[string]any)
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/v1" && r.Method == http.MethodGet:
		_, _ = io.WriteString(w, `{"chain_id":250,"ledger_version":"123","ledger_timestamp":"1700000000000000"}`)
	case r.URL.Path == "/v1/view" && r.Method == http.MethodPost:
		var req ViewRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Function != "0x1::coin::balance" || len(req.TypeArguments) != 1 || req.TypeArguments[0] != coinType {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(f.viewStatus)
		_, _ = io.WriteString(w, f.viewBody)
	case r.URL.Path == "/v1/accounts/0x1/resource/0x1::coin::CoinInfo<"+coinType+">":
		f.coinInfoHits.Add(1)
		_, _ = io.WriteString(w, `{"type":"x","data":{"decimals":8,"symbol":"MOVE","name":"Move Coin"}}`)
	case strings.HasPrefix(r.URL.Path, "/v1/accounts/") && strings.HasSuffix(r.URL.Path, "/resource/0x1::coin::CoinStore<"+coinType+">"):
		w.WriteHeader(f.storeStatus)
		_, _ = io.WriteString(w, f.storeBody)
	case r.URL.Path == "/graphql":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.indexer(w, body)
	default:
		http.NotFound(w, r)
	}
}

func newFake(t *testing.T) (*fakeNode, *Client) {
	t.Helper()
	f := &fakeNode{viewStatus: http.StatusOK, viewBody: `["150000000"]`, storeStatus: http.StatusOK}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewClient(Options{FullnodeURL: srv.URL + "/v1/", IndexerURL: srv.URL + "/graphql"})
}

func TestLedgerInfo(t *testing.T) {
	_, c := newFake(t)
	li, err := c.LedgerInfo(context.Background())
	if err != nil {
		t.Fatalf("LedgerInfo: %v", err)
	}
	if li.ChainID == nil || *li.ChainID != 250 || *li.LedgerVersion != "123" {
		t.Fatalf("ledger = %+v", li)
	}
	if !strings.HasSuffix(c.FullnodeURL(), "/v1") {
		t.Fatalf("trailing slash kept: %s", c.FullnodeURL())
	}
}

func TestAccountResource_NotFound(t *testing.T) {
	_, c := newFake(t)
	_, err := c.AccountResource(context.Background(), "0x1", "0x1::missing::Thing")
	if !IsNotFound(err) {
		t.Fatalf("err=%v; want 404", err)
	}
}

func TestBalance_ViewPath(t *testing.T) {
	f, c := newFake(t)
	coins := NewCoins(c, nil)
	b, err := coins.Balance(context.Background(), "0xabc", coinType)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.Symbol != "MOVE" || b.Decimals != 8 || b.Raw.Cmp(big.NewInt(150000000)) != 0 || b.Formatted != "1.5" {
		t.Fatalf("balance = %+v", b)
	}
	if _, err := coins.Balance(context.Background(), "0xabc", coinType); err != nil {
		t.Fatalf("second Balance: %v", err)
	}
	if n := f.coinInfoHits.Load(); n != 1 {
		t.Fatalf("coin info fetched %d times; want 1", n)
	}
}

func TestBalance_FallsBackToCoinStore(t *testing.T) {
	f, c := newFake(t)
	f.viewStatus, f.viewBody = http.StatusBadRequest, `{"message":"view failed"}`
	f.storeBody = `{"type":"x","data":{"coin":{"value":"42"}}}`

	b, err := NewCoins(c, nil).Balance(context.Background(), "0xabc", coinType)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.Raw.Int64() != 42 || b.Formatted != "0.00000042" {
		t.Fatalf("balance = %+v", b)
	}
}

func TestBalance_MissingStoreIsZero(t *testing.T) {
	f, c := newFake(t)
	f.viewStatus, f.viewBody = http.StatusInternalServerError, `oops`
	f.storeStatus, f.storeBody = http.StatusNotFound, `{"error_code":"resource_not_found"}`

	b, err := NewCoins(c, nil).Balance(context.Background(), "0xabc", coinType)
	if err != nil || b.Raw.Sign() != 0 || b.Formatted != "0" {
		t.Fatalf("Balance = %+v, %v", b, err)
	}
}

func TestBalance_StoreFailure(t *testing.T) {
	f, c := newFake(t)
	f.viewStatus, f.viewBody = http.StatusInternalServerError, `oops`
	f.storeStatus, f.storeBody = http.StatusInternalServerError, `down`

	if _, err := NewCoins(c, nil).Balance(context.Background(), "0xabc", coinType); !errors.Is(err, ErrCoinBalance) {
		t.Fatalf("err=%v", err)
	}
}

type badInfoReader struct{}

func (badInfoReader) View(context.Context, ViewRequest) ([]json.RawMessage, error) { return nil, nil }
func (badInfoReader) AccountResource(context.Context, string, string) (json.RawMessage, error) {
	return json.RawMessage(`{"decimals":"eight"}`), nil
}

func TestInfo_UnexpectedMetadata(t *testing.T) {
	if _, err := NewCoins(badInfoReader{}, nil).Info(context.Background(), coinType); !errors.Is(err, ErrCoinMetadata) {
		t.Fatalf("err=%v", err)
	}
}

func TestInfo_UnreachableRedisFallsThrough(t *testing.T) {
	f, c := newFake(t)
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	ci, err := NewCoins(c, rdb).Info(context.Background(), coinType)
	if err != nil || ci.Symbol != "MOVE" {
		t.Fatalf("Info = %+v, %v", ci, err)
	}
	if f.coinInfoHits.Load() != 1 {
		t.Fatalf("fullnode not consulted")
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		raw  string
		dec  int
		want string
	}{
		{"0", 8, "0"},
		{"100000000", 8, "1"},
		{"123456789", 8, "1.23456789"},
		{"5", 0, "5"},
		{"18446744073709551615", 8, "184467440737.09551615"},
	}
	for _, tc := range cases {
		v, _ := new(big.Int).SetString(tc.raw, 10)
		if got := FormatUnits(v, tc.dec); got != tc.want {
			t.Fatalf("FormatUnits(%s, %d) = %s; want %s", tc.raw, tc.dec, got, tc.want)
		}
	}
}

func TestQuery(t *testing.T) {
	f, c := newFake(t)
	f.indexer = func(w http.ResponseWriter, body map[string]any) {
		vars, _ := body["variables"].(map[string]any)
		if vars["owner_address"] != "0xabc" {
			http.Error(w, "bad vars", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"items":[{"amount":"1"}]}}`)
	}
	var out struct {
		Items []struct{ Amount string } `json:"items"`
	}
	if err := c.Query(context.Background(), "query Q { items }", map[string]any{"owner_address": "0xabc"}, &out); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Amount != "1" {
		t.Fatalf("out = %+v", out)
	}
}

func TestQuery_Errors(t *testing.T) {
	cases := []struct {
		name  string
		reply func(w http.ResponseWriter)
		want  string
	}{
		{"http", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
		}, "Movement indexer HTTP 502: upstream down"},
		{"graphql", func(w http.ResponseWriter) {
			_, _ = io.WriteString(w, `{"errors":[{"message":"field not found"},{}]}`)
		}, "field not found; Unknown GraphQL error"},
		{"no data", func(w http.ResponseWriter) {
			_, _ = io.WriteString(w, `{"data":null}`)
		}, "Movement indexer returned no data"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, c := newFake(t)
			f.indexer = func(w http.ResponseWriter, _ map[string]any) { tc.reply(w) }
			err := c.Query(context.Background(), "q", nil, nil)
			if err == nil || err.Error() != tc.want {
				t.Fatalf("err=%v; want %q", err, tc.want)
			}
		})
	}
}

func TestQuery_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(Options{FullnodeURL: srv.URL, IndexerURL: srv.URL, IndexerTimeout: 50 * time.Millisecond})
	start := time.Now()
	if err := c.Query(context.Background(), "q", nil, nil); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not applied")
	}
}

func TestPing(t *testing.T) {
	f, c := newFake(t)
	f.indexer = func(w http.ResponseWriter, body map[string]any) {
		if body["query"] != "query { __typename }" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"__typename":"query_root"}}`)
	}
	if !c.Ping(context.Background()) || !c.PingIndexer(context.Background()) {
		t.Fatalf("pings failed")
	}

	down := NewClient(Options{FullnodeURL: "http://127.0.0.1:1", IndexerURL: "http://127.0.0.1:1"})
	if down.Ping(context.Background()) || down.PingIndexer(context.Background()) {
		t.Fatalf("pings to closed port succeeded")
	}
}
