package movement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrCoinMetadata = errors.New("Unexpected Movement coin metadata response")
	ErrCoinBalance  = errors.New("Failed to fetch Movement coin balance")

	digitsRE = regexp.MustCompile(`^\d+$`)
)

// coinInfoKeyPrefix namespaces the redis copy of coin metadata.
const coinInfoKeyPrefix = "movemeter:coin-info:"

// CoinInfo is the on-chain metadata of a coin type. It never changes once
// published, so it is cached for the life of the process.
type CoinInfo struct {
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
}

// Balance is an account's holding of one coin type.
type Balance struct {
	Symbol    string
	Decimals  int
	Raw       *big.Int
	Formatted string
}

// Reader is the subset of Client the coin helpers need.
type Reader interface {
	View(ctx context.Context, req ViewRequest) ([]json.RawMessage, error)
	AccountResource(ctx context.Context, address, resourceType string) (json.RawMessage, error)
}

// Coins resolves coin metadata and balances. Metadata is memoized in memory
// and, when a redis client is set, shared through redis.
type Coins struct {
	reader Reader
	redis  *redis.Client

	mu    sync.RWMutex
	cache map[string]CoinInfo
}

// NewCoins returns a Coins backed by r. rdb may be nil.
func NewCoins(r Reader, rdb *redis.Client) *Coins {
	return &Coins{reader: r, redis: rdb, cache: map[string]CoinInfo{}}
}

// Info returns the metadata of coinType.
func (c *Coins) Info(ctx context.Context, coinType string) (CoinInfo, error) {
	c.mu.RLock()
	ci, ok := c.cache[coinType]
	c.mu.RUnlock()
	if ok {
		coinInfoLookups.WithLabelValues("memory").Inc()
		return ci, nil
	}

	if ci, ok := c.fromRedis(ctx, coinType); ok {
		c.remember(coinType, ci)
		coinInfoLookups.WithLabelValues("redis").Inc()
		return ci, nil
	}

	raw, err := c.reader.AccountResource(ctx, "0x1", "0x1::coin::CoinInfo<"+coinType+">")
	if err != nil {
		return CoinInfo{}, err
	}
	var parsed struct {
		Decimals *int   `json:"decimals"`
		Symbol   string `json:"symbol"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Decimals == nil || *parsed.Decimals < 0 || parsed.Symbol == "" {
		return CoinInfo{}, ErrCoinMetadata
	}
	ci = CoinInfo{Decimals: *parsed.Decimals, Symbol: parsed.Symbol}
	coinInfoLookups.WithLabelValues("fullnode").Inc()

	c.remember(coinType, ci)
	c.toRedis(ctx, coinType, ci)
	return ci, nil
}

// Balance returns address's holding of coinType. The coin::balance view is
// tried first; when it fails the CoinStore resource is read, and a missing
// store counts as zero.
func (c *Coins) Balance(ctx context.Context, address, coinType string) (*Balance, error) {
	info, err := c.Info(ctx, coinType)
	if err != nil {
		return nil, err
	}

	raw, err := c.viewBalance(ctx, address, coinType)
	if err != nil {
		raw, err = c.storeBalance(ctx, address, coinType)
		if err != nil {
			return nil, err
		}
	}
	return &Balance{
		Symbol:    info.Symbol,
		Decimals:  info.Decimals,
		Raw:       raw,
		Formatted: FormatUnits(raw, info.Decimals),
	}, nil
}

func (c *Coins) viewBalance(ctx context.Context, address, coinType string) (*big.Int, error) {
	vals, err := c.reader.View(ctx, ViewRequest{
		Function:      "0x1::coin::balance",
		TypeArguments: []string{coinType},
		Arguments:     []any{address},
	})
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, errors.New("empty view result")
	}
	var s string
	if err := json.Unmarshal(vals[0], &s); err != nil {
		// Some nodes return u64 as a bare number.
		s = string(vals[0])
	}
	return parseUint(s)
}

func (c *Coins) storeBalance(ctx context.Context, address, coinType string) (*big.Int, error) {
	raw, err := c.reader.AccountResource(ctx, address, "0x1::coin::CoinStore<"+coinType+">")
	if err != nil {
		if IsNotFound(err) {
			return new(big.Int), nil
		}
		return nil, ErrCoinBalance
	}
	var store struct {
		Coin struct {
			Value string `json:"value"`
		} `json:"coin"`
	}
	if err := json.Unmarshal(raw, &store); err != nil {
		return nil, ErrCoinBalance
	}
	v, err := parseUint(store.Coin.Value)
	if err != nil {
		return nil, ErrCoinBalance
	}
	return v, nil
}

func (c *Coins) remember(coinType string, ci CoinInfo) {
	c.mu.Lock()
	if _, ok := c.cache[coinType]; !ok {
		c.cache[coinType] = ci
	}
	c.mu.Unlock()
}

func (c *Coins) fromRedis(ctx context.Context, coinType string) (CoinInfo, bool) {
	if c.redis == nil {
		return CoinInfo{}, false
	}
	s, err := c.redis.Get(ctx, coinInfoKeyPrefix+coinType).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("coin_type", coinType).Msg("coin info cache read failed")
		}
		return CoinInfo{}, false
	}
	var ci CoinInfo
	if err := json.Unmarshal([]byte(s), &ci); err != nil || ci.Symbol == "" {
		return CoinInfo{}, false
	}
	return ci, true
}

func (c *Coins) toRedis(ctx context.Context, coinType string, ci CoinInfo) {
	if c.redis == nil {
		return
	}
	b, _ := json.Marshal(ci)
	if err := c.redis.Set(ctx, coinInfoKeyPrefix+coinType, b, 30*24*time.Hour).Err(); err != nil {
		log.Warn().Err(err).Str("coin_type", coinType).Msg("coin info cache write failed")
	}
}

func parseUint(s string) (*big.Int, error) {
	if !digitsRE.MatchString(s) {
		return nil, fmt.Errorf("not an unsigned integer: %q", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not an unsigned integer: %q", s)
	}
	return v, nil
}

// FormatUnits renders raw base units with the given decimals, trimming
// trailing fractional zeros ("150000000", 8 -> "1.5").
func FormatUnits(raw *big.Int, decimals int) string {
	return decimal.NewFromBigInt(raw, -int32(decimals)).String()
}
