// Package x402 gates first-party premium routes behind HTTP 402 payments.
//
// A request without an X-PAYMENT header is answered 402 with the payment
// requirements. A request carrying one is verified by the facilitator, the
// route runs with its response held back, and the payment is settled before
// the response (with an X-PAYMENT-RESPONSE header) is released. Signature
// checks and on-chain settlement are entirely the facilitator's job.
package x402

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/movemeter/backend/internal/config"
)

// DefaultPriceUSD applies when X402_PRICE_USD is unset.
const DefaultPriceUSD = "$0.05"

type modeDefaults struct {
	facilitator string
	network     string
}

var byMode = map[string]modeDefaults{
	"testnet": {facilitator: "https://x402.org/facilitator", network: "eip155:84532"},
	"mainnet": {facilitator: "https://api.cdp.coinbase.com/platform/v2/x402", network: "eip155:8453"},
}

// USDC contracts for the default networks.
var usdcByNetwork = map[string]string{
	"eip155:84532": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	"eip155:8453":  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
}

var (
	networkRE = regexp.MustCompile(`^eip155:\d+$`)
	addressRE = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	priceRE   = regexp.MustCompile(`^\$\d+(?:\.\d{1,6})?$`)
)

// Terms are the validated payment terms shared by every paid route.
type Terms struct {
	Mode           string
	FacilitatorURL string
	Network        string
	PayTo          string
	PriceUSD       string
	Asset          string
	// Amount is PriceUSD in USDC base units (6 decimals).
	Amount string
}

// NewTerms validates raw configuration. An unknown mode falls back to testnet.
func NewTerms(c config.X402Config) (Terms, error) {
	mode := strings.ToLower(strings.TrimSpace(c.Mode))
	d, ok := byMode[mode]
	if !ok {
		mode, d = "testnet", byMode["testnet"]
	}
	t := Terms{
		Mode:           mode,
		FacilitatorURL: firstNonEmpty(c.FacilitatorURL, d.facilitator),
		Network:        firstNonEmpty(c.Network, d.network),
		PayTo:          strings.TrimSpace(c.PayTo),
		PriceUSD:       firstNonEmpty(c.PriceUSD, DefaultPriceUSD),
	}
	t.Asset = firstNonEmpty(c.Asset, usdcByNetwork[t.Network])

	var issues []string
	if u, err := url.Parse(t.FacilitatorURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		issues = append(issues, "X402_FACILITATOR_URL: must be a valid URL")
	}
	if !networkRE.MatchString(t.Network) {
		issues = append(issues, "X402_NETWORK: must match eip155:<chain id>")
	}
	if !addressRE.MatchString(t.PayTo) {
		issues = append(issues, "X402_PAY_TO_ADDRESS: must be a 0x-prefixed 20-byte hex address")
	}
	if !priceRE.MatchString(t.PriceUSD) {
		issues = append(issues, "X402_PRICE_USD: must look like $0.05 (up to 6 decimals)")
	}
	if !addressRE.MatchString(t.Asset) {
		issues = append(issues, "X402_ASSET: required for network "+t.Network)
	}
	if len(issues) > 0 {
		return t, errors.New("Invalid x402 env:\n" + strings.Join(issues, "\n"))
	}
	t.Amount = usdcAmount(t.PriceUSD)
	return t, nil
}

// usdcAmount converts a price that already matched priceRE.
func usdcAmount(price string) string {
	whole, frac, _ := strings.Cut(strings.TrimPrefix(price, "$"), ".")
	frac = (frac + "000000")[:6]
	s := strings.TrimLeft(whole+frac, "0")
	if s == "" {
		return "0"
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (t Terms) String() string {
	return fmt.Sprintf("%s %s -> %s on %s", t.Mode, t.PriceUSD, t.PayTo, t.Network)
}
