// Package domain defines the persistence models for the marketplace: listings,
// the usage ledger (events and daily aggregates), payment receipts, users and
// shareable portfolio reports. These types are mapped with GORM and shared by
// the repository and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Category is the fixed set of listing categories.
type Category string

const (
	CategoryDefi     Category = "defi"
	CategoryConsumer Category = "consumer"
	CategoryGaming   Category = "gaming"
	CategoryDevex    Category = "devex"
	CategoryX402     Category = "x402"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryDefi, CategoryConsumer, CategoryGaming, CategoryDevex, CategoryX402:
		return true
	}
	return false
}

// Listing is a provider-published endpoint descriptor.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ProviderID: identity subject of the owning provider.
//   - Slug: globally unique, lowercase kebab-case; immutable after creation.
//   - BaseURL: normalized https URL with trailing slashes stripped.
//   - PriceMove: positive price per call in MOVE.
//   - IsActive: only active listings are publicly browsable.
type Listing struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ProviderID string    `json:"provider_id" gorm:"type:varchar(128);not null;index:idx_listings_provider_created,priority:1"`
	Title      string    `json:"title"       gorm:"type:varchar(60);not null"`
	Summary    string    `json:"summary"     gorm:"type:varchar(280);not null"`
	Slug       string    `json:"slug"        gorm:"type:varchar(80);not null;uniqueIndex:ux_listings_slug"`
	Category   Category  `json:"category"    gorm:"type:varchar(16);not null;check:category IN ('defi','consumer','gaming','devex','x402')"`
	BaseURL    string    `json:"base_url"    gorm:"type:text;not null"`
	PriceMove  float64   `json:"price_move"  gorm:"not null;check:price_move > 0"`
	IsActive   bool      `json:"is_active"   gorm:"not null;index:idx_listings_active_created,priority:1"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_listings_active_created,priority:2;index:idx_listings_provider_created,priority:2"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for Listing.
func (Listing) TableName() string { return "listings" }

// UsageEvent is one immutable record of a metered call attempt.
// PriceUSDMicros is the exact fixed-point form of PriceUSD.
type UsageEvent struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	CreatedAt      time.Time `json:"created_at"       gorm:"not null;index:idx_usage_events_route_created,priority:2"`
	Day            string    `json:"day"              gorm:"type:char(10);not null;index:idx_usage_events_day;index:idx_usage_events_route_day,priority:2"`
	Route          string    `json:"route"            gorm:"type:varchar(200);not null;index:idx_usage_events_route_day,priority:1;index:idx_usage_events_route_created,priority:1"`
	Network        string    `json:"network"          gorm:"type:varchar(32);not null"`
	PayTo          string    `json:"pay_to"           gorm:"type:varchar(42);not null"`
	PriceUSD       string    `json:"price_usd"        gorm:"type:varchar(32);not null"`
	PriceUSDMicros int64     `json:"price_usd_micros" gorm:"not null"`
	OK             bool      `json:"ok"               gorm:"not null"`
}

// TableName returns the database table name for UsageEvent.
func (UsageEvent) TableName() string { return "usage_events" }

// UsageDaily is the per-(route, day) rollup. At most one row exists per key.
type UsageDaily struct {
	ID               string `json:"id"                 gorm:"type:char(36);primaryKey"`
	Day              string `json:"day"                gorm:"type:char(10);not null;index:idx_usage_daily_day;uniqueIndex:ux_usage_daily_route_day,priority:2"`
	Route            string `json:"route"              gorm:"type:varchar(200);not null;uniqueIndex:ux_usage_daily_route_day,priority:1"`
	Calls            int64  `json:"calls"              gorm:"not null"`
	OKCalls          int64  `json:"ok_calls"           gorm:"not null"`
	RevenueUSDMicros int64  `json:"revenue_usd_micros" gorm:"not null"`
}

// TableName returns the database table name for UsageDaily.
func (UsageDaily) TableName() string { return "usage_daily" }

// PaymentReceipt records a settled (or undecodable) payment attempt for a
// paid endpoint.
type PaymentReceipt struct {
	ID                    string    `json:"id"                                gorm:"type:char(36);primaryKey"`
	CreatedAt             time.Time `json:"created_at"                        gorm:"not null;index:idx_receipts_payer_created,priority:2"`
	Endpoint              string    `json:"endpoint"                          gorm:"type:varchar(200);not null"`
	Network               string    `json:"network"                           gorm:"type:varchar(32);not null"`
	PayTo                 string    `json:"pay_to"                            gorm:"type:varchar(42);not null"`
	PriceUSD              string    `json:"price_usd"                         gorm:"type:varchar(32);not null"`
	PayerWalletAddress    string    `json:"payer_wallet_address"              gorm:"type:varchar(42);not null;index:idx_receipts_payer_created,priority:1"`
	Payer                 *string   `json:"payer,omitempty"                   gorm:"type:varchar(42)"`
	Transaction           *string   `json:"transaction,omitempty"             gorm:"type:varchar(100)"`
	PaymentResponseHeader *string   `json:"payment_response_header,omitempty" gorm:"type:text"`
	DecodeError           *string   `json:"decode_error,omitempty"            gorm:"type:varchar(1000)"`
}

// TableName returns the database table name for PaymentReceipt.
func (PaymentReceipt) TableName() string { return "payment_receipts" }

// User links an identity subject to an optional Movement wallet address.
type User struct {
	ID              string    `json:"id"                         gorm:"type:char(36);primaryKey"`
	Subject         string    `json:"subject"                    gorm:"type:varchar(128);not null;uniqueIndex:ux_users_subject"`
	MovementAddress *string   `json:"movement_address,omitempty" gorm:"type:varchar(66);index:idx_users_movement_address"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// PortfolioReport is a shareable snapshot of a Movement address.
type PortfolioReport struct {
	ID              string         `json:"id"                gorm:"type:char(36);primaryKey"`
	Slug            string         `json:"slug"              gorm:"type:varchar(128);not null;uniqueIndex:ux_portfolio_reports_slug"`
	Address         string         `json:"address"           gorm:"type:varchar(66);not null;index:idx_portfolio_reports_address_generated,priority:1"`
	MovementChainID int64          `json:"movement_chain_id" gorm:"not null"`
	GeneratedAt     time.Time      `json:"generated_at"      gorm:"not null;index:idx_portfolio_reports_address_generated,priority:2"`
	Data            datatypes.JSON `json:"data"              gorm:"type:text;not null"`
	CreatedAt       time.Time      `json:"created_at"`
}

// TableName returns the database table name for PortfolioReport.
func (PortfolioReport) TableName() string { return "portfolio_reports" }
