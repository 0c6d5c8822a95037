// Package services – ListingService
//
// This file implements ListingService, which owns the listing catalog and
// the try console. Creation normalizes and validates provider input, vets
// the base URL against the shared egress policy and allocates a unique slug.
// TryCall loads an active listing, pins the caller's sub-path to the
// listing's origin, re-checks the host and hands the call to the relay.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/egress"
	"github.com/movemeter/backend/internal/relay"
	"github.com/movemeter/backend/internal/repo"
	"github.com/movemeter/backend/internal/search"
	"github.com/movemeter/backend/internal/utils"
)

const (
	slugAttempts  = 3
	slugMinLen    = 3
	slugMaxLen    = 80
	slugSuffixLen = 9 // "-" + 8 hex chars
)

// ListingRepo defines the repository contract required by ListingService.
type ListingRepo interface {
	// CreateListing inserts l; a taken slug surfaces as repo.ErrDuplicate.
	CreateListing(ctx context.Context, db *gorm.DB, l *domain.Listing) error
	GetListingBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Listing, error)
	ListActiveListings(ctx context.Context, db *gorm.DB, limit int) ([]domain.Listing, error)
	ListListingsByProvider(ctx context.Context, db *gorm.DB, providerID string, limit int) ([]domain.Listing, error)
}

// HostChecker vets a hostname (or IP literal) before anything is fetched from it.
type HostChecker interface {
	CheckHost(ctx context.Context, host string) error
}

// Relayer performs the try-console outbound call.
type Relayer interface {
	Do(ctx context.Context, req relay.Request) (*relay.Result, error)
}

// CreateListingInput is the provider-supplied part of a listing.
type CreateListingInput struct {
	Title     string
	Summary   string
	Category  domain.Category
	BaseURL   string
	PriceMove float64
}

// CreatedListing identifies a freshly created listing.
type CreatedListing struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// TryInput is one try-console invocation.
type TryInput struct {
	Path   string
	Method string
	Body   string
}

// ListingService provides catalog and try-console operations.
type ListingService struct {
	DB    *gorm.DB
	Repo  ListingRepo
	Hosts HostChecker
	Relay Relayer

	// Suffix returns the disambiguator appended on a slug collision.
	Suffix func() string
}

// NewListingService constructs a ListingService with a UUID-derived slug suffix.
func NewListingService(db *gorm.DB, r ListingRepo, hosts HostChecker, rl Relayer) *ListingService {
	return &ListingService{
		DB:     db,
		Repo:   r,
		Hosts:  hosts,
		Relay:  rl,
		Suffix: func() string { return uuid.NewString()[:8] },
	}
}

// Create validates in, allocates a slug and stores an active listing owned by providerID.
//
// Slug allocation tries the bare slug first, then up to two random suffixes.
// Only a typed uniqueness conflict triggers another attempt.
func (s *ListingService) Create(ctx context.Context, providerID string, in CreateListingInput) (*CreatedListing, error) {
	ctx, span := otel.Tracer("services/ListingService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", providerID)),
	)
	defer span.End()

	title := normalizeText(in.Title)
	summary := normalizeText(in.Summary)
	if err := checkLength("title", title, 3, 60); err != nil {
		return nil, err
	}
	if err := checkLength("summary", summary, 20, 280); err != nil {
		return nil, err
	}
	if !in.Category.Valid() {
		return nil, invalid("category must be one of defi, consumer, gaming, devex, x402")
	}
	if math.IsNaN(in.PriceMove) || math.IsInf(in.PriceMove, 0) || in.PriceMove <= 0 {
		return nil, invalid("priceMove must be a positive number")
	}
	baseURL, err := s.checkBaseURL(ctx, in.BaseURL)
	if err != nil {
		return nil, err
	}

	base := baseSlug(title)
	if base == "" {
		return nil, invalid("invalid title")
	}

	for attempt := 0; attempt < slugAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = base + "-" + s.Suffix()
		}
		if err := checkSlug(candidate); err != nil {
			return nil, err
		}

		l := &domain.Listing{
			ProviderID: providerID,
			Title:      title,
			Summary:    summary,
			Slug:       candidate,
			Category:   in.Category,
			BaseURL:    baseURL,
			PriceMove:  in.PriceMove,
			IsActive:   true,
		}
		err := s.Repo.CreateListing(ctx, s.DB, l)
		if errors.Is(err, repo.ErrDuplicate) {
			span.AddEvent("slug_conflict", trace.WithAttributes(attribute.String("slug", candidate)))
			continue
		}
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("listing.slug", candidate))
		return &CreatedListing{ID: l.ID, Slug: l.Slug}, nil
	}
	return nil, ErrSlugExhausted
}

// TryCall performs one bounded outbound call against the listing's base URL.
func (s *ListingService) TryCall(ctx context.Context, slugArg string, in TryInput) (*relay.Result, error) {
	ctx, span := otel.Tracer("services/ListingService").Start(ctx, "TryCall",
		trace.WithAttributes(attribute.String("listing.slug", slugArg)),
	)
	defer span.End()

	l, err := s.GetBySlug(ctx, slugArg)
	if err != nil {
		return nil, err
	}
	if !l.IsActive {
		return nil, ErrListingInactive
	}

	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if method == "" {
		method = "GET"
	}
	if method != "GET" && method != "POST" {
		return nil, relay.ErrMethodNotAllowed
	}

	target, err := egress.ResolveTarget(l.BaseURL, in.Path)
	if err != nil {
		return nil, err
	}
	if err := s.Hosts.CheckHost(ctx, target.Hostname()); err != nil {
		return nil, err
	}

	req := relay.Request{Method: method, URL: target}
	if method == "POST" {
		req.Body = in.Body
	}
	return s.Relay.Do(ctx, req)
}

// GetBySlug returns the listing with slug (trimmed, lowercased) or ErrListingNotFound.
func (s *ListingService) GetBySlug(ctx context.Context, slugArg string) (*domain.Listing, error) {
	l, err := s.Repo.GetListingBySlug(ctx, s.DB, strings.ToLower(normalizeText(slugArg)))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// PublicList returns active listings newest first. When query is non-blank
// the page is re-ranked by token overlap and non-matching listings dropped.
func (s *ListingService) PublicList(ctx context.Context, limit int, query string) ([]domain.Listing, error) {
	ctx, span := otel.Tracer("services/ListingService").Start(ctx, "PublicList",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	items, err := s.Repo.ListActiveListings(ctx, s.DB, utils.Limit(limit, 50, 100))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return items, nil
	}
	return rank(items, query), nil
}

// ListByProvider returns every listing of providerID (active or not), newest first.
func (s *ListingService) ListByProvider(ctx context.Context, providerID string, limit int) ([]domain.Listing, error) {
	return s.Repo.ListListingsByProvider(ctx, s.DB, providerID, utils.Limit(limit, 50, 100))
}

// checkBaseURL validates raw and returns it normalized with trailing slashes stripped.
func (s *ListingService) checkBaseURL(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || u.Opaque != "" {
		return "", invalid("baseUrl must be a valid URL")
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return "", invalid("baseUrl must start with https://")
	}
	if u.User != nil {
		return "", invalid("baseUrl must not include credentials")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return "", invalid("baseUrl must not include a hash fragment")
	}
	if err := s.Hosts.CheckHost(ctx, u.Hostname()); err != nil {
		return "", fmt.Errorf("baseUrl must resolve to a public host: %w", err)
	}
	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	return strings.TrimRight(u.String(), "/"), nil
}

// baseSlug derives the kebab-case slug for title, leaving room for a suffix.
func baseSlug(title string) string {
	b := slug.Make(strings.ReplaceAll(title, "_", " "))
	if room := slugMaxLen - slugSuffixLen; len(b) > room {
		b = strings.TrimRight(b[:room], "-")
	}
	return b
}

func checkSlug(s string) error {
	if !kebabRE.MatchString(s) {
		return invalid("slug must be lowercase kebab-case")
	}
	if len(s) < slugMinLen || len(s) > slugMaxLen {
		return invalid("slug must be between %d and %d characters", slugMinLen, slugMaxLen)
	}
	return nil
}

// rank orders items by similarity to query using a throwaway index.
func rank(items []domain.Listing, query string) []domain.Listing {
	docs := make([]search.Document, len(items))
	byID := make(map[string]domain.Listing, len(items))
	for i, l := range items {
		docs[i] = search.Document{ID: l.ID, Title: l.Title, Summary: l.Summary, Category: string(l.Category)}
		byID[l.ID] = l
	}
	hits := search.NewIndex(docs, search.WithStopwords(search.DefaultStopwords)).TopK(query, len(items))
	out := make([]domain.Listing, 0, len(hits))
	for _, h := range hits {
		out = append(out, byID[h.ID])
	}
	return out
}
