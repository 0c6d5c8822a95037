// Package services defines the business logic for listings, the try console,
// the usage ledger, payment receipts, users and portfolio reports.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Validation failures are *ValidationError values carrying a human-readable
// detail ("title must be between 3 and 60 characters"); they match
// ErrInvalidInput so handlers can branch on the sentinel and surface the
// message as is. Translation into HTTP status codes is performed at the
// handler layer.
package services

import "errors"

// Validation.
var (
	// ErrInvalidInput wraps every malformed-input failure.
	ErrInvalidInput = errors.New("invalid input")
)

// Listing-related errors.
var (
	// ErrListingNotFound indicates that no listing has the requested slug.
	ErrListingNotFound = errors.New("listing not found")

	// ErrListingInactive is returned when the listing exists but is not
	// publicly callable.
	ErrListingInactive = errors.New("listing is inactive")

	// ErrSlugExhausted is returned when every slug allocation attempt
	// collided with an existing listing.
	ErrSlugExhausted = errors.New("unable to allocate a unique slug")
)

// Report-related errors.
var (
	// ErrReportNotFound indicates that no portfolio report has the slug.
	ErrReportNotFound = errors.New("report not found")

	// ErrReportSlugTaken is returned when a report slug is already stored.
	ErrReportSlugTaken = errors.New("slug already exists")
)

// ErrUserNotFound indicates that the identity subject has never been synced.
var ErrUserNotFound = errors.New("user not found")
