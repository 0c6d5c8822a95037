// Package identity verifies the bearer tokens issued by the hosted identity
// provider and yields the caller's subject (a DID such as "did:privy:abc").
//
// Tokens are ES256-signed JWTs. The verifier checks the signature against a
// configured PEM public key, the issuer, the audience (the provider app id)
// and the expiry. Nothing else in the token is interpreted.
package identity

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNotConfigured is returned by Verify when no key or app id was supplied.
	ErrNotConfigured = errors.New("identity verification is not configured")
	// ErrInvalidToken covers every signature, claim or format failure.
	ErrInvalidToken = errors.New("invalid identity token")
)

// Options configures a Verifier.
type Options struct {
	AppID  string
	Issuer string
	// PublicKeyPEM is the provider's ES256 verification key.
	PublicKeyPEM string
	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Verifier is safe for concurrent use.
type Verifier struct {
	key    *ecdsa.PublicKey
	parser *jwt.Parser
}

// NewVerifier parses the verification key. An empty key or app id yields a
// Verifier whose Verify always fails with ErrNotConfigured, so the server can
// still boot and serve the public routes.
func NewVerifier(opts Options) (*Verifier, error) {
	if strings.TrimSpace(opts.PublicKeyPEM) == "" || strings.TrimSpace(opts.AppID) == "" {
		return &Verifier{}, nil
	}
	key, err := jwt.ParseECPublicKeyFromPEM([]byte(opts.PublicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse verification key: %w", err)
	}
	if opts.Issuer == "" {
		opts.Issuer = "privy.io"
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(opts.Issuer),
		jwt.WithAudience(opts.AppID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Now != nil {
		popts = append(popts, jwt.WithTimeFunc(opts.Now))
	}
	return &Verifier{key: key, parser: jwt.NewParser(popts...)}, nil
}

// Configured reports whether tokens can be verified at all.
func (v *Verifier) Configured() bool { return v != nil && v.key != nil }

// Verify checks token and returns its subject.
func (v *Verifier) Verify(_ context.Context, token string) (string, error) {
	if !v.Configured() {
		return "", ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}
