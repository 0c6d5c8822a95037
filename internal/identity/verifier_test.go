package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const appID = "app-123"

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, priv *ecdsa.PrivateKey, c jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodES256, c).SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims(now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    "privy.io",
		Audience:  jwt.ClaimStrings{appID},
		Subject:   "did:privy:abc",
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestVerify_OK(t *testing.T) {
	priv, pub := newKey(t)
	v, err := NewVerifier(Options{AppID: appID, PublicKeyPEM: pub})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	sub, err := v.Verify(context.Background(), sign(t, priv, validClaims(time.Now())))
	if err != nil || sub != "did:privy:abc" {
		t.Fatalf("Verify = %q, %v", sub, err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	priv, pub := newKey(t)
	other, _ := newKey(t)
	now := time.Now()
	v, _ := NewVerifier(Options{AppID: appID, PublicKeyPEM: pub})

	cases := map[string]string{
		"expired": sign(t, priv, func() jwt.RegisteredClaims {
			c := validClaims(now)
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
			return c
		}()),
		"no exp": sign(t, priv, func() jwt.RegisteredClaims {
			c := validClaims(now)
			c.ExpiresAt = nil
			return c
		}()),
		"issuer": sign(t, priv, func() jwt.RegisteredClaims {
			c := validClaims(now)
			c.Issuer = "evil.example"
			return c
		}()),
		"audience": sign(t, priv, func() jwt.RegisteredClaims {
			c := validClaims(now)
			c.Audience = jwt.ClaimStrings{"another-app"}
			return c
		}()),
		"subject": sign(t, priv, func() jwt.RegisteredClaims {
			c := validClaims(now)
			c.Subject = ""
			return c
		}()),
		"wrong key": sign(t, other, validClaims(now)),
		"garbage":   "not.a.jwt",
		"empty":     "  ",
	}
	for name, tok := range cases {
		if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: err=%v; want ErrInvalidToken", name, err)
		}
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	_, pub := newKey(t)
	v, _ := NewVerifier(Options{AppID: appID, PublicKeyPEM: pub})

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa: %v", err)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims(time.Now())).SignedString(rsaKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v", err)
	}
}

func TestVerify_InjectedClock(t *testing.T) {
	priv, pub := newKey(t)
	issued := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)
	tok := sign(t, priv, validClaims(issued))

	v, _ := NewVerifier(Options{AppID: appID, PublicKeyPEM: pub, Now: func() time.Time { return issued.Add(30 * time.Minute) }})
	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("within validity: %v", err)
	}
	v, _ = NewVerifier(Options{AppID: appID, PublicKeyPEM: pub, Now: func() time.Time { return issued.Add(2 * time.Hour) }})
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("after expiry err=%v", err)
	}
}

func TestNewVerifier_Unconfigured(t *testing.T) {
	v, err := NewVerifier(Options{})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.Configured() {
		t.Fatalf("expected unconfigured verifier")
	}
	if _, err := v.Verify(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v", err)
	}
}

func TestNewVerifier_BadPEM(t *testing.T) {
	if _, err := NewVerifier(Options{AppID: appID, PublicKeyPEM: "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
