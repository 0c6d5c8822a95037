package egress

import (
	"errors"
	"net/url"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"", "", nil},
		{"   ", "", nil},
		{"/", "", nil},
		{"accounts/0x1", "accounts/0x1", nil},
		{"/accounts", "accounts", nil},
		{"///accounts", "", ErrInvalidPath},
		{"1:2/x", "1:2/x", nil},
		{" /v2/items?q=1 ", "v2/items?q=1", nil},
		{"//evil.com/x", "", ErrInvalidPath},
		{"http://evil.com", "", ErrInvalidPath},
		{"javascript:alert(1)", "", ErrInvalidPath},
		{"../admin", "", ErrPathTraversal},
		{"a/../../b", "", ErrPathTraversal},
		{"a/%2e%2e/b", "", ErrPathTraversal},
		{"a/..", "", ErrPathTraversal},
		{"a/...", "a/...", nil},
	}
	for _, tc := range cases {
		got, err := NormalizePath(tc.in)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("NormalizePath(%q) err=%v; want %v", tc.in, err, tc.wantErr)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("NormalizePath(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	u, err := ResolveTarget("https://example.com/v1/", "accounts/0x1")
	if err != nil {
		t.Fatalf("ResolveTarget error: %v", err)
	}
	if u.String() != "https://example.com/v1/accounts/0x1" {
		t.Fatalf("got %s", u)
	}

	// base without trailing slash is treated as a directory
	u, err = ResolveTarget("https://example.com/v1", "accounts")
	if err != nil || u.String() != "https://example.com/v1/accounts" {
		t.Fatalf("got %v, %v", u, err)
	}

	// empty path -> listing root
	u, err = ResolveTarget("https://example.com/v1", "")
	if err != nil || u.String() != "https://example.com/v1/" {
		t.Fatalf("root: got %v, %v", u, err)
	}

	if _, err := ResolveTarget("https://example.com/v1/", "../admin"); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("traversal err=%v", err)
	}
	if _, err := ResolveTarget("https://example.com/v1/", "//other.com"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("protocol-relative err=%v", err)
	}
	// a colon in the first segment is a path, not a scheme
	u, err = ResolveTarget("https://example.com/v1/", "1:2/rows")
	if err != nil || u.String() != "https://example.com/v1/1:2/rows" {
		t.Fatalf("colon segment: got %v, %v", u, err)
	}
	u, err = ResolveTarget("https://example.com/v1", "?page=2")
	if err != nil || u.String() != "https://example.com/v1/?page=2" {
		t.Fatalf("query only: got %v, %v", u, err)
	}

	if _, err := ResolveTarget("::not a url", "x"); !errors.Is(err, ErrInvalidBaseURL) {
		t.Fatalf("bad base err=%v", err)
	}
}

func TestOrigin(t *testing.T) {
	cases := map[string]string{
		"https://Example.com/a":     "https://example.com",
		"https://example.com:443/a": "https://example.com",
		"https://example.com:8443/": "https://example.com:8443",
		"http://[::1]:80/":          "http://[::1]",
	}
	for in, want := range cases {
		u, _ := url.Parse(in)
		if got := Origin(u); got != want {
			t.Fatalf("Origin(%s) = %s; want %s", in, got, want)
		}
	}
}
