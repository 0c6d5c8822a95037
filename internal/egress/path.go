package egress

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrInvalidPath covers protocol-relative and scheme-prefixed paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrPathTraversal is returned when any segment is "..".
	ErrPathTraversal = errors.New("path must not contain '..'")
	// ErrOriginMismatch is returned when the resolved target leaves the base origin.
	ErrOriginMismatch = errors.New("invalid path origin")
	// ErrInvalidBaseURL is returned when the stored base URL does not parse.
	ErrInvalidBaseURL = errors.New("invalid base url")
)

var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+._-]*:`)

// NormalizePath turns a caller-supplied sub-path into a relative reference.
// An empty or "/" path collapses to "" (the listing root).
func NormalizePath(p string) (string, error) {
	raw := strings.TrimSpace(p)
	if raw == "" || raw == "/" {
		return "", nil
	}
	if strings.HasPrefix(raw, "//") {
		return "", ErrInvalidPath
	}
	if schemePrefix.MatchString(raw) {
		return "", ErrInvalidPath
	}
	stripped := strings.TrimLeft(raw, "/")

	// Only the path part is split; query and fragment never form segments.
	pathPart := stripped
	if i := strings.IndexAny(pathPart, "?#"); i >= 0 {
		pathPart = pathPart[:i]
	}
	for _, seg := range strings.Split(pathPart, "/") {
		if seg == ".." {
			return "", ErrPathTraversal
		}
		if dec, err := url.PathUnescape(seg); err == nil && dec == ".." {
			return "", ErrPathTraversal
		}
	}
	return stripped, nil
}

// ResolveTarget resolves path against baseURL treated as a directory and
// pins the result to the base origin.
func ResolveTarget(baseURL, path string) (*url.URL, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, ErrInvalidBaseURL
	}
	dirRaw := baseURL
	if !strings.HasSuffix(dirRaw, "/") {
		dirRaw += "/"
	}
	dir, err := url.Parse(dirRaw)
	if err != nil {
		return nil, ErrInvalidBaseURL
	}

	rel, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	// "./" keeps a colon in the first segment from reading as a scheme.
	ref, err := url.Parse("./" + rel)
	if err != nil {
		return nil, ErrInvalidPath
	}
	target := dir.ResolveReference(ref)

	if Origin(target) != Origin(base) {
		return nil, ErrOriginMismatch
	}
	return target, nil
}

// Origin returns scheme://host[:port] with default ports elided.
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
