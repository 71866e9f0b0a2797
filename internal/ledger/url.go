package ledger

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize standardizes an item URL so equal pages compare equal.
// It lowercases the scheme and host, removes default ports and the fragment,
// sorts query parameters and drops a trailing slash from non-root paths.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}

// MustCanonicalize returns the canonical form of rawURL, or rawURL unchanged
// when it cannot be parsed.
func MustCanonicalize(rawURL string) string {
	c, err := Canonicalize(rawURL)
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	return c
}
