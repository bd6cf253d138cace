// Package scope keeps a walk on the site it was started for.
package scope

import (
	"net/url"
	"strings"
)

// Guard checks crawl steps against a configured domain.
type Guard struct {
	domain string
	strict bool
}

// NewGuard creates a guard for domain. A non-strict guard allows every
// http(s) URL.
func NewGuard(domain string, strict bool) *Guard {
	return &Guard{
		domain: NormalizeHost(domain),
		strict: strict,
	}
}

// Domain returns the normalized configured domain.
func (g *Guard) Domain() string {
	return g.domain
}

// Allows reports whether rawURL may be fetched.
func (g *Guard) Allows(rawURL string) bool {
	if !g.strict {
		parsed, err := url.Parse(rawURL)
		return err == nil && parsed.Hostname() != ""
	}
	return HostMatches(rawURL, g.domain)
}

// HostMatches compares the hostname of rawURL with domain after both are
// normalized. Subdomains do not match.
func HostMatches(rawURL, domain string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := NormalizeHost(parsed.Hostname())
	if host == "" {
		return false
	}
	return host == NormalizeHost(domain)
}

// NormalizeHost lower-cases host and strips every leading "www." label, so
// normalizing twice gives the same host.
func NormalizeHost(host string) string {
	return stripWWW(strings.ToLower(strings.TrimSpace(host)))
}

func stripWWW(host string) string {
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}

// NormalizeDomain turns user input such as "https://www.Example.com/blog"
// into a bare host ("example.com").
func NormalizeDomain(input string) string {
	d := strings.ToLower(strings.TrimSpace(input))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return stripWWW(d)
}

// ResolveNext resolves a pagination value against the page it was found on.
// It returns false when the value is blank or either side fails to parse.
// The fragment is dropped since it never changes the fetched document.
func ResolveNext(baseURL, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", false
	}

	ref, err := url.Parse(value)
	if err != nil {
		return "", false
	}

	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), true
}

// VisitKey returns the form of rawURL used for loop detection.
func VisitKey(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}

// IsFetchable reports whether rawURL is an absolute http(s) URL.
func IsFetchable(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}
