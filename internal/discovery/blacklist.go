package discovery

import (
	"net/url"
	"strings"
)

// DomainBlacklist maps domains known to block automation or require paid
// API keys to the reason they are skipped. Blacklisted URLs are never
// fetched and never counted as failures.
type DomainBlacklist struct {
	reasons map[string]string
}

// NewDomainBlacklist builds a blacklist from a domain → reason table.
// Entries match the exact host and any subdomain of it.
func NewDomainBlacklist(reasons map[string]string) *DomainBlacklist {
	normalized := make(map[string]string, len(reasons))
	for domain, reason := range reasons {
		domain = strings.TrimSpace(strings.ToLower(domain))
		if domain == "" {
			continue
		}
		normalized[domain] = reason
	}
	return &DomainBlacklist{reasons: normalized}
}

// DefaultBlacklist returns the static deny-list of search engines that
// time out, block bots, or require API keys.
func DefaultBlacklist() *DomainBlacklist {
	return NewDomainBlacklist(map[string]string{
		"duckduckgo.com":      "consistently times out and blocks automated requests",
		"html.duckduckgo.com": "HTML search endpoint is unreliable",
		"google.com":          "requires API key and has rate limits",
		"bing.com":            "requires API key and has rate limits",
	})
}

// Reason returns the blacklist reason for a URL, or ("", false) when the
// URL's host is not blacklisted.
func (b *DomainBlacklist) Reason(rawURL string) (string, bool) {
	if b == nil {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	for candidate := host; candidate != ""; {
		if reason, ok := b.reasons[candidate]; ok {
			return reason, true
		}
		dot := strings.Index(candidate, ".")
		if dot < 0 {
			break
		}
		candidate = candidate[dot+1:]
	}
	return "", false
}

// Contains reports whether the URL's host is blacklisted.
func (b *DomainBlacklist) Contains(rawURL string) bool {
	_, ok := b.Reason(rawURL)
	return ok
}
