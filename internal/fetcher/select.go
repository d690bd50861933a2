// Package fetcher routes each source to the transport that can
// actually render it: plain HTTP, a JSON API call, or a headless
// browser.
package fetcher

import (
	"context"
	"strings"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// Kind names the transport chosen for a source.
type Kind string

const (
	KindHTTP    Kind = "http"
	KindBrowser Kind = "browser"
	KindAPI     Kind = "api"
)

// Selector picks a fetcher per source. The browser fetcher may be a
// headless.Noop when browser support is disabled.
type Selector struct {
	HTTP    crawl.Fetcher
	Browser crawl.Fetcher
}

// Kind determines how a discovered source should be fetched. API
// endpoints win over browser rendering: a JSON feed needs no DOM.
func (s *Selector) Kind(source crawl.DiscoveredSource) Kind {
	if IsAPIEndpoint(source.URL) {
		return KindAPI
	}
	if source.RequiresBrowser {
		return KindBrowser
	}
	return KindHTTP
}

// For returns the fetcher matching Kind(source).
func (s *Selector) For(source crawl.DiscoveredSource) crawl.Fetcher {
	switch s.Kind(source) {
	case KindBrowser:
		return s.Browser
	case KindAPI:
		return apiFetcher{base: s.HTTP}
	default:
		return s.HTTP
	}
}

// IsAPIEndpoint reports whether a URL looks like a JSON/REST endpoint
// rather than an HTML page.
func IsAPIEndpoint(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, marker := range []string{"/api/", "/v1/", "/v2/", ".json", "format=json", "/feed/", "/rest/"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// apiFetcher is the HTTP fetcher with a JSON accept header forced on.
type apiFetcher struct {
	base crawl.Fetcher
}

func (f apiFetcher) Fetch(ctx context.Context, request crawl.FetchRequest) (crawl.FetchResponse, error) {
	request.AcceptJSON = true
	return f.base.Fetch(ctx, request)
}
