package fetcher

import (
	"context"
	"testing"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

type markedFetcher struct{ name string }

func (m *markedFetcher) Fetch(_ context.Context, _ crawl.FetchRequest) (crawl.FetchResponse, error) {
	return crawl.FetchResponse{URL: m.name}, nil
}

func TestSelectorKind(t *testing.T) {
	t.Parallel()

	s := &Selector{}
	cases := []struct {
		name   string
		source crawl.DiscoveredSource
		want   Kind
	}{
		{"plain html", crawl.DiscoveredSource{URL: "https://venue.com/events"}, KindHTTP},
		{"requires browser", crawl.DiscoveredSource{URL: "https://venue.com/events", RequiresBrowser: true}, KindBrowser},
		{"api path", crawl.DiscoveredSource{URL: "https://venue.com/api/events"}, KindAPI},
		{"json suffix", crawl.DiscoveredSource{URL: "https://venue.com/events.json"}, KindAPI},
		{"api wins over browser", crawl.DiscoveredSource{URL: "https://venue.com/v1/events", RequiresBrowser: true}, KindAPI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Kind(tc.source); got != tc.want {
				t.Fatalf("Kind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSelectorForRouting(t *testing.T) {
	t.Parallel()

	httpF := &markedFetcher{name: "http"}
	browserF := &markedFetcher{name: "browser"}
	s := &Selector{HTTP: httpF, Browser: browserF}

	if got := s.For(crawl.DiscoveredSource{URL: "https://venue.com/events"}); got != crawl.Fetcher(httpF) {
		t.Fatal("expected http fetcher for plain source")
	}
	if got := s.For(crawl.DiscoveredSource{URL: "https://venue.com/x", RequiresBrowser: true}); got != crawl.Fetcher(browserF) {
		t.Fatal("expected browser fetcher for js source")
	}

	api := s.For(crawl.DiscoveredSource{URL: "https://venue.com/api/events"})
	resp, err := api.Fetch(context.Background(), crawl.FetchRequest{URL: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.URL != "http" {
		t.Fatal("api fetcher must delegate to the http fetcher")
	}
}
