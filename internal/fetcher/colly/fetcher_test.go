package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Trace") != "yes" {
			t.Errorf("expected propagated header, got %+v", r.Header)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>shows</body></html>"))
	}))
	defer server.Close()

	f := New(Config{UserAgent: "musiclive-test", Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawl.FetchRequest{
		URL:     server.URL,
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "<html><body>shows</body></html>" {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
	if resp.Duration <= 0 {
		t.Fatal("expected a positive fetch duration")
	}
	if resp.UsedBrowser {
		t.Fatal("plain http fetch must not report browser use")
	}
}

func TestFetchAcceptJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected json accept header, got %q", r.Header.Get("Accept"))
		}
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	defer server.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL, AcceptJSON: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != `{"events":[]}` {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
}

func TestFetchServerErrorKeepsStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status to survive the error path, got %d", resp.StatusCode)
	}
}

func TestFetchContextCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	f := New(Config{Timeout: 10 * time.Second})
	_, err := f.Fetch(ctx, crawl.FetchRequest{URL: server.URL})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	err := &StatusError{StatusCode: 503, URL: "https://venue.example.com"}
	want := "fetch https://venue.example.com: status 503"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
