package headless

import (
	"context"
	"errors"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// ErrHeadlessDisabled is returned when a browser render is requested
// but headless fetching is turned off in config.
var ErrHeadlessDisabled = errors.New("headless fetching is disabled")

// Noop implements crawl.Fetcher but always fails, standing in for the
// browser fetcher when headless support is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always returns ErrHeadlessDisabled.
func (Noop) Fetch(_ context.Context, _ crawl.FetchRequest) (crawl.FetchResponse, error) {
	return crawl.FetchResponse{}, ErrHeadlessDisabled
}
