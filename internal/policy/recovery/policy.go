// Package recovery maps observed crawl failures to recovery actions and
// tracks per-source failure counters that drive blacklisting.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// Action is what the caller should do with the failed source.
type Action string

// Recovery actions returned by Handle.
const (
	ActionRetry     Action = "retry"
	ActionSkip      Action = "skip"
	ActionBlacklist Action = "blacklist"
)

// Decision is the recovery verdict for one ErrorRecord.
type Decision struct {
	Action       Action
	Delay        time.Duration
	RetryAllowed bool
	Message      string
}

// Thresholds for blacklisting a source.
const (
	perKindBlacklistThreshold = 5
	totalBlacklistThreshold   = 10
)

// Policy owns the mutable failure counters for one crawl process. It is
// not safe for concurrent use; the orchestrator is its single writer.
type Policy struct {
	kindCounts  map[string]int
	totalCounts map[string]int
	blacklisted map[string]struct{}
}

// NewPolicy creates a Policy with fresh counters.
func NewPolicy() *Policy {
	return &Policy{
		kindCounts:  make(map[string]int),
		totalCounts: make(map[string]int),
		blacklisted: make(map[string]struct{}),
	}
}

// Handle records the error and returns the recovery decision. Once a
// source crosses a blacklist threshold every subsequent call for that
// source returns ActionBlacklist regardless of error kind.
func (p *Policy) Handle(rec crawl.ErrorRecord) Decision {
	key := rec.SourceURL + ":" + string(rec.Kind)
	p.kindCounts[key]++
	p.totalCounts[rec.SourceURL]++

	if _, done := p.blacklisted[rec.SourceURL]; done ||
		p.kindCounts[key] >= perKindBlacklistThreshold ||
		p.totalCounts[rec.SourceURL] >= totalBlacklistThreshold {
		p.blacklisted[rec.SourceURL] = struct{}{}
		return Decision{
			Action:  ActionBlacklist,
			Message: fmt.Sprintf("source blacklisted after repeated %s errors", rec.Kind),
		}
	}

	switch rec.Kind {
	case crawl.ErrRateLimited:
		return Decision{
			Action:       ActionRetry,
			Delay:        backoff(60*time.Second, rec.RetryCount, time.Hour),
			RetryAllowed: true,
			Message:      "rate limited, backing off",
		}
	case crawl.ErrForbidden:
		if rec.RetryCount >= 2 {
			return Decision{Action: ActionSkip, Message: "access forbidden, skipping source"}
		}
		return Decision{
			Action:       ActionRetry,
			Delay:        30 * time.Second,
			RetryAllowed: true,
			Message:      "access forbidden, retrying with delay",
		}
	case crawl.ErrServer:
		if rec.RetryCount >= 3 {
			return Decision{Action: ActionSkip, Message: "server errors persist, skipping source"}
		}
		return Decision{
			Action:       ActionRetry,
			Delay:        backoff(30*time.Second, rec.RetryCount, 5*time.Minute),
			RetryAllowed: true,
			Message:      "server error, retrying",
		}
	case crawl.ErrTimeout:
		if rec.RetryCount >= 2 {
			return Decision{Action: ActionSkip, Message: "timeouts persist, skipping source"}
		}
		return Decision{
			Action:       ActionRetry,
			Delay:        backoff(10*time.Second, rec.RetryCount, time.Minute),
			RetryAllowed: true,
			Message:      "timeout, retrying",
		}
	case crawl.ErrConnection:
		if rec.RetryCount >= 3 {
			return Decision{Action: ActionSkip, Message: "connection errors persist, skipping source"}
		}
		return Decision{
			Action:       ActionRetry,
			Delay:        backoff(15*time.Second, rec.RetryCount, 2*time.Minute),
			RetryAllowed: true,
			Message:      "connection error, retrying",
		}
	case crawl.ErrParsing, crawl.ErrExtraction:
		// Malformed markup will not change on retry.
		return Decision{Action: ActionSkip, Message: "unrecoverable content error, skipping source"}
	default:
		return Decision{
			Action:  ActionSkip,
			Delay:   10 * time.Second,
			Message: fmt.Sprintf("unknown error kind %q, skipping source", rec.Kind),
		}
	}
}

// IsBlacklisted reports whether the source has been blacklisted.
func (p *Policy) IsBlacklisted(sourceURL string) bool {
	_, ok := p.blacklisted[sourceURL]
	return ok
}

// SeedBlacklist marks sources as blacklisted before any errors occur,
// used when blacklist state persists across sessions.
func (p *Policy) SeedBlacklist(urls []string) {
	for _, u := range urls {
		if u != "" {
			p.blacklisted[u] = struct{}{}
		}
	}
}

// Blacklisted returns the blacklisted source URLs in sorted order.
func (p *Policy) Blacklisted() []string {
	urls := make([]string, 0, len(p.blacklisted))
	for u := range p.blacklisted {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Reset clears all counters and blacklist state for one source.
func (p *Policy) Reset(sourceURL string) {
	for key := range p.kindCounts {
		if len(key) > len(sourceURL) && key[:len(sourceURL)+1] == sourceURL+":" {
			delete(p.kindCounts, key)
		}
	}
	delete(p.totalCounts, sourceURL)
	delete(p.blacklisted, sourceURL)
}

// Summary reports aggregate error state for logging.
type Summary struct {
	TotalErrors        int
	BlacklistedSources int
}

// Summarize returns the current aggregate error state.
func (p *Policy) Summarize() Summary {
	total := 0
	for _, n := range p.totalCounts {
		total += n
	}
	return Summary{TotalErrors: total, BlacklistedSources: len(p.blacklisted)}
}

func backoff(base time.Duration, retryCount int, cap time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

// Classify maps a fetch failure to the error taxonomy. The status code
// wins when the response carried one; otherwise the error chain decides.
func Classify(statusCode int, err error) crawl.ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return crawl.ErrRateLimited
	case statusCode == http.StatusForbidden:
		return crawl.ErrForbidden
	case statusCode >= 500:
		return crawl.ErrServer
	}
	if err == nil {
		return crawl.ErrUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawl.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return crawl.ErrTimeout
		}
		return crawl.ErrConnection
	}
	return crawl.ErrUnknown
}
