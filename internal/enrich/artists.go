// Package enrich researches artist metadata for names seen in
// extracted events. Enrichment is best-effort: failures are logged and
// never block event persistence.
package enrich

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// Social platforms probed for artist profiles.
var socialPlatforms = map[string]string{
	"facebook.com":   "facebook",
	"twitter.com":    "twitter",
	"instagram.com":  "instagram",
	"youtube.com":    "youtube",
	"spotify.com":    "spotify",
	"soundcloud.com": "soundcloud",
	"bandcamp.com":   "bandcamp",
	"tiktok.com":     "tiktok",
}

var genreKeywords = map[string][]string{
	"rock":       {"rock", "metal", "punk", "grunge", "indie"},
	"pop":        {"pop", "pop-rock", "dance-pop", "synth-pop"},
	"country":    {"country", "folk", "bluegrass", "americana"},
	"jazz":       {"jazz", "blues", "swing", "bebop"},
	"electronic": {"electronic", "edm", "techno", "house", "dubstep"},
	"hip_hop":    {"hip hop", "rap", "trap", "r&b"},
	"classical":  {"classical", "orchestral", "chamber", "symphony"},
}

// genreOrder keeps keyword scans deterministic.
var genreOrder = []string{"rock", "pop", "country", "jazz", "electronic", "hip_hop", "classical"}

var bioSelectors = []string{
	`meta[name="description"]`,
	".bio", ".about", ".description",
	`[class*="bio"]`, `[class*="about"]`,
}

// Options bounds a research run.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	// SocialProbes disables the per-platform URL probing when false;
	// eight HEAD-style requests per artist add up fast.
	SocialProbes bool
}

// Researcher implements crawl.ArtistEnricher over a Fetcher.
type Researcher struct {
	fetcher crawl.Fetcher
	opts    Options
	logger  *zap.Logger

	cache map[string]crawl.ArtistProfile
}

func NewResearcher(fetcher crawl.Fetcher, opts Options, logger *zap.Logger) *Researcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Researcher{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		cache:   map[string]crawl.ArtistProfile{},
	}
}

// ResearchArtists processes queries in bounded batches with a delay
// between batches. Per-artist failures degrade to low-confidence
// profiles; only context cancellation aborts the run.
func (r *Researcher) ResearchArtists(ctx context.Context, queries []crawl.ArtistQuery) ([]crawl.ArtistProfile, error) {
	var profiles []crawl.ArtistProfile
	for i, query := range queries {
		if i > 0 && i%r.opts.BatchSize == 0 {
			if err := sleepCtx(ctx, r.opts.BatchDelay); err != nil {
				return profiles, err
			}
		}
		if err := ctx.Err(); err != nil {
			return profiles, fmt.Errorf("artist research interrupted: %w", err)
		}
		profiles = append(profiles, r.researchOne(ctx, query))
	}
	return profiles, nil
}

func (r *Researcher) researchOne(ctx context.Context, query crawl.ArtistQuery) crawl.ArtistProfile {
	if cached, ok := r.cache[query.Name]; ok {
		return cached
	}

	profile := crawl.ArtistProfile{Name: query.Name, SocialMedia: map[string]string{}}

	if website, html, ok := r.findOfficialWebsite(ctx, query.Name); ok {
		profile.OfficialWebsite = website
		profile.ConfidenceScore += 0.3
		if bio := extractBio(html); bio != "" {
			profile.Bio = bio
			profile.ConfidenceScore += 0.2
		}
	}

	if r.opts.SocialProbes {
		if social := r.findSocialMedia(ctx, query.Name); len(social) > 0 {
			profile.SocialMedia = social
			profile.ConfidenceScore += 0.2
		}
	}

	if genres := classifyGenres(query, profile); len(genres) > 0 {
		profile.GenreTags = genres
		profile.ConfidenceScore += 0.1
	}

	profile.ConfidenceScore = crawl.ClampScore(profile.ConfidenceScore)
	r.cache[query.Name] = profile

	r.logger.Debug("researched artist",
		zap.String("artist", query.Name),
		zap.Float64("confidence", profile.ConfidenceScore))
	return profile
}

// findOfficialWebsite probes the common artist-name domain patterns
// and returns the first that answers 200.
func (r *Researcher) findOfficialWebsite(ctx context.Context, artistName string) (string, string, bool) {
	slug := strings.ReplaceAll(strings.ToLower(artistName), " ", "")
	candidates := []string{
		"https://www." + slug + ".com",
		"https://" + slug + ".com",
		"https://www." + slug + ".net",
		"https://" + slug + ".net",
	}
	for _, candidate := range candidates {
		resp, err := r.fetcher.Fetch(ctx, crawl.FetchRequest{URL: candidate})
		if err != nil || resp.StatusCode != 200 {
			continue
		}
		return candidate, string(resp.Body), true
	}
	return "", "", false
}

func (r *Researcher) findSocialMedia(ctx context.Context, artistName string) map[string]string {
	slug := strings.ReplaceAll(strings.ToLower(artistName), " ", "")
	dotted := strings.ReplaceAll(strings.ToLower(artistName), " ", ".")

	social := map[string]string{}
	for domain, platform := range socialPlatforms {
		for _, handle := range []string{slug, dotted} {
			profileURL := "https://www." + domain + "/" + handle
			resp, err := r.fetcher.Fetch(ctx, crawl.FetchRequest{URL: profileURL})
			if err == nil && resp.StatusCode == 200 {
				social[platform] = profileURL
				break
			}
		}
	}
	return social
}

func extractBio(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	for _, selector := range bioSelectors {
		el := doc.Find(selector).First()
		if el.Length() == 0 {
			continue
		}
		bio := ""
		if strings.HasPrefix(selector, "meta") {
			bio, _ = el.Attr("content")
		} else {
			bio = strings.TrimSpace(el.Text())
		}
		if len(bio) > 20 {
			if len(bio) > 500 {
				bio = bio[:500]
			}
			return bio
		}
	}
	return ""
}

var venueGenreHints = []struct {
	pattern *regexp.Regexp
	genre   string
}{
	{regexp.MustCompile(`jazz|blues`), "jazz"},
	{regexp.MustCompile(`rock|metal`), "rock"},
	{regexp.MustCompile(`country|folk`), "country"},
}

// classifyGenres combines venue-name hints, keyword scans over the
// artist name and bio, and platform hints, keeping at most three tags.
func classifyGenres(query crawl.ArtistQuery, profile crawl.ArtistProfile) []string {
	const maxGenres = 3
	var genres []string
	seen := map[string]struct{}{}
	add := func(genre string) {
		if _, dup := seen[genre]; dup || len(genres) >= maxGenres {
			return
		}
		seen[genre] = struct{}{}
		genres = append(genres, genre)
	}

	venueLower := strings.ToLower(query.VenueName)
	for _, hint := range venueGenreHints {
		if hint.pattern.MatchString(venueLower) {
			add(hint.genre)
			break
		}
	}

	textLower := strings.ToLower(query.Name + " " + profile.Bio)
	for _, genre := range genreOrder {
		for _, keyword := range genreKeywords[genre] {
			if strings.Contains(textLower, keyword) {
				add(genre)
				break
			}
		}
	}

	if _, ok := profile.SocialMedia["bandcamp"]; ok {
		add("indie")
	}
	return genres
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("batch delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
