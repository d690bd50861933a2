package extractor

// VenueType drives which selector and pattern sets a synthesized
// extractor config carries.
type VenueType string

const (
	VenueTypeConcert    VenueType = "concert"
	VenueTypeBar        VenueType = "bar"
	VenueTypeRestaurant VenueType = "restaurant"
	VenueTypeOutdoor    VenueType = "outdoor"
	VenueTypeGeneric    VenueType = "generic"
)

// Config is the per-source extraction configuration synthesized by the
// factory. Selector slices are ordered fallback chains; pattern slices
// are regular expression sources compiled lazily by the extractor.
type Config struct {
	VenueType          VenueType
	ContainerSelectors []string
	TitleSelectors     []string
	DateSelectors      []string
	PriceSelectors     []string
	VenueSelectors     []string
	DatePatterns       []string
	PricePatterns      []string

	// TZName is the IANA zone local event times are interpreted in.
	TZName string
}

const defaultTZName = "America/New_York"

var (
	baseContainerSelectors = []string{".event", ".show", ".performance", ".gig"}
	baseTitleSelectors     = []string{".title", ".name", ".event-title", "h1", "h2", "h3"}
	baseDateSelectors      = []string{".date", ".time", ".when", ".datetime"}
	basePriceSelectors     = []string{".price", ".cost", ".ticket-price"}
	baseVenueSelectors     = []string{".venue", ".location", ".place"}

	baseDatePatterns = []string{
		`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}`,
		`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\s+\d{1,2}`,
		`\d{1,2}/\d{1,2}/\d{4}`,
		`\d{4}-\d{2}-\d{2}`,
	}
	basePricePatterns = []string{
		`\$\d+(?:\.\d{2})?`,
		`\$\d+(?:\.\d{2})?\s*[-–]\s*\$\d+(?:\.\d{2})?`,
		`(?i)(?:cover|admission|ticket)\s*\$?\d+(?:\.\d{2})?`,
	}
)

// ConfigFor synthesizes an extraction config for the given venue type.
func ConfigFor(venueType VenueType) Config {
	cfg := Config{
		VenueType:          venueType,
		ContainerSelectors: clone(baseContainerSelectors),
		TitleSelectors:     clone(baseTitleSelectors),
		DateSelectors:      clone(baseDateSelectors),
		PriceSelectors:     clone(basePriceSelectors),
		VenueSelectors:     clone(baseVenueSelectors),
		DatePatterns:       clone(baseDatePatterns),
		PricePatterns:      clone(basePricePatterns),
		TZName:             defaultTZName,
	}

	switch venueType {
	case VenueTypeConcert:
		cfg.ContainerSelectors = append(cfg.ContainerSelectors, ".concert", ".concert-item", ".show-item")
		cfg.TitleSelectors = append(cfg.TitleSelectors, ".artist-name", ".performer")
		cfg.DatePatterns = append(cfg.DatePatterns,
			`(?i)\b(?:doors|show starts|performance)\s+\d{1,2}:\d{2}\s*(?:AM|PM)`,
			`(?i)\b(?:doors|show starts|performance)\s+\d{1,2}:\d{2}`,
		)
		cfg.PricePatterns = append(cfg.PricePatterns,
			`(?i)(?:general admission|VIP|premium)\s*\$?\d+(?:\.\d{2})?`,
			`(?i)(?:early bird|advance|day of)\s*\$?\d+(?:\.\d{2})?`,
		)
	case VenueTypeBar:
		cfg.ContainerSelectors = append(cfg.ContainerSelectors, ".live-music", ".entertainment")
		cfg.DateSelectors = append(cfg.DateSelectors, ".live-music-schedule", ".entertainment-schedule")
		cfg.DatePatterns = append(cfg.DatePatterns, barRestaurantDatePatterns...)
		cfg.PricePatterns = append(cfg.PricePatterns, barRestaurantPricePatterns...)
	case VenueTypeRestaurant:
		cfg.ContainerSelectors = append(cfg.ContainerSelectors, ".special-event", ".dinner-show", ".live-entertainment")
		cfg.DateSelectors = append(cfg.DateSelectors, ".event-schedule", ".special-events")
		cfg.DatePatterns = append(cfg.DatePatterns, barRestaurantDatePatterns...)
		cfg.PricePatterns = append(cfg.PricePatterns, barRestaurantPricePatterns...)
	}

	return cfg
}

var (
	barRestaurantDatePatterns = []string{
		`(?i)\b(?:live music|entertainment)\s+(?:tonight|tomorrow|this week)`,
		`(?i)\b(?:live music|entertainment)\s+\d{1,2}:\d{2}\s*(?:PM|evening)`,
	}
	barRestaurantPricePatterns = []string{
		`(?i)(?:no cover|free admission|complimentary)`,
		`(?i)(?:food minimum|drink minimum)\s*\$?\d+(?:\.\d{2})?`,
	}
)

func clone(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
