package business

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// Categorizer structures raw page text into prompt-ready categories.
// Implemented by the AI client; kept as an interface so the scraper does not
// depend on it directly.
type Categorizer interface {
	CategorizeSite(ctx context.Context, pages []ScrapedPage) (json.RawMessage, error)
}

// Scraper crawls the business website and stores the snapshot on the profile.
type Scraper struct {
	svc         *Service
	categorizer Categorizer
	logger      *slog.Logger

	fetchTimeout time.Duration
	// fetch is injectable for tests; defaults to readability.FromURL.
	fetch func(pageURL string, timeout time.Duration) (ScrapedPage, error)
}

func NewScraper(svc *Service, categorizer Categorizer, logger *slog.Logger) *Scraper {
	s := &Scraper{
		svc:          svc,
		categorizer:  categorizer,
		logger:       logger,
		fetchTimeout: 30 * time.Second,
	}
	s.fetch = fetchReadable
	return s
}

// crawlPaths are the pages beyond the landing page worth reading.
var crawlPaths = []string{
	"/over-ons", "/about", "/about-us",
	"/diensten", "/services",
	"/contact",
	"/prijzen", "/prices", "/pricing",
}

const (
	maxPageContent = 10000
	minPageContent = 100
)

// Scrape crawls the site, categorizes the text and persists the result on
// the business profile. The categorization step degrades gracefully: a
// failure there still yields a usable snapshot.
func (s *Scraper) Scrape(ctx context.Context, siteURL string) (ScrapedSite, error) {
	if siteURL == "" {
		return ScrapedSite{}, ErrInvalidArgument
	}
	parsed, err := url.Parse(siteURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ScrapedSite{}, ErrInvalidArgument
	}
	base := parsed.Scheme + "://" + parsed.Host

	main, err := s.fetch(siteURL, s.fetchTimeout)
	if err != nil {
		return ScrapedSite{}, err
	}
	pages := []ScrapedPage{main}

	for _, path := range crawlPaths {
		pageURL := base + path
		if pageURL == siteURL {
			continue
		}
		page, err := s.fetch(pageURL, s.fetchTimeout)
		if err != nil {
			// Missing pages are expected; keep crawling.
			continue
		}
		if len(page.Content) >= minPageContent {
			pages = append(pages, page)
		}
	}

	all := joinContent(pages)
	site := ScrapedSite{
		Title:       main.Title,
		Description: truncate(main.Content, 500),
		Services:    extractServices(all),
		About:       extractAbout(all),
		Contact:     extractContact(all),
		Pages:       pages,
		ScrapedAt:   s.svc.clock().UTC(),
	}

	if s.categorizer != nil {
		categorized, err := s.categorizer.CategorizeSite(ctx, pages)
		if err != nil {
			s.logger.Warn("site categorization failed", "url", siteURL, "error", err)
		} else {
			site.Categorized = categorized
		}
	}

	cfg, err := s.svc.GetConfig(ctx)
	if err != nil {
		return ScrapedSite{}, err
	}
	if _, err := saveScrapedSite(ctx, s.svc.db, cfg.ID, site, siteURL, site.ScrapedAt); err != nil {
		return ScrapedSite{}, err
	}
	return site, nil
}

func fetchReadable(pageURL string, timeout time.Duration) (ScrapedPage, error) {
	article, err := readability.FromURL(pageURL, timeout)
	if err != nil {
		return ScrapedPage{}, err
	}
	content := strings.Join(strings.Fields(article.TextContent), " ")
	return ScrapedPage{
		URL:     pageURL,
		Title:   article.Title,
		Content: truncate(content, maxPageContent),
	}, nil
}

func joinContent(pages []ScrapedPage) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Content)
	}
	return strings.Join(parts, "\n")
}

// truncate caps s at n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var serviceKeywords = []string{
	"tuinonderhoud", "tuinaanleg", "snoeien", "grasmaaien",
	"bestrating", "schutting", "hekwerk", "vijver",
	"beplanting", "gazon", "terras", "overkapping",
	"boomverzorging", "onkruidbestrijding", "bladruimen",
}

func extractServices(content string) []string {
	lower := strings.ToLower(content)
	var services []string
	for _, kw := range serviceKeywords {
		if strings.Contains(lower, kw) {
			services = append(services, kw)
		}
	}
	return services
}

var aboutMarkers = []string{"over ons", "about us", "wie zijn wij", "ons bedrijf"}

func extractAbout(content string) string {
	lower := strings.ToLower(content)
	for _, marker := range aboutMarkers {
		if idx := strings.Index(lower, marker); idx != -1 {
			return strings.TrimSpace(truncate(content[idx:], 500))
		}
	}
	return ""
}

var (
	emailRe = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	// Dutch phone numbers: 0..., +31... or 0031... with optional separators.
	phoneRe     = regexp.MustCompile(`(?:0|\+31|0031)[\s.-]?[1-9](?:[\s.-]?\d){8}`)
	phoneStrip  = regexp.MustCompile(`[\s.-]`)
)

func extractContact(content string) ScrapedContact {
	var c ScrapedContact
	if m := emailRe.FindString(content); m != "" {
		c.Email = m
	}
	if m := phoneRe.FindString(content); m != "" {
		c.Phone = phoneStrip.ReplaceAllString(m, "")
	}
	return c
}
