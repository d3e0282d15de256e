package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
)

// Selector option keys of a listing site; unset keys fall back to listingDefaults.
const (
	optItem       = "item"
	optTitle      = "title"
	optLink       = "link"
	optSummary    = "summary"
	optDate       = "date"
	optDateAttr   = "dateAttr"
	optDateLayout = "dateLayout"
	optTier       = "tier"
)

var listingDefaults = map[string]string{
	optItem:       "article",
	optTitle:      "h2, h3",
	optLink:       "a[href]",
	optSummary:    "p",
	optDate:       "time",
	optDateAttr:   "datetime",
	optDateLayout: time.RFC3339,
	optTier:       "",
}

// ListingScanner crawls HTML section pages and extracts one candidate per item element.
type ListingScanner struct {
	client *http.Client
	now    func() time.Time
}

// NewListingScanner wires an HTTP client; nil uses a client with a 20s timeout.
func NewListingScanner(client *http.Client) *ListingScanner {
	return &ListingScanner{client: defaultClient(client), now: time.Now}
}

// Name identifies the strategy inside the registry.
func (l *ListingScanner) Name() string {
	return "listing"
}

// Scan walks through each category page and returns the items published since req.Since.
func (l *ListingScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no categories provided for site %s", req.SiteName)
	}

	results := make([]domain.Candidate, 0)
	seen := map[string]struct{}{}

	for _, cat := range req.Categories {
		doc, err := l.fetchDocument(ctx, cat.URL)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Name, err)
		}

		base, err := url.Parse(cat.URL)
		if err != nil {
			return nil, fmt.Errorf("category %s: invalid url: %w", cat.Name, err)
		}

		for _, c := range l.extractCandidates(doc, base, req, cat.Name) {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			results = append(results, c)
		}
	}

	return results, nil
}

func (l *ListingScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := get(ctx, l.client, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func (l *ListingScanner) extractCandidates(doc *goquery.Document, base *url.URL, req scanner.Request, category string) []domain.Candidate {
	opt := func(key string) string {
		if v, ok := req.Options[key]; ok && v != "" {
			return v
		}
		return listingDefaults[key]
	}

	var collected []domain.Candidate
	doc.Find(opt(optItem)).Each(func(_ int, item *goquery.Selection) {
		c, ok := l.parseItem(item, base, opt, req.SiteName, category)
		if !ok {
			return
		}
		if !req.Since.IsZero() && c.PublishedAt.Before(req.Since) {
			return
		}
		collected = append(collected, c)
	})
	return collected
}

func (l *ListingScanner) parseItem(
	item *goquery.Selection,
	base *url.URL,
	opt func(string) string,
	siteName, category string,
) (domain.Candidate, bool) {
	title := strings.Join(strings.Fields(item.Find(opt(optTitle)).First().Text()), " ")

	href, _ := item.Find(opt(optLink)).First().Attr("href")
	href = strings.TrimSpace(href)
	if title == "" || href == "" {
		return domain.Candidate{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return domain.Candidate{}, false
	}
	link := base.ResolveReference(ref).String()

	summary := strings.Join(strings.Fields(item.Find(opt(optSummary)).Text()), " ")

	publishedAt := l.now().UTC()
	dateSel := item.Find(opt(optDate)).First()
	dateText, ok := dateSel.Attr(opt(optDateAttr))
	if !ok {
		dateText = dateSel.Text()
	}
	if parsed, err := time.Parse(opt(optDateLayout), strings.TrimSpace(dateText)); err == nil {
		publishedAt = parsed.UTC()
	}

	tier := DetectTier(title)
	if forced := opt(optTier); forced != "" {
		tier = domain.Tier(forced)
	}

	return domain.Candidate{
		ID:          link,
		Title:       title,
		Body:        truncate(summary),
		URL:         link,
		Source:      siteName,
		Category:    category,
		Tier:        tier,
		PublishedAt: publishedAt,
	}, true
}
