package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
)

var feedDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
}

// feedDocument decodes both RSS 2.0 (<rss><channel><item>) and Atom (<feed><entry>).
type feedDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        string   `xml:"guid"`
	Description string   `xml:"description"`
	Content     string   `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string   `xml:"pubDate"`
	Categories  []string `xml:"category"`
}

type atomEntry struct {
	ID    string `xml:"id"`
	Title string `xml:"title"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
	Summary   string `xml:"summary"`
	Content   string `xml:"content"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
}

// RSSScanner reads RSS and Atom feeds, one feed per configured category.
type RSSScanner struct {
	client *http.Client
	now    func() time.Time
}

// NewRSSScanner wires an HTTP client; nil uses a client with a 20s timeout.
func NewRSSScanner(client *http.Client) *RSSScanner {
	return &RSSScanner{client: defaultClient(client), now: time.Now}
}

// Name identifies the strategy inside the registry.
func (r *RSSScanner) Name() string {
	return "rss"
}

// Scan reads every category feed and returns items published since req.Since.
func (r *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no categories provided for site %s", req.SiteName)
	}

	var results []domain.Candidate
	for _, cat := range req.Categories {
		doc, err := r.fetchFeed(ctx, cat.URL)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Name, err)
		}
		for _, c := range r.extract(doc, req.SiteName, cat.Name) {
			if !req.Since.IsZero() && c.PublishedAt.Before(req.Since) {
				continue
			}
			results = append(results, c)
		}
	}
	return results, nil
}

func (r *RSSScanner) fetchFeed(ctx context.Context, feedURL string) (feedDocument, error) {
	body, err := get(ctx, r.client, feedURL)
	if err != nil {
		return feedDocument{}, err
	}
	defer body.Close()

	var doc feedDocument
	decoder := xml.NewDecoder(body)
	decoder.Strict = false
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(&doc); err != nil {
		return feedDocument{}, fmt.Errorf("parse feed: %w", err)
	}
	return doc, nil
}

func (r *RSSScanner) extract(doc feedDocument, siteName, category string) []domain.Candidate {
	var out []domain.Candidate
	for _, item := range doc.Channel.Items {
		body := item.Content
		if strings.TrimSpace(body) == "" {
			body = item.Description
		}
		id := strings.TrimSpace(item.GUID)
		if id == "" {
			id = strings.TrimSpace(item.Link)
		}
		if c, ok := r.candidate(id, item.Title, item.Link, body, item.PubDate, siteName, category); ok {
			out = append(out, c)
		}
	}

	for _, entry := range doc.Entries {
		link := ""
		for _, l := range entry.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		body := entry.Content
		if strings.TrimSpace(body) == "" {
			body = entry.Summary
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			id = link
		}
		if c, ok := r.candidate(id, entry.Title, link, body, published, siteName, category); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *RSSScanner) candidate(id, title, link, body, published, siteName, category string) (domain.Candidate, bool) {
	title = cleanText(title)
	link = strings.TrimSpace(link)
	if title == "" || link == "" {
		return domain.Candidate{}, false
	}
	if id == "" {
		id = link
	}

	return domain.Candidate{
		ID:          id,
		Title:       title,
		Body:        cleanText(body),
		URL:         link,
		Source:      siteName,
		Category:    category,
		Tier:        DetectTier(title),
		PublishedAt: parseFeedDate(published, r.now),
	}, true
}

func parseFeedDate(value string, now func() time.Time) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return now().UTC()
}
