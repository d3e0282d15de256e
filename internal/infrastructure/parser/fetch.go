package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/textnorm"
)

const (
	userAgent     = "NewsDigest/1.0"
	maxBodyRunes  = 2000
	clientTimeout = 20 * time.Second
)

var (
	breakingKeywords = []string{"breaking", "urgent", "alert", "live"}
	majorKeywords    = []string{"announces", "launches", "reveals", "reports", "unveils"}
)

func defaultClient(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Timeout: clientTimeout}
	}
	return client
}

// get fetches pageURL and returns the open body; the caller closes it.
func get(ctx context.Context, client *http.Client, pageURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", pageURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}
	return resp.Body, nil
}

// DetectTier maps headline wording to an importance tier.
func DetectTier(title string) domain.Tier {
	words := textnorm.Words(title)
	for _, kw := range breakingKeywords {
		if textnorm.ContainsPhrase(words, kw) {
			return domain.TierBreaking
		}
	}
	for _, kw := range majorKeywords {
		if textnorm.ContainsPhrase(words, kw) {
			return domain.TierMajor
		}
	}
	return domain.TierNormal
}

// cleanText strips markup from an HTML fragment and collapses whitespace.
func cleanText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return truncate(strings.Join(strings.Fields(fragment), " "))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return truncate(strings.Join(strings.Fields(fragment), " "))
	}
	doc.Find("script, style, nav, footer, aside").Remove()
	return truncate(strings.Join(strings.Fields(doc.Text()), " "))
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxBodyRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxBodyRunes])
}
