package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scanner"
	"NewsDigest/internal/textnorm"
)

// StrategySource implements CandidateSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.CandidateSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
		now:      time.Now,
	}
}

// Fetch scans the requested sites (all when sourceIDs is empty) and returns candidates no older
// than maxAge, de-duplicated by id and normalized title. A failing site is logged and skipped;
// an error is returned only when every site failed.
func (s *StrategySource) Fetch(ctx context.Context, sourceIDs []string, maxAge time.Duration) ([]domain.Candidate, error) {
	if s.registry == nil {
		return nil, domain.Configuration("scanner registry is not configured")
	}

	sites := s.selectSites(sourceIDs)
	if len(sites) == 0 {
		return nil, domain.Configuration("no configured site matches sources %v", sourceIDs)
	}

	now := s.now().UTC()
	since := now.Add(-maxAge)
	s.debug("fetch candidates", "sites", len(sites), "since", since.Format(time.RFC3339))

	var (
		aggregated []domain.Candidate
		failures   []error
	)
	for _, site := range sites {
		s.debug("process site", "site", site.Name, "scanner", site.Scanner, "categories", len(site.Categories))
		results, err := s.scanSite(ctx, site, since)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.warn("site failed", "site", site.Name, "error", err)
			failures = append(failures, fmt.Errorf("site %s: %w", site.Name, err))
			continue
		}
		s.debug("site produced candidates", "site", site.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	if len(failures) == len(sites) {
		return nil, domain.Transient("fetch candidates", errors.Join(failures...))
	}

	out := dedupe(aggregated, since)
	s.debug("strategy source done", "total_candidates", len(out), "failed_sites", len(failures))
	return out, nil
}

func (s *StrategySource) scanSite(ctx context.Context, site config.SiteConfig, since time.Time) ([]domain.Candidate, error) {
	strategy, err := s.registry.Resolve(site.Scanner)
	if err != nil {
		return nil, err
	}

	req := scanner.Request{
		Since:      since,
		SiteName:   site.Name,
		Options:    site.Options,
		Categories: toScannerCategories(site.Categories),
	}

	results, err := strategy.Scan(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	for i := range results {
		if results[i].Source == "" {
			results[i].Source = site.Name
		}
		results[i].SourcePriority = site.Priority
	}
	return results, nil
}

// selectSites keeps the requested sites ordered by priority so duplicates resolve to the
// better-ranked source.
func (s *StrategySource) selectSites(sourceIDs []string) []config.SiteConfig {
	var sites []config.SiteConfig
	for _, site := range s.sites {
		if len(sourceIDs) == 0 || slices.Contains(sourceIDs, site.Name) {
			sites = append(sites, site)
		}
	}
	for _, id := range sourceIDs {
		if !slices.ContainsFunc(s.sites, func(site config.SiteConfig) bool { return site.Name == id }) {
			s.warn("unknown source requested", "source", id)
		}
	}
	sort.SliceStable(sites, func(i, j int) bool { return sites[i].Priority < sites[j].Priority })
	return sites
}

func dedupe(candidates []domain.Candidate, since time.Time) []domain.Candidate {
	ids := make(map[string]struct{}, len(candidates))
	titles := make(map[string]struct{}, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.PublishedAt.Before(since) {
			continue
		}
		title := textnorm.Normalize(c.Title)
		if _, ok := ids[c.ID]; ok {
			continue
		}
		if _, ok := titles[title]; ok {
			continue
		}
		ids[c.ID] = struct{}{}
		titles[title] = struct{}{}
		out = append(out, c)
	}
	return out
}

func toScannerCategories(cfg []config.CategoryConfig) []scanner.Category {
	categories := make([]scanner.Category, 0, len(cfg))
	for _, cat := range cfg {
		categories = append(categories, scanner.Category{
			Name: cat.Name,
			URL:  cat.URL,
		})
	}
	return categories
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
