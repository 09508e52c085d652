// Package linktree extracts links from Linktree pages.
package linktree

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/codeGROOVE-dev/biolink/pkg/generic"
	"github.com/codeGROOVE-dev/biolink/pkg/htmlutil"
	"github.com/codeGROOVE-dev/biolink/pkg/httpcache"
	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
	"github.com/codeGROOVE-dev/biolink/pkg/strategy"
)

// Name is the source platform id.
const Name = "linktree"

var brandSuffixes = []string{"| Linktree", "- Linktree"}

// Strategy fetches and extracts Linktree pages.
type Strategy struct {
	strategy.HTTPFetch

	logger *slog.Logger
	source generic.Source
}

// Option configures a Strategy.
type Option func(*config)

type config struct {
	fetcher    *httpcache.Fetcher
	logger     *slog.Logger
	extraHosts []string
}

// WithFetcher sets the HTTP fetcher.
func WithFetcher(f *httpcache.Fetcher) Option {
	return func(c *config) { c.fetcher = f }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithExtraHosts adds hosts to the fetch allow-list.
func WithExtraHosts(hosts ...string) Option {
	return func(c *config) { c.extraHosts = append(c.extraHosts, hosts...) }
}

// New creates a Linktree strategy.
func New(_ context.Context, opts ...Option) (*Strategy, error) {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.fetcher == nil {
		cfg.fetcher = httpcache.New(httpcache.WithLogger(cfg.logger))
	}

	own := platform.Hosts(Name)
	return &Strategy{
		HTTPFetch: strategy.HTTPFetch{
			Fetcher: cfg.fetcher,
			Hosts:   append(append([]string(nil), own...), cfg.extraHosts...),
		},
		logger: cfg.logger,
		source: generic.Source{
			Name:          Name,
			OwnDomains:    own,
			BrandSuffixes: brandSuffixes,
			Structured:    parseNextData,
		},
	}, nil
}

// Name returns "linktree".
func (*Strategy) Name() string { return Name }

// Supports returns true for linktr.ee (and linktree.com) profile URLs.
func (*Strategy) Supports(rawURL string) bool {
	d := platform.Detect(rawURL)
	return d.IsValid && d.Platform == Name && strings.Trim(pathOf(d.NormalizedURL), "/") != ""
}

// Extract parses a fetched Linktree page.
func (s *Strategy) Extract(doc *strategy.RawDocument, opts strategy.ExtractOptions) (*link.ExtractionResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = s.logger
	}
	page := doc.FinalURL
	if page == "" {
		page = doc.URL
	}
	return s.source.Extract(doc.Body, doc.URL, page, opts.Policy, logger), nil
}

func pathOf(normalized string) string {
	_, rest, _ := strings.Cut(strings.TrimPrefix(normalized, "https://"), "/")
	return rest
}

type nextData struct {
	Props struct {
		PageProps struct {
			Account     *account        `json:"account"`
			Links       []generic.Entry `json:"links"`
			SocialLinks []generic.Entry `json:"socialLinks"`
		} `json:"pageProps"`
	} `json:"props"`
}

type account struct {
	Username          string `json:"username"`
	ProfileTitle      string `json:"profileTitle"`
	PageTitle         string `json:"pageTitle"`
	ProfilePictureURL string `json:"profilePictureUrl"`
}

// parseNextData reads the __NEXT_DATA__ blob Linktree's Next.js frontend embeds.
func parseNextData(page *goquery.Document, c *generic.Collector) (name, avatar *string) {
	raw := htmlutil.ScriptJSON(page, "script#__NEXT_DATA__")
	if raw == nil {
		return nil, nil
	}
	var data nextData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, nil
	}
	pp := data.Props.PageProps

	for _, e := range pp.Links {
		if e.Excluded() || e.URL == "" {
			continue
		}
		c.Add(e.URL, e.Title, link.SignalStructuredData)
	}
	for _, e := range pp.SocialLinks {
		if e.Excluded() || e.URL == "" {
			continue
		}
		c.Add(e.URL, platform.Title(platform.Detect(e.URL).Platform), link.SignalStructuredData, link.SignalSocialIcon)
	}

	if a := pp.Account; a != nil {
		switch {
		case strings.TrimSpace(a.ProfileTitle) != "":
			name = link.StringPtr(strings.TrimSpace(a.ProfileTitle))
		case strings.TrimSpace(a.PageTitle) != "":
			name = link.StringPtr(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(a.PageTitle), "@")))
		default:
		}
		avatar = link.StringPtr(generic.AbsoluteURL("https://linktr.ee/", a.ProfilePictureURL))
	}
	return name, avatar
}
