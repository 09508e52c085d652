// Package stan extracts links from Stan (stan.store) creator pages.
package stan

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
const Name = "stan"

var brandSuffixes = []string{"| Stan Store", "| Stan", "- Stan.me", "- Stan"}

// Strategy fetches and extracts Stan pages.
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

// New creates a Stan strategy.
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
			Structured:    parseStructured,
		},
	}, nil
}

// Name returns "stan".
func (*Strategy) Name() string { return Name }

// Supports returns true for stan.store creator URLs.
func (*Strategy) Supports(rawURL string) bool {
	d := platform.Detect(rawURL)
	if !d.IsValid || d.Platform != Name {
		return false
	}
	_, handle, _ := strings.Cut(strings.TrimPrefix(d.NormalizedURL, "https://"), "/")
	return handle != ""
}

// Extract parses a fetched Stan page.
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

// payload is the page data Stan serializes either under Next.js pageProps or
// in a standalone stan-data script.
type payload struct {
	User *struct {
		FullName     string          `json:"fullName"`
		Name         string          `json:"name"`
		Username     string          `json:"username"`
		Avatar       string          `json:"avatar"`
		ProfileImage string          `json:"profileImage"`
		SocialLinks  []generic.Entry `json:"socialLinks"`
	} `json:"user"`
	Store *struct {
		Links []generic.Entry `json:"links"`
	} `json:"store"`
}

type nextData struct {
	Props struct {
		PageProps payload `json:"pageProps"`
	} `json:"props"`
}

func readPayload(page *goquery.Document) *payload {
	if raw := htmlutil.ScriptJSON(page, "script#__NEXT_DATA__"); raw != nil {
		var nd nextData
		if err := json.Unmarshal(raw, &nd); err == nil && (nd.Props.PageProps.User != nil || nd.Props.PageProps.Store != nil) {
			return &nd.Props.PageProps
		}
	}
	if raw := htmlutil.ScriptJSON(page, `script#stan-data[type="application/json"]`); raw != nil {
		var p payload
		if err := json.Unmarshal(raw, &p); err == nil {
			return &p
		}
	}
	return nil
}

func parseStructured(page *goquery.Document, c *generic.Collector) (name, avatar *string) {
	p := readPayload(page)
	if p == nil {
		return nil, nil
	}

	if p.Store != nil {
		for _, e := range p.Store.Links {
			if e.Excluded() || e.URL == "" {
				continue
			}
			c.Add(e.URL, e.Title, link.SignalStructuredData)
		}
	}
	if u := p.User; u != nil {
		for _, e := range u.SocialLinks {
			if e.Excluded() || e.URL == "" {
				continue
			}
			c.Add(e.URL, platform.Title(platform.Detect(e.URL).Platform), link.SignalStructuredData, link.SignalSocialIcon)
		}
		for _, n := range []string{u.FullName, u.Name} {
			if n = strings.TrimSpace(n); n != "" {
				name = link.StringPtr(strings.TrimPrefix(n, "@"))
				break
			}
		}
		for _, a := range []string{u.Avatar, u.ProfileImage} {
			if abs := generic.AbsoluteURL("https://stan.store/", a); abs != "" {
				avatar = &abs
				break
			}
		}
	}
	return name, avatar
}
