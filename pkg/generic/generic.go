// Package generic holds the extraction fallbacks shared by every strategy:
// anchor-tag scraping, meta-tag identity and candidate deduplication.
package generic

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/codeGROOVE-dev/biolink/pkg/htmlutil"
	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
)

// Collector accumulates candidate links for one extraction. The first
// occurrence of a canonical identity wins; later duplicates are dropped.
type Collector struct {
	logger *slog.Logger
	seen   map[string]bool
	source string
	links  []link.ExtractedLink
}

// NewCollector returns a Collector attributing links to source.
func NewCollector(source string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{source: source, logger: logger, seen: make(map[string]bool)}
}

// Add records a candidate. It returns false when rawURL is invalid or already seen.
func (c *Collector) Add(rawURL, title string, signals ...string) bool {
	d := platform.Detect(rawURL)
	if !d.IsValid {
		c.logger.Debug("skipping invalid candidate", "url", rawURL, "source", c.source)
		return false
	}
	key := platform.CanonicalIdentity(d.Platform, d.NormalizedURL)
	if c.seen[key] {
		return false
	}
	c.seen[key] = true
	c.links = append(c.links, link.ExtractedLink{
		URL:            d.NormalizedURL,
		Title:          strings.TrimSpace(title),
		SourcePlatform: c.source,
		Evidence: link.Evidence{
			Sources: []string{c.source},
			Signals: append([]string(nil), signals...),
		},
	})
	return true
}

// Len returns the number of collected links.
func (c *Collector) Len() int { return len(c.links) }

// Links returns the collected links in discovery order.
func (c *Collector) Links() []link.ExtractedLink {
	out := make([]link.ExtractedLink, len(c.links))
	copy(out, c.links)
	return out
}

// Options configures anchor extraction.
type Options struct {
	// OwnDomains are the source platform's hosts; links to them are skipped.
	OwnDomains []string
}

// AddAnchors scrapes <a href> links from doc into c, skipping the source's own
// domains, the page's own host and private addresses.
func AddAnchors(c *Collector, doc *goquery.Document, pageURL string, opts Options) {
	own := append([]string(nil), opts.OwnDomains...)
	if h := platform.Host(pageURL); h != "" {
		own = append(own, h)
	}

	for _, a := range htmlutil.Anchors(doc, pageURL) {
		u, err := url.Parse(a.URL)
		if err != nil {
			continue
		}
		if platform.IsOwnDomain(u.Hostname(), own) {
			continue
		}
		if err := validateHost(u.Hostname()); err != nil {
			c.logger.Debug("skipping anchor", "url", a.URL, "reason", err)
			continue
		}
		signal := link.SignalAnchorTag
		if a.Icon {
			signal = link.SignalSocialIcon
		}
		c.Add(a.URL, a.Text, signal)
	}
}

// Identity returns the display name and avatar from Open Graph / Twitter meta
// tags, with branding suffixes stripped from the name. Either may be nil.
func Identity(doc *goquery.Document, pageURL string, suffixes []string) (name, avatar *string) {
	name = link.StringPtr(htmlutil.StripBranding(htmlutil.Meta(doc, "og:title", "twitter:title"), suffixes))
	avatar = link.StringPtr(AbsoluteURL(pageURL, htmlutil.OGImage(doc)))
	return name, avatar
}

// AbsoluteURL resolves ref against base and returns it only if it is an
// absolute http(s) URL.
func AbsoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if !r.IsAbs() {
		b, err := url.Parse(base)
		if err != nil || !b.IsAbs() {
			return ""
		}
		r = b.ResolveReference(r)
	}
	if (r.Scheme != "http" && r.Scheme != "https") || r.Host == "" {
		return ""
	}
	return r.String()
}

// validateHost rejects local and private hosts.
func validateHost(host string) error {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return errors.New("blocked: local host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return errors.New("blocked: private IP")
		}
	}
	return nil
}
