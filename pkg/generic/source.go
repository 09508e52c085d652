package generic

import (
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/codeGROOVE-dev/biolink/pkg/htmlutil"
	"github.com/codeGROOVE-dev/biolink/pkg/link"
)

// Entry is the link shape shared by the embedded JSON of link-in-bio pages.
type Entry struct {
	Visible  *bool  `json:"visible"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Hidden   bool   `json:"hidden"`
	IsHidden bool   `json:"isHidden"`
	Locked   bool   `json:"locked"`
}

// Excluded reports whether the page owner hid the entry.
func (e Entry) Excluded() bool {
	return e.Hidden || e.IsHidden || e.Locked || (e.Visible != nil && !*e.Visible)
}

// StructuredFunc parses embedded structured data from page into c and
// returns any display name and avatar it carried.
type StructuredFunc func(page *goquery.Document, c *Collector) (name, avatar *string)

// Source describes a link-in-bio platform for Extract.
type Source struct {
	Structured    StructuredFunc
	Name          string
	OwnDomains    []string
	BrandSuffixes []string
}

// Extract runs the extraction policy for body: structured data first, then
// anchors when structured data produced no links, then meta tags for identity.
// An unparseable page yields an empty result, not an error.
func (s Source) Extract(body []byte, sourceURL, pageURL, policy string, logger *slog.Logger) *link.ExtractionResult {
	if logger == nil {
		logger = slog.Default()
	}
	res := &link.ExtractionResult{
		SourceURL:      sourceURL,
		SourcePlatform: s.Name,
		Links:          []link.ExtractedLink{},
	}

	page, err := htmlutil.Parse(body)
	if err != nil {
		logger.Warn("unparseable page", "url", pageURL, "error", err)
		return res
	}

	c := NewCollector(s.Name, logger)
	if policy != link.PolicyAnchors && s.Structured != nil {
		res.DisplayName, res.AvatarURL = s.Structured(page, c)
	}
	structured := c.Len()
	if structured == 0 && policy != link.PolicyStructured {
		AddAnchors(c, page, pageURL, Options{OwnDomains: s.OwnDomains})
	}

	if res.DisplayName == nil || res.AvatarURL == nil {
		name, avatar := Identity(page, pageURL, s.BrandSuffixes)
		if res.DisplayName == nil {
			res.DisplayName = name
		}
		if res.AvatarURL == nil {
			res.AvatarURL = avatar
		}
	}

	res.Links = c.Links()
	logger.Debug("extracted links", "source", s.Name, "url", pageURL,
		"structured", structured, "total", len(res.Links))
	return res
}
