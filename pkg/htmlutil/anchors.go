package htmlutil

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Anchor is an <a href> found in a document, resolved against the page URL.
type Anchor struct {
	URL  string
	Text string
	// Icon is true for icon-only links such as a row of social buttons.
	Icon bool
}

// skipSchemes are href schemes that never point at a profile.
var skipSchemes = []string{"mailto:", "tel:", "sms:", "javascript:", "data:", "#"}

// Anchors returns every navigable anchor in document order. Relative hrefs are
// resolved against base; non-http(s) targets are dropped.
func Anchors(doc *goquery.Document, base string) []Anchor {
	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}

	var out []Anchor
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		if href == "" {
			return
		}
		for _, p := range skipSchemes {
			if strings.HasPrefix(lower, p) {
				return
			}
		}

		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if !u.IsAbs() {
			if baseURL == nil {
				return
			}
			u = baseURL.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}

		text := strings.Join(strings.Fields(s.Text()), " ")
		out = append(out, Anchor{
			URL:  u.String(),
			Text: text,
			Icon: isIcon(s, text),
		})
	})
	return out
}

// isIcon reports whether the anchor looks like a social icon button: no
// visible text but an svg/img child, or a class naming it as such.
func isIcon(s *goquery.Selection, text string) bool {
	if text == "" && s.Find("svg, img, i").Length() > 0 {
		return true
	}
	class, _ := s.Attr("class")
	class = strings.ToLower(class)
	if strings.Contains(class, "social") || strings.Contains(class, "icon") {
		return true
	}
	testID, _ := s.Attr("data-testid")
	return strings.Contains(strings.ToLower(testID), "social")
}
