// Package htmlutil provides HTML processing helpers for link-in-bio pages.
package htmlutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Parse parses an HTML body.
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Meta returns the content of the first non-empty meta tag whose property or
// name matches one of keys, tried in order.
func Meta(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		var found string
		doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			prop, _ := s.Attr("property")
			name, _ := s.Attr("name")
			if !strings.EqualFold(prop, key) && !strings.EqualFold(name, key) {
				return true
			}
			content, _ := s.Attr("content")
			found = strings.TrimSpace(content)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// OGImage returns the og:image or twitter:image URL.
func OGImage(doc *goquery.Document) string {
	return Meta(doc, "og:image", "og:image:url", "twitter:image", "twitter:image:src")
}

// ScriptJSON returns the raw text of the first <script> matched by selector,
// e.g. "script#__NEXT_DATA__". It returns nil when no such script exists.
func ScriptJSON(doc *goquery.Document, selector string) []byte {
	text := strings.TrimSpace(doc.Find(selector).First().Text())
	if text == "" {
		return nil
	}
	return []byte(text)
}

// StripBranding removes a trailing platform suffix ("Jane | Linktree") and a
// leading "@" from a display name pulled from meta tags.
func StripBranding(name string, suffixes []string) string {
	name = strings.TrimSpace(name)
	for _, suffix := range suffixes {
		n := len(name) - len(suffix)
		if n >= 0 && strings.EqualFold(name[n:], suffix) {
			name = strings.TrimSpace(name[:n])
			break
		}
	}
	return strings.TrimSpace(strings.TrimPrefix(name, "@"))
}
