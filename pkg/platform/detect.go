package platform

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"sort"
	"strings"
)

// Detection is the result of Detect.
type Detection struct {
	Platform       string
	NormalizedURL  string
	SuggestedTitle string
	IsValid        bool
}

var (
	errEmpty          = errors.New("empty url")
	errScheme         = errors.New("scheme must be http or https")
	errMissingHost    = errors.New("missing host")
	defaultPorts      = map[string]string{"http": "80", "https": "443"}
	trackingParamsSet = map[string]struct{}{
		"fbclid":  {},
		"gclid":   {},
		"gclsrc":  {},
		"dclid":   {},
		"msclkid": {},
		"igshid":  {},
		"si":      {},
		"ref":     {},
		"ref_src": {},
		"mc_cid":  {},
		"mc_eid":  {},
		"_ga":     {},
	}
	// platformTrackingParams are dropped only on the named platform, where
	// they never change the page.
	platformTrackingParams = map[string][]string{
		"youtube": {"feature", "pp", "ab_channel"},
	}
)

// Detect identifies the platform of rawURL and normalizes it. It never panics;
// malformed input yields IsValid=false.
func Detect(rawURL string) Detection {
	u, p, err := normalize(rawURL)
	if err != nil {
		return Detection{}
	}
	return Detection{
		Platform:       p.ID,
		NormalizedURL:  u,
		SuggestedTitle: p.Title,
		IsValid:        true,
	}
}

// CanonicalIdentity returns the dedup key for a normalized URL on a platform.
// The platform id is part of the key so equal paths on different platforms differ.
func CanonicalIdentity(platform, normalizedURL string) string {
	rest := strings.TrimPrefix(normalizedURL, "https://")
	rest = strings.TrimPrefix(rest, "http://")
	return platform + ":" + rest
}

// Key detects rawURL and returns its canonical identity.
func Key(rawURL string) (string, bool) {
	d := Detect(rawURL)
	if !d.IsValid {
		return "", false
	}
	return CanonicalIdentity(d.Platform, d.NormalizedURL), true
}

// Host returns the canonical host of rawURL, or "" if it does not parse.
func Host(rawURL string) string {
	u, err := parse(rawURL)
	if err != nil {
		return ""
	}
	return canonicalHost(u.Hostname())
}

func parse(rawURL string) (*url.URL, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, errEmpty
	}
	// Bare "host.tld/path" input is treated as https.
	if !strings.Contains(raw, "://") && !strings.Contains(raw, ":") {
		first, _, _ := strings.Cut(raw, "/")
		if strings.Contains(first, ".") {
			raw = "https://" + raw
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, errScheme
	}
	if u.Hostname() == "" {
		return nil, errMissingHost
	}
	return u, nil
}

func normalize(rawURL string) (string, Info, error) {
	u, err := parse(rawURL)
	if err != nil {
		return "", Info{}, err
	}

	host := canonicalHost(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPorts[strings.ToLower(u.Scheme)] && port != "443" {
		host += ":" + port
	}

	p, ok := matchHost(host)
	if !ok {
		p = Info{ID: Website, Title: "Website"}
	}

	query := u.Query()
	pth := normalizePath(u.Path)
	if host == "youtu.be" {
		if id := strings.Trim(pth, "/"); id != "" {
			host, pth = "youtube.com", "/watch"
			query.Set("v", id)
			p, _ = Lookup("youtube")
		}
	}
	if p.CaseInsensitive {
		pth = strings.ToLower(pth)
	}

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	b.WriteString((&url.URL{Path: pth}).EscapedPath())
	if q := cleanQuery(query, p.ID); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), p, nil
}

func isTracking(key, platformID string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	if _, ok := trackingParamsSet[k]; ok {
		return true
	}
	return slices.Contains(platformTrackingParams[platformID], k)
}

// cleanQuery drops tracking parameters and encodes the rest with sorted keys.
func cleanQuery(values url.Values, platformID string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !isTracking(k, platformID) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// normalizePath resolves dot-segments and strips trailing slashes. The root path becomes "".
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	return strings.TrimRight(path.Clean("/"+p), "/")
}
