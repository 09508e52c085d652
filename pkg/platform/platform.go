// Package platform identifies which social platform a URL belongs to and
// reduces URLs to a canonical identity used for deduplication.
package platform

import (
	"strings"
)

// Website is the platform id for URLs that match no known platform.
const Website = "website"

// Info describes a known platform.
type Info struct {
	ID    string
	Title string
	// Hosts are matched exactly or as a parent domain (artist.bandcamp.com matches bandcamp.com).
	Hosts []string
	// CaseInsensitive platforms treat the path (the handle) case-insensitively.
	CaseInsensitive bool
}

// known is checked in order; the first host match wins.
var known = []Info{
	{ID: "instagram", Title: "Instagram", Hosts: []string{"instagram.com", "instagr.am"}, CaseInsensitive: true},
	{ID: "twitter", Title: "X (Twitter)", Hosts: []string{"twitter.com"}, CaseInsensitive: true},
	{ID: "tiktok", Title: "TikTok", Hosts: []string{"tiktok.com"}, CaseInsensitive: true},
	{ID: "youtube", Title: "YouTube", Hosts: []string{"youtube.com"}},
	{ID: "spotify", Title: "Spotify", Hosts: []string{"open.spotify.com"}},
	{ID: "applemusic", Title: "Apple Music", Hosts: []string{"music.apple.com"}},
	{ID: "soundcloud", Title: "SoundCloud", Hosts: []string{"soundcloud.com"}, CaseInsensitive: true},
	{ID: "facebook", Title: "Facebook", Hosts: []string{"facebook.com", "fb.com"}},
	{ID: "threads", Title: "Threads", Hosts: []string{"threads.net", "threads.com"}, CaseInsensitive: true},
	{ID: "twitch", Title: "Twitch", Hosts: []string{"twitch.tv"}, CaseInsensitive: true},
	{ID: "github", Title: "GitHub", Hosts: []string{"github.com"}, CaseInsensitive: true},
	{ID: "linkedin", Title: "LinkedIn", Hosts: []string{"linkedin.com"}},
	{ID: "patreon", Title: "Patreon", Hosts: []string{"patreon.com"}},
	{ID: "bandcamp", Title: "Bandcamp", Hosts: []string{"bandcamp.com"}},
	{ID: "substack", Title: "Substack", Hosts: []string{"substack.com"}},
	{ID: "pinterest", Title: "Pinterest", Hosts: []string{"pinterest.com"}},
	{ID: "snapchat", Title: "Snapchat", Hosts: []string{"snapchat.com"}},
	{ID: "discord", Title: "Discord", Hosts: []string{"discord.gg", "discord.com"}},
	{ID: "telegram", Title: "Telegram", Hosts: []string{"t.me", "telegram.me"}},
	{ID: "linktree", Title: "Linktree", Hosts: []string{"linktr.ee"}, CaseInsensitive: true},
	{ID: "stan", Title: "Stan", Hosts: []string{"stan.store"}, CaseInsensitive: true},
	{ID: "beacons", Title: "Beacons", Hosts: []string{"beacons.ai"}, CaseInsensitive: true},
}

// hostAliases fold alternate hosts onto the canonical one.
var hostAliases = map[string]string{
	"x.com":            "twitter.com",
	"linktree.com":     "linktr.ee",
	"spotify.com":      "open.spotify.com",
	"itunes.apple.com": "music.apple.com",
}

// hostPrefixes are stripped from the front of a host when something remains.
var hostPrefixes = []string{"www.", "m.", "mobile."}

// Lookup returns the platform with the given id.
func Lookup(id string) (Info, bool) {
	for _, p := range known {
		if p.ID == id {
			return p, true
		}
	}
	return Info{}, false
}

// All returns every known platform in match order.
func All() []Info {
	out := make([]Info, len(known))
	copy(out, known)
	return out
}

// Hosts returns the canonical hosts of a platform, or nil for unknown ids.
func Hosts(id string) []string {
	p, ok := Lookup(id)
	if !ok {
		return nil
	}
	return append([]string(nil), p.Hosts...)
}

// Title returns the human label for a platform id.
func Title(id string) string {
	if p, ok := Lookup(id); ok {
		return p.Title
	}
	return "Website"
}

// matchHost returns the platform for an already-normalized host.
func matchHost(host string) (Info, bool) {
	for _, p := range known {
		if IsOwnDomain(host, p.Hosts) {
			return p, true
		}
	}
	return Info{}, false
}

// IsOwnDomain reports whether host equals, or is a subdomain of, any of domains.
func IsOwnDomain(host string, domains []string) bool {
	host = canonicalHost(host)
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// canonicalHost lowercases host, strips mobile/www prefixes and folds aliases.
func canonicalHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, prefix := range hostPrefixes {
		if rest, ok := strings.CutPrefix(host, prefix); ok && strings.Contains(rest, ".") {
			host = rest
			break
		}
	}
	if alias, ok := hostAliases[host]; ok {
		return alias
	}
	return host
}
