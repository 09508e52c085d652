// Package confidence scores how likely an extracted link belongs to a profile.
package confidence

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
)

// State thresholds.
const (
	// HideBelow is the score under which a link is stored but not surfaced.
	HideBelow = 0.30
	// ActivateAt is the score at or above which a link is recommended active.
	ActivateAt = 0.70
)

// Score components.
const (
	ManualBase          = 0.60
	AdminBase           = 0.50
	UnknownSignalWeight = 0.10
	ExtraSourceBonus    = 0.15
	HandleExactBonus    = 0.20
	HandlePartialBonus  = 0.10

	// minPartialHandle is the shortest username eligible for a partial handle match.
	minPartialHandle = 4
)

// SignalWeights maps signal names to their additive weight.
var SignalWeights = map[string]float64{
	link.SignalManualAdd:      0.60,
	link.SignalAdminAdd:       0.50,
	link.SignalStructuredData: 0.30,
	link.SignalSocialIcon:     0.25,
	link.SignalAnchorTag:      0.20,
	link.SignalMetaTag:        0.15,
}

// Input is everything Compute needs. Existing, when set, is a floor.
type Input struct {
	Existing      *float64
	SourceType    link.SourceType
	Username      string
	NormalizedURL string
	Signals       []string
	Sources       []string
}

// Result is the computed confidence and recommended state.
type Result struct {
	State      link.State
	Reasons    []string
	Confidence float64
	// Visible is false when the score is below HideBelow.
	Visible bool
}

// Compute scores in. It is pure and never persists anything.
func Compute(in Input) Result {
	var score float64
	var reasons []string

	switch in.SourceType {
	case link.SourceManual:
		score += ManualBase
		reasons = append(reasons, "source:manual")
	case link.SourceAdmin:
		score += AdminBase
		reasons = append(reasons, "source:admin")
	default:
	}

	seen := make(map[string]bool, len(in.Signals))
	for _, sig := range in.Signals {
		if sig == "" || seen[sig] {
			continue
		}
		seen[sig] = true
		w, ok := SignalWeights[sig]
		if !ok {
			w = UnknownSignalWeight
		}
		score += w
		reasons = append(reasons, "signal:"+sig)
	}

	if n := distinct(in.Sources); n > 1 {
		score += ExtraSourceBonus * float64(n-1)
		reasons = append(reasons, fmt.Sprintf("sources:%d", n))
	}

	switch handleMatch(in.Username, in.NormalizedURL) {
	case matchExact:
		score += HandleExactBonus
		reasons = append(reasons, "handle:exact")
	case matchPartial:
		score += HandlePartialBonus
		reasons = append(reasons, "handle:partial")
	default:
	}

	score = round2(min(score, 1.0))
	if in.Existing != nil && *in.Existing > score {
		score = round2(min(*in.Existing, 1.0))
		reasons = append(reasons, "floor:existing")
	}

	return Result{
		Confidence: score,
		State:      StateFor(score),
		Visible:    score >= HideBelow,
		Reasons:    reasons,
	}
}

// StateFor returns the recommended state for a score.
func StateFor(score float64) link.State {
	if score >= ActivateAt {
		return link.StateActive
	}
	return link.StateSuggested
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

func distinct(items []string) int {
	seen := make(map[string]bool, len(items))
	for _, s := range items {
		if s != "" {
			seen[s] = true
		}
	}
	return len(seen)
}

type matchKind int

const (
	matchNone matchKind = iota
	matchPartial
	matchExact
)

// pathPrefixes are path segments that precede the handle on some platforms.
var pathPrefixes = map[string]bool{
	"in": true, "c": true, "u": true, "user": true, "users": true, "channel": true,
	"artist": true, "add": true, "profile": true, "people": true, "company": true,
}

// handleMatch compares the profile username to the handle segment of a URL.
func handleMatch(username, normalizedURL string) matchKind {
	user := normalizeHandle(username)
	if user == "" {
		return matchNone
	}
	best := matchNone
	for _, h := range handles(normalizedURL) {
		switch {
		case h == user:
			return matchExact
		case len(user) >= minPartialHandle && len(h) >= minPartialHandle &&
			(strings.Contains(h, user) || strings.Contains(user, h) || squash(h) == squash(user)):
			best = matchPartial
		default:
		}
	}
	return best
}

// platformHosts are the canonical hosts of known platforms. Their leftmost
// label ("open" in open.spotify.com) belongs to the platform, not a user.
var platformHosts = func() map[string]bool {
	m := make(map[string]bool)
	for _, p := range platform.All() {
		for _, h := range p.Hosts {
			m[h] = true
		}
	}
	return m
}()

// handles returns the candidate handle segments of a URL: the first path
// segment after known prefixes and, for subdomain-style pages, the leftmost host label.
func handles(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		seg = normalizeHandle(seg)
		if seg == "" || pathPrefixes[seg] {
			continue
		}
		out = append(out, seg)
		break
	}
	host := strings.ToLower(u.Hostname())
	if platformHosts[host] {
		return out
	}
	labels := strings.Split(host, ".")
	if len(labels) > 2 && labels[0] != "www" {
		out = append(out, labels[0])
	}
	return out
}

func normalizeHandle(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// squash drops separators so "jane.doe" and "jane_doe" compare equal.
func squash(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '_', '-':
			return -1
		default:
			return r
		}
	}, s)
}
