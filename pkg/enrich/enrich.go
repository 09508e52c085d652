// Package enrich decides which candidate display name or avatar URL a
// profile should carry when several sources offer one.
package enrich

import (
	"net/url"
	"slices"
	"strings"
)

// Candidate is a value offered by one source.
type Candidate struct {
	Value  *string
	Source string
}

// Resolver picks among candidates by source priority.
type Resolver struct {
	// Priority lists sources from most to least trusted. Unknown sources rank last.
	Priority []string
	// OverwriteExisting lets a candidate replace a non-empty current value.
	OverwriteExisting bool
}

// Kind selects the validation applied to candidate values.
type Kind int

// Field kinds.
const (
	DisplayName Kind = iota
	AvatarURL
)

// Resolve returns the value the field should hold and whether it changed.
// A locked field never changes.
func (r Resolver) Resolve(kind Kind, current *string, locked bool, candidates []Candidate) (*string, bool) {
	if locked {
		return current, false
	}

	best := r.best(kind, candidates)
	if best == "" {
		return current, false
	}

	cur := ""
	if current != nil {
		cur = strings.TrimSpace(*current)
	}
	if cur == best {
		return current, false
	}
	if cur != "" && !r.OverwriteExisting {
		return current, false
	}
	return &best, true
}

func (r Resolver) rank(source string) int {
	if i := slices.Index(r.Priority, source); i >= 0 {
		return i
	}
	return len(r.Priority)
}

func (r Resolver) best(kind Kind, candidates []Candidate) string {
	valid := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Value == nil || strings.TrimSpace(*c.Value) == "" {
			continue
		}
		if kind == AvatarURL && !isAbsoluteHTTP(*c.Value) {
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return ""
	}
	slices.SortStableFunc(valid, func(a, b Candidate) int {
		return r.rank(a.Source) - r.rank(b.Source)
	})
	return strings.TrimSpace(*valid[0].Value)
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
