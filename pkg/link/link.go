// Package link defines the common types for link ingestion.
package link

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a Link.
type State string

// Link lifecycle states.
const (
	StateActive    State = "active"
	StateSuggested State = "suggested"
	StateRejected  State = "rejected"
)

// SourceType tells who created a Link.
type SourceType string

// Link provenance.
const (
	SourceManual   SourceType = "manual"
	SourceAdmin    SourceType = "admin"
	SourceIngested SourceType = "ingested"
)

// Human reports whether the source type is a human edit (manual or admin).
func (s SourceType) Human() bool { return s == SourceManual || s == SourceAdmin }

// IngestionStatus is the profile-level ingestion state shown to operators.
type IngestionStatus string

// Profile ingestion statuses.
const (
	IngestionIdle       IngestionStatus = "idle"
	IngestionPending    IngestionStatus = "pending"
	IngestionProcessing IngestionStatus = "processing"
	IngestionFailed     IngestionStatus = "failed"
)

// Profile is the creator profile links hang off. The pipeline reads its
// identity fields and only ever writes the enrichment and status fields.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Profile struct {
	ID                 string  `json:"id"`
	UsernameNormalized string  `json:"username_normalized"`
	DisplayName        *string `json:"display_name,omitempty"`
	DisplayNameLocked  bool    `json:"display_name_locked,omitempty"`
	AvatarURL          *string `json:"avatar_url,omitempty"`
	AvatarLocked       bool    `json:"avatar_locked_by_user,omitempty"`

	IngestionStatus    IngestionStatus `json:"ingestion_status"`
	LastIngestionError *string         `json:"last_ingestion_error,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Evidence records which sources and named signals contributed to a link's confidence.
type Evidence struct {
	Sources []string `json:"sources"`
	Signals []string `json:"signals"`
}

// Merge returns the set union of e and other. Order is first-seen, e before other.
func (e Evidence) Merge(other Evidence) Evidence {
	return Evidence{
		Sources: union(e.Sources, other.Sources),
		Signals: union(e.Signals, other.Signals),
	}
}

// HasSource reports whether src already contributed to e.
func (e Evidence) HasSource(src string) bool {
	for _, s := range e.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer so Evidence can be stored as JSON text.
func (e Evidence) Value() (driver.Value, error) {
	norm := Evidence{Sources: union(nil, e.Sources), Signals: union(nil, e.Signals)}
	b, err := json.Marshal(norm)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (e *Evidence) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*e = Evidence{Sources: []string{}, Signals: []string{}}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("evidence: unsupported scan type %T", src)
	}
	if len(data) == 0 {
		*e = Evidence{Sources: []string{}, Signals: []string{}}
		return nil
	}
	var out Evidence
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("evidence: %w", err)
	}
	*e = Evidence{Sources: union(nil, out.Sources), Signals: union(nil, out.Signals)}
	return nil
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Link is one social/profile/content link attached to a Profile.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Link struct {
	ID             string     `json:"id"`
	ProfileID      string     `json:"profile_id"`
	Platform       string     `json:"platform"`
	URL            string     `json:"url"`
	CanonicalKey   string     `json:"canonical_key"`
	DisplayText    *string    `json:"display_text,omitempty"`
	SortOrder      int        `json:"sort_order"`
	State          State      `json:"state"`
	Confidence     float64    `json:"confidence"`
	SourceType     SourceType `json:"source_type"`
	SourcePlatform string     `json:"source_platform,omitempty"`
	Evidence       Evidence   `json:"evidence"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ErrInvalidTransition is returned by Accept and Dismiss for links that are not suggested.
var ErrInvalidTransition = errors.New("link is not in suggested state")

// Accept promotes a suggested link to active.
func (l *Link) Accept() error {
	if l.State != StateSuggested {
		return ErrInvalidTransition
	}
	l.State = StateActive
	return nil
}

// Dismiss rejects a suggested link and resets its confidence.
func (l *Link) Dismiss() error {
	if l.State != StateSuggested {
		return ErrInvalidTransition
	}
	l.State = StateRejected
	l.Confidence = 0
	return nil
}

// Signal names attached to extracted links.
const (
	SignalManualAdd      = "manual_add"
	SignalAdminAdd       = "admin_add"
	SignalStructuredData = "structured_data"
	SignalSocialIcon     = "social_icon"
	SignalAnchorTag      = "anchor_tag"
	SignalMetaTag        = "meta_tag"
)

// ExtractedLink is a candidate link produced by an extraction strategy.
type ExtractedLink struct {
	URL            string   `json:"url"`
	Title          string   `json:"title,omitempty"`
	SourcePlatform string   `json:"source_platform"`
	Evidence       Evidence `json:"evidence"`
}

// ExtractionResult is the normalized output of one strategy run. DisplayName
// and AvatarURL are nil when the page did not provide them.
type ExtractionResult struct {
	SourceURL      string          `json:"source_url"`
	SourcePlatform string          `json:"source_platform"`
	Links          []ExtractedLink `json:"links"`
	DisplayName    *string         `json:"display_name,omitempty"`
	AvatarURL      *string         `json:"avatar_url,omitempty"`
}

// StringPtr returns nil for an empty string, else a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
