package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
)

const linkColumns = `id, profile_id, platform, url, canonical_key, display_text, sort_order,
	state, confidence, source_type, source_platform, evidence, created_at, updated_at`

type linkRow struct {
	ID             string        `db:"id"`
	ProfileID      string        `db:"profile_id"`
	Platform       string        `db:"platform"`
	URL            string        `db:"url"`
	CanonicalKey   string        `db:"canonical_key"`
	DisplayText    *string       `db:"display_text"`
	SortOrder      int           `db:"sort_order"`
	State          string        `db:"state"`
	Confidence     float64       `db:"confidence"`
	SourceType     string        `db:"source_type"`
	SourcePlatform string        `db:"source_platform"`
	Evidence       link.Evidence `db:"evidence"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
}

func (r *linkRow) link() link.Link {
	return link.Link{
		ID:             r.ID,
		ProfileID:      r.ProfileID,
		Platform:       r.Platform,
		URL:            r.URL,
		CanonicalKey:   r.CanonicalKey,
		DisplayText:    r.DisplayText,
		SortOrder:      r.SortOrder,
		State:          link.State(r.State),
		Confidence:     r.Confidence,
		SourceType:     link.SourceType(r.SourceType),
		SourcePlatform: r.SourcePlatform,
		Evidence:       r.Evidence,
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
}

// canonicalKey returns the identity stored in the unique index. URLs the
// detector cannot parse keep their raw form so they never collide with a
// parseable link.
func canonicalKey(l *link.Link) string {
	if l.CanonicalKey != "" {
		return l.CanonicalKey
	}
	if key, ok := platform.Key(l.URL); ok {
		return key
	}
	return "raw:" + l.URL
}

// ProfileLinks returns all links for a profile ordered by sort order.
func (q *queries) ProfileLinks(ctx context.Context, profileID string) ([]link.Link, error) {
	var rows []linkRow
	if err := q.sel(ctx, &rows, `SELECT `+linkColumns+` FROM links WHERE profile_id = ? ORDER BY sort_order, created_at`, profileID); err != nil {
		return nil, fmt.Errorf("load profile links: %w", err)
	}
	out := make([]link.Link, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].link())
	}
	return out, nil
}

// Link returns a single link.
func (q *queries) Link(ctx context.Context, id string) (*link.Link, error) {
	var row linkRow
	err := q.get(ctx, &row, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("link %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}
	l := row.link()
	return &l, nil
}

// InsertLink stores l, assigning an ID, canonical key and timestamps when unset.
func (q *queries) InsertLink(ctx context.Context, l *link.Link) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CanonicalKey = canonicalKey(l)
	now := q.now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
	_, err := q.exec(ctx, `INSERT INTO links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ProfileID, l.Platform, l.URL, l.CanonicalKey, l.DisplayText, l.SortOrder,
		string(l.State), l.Confidence, string(l.SourceType), l.SourcePlatform, l.Evidence,
		millis(l.CreatedAt), millis(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// UpdateLink writes the mutable fields of l. Profile, source type and
// creation time never change.
func (q *queries) UpdateLink(ctx context.Context, l *link.Link) error {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = q.now().UTC()
	}
	return q.execOne(ctx, "update link "+l.ID,
		`UPDATE links SET platform = ?, url = ?, display_text = ?, sort_order = ?, state = ?,
			confidence = ?, evidence = ?, updated_at = ? WHERE id = ?`,
		l.Platform, l.URL, l.DisplayText, l.SortOrder, string(l.State),
		l.Confidence, l.Evidence, millis(l.UpdatedAt), l.ID)
}

// AcceptLink promotes a suggested link to active.
func (q *queries) AcceptLink(ctx context.Context, id string) (*link.Link, error) {
	return q.transition(ctx, id, (*link.Link).Accept)
}

// DismissLink rejects a suggested link and zeroes its confidence.
func (q *queries) DismissLink(ctx context.Context, id string) (*link.Link, error) {
	return q.transition(ctx, id, (*link.Link).Dismiss)
}

func (q *queries) transition(ctx context.Context, id string, fn func(*link.Link) error) (*link.Link, error) {
	l, err := q.Link(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(l); err != nil {
		return nil, fmt.Errorf("link %s: %w", id, err)
	}
	l.UpdatedAt = q.now().UTC()
	if err := q.UpdateLink(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}
