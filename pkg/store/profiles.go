package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
)

const profileColumns = `id, username_normalized, display_name, display_name_locked,
	avatar_url, avatar_locked, ingestion_status, last_ingestion_error, updated_at`

type profileRow struct {
	ID                 string  `db:"id"`
	UsernameNormalized string  `db:"username_normalized"`
	DisplayName        *string `db:"display_name"`
	DisplayNameLocked  bool    `db:"display_name_locked"`
	AvatarURL          *string `db:"avatar_url"`
	AvatarLocked       bool    `db:"avatar_locked"`
	IngestionStatus    string  `db:"ingestion_status"`
	LastIngestionError *string `db:"last_ingestion_error"`
	UpdatedAt          int64   `db:"updated_at"`
}

func (r *profileRow) profile() *link.Profile {
	return &link.Profile{
		ID:                 r.ID,
		UsernameNormalized: r.UsernameNormalized,
		DisplayName:        r.DisplayName,
		DisplayNameLocked:  r.DisplayNameLocked,
		AvatarURL:          r.AvatarURL,
		AvatarLocked:       r.AvatarLocked,
		IngestionStatus:    link.IngestionStatus(r.IngestionStatus),
		LastIngestionError: r.LastIngestionError,
		UpdatedAt:          fromMillis(r.UpdatedAt),
	}
}

// InsertProfile stores p, assigning an ID when it has none.
func (q *queries) InsertProfile(ctx context.Context, p *link.Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.IngestionStatus == "" {
		p.IngestionStatus = link.IngestionIdle
	}
	p.UpdatedAt = q.now().UTC()
	_, err := q.exec(ctx, `INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UsernameNormalized, p.DisplayName, p.DisplayNameLocked,
		p.AvatarURL, p.AvatarLocked, string(p.IngestionStatus), p.LastIngestionError, millis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// Profile returns the profile with the given ID.
func (q *queries) Profile(ctx context.Context, id string) (*link.Profile, error) {
	var row profileRow
	err := q.get(ctx, &row, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return row.profile(), nil
}

// SetIngestionStatus records the profile's ingestion state. errMsg is stored
// as the last ingestion error; nil clears it.
func (q *queries) SetIngestionStatus(ctx context.Context, id string, status link.IngestionStatus, errMsg *string) error {
	return q.execOne(ctx, "set ingestion status",
		`UPDATE profiles SET ingestion_status = ?, last_ingestion_error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, millis(q.now()), id)
}

// UpdateProfileEnrichment writes the resolved display name and avatar URL.
func (q *queries) UpdateProfileEnrichment(ctx context.Context, id string, displayName, avatarURL *string) error {
	return q.execOne(ctx, "update profile enrichment",
		`UPDATE profiles SET display_name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
		displayName, avatarURL, millis(q.now()), id)
}
