package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"draftcell/internal/models"
)

// GetSession returns the stored session. A missing row yields the zero
// session, which is not authorized.
func (s *Store) GetSession(ctx context.Context) (models.Session, error) {
	var (
		session   models.Session
		expiry    sql.NullString
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT cell_url, access_token, token_type, refresh_token, expiry, updated_at
		FROM session WHERE id = 1
	`).Scan(&session.CellURL, &session.AccessToken, &session.TokenType, &session.RefreshToken, &expiry, &updatedAt)
	if err == sql.ErrNoRows {
		return models.Session{}, nil
	}
	if err != nil {
		return models.Session{}, err
	}
	if expiry.Valid {
		if session.Expiry, err = parseTime(expiry.String); err != nil {
			return models.Session{}, fmt.Errorf("parse session expiry: %w", err)
		}
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Session{}, fmt.Errorf("parse session updated_at: %w", err)
	}
	return session, nil
}

// SaveSession replaces the stored session.
func (s *Store) SaveSession(ctx context.Context, session models.Session) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}
	var expiry any
	if !session.Expiry.IsZero() {
		expiry = dbFormatTime(session.Expiry)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, cell_url, access_token, token_type, refresh_token, expiry, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  cell_url = excluded.cell_url,
		  access_token = excluded.access_token,
		  token_type = excluded.token_type,
		  refresh_token = excluded.refresh_token,
		  expiry = excluded.expiry,
		  updated_at = excluded.updated_at
	`, session.CellURL, session.AccessToken, session.TokenType, session.RefreshToken, expiry, dbFormatTime(session.UpdatedAt))
	return err
}

// ClearSession forgets the stored session.
func (s *Store) ClearSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`)
	return err
}
