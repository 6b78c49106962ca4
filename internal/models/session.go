package models

import (
	"strings"
	"time"

	"draftcell/internal/apperr"
)

// Session is the remote identity produced by the authorization flow.
type Session struct {
	CellURL      string    `json:"cell_url"`
	AccessToken  string    `json:"-"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// Authorized reports whether the session holds an access token.
func (s Session) Authorized() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

// Require fails with not_authorized when the session has no token or cell.
func (s Session) Require() error {
	if !s.Authorized() {
		return apperr.New(apperr.CodeNotAuthorized, "no access token; run `draftcell login`")
	}
	if strings.TrimSpace(s.CellURL) == "" {
		return apperr.New(apperr.CodeNotAuthorized, "no cell url in session")
	}
	return nil
}
