package store

import (
	"context"

	"draftcell/internal/models"
)

// DraftStore persists the single working draft.
type DraftStore interface {
	GetDraft(ctx context.Context) (*models.Draft, error)
	PutDraft(ctx context.Context, draft models.Draft) error
}

// ImageStore persists local image metadata.
type ImageStore interface {
	ImageExists(ctx context.Context, key string) (bool, error)
	CreateImage(ctx context.Context, image *models.LocalImage) error
	GetImage(ctx context.Context, key string) (*models.LocalImage, error)
	ListImages(ctx context.Context) ([]models.LocalImage, error)
}

// SessionStore persists the authorization session between invocations.
type SessionStore interface {
	GetSession(ctx context.Context) (models.Session, error)
	SaveSession(ctx context.Context, session models.Session) error
	ClearSession(ctx context.Context) error
}

var (
	_ DraftStore   = (*Store)(nil)
	_ ImageStore   = (*Store)(nil)
	_ SessionStore = (*Store)(nil)
)
