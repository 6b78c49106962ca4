// Package draft is the local draft store: the single working draft and the
// images attached to it.
package draft

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"draftcell/internal/apperr"
	"draftcell/internal/blobstore"
	"draftcell/internal/models"
	"draftcell/internal/store"
)

// Store is the persistence the service needs.
type Store interface {
	store.DraftStore
	store.ImageStore
}

// Service implements the local draft store on top of SQLite metadata and the
// blob tree.
type Service struct {
	store   Store
	blobs   blobstore.Store
	handles *HandleTable
	now     func() time.Time
	logger  *slog.Logger
}

// NewService wires a draft service. A nil handles table gets the default
// prefix.
func NewService(st Store, blobs blobstore.Store, handles *HandleTable) *Service {
	if handles == nil {
		handles = NewHandleTable("")
	}
	return &Service{
		store:   st,
		blobs:   blobs,
		handles: handles,
		now:     time.Now,
		logger:  slog.Default().With("component", "draft"),
	}
}

// Handles returns the table that resolves handles issued by LoadDraft and
// StoreImage.
func (s *Service) Handles() *HandleTable {
	return s.handles
}

// LoadDraft returns the persisted draft with every local image URL replaced by
// a transient handle. Without a persisted draft it returns the welcome draft,
// which is not saved.
func (s *Service) LoadDraft(ctx context.Context) (models.Draft, error) {
	current, ok, err := s.CurrentDraft(ctx)
	if err != nil {
		return models.Draft{}, err
	}
	if !ok {
		return models.WelcomeDraft(), nil
	}

	blocks := make([]models.Block, len(current.Blocks))
	for i, block := range current.Blocks {
		blocks[i] = block
		img, isImage := block.Image()
		if !isImage || !img.IsLocal() {
			continue
		}
		key := *img.File.Key
		meta, err := s.store.GetImage(ctx, string(key))
		if err != nil {
			return models.Draft{}, err
		}
		if meta == nil {
			return models.Draft{}, apperr.New(apperr.CodeLocalStoreCorruption, fmt.Sprintf("draft references missing image %s", key))
		}
		img.File.URL = s.handles.Issue(key)
		blocks[i].Data = img
	}
	current.Blocks = blocks
	return current, nil
}

// CurrentDraft returns the persisted draft as stored. ok is false when no
// draft has been saved.
func (s *Service) CurrentDraft(ctx context.Context) (models.Draft, bool, error) {
	stored, err := s.store.GetDraft(ctx)
	if err != nil {
		return models.Draft{}, false, err
	}
	if stored == nil {
		return models.Draft{}, false, nil
	}
	return *stored, true, nil
}

// UpdateDraft replaces the persisted draft wholesale.
func (s *Service) UpdateDraft(ctx context.Context, draft models.Draft) error {
	draft.Stamp(s.now())
	if err := s.store.PutDraft(ctx, draft); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	s.logger.Debug("draft saved", "blocks", len(draft.Blocks), "local_images", len(draft.LocalKeys()))
	return nil
}

// Reset saves an empty draft.
func (s *Service) Reset(ctx context.Context) error {
	return s.UpdateDraft(ctx, models.Draft{Blocks: []models.Block{}})
}

// StoreImage persists r and returns its metadata together with a transient
// handle for previewing it.
func (s *Service) StoreImage(ctx context.Context, r io.Reader, filename, mediaType string) (models.LocalImage, string, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "." || filename == string(filepath.Separator) {
		filename = ""
	}

	put, err := s.blobs.Put(ctx, r)
	if err != nil {
		return models.LocalImage{}, "", fmt.Errorf("store image bytes: %w", err)
	}

	image := models.LocalImage{
		Filename:  filename,
		MediaType: resolveMediaType(mediaType, filename, put.Head),
		SizeBytes: put.SizeBytes,
		SHA256:    put.SHA256,
		BlobKey:   put.BlobKey,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateImage(ctx, &image); err != nil {
		return models.LocalImage{}, "", fmt.Errorf("record image: %w", err)
	}

	handle := s.handles.Issue(image.Key)
	s.logger.Debug("image stored", "key", image.Key, "media_type", image.MediaType, "size", image.SizeBytes)
	return image, handle, nil
}

// GetImage returns the metadata and bytes of the image stored under key.
// Unknown keys fail with not_found; metadata without bytes is reported as
// local store corruption.
func (s *Service) GetImage(ctx context.Context, key models.LocalImageKey) (models.LocalImage, io.ReadCloser, error) {
	meta, err := s.store.GetImage(ctx, string(key))
	if err != nil {
		return models.LocalImage{}, nil, err
	}
	if meta == nil {
		return models.LocalImage{}, nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("image %s not found", key))
	}
	rc, err := s.blobs.Open(ctx, meta.BlobKey)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.LocalImage{}, nil, apperr.Wrap(apperr.CodeLocalStoreCorruption, fmt.Sprintf("bytes of image %s are missing", key), err)
		}
		return models.LocalImage{}, nil, err
	}
	return *meta, rc, nil
}

// ListImages returns metadata for every stored image.
func (s *Service) ListImages(ctx context.Context) ([]models.LocalImage, error) {
	return s.store.ListImages(ctx)
}
