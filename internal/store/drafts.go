package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"draftcell/internal/apperr"
	"draftcell/internal/models"
)

// GetDraft returns the persisted draft, or nil when none has been saved.
func (s *Store) GetDraft(ctx context.Context) (*models.Draft, error) {
	var (
		draftTime  int64
		version    string
		compressed []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT time, version, blocks_zstd FROM drafts WHERE id = 1`).
		Scan(&draftTime, &version, &compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeLocalStoreCorruption, "decompress draft blocks", err)
	}
	var blocks []models.Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, apperr.Wrap(apperr.CodeLocalStoreCorruption, "decode draft blocks", err)
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	return &models.Draft{Time: draftTime, Version: version, Blocks: blocks}, nil
}

// PutDraft replaces the persisted draft wholesale, inserting it if absent.
func (s *Store) PutDraft(ctx context.Context, draft models.Draft) error {
	blocks := draft.Blocks
	if blocks == nil {
		blocks = []models.Block{}
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("encode draft blocks: %w", err)
	}
	compressed := s.enc.EncodeAll(raw, nil)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, time, version, blocks_zstd, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  time = excluded.time,
		  version = excluded.version,
		  blocks_zstd = excluded.blocks_zstd,
		  updated_at = excluded.updated_at
	`, draft.Time, draft.Version, compressed, dbFormatTime(time.Now()))
	return err
}
