package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"draftcell/internal/apperr"
	"draftcell/internal/blobstore"
	"draftcell/internal/box"
	"draftcell/internal/config"
	"draftcell/internal/draft"
	"draftcell/internal/models"
	"draftcell/internal/store"
	"draftcell/internal/webdav"
)

// app holds the local stores one command works against.
type app struct {
	cfg    *config.Config
	store  *store.Store
	drafts *draft.Service
	now    func() time.Time
}

func openApp(cfg *config.Config, handlePrefix string) (*app, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	cas, err := blobstore.NewLocalCAS(cfg.BlobDir())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &app{
		cfg:    cfg,
		store:  st,
		drafts: draft.NewService(st, cas, draft.NewHandleTable(handlePrefix)),
		now:    time.Now,
	}, nil
}

func (a *app) close() error {
	return a.store.Close()
}

func withApp(cfg *config.Config, fn func(*app) error) error {
	a, err := openApp(cfg, "")
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// session returns the stored session or not_authorized.
func (a *app) session(ctx context.Context) (models.Session, error) {
	session, err := a.store.GetSession(ctx)
	if err != nil {
		return models.Session{}, err
	}
	if err := session.Require(); err != nil {
		return models.Session{}, err
	}
	if !session.Expiry.IsZero() && a.now().After(session.Expiry) {
		return models.Session{}, apperr.New(apperr.CodeNotAuthorized, "session expired at "+formatTime(session.Expiry))
	}
	return session, nil
}

func (a *app) remote(rootURL string, session models.Session) (*webdav.Client, error) {
	return webdav.NewClient(rootURL, session.AccessToken, webdav.WithTimeout(a.cfg.HTTPTimeout.Duration))
}

func (a *app) provisioner(ctx context.Context) (*box.Provisioner, models.Session, error) {
	session, err := a.session(ctx)
	if err != nil {
		return nil, models.Session{}, err
	}
	cell, err := a.remote(session.CellURL, session)
	if err != nil {
		return nil, models.Session{}, err
	}
	p, err := box.New(cell, box.Options{
		AppCellURL:   a.cfg.AppCellURL,
		BoxName:      a.cfg.BoxName,
		BarPath:      a.cfg.BarPath,
		SchemaURL:    a.cfg.BoxSchemaURL,
		PollInterval: a.cfg.Install.PollInterval.Duration,
		Timeout:      a.cfg.Install.Timeout.Duration,
		HTTPClient:   &http.Client{Timeout: a.cfg.HTTPTimeout.Duration},
	})
	if err != nil {
		return nil, models.Session{}, err
	}
	logger := slog.Default().With("component", "cli")
	p.OnTransition(func(from, to models.BoxState) {
		logger.Debug("box state", "from", from, "to", to)
	})
	return p, session, nil
}
