// Package box finds the user's box for this app and installs it from the
// app's bar archive when it is missing.
package box

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"draftcell/internal/apperr"
	"draftcell/internal/models"
	"draftcell/internal/webdav"
)

const (
	DefaultBarPath      = "__/app.bar"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 30 * time.Second

	probePath       = "__box"
	statusReady     = "ready"
	statusTimeout   = "timeout"
	zipContentType  = "application/zip"
	maxBarBytes     = 64 << 20
	maxStatusBytes  = 64 << 10
	barDownloadFail = "downloading bar file failed"
)

// Cell sends authorized requests to paths under the user's cell URL.
type Cell interface {
	NewRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error)
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Provisioner.
type Options struct {
	// AppCellURL is where the bar archive is downloaded from.
	AppCellURL string
	BoxName    string
	BarPath    string
	// SchemaURL, when set, is passed to the box probe as the schema query.
	SchemaURL    string
	PollInterval time.Duration
	Timeout      time.Duration
	// HTTPClient downloads the bar archive. The download is not authorized.
	HTTPClient *http.Client
}

// InstallError is returned when an install does not finish. It carries the
// status log written so far.
type InstallError struct {
	Log []models.StatusEntry
	Err error
}

func (e *InstallError) Error() string {
	if len(e.Log) == 0 {
		return "box install failed: " + e.Err.Error()
	}
	return fmt.Sprintf("box install failed after %q: %v", e.Log[len(e.Log)-1].Text, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Provisioner tracks the box state machine:
// unchecked -> checking -> provisioned | absent.
type Provisioner struct {
	cell   Cell
	opts   Options
	bar    *http.Client
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	box       models.Box
	log       []models.StatusEntry
	observers []Observer
}

// Observer is called after a state change, outside the provisioner lock.
type Observer func(from, to models.BoxState)

// New returns a Provisioner in the unchecked state.
func New(cell Cell, opts Options) (*Provisioner, error) {
	if cell == nil {
		return nil, apperr.New(apperr.CodeNotAuthorized, "cell client is required")
	}
	if strings.TrimSpace(opts.BoxName) == "" || strings.ContainsAny(opts.BoxName, "/?#") {
		return nil, apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("invalid box name %q", opts.BoxName))
	}
	if opts.BarPath == "" {
		opts.BarPath = DefaultBarPath
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	bar := opts.HTTPClient
	if bar == nil {
		bar = &http.Client{Timeout: DefaultTimeout}
	}
	return &Provisioner{
		cell:   cell,
		opts:   opts,
		bar:    bar,
		now:    time.Now,
		logger: slog.Default().With("component", "box", "box", opts.BoxName),
		box:    models.Box{State: models.BoxUnchecked},
	}, nil
}

// OnTransition registers fn to run after every state change.
func (p *Provisioner) OnTransition(fn Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// State returns the current state.
func (p *Provisioner) State() models.BoxState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.box.State
}

// Box returns the current state and, when provisioned, the box URL.
func (p *Provisioner) Box() models.Box {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.box
}

// Log returns the status log of the last install.
func (p *Provisioner) Log() []models.StatusEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StatusEntry(nil), p.log...)
}

func (p *Provisioner) setBox(next models.Box) {
	p.mu.Lock()
	from := p.box.State
	p.box = next
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	if from == next.State {
		return
	}
	p.logger.Debug("box state", "from", from, "to", next.State)
	for _, fn := range observers {
		fn(from, next.State)
	}
}

func (p *Provisioner) appendLog(text string) {
	p.mu.Lock()
	p.log = append(p.log, models.StatusEntry{Time: p.now().UTC(), Text: text})
	p.mu.Unlock()
	p.logger.Info("install status", "status", text)
}

// Refresh probes the cell for the box. A 403 answer means the box is absent.
// Any other failure leaves the state unchecked and is returned.
func (p *Provisioner) Refresh(ctx context.Context) (models.Box, error) {
	p.setBox(models.Box{State: models.BoxChecking})

	boxURL, err := p.probe(ctx)
	if err != nil {
		p.setBox(models.Box{State: models.BoxUnchecked})
		return models.Box{State: models.BoxUnchecked}, err
	}
	next := models.Box{State: models.BoxAbsent}
	if boxURL != "" {
		next = models.Box{State: models.BoxProvisioned, URL: boxURL}
	}
	p.setBox(next)
	return next, nil
}

func (p *Provisioner) probe(ctx context.Context) (string, error) {
	req, err := p.cell.NewRequest(ctx, http.MethodGet, probePath, nil)
	if err != nil {
		return "", err
	}
	if p.opts.SchemaURL != "" {
		req.URL.RawQuery = url.Values{"schema": {p.opts.SchemaURL}}.Encode()
	}
	resp, err := p.cell.Do(req)
	if err != nil {
		return "", err
	}
	switch {
	case resp.StatusCode == http.StatusForbidden:
		_ = resp.Body.Close()
		return "", nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", webdav.ResponseError(resp)
	}
	_ = resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", nil
	}
	u, err := req.URL.Parse(location)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeRemoteStore, "invalid box location "+location, err)
	}
	boxURL := u.String()
	if !strings.HasSuffix(boxURL, "/") {
		boxURL += "/"
	}
	return boxURL, nil
}

// Install downloads the bar archive, asks the cell to create the box from it
// and waits for the box to become ready. It is only allowed while the box is
// absent. Progress is recorded in Log.
func (p *Provisioner) Install(ctx context.Context) (models.Box, error) {
	if state := p.State(); state != models.BoxAbsent {
		return p.Box(), apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("box install needs state %s, box is %s", models.BoxAbsent, state))
	}
	p.mu.Lock()
	p.log = nil
	p.mu.Unlock()

	bar, err := p.downloadBar(ctx)
	if err != nil {
		p.appendLog(barDownloadFail)
		return p.Box(), &InstallError{Log: p.Log(), Err: err}
	}
	p.logger.Debug("bar downloaded", "bytes", len(bar))

	req, err := p.cell.NewRequest(ctx, webdav.MethodMkcol, p.opts.BoxName, bytes.NewReader(bar))
	if err != nil {
		return p.Box(), err
	}
	req.Header.Set("Content-Type", zipContentType)
	resp, err := p.cell.Do(req)
	if err != nil {
		return p.Box(), err
	}
	switch {
	case resp.StatusCode == http.StatusAccepted:
		_ = resp.Body.Close()
		if err := p.waitReady(ctx); err != nil {
			if errors.Is(err, apperr.ErrTimeout) {
				p.setBox(models.Box{State: models.BoxAbsent})
			}
			return p.Box(), &InstallError{Log: p.Log(), Err: err}
		}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_ = resp.Body.Close()
	default:
		return p.Box(), webdav.ResponseError(resp)
	}
	return p.Refresh(ctx)
}

func (p *Provisioner) downloadBar(ctx context.Context) ([]byte, error) {
	base, err := url.Parse(p.opts.AppCellURL)
	if err != nil || !base.IsAbs() {
		return nil, apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("invalid app cell url %q", p.opts.AppCellURL))
	}
	ref, err := url.Parse(p.opts.BarPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidArgument, "invalid bar path", err)
	}
	endpoint := base.ResolveReference(ref).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.bar.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRemoteStore, barDownloadFail, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e := apperr.Remote(http.MethodGet, endpoint, resp.StatusCode)
		e.Message = barDownloadFail
		return nil, e
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBarBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRemoteStore, barDownloadFail, err)
	}
	return data, nil
}

type installStatus struct {
	Box struct {
		Status   string `json:"status"`
		Progress string `json:"progress"`
	} `json:"box"`
}

// waitReady polls the box URL until it reports ready. The ticker and the
// deadline are released on every return path.
func (p *Provisioner) waitReady(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	timedOut := func() bool {
		return ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded)
	}

	for {
		select {
		case <-pollCtx.Done():
			if timedOut() {
				p.appendLog(statusTimeout)
				return apperr.New(apperr.CodeTimeout, fmt.Sprintf("box not ready after %s", p.opts.Timeout))
			}
			return ctx.Err()
		case <-ticker.C:
			if pollCtx.Err() != nil {
				continue
			}
		}

		status, err := p.pollStatus(pollCtx)
		if err != nil {
			if timedOut() {
				p.appendLog(statusTimeout)
				return apperr.Wrap(apperr.CodeTimeout, fmt.Sprintf("box not ready after %s", p.opts.Timeout), err)
			}
			return err
		}
		if status.Box.Status == statusReady {
			p.appendLog(statusReady)
			return nil
		}
		p.appendLog(status.Box.Status + " " + status.Box.Progress)
	}
}

func (p *Provisioner) pollStatus(ctx context.Context) (installStatus, error) {
	var status installStatus
	req, err := p.cell.NewRequest(ctx, http.MethodGet, p.opts.BoxName, nil)
	if err != nil {
		return status, err
	}
	resp, err := p.cell.Do(req)
	if err != nil {
		return status, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return status, webdav.ResponseError(resp)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStatusBytes)).Decode(&status); err != nil {
		return status, apperr.Wrap(apperr.CodeRemoteStore, "decode box install status", err)
	}
	return status, nil
}
