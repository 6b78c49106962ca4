// Package server is the local preview server. It renders the current draft
// and serves the transient image handles the draft refers to.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"draftcell/internal/models"
)

const (
	allowRemoteEnvKey = "DRAFTCELL_ALLOW_REMOTE"
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 5 * time.Second

	// BlobPath is the route prefix image handles resolve under.
	BlobPath = "/blob/"
)

// Handles resolves transient image handles to local image keys.
type Handles interface {
	Resolve(handle string) (models.LocalImageKey, bool)
}

// Drafts is the part of the draft service the preview reads.
type Drafts interface {
	LoadDraft(ctx context.Context) (models.Draft, error)
	GetImage(ctx context.Context, key models.LocalImageKey) (models.LocalImage, io.ReadCloser, error)
}

// Server serves the preview.
type Server struct {
	addr    string
	drafts  Drafts
	handles Handles
	logger  *slog.Logger
}

// New creates a preview server. handles must be the table the draft service
// issues handles from.
func New(addr string, drafts Drafts, handles Handles, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		drafts:  drafts,
		handles: handles,
		logger:  logger.With("component", "preview"),
	}
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.routes())
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log().Info("starting preview server", "addr", ln.Addr().String())
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log().Info("preview server stopped")
		return nil
	}
}

// ListenAddr converts a preview URL or host:port into a listen address.
// Non-loopback hosts need DRAFTCELL_ALLOW_REMOTE=true.
func ListenAddr(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("preview address is required")
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(raw)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return raw, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
