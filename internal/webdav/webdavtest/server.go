// Package webdavtest runs an in-memory cell for tests: a WebDAV box backed by
// golang.org/x/net/webdav plus the box probe, box install and bar download
// endpoints.
package webdavtest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"sync"
	"testing"

	"golang.org/x/net/webdav"
)

const (
	DefaultToken   = "test-token"
	DefaultBoxName = "blog"
	DefaultBarPath = "__/app.bar"

	cellPrefix = "/cell/"
	appPrefix  = "/app/"

	methodMkcol = "MKCOL"
)

// Request is one recorded request.
type Request struct {
	Method        string
	Path          string
	Query         string
	ContentType   string
	Depth         string
	Authorization string
	Body          []byte
}

// Server is a fake cell. Box content lives at <CellURL><box>/.
type Server struct {
	*httptest.Server

	FS    webdav.FileSystem
	Token string

	boxName string
	dav     *webdav.Handler

	mu              sync.Mutex
	requests        []Request
	overrides       map[string]int
	strictMkcol     bool
	boxInstalled    bool
	installing      bool
	installAccept   int
	installStatuses []string
	installProgress string
	polls           int
	bar             []byte
	barStatus       int
}

// Option configures a Server.
type Option func(*Server)

// WithBoxName changes the box name (default "blog").
func WithBoxName(name string) Option {
	return func(s *Server) { s.boxName = name }
}

// WithBoxInstalled sets whether the box exists from the start (default true).
func WithBoxInstalled(installed bool) Option {
	return func(s *Server) { s.boxInstalled = installed }
}

// WithStrictMkcol makes MKCOL on an existing collection answer 405 like
// x/net/webdav does. By default the server tolerates it and leaves the
// collection untouched.
func WithStrictMkcol() Option {
	return func(s *Server) { s.strictMkcol = true }
}

// NewServer starts a fake cell and closes it when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		FS:              webdav.NewMemFS(),
		Token:           DefaultToken,
		boxName:         DefaultBoxName,
		overrides:       map[string]int{},
		boxInstalled:    true,
		installAccept:   http.StatusAccepted,
		installStatuses: []string{"ready"},
		installProgress: "0%",
		bar:             []byte("PK\x03\x04fake-bar"),
		barStatus:       http.StatusOK,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dav = &webdav.Handler{
		Prefix:     strings.TrimSuffix(s.boxPath(), "/"),
		FileSystem: s.FS,
		LockSystem: webdav.NewMemLS(),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

// CellURL is the cell root, ending in "/".
func (s *Server) CellURL() string { return s.URL + cellPrefix }

// AppCellURL is the application cell root, ending in "/".
func (s *Server) AppCellURL() string { return s.URL + appPrefix }

// BoxURL is the box root, ending in "/".
func (s *Server) BoxURL() string { return s.URL + s.boxPath() }

// BoxName returns the box name.
func (s *Server) BoxName() string { return s.boxName }

func (s *Server) boxPath() string { return cellPrefix + s.boxName + "/" }

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns how many requests have been recorded.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// ResetRequests forgets recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Fail makes every request with method to the box-relative path p answer
// status.
func (s *Server) Fail(method, p string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[method+" "+s.boxPath()+p] = status
}

// FailPath is Fail for a server-absolute path such as "/cell/__box".
func (s *Server) FailPath(method, absPath string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[method+" "+absPath] = status
}

// SetBoxInstalled flips whether the box probe finds the box.
func (s *Server) SetBoxInstalled(installed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxInstalled = installed
}

// BoxInstalled reports whether the box exists.
func (s *Server) BoxInstalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boxInstalled
}

// ScriptInstall sets the MKCOL answer of a box install and the statuses that
// successive polls report. The last status repeats. A "ready" poll installs
// the box.
func (s *Server) ScriptInstall(accept int, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installAccept = accept
	s.installStatuses = append([]string(nil), statuses...)
	s.polls = 0
}

// SetBar sets the bar download answer.
func (s *Server) SetBar(status int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barStatus = status
	s.bar = data
}

// WriteFile seeds a box-relative file, creating parent collections.
func (s *Server) WriteFile(p string, data []byte) error {
	ctx := context.Background()
	name := "/" + strings.TrimPrefix(p, "/")
	if dir := path.Dir(name); dir != "/" {
		if err := mkdirAll(ctx, s.FS, dir); err != nil {
			return err
		}
	}
	f, err := s.FS.OpenFile(ctx, name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile returns the content of a box-relative file.
func (s *Server) ReadFile(p string) ([]byte, error) {
	f, err := s.FS.OpenFile(context.Background(), "/"+strings.TrimPrefix(p, "/"), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// List returns the names inside a box-relative collection.
func (s *Server) List(p string) ([]string, error) {
	f, err := s.FS.OpenFile(context.Background(), "/"+strings.Trim(p, "/"), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	infos, err := f.Readdir(-1)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func mkdirAll(ctx context.Context, fs webdav.FileSystem, dir string) error {
	parts := strings.Split(strings.Trim(dir, "/"), "/")
	current := ""
	for _, part := range parts {
		current += "/" + part
		if err := fs.Mkdir(ctx, current, 0o755); err != nil && !os.IsExist(err) {
			if info, statErr := fs.Stat(ctx, current); statErr != nil || !info.IsDir() {
				return err
			}
		}
	}
	return nil
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		ContentType:   r.Header.Get("Content-Type"),
		Depth:         r.Header.Get("Depth"),
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	status, overridden := s.overrides[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if overridden {
		http.Error(w, http.StatusText(status), status)
		return
	}

	if r.URL.Path == appPrefix+DefaultBarPath {
		s.serveBar(w, r)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+s.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == cellPrefix+"__box":
		s.serveBoxProbe(w, r)
	case r.URL.Path == strings.TrimSuffix(s.boxPath(), "/"):
		s.serveBoxRoot(w, r)
	case strings.HasPrefix(r.URL.Path, s.boxPath()):
		s.serveBoxContent(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveBar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	status, data := s.barStatus, s.bar
	s.mu.Unlock()
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	_, _ = w.Write(data)
}

func (s *Server) serveBoxProbe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	installed := s.boxInstalled
	s.mu.Unlock()
	if !installed {
		http.Error(w, "box not found for this app", http.StatusForbidden)
		return
	}
	w.Header().Set("Location", s.BoxURL())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"Box": map[string]string{"Name": s.boxName}})
}

// serveBoxRoot handles the box URL without a trailing slash: MKCOL installs a
// bar, GET reports install status.
func (s *Server) serveBoxRoot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case methodMkcol:
		if s.boxInstalled {
			http.Error(w, "box already exists", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Content-Type") != "application/zip" {
			http.Error(w, "bar file must be application/zip", http.StatusUnsupportedMediaType)
			return
		}
		switch {
		case s.installAccept == http.StatusAccepted:
			s.installing = true
			s.polls = 0
		case s.installAccept >= 200 && s.installAccept < 300:
			s.boxInstalled = true
		}
		w.WriteHeader(s.installAccept)
	case http.MethodGet:
		status := "ready"
		if s.installing {
			idx := s.polls
			if idx >= len(s.installStatuses) {
				idx = len(s.installStatuses) - 1
			}
			if idx >= 0 {
				status = s.installStatuses[idx]
			}
			s.polls++
			if status == "ready" {
				s.installing = false
				s.boxInstalled = true
			}
		} else if !s.boxInstalled {
			http.NotFound(w, r)
			return
		}
		progress := s.installProgress
		if status == "ready" {
			progress = "100%"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"box": map[string]string{"status": status, "progress": progress},
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveBoxContent(w http.ResponseWriter, r *http.Request) {
	if r.Method == methodMkcol && !s.strictMkcolEnabled() {
		name := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(s.boxPath(), "/"))
		if info, err := s.FS.Stat(r.Context(), name); err == nil && info.IsDir() {
			w.WriteHeader(http.StatusCreated)
			return
		}
	}
	s.dav.ServeHTTP(w, r)
}

func (s *Server) strictMkcolEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strictMkcol
}
