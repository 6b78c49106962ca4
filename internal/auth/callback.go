package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"draftcell/internal/apperr"
)

// Code is what the authorization redirect delivers.
type Code struct {
	Code  string
	State string
}

const callbackPage = `<!doctype html>
<meta charset="utf-8">
<title>draftcell</title>
<p>Authorization received. You can close this window.</p>
`

// CallbackListener is a one-shot local HTTP listener for the authorization
// redirect.
type CallbackListener struct {
	ln     net.Listener
	srv    *http.Server
	path   string
	result chan Code
	once   sync.Once
}

// ListenCallback listens on addr and accepts the redirect at path.
func ListenCallback(addr, path string) (*CallbackListener, error) {
	if path == "" {
		path = DefaultRedirectPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for authorization callback: %w", err)
	}
	l := &CallbackListener{
		ln:     ln,
		path:   path,
		result: make(chan Code, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, l.handle)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = l.srv.Serve(ln) }()
	return l, nil
}

// RedirectURL is the absolute URL to register as redirect.
func (l *CallbackListener) RedirectURL() string {
	return "http://" + l.ln.Addr().String() + l.path
}

func (l *CallbackListener) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "code and state are required", http.StatusBadRequest)
		return
	}
	delivered := false
	l.once.Do(func() {
		l.result <- Code{Code: code, State: state}
		delivered = true
	})
	if !delivered {
		http.Error(w, "authorization already received", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(callbackPage))
}

// Wait blocks until the redirect arrives or ctx ends.
func (l *CallbackListener) Wait(ctx context.Context) (Code, error) {
	select {
	case c := <-l.result:
		return c, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Code{}, apperr.Wrap(apperr.CodeTimeout, "no authorization callback received", ctx.Err())
		}
		return Code{}, ctx.Err()
	}
}

// Close stops the listener.
func (l *CallbackListener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return l.srv.Shutdown(ctx)
}
