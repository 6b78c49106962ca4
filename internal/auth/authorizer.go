// Package auth drives the app cell's authorization endpoints and receives the
// redirect that completes them.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"draftcell/internal/apperr"
)

const (
	DefaultRedirectPath = "/__/auth/receive_redirect"

	startPath    = "__/auth/start_oauth2"
	exchangePath = "__/auth/receive_redirect"

	formContentType = "application/x-www-form-urlencoded"
	maxTokenBytes   = 64 << 10
	defaultTimeout  = 30 * time.Second
)

// Authorizer talks to the app cell. Requests share a cookie jar so the
// exchange sees the cookies the start call set.
type Authorizer struct {
	appCell *url.URL
	http    *http.Client
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithHTTPClient uses hc. A client without a cookie jar gets one.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Authorizer) {
		c := *hc
		a.http = &c
	}
}

// NewAuthorizer returns an Authorizer for the app cell at appCellURL, which
// must end in "/".
func NewAuthorizer(appCellURL string, opts ...Option) (*Authorizer, error) {
	u, err := url.Parse(strings.TrimSpace(appCellURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || !strings.HasSuffix(u.Path, "/") {
		return nil, apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("app cell url %q must be an absolute http(s) url ending in /", appCellURL))
	}
	a := &Authorizer{
		appCell: u,
		http:    &http.Client{Timeout: defaultTimeout},
		now:     time.Now,
		logger:  slog.Default().With("component", "auth"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		a.http.Jar = jar
	}
	return a, nil
}

func (a *Authorizer) endpoint(p string, query url.Values) string {
	u := a.appCell.ResolveReference(&url.URL{Path: p})
	u.RawQuery = query.Encode()
	return u.String()
}

// RequestAuthURL starts an authorization for cellURL and returns the URL the
// user must open. redirect replaces the path of the returned redirect_uri; an
// absolute URL replaces the redirect_uri as a whole.
func (a *Authorizer) RequestAuthURL(ctx context.Context, cellURL, redirect string) (string, error) {
	if strings.TrimSpace(cellURL) == "" {
		return "", apperr.New(apperr.CodeInvalidArgument, "cell url is required")
	}
	if redirect == "" {
		redirect = DefaultRedirectPath
	}

	endpoint := a.endpoint(startPath, url.Values{"cellUrl": {cellURL}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", formContentType)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeRemoteStore, "start authorization", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTokenBytes))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.Remote(http.MethodPost, endpoint, resp.StatusCode)
	}

	// The form URL is wherever the redirect chain ended.
	formURL := *resp.Request.URL
	query := formURL.Query()
	current := query.Get("redirect_uri")
	if current == "" {
		return "", apperr.New(apperr.CodeRemoteStore, fmt.Sprintf("authorization url %s has no redirect_uri", formURL.String()))
	}
	next, err := replaceRedirect(current, redirect)
	if err != nil {
		return "", err
	}
	query.Set("redirect_uri", next)
	formURL.RawQuery = query.Encode()

	a.logger.Debug("authorization started", "cell", cellURL, "redirect_uri", next)
	return formURL.String(), nil
}

func replaceRedirect(current, redirect string) (string, error) {
	if r, err := url.Parse(redirect); err == nil && r.IsAbs() {
		return r.String(), nil
	}
	u, err := url.Parse(current)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeRemoteStore, "invalid redirect_uri "+current, err)
	}
	if !strings.HasPrefix(redirect, "/") {
		redirect = "/" + redirect
	}
	u.Path = redirect
	u.RawPath = ""
	return u.String(), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Exchange trades the code delivered to the redirect for a token.
func (a *Authorizer) Exchange(ctx context.Context, cellURL, code, state string) (*oauth2.Token, error) {
	if code == "" || state == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "code and state are required")
	}
	endpoint := a.endpoint(exchangePath, url.Values{
		"cellUrl": {cellURL},
		"code":    {code},
		"state":   {state},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRemoteStore, "exchange authorization code", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Remote(http.MethodGet, a.endpoint(exchangePath, url.Values{"cellUrl": {cellURL}}), resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenBytes)).Decode(&body); err != nil {
		return nil, apperr.Wrap(apperr.CodeRemoteStore, "decode token response", err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return nil, apperr.New(apperr.CodeNotAuthorized, "token response has no access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  body.AccessToken,
		TokenType:    body.TokenType,
		RefreshToken: body.RefreshToken,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if body.ExpiresIn > 0 {
		tok.Expiry = a.now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	a.logger.Info("authorized", "cell", cellURL, "expires", tok.Expiry)
	return tok, nil
}
