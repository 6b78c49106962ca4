// Package webdav is the client for the remote object store: a WebDAV-shaped
// namespace under a box URL, authorized with a bearer token.
package webdav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"draftcell/internal/apperr"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodyBytes  = 4 << 10

	MethodPropfind = "PROPFIND"
	MethodMkcol    = "MKCOL"
)

// Blob is a fetched file.
type Blob struct {
	Data        []byte
	ContentType string
}

// Client talks to one remote namespace rooted at its base URL.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*clientOptions)

// WithHTTPClient sends requests through hc's transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// NewClient returns a client rooted at baseURL. The base must be an absolute
// http(s) URL ending in "/". An empty token fails with not_authorized.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.New(apperr.CodeNotAuthorized, "access token is required")
	}

	o := clientOptions{timeout: defaultHTTPTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	var baseTransport http.RoundTripper
	if o.httpClient != nil {
		baseTransport = o.httpClient.Transport
		if o.httpClient.Timeout > 0 && o.timeout == defaultHTTPTimeout {
			o.timeout = o.httpClient.Timeout
		}
	}

	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   baseTransport,
		},
		Timeout: o.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Client{
		base:   base,
		http:   hc,
		logger: slog.Default().With("component", "webdav"),
	}, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidArgument, "invalid base url", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("base url %q must be an absolute http(s) url", raw))
	}
	if !strings.HasSuffix(u.Path, "/") {
		return nil, apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("base url %q must end with /", raw))
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Resolve turns a relative path into an absolute URL under the base, escaping
// each segment.
func (c *Client) Resolve(p string) (string, error) {
	if strings.HasPrefix(p, "/") || strings.Contains(p, "://") {
		return "", apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("path %q must be relative", p))
	}
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if seg == "." || seg == ".." {
			return "", apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("path %q must not contain dot segments", p))
		}
		segments[i] = url.PathEscape(seg)
	}
	return c.base.String() + strings.Join(segments, "/"), nil
}

// Exists probes p with PROPFIND Depth: 1. A 404 means false; any other
// non-2xx status is an error.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	resp, endpoint, err := c.send(ctx, MethodPropfind, p, nil, http.Header{"Depth": {"1"}})
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, remoteError(MethodPropfind, endpoint, resp)
	}
}

// CreateCollection issues MKCOL for p. It is not idempotent; probe with
// Exists first.
func (c *Client) CreateCollection(ctx context.Context, p string) error {
	resp, endpoint, err := c.send(ctx, MethodMkcol, p, nil, nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(MethodMkcol, endpoint, resp)
	}
	return nil
}

// PutFile uploads body to p with exactly contentType.
func (c *Client) PutFile(ctx context.Context, p string, body io.Reader, contentType string) error {
	if body == nil {
		body = http.NoBody
	}
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	resp, endpoint, err := c.send(ctx, http.MethodPut, p, body, header)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(http.MethodPut, endpoint, resp)
	}
	return nil
}

// GetFile downloads p.
func (c *Client) GetFile(ctx context.Context, p string) (Blob, error) {
	resp, endpoint, err := c.send(ctx, http.MethodGet, p, nil, nil)
	if err != nil {
		return Blob{}, err
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Blob{}, remoteError(http.MethodGet, endpoint, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Blob{}, apperr.Wrap(apperr.CodeRemoteStore, "read "+endpoint, err)
	}
	return Blob{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// NewRequest builds an authorized request for p relative to the base. An
// empty p addresses the base itself.
func (c *Client) NewRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	endpoint, err := c.Resolve(p)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, method, endpoint, body)
}

// Do sends req with the bearer token. Redirects are returned, not followed.
// The caller closes the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRemoteStore, req.Method+" "+req.URL.String(), err)
	}
	c.logger.Debug("request", "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, p string, body io.Reader, header http.Header) (*http.Response, string, error) {
	req, err := c.NewRequest(ctx, method, p, body)
	if err != nil {
		return nil, "", err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	return resp, req.URL.String(), nil
}

// ResponseError turns a response the caller did not expect into a remote
// store failure carrying its status. It consumes and closes the body.
func ResponseError(resp *http.Response) error {
	defer drain(resp)
	method, endpoint := "", ""
	if resp.Request != nil {
		method, endpoint = resp.Request.Method, resp.Request.URL.String()
	}
	return remoteError(method, endpoint, resp)
}

func remoteError(method, endpoint string, resp *http.Response) error {
	e := apperr.Remote(method, endpoint, resp.StatusCode)
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if msg := strings.TrimSpace(string(bytes.ToValidUTF8(snippet, nil))); msg != "" {
		e.Err = fmt.Errorf("%s", firstLine(msg))
	}
	return e
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = resp.Body.Close()
}
