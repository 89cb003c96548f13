// Package backend is the HTTP client for the TapCommand API: documentation
// listing/content and the session endpoints under /api/v1/auth.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/tapcommand-web/internal/pathutil"
	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

const maxResponseBytes = 8 << 20

// Metrics is satisfied by *metrics.ServerMetrics. code is 0 when the request
// never got a response.
type Metrics interface {
	ObserveBackendRequest(op string, code int, d time.Duration)
}

type Config struct {
	BaseURL string
	// Timeout applies to the whole request when the caller's ctx has no
	// earlier deadline. Default 10s.
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    Metrics
	UserAgent  string
}

type Client struct {
	base      *url.URL
	http      *http.Client
	metrics   Metrics
	userAgent string
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, xerrors.Wrap(err, "parse backend url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, xerrors.Newf("backend url %q must be absolute http(s)", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "tapcommand-web"
	}
	return &Client{base: u, http: hc, metrics: cfg.Metrics, userAgent: ua}, nil
}

// ListFiles returns every documentation file, ordered by category then title.
func (c *Client) ListFiles(ctx context.Context) ([]DocFile, error) {
	var out []DocFile
	if err := c.do(ctx, "docs_list", http.MethodGet, "/api/documentation/list", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetContent fetches one documentation file. The path is validated locally
// first; a rejected path returns an error wrapping pathutil.ErrInvalidPath
// without contacting the backend.
func (c *Client) GetContent(ctx context.Context, path string) (*DocContent, error) {
	clean, err := pathutil.CleanDocPath(path)
	if err != nil {
		return nil, &InvalidInputError{Err: err}
	}
	segs := strings.Split(clean, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	var out DocContent
	if err := c.do(ctx, "docs_content", http.MethodGet, "/api/documentation/content/"+strings.Join(segs, "/"), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token pair using the OAuth2 password
// form the backend expects.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	var out Token
	err := c.do(ctx, "auth_login", http.MethodPost, "/api/v1/auth/login",
		&body{contentType: "application/x-www-form-urlencoded", r: strings.NewReader(form.Encode())}, "", &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, xerrors.New("auth_login: response has no access_token")
	}
	return &out, nil
}

// Refresh trades a refresh token for a new token pair. The backend rotates
// both tokens, so the old refresh token is revoked once this succeeds.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, xerrors.New("auth_refresh: empty refresh token")
	}
	raw, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, xerrors.Wrap(err, "auth_refresh: encode request")
	}
	var out Token
	err = c.do(ctx, "auth_refresh", http.MethodPost, "/api/v1/auth/refresh",
		&body{contentType: "application/json", r: bytes.NewReader(raw)}, "", &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, xerrors.New("auth_refresh: response has no access_token")
	}
	return &out, nil
}

// CurrentUser resolves the user behind an access token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*User, error) {
	var out User
	if err := c.do(ctx, "auth_me", http.MethodGet, "/api/v1/auth/me", nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the session server side. A 401 means the token is already
// unusable and is not an error.
func (c *Client) Logout(ctx context.Context, token string) error {
	err := c.do(ctx, "auth_logout", http.MethodPost, "/api/v1/auth/logout", nil, token, nil)
	if errors.Is(err, ErrUnauthorized) {
		return nil
	}
	return err
}

// Ping checks the backend's /health endpoint. Used as a readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", nil, "", nil)
}

type body struct {
	contentType string
	r           io.Reader
}

func (c *Client) do(ctx context.Context, op, method, path string, in *body, token string, out any) (err error) {
	start := time.Now()
	code := 0
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveBackendRequest(op, code, time.Since(start))
		}
	}()

	endpoint := c.base.String() + path
	var rdr io.Reader
	if in != nil {
		rdr = in.r
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return xerrors.Wrapf(err, "%s: create request", op)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", in.contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrapf(err, "%s: request failed", op)
	}
	defer func() { _ = resp.Body.Close() }()
	code = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return xerrors.Wrapf(err, "%s: read body", op)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.WithStack(&APIError{Op: op, Status: resp.StatusCode, Detail: parseDetail(raw)})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrapf(err, "%s: decode response", op)
	}
	return nil
}

func (c *Client) String() string {
	return fmt.Sprintf("backend(%s)", c.base.Redacted())
}
