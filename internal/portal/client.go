package portal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"

	"personnelexport/internal/config"
)

const (
	maxLoginPageBytes = 2 << 20
	maxDataBytes      = 32 << 20
)

// Credentials identify one portal account. They are used for a single login
// and never retained.
type Credentials struct {
	Email    string
	Password string
}

// Listing is the decoded payload of the personnel data endpoint.
type Listing struct {
	Draw            int64
	RecordsTotal    int64
	RecordsFiltered int64
	Records         []gjson.Result
}

// Fetcher retrieves one page of personnel for an account.
type Fetcher interface {
	Fetch(ctx context.Context, creds Credentials, q Query) (*Listing, error)
}

// Client talks to the personnel portal. It holds no session state; every
// Login produces an independent Session with its own cookie jar.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	cfg       config.PortalConfig
	base      *url.URL
	transport http.RoundTripper
	logger    *slog.Logger
}

var _ Fetcher = (*Client)(nil)

// NewClient validates cfg and builds a portal client.
func NewClient(cfg config.PortalConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid portal base url %q", cfg.BaseURL)
	}
	if cfg.SessionCookie == "" {
		return nil, fmt.Errorf("portal session cookie name is required")
	}
	return &Client{
		cfg:       cfg,
		base:      base,
		transport: otelhttp.NewTransport(http.DefaultTransport),
		logger:    logger,
	}, nil
}

// Session is an authenticated cookie jar bound to one portal identity.
type Session struct {
	portal *Client
	http   *http.Client
}

// Fetch logs in with creds and retrieves a single page of personnel.
// The session does not outlive the call.
func (c *Client) Fetch(ctx context.Context, creds Credentials, q Query) (*Listing, error) {
	s, err := c.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s.FetchPersonnel(ctx, q)
}

// Login scrapes the CSRF token from the login page and submits the login form.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	start := time.Now()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	hc := &http.Client{
		Jar:       jar,
		Timeout:   c.cfg.Timeout(),
		Transport: c.transport,
	}
	loginURL := c.base.JoinPath("login")

	token, err := c.loginToken(ctx, hc, loginURL)
	if err != nil {
		c.logger.Warn("portal_login_failed", "stage", "token", "error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	form := url.Values{}
	form.Set(TokenField, token)
	form.Set("email", creds.Email)
	form.Set("password", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL.String())
	c.decorate(req)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit login form: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxLoginPageBytes))
	resp.Body.Close()

	if err := c.checkLogin(resp, jar, loginURL); err != nil {
		c.logger.Warn("portal_login_failed", "stage", "submit", "error", err.Error(),
			"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	c.logger.Info("portal_login", "status", "success", "duration_ms", time.Since(start).Milliseconds())
	return &Session{portal: c, http: hc}, nil
}

func (c *Client) loginToken(ctx context.Context, hc *http.Client, loginURL *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build login page request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	c.decorate(req)

	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("load login page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login page returned %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return ExtractToken(io.LimitReader(resp.Body, maxLoginPageBytes))
}

// checkLogin decides whether the login POST authenticated the jar. Laravel
// sends a session cookie with every response, so landing back on the login
// page is treated as a rejection as well.
func (c *Client) checkLogin(resp *http.Response, jar http.CookieJar, loginURL *url.URL) error {
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}
	if resp.Request != nil && resp.Request.URL != nil &&
		rootedPath(resp.Request.URL.Path) == rootedPath(loginURL.Path) {
		return fmt.Errorf("%w: redirected back to login page", ErrLoginFailed)
	}
	for _, ck := range jar.Cookies(c.base) {
		if ck.Name == c.cfg.SessionCookie {
			return nil
		}
	}
	return fmt.Errorf("%w: no %s cookie", ErrLoginFailed, c.cfg.SessionCookie)
}

// rootedPath normalises a URL path so "login", "/login" and "/login/" compare equal.
// JoinPath on a base URL without a path yields an unrooted result.
func rootedPath(p string) string {
	return path.Clean("/" + p)
}

func (c *Client) decorate(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

// FetchPersonnel requests one page from the personnel data endpoint.
// A missing or non-array "data" member yields an empty listing.
func (s *Session) FetchPersonnel(ctx context.Context, q Query) (*Listing, error) {
	start := time.Now()

	u := s.portal.base.JoinPath("personnel", "data")
	u.RawQuery = EncodeQuery(q, s.portal.cfg).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build data request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	s.portal.decorate(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch personnel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: returned %d", ErrDataStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDataBytes))
	if err != nil {
		return nil, fmt.Errorf("read personnel data: %w", err)
	}

	listing, err := decodeListing(body)
	if err != nil {
		return nil, err
	}

	s.portal.logger.Info("portal_fetch",
		"status", "success",
		"records", len(listing.Records),
		"records_total", listing.RecordsTotal,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return listing, nil
}

func decodeListing(body []byte) (*Listing, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalidJSON)
	}

	listing := &Listing{
		Draw:            root.Get("draw").Int(),
		RecordsTotal:    root.Get("recordsTotal").Int(),
		RecordsFiltered: root.Get("recordsFiltered").Int(),
	}
	if data := root.Get("data"); data.IsArray() {
		listing.Records = data.Array()
	}
	return listing, nil
}
