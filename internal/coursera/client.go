// Package coursera talks to Coursera's private REST and GraphQL endpoints
// using a CAUTH session cookie. The upstream API is undocumented and
// unversioned; decoding is tolerant and callers must treat shapes as
// best-effort.
package coursera

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseURL    = "https://www.coursera.org/api"
	defaultGraphQLURL = "https://www.coursera.org/graphql-gateway"
	defaultUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// maxDiagnosticBytes bounds how much of an upstream error body is kept
	// for the caller-facing diagnostic.
	maxDiagnosticBytes = 512
)

// APIError is a non-success response from the upstream API.
type APIError struct {
	Status int
	URL    string
	Body   string // truncated diagnostic
	Hint   string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("coursera API %d for %s: %s", e.Status, e.URL, e.Body)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// Options configures a Client. Zero values fall back to production defaults;
// tests point BaseURL at an httptest server.
type Options struct {
	BaseURL      string
	GraphQLURL   string
	UserAgent    string
	Timeout      time.Duration
	AllowedHosts []string
	HTTPClient   *http.Client
}

// Client is an authenticated upstream client. One per session; it carries the
// session credential and a memoized caller identity, nothing else.
type Client struct {
	http       *http.Client
	baseURL    string
	graphqlURL string
	userAgent  string
	cauth      string
	csrfToken  string
	allowed    map[string]struct{}

	mu     sync.Mutex // protects userID
	userID string
}

// New builds a Client for the given CAUTH cookie value.
func New(cauth string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	c := &Client{
		http:       httpClient,
		baseURL:    strings.TrimSuffix(orDefault(opts.BaseURL, defaultBaseURL), "/"),
		graphqlURL: orDefault(opts.GraphQLURL, defaultGraphQLURL),
		userAgent:  orDefault(opts.UserAgent, defaultUserAgent),
		cauth:      cauth,
		csrfToken:  newCSRFToken(),
	}
	if len(opts.AllowedHosts) > 0 {
		c.allowed = make(map[string]struct{}, len(opts.AllowedHosts))
		for _, h := range opts.AllowedHosts {
			c.allowed[strings.ToLower(h)] = struct{}{}
		}
	}
	return c
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// newCSRFToken mints the value Coursera expects in both the CSRF3-Token
// cookie and the X-Csrf3-Token header on mutating requests.
func newCSRFToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return time.Now().UTC().Format("20060102") + "-" + hex.EncodeToString(buf)
}

// checkHost rejects URLs outside the allow-list before any dial happens.
func (c *Client) checkHost(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("bad upstream URL %q: %w", rawURL, err)
	}
	if c.allowed == nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := c.allowed[host]; !ok {
		return fmt.Errorf("upstream host %q is not in ALLOWED_HOSTS", host)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	if err := c.checkHost(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", fmt.Sprintf("CAUTH=%s; CSRF3-Token=%s", c.cauth, c.csrfToken))
	if method != http.MethodGet {
		req.Header.Set("X-Csrf3-Token", c.csrfToken)
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do performs one request with bounded retry on transient failures. Client
// errors (4xx) are permanent.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var body []byte

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second

	err := backoff.Retry(func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		body, err = c.doOnce(req)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	return body, err
}

func (c *Client) doOnce(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			Status: resp.StatusCode,
			URL:    req.URL.String(),
			Body:   truncate(string(body), maxDiagnosticBytes),
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			apiErr.Hint = "refresh your CAUTH cookie; Coursera sessions expire"
		}
		return nil, apiErr
	}
	return body, nil
}

// isRetryable mirrors the usual upstream policy: retry rate limits and server
// errors, never client errors or context cancellation.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	// Dial and transport failures are generally transient.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// GetJSON fetches an API path (relative to the base URL, query included) and
// decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, pathAndQuery string, out any) error {
	rawURL := c.baseURL + "/" + strings.TrimPrefix(pathAndQuery, "/")
	body, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", rawURL, err)
	}
	return nil
}

// GetRaw fetches an arbitrary URL (absolute, or a path relative to the site
// root) and returns the raw body. Used for subtitle assets.
func (c *Client) GetRaw(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "/") {
		base, err := url.Parse(c.baseURL)
		if err != nil {
			return nil, err
		}
		rawURL = base.Scheme + "://" + base.Host + rawURL
	}
	return c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, rawURL, nil)
	})
}

// PostGraphQL sends one operation to the graphql gateway and decodes the
// response into out.
func (c *Client) PostGraphQL(ctx context.Context, opname string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal graphql payload: %w", err)
	}
	rawURL := c.graphqlURL + "?opname=" + url.QueryEscape(opname)
	body, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, rawURL, bytes.NewReader(raw))
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode graphql response: %w", err)
	}
	return nil
}

// UserID resolves and memoizes the numeric id of the authenticated learner.
// Several progress and schedule endpoints are keyed "userId~courseId".
func (c *Client) UserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.userID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var env envelope
	if err := c.GetJSON(ctx, "adminUserPermissions.v1?q=my", &env); err != nil {
		return "", err
	}
	var elements []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Elements, &elements); err != nil || len(elements) == 0 || elements[0].ID == "" {
		return "", fmt.Errorf("could not resolve learner id from adminUserPermissions.v1 (is the CAUTH cookie valid?)")
	}

	c.mu.Lock()
	c.userID = elements[0].ID
	c.mu.Unlock()
	return elements[0].ID, nil
}
