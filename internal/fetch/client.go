// Package fetch talks to the platform gateway on behalf of one credential.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/metrics"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

const (
	HeaderRemaining = "x-rate-limit-remaining"
	HeaderReset     = "x-rate-limit-reset"

	// used when a 429 carries no reset header
	defaultRateLimitWindow = 15 * time.Minute
	maxBodyBytes           = 16 << 20
)

// RateLimit is the quota the gateway reported with a response.
type RateLimit struct {
	Remaining int
	ResetAt   time.Time
}

// Page is one fetched batch of posts.
type Page struct {
	Posts     []models.RawPost
	RateLimit *RateLimit
}

// User is a looked-up account.
type User struct {
	Author    models.RawAuthor
	RateLimit *RateLimit
}

type Client struct {
	baseURL  string
	http     *http.Client
	executor failsafe.Executor[*http.Response]
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
	now      func() time.Time
	log      logger.Logger
	metrics  *metrics.Metrics
}

type Option func(*Client)

func WithLogger(l logger.Logger) Option     { return func(c *Client) { c.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// NewClient builds a client for the gateway at cfg.BaseURL. Every call is
// bounded by cfg.Timeout and guarded by a circuit breaker that opens after
// half of the last ten calls failed at the transport or with a 5xx.
func NewClient(cfg config.FetchConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		now: time.Now,
		log: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	delay := cfg.BreakerDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	c.breaker = circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(delay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		}).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			c.log.Warn("Fetch circuit breaker state changed",
				logger.String("from_state", stateName(e.OldState)),
				logger.String("to_state", stateName(e.NewState)),
			)
		}).
		Build()
	c.executor = failsafe.With(c.breaker)
	return c
}

// BreakerOpen reports whether calls are currently rejected without reaching
// the gateway.
func (c *Client) BreakerOpen() bool { return c.breaker.IsOpen() }

// Search returns posts matching query.
func (c *Client) Search(ctx context.Context, cred models.Credential, query string, limit int) (Page, error) {
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	return c.page(ctx, cred, "search", "/search?"+q.Encode())
}

// PostsByAuthor returns the latest posts of the account with authorID.
func (c *Client) PostsByAuthor(ctx context.Context, cred models.Credential, authorID string, limit int) (Page, error) {
	path := "/users/" + url.PathEscape(authorID) + "/posts?limit=" + strconv.Itoa(limit)
	return c.page(ctx, cred, "posts_by_author", path)
}

// RepliesTo returns replies to the post with postID.
func (c *Client) RepliesTo(ctx context.Context, cred models.Credential, postID string, limit int) (Page, error) {
	path := "/posts/" + url.PathEscape(postID) + "/replies?limit=" + strconv.Itoa(limit)
	return c.page(ctx, cred, "replies", path)
}

// UserByHandle resolves a handle to its account.
func (c *Client) UserByHandle(ctx context.Context, cred models.Credential, handle string) (User, error) {
	path := "/users/by-handle/" + url.PathEscape(config.NormalizeHandle(handle))
	body, rl, err := c.get(ctx, cred, "user_by_handle", path)
	if err != nil {
		return User{RateLimit: rl}, err
	}
	var u models.RawAuthor
	if err := json.Unmarshal(body, &u); err != nil {
		return User{RateLimit: rl}, fmt.Errorf("decode user %s: %w", handle, err)
	}
	return User{Author: u, RateLimit: rl}, nil
}

type pageBody struct {
	Posts []json.RawMessage `json:"posts"`
}

func (c *Client) page(ctx context.Context, cred models.Credential, op, path string) (Page, error) {
	body, rl, err := c.get(ctx, cred, op, path)
	if err != nil {
		return Page{RateLimit: rl}, err
	}
	posts, err := decodePosts(body)
	if err != nil {
		return Page{RateLimit: rl}, fmt.Errorf("decode %s response: %w", op, err)
	}
	return Page{Posts: posts, RateLimit: rl}, nil
}

// decodePosts keeps each element's raw JSON as the post payload.
func decodePosts(body []byte) ([]models.RawPost, error) {
	var pb pageBody
	if err := json.Unmarshal(body, &pb); err != nil {
		return nil, err
	}
	out := make([]models.RawPost, 0, len(pb.Posts))
	for _, raw := range pb.Posts {
		var p models.RawPost
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		p.Payload = raw
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, cred models.Credential, op, path string) ([]byte, *RateLimit, error) {
	start := c.now()
	body, rl, err := c.do(ctx, cred, op, path)
	result := "ok"
	if err != nil {
		result = fault.KindOf(err).String()
	}
	c.metrics.ObserveFetch(op, result, c.now().Sub(start))
	return body, rl, err
}

func (c *Client) do(ctx context.Context, cred models.Credential, op, path string) ([]byte, *RateLimit, error) {
	fop := "fetch " + op
	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+cred.Secret)
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			c.log.Debug("Fetch rejected by open circuit", logger.String("operation", op))
		}
		return nil, nil, fault.New(fault.Transient, fop, err)
	}
	defer resp.Body.Close()

	rl := parseRateLimit(resp.Header)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, rl, fault.Authf(fop, "credential %s rejected with status %d", cred.Username, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		if rl == nil {
			rl = &RateLimit{}
		}
		if rl.ResetAt.IsZero() {
			rl.ResetAt = c.now().Add(defaultRateLimitWindow)
		}
		rl.Remaining = 0
		return nil, rl, fault.Transientf(fop, "rate limited until %s", rl.ResetAt.Format(time.RFC3339))
	case resp.StatusCode == http.StatusNotFound:
		return nil, rl, fault.New(fault.NotFound, fop, fmt.Errorf("%s not found", path))
	case resp.StatusCode >= 500:
		return nil, rl, fault.Transientf(fop, "gateway returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, rl, fault.New(fault.Internal, fop, fmt.Errorf("gateway returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, rl, fault.New(fault.Transient, fop, err)
	}
	return body, rl, nil
}

// parseRateLimit reads the quota headers. It returns nil when the remaining
// count is absent or malformed.
func parseRateLimit(h http.Header) *RateLimit {
	remaining, err := strconv.Atoi(h.Get(HeaderRemaining))
	if err != nil {
		return nil
	}
	rl := &RateLimit{Remaining: remaining}
	if reset, err := strconv.ParseInt(h.Get(HeaderReset), 10, 64); err == nil {
		rl.ResetAt = time.Unix(reset, 0).UTC()
	}
	return rl
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
