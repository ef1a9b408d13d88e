// Package scoreapi implements curator.PageFetcher against the follower-score HTTP API.
package scoreapi

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

	"go.uber.org/zap"

	"github.com/JakeFAU/curator-discovery/internal/curator"
)

const (
	followersPath   = "/get_followers"
	maxBodyBytes    = 8 << 20
	defaultPageSize = 100
)

// Sentinel causes carried by failed outcomes.
var (
	ErrRateLimited  = errors.New("scoring api rate limited")
	ErrUnsuccessful = errors.New("scoring api reported success=false")
	ErrBadStatus    = errors.New("scoring api returned unexpected status")
)

// Config controls the HTTP client.
type Config struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
}

// Client issues single follower-page requests. It never sleeps and never retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Client. A nil httpClient gets a pooled transport with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("scoreapi base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse scoreapi base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newHTTPTransport(),
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// FetchPage requests one page of the seed's followers and classifies the result.
func (c *Client) FetchPage(ctx context.Context, seedID string, page, pageSize int) curator.PageOutcome {
	if strings.TrimSpace(seedID) == "" {
		return curator.FailedOutcome(errors.New("seed id is required"))
	}
	if page < 1 {
		return curator.FailedOutcome(fmt.Errorf("page must be >= 1, got %d", page))
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	req, err := c.buildRequest(ctx, seedID, page, pageSize)
	if err != nil {
		return curator.FailedOutcome(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return curator.FailedOutcome(fmt.Errorf("get followers: %w", redactTransportError(err)))
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		out := curator.RateLimitedOutcome()
		out.StatusCode = resp.StatusCode
		return out
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out := curator.FailedOutcome(fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode))
		out.StatusCode = resp.StatusCode
		return out
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return curator.FailedOutcome(fmt.Errorf("read followers body: %w", err))
	}
	out := decodeFollowersPage(body, seedID)
	if dropped := out.Dropped; dropped > 0 {
		c.logger.Warn("dropped follower records without id",
			zap.String("seed_id", seedID),
			zap.Int("page", page),
			zap.Int("dropped", dropped),
		)
	}
	out.StatusCode = resp.StatusCode
	return out
}

func (c *Client) buildRequest(ctx context.Context, seedID string, page, pageSize int) (*http.Request, error) {
	endpoint, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + followersPath)
	if err != nil {
		return nil, fmt.Errorf("build followers url: %w", err)
	}
	q := endpoint.Query()
	q.Set("api_key", c.cfg.APIKey)
	q.Set("twitter_id", seedID)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(pageSize))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new followers request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	return req, nil
}

// redactTransportError masks the api_key query parameter carried by *url.Error
// so the key never appears in error text.
func redactTransportError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	return &url.Error{Op: uerr.Op, URL: redactURL(uerr.URL), Err: uerr.Err}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return followersPath
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func decodeFollowersPage(body []byte, seedID string) curator.PageOutcome {
	var payload followersResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return curator.FailedOutcome(fmt.Errorf("decode followers page: %w", err))
	}
	if !payload.Success {
		return curator.FailedOutcome(ErrUnsuccessful)
	}
	records := make([]curator.DiscoveredCurator, 0, len(payload.TopFollowers))
	dropped := 0
	for _, f := range payload.TopFollowers {
		if f.ID == "" {
			dropped++
			continue
		}
		records = append(records, f.toCurator(seedID))
	}
	out := curator.DataOutcome(records, payload.Pages, int64(payload.Total))
	out.Raw = body
	out.Dropped = dropped
	return out
}
