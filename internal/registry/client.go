package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout   = 30 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
)

// manifestAccept lists every manifest shape a tag may be stored as.
// Registries answer 404 for a tag whose stored media type is not accepted.
var manifestAccept = strings.Join([]string{
	string(types.OCIImageIndex),
	string(types.OCIManifestSchema1),
	string(types.DockerManifestList),
	string(types.DockerManifestSchema2),
}, ",")

// Client checks tags against a single registry endpoint.
// It holds the bearer token issued by the registry's auth service and reuses
// it until the registry challenges again. Safe for concurrent use.
type Client struct {
	registry   Registry
	scheme     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    uint64
	interval   time.Duration
	userAgent  string
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for reg.
func NewClient(reg Registry, cfg ClientConfig) *Client {
	scheme := "https"
	if cfg.Insecure {
		scheme = "http"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		registry:   reg,
		scheme:     scheme,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		retries:    cfg.Retries,
		interval:   interval,
		userAgent:  cfg.UserAgent,
		logger:     logger.With(slog.Any("registry", reg)),
	}
}

// TagExists reports whether repository:tag exists on the registry.
// A missing tag is (false, nil). Transport failures, server errors and
// rejected credentials are returned as errors.
func (c *Client) TagExists(ctx context.Context, repository, tag string) (bool, error) {
	manifestURL := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", c.scheme, c.registry.Endpoint, repository, tag)

	var exists bool
	operation := func() error {
		resp, err := c.headWithChallenge(ctx, manifestURL)
		if err != nil {
			return retryable(err)
		}
		drainAndClose(resp)

		exists, err = verdict(resp.StatusCode)
		if err != nil {
			return retryable(err)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.retries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Retrying manifest request",
			slog.String("repository", repository),
			slog.String("tag", tag),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return false, fmt.Errorf("check %s:%s: %w", repository, tag, err)
	}

	return exists, nil
}

// headWithChallenge issues the manifest HEAD. When the registry answers with a
// WWW-Authenticate challenge it fetches a fresh token and retries exactly once.
func (c *Client) headWithChallenge(ctx context.Context, manifestURL string) (*http.Response, error) {
	resp, err := c.head(ctx, manifestURL)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Get("WWW-Authenticate")
	if header == "" {
		return resp, nil
	}
	drainAndClose(resp)

	ch, err := parseChallenge(header)
	if err != nil {
		return nil, err
	}

	token, err := c.fetchToken(ctx, ch)
	if err != nil {
		return nil, err
	}
	c.setToken(token)

	return c.head(ctx, manifestURL)
}

func (c *Client) head(ctx context.Context, manifestURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create manifest request: %w", err)
	}

	req.Header.Set("Accept", manifestAccept)
	if token := c.getToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.do(req)
}

// fetchToken exchanges the registry credentials for a bearer token at the challenge realm.
func (c *Client) fetchToken(ctx context.Context, ch challenge) (string, error) {
	tokenURL, err := url.Parse(ch.Realm)
	if err != nil {
		return "", fmt.Errorf("%w: realm %q: %s", ErrInvalidChallenge, ch.Realm, err)
	}

	query := tokenURL.Query()
	query.Set("service", ch.Service)
	query.Set("scope", ch.Scope)
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.registry.Username, c.registry.Password)

	c.logger.Debug("Requesting registry token",
		slog.String("realm", ch.Realm),
		slog.String("service", ch.Service),
		slog.String("scope", ch.Scope),
	)

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: token endpoint returned %s", ErrUnauthorized, resp.Status)
	}

	var tokenResp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: decode token response: %s", ErrUnauthorized, err)
	}

	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("%w: no token in response", ErrUnauthorized)
	}

	return token, nil
}

// do sends req through the rate limiter and maps transport failures to ErrNetwork.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.URL.Redacted(), err)
	}

	return resp, nil
}

func (c *Client) getToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval
	return b
}

// verdict maps the final manifest response status to an existence result.
// Server errors and throttling are errors, never "not found".
func verdict(status int) (bool, error) {
	switch {
	case status >= 200 && status <= 299:
		return true, nil
	case status >= 500, status == http.StatusTooManyRequests:
		return false, fmt.Errorf("%w: status %d", ErrRegistryUnavailable, status)
	default:
		return false, nil
	}
}

// retryable marks only transient failures for another attempt.
func retryable(err error) error {
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrRegistryUnavailable) {
		return err
	}
	return backoff.Permanent(err)
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
