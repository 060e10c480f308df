package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ClientCache holds at most one Client per registry endpoint.
// It lives for a single run; independent runs use independent caches so
// tokens are never shared between them.
type ClientCache struct {
	cfg ClientConfig

	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientCache creates an empty cache whose clients are built with cfg.
func NewClientCache(cfg ClientConfig) *ClientCache {
	return &ClientCache{
		cfg:     cfg,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for reg's endpoint, creating it on first use.
func (c *ClientCache) Get(reg Registry) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, ok := c.clients[reg.Endpoint]
	if !ok {
		client = NewClient(reg, c.cfg)
		c.clients[reg.Endpoint] = client
	}
	return client
}

// Len returns the number of cached clients.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithClientCache sets the cache the Checker takes clients from.
func WithClientCache(cache *ClientCache) CheckerOption {
	return func(c *Checker) {
		c.clients = cache
	}
}

// WithResultCache makes the Checker remember each URI's status for the rest of the run.
// Concurrent checks of the same URI share one registry round-trip. Errors are not cached.
func WithResultCache() CheckerOption {
	return func(c *Checker) {
		c.results = &resultCache{statuses: make(map[string]Status)}
	}
}

// Checker routes image URIs to their registry and reports whether the tag exists.
// Safe for concurrent use.
type Checker struct {
	registries []Registry
	clients    *ClientCache
	results    *resultCache
}

// NewChecker creates a Checker over registries. Routing tries registries in order.
func NewChecker(registries []Registry, opts ...CheckerOption) *Checker {
	c := &Checker{
		registries: registries,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clients == nil {
		c.clients = NewClientCache(ClientConfig{})
	}
	return c
}

// Route returns the first registry whose endpoint prefixes uri.
func (c *Checker) Route(uri string) (Registry, error) {
	return Route(c.registries, uri)
}

// Check verifies that the tag referenced by uri exists.
func (c *Checker) Check(ctx context.Context, uri string) (Status, error) {
	if c.results == nil {
		return c.check(ctx, uri)
	}
	return c.results.do(uri, func() (Status, error) {
		return c.check(ctx, uri)
	})
}

func (c *Checker) check(ctx context.Context, uri string) (Status, error) {
	reg, err := c.Route(uri)
	if err != nil {
		return "", err
	}

	repository, tag, err := ParseReference(reg, uri)
	if err != nil {
		return "", err
	}

	exists, err := c.clients.Get(reg).TagExists(ctx, repository, tag)
	if err != nil {
		return "", err
	}
	if !exists {
		return StatusNotFound, nil
	}
	return StatusOK, nil
}

// Route returns the first registry in registries whose endpoint prefixes uri.
func Route(registries []Registry, uri string) (Registry, error) {
	for _, reg := range registries {
		if strings.HasPrefix(uri, reg.Endpoint) {
			return reg, nil
		}
	}
	return Registry{}, fmt.Errorf("%w: %s", ErrUnroutableURI, uri)
}

// ParseReference splits uri into repository and tag relative to reg.
// The tag is everything after the last colon. Names the registry would reject,
// such as uppercase repositories, are left for the registry to answer.
func ParseReference(reg Registry, uri string) (repository, tag string, err error) {
	rest, ok := strings.CutPrefix(uri, reg.Endpoint+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %s is not under %s", ErrInvalidRef, uri, reg.Endpoint)
	}

	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("%w: %s has no tag", ErrInvalidRef, uri)
	}

	return rest[:i], rest[i+1:], nil
}

// resultCache remembers successful statuses by URI.
type resultCache struct {
	group singleflight.Group

	mu       sync.RWMutex
	statuses map[string]Status
}

func (r *resultCache) do(uri string, check func() (Status, error)) (Status, error) {
	r.mu.RLock()
	status, ok := r.statuses[uri]
	r.mu.RUnlock()
	if ok {
		return status, nil
	}

	v, err, _ := r.group.Do(uri, func() (any, error) {
		status, err := check()
		if err != nil {
			return status, err
		}

		r.mu.Lock()
		r.statuses[uri] = status
		r.mu.Unlock()

		return status, nil
	})
	if err != nil {
		return "", err
	}
	return v.(Status), nil //nolint:forcetypeassert // only Status is stored
}
