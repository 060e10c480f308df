// Package registry verifies that image tags exist in OCI/Docker distribution registries.
//
// A Client speaks the distribution v2 API for one registry endpoint and handles
// the bearer-token challenge flow. A Checker routes image URIs to the registry
// that owns them and reuses one Client per endpoint for the lifetime of a run.
package registry

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Sentinel errors for registry operations.
var (
	// ErrUnroutableURI is returned when no configured registry owns an image URI.
	ErrUnroutableURI = errors.New("no registry configured for image URI")

	// ErrInvalidRef is returned when an image URI cannot be split into repository and tag.
	ErrInvalidRef = errors.New("invalid image reference")

	// ErrUnauthorized is returned when the token endpoint rejects the credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidChallenge is returned when a WWW-Authenticate header lacks realm, service or scope.
	ErrInvalidChallenge = errors.New("invalid WWW-Authenticate challenge")

	// ErrNetwork is returned when a registry or token request fails at the transport level.
	ErrNetwork = errors.New("registry request failed")

	// ErrRegistryUnavailable is returned when the registry answers with a server error.
	ErrRegistryUnavailable = errors.New("registry unavailable")
)

// Status is the verification outcome for one image URI.
type Status string

const (
	// StatusOK means the tag exists.
	StatusOK Status = "ok"

	// StatusNotFound means the registry answered and the tag does not exist.
	StatusNotFound Status = "not_found"

	// StatusOutdated is reserved for a tag that exists but is not the latest. Never produced.
	StatusOutdated Status = "outdated"
)

// Registry identifies an origin registry and the credentials used against it.
type Registry struct {
	// Endpoint is the registry host, optionally with a port (e.g. "registry.example.com").
	Endpoint string

	Username string
	Password string
}

// LogValue keeps credentials out of logs.
func (r Registry) LogValue() slog.Value {
	return slog.StringValue(r.Endpoint)
}

// ClientConfig configures registry clients.
type ClientConfig struct {
	// Insecure uses plain HTTP instead of HTTPS for registry requests.
	Insecure bool

	// HTTPClient overrides the HTTP client. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// Retries is the number of extra attempts after a network or server error.
	Retries uint64

	// RetryInterval is the initial backoff between retries. Defaults to 500ms.
	RetryInterval time.Duration

	// RateLimit caps requests per second per registry. Zero means unlimited.
	RateLimit float64

	// UserAgent is sent with every request.
	UserAgent string

	// Logger receives debug output. Defaults to a discarding logger.
	Logger *slog.Logger
}
