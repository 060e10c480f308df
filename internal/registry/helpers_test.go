package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/require"
)

const (
	testUsername = "robot"
	testPassword = "s3cret"
	testToken    = "test-token"
	testService  = "test-registry"
)

// tokenRequest records one call to the fake token endpoint.
type tokenRequest struct {
	Service  string
	Scope    string
	Username string
	Password string
	BasicOK  bool
}

// manifestRequest records one manifest HEAD seen by the fake registry.
type manifestRequest struct {
	Path          string
	Accept        string
	Authorization string
}

// testRegistry is an in-memory registry that demands a bearer token for manifest HEADs.
type testRegistry struct {
	t *testing.T

	// Endpoint is the host:port clients should use (plain HTTP).
	Endpoint string

	seedHost string
	server   *httptest.Server
	seed     *httptest.Server

	// TokenStatus overrides the token endpoint status when non-zero.
	TokenStatus int

	// Challenge overrides the WWW-Authenticate header when non-empty.
	Challenge string

	// ManifestStatus overrides the manifest HEAD status for authorized requests when non-zero.
	ManifestStatus int

	mu        sync.Mutex
	tokens    []tokenRequest
	manifests []manifestRequest
	heads     atomic.Int32
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()

	backend := ggcrregistry.New()
	tr := &testRegistry{t: t}

	tr.seed = httptest.NewServer(backend)
	t.Cleanup(tr.seed.Close)
	tr.seedHost = strings.TrimPrefix(tr.seed.URL, "http://")

	mux := http.NewServeMux()
	mux.HandleFunc("/token", tr.serveToken)
	mux.Handle("/v2/", tr.authorize(backend))

	tr.server = httptest.NewServer(mux)
	t.Cleanup(tr.server.Close)
	tr.Endpoint = strings.TrimPrefix(tr.server.URL, "http://")

	return tr
}

// Push writes a random image to repository:tag.
func (tr *testRegistry) Push(repository, tag string) {
	tr.t.Helper()

	img, err := random.Image(256, 1)
	require.NoError(tr.t, err)

	ref, err := name.ParseReference(fmt.Sprintf("%s/%s:%s", tr.seedHost, repository, tag), name.Insecure)
	require.NoError(tr.t, err)

	require.NoError(tr.t, remote.Write(ref, img))
}

// Registry returns a Registry pointing at the test server with valid credentials.
func (tr *testRegistry) Registry() Registry {
	return Registry{Endpoint: tr.Endpoint, Username: testUsername, Password: testPassword}
}

// Close stops the server so requests fail at the transport level.
func (tr *testRegistry) Close() {
	tr.server.Close()
}

func (tr *testRegistry) Tokens() []tokenRequest {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]tokenRequest(nil), tr.tokens...)
}

func (tr *testRegistry) Manifests() []manifestRequest {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]manifestRequest(nil), tr.manifests...)
}

func (tr *testRegistry) serveToken(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()

	tr.mu.Lock()
	tr.tokens = append(tr.tokens, tokenRequest{
		Service:  r.URL.Query().Get("service"),
		Scope:    r.URL.Query().Get("scope"),
		Username: username,
		Password: password,
		BasicOK:  ok,
	})
	tr.mu.Unlock()

	if tr.TokenStatus != 0 {
		w.WriteHeader(tr.TokenStatus)
		return
	}
	if !ok || username != testUsername || password != testPassword {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": testToken})
}

func (tr *testRegistry) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || !strings.Contains(r.URL.Path, "/manifests/") {
			next.ServeHTTP(w, r)
			return
		}

		tr.heads.Add(1)
		tr.mu.Lock()
		tr.manifests = append(tr.manifests, manifestRequest{
			Path:          r.URL.Path,
			Accept:        r.Header.Get("Accept"),
			Authorization: r.Header.Get("Authorization"),
		})
		tr.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+testToken {
			challenge := tr.Challenge
			if challenge == "" {
				repo := strings.TrimPrefix(r.URL.Path, "/v2/")
				repo = repo[:strings.Index(repo, "/manifests/")]
				challenge = fmt.Sprintf(`Bearer realm="%s/token",service="%s",scope="repository:%s:pull"`,
					tr.server.URL, testService, repo)
			}
			w.Header().Set("WWW-Authenticate", challenge)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if tr.ManifestStatus != 0 {
			w.WriteHeader(tr.ManifestStatus)
			return
		}

		next.ServeHTTP(w, r)
	})
}
