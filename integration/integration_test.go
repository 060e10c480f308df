//go:build integration

// Package integration provides integration tests for the tagcheck CLI using testscript.
package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/rogpeppe/go-internal/testscript"

	"github.com/jmgilman/tagcheck/internal/cmd"
)

const (
	testUsername = "robot"
	testPassword = "s3cret"
	testToken    = "integration-token"
)

// TestMain sets up the testscript environment.
func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"tagcheck": tagcheckMain,
	}))
}

// tagcheckMain runs the CLI in-process.
func tagcheckMain() int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// TestScripts runs all testscript files in testdata/scripts.
func TestScripts(t *testing.T) {
	endpoint := startRegistry(t, map[string][]string{
		"team/app":    {"v1", "c95a126b5dfbce50483aa52dc0a49ff968b8c15e"},
		"team/worker": {"1.4.0"},
	})

	testscript.Run(t, testscript.Params{
		Dir: "testdata/scripts",
		Setup: func(env *testscript.Env) error {
			return setupTestEnv(env, endpoint)
		},
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"expand": cmdExpand,
		},
	})
}

// startRegistry serves an in-memory registry that demands a bearer token for
// manifest requests and seeds it with the given tags.
func startRegistry(t *testing.T, tags map[string][]string) string {
	t.Helper()

	backend := ggcrregistry.New()

	seed := httptest.NewServer(backend)
	defer seed.Close()
	seedHost := strings.TrimPrefix(seed.URL, "http://")

	for repo, list := range tags {
		for _, tag := range list {
			img, err := random.Image(256, 1)
			if err != nil {
				t.Fatalf("random image: %v", err)
			}
			ref, err := name.ParseReference(fmt.Sprintf("%s/%s:%s", seedHost, repo, tag), name.Insecure)
			if err != nil {
				t.Fatalf("parse reference: %v", err)
			}
			if err := remote.Write(ref, img); err != nil {
				t.Fatalf("push %s: %v", ref, err)
			}
		}
	}

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != testUsername || password != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": testToken})
	})
	mux.Handle("/v2/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/manifests/") && r.Header.Get("Authorization") != "Bearer "+testToken {
			repo := strings.TrimPrefix(r.URL.Path, "/v2/")
			repo = repo[:strings.Index(repo, "/manifests/")]
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm="%s/token",service="integration",scope="repository:%s:pull"`, server.URL, repo))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		backend.ServeHTTP(w, r)
	}))

	// Seeded blobs and manifests live in backend, which outlives the seed server.
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return strings.TrimPrefix(server.URL, "http://")
}

// setupTestEnv configures the test environment with isolated paths.
func setupTestEnv(env *testscript.Env, endpoint string) error {
	env.Setenv("HOME", env.WorkDir)
	env.Setenv("REGISTRY", endpoint)
	env.Setenv("TAGCHECK_REGISTRIES", fmt.Sprintf(
		`{%q: {"username": %q, "password": %q}}`, endpoint, testUsername, testPassword))
	env.Setenv("TAGCHECK_REGISTRY_INSECURE", "true")
	env.Setenv("TAGCHECK_REGISTRY_RETRIES", "0")

	// Keep report format detection deterministic on CI runners.
	env.Setenv("GITHUB_ACTIONS", "")

	// Isolate git from the host configuration.
	env.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	env.Setenv("GIT_AUTHOR_NAME", "tagcheck")
	env.Setenv("GIT_AUTHOR_EMAIL", "tagcheck@example.com")
	env.Setenv("GIT_COMMITTER_NAME", "tagcheck")
	env.Setenv("GIT_COMMITTER_EMAIL", "tagcheck@example.com")

	return nil
}

// cmdExpand replaces $VAR references in files with the script's environment.
func cmdExpand(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("expand does not support negation")
	}
	if len(args) == 0 {
		ts.Fatalf("usage: expand <file>...")
	}

	for _, file := range args {
		content := ts.ReadFile(file)
		ts.Check(os.WriteFile(ts.MkAbs(file), []byte(os.Expand(content, ts.Getenv)), 0o644))
	}
}
