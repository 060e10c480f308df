package scan_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/tagcheck/internal/finder"
	"github.com/jmgilman/tagcheck/internal/registry"
	"github.com/jmgilman/tagcheck/internal/scan"
	"github.com/jmgilman/tagcheck/internal/scan/mocks"
)

const endpoint = "registry.uw.systems"

func okChecker() *mocks.CheckerMock {
	return &mocks.CheckerMock{
		CheckFunc: func(ctx context.Context, uri string) (registry.Status, error) {
			return registry.StatusOK, nil
		},
	}
}

func matchesN(n int) []finder.Match {
	matches := make([]finder.Match, n)
	for i := range matches {
		matches[i] = finder.Match{URI: fmt.Sprintf("%s/team/app:v%d", endpoint, i), File: "a.yaml", Line: i + 1}
	}
	return matches
}

func TestScanner_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("aborts before checking when over the cap", func(t *testing.T) {
		checker := okChecker()
		s := scan.NewScanner(finder.New([]string{endpoint}), checker, afero.NewMemMapFs(), scan.Config{MaxChecks: 1000})

		findings, err := s.Check(ctx, matchesN(1001))

		require.ErrorIs(t, err, scan.ErrTooManyChecks)
		assert.Nil(t, findings)
		assert.Empty(t, checker.CheckCalls())
	})

	t.Run("allows exactly the cap", func(t *testing.T) {
		checker := okChecker()
		s := scan.NewScanner(finder.New([]string{endpoint}), checker, afero.NewMemMapFs(), scan.Config{MaxChecks: 1000})

		findings, err := s.Check(ctx, matchesN(1000))

		require.NoError(t, err)
		assert.Len(t, findings, 1000)
		assert.Len(t, checker.CheckCalls(), 1000)
	})

	t.Run("defaults the cap to 1000", func(t *testing.T) {
		s := scan.NewScanner(finder.New([]string{endpoint}), okChecker(), afero.NewMemMapFs(), scan.Config{})

		_, err := s.Check(ctx, matchesN(1001))

		assert.ErrorIs(t, err, scan.ErrTooManyChecks)
	})

	t.Run("maps outcomes and keeps match order", func(t *testing.T) {
		boom := errors.New("boom")
		checker := &mocks.CheckerMock{
			CheckFunc: func(ctx context.Context, uri string) (registry.Status, error) {
				switch {
				case strings.HasSuffix(uri, ":v0"):
					return registry.StatusOK, nil
				case strings.HasSuffix(uri, ":v1"):
					return registry.StatusNotFound, nil
				default:
					return "", boom
				}
			},
		}
		s := scan.NewScanner(finder.New([]string{endpoint}), checker, afero.NewMemMapFs(), scan.Config{Concurrency: 3})

		findings, err := s.Check(ctx, matchesN(3))

		require.NoError(t, err)
		require.Len(t, findings, 3)
		assert.Equal(t, scan.StatusOK, findings[0].Status)
		assert.Equal(t, scan.StatusNotFound, findings[1].Status)
		assert.Equal(t, scan.StatusCheckFailed, findings[2].Status)
		assert.ErrorIs(t, findings[2].Err, boom)
		for i, f := range findings {
			assert.Equal(t, i+1, f.Line)
		}
	})

	t.Run("reports every match of a shared URI", func(t *testing.T) {
		s := scan.NewScanner(finder.New([]string{endpoint}), okChecker(), afero.NewMemMapFs(), scan.Config{})

		findings, err := s.Check(ctx, []finder.Match{
			{URI: endpoint + "/team/app:v1", File: "a.yaml", Line: 3},
			{URI: endpoint + "/team/app:v1", File: "b.yaml", Line: 9},
		})

		require.NoError(t, err)
		assert.Len(t, findings, 2)
	})

	t.Run("limits concurrent checks", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		release := make(chan struct{})
		checker := &mocks.CheckerMock{
			CheckFunc: func(ctx context.Context, uri string) (registry.Status, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				inFlight.Add(-1)
				return registry.StatusOK, nil
			},
		}
		s := scan.NewScanner(finder.New([]string{endpoint}), checker, afero.NewMemMapFs(), scan.Config{Concurrency: 2})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = s.Check(ctx, matchesN(6))
		}()
		require.Eventually(t, func() bool { return inFlight.Load() == 2 }, time.Second, time.Millisecond)
		close(release)
		<-done

		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Len(t, checker.CheckCalls(), 6)
	})
}

func TestScanner_FindFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, path := range []string{
		"/repo/deploy/app.yaml",
		"/repo/deploy/nested/worker.yml",
		"/repo/kustomization.yaml",
		"/repo/README.md",
		"/elsewhere/other.yaml",
	} {
		require.NoError(t, afero.WriteFile(fs, path, []byte("kind: Pod\n"), 0o644))
	}
	require.NoError(t, fs.MkdirAll("/repo/dir.yaml", 0o755))

	t.Run("expands default patterns", func(t *testing.T) {
		s := scan.NewScanner(finder.New([]string{endpoint}), okChecker(), fs, scan.Config{WorkingDirectory: "/repo"})

		paths, err := s.FindFiles(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{
			"/repo/deploy/app.yaml",
			"/repo/deploy/nested/worker.yml",
			"/repo/kustomization.yaml",
		}, paths)
	})

	t.Run("honors custom patterns without duplicates", func(t *testing.T) {
		s := scan.NewScanner(finder.New([]string{endpoint}), okChecker(), fs, scan.Config{
			WorkingDirectory: "/repo",
			Patterns:         []string{"deploy/*.yaml", "**/app.yaml"},
		})

		paths, err := s.FindFiles(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"/repo/deploy/app.yaml"}, paths)
	})

	t.Run("rejects malformed patterns", func(t *testing.T) {
		s := scan.NewScanner(finder.New([]string{endpoint}), okChecker(), fs, scan.Config{
			WorkingDirectory: "/repo",
			Patterns:         []string{"deploy/[.yaml"},
		})

		_, err := s.FindFiles(context.Background())

		assert.Error(t, err)
	})
}

// redirect sends every request to target regardless of the requested host.
type redirect struct {
	target *url.URL
}

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestScanner_ScanFiles(t *testing.T) {
	const uri = "registry.uw.systems/team/app:c95a126b5dfbce50483aa52dc0a49ff968b8c15e"

	var heads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		heads.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	target, err := url.Parse(server.URL)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	manifest := strings.Repeat("# filler\n", 60) + "        - image: " + uri + "\n"
	require.NoError(t, afero.WriteFile(fs, "/repo/deploy.yaml", []byte(manifest), 0o644))

	checker := registry.NewChecker(
		[]registry.Registry{{Endpoint: endpoint, Username: "robot", Password: "s3cret"}},
		registry.WithClientCache(registry.NewClientCache(registry.ClientConfig{
			HTTPClient: &http.Client{Transport: redirect{target: target}},
		})),
	)
	s := scan.NewScanner(finder.New([]string{endpoint}, finder.WithFs(fs)), checker, fs, scan.Config{WorkingDirectory: "/repo"})

	findings, err := s.ScanFiles(context.Background(), []string{"/repo/deploy.yaml", "/repo/missing.yaml"})

	require.NoError(t, err)
	assert.Equal(t, []scan.Finding{
		{URI: uri, File: "/repo/deploy.yaml", Line: 61, Status: scan.StatusNotFound},
	}, findings)
	assert.Equal(t, int32(1), heads.Load())

	summary := scan.Summarize(findings)
	assert.Equal(t, scan.Summary{NotFound: 1}, summary)
	assert.True(t, summary.Failed(false))
}

// deniedFs fails to open one path with a permission error.
type deniedFs struct {
	afero.Fs
	path string
}

func (d deniedFs) Open(name string) (afero.File, error) {
	if name == d.path {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
	}
	return d.Fs.Open(name)
}

func TestScanner_ScanFiles_SkipsUnreadableFiles(t *testing.T) {
	const uri = endpoint + "/team/app:v1"

	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/repo/denied.yaml", []byte("image: "+endpoint+"/team/secret:v1\n"), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/repo/ok.yaml", []byte("image: "+uri+"\n"), 0o644))
	fsys := deniedFs{Fs: mem, path: "/repo/denied.yaml"}

	checker := okChecker()
	s := scan.NewScanner(finder.New([]string{endpoint}, finder.WithFs(fsys)), checker, fsys, scan.Config{WorkingDirectory: "/repo"})

	findings, err := s.ScanFiles(context.Background(), []string{"/repo/denied.yaml", "/repo/ok.yaml"})

	require.NoError(t, err)
	assert.Equal(t, []scan.Finding{
		{URI: uri, File: "/repo/ok.yaml", Line: 1, Status: scan.StatusOK},
	}, findings)
	require.Len(t, checker.CheckCalls(), 1)
	assert.Equal(t, uri, checker.CheckCalls()[0].URI)
}

func TestScanner_ScanDiff(t *testing.T) {
	diff := `diff --git a/deploy.yaml b/deploy.yaml
index 1111111..2222222 100644
--- a/deploy.yaml
+++ b/deploy.yaml
@@ -1,2 +1,2 @@
 kind: Pod
-image: registry.uw.systems/team/app:v1
+image: registry.uw.systems/team/app:v2
`
	checker := okChecker()
	s := scan.NewScanner(finder.New([]string{endpoint}, finder.WithFs(afero.NewMemMapFs())), checker, afero.NewMemMapFs(), scan.Config{})

	findings, err := s.ScanDiff(context.Background(), []byte(diff))

	require.NoError(t, err)
	assert.Equal(t, []scan.Finding{
		{URI: "registry.uw.systems/team/app:v2", File: "deploy.yaml", Line: 2, Status: scan.StatusOK},
	}, findings)
	require.Len(t, checker.CheckCalls(), 1)
	assert.Equal(t, "registry.uw.systems/team/app:v2", checker.CheckCalls()[0].URI)
}

func TestSummary_Failed(t *testing.T) {
	tests := []struct {
		name        string
		summary     scan.Summary
		failOnError bool
		want        bool
	}{
		{"all ok", scan.Summary{OK: 3}, false, false},
		{"not found", scan.Summary{OK: 1, NotFound: 1}, false, true},
		{"check failed without flag", scan.Summary{CheckFailed: 2}, false, false},
		{"check failed with flag", scan.Summary{CheckFailed: 2}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.Failed(tt.failOnError))
		})
	}
}
