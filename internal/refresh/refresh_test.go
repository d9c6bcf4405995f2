package refresh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmdocs/llmdoc/internal/app"
	"github.com/llmdocs/llmdoc/internal/config"
)

// testSite serves a mutable llms.txt manifest plus its documents.
type testSite struct {
	mu       sync.Mutex
	manifest string
	docs     map[string]string
	srv      *httptest.Server
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	site := &testSite{
		manifest: "# Demo\n\n- [Alpha](a.md)\n- [Beta](b.md)\n- [Gamma](c.md)\n",
		docs: map[string]string{
			"/a.md": "# Alpha\n\nAlpha describes rate limiting policies.\n",
			"/b.md": "# Beta\n\nBeta covers caching strategies deeply.\n",
			"/c.md": "# Gamma\n\nGamma explains gateway routing rules.\n",
		},
	}
	site.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		defer site.mu.Unlock()
		if r.URL.Path == "/llms.txt" {
			fmt.Fprint(w, site.manifest)
			return
		}
		body, ok := site.docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(site.srv.Close)
	return site
}

func (s *testSite) setManifest(manifest string) {
	s.mu.Lock()
	s.manifest = manifest
	s.mu.Unlock()
}

func (s *testSite) manifestURL() string { return s.srv.URL + "/llms.txt" }

func newTestApp(t *testing.T, site *testSite) (*app.App, *config.Config) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "index.db")
	cfg.Sources = []config.Source{{Name: "demo", URL: site.manifestURL()}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, cfg
}

func newCoordinator(a *app.App) *Coordinator {
	return New(a, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRefresh_PopulatesStore(t *testing.T) {
	site := newTestSite(t)
	a, _ := newTestApp(t, site)
	c := newCoordinator(a)

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.RefreshedCount)
	assert.Equal(t, 3, result.IndexedDocuments)
	assert.Positive(t, result.IndexedChunks)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "demo", result.Sources[0].Name)
	assert.Equal(t, 3, result.Sources[0].DocCount)
	assert.Zero(t, result.Sources[0].Errors)

	doc, err := a.GetDocument(site.srv.URL + "/b.md")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "Beta", doc.Title)
	assert.Equal(t, "demo", doc.SourceName)

	// The swapped-in store backs the rebuilt index.
	results := a.SearchDocs("caching", 5, "")
	require.Len(t, results, 1)
	assert.Equal(t, site.srv.URL+"/b.md", results[0].DocURL)
}

func TestRefresh_ReapsRemovedDocuments(t *testing.T) {
	site := newTestSite(t)
	a, _ := newTestApp(t, site)
	c := newCoordinator(a)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// The next manifest drops b.md and c.md.
	site.setManifest("# Demo\n\n- [Alpha](a.md)\n")

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.RefreshedCount)
	assert.Equal(t, 1, result.IndexedDocuments)

	doc, err := a.GetDocument(site.srv.URL + "/b.md")
	require.NoError(t, err)
	assert.Nil(t, doc)

	doc, err = a.GetDocument(site.srv.URL + "/a.md")
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestRefresh_UnchangedContentKeepsHash(t *testing.T) {
	site := newTestSite(t)
	a, _ := newTestApp(t, site)
	c := newCoordinator(a)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	before, err := a.GetDocument(site.srv.URL + "/a.md")
	require.NoError(t, err)
	require.NotNil(t, before)

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.RefreshedCount)

	after, err := a.GetDocument(site.srv.URL + "/a.md")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.ContentHash, after.ContentHash)
	assert.Equal(t, before.ID, after.ID)
}

func TestRefresh_SkipsWhenLocked(t *testing.T) {
	site := newTestSite(t)
	a, cfg := newTestApp(t, site)
	c := newCoordinator(a)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// Simulate another instance holding the refresh lock.
	other := flock.New(cfg.LockPath())
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, SkipReasonLocked, result.Reason)
	assert.Zero(t, result.RefreshedCount)
	assert.Equal(t, 3, result.IndexedDocuments)
	assert.Positive(t, result.IndexedChunks)
}

func TestRefresh_PartialFetchFailure(t *testing.T) {
	site := newTestSite(t)
	site.setManifest("# Demo\n\n- [Alpha](a.md)\n- [Missing](missing.md)\n")
	a, _ := newTestApp(t, site)
	c := newCoordinator(a)

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.RefreshedCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Failed to fetch "+site.srv.URL+"/missing.md")

	require.Len(t, result.Sources, 1)
	assert.Equal(t, 1, result.Sources[0].Errors)

	doc, err := a.GetDocument(site.srv.URL + "/a.md")
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestRefresh_FailureRemovesShadowFile(t *testing.T) {
	site := newTestSite(t)
	a, cfg := newTestApp(t, site)
	c := newCoordinator(a)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// A directory at the primary path makes the shadow copy (and any rename
	// over it) impossible; the open handle keeps reading the old inode.
	require.NoError(t, os.Remove(cfg.DBPath))
	require.NoError(t, os.Mkdir(cfg.DBPath, 0o755))

	_, err = c.Refresh(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(cfg.TempDBPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestStartupNeeded_EmptyStore(t *testing.T) {
	site := newTestSite(t)
	a, _ := newTestApp(t, site)
	c := newCoordinator(a)

	needed, err := c.StartupNeeded()
	require.NoError(t, err)
	assert.True(t, needed)
}

func TestStartupNeeded_SkipFlag(t *testing.T) {
	site := newTestSite(t)
	a, cfg := newTestApp(t, site)
	cfg.SkipStartupRefresh = true
	c := newCoordinator(a)

	needed, err := c.StartupNeeded()
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestStartupNeeded_NoSources(t *testing.T) {
	site := newTestSite(t)
	a, cfg := newTestApp(t, site)
	cfg.Sources = nil
	c := newCoordinator(a)

	needed, err := c.StartupNeeded()
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestStartupNeeded_FreshData(t *testing.T) {
	site := newTestSite(t)
	a, _ := newTestApp(t, site)
	c := newCoordinator(a)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	needed, err := c.StartupNeeded()
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestStartupNeeded_StaleData(t *testing.T) {
	site := newTestSite(t)
	a, cfg := newTestApp(t, site)
	c := newCoordinator(a)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// A zero interval makes any stored row older than the threshold.
	cfg.RefreshIntervalHours = 0

	needed, err := c.StartupNeeded()
	require.NoError(t, err)
	assert.True(t, needed)
}

func TestStartupNeeded_UnfetchedSourceDoesNotForce(t *testing.T) {
	site := newTestSite(t)
	a, cfg := newTestApp(t, site)
	c := newCoordinator(a)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// A configured source with no stored rows is not by itself a reason
	// to refresh again.
	cfg.Sources = append(cfg.Sources, config.Source{
		Name: "ghost",
		URL:  "https://ghost.test/llms.txt",
	})

	needed, err := c.StartupNeeded()
	require.NoError(t, err)
	assert.False(t, needed)
}
