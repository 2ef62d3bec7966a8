package renderer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framepipe/internal/models"
	"framepipe/internal/pkg/logger"
)

func TestNewChrome_Defaults(t *testing.T) {
	c := NewChrome(Options{BaseURL: "http://localhost:8080/"}, logger.Discard())
	assert.Equal(t, "#done-tag", c.opts.DoneSelector)
	assert.Equal(t, 400, c.opts.WindowWidth)
	assert.Equal(t, 200, c.opts.WindowHeight)
}

func TestAllocatorOptions_BrowserPath(t *testing.T) {
	base := NewChrome(Options{}, logger.Discard()).allocatorOptions()
	withPath := NewChrome(Options{BrowserPath: "/usr/bin/chromium"}, logger.Discard()).allocatorOptions()
	assert.Len(t, withPath, len(base)+1)
}

func TestRender_InvalidBaseURL(t *testing.T) {
	c := NewChrome(Options{BaseURL: "not a url"}, logger.Discard())
	err := c.Render(context.Background(), models.SubJob{Scene: "s", Format: "HD", StartFrame: 1, EndFrame: 1})
	assert.Error(t, err)
}

func findChrome(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no chrome binary on PATH")
	return ""
}

func TestRender_WaitsForDoneMarker(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a browser")
	}
	chrome := findChrome(t)

	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		select {
		case queries <- r.URL.RawQuery:
		default:
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><script>
setTimeout(function () {
  var d = document.createElement('div');
  d.id = 'done-tag';
  document.body.appendChild(d);
}, 200);
</script></body></html>`))
	}))
	defer srv.Close()

	c := NewChrome(Options{BaseURL: srv.URL + "/", Headless: true, BrowserPath: chrome}, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := c.Render(ctx, models.SubJob{Scene: "sample", Format: "HD", StartFrame: 1, EndFrame: 10})
	require.NoError(t, err)

	gotQuery := <-queries
	assert.Contains(t, gotQuery, "scene=sample")
	assert.Contains(t, gotQuery, "endFrame=10")
}

func TestRender_ContextEndsWaitWithoutMarker(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a browser")
	}
	chrome := findChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>rendering</body></html>`))
	}))
	defer srv.Close()

	c := NewChrome(Options{BaseURL: srv.URL + "/", Headless: true, BrowserPath: chrome}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Render(ctx, models.SubJob{Scene: "sample", Format: "HD", StartFrame: 1, EndFrame: 2})
	}()

	select {
	case err := <-errCh:
		t.Fatalf("render returned before the marker appeared: %v", err)
	case <-time.After(3 * time.Second):
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("render did not stop after the context ended")
	}
}
