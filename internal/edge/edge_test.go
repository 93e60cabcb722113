package edge

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeManifest(t *testing.T, path, version, tilesUpstream string) {
	t.Helper()
	manifest := fmt.Sprintf(`
version: %s
shell: /index.html
static:
  - /assets/
api_allow:
  - /api/routes
  - /api/trucks
tiles:
  prefix: /tiles/
  upstream: %s
`, version, tilesUpstream)
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func newTestGateway(t *testing.T, upstream string) *Gateway {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "deploy.yaml")
	writeManifest(t, manifestPath, "v1", upstream+"/tiles/")

	g, err := New(&Config{
		Listen:       "127.0.0.1:0",
		Upstream:     upstream,
		CacheDir:     filepath.Join(dir, "cache"),
		ManifestPath: manifestPath,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		g.cancel()
		_ = g.watcher.Close()
		g.wg.Wait()
	})
	return g
}

func TestLoadManifest_Validation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")

	if err := os.WriteFile(path, []byte("shell: /index.html\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Error("LoadManifest() accepted a manifest without a version")
	}

	if err := os.WriteFile(path, []byte("version: v1\nshell: index.html\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Error("LoadManifest() accepted a relative shell path")
	}
}

func TestManifest_Classify(t *testing.T) {
	m := &Manifest{
		Version:  "v1",
		Shell:    "/index.html",
		Static:   []string{"/assets/"},
		APIAllow: []string{"/api/routes"},
		Tiles:    Tiles{Prefix: "/tiles/", Upstream: "https://tiles.example.com"},
		Mirrors:  []Mirror{{Prefix: "/fonts/", Upstream: "https://fonts.example.com"}},
	}

	cases := []struct {
		path string
		want requestClass
	}{
		{"/", classStatic},
		{"/index.html", classStatic},
		{"/assets/app.js", classStatic},
		{"/api/routes", classAPIRead},
		{"/api/routes/r1", classPassthrough}, // exact match only
		{"/api/gps/batch", classPassthrough},
		{"/tiles/12/653/1401.png", classTiles},
		{"/fonts/roboto.woff2", classMirror},
		{"/unknown", classPassthrough},
	}
	for _, tc := range cases {
		got, _ := m.classify(tc.path)
		if got != tc.want {
			t.Errorf("classify(%q) = %d, want %d", tc.path, got, tc.want)
		}
	}
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	cache, err := OpenCache(t.TempDir(), "v1")
	if err != nil {
		t.Fatalf("OpenCache() failed: %v", err)
	}

	entry := &Entry{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"ok":true}`),
	}
	key := Key("/api/routes")

	if err := cache.Put(BucketDynamic, key, entry); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := cache.Get(BucketDynamic, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != 200 || string(got.Body) != `{"ok":true}` {
		t.Errorf("entry = %+v", got)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Errorf("header = %v", got.Header)
	}
}

func TestCache_MissReturnsNotExist(t *testing.T) {
	cache, err := OpenCache(t.TempDir(), "v1")
	if err != nil {
		t.Fatalf("OpenCache() failed: %v", err)
	}
	if _, err := cache.Get(BucketStatic, Key("/missing")); !os.IsNotExist(err) {
		t.Errorf("Get(miss) = %v, want not-exist", err)
	}
}

func TestCache_ActivatePrunesOtherVersions(t *testing.T) {
	root := t.TempDir()

	v1, err := OpenCache(root, "v1")
	if err != nil {
		t.Fatalf("OpenCache(v1) failed: %v", err)
	}
	if err := v1.Put(BucketStatic, Key("/app.js"), &Entry{Status: 200, Body: []byte("old")}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	v2, err := OpenCache(root, "v2")
	if err != nil {
		t.Fatalf("OpenCache(v2) failed: %v", err)
	}
	if err := v2.Activate(); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "v1")); !os.IsNotExist(err) {
		t.Error("v1 cache survived v2 activation")
	}
	if _, err := os.Stat(filepath.Join(root, "v2")); err != nil {
		t.Errorf("v2 cache missing: %v", err)
	}
}

func TestGateway_StaticCacheFirst(t *testing.T) {
	var upstreamHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprint(w, "console.log(1)")
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL)

	// Miss: fetched from upstream and cached.
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	if rec.Code != 200 || rec.Body.String() != "console.log(1)" {
		t.Fatalf("first response = %d %q", rec.Code, rec.Body.String())
	}

	// Upstream goes away; the cached copy still serves.
	srv.Close()
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	if rec.Code != 200 || rec.Body.String() != "console.log(1)" {
		t.Errorf("cached response = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(cacheSourceHeader) != "hit" {
		t.Errorf("%s = %q, want hit", cacheSourceHeader, rec.Header().Get(cacheSourceHeader))
	}
}

func TestGateway_RevalidateSingleInFlightPerKey(t *testing.T) {
	var upstreamHits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
		<-release
		fmt.Fprint(w, "fresh")
	}))
	defer srv.Close()
	defer close(release)

	g := newTestGateway(t, srv.URL)

	key := Key("/assets/app.js")
	if err := g.cache.Load().Put(BucketStatic, key, &Entry{Status: 200, Body: []byte("cached")}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	// Rapid hits on one cached asset while the first refresh is stuck
	// upstream. Each serves from cache; only one refresh may be in
	// flight.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
		if rec.Code != 200 || rec.Body.String() != "cached" {
			t.Fatalf("hit %d = %d %q", i, rec.Code, rec.Body.String())
		}
	}

	deadline := time.After(time.Second)
	for upstreamHits.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no background refresh started")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	// Any duplicate refresh would have reached the handler by now.
	time.Sleep(50 * time.Millisecond)
	if n := upstreamHits.Load(); n != 1 {
		t.Errorf("upstream refreshes in flight = %d, want 1", n)
	}
}

func TestGateway_NavigationFallsBackToShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>shell</html>")
	}))
	g := newTestGateway(t, srv.URL)

	// Prime the shell cache.
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	if rec.Code != 200 {
		t.Fatalf("shell prime = %d", rec.Code)
	}

	srv.Close()

	// A navigation to an uncached static page gets the shell.
	req := httptest.NewRequest(http.MethodGet, "/assets/other-page", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	if rec.Code != 200 || rec.Body.String() != "<html>shell</html>" {
		t.Errorf("navigation fallback = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(cacheSourceHeader) != "shell" {
		t.Errorf("%s = %q, want shell", cacheSourceHeader, rec.Header().Get(cacheSourceHeader))
	}
}

func TestGateway_APINetworkFirstWithStaleFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"r1"}]`)
	}))
	g := newTestGateway(t, srv.URL)

	// Online: network response, no stale tag.
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/routes", nil))
	if rec.Code != 200 || rec.Header().Get(cacheSourceHeader) != "" {
		t.Fatalf("online response = %d, header %q", rec.Code, rec.Header().Get(cacheSourceHeader))
	}

	// Offline: cached copy, tagged stale.
	srv.Close()
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/routes", nil))
	if rec.Code != 200 || rec.Body.String() != `[{"id":"r1"}]` {
		t.Fatalf("stale response = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(cacheSourceHeader) != "stale" {
		t.Errorf("%s = %q, want stale", cacheSourceHeader, rec.Header().Get(cacheSourceHeader))
	}

	// Offline with nothing cached: structured offline error.
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trucks", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("uncached offline = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("offline Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestGateway_TileDegradesToPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g := newTestGateway(t, srv.URL)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/12/653/1401.png", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("tile miss = %d, want 204", rec.Code)
	}
}

func TestGateway_NonGETPassesThrough(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/gps/batch", nil))
	if rec.Code != http.StatusCreated {
		t.Errorf("passthrough status = %d", rec.Code)
	}
	if method != http.MethodPost || path != "/api/gps/batch" {
		t.Errorf("upstream saw %s %s", method, path)
	}
}

func TestGateway_VersionBumpRollsCacheOver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "body")
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL)

	// Populate the v1 cache.
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	if rec.Code != 200 {
		t.Fatalf("prime = %d", rec.Code)
	}

	root := g.config.CacheDir
	if _, err := os.Stat(filepath.Join(root, "v1")); err != nil {
		t.Fatalf("v1 cache missing: %v", err)
	}

	writeManifest(t, g.config.ManifestPath, "v2", srv.URL+"/tiles/")
	g.reloadManifest()

	if g.cache.Load().Version() != "v2" {
		t.Errorf("active version = %s, want v2", g.cache.Load().Version())
	}
	// v1 must be gone; old and new versions never coexist.
	deadline := time.After(time.Second)
	for {
		if _, err := os.Stat(filepath.Join(root, "v1")); os.IsNotExist(err) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("v1 cache survived activation")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestGateway_SameVersionReloadKeepsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "body")
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL)
	before := g.cache.Load()

	writeManifest(t, g.config.ManifestPath, "v1", srv.URL+"/tiles/")
	g.reloadManifest()

	if g.cache.Load() != before {
		t.Error("cache rolled over without a version change")
	}
}
