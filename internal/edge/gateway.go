package edge

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// cacheSourceHeader tags responses served from cache instead of the
// network, so consumers can distinguish stale data.
const cacheSourceHeader = "X-Haulsync-Cache"

// Config holds gateway configuration.
type Config struct {
	// Listen is the local address the UI connects to.
	Listen string

	// Upstream is the backend base URL.
	Upstream string

	// CacheDir is the root under which version namespaces live.
	CacheDir string

	// ManifestPath is the deploy manifest the gateway watches.
	ManifestPath string

	// Logger for gateway activity. Default: stderr logger.
	Logger *log.Logger

	// Client for upstream fetches. Default: 20s-timeout client.
	Client *http.Client
}

// Gateway serves the UI's requests through the per-class policies.
// Only GET requests are intercepted; every other method is proxied
// untouched.
type Gateway struct {
	config   *Config
	upstream string
	client   *http.Client
	logger   *log.Logger

	manifest atomic.Pointer[Manifest]
	cache    atomic.Pointer[Cache]

	revalMu      sync.Mutex
	revalidating map[string]bool

	listener net.Listener
	server   *http.Server
	watcher  *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a gateway, loads the manifest and opens the cache for
// its version.
func New(config *Config) (*Gateway, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Upstream == "" {
		return nil, fmt.Errorf("upstream cannot be empty")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[edge] ", log.LstdFlags)
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 20 * time.Second}
	}

	manifest, err := LoadManifest(config.ManifestPath)
	if err != nil {
		return nil, err
	}
	cache, err := OpenCache(config.CacheDir, manifest.Version)
	if err != nil {
		return nil, err
	}
	if err := cache.Activate(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create manifest watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		config:       config,
		upstream:     strings.TrimRight(config.Upstream, "/"),
		client:       config.Client,
		logger:       config.Logger,
		watcher:      watcher,
		revalidating: make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
	g.manifest.Store(manifest)
	g.cache.Store(cache)
	return g, nil
}

// Start listens and serves until ctx is cancelled. The manifest
// watcher runs alongside; a version bump in the manifest rolls the
// cache namespace over and prunes old versions.
func (g *Gateway) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.config.Listen, err)
	}
	g.listener = listener
	g.server = &http.Server{Handler: g, ReadHeaderTimeout: 10 * time.Second}

	// Watch the manifest's directory: editors and build pipelines
	// replace the file by rename, which drops a watch on the file
	// itself.
	if err := g.watcher.Add(filepath.Dir(g.config.ManifestPath)); err != nil {
		listener.Close()
		return fmt.Errorf("watch manifest: %w", err)
	}

	g.logger.Printf("Edge gateway listening on %s (cache version %s)",
		listener.Addr(), g.cache.Load().Version())

	g.wg.Add(2)
	go g.serve()
	go g.watchManifest()

	select {
	case <-ctx.Done():
		return g.Stop()
	case <-g.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts the gateway down.
func (g *Gateway) Stop() error {
	g.cancel()

	if g.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.server.Shutdown(shutdownCtx); err != nil {
			g.logger.Printf("Error shutting down server: %v", err)
		}
	}
	if err := g.watcher.Close(); err != nil {
		g.logger.Printf("Error closing watcher: %v", err)
	}

	g.wg.Wait()
	g.logger.Println("Edge gateway stopped")
	return nil
}

func (g *Gateway) serve() {
	defer g.wg.Done()
	if err := g.server.Serve(g.listener); err != nil && err != http.ErrServerClosed {
		g.logger.Printf("Server error: %v", err)
	}
}

// watchManifest debounces manifest file events and reloads on change.
func (g *Gateway) watchManifest() {
	defer g.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-g.ctx.Done():
			return

		case event, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(g.config.ManifestPath) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(200 * time.Millisecond)
				timerC = timer.C
			} else {
				timer.Reset(200 * time.Millisecond)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			g.reloadManifest()

		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			g.logger.Printf("Watcher error: %v", err)
		}
	}
}

// reloadManifest swaps in the new manifest and, on a version change,
// opens the new cache namespace and activates it (deleting all others).
func (g *Gateway) reloadManifest() {
	manifest, err := LoadManifest(g.config.ManifestPath)
	if err != nil {
		g.logger.Printf("Warning: manifest reload failed, keeping version %s: %v",
			g.cache.Load().Version(), err)
		return
	}

	old := g.manifest.Swap(manifest)
	if manifest.Version == old.Version {
		return
	}

	cache, err := OpenCache(g.config.CacheDir, manifest.Version)
	if err != nil {
		g.logger.Printf("Warning: cannot open cache for version %s: %v", manifest.Version, err)
		return
	}
	g.cache.Store(cache)
	if err := cache.Activate(); err != nil {
		g.logger.Printf("Warning: cache activation incomplete: %v", err)
	}
	g.logger.Printf("Activated cache version %s (was %s)", manifest.Version, old.Version)
}

// ServeHTTP routes by request class.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.passthrough(w, r)
		return
	}

	manifest := g.manifest.Load()
	class, mirror := manifest.classify(r.URL.Path)

	switch class {
	case classStatic:
		g.serveStatic(w, r, manifest)
	case classAPIRead:
		g.serveAPIRead(w, r)
	case classTiles:
		g.serveCachedUpstream(w, r, manifest.Tiles.Upstream, manifest.Tiles.Prefix, g.tilePlaceholder)
	case classMirror:
		g.serveCachedUpstream(w, r, mirror.Upstream, mirror.Prefix, g.emptyError)
	default:
		g.passthrough(w, r)
	}
}

// passthrough proxies the request to the backend without caching.
func (g *Gateway) passthrough(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, g.upstream+r.URL.RequestURI(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeader(req.Header, r.Header)

	resp, err := g.client.Do(req)
	if err != nil {
		g.writeOffline(w)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// serveStatic is cache-first with background revalidation: a hit is
// served immediately and refreshed from the network regardless; a miss
// fetches in the foreground; total failure falls back to the cached
// application shell for navigation requests, or an offline response.
func (g *Gateway) serveStatic(w http.ResponseWriter, r *http.Request, manifest *Manifest) {
	cache := g.cache.Load()
	key := Key(r.URL.RequestURI())

	if entry, err := cache.Get(BucketStatic, key); err == nil {
		g.revalidateAsync(cache, BucketStatic, key, r.URL.RequestURI())
		writeEntry(w, entry, "hit")
		return
	}

	entry, err := g.fetch(r.Context(), g.upstream+r.URL.RequestURI())
	if err == nil && entry.Status < 400 {
		if err := cache.Put(BucketStatic, key, entry); err != nil {
			g.logger.Printf("Warning: cache write failed for %s: %v", r.URL.Path, err)
		}
		writeEntry(w, entry, "")
		return
	}

	if isNavigation(r) && manifest.Shell != "" {
		if shell, err := cache.Get(BucketStatic, Key(manifest.Shell)); err == nil {
			writeEntry(w, shell, "shell")
			return
		}
	}
	g.writeOffline(w)
}

// revalidateAsync refreshes a cached static entry in the background.
// Uses the gateway's lifetime context, not the request's: the refresh
// outlives the response. At most one refresh per key is in flight;
// hits arriving while one runs are served without spawning another.
func (g *Gateway) revalidateAsync(cache *Cache, bucket Bucket, key, target string) {
	g.revalMu.Lock()
	if g.revalidating[key] {
		g.revalMu.Unlock()
		return
	}
	g.revalidating[key] = true
	g.revalMu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			g.revalMu.Lock()
			delete(g.revalidating, key)
			g.revalMu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(g.ctx, 20*time.Second)
		defer cancel()

		entry, err := g.fetch(ctx, g.upstream+target)
		if err != nil || entry.Status >= 400 {
			return
		}
		if err := cache.Put(bucket, key, entry); err != nil {
			g.logger.Printf("Warning: revalidation write failed for %s: %v", target, err)
		}
	}()
}

// serveAPIRead is network-first: serve and cache the live response;
// on transport failure serve the cached copy tagged as stale, or a
// structured offline error when there is none.
func (g *Gateway) serveAPIRead(w http.ResponseWriter, r *http.Request) {
	cache := g.cache.Load()
	key := Key(r.URL.RequestURI())

	entry, err := g.fetch(r.Context(), g.upstream+r.URL.RequestURI())
	if err == nil {
		if entry.Status >= 200 && entry.Status <= 299 {
			if err := cache.Put(BucketDynamic, key, entry); err != nil {
				g.logger.Printf("Warning: cache write failed for %s: %v", r.URL.Path, err)
			}
		}
		writeEntry(w, entry, "")
		return
	}

	if cached, cerr := cache.Get(BucketDynamic, key); cerr == nil {
		writeEntry(w, cached, "stale")
		return
	}
	g.writeOffline(w)
}

// serveCachedUpstream is the generic cache-first policy for tiles and
// mirrored cross-origin content. onFail writes the degraded response.
func (g *Gateway) serveCachedUpstream(w http.ResponseWriter, r *http.Request,
	upstream, prefix string, onFail func(http.ResponseWriter)) {
	cache := g.cache.Load()
	key := Key(r.URL.RequestURI())

	if entry, err := cache.Get(BucketDynamic, key); err == nil {
		writeEntry(w, entry, "hit")
		return
	}

	target := strings.TrimRight(upstream, "/") + strings.TrimPrefix(r.URL.RequestURI(), strings.TrimRight(prefix, "/"))
	entry, err := g.fetch(r.Context(), target)
	if err == nil && entry.Status >= 200 && entry.Status <= 299 {
		if err := cache.Put(BucketDynamic, key, entry); err != nil {
			g.logger.Printf("Warning: cache write failed for %s: %v", r.URL.Path, err)
		}
		writeEntry(w, entry, "")
		return
	}
	onFail(w)
}

// tilePlaceholder degrades a missing tile to an empty response. A
// blank tile is cosmetic; an error would surface in the map UI.
func (g *Gateway) tilePlaceholder(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) emptyError(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadGateway)
}

func (g *Gateway) writeOffline(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(cacheSourceHeader, "offline")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`{"error":"offline","offline":true}`))
}

// fetch retrieves target and materializes the response.
func (g *Gateway) fetch(ctx context.Context, target string) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Entry{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

func writeEntry(w http.ResponseWriter, e *Entry, cacheSource string) {
	copyHeader(w.Header(), e.Header)
	if cacheSource != "" {
		w.Header().Set(cacheSourceHeader, cacheSource)
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// isNavigation approximates a browser navigation request: a GET whose
// Accept header asks for HTML.
func isNavigation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
