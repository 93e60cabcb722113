// Package edge is the local network-edge gateway the field UI points
// at. It applies a per-resource-class caching policy in front of the
// backend: cache-first with background revalidation for the static
// application shell, network-first with stale fallback for allow-listed
// reference reads, cache-first with placeholder degradation for map
// tiles and mirrored cross-origin content. Caches are versioned by
// deploy: activating a new manifest version deletes every cache that
// does not match it, so two deploy versions never coexist.
package edge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mirror maps a local path prefix to a cross-origin upstream served
// with the generic cache-first policy.
type Mirror struct {
	Prefix   string `yaml:"prefix"`
	Upstream string `yaml:"upstream"`
}

// Tiles maps a local path prefix to the map-tile upstream. Tile
// failures degrade to an empty placeholder, never an error: a missing
// tile is cosmetic.
type Tiles struct {
	Prefix   string `yaml:"prefix"`
	Upstream string `yaml:"upstream"`
}

// Manifest is the deploy descriptor the build pipeline publishes next
// to the agent. Version changes on every deploy; the gateway watches
// the file and rolls its caches over when the version moves.
type Manifest struct {
	// Version stamps the cache namespace. Bound to deploy time.
	Version string `yaml:"version"`

	// Shell is the application-shell path served to navigation
	// requests when both network and cache miss.
	Shell string `yaml:"shell"`

	// Static lists path prefixes handled cache-first (scripts, vendor
	// bundles, the shell itself).
	Static []string `yaml:"static"`

	// APIAllow lists the idempotent reference-read paths that may be
	// cached. Everything else under /api passes straight through.
	APIAllow []string `yaml:"api_allow"`

	Tiles   Tiles    `yaml:"tiles"`
	Mirrors []Mirror `yaml:"mirrors"`
}

// LoadManifest reads and validates the deploy manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields the gateway cannot run without.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	if m.Shell != "" && !strings.HasPrefix(m.Shell, "/") {
		return fmt.Errorf("shell path must be absolute: %q", m.Shell)
	}
	for _, p := range m.Static {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("static path must be absolute: %q", p)
		}
	}
	for _, p := range m.APIAllow {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("api_allow path must be absolute: %q", p)
		}
	}
	return nil
}

// classify buckets a request path by policy.
type requestClass int

const (
	classPassthrough requestClass = iota
	classStatic
	classAPIRead
	classTiles
	classMirror
)

// classify decides the policy for a GET path. Decision is by request
// target only; the caller has already excluded non-GET methods.
func (m *Manifest) classify(path string) (requestClass, *Mirror) {
	if m.Tiles.Prefix != "" && strings.HasPrefix(path, m.Tiles.Prefix) {
		return classTiles, nil
	}
	for i := range m.Mirrors {
		if strings.HasPrefix(path, m.Mirrors[i].Prefix) {
			return classMirror, &m.Mirrors[i]
		}
	}
	if m.Shell != "" && path == m.Shell {
		return classStatic, nil
	}
	if path == "/" {
		return classStatic, nil
	}
	for _, p := range m.Static {
		if path == p || strings.HasPrefix(path, strings.TrimRight(p, "/")+"/") {
			return classStatic, nil
		}
	}
	for _, p := range m.APIAllow {
		if path == p {
			return classAPIRead, nil
		}
	}
	return classPassthrough, nil
}
