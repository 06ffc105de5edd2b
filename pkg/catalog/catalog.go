// Package catalog maintains the versioned registry of named services the
// engine resolves against. Registrations are installed at startup; resolution
// is read-mostly and safe for concurrent use.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/morezero/service-engine/pkg/engine"
	"github.com/morezero/service-engine/pkg/semver"
)

const logPrefix = "catalog:catalog"

type registration struct {
	version semver.VersionRecord
	value   interface{}
}

// Catalog maps "app.name" identifiers to versioned registrations. Registered
// values are usually typed bindings created with engine.Bind; plain values
// may also be registered, in which case they resolve but fail the engine's
// capability detection.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string][]registration
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string][]registration)}
}

// Register installs a registration for name (format "app.name") at the given
// version (e.g. "1.4.0"). Registering the same name and version twice is an
// error; distinct versions of the same name coexist.
func (c *Catalog) Register(name, version string, value interface{}) error {
	parsed, err := semver.ParseServiceRef(name)
	if err != nil {
		return err
	}
	if parsed.Range != "" {
		return fmt.Errorf("%s - registration name must not carry a version range: %s", logPrefix, name)
	}
	if !semver.ValidateAppName(parsed.App) {
		return fmt.Errorf("%s - invalid app name: %s", logPrefix, parsed.App)
	}
	if !semver.ValidateServiceName(parsed.Name) {
		return fmt.Errorf("%s - invalid service name: %s", logPrefix, parsed.Name)
	}

	record, err := semver.NewVersionRecord(version)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.entries[parsed.Full] {
		if existing.version.VersionString == record.VersionString {
			return fmt.Errorf("%s - %s@%s already registered", logPrefix, parsed.Full, record.VersionString)
		}
	}

	c.entries[parsed.Full] = append(c.entries[parsed.Full], registration{version: record, value: value})
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (c *Catalog) MustRegister(name, version string, value interface{}) {
	if err := c.Register(name, version, value); err != nil {
		panic(err)
	}
}

// Resolve implements engine.TypeResolver. The reference may be a plain
// "app.name" (latest version) or "app.name@range" with a major, exact or
// SemVer range specifier.
func (c *Catalog) Resolve(ref string) (interface{}, bool) {
	parsed, err := semver.ParseServiceRef(ref)
	if err != nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.entries[parsed.Full]
	if len(entries) == 0 {
		return nil, false
	}

	records := make([]semver.VersionRecord, len(entries))
	for i, e := range entries {
		records[i] = e.version
	}

	resolved := semver.ResolveVersion(records, parsed.Range)
	if resolved == nil {
		return nil, false
	}

	for _, e := range entries {
		if e.version.VersionString == resolved.VersionString {
			return e.value, true
		}
	}
	return nil, false
}

// ServiceInfo describes one registered service version for listings.
type ServiceInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Argument  string `json:"argument,omitempty"`
	Result    string `json:"result,omitempty"`
	Invocable bool   `json:"invocable"`
}

// Services lists all registrations sorted by identifier, newest version
// first within an identifier.
func (c *Catalog) Services() []ServiceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ServiceInfo
	for name, entries := range c.entries {
		for _, e := range entries {
			info := ServiceInfo{Service: name, Version: e.version.VersionString}
			if b, ok := engine.Detect(e.value); ok {
				sig := b.Signature()
				info.Argument = sig.Argument
				info.Result = sig.Result
				info.Invocable = true
			}
			out = append(out, info)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return semver.SatisfiesRange(out[i].Version, ">"+out[j].Version)
	})
	return out
}

// Len returns the number of registrations across all versions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, entries := range c.entries {
		n += len(entries)
	}
	return n
}
