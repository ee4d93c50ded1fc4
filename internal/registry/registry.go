// Package registry implements the Credential Registry: an in-memory,
// read-mostly map from opaque credential string to its three numeric
// limits, loaded from a YAML document and swapped in atomically on
// reload so in-flight admission calls never observe a partial snapshot.
package registry

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"ratelimit-gateway/internal/ratelimiter"
)

// Document is the shape of the credentials file:
//
//	keys:
//	  sk-live-abc123:
//	    request_per_minute: 60
//	    input_tokens_per_minute: 100000
//	    output_tokens_per_minute: 20000
type Document struct {
	Keys map[string]KeyLimits `yaml:"keys"`
}

// KeyLimits is one credential's three non-negative caps. Reload rejects
// negative values; a field left out of the document is not reported
// and reads as 0.
type KeyLimits struct {
	RequestsPerMinute     int64 `yaml:"request_per_minute"`
	InputTokensPerMinute  int64 `yaml:"input_tokens_per_minute"`
	OutputTokensPerMinute int64 `yaml:"output_tokens_per_minute"`
}

// Registry holds the current snapshot of credential -> limits. The
// zero value is not usable; construct with Load.
type Registry struct {
	path     string
	snapshot atomic.Pointer[map[string]ratelimiter.Limits]
}

// Load reads path and returns a ready-to-use Registry.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the credentials document and atomically swaps in the
// new snapshot. An error leaves the previous snapshot in place, so a
// bad reload never takes a running fleet node's registry to empty.
func (r *Registry) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", r.path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("registry: parse %s: %w", r.path, err)
	}

	next := make(map[string]ratelimiter.Limits, len(doc.Keys))
	for credential, limits := range doc.Keys {
		if limits.RequestsPerMinute < 0 || limits.InputTokensPerMinute < 0 || limits.OutputTokensPerMinute < 0 {
			return fmt.Errorf("registry: %s: negative limit for credential %q", r.path, credential)
		}
		next[credential] = ratelimiter.Limits{
			RPM:  limits.RequestsPerMinute,
			ITPM: limits.InputTokensPerMinute,
			OTPM: limits.OutputTokensPerMinute,
		}
	}

	r.snapshot.Store(&next)
	return nil
}

// Lookup implements ratelimiter.LimitsLookup: an O(1) read of the
// current point-in-time snapshot. Unknown credentials return false,
// never a coerced default.
func (r *Registry) Lookup(credential string) (ratelimiter.Limits, bool) {
	m := r.snapshot.Load()
	if m == nil {
		return ratelimiter.Limits{}, false
	}
	limits, ok := (*m)[credential]
	return limits, ok
}

// Size reports how many credentials are in the current snapshot, for
// health/diagnostic logging.
func (r *Registry) Size() int {
	m := r.snapshot.Load()
	if m == nil {
		return 0
	}
	return len(*m)
}
