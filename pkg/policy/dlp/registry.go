package dlp

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultProfile names the builtin configuration.
const DefaultProfile = "default"

// Registry is a threadsafe catalog of named configurations, for example one
// per tenant.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Config
}

// NewRegistry returns a registry holding the builtin default profile.
func NewRegistry() *Registry {
	return &Registry{profiles: map[string]Config{DefaultProfile: DefaultConfig()}}
}

// Register inserts or replaces a profile.
func (r *Registry) Register(name string, cfg Config) error {
	key := profileKey(name)
	if key == "" {
		return fmt.Errorf("dlp: registry profile name is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("dlp: registry profile %s: %w", name, err)
	}

	r.mu.Lock()
	r.profiles[key] = cloneConfig(cfg)
	r.mu.Unlock()
	return nil
}

// Replace swaps the whole catalog. The default profile is kept unless
// profiles overrides it. Nothing is changed when any profile is invalid.
func (r *Registry) Replace(profiles map[string]Config) error {
	next := map[string]Config{DefaultProfile: DefaultConfig()}
	for name, cfg := range profiles {
		key := profileKey(name)
		if key == "" {
			return fmt.Errorf("dlp: registry profile name is required")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("dlp: registry profile %s: %w", name, err)
		}
		next[key] = cloneConfig(cfg)
	}

	r.mu.Lock()
	r.profiles = next
	r.mu.Unlock()
	return nil
}

// Resolve retrieves a profile by name. An empty name resolves the default.
func (r *Registry) Resolve(name string) (Config, bool) {
	key := profileKey(name)
	if key == "" {
		key = DefaultProfile
	}

	r.mu.RLock()
	cfg, ok := r.profiles[key]
	r.mu.RUnlock()
	if !ok {
		return Config{}, false
	}
	return cloneConfig(cfg), true
}

// Names returns the registered profile names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func profileKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
