package features

import (
	"sort"
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled reports whether a flag is on. Unknown flags are off, and a nil
// manager reports every flag as off.
func (m *Manager) IsEnabled(name string) bool {
	if m == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}

	return flag.Enabled
}

// Set toggles a registered flag. It returns false for unknown flags.
func (m *Manager) Set(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}
	flag.Enabled = enabled
	return true
}

// List returns a copy of every flag ordered by name.
func (m *Manager) List() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FeatureFlag, 0, len(m.flags))
	for _, v := range m.flags {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Predefined feature flag names
const (
	// FeatureCacheEnabled serves read endpoints through the cache
	FeatureCacheEnabled = "cache_enabled"
	// FeatureEventHooksEnabled dispatches domain events to metrics and log hooks
	FeatureEventHooksEnabled = "event_hooks_enabled"
	// FeatureLegacyTransitions re-fires notifications on repeated transitions
	// and allows delivery of claims that were never approved
	FeatureLegacyTransitions = "legacy_transitions"
)

// RegisterDefaults registers the service flags with their configured state.
func (m *Manager) RegisterDefaults(cacheEnabled, eventHooks, legacyTransitions bool) {
	m.Register(FeatureCacheEnabled, cacheEnabled, "Serve active offer and config reads from cache")
	m.Register(FeatureEventHooksEnabled, eventHooks, "Dispatch domain events to metrics and log hooks")
	m.Register(FeatureLegacyTransitions, legacyTransitions, "Repeat notifications on idempotent transitions and skip the approval check on delivery")
}
