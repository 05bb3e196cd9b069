package policyfactory

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// Manager keeps one policy per domain. Policies are created lazily from the
// registry's view of the domain and rebuilt when that view changes.
//
// Manager is thread-safe and can be used concurrently.
type Manager struct {
	registry *config.Registry
	logger   *slog.Logger

	mu       sync.RWMutex
	policies map[string]*entry
}

type entry struct {
	policy    bandit.Policy
	algorithm string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a policy manager backed by registry.
func NewManager(registry *config.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		policies: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default().With("component", "policy_manager")
	}
	return m
}

// Get returns the domain's policy, creating it on first use.
func (m *Manager) Get(domain string) (bandit.Policy, error) {
	m.mu.RLock()
	e, ok := m.policies[domain]
	m.mu.RUnlock()
	if ok {
		return e.policy, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have won the race.
	if e, ok := m.policies[domain]; ok {
		return e.policy, nil
	}

	dc := m.registry.GetConfig(domain)
	policy, err := New("", dc, WithLogger(m.logger.With("domain", domain)))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy for domain %q: %w", domain, err)
	}
	m.policies[domain] = &entry{policy: policy, algorithm: policy.Algorithm()}

	m.logger.Info("policy created",
		"domain", domain,
		"algorithm", policy.Algorithm(),
		"total_policies", len(m.policies),
	)
	return policy, nil
}

// Set installs policy for domain, replacing any existing one.
func (m *Manager) Set(domain string, policy bandit.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[domain]; ok {
		m.logger.Warn("replacing existing policy", "domain", domain)
	}
	m.policies[domain] = &entry{policy: policy, algorithm: policy.Algorithm()}
}

// Rebuild recreates the domain's policy from the current registry
// configuration. Learned state carries over when the algorithm is unchanged
// and the old state is compatible with the new parameters; otherwise the
// new policy starts fresh.
func (m *Manager) Rebuild(domain string) (bandit.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dc := m.registry.GetConfig(domain)
	policy, err := New("", dc, WithLogger(m.logger.With("domain", domain)))
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild policy for domain %q: %w", domain, err)
	}

	if old, ok := m.policies[domain]; ok && old.algorithm == policy.Algorithm() {
		state, err := old.policy.ExportState()
		if err == nil {
			err = policy.ImportState(state)
		}
		if err != nil {
			m.logger.Warn("learned state discarded on rebuild",
				"domain", domain,
				"algorithm", policy.Algorithm(),
				"error", err,
			)
			if policy, err = New("", dc, WithLogger(m.logger.With("domain", domain))); err != nil {
				return nil, err
			}
		}
	}

	m.policies[domain] = &entry{policy: policy, algorithm: policy.Algorithm()}
	m.logger.Info("policy rebuilt", "domain", domain, "algorithm", policy.Algorithm())
	return policy, nil
}

// RebuildAll rebuilds every live policy. Errors are collected and returned
// as a single error.
func (m *Manager) RebuildAll() error {
	var failed []string
	for _, domain := range m.Domains() {
		if _, err := m.Rebuild(domain); err != nil {
			m.logger.Error("failed to rebuild policy", "domain", domain, "error", err)
			failed = append(failed, domain)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to rebuild %d policy(s): %v", len(failed), failed)
	}
	return nil
}

// Remove drops the domain's policy.
func (m *Manager) Remove(domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[domain]; !ok {
		return compassErrors.NotFound("policyfactory.Remove", "no policy for domain %q", domain)
	}
	delete(m.policies, domain)
	m.logger.Info("policy removed", "domain", domain, "remaining_policies", len(m.policies))
	return nil
}

// Lookup returns the domain's policy without creating one.
func (m *Manager) Lookup(domain string) (bandit.Policy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.policies[domain]
	if !ok {
		return nil, false
	}
	return e.policy, true
}

// Domains returns the domains with a live policy, sorted.
func (m *Manager) Domains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.policies))
	for name := range m.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of live policies.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.policies)
}

// Diagnostics returns the diagnostics of every live policy keyed by domain.
func (m *Manager) Diagnostics() map[string]bandit.Diagnostics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bandit.Diagnostics, len(m.policies))
	for name, e := range m.policies {
		out[name] = e.policy.Diagnostics()
	}
	return out
}
