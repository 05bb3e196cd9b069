package config

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// Registry holds the active configuration as an immutable snapshot.
// Reads are lock-free; writers are serialized and publish a fresh snapshot,
// so a domain override is visible to the next call without a restart.
//
// A Registry is passed explicitly to the components that need it. There is
// no package-level instance.
type Registry struct {
	snap atomic.Pointer[registrySnapshot]
	mu   sync.Mutex
}

type registrySnapshot struct {
	cfg            *Config
	defaults       DomainConfig
	fileDomains    map[string]DomainConfig
	runtimeDomains map[string]DomainConfig
	allowedDomains map[string]struct{}
	allowedTenants map[string]struct{}
	version        uint64
}

// NewRegistry creates a registry from a loaded configuration such as one
// returned by Default or LoadConfig. Zero fields of domain overrides inherit
// the process defaults, then the configuration is validated; cfg itself is
// not retained.
func NewRegistry(cfg *Config) (*Registry, error) {
	r := &Registry{}
	snap, err := buildSnapshot(cfg, nil, 1)
	if err != nil {
		return nil, err
	}
	r.snap.Store(snap)
	return r, nil
}

func buildSnapshot(cfg *Config, runtime map[string]DomainConfig, version uint64) (*registrySnapshot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	c := cloneConfig(cfg)
	for name, dc := range c.Domains {
		ApplyDomainDefaults(&dc, c)
		c.Domains[name] = dc
	}
	if err := Validate(c); err != nil {
		return nil, err
	}

	snap := &registrySnapshot{
		cfg:            c,
		defaults:       c.DomainConfig(),
		fileDomains:    make(map[string]DomainConfig, len(c.Domains)),
		runtimeDomains: make(map[string]DomainConfig, len(runtime)),
		allowedDomains: toSet(c.Engine.AllowedDomains),
		allowedTenants: toSet(c.Engine.AllowedTenants),
		version:        version,
	}
	for name, dc := range c.Domains {
		snap.fileDomains[name] = dc
	}
	for name, dc := range runtime {
		// A domain defined in the file takes precedence over a runtime
		// override set before the reload.
		if _, ok := snap.fileDomains[name]; ok {
			continue
		}
		snap.runtimeDomains[name] = dc
	}
	return snap, nil
}

// IsEnabledFor reports whether candidate variants may serve the given
// domain and tenant. It requires the global enable flag, membership in any
// configured allow-list, and a rollout bucket below the rollout percentage.
// The bucket is a stable hash of (seed, domain, tenant), so raising the
// percentage only ever adds pairs.
func (r *Registry) IsEnabledFor(domain, tenant string) bool {
	s := r.snap.Load()
	if !s.cfg.Engine.Enabled {
		return false
	}
	if len(s.allowedDomains) > 0 {
		if _, ok := s.allowedDomains[domain]; !ok {
			return false
		}
	}
	if len(s.allowedTenants) > 0 {
		if _, ok := s.allowedTenants[tenant]; !ok {
			return false
		}
	}
	return RolloutBucket(s.cfg.Engine.RolloutSeed, domain, tenant) < s.cfg.Engine.RolloutPercentage
}

// RolloutBucket maps (seed, domain, tenant) to a stable value in [0, 1).
func RolloutBucket(seed, domain, tenant string) float64 {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte{0})
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write([]byte(tenant))
	sum := h.Sum(nil)
	// Top 53 bits give an exactly representable float64 in [0, 1)
	return float64(binary.BigEndian.Uint64(sum[:8])>>11) / (1 << 53)
}

// GetConfig returns the domain override if present, otherwise the process
// defaults. The returned value is a copy.
func (r *Registry) GetConfig(domain string) DomainConfig {
	s := r.snap.Load()
	if dc, ok := s.runtimeDomains[domain]; ok {
		return cloneDomain(dc)
	}
	if dc, ok := s.fileDomains[domain]; ok {
		return cloneDomain(dc)
	}
	return cloneDomain(s.defaults)
}

// HasOverride reports whether the domain has its own configuration.
func (r *Registry) HasOverride(domain string) bool {
	s := r.snap.Load()
	if _, ok := s.runtimeDomains[domain]; ok {
		return true
	}
	_, ok := s.fileDomains[domain]
	return ok
}

// SetDomainConfig validates dc and installs it as the domain's override.
// Zero fields inherit the process defaults. The override is effective for
// the next GetConfig call.
func (r *Registry) SetDomainConfig(domain string, dc DomainConfig) error {
	if domain == "" {
		return ValidationError{Errors: []FieldError{{Field: "domain", Message: "domain name must not be empty"}}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	dc = cloneDomain(dc)
	ApplyDomainDefaults(&dc, cur.cfg)
	if err := ValidateDomainConfig(dc); err != nil {
		return err
	}

	next := *cur
	next.runtimeDomains = make(map[string]DomainConfig, len(cur.runtimeDomains)+1)
	for name, v := range cur.runtimeDomains {
		next.runtimeDomains[name] = v
	}
	next.runtimeDomains[domain] = dc
	next.version = cur.version + 1
	r.snap.Store(&next)
	return nil
}

// Reload replaces the process configuration. Runtime overrides survive
// unless the new configuration defines the same domain. On error the
// current snapshot is kept.
func (r *Registry) Reload(cfg *Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next, err := buildSnapshot(cfg, cur.runtimeDomains, cur.version+1)
	if err != nil {
		return err
	}
	r.snap.Store(next)
	return nil
}

// Config returns the active configuration. Callers must not modify it.
func (r *Registry) Config() *Config {
	return r.snap.Load().cfg
}

// Version increases every time a new snapshot is published.
func (r *Registry) Version() uint64 {
	return r.snap.Load().version
}

// Domains lists every domain with an override.
func (r *Registry) Domains() []string {
	s := r.snap.Load()
	out := make([]string, 0, len(s.fileDomains)+len(s.runtimeDomains))
	for name := range s.fileDomains {
		out = append(out, name)
	}
	for name := range s.runtimeDomains {
		out = append(out, name)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func cloneDomain(dc DomainConfig) DomainConfig {
	dc.Estimator = dc.Estimator.clone()
	return dc
}

func cloneConfig(cfg *Config) *Config {
	c := *cfg
	c.Engine.AllowedDomains = append([]string(nil), cfg.Engine.AllowedDomains...)
	c.Engine.AllowedTenants = append([]string(nil), cfg.Engine.AllowedTenants...)
	c.Estimator = cfg.Estimator.clone()
	c.Telemetry.Metrics.RewardBuckets = append([]float64(nil), cfg.Telemetry.Metrics.RewardBuckets...)
	if cfg.Domains != nil {
		c.Domains = make(map[string]DomainConfig, len(cfg.Domains))
		for name, dc := range cfg.Domains {
			c.Domains[name] = cloneDomain(dc)
		}
	}
	return &c
}
