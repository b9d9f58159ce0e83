// Package registry implements the process-wide service catalog: a map
// from (service_type, provider_name) to provider metadata and a factory
// function that builds a live client. One registry serves ASR, LLM, and
// storage providers uniformly; Discover filters registrations down to
// those whose env-var credentials are actually configured.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// ServiceType identifies a category of pluggable provider.
type ServiceType string

const (
	ServiceASR     ServiceType = "asr"
	ServiceLLM     ServiceType = "llm"
	ServiceStorage ServiceType = "storage"
)

// Metadata describes a registered provider without instantiating it.
type Metadata struct {
	ServiceType     ServiceType
	Name            string
	DisplayName     string
	RequiredEnvVars []string // discovery succeeds only if every var is set
	DefaultModel    string   // LLM/ASR providers only; empty if none
	CostPerUnit     float64  // informational, seconds or token depending on service_type
}

// Overrides customize a single Instantiate call.
type Overrides struct {
	ModelID string
	Extra   map[string]any
}

// Factory builds a live client for a provider given overrides.
type Factory func(overrides Overrides) (any, error)

type registration struct {
	meta    Metadata
	factory Factory
}

// Registry is the process-wide catalog, safe for concurrent use after
// construction. Registration itself is expected to happen once at startup
// and is not optimized for runtime churn.
type Registry struct {
	mu   sync.RWMutex
	regs map[ServiceType]map[string]registration
}

func New() *Registry {
	return &Registry{regs: make(map[ServiceType]map[string]registration)}
}

// Register adds a provider. Re-registering the same (service_type, name)
// pair is a programmer error and panics immediately.
func (r *Registry) Register(meta Metadata, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.regs[meta.ServiceType]
	if !ok {
		byName = make(map[string]registration)
		r.regs[meta.ServiceType] = byName
	}
	if _, exists := byName[meta.Name]; exists {
		panic(fmt.Sprintf("registry: duplicate registration for service_type=%s name=%s", meta.ServiceType, meta.Name))
	}
	byName[meta.Name] = registration{meta: meta, factory: factory}
}

// Metadata returns the registered metadata for a provider, regardless of
// whether its credentials are currently present.
func (r *Registry) Metadata(serviceType ServiceType, name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.regs[serviceType]
	if !ok {
		return Metadata{}, false
	}
	reg, ok := byName[name]
	return reg.meta, ok
}

// Discover lists the provider names of a service type whose required
// environment variables are all present. A provider with no
// RequiredEnvVars is always discoverable.
func (r *Registry) Discover(serviceType ServiceType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.regs[serviceType]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byName))
	for name, reg := range byName {
		if envVarsPresent(reg.meta.RequiredEnvVars) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// All lists every registered provider name of a service type, discoverable
// or not — used by admin/diagnostic surfaces that need to explain why a
// provider is unavailable rather than simply omitting it.
func (r *Registry) All(serviceType ServiceType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.regs[serviceType]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate builds a fresh client for (serviceType, name). For LLM
// providers, overrides.ModelID is required unless the registration carries
// a DefaultModel.
func (r *Registry) Instantiate(serviceType ServiceType, name string, overrides Overrides) (any, error) {
	r.mu.RLock()
	byName, ok := r.regs[serviceType]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("registry: no providers registered for service_type %q", serviceType)
	}
	reg, ok := byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: provider %q not registered for service_type %q", name, serviceType)
	}

	if serviceType == ServiceLLM && overrides.ModelID == "" && reg.meta.DefaultModel == "" {
		return nil, fmt.Errorf("registry: provider %q requires a model_id override (no default configured)", name)
	}
	if overrides.ModelID == "" {
		overrides.ModelID = reg.meta.DefaultModel
	}
	return reg.factory(overrides)
}

func envVarsPresent(vars []string) bool {
	for _, v := range vars {
		if os.Getenv(v) == "" {
			return false
		}
	}
	return true
}
