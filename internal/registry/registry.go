// Package registry maps logical service names to upstream base URLs.
// The registry is built once at startup and read-only afterwards.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// ErrServiceNotConfigured is returned when a service name has no
// registered base URL.
var ErrServiceNotConfigured = errors.New("service not configured")

// Registry holds the immutable service name to base URL mapping.
type Registry struct {
	services map[string]*url.URL
}

// New builds a registry from a name to base URL string mapping.
func New(services map[string]string) (*Registry, error) {
	parsed := make(map[string]*url.URL, len(services))
	for name, raw := range services {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL for service %s: %w", name, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid base URL for service %s: %q", name, raw)
		}
		parsed[name] = u
	}
	return &Registry{services: parsed}, nil
}

// Resolve returns the base URL for a service name.
func (r *Registry) Resolve(name string) (*url.URL, error) {
	u, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotConfigured, name)
	}
	return u, nil
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the name to base URL string mapping.
func (r *Registry) Snapshot() map[string]string {
	snapshot := make(map[string]string, len(r.services))
	for name, u := range r.services {
		snapshot[name] = u.String()
	}
	return snapshot
}
