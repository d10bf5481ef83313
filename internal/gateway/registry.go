package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoGateway is returned when no gateway can serve a payment method.
var ErrNoGateway = errors.New("gateway: no gateway available")

// Registry holds the configured gateways keyed by name and routes payment
// methods to them. Selection order: explicit method mapping, then the default
// gateway, then the first registered gateway by name.
type Registry struct {
	mu          sync.RWMutex
	gateways    map[string]PaymentGateway
	byMethod    map[string]string
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[string]PaymentGateway),
		byMethod: make(map[string]string),
	}
}

// Register adds a gateway under its own name. The first registered gateway
// becomes the default until SetDefault overrides it.
func (r *Registry) Register(gw PaymentGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gateways[gw.Name()] = gw
	if r.defaultName == "" {
		r.defaultName = gw.Name()
	}
}

// SetDefault selects the gateway used when no method mapping matches.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gateways[name]; !ok {
		return ErrNoGateway
	}
	r.defaultName = name
	return nil
}

// MapMethod routes a payment method (e.g. "card", "wallet") to a named
// gateway.
func (r *Registry) MapMethod(method, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gateways[name]; !ok {
		return ErrNoGateway
	}
	r.byMethod[method] = name
	return nil
}

// ForMethod resolves the gateway for a payment method.
func (r *Registry) ForMethod(method string) (PaymentGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.byMethod[method]; ok {
		if gw, ok := r.gateways[name]; ok {
			return gw, nil
		}
	}
	if gw, ok := r.gateways[r.defaultName]; ok {
		return gw, nil
	}

	// Fall back to the first gateway by name so a half-configured registry
	// still routes somewhere deterministic.
	names := r.names()
	if len(names) == 0 {
		return nil, ErrNoGateway
	}
	return r.gateways[names[0]], nil
}

// Get returns a gateway by name.
func (r *Registry) Get(name string) (PaymentGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[name]
	if !ok {
		return nil, ErrNoGateway
	}
	return gw, nil
}

// HealthSummary reports each registered gateway's health, keyed by name.
func (r *Registry) HealthSummary(ctx context.Context) map[string]bool {
	r.mu.RLock()
	gateways := make([]PaymentGateway, 0, len(r.gateways))
	for _, gw := range r.gateways {
		gateways = append(gateways, gw)
	}
	r.mu.RUnlock()

	summary := make(map[string]bool, len(gateways))
	for _, gw := range gateways {
		summary[gw.Name()] = gw.Healthy(ctx)
	}
	return summary
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
