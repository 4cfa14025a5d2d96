package vault

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrVaultNotFound is returned when no backend is registered under a name
	ErrVaultNotFound = errors.New("vault not found")

	// ErrUnsupported is returned by vaults for operations they do not offer
	ErrUnsupported = errors.New("operation not supported by vault")
)

// Registry manages named vault backends
type Registry struct {
	mu     sync.RWMutex
	vaults map[string]Vault
}

// NewRegistry creates a new vault registry
func NewRegistry() *Registry {
	return &Registry{
		vaults: make(map[string]Vault),
	}
}

// Register adds a vault under the given name, replacing any previous one
func (r *Registry) Register(name string, v Vault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vaults[name] = v
}

// Get retrieves the vault registered under name
func (r *Registry) Get(name string) (Vault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vaults[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVaultNotFound, name)
	}
	return v, nil
}

// Has checks if a vault is registered under name
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vaults[name]
	return ok
}

// Names returns all registered vault names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.vaults))
	for n := range r.vaults {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
