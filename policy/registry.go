package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCategory reports a category with no registered policy. It is a
// configuration error and should surface at startup, not per request.
var ErrUnknownCategory = errors.New("unknown category")

// Registry maps categories to their policies.
type Registry struct {
	mu       sync.RWMutex
	policies map[Category]Policy
	frozen   bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[Category]Policy)}
}

// NewRegistryFrom registers every entry of policies and freezes the result.
func NewRegistryFrom(policies map[Category]Policy) (*Registry, error) {
	r := NewRegistry()
	for category, p := range policies {
		if err := r.Register(category, p); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// Register adds the policy for category. Must be called before [Registry.Freeze].
func (r *Registry) Register(category Category, p Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("registry frozen")
	}
	if category == "" {
		return errors.New("category name cannot be empty")
	}
	if _, exists := r.policies[category]; exists {
		return fmt.Errorf("category %q already registered", category)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("category %q: %w", category, err)
	}

	r.policies[category] = p
	return nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether [Registry.Freeze] has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Resolve returns the policy of category, or an error wrapping
// [ErrUnknownCategory].
func (r *Registry) Resolve(category Category) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[category]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return p, nil
}

// Validate fails when any of the given categories is unregistered. Callers
// pass every category referenced by their routes at startup.
func (r *Registry) Validate(categories ...Category) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, c := range categories {
		if _, ok := r.policies[c]; !ok {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %v", ErrUnknownCategory, missing)
	}
	return nil
}

// Categories returns the registered categories in sorted order.
func (r *Registry) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Category, 0, len(r.policies))
	for c := range r.policies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of registered categories.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.policies)
}
