package strategy

import (
	"fmt"
	"sync"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared"
)

// MatchingRegistry holds matching strategies in chain order. Strategies
// are tried in the order they were registered.
type MatchingRegistry struct {
	mu         sync.RWMutex
	order      []string
	strategies map[string]reconciliation.MatchingStrategy
}

// NewMatchingRegistry creates an empty registry
func NewMatchingRegistry() *MatchingRegistry {
	return &MatchingRegistry{
		strategies: make(map[string]reconciliation.MatchingStrategy),
	}
}

// Register appends a strategy to the end of the chain
func (r *MatchingRegistry) Register(s reconciliation.MatchingStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("%w: matching strategy '%s' already registered", shared.ErrAlreadyExists, name)
	}
	for _, existing := range r.strategies {
		if existing.MatchType() == s.MatchType() {
			return fmt.Errorf("%w: match type '%s' already provided by '%s'",
				shared.ErrAlreadyExists, s.MatchType(), existing.Name())
		}
	}
	r.strategies[name] = s
	r.order = append(r.order, name)
	return nil
}

// Get returns a strategy by name
func (r *MatchingRegistry) Get(name string) (reconciliation.MatchingStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.strategies[name]
	if !exists {
		return nil, fmt.Errorf("%w: matching strategy '%s' not found", shared.ErrNotFound, name)
	}
	return s, nil
}

// ByMatchType returns the strategy producing match type t
func (r *MatchingRegistry) ByMatchType(t reconciliation.MatchType) (reconciliation.MatchingStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if s := r.strategies[name]; s.MatchType() == t {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no matching strategy for '%s'", shared.ErrNotFound, t)
}

// Chain returns the strategies in chain order
func (r *MatchingRegistry) Chain() []reconciliation.MatchingStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := make([]reconciliation.MatchingStrategy, 0, len(r.order))
	for _, name := range r.order {
		chain = append(chain, r.strategies[name])
	}
	return chain
}

// Names returns the registered names in chain order
func (r *MatchingRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}
