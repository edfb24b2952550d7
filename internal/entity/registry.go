package entity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

var (
	registry   = make(map[string]Definition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics on duplicate keys or invalid definitions; both are programmer errors.
func Register(def Definition) {
	if err := def.Validate(); err != nil {
		panic(err.Error())
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Info.Key]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Info.Key))
	}
	registry[def.Info.Key] = def
}

// Get returns an entity definition by key.
// Returns false if not found.
func Get(key string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// All returns all registered definitions, sorted by key for stable ordering.
func All() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Definition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// Predicates returns the change predicate for every registered entity, in the
// shape the merge engine expects.
func Predicates() map[string]scd.ChangePredicate {
	registryMu.RLock()
	defer registryMu.RUnlock()

	preds := make(map[string]scd.ChangePredicate, len(registry))
	for key, def := range registry {
		preds[key] = def.Changed
	}
	return preds
}

// Count returns the number of registered entities.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entities. Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Definition)
}
