package karst

import (
	"sync"

	"github.com/karstdb/karst/compiler"
)

// PlanCache caches compiled plans by descriptor fingerprint. Plans are
// immutable, so cached entries are shared safely across goroutines.
type PlanCache struct {
	mu    sync.RWMutex
	plans map[string]*compiler.Plan
}

// NewPlanCache returns an empty cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[string]*compiler.Plan)}
}

// Get retrieves the plan cached under key.
func (c *PlanCache) Get(key string) (*compiler.Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[key]
	return p, ok
}

// Put stores a plan under key.
func (c *PlanCache) Put(key string, p *compiler.Plan) {
	c.mu.Lock()
	c.plans[key] = p
	c.mu.Unlock()
}

// Len returns the number of cached plans.
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

// Clear drops every cached plan.
func (c *PlanCache) Clear() {
	c.mu.Lock()
	c.plans = make(map[string]*compiler.Plan)
	c.mu.Unlock()
}
