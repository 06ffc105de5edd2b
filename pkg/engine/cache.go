package engine

import "sync/atomic"

// invokerCache maps resolved bindings to invocation wrappers through a
// copy-on-write snapshot. The key is the binding itself, not its identifier:
// a catalog may hold several versions of the same identifier as distinct
// bindings, and each must keep its own wrapper. Lookups never block. A
// publish replaces the whole snapshot; two callers missing the cache for the
// same binding may both build a wrapper, and whichever publish lands last
// wins. Both candidates are interchangeable (invoker construction is pure),
// so losing the race costs one redundant construction, never correctness.
// Entries are never evicted; growth is bounded by the number of distinct
// registrations invoked.
type invokerCache struct {
	snapshot atomic.Pointer[map[Invokable]*Invoker]
}

func newInvokerCache() *invokerCache {
	c := &invokerCache{}
	empty := make(map[Invokable]*Invoker)
	c.snapshot.Store(&empty)
	return c
}

func (c *invokerCache) lookup(key Invokable) (*Invoker, bool) {
	inv, ok := (*c.snapshot.Load())[key]
	return inv, ok
}

// publish stores a new snapshot that includes inv under key and returns inv,
// so the publisher always uses its own wrapper for the current call.
func (c *invokerCache) publish(key Invokable, inv *Invoker) *Invoker {
	current := *c.snapshot.Load()
	next := make(map[Invokable]*Invoker, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[key] = inv
	c.snapshot.Store(&next)
	return inv
}
