package scheduler

import "sync"

// gate is the concurrency bookkeeping for in-flight task ids.
//
// Entries are added immediately before invoking the executor and removed
// after completion or failure. Its cardinality never exceeds the configured
// maximum: the dispatcher sizes its fan-out from Free(), and Add() rejects
// inserts at capacity.
type gate struct {
	mu  sync.Mutex
	max int
	ids map[string]struct{}
}

func newGate(max int) *gate {
	if max <= 0 {
		max = DefaultMaxConcurrentTasks
	}
	return &gate{max: max, ids: map[string]struct{}{}}
}

// Resize changes the capacity. Shrinking does not evict in-flight entries;
// it only blocks new Adds until the set drains below the new cap.
func (g *gate) Resize(max int) {
	if max <= 0 {
		return
	}
	g.mu.Lock()
	g.max = max
	g.mu.Unlock()
}

// Add reserves a slot for id. It returns false when id is already in flight
// or the gate is at capacity.
func (g *gate) Add(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.ids[id]; ok {
		return false
	}
	if len(g.ids) >= g.max {
		return false
	}
	g.ids[id] = struct{}{}
	return true
}

func (g *gate) Remove(id string) {
	g.mu.Lock()
	delete(g.ids, id)
	g.mu.Unlock()
}

func (g *gate) Contains(id string) bool {
	g.mu.Lock()
	_, ok := g.ids[id]
	g.mu.Unlock()
	return ok
}

func (g *gate) Len() int {
	g.mu.Lock()
	n := len(g.ids)
	g.mu.Unlock()
	return n
}

// Free reports the remaining capacity.
func (g *gate) Free() int {
	g.mu.Lock()
	free := g.max - len(g.ids)
	g.mu.Unlock()
	if free < 0 {
		free = 0
	}
	return free
}

// IDs returns a copy of the in-flight set.
func (g *gate) IDs() []string {
	g.mu.Lock()
	out := make([]string, 0, len(g.ids))
	for id := range g.ids {
		out = append(out, id)
	}
	g.mu.Unlock()
	return out
}
