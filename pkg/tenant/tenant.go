// Package tenant carries the current tenant identity through contexts and pooled workers.
package tenant

import (
	"context"
	"sort"
	"sync"
)

type contextKey struct{}

type slotKey struct{}

// WithID returns a copy of ctx bound to the given tenant.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// FromContext returns the tenant bound to ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(contextKey{}).(string)

	return tenantID, ok
}

// Slot holds the tenant of the unit of work currently running on one worker.
// A worker owns exactly one slot; tasks must Set it before doing tenant-scoped
// work and Clear it afterwards, including on failure.
type Slot struct {
	mu       sync.RWMutex
	tenantID string
}

func (s *Slot) Set(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tenantID = tenantID
}

func (s *Slot) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tenantID
}

func (s *Slot) Clear() {
	s.Set("")
}

// WithSlot attaches a worker slot to ctx.
func WithSlot(ctx context.Context, slot *Slot) context.Context {
	return context.WithValue(ctx, slotKey{}, slot)
}

// SlotFromContext returns the worker slot attached to ctx, or nil.
func SlotFromContext(ctx context.Context) *Slot {
	slot, _ := ctx.Value(slotKey{}).(*Slot)

	return slot
}

// InfoHolder lists the tenants an executor should serve.
type InfoHolder interface {
	AllTenants() []string
}

// StaticHolder is an InfoHolder over a fixed tenant list.
type StaticHolder struct {
	mu      sync.RWMutex
	tenants map[string]struct{}
}

func NewStaticHolder(tenantIDs ...string) *StaticHolder {
	holder := &StaticHolder{tenants: make(map[string]struct{}, len(tenantIDs))}

	for _, id := range tenantIDs {
		holder.tenants[id] = struct{}{}
	}

	return holder
}

func (h *StaticHolder) Add(tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.tenants[tenantID] = struct{}{}
}

func (h *StaticHolder) Remove(tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.tenants, tenantID)
}

// AllTenants returns the tenants in lexical order.
func (h *StaticHolder) AllTenants() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.tenants))
	for id := range h.tenants {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
