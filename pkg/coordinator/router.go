package coordinator

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// portEntry binds a router-global id back to the port (follower
// connection) that owns it and that port's own local id for it, so a
// response can be routed back to exactly the follower that asked.
type portEntry struct {
	portID  string
	localID string
}

// Router implements the spec §4.K router invariants: every inbound
// request from a port gets a globally unique id; the router remembers
// how to map a response back to its originating port; subscriptions are
// remapped the same way; and a transport swap bumps a generation
// counter so stale-transport responses are dropped rather than
// delivered twice. Grounded on pkg/changes.Tracker's mutex-guarded
// map-of-subscriptions style.
type Router struct {
	mu      sync.Mutex
	counter uint64
	prefix  string

	requests      map[string]portEntry
	subscriptions map[string]portEntry

	gen uint64
}

// NewRouter returns an empty router identified by prefix (typically the
// leader's replica id, so ids are globally distinguishable if two
// leaders' routers are ever compared, e.g. in logs during a handoff).
func NewRouter(prefix string) *Router {
	return &Router{
		prefix:        prefix,
		requests:      make(map[string]portEntry),
		subscriptions: make(map[string]portEntry),
	}
}

func (r *Router) nextID() string {
	n := atomic.AddUint64(&r.counter, 1)
	return fmt.Sprintf("%s-%d", r.prefix, n)
}

// AssignRequest records that routerID maps to (portID, localID) and
// returns routerID, the id the engine sees.
func (r *Router) AssignRequest(portID, localID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID()
	r.requests[id] = portEntry{portID: portID, localID: localID}
	return id
}

// ResolveRequest reverses AssignRequest once, for delivering a response.
func (r *Router) ResolveRequest(routerID string) (portID, localID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.requests[routerID]
	if !ok {
		return "", "", false
	}
	delete(r.requests, routerID)
	return e.portID, e.localID, true
}

// AssignSubscription is AssignRequest's analog for standing
// subscriptions: the entry persists (it is not deleted by Resolve)
// until ReleaseSubscription explicitly drops it.
func (r *Router) AssignSubscription(portID, localID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID()
	r.subscriptions[id] = portEntry{portID: portID, localID: localID}
	return id
}

// ResolveSubscription looks up a subscription's owning port without
// consuming the mapping, since a subscription delivers many events.
func (r *Router) ResolveSubscription(routerID string) (portID, localID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.subscriptions[routerID]
	return e.portID, e.localID, ok
}

// ReleaseSubscription drops a subscription mapping, e.g. on explicit
// unsubscribe or when its owning port disconnects.
func (r *Router) ReleaseSubscription(routerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, routerID)
}

// SubscriptionsForPort returns every subscription id currently owned by
// portID, so a disconnecting port's subscriptions can all be
// unsubscribed from the engine.
func (r *Router) SubscriptionsForPort(portID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, e := range r.subscriptions {
		if e.portID == portID {
			out = append(out, id)
		}
	}
	return out
}

// PendingRequests returns every request id still awaiting a response,
// for replay onto a freshly swapped transport (spec: "pending requests
// at the time of swap are re-sent on the new transport with their
// original ids preserved").
func (r *Router) PendingRequests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for id := range r.requests {
		out = append(out, id)
	}
	return out
}

// SwapTransport increments the generation counter and returns the new
// value. Callers tag every frame they send after a swap with this
// generation; a response tagged with a stale generation is dropped.
func (r *Router) SwapTransport() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	return r.gen
}

// Generation reports the router's current transport generation.
func (r *Router) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}
