package clusterserver

import (
	"sync"
	"sync/atomic"
)

// UpsertResult is the outcome of Registry.Upsert.
type UpsertResult int

const (
	// Accepted means the candidate is now the registered route.
	Accepted UpsertResult = iota
	// Rejected means a healthy route to the same peer was kept.
	Rejected
)

func (r UpsertResult) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "rejected"
}

// PreferFunc decides whether candidate replaces a healthy existing route.
type PreferFunc func(existing, candidate *Route) bool

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	Version uint64
	routes  map[string]*Route
	order   []string
}

// Len returns the number of registered routes.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Get returns the route registered under a normalized address.
func (s *Snapshot) Get(addr string) (*Route, bool) {
	rt, ok := s.routes[addr]
	return rt, ok
}

// ByName returns the first route whose remote server name is name.
func (s *Snapshot) ByName(name string) (*Route, bool) {
	if name == "" {
		return nil, false
	}
	for _, addr := range s.order {
		if rt := s.routes[addr]; rt.RemoteName() == name {
			return rt, true
		}
	}
	return nil, false
}

// List returns routes in insertion order.
func (s *Snapshot) List() []*Route {
	out := make([]*Route, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, s.routes[addr])
	}
	return out
}

func (s *Snapshot) with(rt *Route) *Snapshot {
	next := &Snapshot{
		Version: s.Version + 1,
		routes:  make(map[string]*Route, len(s.routes)+1),
		order:   make([]string, 0, len(s.order)+1),
	}
	for k, v := range s.routes {
		next.routes[k] = v
	}
	next.order = append(next.order, s.order...)
	if _, exists := next.routes[rt.Address()]; !exists {
		next.order = append(next.order, rt.Address())
	}
	next.routes[rt.Address()] = rt
	return next
}

func (s *Snapshot) without(addr string) *Snapshot {
	next := &Snapshot{
		Version: s.Version + 1,
		routes:  make(map[string]*Route, len(s.routes)),
		order:   make([]string, 0, len(s.order)),
	}
	for k, v := range s.routes {
		if k != addr {
			next.routes[k] = v
		}
	}
	for _, k := range s.order {
		if k != addr {
			next.order = append(next.order, k)
		}
	}
	return next
}

// Registry holds the routes of this node keyed by normalized peer address.
//
// Writers are serialized by mu and publish a new Snapshot; readers load the
// current snapshot without locking. No I/O happens under mu.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]

	subMu   sync.Mutex
	subs    map[int]chan uint64
	nextSub int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{subs: make(map[int]chan uint64)}
	r.snap.Store(&Snapshot{routes: map[string]*Route{}})
	return r
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// List returns the registered routes in insertion order.
func (r *Registry) List() []*Route {
	return r.snap.Load().List()
}

// Version returns the current snapshot version.
func (r *Registry) Version() uint64 {
	return r.snap.Load().Version
}

// Upsert registers rt under its address.
//
// A conflicting route is one at the same address, or one with the same
// remote server name at another address. A healthy conflict is kept unless
// prefer says otherwise; an unhealthy one is evicted. The evicted route is
// returned on Accepted and the kept route on Rejected. The caller closes
// the loser.
func (r *Registry) Upsert(rt *Route, prefer PreferFunc) (UpsertResult, *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	conflict := r.conflictLocked(cur, rt)

	if conflict != nil && conflict.State().Healthy() {
		if prefer == nil || !prefer(conflict, rt) {
			return Rejected, conflict
		}
	}

	next := cur
	if conflict != nil {
		next = next.without(conflict.Address())
	}
	if existing, ok := next.routes[rt.Address()]; ok && existing == rt {
		if conflict == nil {
			return Accepted, nil
		}
	} else {
		next = next.with(rt)
	}

	r.publishLocked(next)
	return Accepted, conflict
}

func (r *Registry) conflictLocked(s *Snapshot, rt *Route) *Route {
	if existing, ok := s.routes[rt.Address()]; ok && existing != rt {
		return existing
	}
	name := rt.RemoteName()
	if name == "" {
		return nil
	}
	for _, addr := range s.order {
		other := s.routes[addr]
		if other != rt && other.RemoteName() == name {
			return other
		}
	}
	return nil
}

// RemoveRoute deletes rt only if it is still the registered route for its
// address, so a replaced route cannot remove its successor.
func (r *Registry) RemoveRoute(rt *Route) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if existing, ok := cur.routes[rt.Address()]; !ok || existing != rt {
		return false
	}
	r.publishLocked(cur.without(rt.Address()))
	return true
}

// Touch publishes a new version without structural change. Route state
// transitions call it so subscribers see them.
func (r *Registry) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := &Snapshot{Version: cur.Version + 1, routes: cur.routes, order: cur.order}
	r.publishLocked(next)
}

func (r *Registry) publishLocked(next *Snapshot) {
	r.snap.Store(next)

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		notify(ch, next.Version)
	}
}

// notify delivers v to a capacity-1 channel, replacing an unread value.
func notify(ch chan uint64, v uint64) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Subscribe returns a channel receiving the latest version after each
// change. Slow subscribers only see the newest version.
func (r *Registry) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}
