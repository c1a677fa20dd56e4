package overlay

import (
	"time"

	"github.com/google/uuid"
)

// conn is one registered transport channel.
type conn struct {
	handle    uuid.UUID
	identity  string
	push      PushFunc
	createdAt time.Time
}

// connectionRegistry owns the connection<->identity mappings in both
// directions. One identity may hold any number of simultaneous connections.
//
// The registry carries no lock of its own; the owning Hub serializes all
// access (see hub.go).
type connectionRegistry struct {
	conns      map[uuid.UUID]*conn
	byIdentity map[string]map[uuid.UUID]*conn
}

func newConnectionRegistry() *connectionRegistry {
	return &connectionRegistry{
		conns:      make(map[uuid.UUID]*conn),
		byIdentity: make(map[string]map[uuid.UUID]*conn),
	}
}

// register records the mapping both ways. Re-registering a known handle only
// refreshes its push function; it never duplicates entries.
func (r *connectionRegistry) register(handle uuid.UUID, identity string, push PushFunc) {
	if existing, ok := r.conns[handle]; ok {
		existing.push = push
		return
	}
	c := &conn{
		handle:    handle,
		identity:  identity,
		push:      push,
		createdAt: time.Now(),
	}
	r.conns[handle] = c
	set, ok := r.byIdentity[identity]
	if !ok {
		set = make(map[uuid.UUID]*conn)
		r.byIdentity[identity] = set
	}
	set[handle] = c
}

// unregister removes the mapping. last reports that this was the identity's
// final open connection, signalling presence teardown to the caller.
func (r *connectionRegistry) unregister(handle uuid.UUID) (identity string, last bool) {
	c, ok := r.conns[handle]
	if !ok {
		return "", false
	}
	delete(r.conns, handle)

	set := r.byIdentity[c.identity]
	delete(set, handle)
	if len(set) == 0 {
		delete(r.byIdentity, c.identity)
		return c.identity, true
	}
	return c.identity, false
}

// connectionsFor returns the open handles for an identity, possibly empty.
func (r *connectionRegistry) connectionsFor(identity string) []uuid.UUID {
	set := r.byIdentity[identity]
	handles := make([]uuid.UUID, 0, len(set))
	for h := range set {
		handles = append(handles, h)
	}
	return handles
}

// pushersFor returns the push functions for an identity's open handles.
func (r *connectionRegistry) pushersFor(identity string) []PushFunc {
	set := r.byIdentity[identity]
	pushers := make([]PushFunc, 0, len(set))
	for _, c := range set {
		pushers = append(pushers, c.push)
	}
	return pushers
}

func (r *connectionRegistry) identityFor(handle uuid.UUID) (string, bool) {
	c, ok := r.conns[handle]
	if !ok {
		return "", false
	}
	return c.identity, true
}

func (r *connectionRegistry) connectionCount(identity string) int {
	return len(r.byIdentity[identity])
}

func (r *connectionRegistry) totalConnections() int {
	return len(r.conns)
}
