package sessions

import (
	"context"
	"sync"
	"time"
)

// Registry is an in-memory map of sessionID to Session. It tolerates
// interleaved Upsert/EvictOthers/MarkDisconnected calls from connection
// attempts racing on the same userID: eviction decisions re-check the
// Connected flag under the lock at the moment of action rather than trusting
// any earlier snapshot.
type Registry struct {
	mu      sync.RWMutex
	policy  Policy
	ttl     time.Duration
	entries map[string]*entry
}

type entry struct {
	sess           Session
	disconnectedAt time.Time
}

// NewRegistry builds a Registry with the given retention policy. The ttl
// bounds how long RetainDisconnected tombstones survive before Sweep removes
// them; ttl <= 0 disables sweeping.
func NewRegistry(policy Policy, ttl time.Duration) *Registry {
	return &Registry{
		policy:  policy,
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

// Policy returns the retention policy the registry was built with.
func (r *Registry) Policy() Policy { return r.policy }

// Resolve looks up a session by ID. It has no side effects.
func (r *Registry) Resolve(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return Session{}, false
	}
	return e.sess, true
}

// Upsert creates or overwrites the entry for s.SessionID. It is idempotent.
func (r *Registry) Upsert(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.SessionID] = &entry{sess: s}
}

// EvictOthers forcibly disconnects and removes every other connected session
// belonging to userID. Sessions of other users, and the session identified
// by exceptSessionID, are untouched. The evicted sessions are returned for
// logging. Connection handles are closed after the registry lock is
// released.
func (r *Registry) EvictOthers(userID, exceptSessionID string) []Session {
	var evicted []Session

	r.mu.Lock()
	for id, e := range r.entries {
		if e.sess.UserID != userID || id == exceptSessionID {
			continue
		}
		if !e.sess.Connected {
			continue
		}
		evicted = append(evicted, e.sess)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, s := range evicted {
		if s.Conn != nil {
			s.Conn.Close(ErrEvicted)
		}
	}
	return evicted
}

// MarkDisconnected applies the retention policy to a session whose
// connection went away: tombstone under RetainDisconnected, removal under
// DropOnDisconnect. It reports whether the call changed anything, so a
// second disconnect for the same session is a no-op.
func (r *Registry) MarkDisconnected(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return false
	}
	if r.policy == DropOnDisconnect {
		delete(r.entries, sessionID)
		return true
	}
	if !e.sess.Connected {
		return false
	}
	e.sess.Connected = false
	e.sess.Conn = nil
	e.disconnectedAt = time.Now()
	return true
}

// Remove deletes the entry outright regardless of policy.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// Snapshot returns a copy of every session for fan-out iteration. The copy
// is safe to walk concurrently with registry mutations.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.sess)
	}
	return out
}

// Len returns the number of entries, tombstones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep removes tombstones that disconnected more than the TTL ago and
// returns how many were dropped.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if !e.sess.Connected && now.Sub(e.disconnectedAt) >= r.ttl {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// RunSweeper periodically sweeps expired tombstones until ctx is done. It is
// a no-op for registries without a TTL.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Sweep(now)
		}
	}
}
