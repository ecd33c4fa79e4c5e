package chat

import (
	"cmp"
	"slices"
	"sync"

	"github.com/samber/lo"
)

type registryEntry struct {
	session *Session
	seq     uint64
}

// Registry maps each online identity to the one Session holding it.
//
// Every operation runs under a single mutex, so Register is an atomic
// check-and-insert and Snapshot never observes a half-applied change.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	seq     uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
	}
}

// Register binds identity to s if nobody holds it yet.
func (r *Registry) Register(identity string, s *Session) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.entries[identity]; taken {
		return ErrIdentityTaken
	}

	r.seq++
	r.entries[identity] = registryEntry{session: s, seq: r.seq}
	s.bind(identity)
	return nil
}

// Unregister releases identity. It reports whether anything was removed.
func (r *Registry) Unregister(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[identity]; !ok {
		return false
	}
	delete(r.entries, identity)
	return true
}

// Resolve returns the session bound to identity.
func (r *Registry) Resolve(identity string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.session, nil
}

// Snapshot returns the online identities in the order they were claimed.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	entries := lo.Entries(r.entries)
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b lo.Entry[string, registryEntry]) int {
		return cmp.Compare(a.Value.seq, b.Value.seq)
	})
	return lo.Map(entries, func(e lo.Entry[string, registryEntry], _ int) string {
		return e.Key
	})
}

// Len returns the number of online identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
