// Package peers tracks the remote clients currently connected to the relay.
package peers

import (
	"sort"
	"sync"
)

// Registry is the set of connected peers keyed by connection id. It is safe
// for concurrent use; readers that iterate should work on a Snapshot.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Add registers p, replacing any peer with the same id.
func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
}

// Remove drops the peer with the given id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Registry) Get(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns the peers registered at call time, ordered by id. Later
// registry changes do not affect the returned slice.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
