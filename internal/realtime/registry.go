package realtime

import "context"

// Peer is one live connection as the registry and broadcaster see it.
type Peer interface {
	ID() string
	Send(ctx context.Context, event Outbound) error
	Close() error
}

// Stats is a point-in-time count of registry contents.
type Stats struct {
	Documents   int
	Connections int
	Identities  int
}

// Registry maps documents to subscribed peers and peers to identities. All
// table access happens on the goroutine running Run; public methods send it
// a closure and wait, so callers never hold a lock across I/O.
type Registry struct {
	ops  chan func()
	done chan struct{}

	subscriptions map[string][]Peer
	memberships   map[string]string
	identities    map[string]Identity
}

func NewRegistry() *Registry {
	return &Registry{
		ops:           make(chan func()),
		done:          make(chan struct{}),
		subscriptions: make(map[string][]Peer),
		memberships:   make(map[string]string),
		identities:    make(map[string]Identity),
	}
}

// Run owns the tables until ctx is cancelled. Calls made after Run returns
// are no-ops that return zero values.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) exec(fn func()) bool {
	finished := make(chan struct{})
	select {
	case r.ops <- func() {
		defer close(finished)
		fn()
	}:
	case <-r.done:
		return false
	}
	<-finished
	return true
}

// Subscribe adds peer to documentID. A peer belongs to one document at a
// time; subscribing twice to the same document is a no-op.
func (r *Registry) Subscribe(documentID string, peer Peer) {
	r.exec(func() {
		id := peer.ID()
		if current, ok := r.memberships[id]; ok {
			if current == documentID {
				return
			}
			r.removeOwned(current, id)
		}
		r.subscriptions[documentID] = append(r.subscriptions[documentID], peer)
		r.memberships[id] = documentID
	})
}

func (r *Registry) Unsubscribe(documentID, peerID string) {
	r.exec(func() {
		r.removeOwned(documentID, peerID)
	})
}

// Targets returns a copy of documentID's subscribers other than excludeID.
func (r *Registry) Targets(documentID, excludeID string) []Peer {
	var out []Peer
	r.exec(func() {
		peers := r.subscriptions[documentID]
		out = make([]Peer, 0, len(peers))
		for _, peer := range peers {
			if peer.ID() != excludeID {
				out = append(out, peer)
			}
		}
	})
	return out
}

// Evict unsubscribes peers from documentID and forgets their identities in
// one step.
func (r *Registry) Evict(documentID string, peers []Peer) {
	r.exec(func() {
		for _, peer := range peers {
			r.removeOwned(documentID, peer.ID())
			delete(r.identities, peer.ID())
		}
	})
}

func (r *Registry) SetIdentity(peerID string, identity Identity) {
	r.exec(func() {
		r.identities[peerID] = identity
	})
}

// Identity returns the stored identity, or the anonymous unauthenticated
// identity when none is stored.
func (r *Registry) Identity(peerID string) Identity {
	identity := anonymousIdentity()
	r.exec(func() {
		if stored, ok := r.identities[peerID]; ok {
			identity = stored
		}
	})
	return identity
}

func (r *Registry) ClearIdentity(peerID string) {
	r.exec(func() {
		delete(r.identities, peerID)
	})
}

func (r *Registry) Stats() Stats {
	var stats Stats
	r.exec(func() {
		stats = Stats{
			Documents:   len(r.subscriptions),
			Connections: len(r.memberships),
			Identities:  len(r.identities),
		}
	})
	return stats
}

// removeOwned must run on the Run goroutine. Empty subscription entries are
// deleted, never kept.
func (r *Registry) removeOwned(documentID, peerID string) {
	peers, ok := r.subscriptions[documentID]
	if !ok {
		return
	}
	kept := peers[:0:0]
	for _, peer := range peers {
		if peer.ID() != peerID {
			kept = append(kept, peer)
		}
	}
	if len(kept) == len(peers) {
		return
	}
	if len(kept) == 0 {
		delete(r.subscriptions, documentID)
	} else {
		r.subscriptions[documentID] = kept
	}
	if r.memberships[peerID] == documentID {
		delete(r.memberships, peerID)
	}
}
