package realtime

import (
	"context"
	"sync"

	"draftroom/api/internal/logging"
	"github.com/cespare/xxhash/v2"
)

const dispatchShards = 64

// BroadcastResult counts the outcome of one fan-out.
type BroadcastResult struct {
	Delivered int
	Evicted   int
}

// Broadcaster fans events out to a document's subscribers. It also owns the
// per-document dispatch locks that keep every subscriber seeing one
// document's events in the same order.
type Broadcaster struct {
	registry *Registry
	logger   *logging.Logger
	shards   [dispatchShards]lockShard
}

// lockShard holds the dispatch locks of the documents hashed to it. A lock
// lives only while someone holds or waits for it.
type lockShard struct {
	mu    sync.Mutex
	locks map[string]*documentLock
}

type documentLock struct {
	mu   sync.Mutex
	refs int
}

func NewBroadcaster(registry *Registry, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// Lock serialises dispatch for documentID and returns the unlock func.
// Documents never wait on each other, even when they hash to the same shard.
func (b *Broadcaster) Lock(documentID string) func() {
	shard := &b.shards[xxhash.Sum64String(documentID)%dispatchShards]

	shard.mu.Lock()
	if shard.locks == nil {
		shard.locks = make(map[string]*documentLock)
	}
	lock, ok := shard.locks[documentID]
	if !ok {
		lock = &documentLock{}
		shard.locks[documentID] = lock
	}
	lock.refs++
	shard.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		shard.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(shard.locks, documentID)
		}
		shard.mu.Unlock()
	}
}

// Broadcast sends event to every subscriber of documentID except sender.
// Each target is tried independently; targets whose send fails are evicted
// and closed once the whole pass is done.
func (b *Broadcaster) Broadcast(ctx context.Context, documentID string, sender Peer, event Outbound) BroadcastResult {
	senderID := ""
	if sender != nil {
		senderID = sender.ID()
	}
	targets := b.registry.Targets(documentID, senderID)
	if len(targets) == 0 {
		return BroadcastResult{}
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Peer) {
			defer wg.Done()
			errs[i] = target.Send(ctx, event)
		}(i, target)
	}
	wg.Wait()

	var failed []Peer
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, targets[i])
		b.logger.Warn("evicting connection after failed delivery", logging.Fields{
			"document_id":   documentID,
			"connection_id": targets[i].ID(),
			"event":         event.Type,
			"error":         err,
		})
	}
	if len(failed) > 0 {
		b.registry.Evict(documentID, failed)
		for _, peer := range failed {
			_ = peer.Close()
		}
	}

	return BroadcastResult{
		Delivered: len(targets) - len(failed),
		Evicted:   len(failed),
	}
}
