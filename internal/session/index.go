package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/adred-codev/pubsub-broker/internal/metrics"
)

// Index is the process-wide topic -> subscriber-set mapping. A single
// mutex guards the map and every per-topic set, so readers never observe a
// half-mutated bucket and subscribe/unsubscribe/cleanup never race each
// other.
//
// References held are strong (*Session), not weak references. Liveness is
// instead tracked through Session.Closed(), checked both when materializing
// a Subscribers snapshot and during the periodic cleanup sweep — see
// DESIGN.md "Open Questions resolved" #1.
type Index struct {
	mu      sync.Mutex
	topics  map[int32]map[*Session]struct{}
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewIndex creates an empty subscription index.
func NewIndex(logger *zap.Logger, reg *metrics.Registry) *Index {
	return &Index{
		topics:  make(map[int32]map[*Session]struct{}),
		logger:  logger,
		metrics: reg,
	}
}

// Subscribe idempotently registers s as a subscriber of topic.
func (idx *Index) Subscribe(topic int32, s *Session) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	set, ok := idx.topics[topic]
	if !ok {
		set = make(map[*Session]struct{})
		idx.topics[topic] = set
	}
	set[s] = struct{}{}

	if idx.metrics != nil {
		idx.metrics.SubscribeTotal.Inc()
		idx.metrics.SubscriptionsTotal.Set(float64(idx.countLocked()))
	}
}

// Unsubscribe removes s from topic, dropping the topic entry if its set
// becomes empty.
func (idx *Index) Unsubscribe(topic int32, s *Session) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.unsubscribeLocked(topic, s)

	if idx.metrics != nil {
		idx.metrics.UnsubscribeTotal.Inc()
		idx.metrics.SubscriptionsTotal.Set(float64(idx.countLocked()))
	}
}

func (idx *Index) unsubscribeLocked(topic int32, s *Session) {
	set, ok := idx.topics[topic]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(idx.topics, topic)
	}
}

// UnsubscribeAll removes s from every topic, and drops any other closed
// Session it encounters along the way. Called exactly once, from
// Session.handleErrorAndClose, so an eagerly-closed Session is never routed
// a frame again regardless of when the next cleanup sweep runs.
func (idx *Index) UnsubscribeAll(s *Session) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for topic, set := range idx.topics {
		for other := range set {
			if other == s || other.Closed() {
				delete(set, other)
			}
		}
		if len(set) == 0 {
			delete(idx.topics, topic)
		}
	}

	if idx.metrics != nil {
		idx.metrics.UnsubscribeTotal.Inc()
		idx.metrics.SubscriptionsTotal.Set(float64(idx.countLocked()))
	}
}

// Subscribers returns a materialized snapshot of the currently-live
// subscribers of topic. Closed sessions encountered are omitted from the
// snapshot but are not removed from the index here — removal happens
// eagerly in Session.handleErrorAndClose (via UnsubscribeAll) or lazily in CleanupDead,
// never while holding the lock for a read-only lookup.
//
// The lock is released before the caller ever touches a returned Session:
// the caller must not invoke anything that could block while holding idx.mu.
func (idx *Index) Subscribers(topic int32) []*Session {
	idx.mu.Lock()
	set := idx.topics[topic]
	snapshot := make([]*Session, 0, len(set))
	for s := range set {
		if !s.Closed() {
			snapshot = append(snapshot, s)
		}
	}
	idx.mu.Unlock()
	return snapshot
}

// CleanupDead sweeps every topic, drops closed Session references, and
// removes now-empty topic keys. Returns the number of references removed.
func (idx *Index) CleanupDead() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for topic, set := range idx.topics {
		for s := range set {
			if s.Closed() {
				delete(set, s)
				removed++
			}
		}
		if len(set) == 0 {
			delete(idx.topics, topic)
		}
	}

	if idx.metrics != nil {
		idx.metrics.CleanupSweeps.Inc()
		if removed > 0 {
			idx.metrics.CleanupRemoved.Add(float64(removed))
		}
		idx.metrics.SubscriptionsTotal.Set(float64(idx.countLocked()))
	}

	if idx.logger != nil && removed > 0 {
		idx.logger.Info("cleanup sweep removed dead sessions", zap.Int("removed", removed))
	}

	return removed
}

// countLocked sums subscriber counts across all topics. Caller must hold
// idx.mu.
func (idx *Index) countLocked() int {
	total := 0
	for _, set := range idx.topics {
		total += len(set)
	}
	return total
}

// TopicCount returns the number of distinct topics with at least one
// subscriber, reported by the health endpoint.
func (idx *Index) TopicCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.topics)
}
