package effect

import (
	"container/list"
	"sync"

	"github.com/aoscore/aos/pkg/codec"
)

// recentDefaultCapacity is spec §4.4's "bounded (~1024 entries)" recent-
// receipt set used to silently drop duplicate/late receipt deliveries on
// replay; once full, the oldest entry is evicted.
const recentDefaultCapacity = 1024

// RecentSet is a bounded, insertion-ordered set of intent hashes already
// settled, used to recognize and drop a receipt replayed for an
// intent_hash no longer in the inflight map.
type RecentSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[codec.Hash]*list.Element
}

// NewRecentSet builds a RecentSet with the given capacity (0 uses
// recentDefaultCapacity).
func NewRecentSet(capacity int) *RecentSet {
	if capacity <= 0 {
		capacity = recentDefaultCapacity
	}
	return &RecentSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[codec.Hash]*list.Element),
	}
}

// Add records h as recently settled, evicting the oldest entry if the
// set is at capacity. A no-op if h is already present.
func (s *RecentSet) Add(h codec.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[h]; ok {
		return
	}
	elem := s.order.PushBack(h)
	s.index[h] = elem
	if s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(codec.Hash))
	}
}

// Contains reports whether h was recently settled.
func (s *RecentSet) Contains(h codec.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[h]
	return ok
}

// Len reports the current number of tracked hashes.
func (s *RecentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
