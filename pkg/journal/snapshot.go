package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/store"
)

// Snapshot is a periodic baseline of kernel state: everything needed to
// resume replay from AtSeq forward without re-applying every prior
// record. Baselines are indexed by journal position rather than
// wall-clock time.
type Snapshot struct {
	AtSeq uint64         `cbor:"at_seq"`
	State map[string]any `cbor:"state"`
}

// SnapshotStore stores Snapshot nodes in a content-addressed store and
// keeps a seq->hash index so the latest snapshot at or before a given
// seq can be found without scanning the CAS.
type SnapshotStore struct {
	cas store.CAS

	mu    sync.RWMutex
	index map[uint64]codec.Hash
}

// NewSnapshotStore builds a SnapshotStore backed by cas.
func NewSnapshotStore(cas store.CAS) *SnapshotStore {
	return &SnapshotStore{cas: cas, index: make(map[uint64]codec.Hash)}
}

// Save stores state as a snapshot baseline at journal position atSeq.
func (s *SnapshotStore) Save(ctx context.Context, atSeq uint64, state map[string]any) (codec.Hash, error) {
	snap := Snapshot{AtSeq: atSeq, State: state}
	hash, err := s.cas.PutNode(ctx, snap)
	if err != nil {
		return codec.Hash{}, fmt.Errorf("journal: store snapshot at seq %d: %w", atSeq, err)
	}

	s.mu.Lock()
	s.index[atSeq] = hash
	s.mu.Unlock()
	return hash, nil
}

// Latest returns the most recent snapshot at or before atSeq, if any.
func (s *SnapshotStore) Latest(ctx context.Context, atSeq uint64) (Snapshot, bool, error) {
	s.mu.RLock()
	var best uint64
	var found bool
	for seq := range s.index {
		if seq <= atSeq && (!found || seq > best) {
			best = seq
			found = true
		}
	}
	hash := s.index[best]
	s.mu.RUnlock()

	if !found {
		return Snapshot{}, false, nil
	}

	var snap Snapshot
	if err := s.cas.GetNode(ctx, hash, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("journal: load snapshot at seq %d: %w", best, err)
	}
	return snap, true, nil
}

// Seqs returns every snapshot position currently indexed, ascending.
func (s *SnapshotStore) Seqs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, len(s.index))
	for seq := range s.index {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
