// Package journal implements the kernel's append-only event log: every
// routed event, reducer state change, plan tick, effect intent/receipt,
// capability decision, and governance action is appended here as the
// single source of truth the kernel can be replayed from.
//
// Each record's commit hash is computed purely from (seq, kind,
// canonical payload, prev_hash) with no wall-clock component, so that
// replaying the same input sequence always produces byte-identical
// journal hashes; any wall-clock value a caller wants recorded goes into
// the payload itself as an explicit field, not the hash.
package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/aoscore/aos/pkg/codec"
)

// Record is one committed journal entry.
type Record struct {
	Seq         uint64     `cbor:"seq"`
	Kind        string     `cbor:"kind"`
	PayloadCBOR []byte     `cbor:"payload"`
	PrevHash    codec.Hash `cbor:"prev_hash"`
	Hash        codec.Hash `cbor:"hash"`
}

// ErrOutOfRange is returned by At/Scan for a seq beyond the log.
var ErrOutOfRange = fmt.Errorf("journal: seq out of range")

// Log is an in-memory, hash-chained append-only log. It satisfies the
// narrow Journal interface pkg/effect and pkg/plan depend on
// (Append(ctx, kind, payload) (uint64, error)) without either package
// importing this one.
type Log struct {
	mu      sync.RWMutex
	records []Record
}

// NewLog creates an empty journal.
func NewLog() *Log {
	return &Log{}
}

// Append canonicalizes payload, computes the next hash-chain link, and
// commits a new record. The returned uint64 is the record's sequence
// number (0-based).
func (l *Log) Append(_ context.Context, kind string, payload any) (uint64, error) {
	encoded, err := codec.Encode(payload)
	if err != nil {
		return 0, fmt.Errorf("journal: encode payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.records))
	var prevHash codec.Hash
	if seq > 0 {
		prevHash = l.records[seq-1].Hash
	}

	hash, err := codec.HashValue(struct {
		Seq      uint64
		Kind     string
		Payload  []byte
		PrevHash codec.Hash
	}{seq, kind, encoded, prevHash})
	if err != nil {
		return 0, fmt.Errorf("journal: hash record: %w", err)
	}

	l.records = append(l.records, Record{
		Seq:         seq,
		Kind:        kind,
		PayloadCBOR: encoded,
		PrevHash:    prevHash,
		Hash:        hash,
	})
	return seq, nil
}

// At returns the record at seq.
func (l *Log) At(seq uint64) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= uint64(len(l.records)) {
		return Record{}, ErrOutOfRange
	}
	return l.records[seq], nil
}

// Scan returns records in [start, end).
func (l *Log) Scan(start, end uint64) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := uint64(len(l.records))
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	if start >= end {
		return nil, nil
	}
	out := make([]Record, end-start)
	copy(out, l.records[start:end])
	return out, nil
}

// Head returns the most recently committed record.
func (l *Log) Head() (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return Record{}, false
	}
	return l.records[len(l.records)-1], true
}

// Len reports the number of committed records.
func (l *Log) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records))
}

// VerifyChain recomputes every record's hash in [start, end) and checks
// both the previous-hash linkage and the content hash itself.
func (l *Log) VerifyChain(start, end uint64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := uint64(len(l.records))
	if end > n {
		end = n
	}
	for i := start; i < end; i++ {
		rec := l.records[i]

		var expectedPrev codec.Hash
		if i > 0 {
			expectedPrev = l.records[i-1].Hash
		}
		if rec.PrevHash != expectedPrev {
			return false, fmt.Errorf("journal: chain broken at seq %d: prev_hash mismatch", i)
		}

		expectedHash, err := codec.HashValue(struct {
			Seq      uint64
			Kind     string
			Payload  []byte
			PrevHash codec.Hash
		}{rec.Seq, rec.Kind, rec.PayloadCBOR, rec.PrevHash})
		if err != nil {
			return false, fmt.Errorf("journal: recompute hash at seq %d: %w", i, err)
		}
		if expectedHash != rec.Hash {
			return false, fmt.Errorf("journal: chain broken at seq %d: hash mismatch", i)
		}
	}
	return true, nil
}
