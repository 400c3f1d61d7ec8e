// Package ledger is the authoritative record store: an append-only set of
// ownership records plus a monotonically growing set of spent markers
// (nullifiers). Spending is inserting a nullifier; the insert fails if the
// marker already exists. That uniqueness guarantee is the only concurrency
// control the engine relies on.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/darkpool/pkg/ids"
)

// ErrSpent is returned when a commit tries to insert a nullifier that is
// already present. The losing side of a race sees this.
var ErrSpent = errors.New("record already spent")

// Key prefixes. Records and settlements are append-only; nullifiers and
// counters are the only keys a commit may contend on.
var (
	prefixRecord     = []byte("rec/")
	prefixNullifier  = []byte("nul/")
	prefixSettlement = []byte("set/")
	prefixCounter    = []byte("cnt/")
)

// Store wraps a Pebble database. All mutation goes through Commit, which
// applies one batch with Sync: either every effect lands or none do.
type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(id ids.ID) []byte {
	return append(append([]byte{}, prefixRecord...), id[:]...)
}

func nullifierKey(n ids.Nullifier) []byte {
	return append(append([]byte{}, prefixNullifier...), n[:]...)
}

func counterKey(name string) []byte {
	return append(append([]byte{}, prefixCounter...), name...)
}

// keyUpperBound returns the smallest key greater than every key carrying
// prefix, for use as an exclusive iterator bound. Appending a sentinel to
// the prefix is not enough: a key byte equal to 0xff would sort at or
// past it and be skipped.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff, no bound needed
}

// settlementKey orders a party's settlements by sequence, then by the
// settlement id for uniqueness within a sequence.
func settlementKey(party common.Address, seq uint64, sid string) []byte {
	k := append(append([]byte{}, prefixSettlement...), party.Bytes()...)
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], seq)
	k = append(k, sb[:]...)
	return append(k, sid...)
}

// Spent reports whether a nullifier is already in the spent set.
func (s *Store) Spent(n ids.Nullifier) (bool, error) {
	_, closer, err := s.db.Get(nullifierKey(n))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read nullifier: %w", err)
	}
	closer.Close()
	return true, nil
}

// GetRecord returns the stored payload for id, or nil if absent.
func (s *Store) GetRecord(id ids.ID) ([]byte, error) {
	data, closer, err := s.db.Get(recordKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Counter returns the current value of a named counter (0 if unset).
func (s *Store) Counter(name string) (int64, error) {
	data, closer, err := s.db.Get(counterKey(name))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("counter %s: bad value length %d", name, len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// Settlements returns up to limit settlement payloads attributed to party,
// oldest first.
func (s *Store) Settlements(party common.Address, limit int) ([][]byte, error) {
	prefix := append(append([]byte{}, prefixSettlement...), party.Bytes()...)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	defer iter.Close()

	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		out = append(out, v)
	}
	return out, iter.Error()
}

// Records calls fn for every stored record. Used to rebuild in-memory
// state on startup. Iteration stops on the first error from fn.
func (s *Store) Records(fn func(id ids.ID, payload []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefixRecord, UpperBound: keyUpperBound(prefixRecord)})
	if err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(prefixRecord)+32 {
			continue
		}
		var id ids.ID
		copy(id[:], key[len(prefixRecord):])
		payload := make([]byte, len(iter.Value()))
		copy(payload, iter.Value())
		if err := fn(id, payload); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Commit applies a batch atomically. Every requested spend is checked
// against the existing spent set (and against the batch itself) before
// anything is written; a conflict aborts the whole commit with ErrSpent.
func (s *Store) Commit(b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[ids.Nullifier]struct{}, len(b.spends))
	for _, n := range b.spends {
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: %s", ErrSpent, n.Hex())
		}
		seen[n] = struct{}{}
		spent, err := s.Spent(n)
		if err != nil {
			return err
		}
		if spent {
			return fmt.Errorf("%w: %s", ErrSpent, n.Hex())
		}
	}

	wb := s.db.NewBatch()
	defer wb.Close()

	for _, n := range b.spends {
		if err := wb.Set(nullifierKey(n), []byte{1}, nil); err != nil {
			return fmt.Errorf("stage nullifier: %w", err)
		}
	}
	for _, rw := range b.records {
		if err := wb.Set(recordKey(rw.ID), rw.Payload, nil); err != nil {
			return fmt.Errorf("stage record: %w", err)
		}
	}
	for _, sw := range b.settlements {
		for _, party := range sw.Parties {
			if err := wb.Set(settlementKey(party, sw.Seq, sw.SID), sw.Payload, nil); err != nil {
				return fmt.Errorf("stage settlement: %w", err)
			}
		}
	}
	for name, delta := range b.counters {
		cur, err := s.Counter(name)
		if err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(cur+delta))
		if err := wb.Set(counterKey(name), buf[:], nil); err != nil {
			return fmt.Errorf("stage counter: %w", err)
		}
	}

	if err := s.db.Apply(wb, pebble.Sync); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}
