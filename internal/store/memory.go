package store

import (
	"errors"
	"sync"

	"github.com/quickfixgo/quickfix"
	"github.com/tidwall/btree"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
)

// MemoryStore holds messages in an ordered in-process map. Unbounded by
// default; WithMaxEntries caps it, evicting the lowest sequence numbers first.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  *btree.Map[uint64, *quickfix.Message]
	max      int
	overflow Store

	// spillMu is taken before mu is released on eviction and held until the
	// overflow store has the entries, so a miss in memory that waits on it
	// always finds them there.
	spillMu sync.RWMutex
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries bounds the number of resident entries. Zero or less means
// unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithOverflow hands evicted entries to o and consults it on a miss.
func WithOverflow(o Store) MemoryOption {
	return func(s *MemoryStore) {
		s.overflow = o
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{entries: btree.NewMap[uint64, *quickfix.Message](64)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type evicted struct {
	seq uint64
	msg *quickfix.Message
}

// Insert implements Store. Entries evicted by the bound are written to the
// overflow store after the memory lock is released.
func (s *MemoryStore) Insert(seqNum uint64, msg *quickfix.Message) {
	owned := fixmsg.Clone(msg)

	s.mu.Lock()
	s.entries.Set(seqNum, owned)
	var spill []evicted
	for s.max > 0 && s.entries.Len() > s.max {
		seq, m, ok := s.entries.PopMin()
		if !ok {
			break
		}
		spill = append(spill, evicted{seq: seq, msg: m})
	}
	if s.overflow == nil || len(spill) == 0 {
		s.mu.Unlock()
		return
	}
	s.spillMu.Lock()
	s.mu.Unlock()
	defer s.spillMu.Unlock()

	for _, e := range spill {
		s.overflow.Insert(e.seq, e.msg)
	}
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(seqNum uint64) (*quickfix.Message, bool) {
	s.mu.RLock()
	msg, ok := s.entries.Get(seqNum)
	s.mu.RUnlock()

	if ok {
		// Stored entries are replaced, never edited, so copying after
		// unlocking is safe.
		return fixmsg.Clone(msg), true
	}
	if s.overflow == nil {
		return nil, false
	}
	s.spillMu.RLock()
	defer s.spillMu.RUnlock()
	return s.overflow.Lookup(seqNum)
}

// Len returns the number of resident entries, excluding anything spilled.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len()
}

// MaxSeq returns the highest sequence number held in memory or, failing
// that, in the overflow store.
func (s *MemoryStore) MaxSeq() (uint64, bool, error) {
	s.mu.RLock()
	seq, _, ok := s.entries.Max()
	s.mu.RUnlock()
	if ok {
		return seq, true, nil
	}
	if s.overflow == nil {
		return 0, false, nil
	}
	b, isBounded := s.overflow.(Bounded)
	if !isBounded {
		return 0, false, errors.New("overflow store cannot report its highest sequence number")
	}
	return b.MaxSeq()
}

// Sequences returns the resident sequence numbers in ascending order.
func (s *MemoryStore) Sequences() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, s.entries.Len())
	s.entries.Scan(func(seq uint64, _ *quickfix.Message) bool {
		out = append(out, seq)
		return true
	})
	return out
}

// Close closes the overflow store, if any.
func (s *MemoryStore) Close() error {
	if s.overflow == nil {
		return nil
	}
	return Close(s.overflow)
}
