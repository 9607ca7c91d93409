package aaa

import (
	"sync"
	"time"

	"github.com/google/btree"

	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/observability"
)

const expiryDegree = 8

// Record is a copy of one correlation slot. The unexported handle ties it to
// the allocation it came from; a copy taken before Release is stale after it.
type Record struct {
	ExchangeID  string
	PeerHost    string
	Owner       SessionID
	PendingTxn  TxnID
	AllocatedAt time.Time
	// Completed marks a record whose answer or error was already processed
	// and which now only waits for the exchange cleanup.
	Completed bool

	slot int32
	gen  uint32
}

// Valid reports whether r came from Allocate.
func (r Record) Valid() bool {
	return r.gen != 0
}

type slot struct {
	gen  uint32
	live bool
	key  string
	rec  Record
}

type expiryItem struct {
	at   time.Time
	slot int32
	gen  uint32
}

func expiryLess(a, b expiryItem) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	if a.slot != b.slot {
		return a.slot < b.slot
	}
	return a.gen < b.gen
}

type StoreStats struct {
	Capacity  int    `json:"capacity"`
	InUse     int    `json:"in_use"`
	Indexed   int    `json:"indexed"`
	Allocs    uint64 `json:"allocs"`
	Releases  uint64 `json:"releases"`
	Exhausted uint64 `json:"exhausted"`
	Stale     uint64 `json:"stale"`
	Replaced  uint64 `json:"replaced"`
}

// Store is a fixed-capacity pool of correlation records indexed by exchange
// key. Generations start at 1 and advance on release, so a released handle is
// never honored twice.
type Store struct {
	mu     sync.Mutex
	slots  []slot
	free   []int32
	index  map[string]int32
	expiry *btree.BTreeG[expiryItem]
	now    func() time.Time
	stats  StoreStats
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	s := &Store{
		slots:  make([]slot, capacity),
		free:   make([]int32, 0, capacity),
		index:  make(map[string]int32, capacity),
		expiry: btree.NewG(expiryDegree, expiryLess),
		now:    time.Now,
	}
	for i := capacity - 1; i >= 0; i-- {
		s.slots[i].gen = 1
		s.free = append(s.free, int32(i))
	}
	s.stats.Capacity = capacity
	return s
}

// Allocate reserves a slot. It never blocks and fails with ErrExhausted at
// capacity.
func (s *Store) Allocate() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.free) == 0 {
		s.stats.Exhausted++
		return Record{}, ErrExhausted
	}
	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	sl := &s.slots[idx]
	sl.live = true
	sl.key = ""
	sl.rec = Record{AllocatedAt: s.now(), slot: idx, gen: sl.gen}
	s.expiry.ReplaceOrInsert(expiryItem{at: sl.rec.AllocatedAt, slot: idx, gen: sl.gen})
	s.stats.Allocs++
	observability.SetStoreInUse(s.inUseLocked())
	return sl.rec, nil
}

// Store indexes rec under key, replacing whatever the key held. A different
// live record under key is released first, and rec is unindexed from any
// previous key.
func (s *Store) Store(key string, rec Record) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.liveLocked(rec)
	if !ok {
		s.stats.Stale++
		return ErrStaleRecord
	}
	if prev, exists := s.index[key]; exists && prev != rec.slot {
		logs.Debugf("aaa.Store.Store replacing key=%q slot=%d", key, prev)
		s.releaseLocked(prev)
		s.stats.Replaced++
	}
	if sl.key != "" && sl.key != key {
		delete(s.index, sl.key)
	}

	rec.ExchangeID = key
	rec.AllocatedAt = sl.rec.AllocatedAt
	sl.rec = rec
	sl.key = key
	s.index[key] = rec.slot
	return nil
}

// Retrieve returns a copy of the record under key without removing it.
func (s *Store) Retrieve(key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.slots[idx].rec, nil
}

// Release returns rec's slot to the pool. Releasing a handle twice returns
// ErrStaleRecord and changes nothing.
func (s *Store) Release(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveLocked(rec); !ok {
		s.stats.Stale++
		return ErrStaleRecord
	}
	s.releaseLocked(rec.slot)
	return nil
}

// Expired unhooks every live record allocated before cutoff from the expiry
// index and returns copies. The records stay allocated; callers release them.
func (s *Store) Expired(cutoff time.Time) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for {
		item, ok := s.expiry.Min()
		if !ok || !item.at.Before(cutoff) {
			return out
		}
		s.expiry.DeleteMin()
		sl := &s.slots[item.slot]
		if !sl.live || sl.gen != item.gen {
			continue
		}
		out = append(out, sl.rec)
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUseLocked()
}

func (s *Store) Cap() int {
	return len(s.slots)
}

func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.InUse = s.inUseLocked()
	st.Indexed = len(s.index)
	return st
}

func (s *Store) inUseLocked() int {
	return len(s.slots) - len(s.free)
}

func (s *Store) liveLocked(rec Record) (*slot, bool) {
	if rec.slot < 0 || int(rec.slot) >= len(s.slots) {
		return nil, false
	}
	sl := &s.slots[rec.slot]
	if !sl.live || sl.gen != rec.gen {
		return nil, false
	}
	return sl, true
}

func (s *Store) releaseLocked(idx int32) {
	sl := &s.slots[idx]
	if sl.key != "" {
		delete(s.index, sl.key)
	}
	s.expiry.Delete(expiryItem{at: sl.rec.AllocatedAt, slot: idx, gen: sl.gen})
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	sl.live = false
	sl.key = ""
	sl.rec = Record{}
	s.free = append(s.free, idx)
	s.stats.Releases++
	observability.SetStoreInUse(s.inUseLocked())
}
