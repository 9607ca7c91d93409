package smf

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/danmuck/smfaaa/internal/aaa"
)

type shard struct {
	mu       sync.RWMutex
	sessions map[aaa.SessionID]*Session
}

// Table is a sharded session map. It is the directory the correlation layer
// resolves owners through.
type Table struct {
	shards []*shard
	mask   uint32
}

func NewTable(shardCount int) *Table {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := uint32(1)
	for n < uint32(shardCount) {
		n <<= 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[aaa.SessionID]*Session)}
	}
	return &Table{shards: shards, mask: n - 1}
}

func (t *Table) shard(id aaa.SessionID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return t.shards[h.Sum32()&t.mask]
}

func (t *Table) Put(s *Session) {
	sh := t.shard(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sessions[s.ID] = s
}

func (t *Table) Get(id aaa.SessionID) (*Session, bool) {
	sh := t.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

func (t *Table) Delete(id aaa.SessionID) (*Session, bool) {
	sh := t.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[id]
	if ok {
		delete(sh.sessions, id)
	}
	return s, ok
}

func (t *Table) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// List returns snapshots ordered by creation time, then id.
func (t *Table) List() []Snapshot {
	out := make([]Snapshot, 0, t.Len())
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			out = append(out, s.Snapshot())
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *Table) SessionContext(id aaa.SessionID) (aaa.SessionContext, bool) {
	s, ok := t.Get(id)
	if !ok {
		return aaa.SessionContext{}, false
	}
	return s.context(), true
}

func (t *Table) SetAuthSucceeded(id aaa.SessionID, ok bool) bool {
	s, exists := t.Get(id)
	if !exists {
		return false
	}
	s.authSucceeded.Store(ok)
	return true
}
