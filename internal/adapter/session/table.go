// Package session implements the Session Binding Table (spec §4.2): an
// in-memory TTL+LRU map pinning a conversation to the provider (and,
// optionally, the sort mode ordering) that last served it successfully.
//
// Grounded on pkg/eventbus's use of github.com/puzpuzpuz/xsync/v4 for a
// lock-free concurrent map, and on
// internal/adapter/discovery/service.go's ticker-driven background sweep
// for the eviction goroutine.
package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/olla/internal/core/domain"
)

type entry struct {
	binding  domain.SessionBinding
	lruElem *list.Element
}

// Table is a concurrency-safe SessionBindingTable with TTL expiry and LRU
// eviction once domain.SessionBindingMaxEntries is exceeded.
type Table struct {
	m *xsync.Map[domain.SessionKey, *entry]

	lruMu sync.Mutex
	lru   *list.List // of domain.SessionKey, front = most recently used

	maxEntries int
	ttl        time.Duration

	stop chan struct{}
}

// New builds a Table and starts its background eviction sweep.
func New(maxEntries int, ttl time.Duration) *Table {
	if maxEntries <= 0 {
		maxEntries = domain.SessionBindingMaxEntries
	}
	if ttl <= 0 {
		ttl = domain.SessionBindingTTL
	}
	t := &Table{
		m:          xsync.NewMap[domain.SessionKey, *entry](),
		lru:        list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		stop:       make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

func (t *Table) sweepLoop() {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.evictExpired(time.Now())
		case <-t.stop:
			return
		}
	}
}

// Close stops the background sweep. Safe to call once.
func (t *Table) Close() {
	close(t.stop)
}

func (t *Table) evictExpired(now time.Time) {
	t.m.Range(func(key domain.SessionKey, e *entry) bool {
		if e.binding.Expired(now) {
			t.remove(key)
		}
		return true
	})
}

// Get returns the binding for key, reporting false if absent or expired.
func (t *Table) Get(key domain.SessionKey) (domain.SessionBinding, bool) {
	e, ok := t.m.Load(key)
	if !ok {
		return domain.SessionBinding{}, false
	}
	if e.binding.Expired(time.Now()) {
		t.remove(key)
		return domain.SessionBinding{}, false
	}
	t.touch(key)
	return e.binding, true
}

// BindSuccess pins key to providerID with a fresh TTL, the steady-state
// update after every successful attempt (spec §4.2).
func (t *Table) BindSuccess(key domain.SessionKey, providerID int64) {
	t.upsert(key, func(b *domain.SessionBinding) {
		b.ProviderID = providerID
		b.ExpiresAt = time.Now().Add(t.ttl)
	})
}

// BindSortMode records the sort-mode ordering a session first saw, so a
// later sort-mode change does not reshuffle an in-progress conversation
// (spec §4.2/§4.3).
func (t *Table) BindSortMode(key domain.SessionKey, sortModeID int64, order []int64) {
	t.upsert(key, func(b *domain.SessionBinding) {
		b.SortModeID = sortModeID
		b.HasSortMode = true
		b.ProviderOrder = order
		b.ExpiresAt = time.Now().Add(t.ttl)
	})
}

// ClearBoundProvider unpins providerID from key, used when the bound
// provider's breaker opens or it disappears from the session's sort-mode
// order (spec §4.2).
func (t *Table) ClearBoundProvider(key domain.SessionKey, providerID int64) {
	e, ok := t.m.Load(key)
	if !ok {
		return
	}
	if e.binding.ProviderID != providerID {
		return
	}
	e.binding.ProviderID = 0
	t.m.Store(key, e)
}

func (t *Table) upsert(key domain.SessionKey, mutate func(*domain.SessionBinding)) {
	e, ok := t.m.Load(key)
	if !ok {
		e = &entry{}
	}
	mutate(&e.binding)
	t.m.Store(key, e)
	t.touch(key)
	t.evictOverflow()
}

func (t *Table) touch(key domain.SessionKey) {
	t.lruMu.Lock()
	defer t.lruMu.Unlock()
	if e, ok := t.m.Load(key); ok {
		if e.lruElem != nil {
			t.lru.MoveToFront(e.lruElem)
			return
		}
		e.lruElem = t.lru.PushFront(key)
		t.m.Store(key, e)
	}
}

func (t *Table) evictOverflow() {
	t.lruMu.Lock()
	defer t.lruMu.Unlock()
	for t.lru.Len() > t.maxEntries {
		back := t.lru.Back()
		if back == nil {
			return
		}
		t.lru.Remove(back)
		key := back.Value.(domain.SessionKey)
		t.m.Delete(key)
	}
}

func (t *Table) remove(key domain.SessionKey) {
	if e, ok := t.m.LoadAndDelete(key); ok {
		t.lruMu.Lock()
		if e.lruElem != nil {
			t.lru.Remove(e.lruElem)
		}
		t.lruMu.Unlock()
	}
}

// Len reports the number of live bindings, used by diagnostics.
func (t *Table) Len() int {
	n := 0
	t.m.Range(func(domain.SessionKey, *entry) bool {
		n++
		return true
	})
	return n
}
