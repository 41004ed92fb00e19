package engine

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/dangkhuong14/dEx-application/internal/observability"
)

// RequestDeduper implements two-tier request-id deduplication for the
// mutating command surfaces (HTTP and stream). Tier 1 is an in-memory
// LRU, tier 2 the Postgres record log.
type RequestDeduper struct {
	mu  sync.Mutex
	lru *dedupLRU

	dbChecker DBDedupChecker
	metrics   *observability.Metrics
}

// DBDedupChecker is the interface for the Postgres dedup lookup.
type DBDedupChecker interface {
	IsDuplicate(op string, requestID string) (bool, error)
}

func NewRequestDeduper(capacity int, dbChecker DBDedupChecker, metrics *observability.Metrics) *RequestDeduper {
	return &RequestDeduper{
		lru:       newDedupLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks whether a request id has already been processed.
func (d *RequestDeduper) IsDuplicate(op string, requestID string) bool {
	compositeKey := fmt.Sprintf("%s:%s", op, requestID)

	d.mu.Lock()
	hit := d.lru.Contains(compositeKey)
	d.mu.Unlock()

	if hit {
		if d.metrics != nil {
			d.metrics.IdempotencyDuplicates.WithLabelValues(op, "lru").Inc()
		}
		return true
	}

	if d.dbChecker != nil {
		isDup, err := d.dbChecker.IsDuplicate(op, requestID)
		if err != nil {
			// A DB hiccup must not block command processing;
			// assume not a duplicate.
			return false
		}
		if isDup {
			if d.metrics != nil {
				d.metrics.IdempotencyDuplicates.WithLabelValues(op, "postgres").Inc()
			}
			d.mu.Lock()
			d.lru.Add(compositeKey)
			d.mu.Unlock()
			return true
		}
	}

	return false
}

// MarkProcessed records a request id after successful processing.
func (d *RequestDeduper) MarkProcessed(op string, requestID string) {
	compositeKey := fmt.Sprintf("%s:%s", op, requestID)

	d.mu.Lock()
	d.lru.Add(compositeKey)
	size := d.lru.Size()
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.DedupLRUSize.Set(float64(size))
	}
}

// WarmFromKeys loads recent composite keys on restart so recently
// processed requests skip the cold-path DB lookup.
func (d *RequestDeduper) WarmFromKeys(keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range keys {
		d.lru.Add(key)
	}
}

// --- LRU ---

type dedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type dedupEntry struct {
	key string
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front).
func (lru *dedupLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if it exists).
func (lru *dedupLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &dedupEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *dedupLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*dedupEntry)
		delete(lru.cache, entry.key)
	}
}

func (lru *dedupLRU) Size() int {
	return lru.lruList.Len()
}
