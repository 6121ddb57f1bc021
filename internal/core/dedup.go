package core

import (
	"container/list"
	"fmt"
)

// RequestDeduper implements two-tier request deduplication: a hot in-memory
// LRU backed by a cold event-log lookup. A duplicate request id means the
// operation already committed; the engine returns success without
// re-applying it.
type RequestDeduper struct {
	lru       *requestLRU
	dbChecker DBRequestChecker
}

// DBRequestChecker is the cold-path lookup against the durable event log.
type DBRequestChecker interface {
	IsDuplicate(opType string, requestID string) (bool, error)
}

func NewRequestDeduper(capacity int, dbChecker DBRequestChecker) *RequestDeduper {
	return &RequestDeduper{
		lru:       newRequestLRU(capacity),
		dbChecker: dbChecker,
	}
}

// Dedup tiers, reported as metric labels.
const (
	DedupTierLRU      = "lru"
	DedupTierPostgres = "postgres"
)

// IsDuplicate checks whether a request has already been committed and
// reports which tier caught it. DB errors are treated as "not a duplicate"
// so storage trouble cannot block the pool; the event-log unique index
// still rejects a true double-write.
func (d *RequestDeduper) IsDuplicate(opType, requestID string) (bool, string) {
	key := compositeKey(opType, requestID)

	if d.lru.contains(key) {
		return true, DedupTierLRU
	}

	if d.dbChecker != nil {
		isDup, err := d.dbChecker.IsDuplicate(opType, requestID)
		if err != nil {
			return false, ""
		}
		if isDup {
			d.lru.add(key)
			return true, DedupTierPostgres
		}
	}

	return false, ""
}

// MarkCommitted records a request id after the operation commits.
func (d *RequestDeduper) MarkCommitted(opType, requestID string) {
	d.lru.add(compositeKey(opType, requestID))
}

// Warm preloads composite keys, typically from a snapshot, so recently
// committed requests do not need the cold-path lookup after a restart.
func (d *RequestDeduper) Warm(keys []string) {
	for _, key := range keys {
		d.lru.add(key)
	}
}

// Keys returns all cached composite keys for snapshotting.
func (d *RequestDeduper) Keys() []string {
	return d.lru.keys()
}

// Size returns the current LRU occupancy.
func (d *RequestDeduper) Size() int {
	return d.lru.order.Len()
}

func compositeKey(opType, requestID string) string {
	return fmt.Sprintf("%s:%s", opType, requestID)
}

// requestLRU is a plain LRU over composite request keys. Not thread-safe;
// only touched under the engine mutex.
type requestLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newRequestLRU(capacity int) *requestLRU {
	return &requestLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *requestLRU) contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *requestLRU) add(key string) {
	if elem, ok := l.cache[key]; ok {
		l.order.MoveToFront(elem)
		return
	}
	l.cache[key] = l.order.PushFront(key)

	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.cache, oldest.Value.(string))
		}
	}
}

func (l *requestLRU) keys() []string {
	out := make([]string, 0, l.order.Len())
	for e := l.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}
