package engine

import "container/list"

const requestCacheCapacity = 100_000

// requestCache is an LRU of recently seen request keys. Callers that retry a
// command (deposit confirmations, resubmitted trades) attach a stable key;
// a repeat within the cache window is rejected instead of double-applied.
// Not thread-safe: accessed only under the clearinghouse lock.
type requestCache struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	key string
}

func newRequestCache(capacity int) *requestCache {
	return &requestCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// seen reports whether the key was already recorded, promoting it if so.
// An empty key is never a duplicate.
func (rc *requestCache) seen(key string) bool {
	if key == "" {
		return false
	}
	elem, ok := rc.cache[key]
	if ok {
		rc.order.MoveToFront(elem)
	}
	return ok
}

// record adds the key after a successful commit.
func (rc *requestCache) record(key string) {
	if key == "" {
		return
	}
	if elem, ok := rc.cache[key]; ok {
		rc.order.MoveToFront(elem)
		return
	}
	rc.cache[key] = rc.order.PushFront(&cacheEntry{key: key})
	if rc.order.Len() > rc.capacity {
		oldest := rc.order.Back()
		rc.order.Remove(oldest)
		delete(rc.cache, oldest.Value.(*cacheEntry).key)
	}
}

// warm preloads keys recovered from the durable store on restart.
func (rc *requestCache) warm(keys []string) {
	for _, key := range keys {
		rc.record(key)
	}
}

// keys returns the cached keys oldest-first, so warming a fresh cache with
// them reproduces the same eviction order.
func (rc *requestCache) keys() []string {
	out := make([]string, 0, rc.order.Len())
	for elem := rc.order.Back(); elem != nil; elem = elem.Prev() {
		out = append(out, elem.Value.(*cacheEntry).key)
	}
	return out
}
