// Package cache implements the two-tier (memory + on-disk) cache (C3):
// reads consult memory first then disk (promoting disk hits into memory);
// writes go through both tiers; put is observable-atomic with respect to
// the Add change event.
//
// The memory tier keeps the teacher's L1Cache shape
// (cache-manager/cache.go): an RWMutex-guarded map plus a container/list
// LRU, chosen there (and here) over sync.Map because LRU ordering needs a
// real linked structure, not because of raw contention — a global lock is
// the teacher's own documented trade-off for this scale.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/networkcore/networkcore/cachepolicy"
	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/internal/metrics"
	"github.com/networkcore/networkcore/netconfig"
	"github.com/networkcore/networkcore/neterrors"
	"github.com/networkcore/networkcore/netlog"
)

// ChangeKind enumerates the four change events the cache emits.
type ChangeKind int

const (
	Add ChangeKind = iota
	Remove
	RemoveAll
	RemoveExpired
)

// Change is one event posted to on_change subscribers. FP is meaningless
// for RemoveAll/RemoveExpired.
type Change struct {
	Kind ChangeKind
	FP   fingerprint.FP
}

type memEntry struct {
	fp        fingerprint.FP
	bytes     []byte
	writtenAt time.Time
	expiry    time.Time
	elem      *list.Element
}

// Cache is the two-tier store. All mutating operations, on both tiers,
// serialize through mu: this is what makes put observable-atomic — an Add
// event is never interleaved with a concurrent get of the same key
// returning a stale value, because both paths hold the same lock for the
// span that matters.
type Cache struct {
	mu         sync.RWMutex
	mem        map[fingerprint.FP]*memEntry
	lru        *list.List
	memBytes   int64
	countLimit int
	byteLimit  int64

	disk *DiskTier

	changeDispatch netconfig.Dispatcher // the cache's own dedicated serial dispatcher
	subMu          sync.Mutex
	subscribers    []func(Change)

	counters *metrics.Counters
}

// Config bounds the memory tier; the disk tier is supplied already built
// (see NewDiskTier) so callers control the base directory.
type Config struct {
	MemoryCountLimit int
	MemoryByteLimit  int64
}

// New constructs a two-tier cache. disk may be nil, in which case the
// cache behaves as memory-only (useful for tests).
func New(cfg Config, disk *DiskTier, counters *metrics.Counters) *Cache {
	return &Cache{
		mem:            make(map[fingerprint.FP]*memEntry),
		lru:            list.New(),
		countLimit:     cfg.MemoryCountLimit,
		byteLimit:      cfg.MemoryByteLimit,
		disk:           disk,
		changeDispatch: netconfig.NewSerialDispatcher(256),
		counters:       counters,
	}
}

// OnChange subscribes callback to every future change event. Delivered on
// the cache's own dedicated serial dispatcher; the cache never calls
// observer callbacks directly (spec.md §4.3) — callers typically register
// the Observer Registry's Deliver method here.
func (c *Cache) OnChange(callback func(Change)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, callback)
}

func (c *Cache) emit(change Change) {
	c.changeDispatch.Post(func() {
		c.subMu.Lock()
		subs := append([]func(Change){}, c.subscribers...)
		c.subMu.Unlock()

		for _, s := range subs {
			s(change)
		}
	})
}

// Get returns the raw bytes for fp, consulting memory first and then disk.
// A disk hit is promoted into memory. Returns ok=false on a miss in both
// tiers; it does not consider expiry (is_expired is a separate query, per
// spec.md §4.3) — callers combine Get with IsExpired.
func (c *Cache) Get(fp fingerprint.FP) (bytes []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(fp)
}

func (c *Cache) getLocked(fp fingerprint.FP) ([]byte, bool) {
	if e, found := c.mem[fp]; found {
		c.lru.MoveToFront(e.elem)
		return e.bytes, true
	}

	if c.disk == nil {
		return nil, false
	}

	b, writtenAt, expiry, found, err := c.disk.Get(fp)
	if err != nil {
		netlog.Warnf(context.Background(), "cache: disk read failed", map[string]interface{}{"fp": string(fp), "err": err.Error()})
		return nil, false
	}
	if !found {
		return nil, false
	}

	c.insertMemLocked(fp, b, writtenAt, expiry)
	return b, true
}

// Put writes bytes under fp with policy, through both tiers. The Add event
// fires exactly once, after both tiers have been updated (the memory write
// always succeeds; a disk I/O failure is logged and does not block the Add
// event or fail the call — spec.md §4.3 "Failure mode").
func (c *Cache) Put(fp fingerprint.FP, bytes []byte, policy cachepolicy.Policy) {
	now := time.Now()
	expiry := policy.Deadline(now)

	c.mu.Lock()
	c.insertMemLocked(fp, bytes, now, expiry)
	var diskErr error
	if c.disk != nil {
		diskErr = c.disk.Put(fp, bytes, now, expiry)
	}
	c.mu.Unlock()

	if diskErr != nil {
		if c.counters != nil {
			c.counters.DiskIOErrors.Add(1)
		}
		netlog.Warnf(context.Background(), "cache: disk write failed, memory copy authoritative",
			map[string]interface{}{"fp": string(fp), "err": diskErr.Error()})
	}

	c.emit(Change{Kind: Add, FP: fp})
}

func (c *Cache) insertMemLocked(fp fingerprint.FP, bytes []byte, writtenAt, expiry time.Time) {
	if e, exists := c.mem[fp]; exists {
		c.memBytes -= int64(len(e.bytes))
		e.bytes = bytes
		e.writtenAt = writtenAt
		e.expiry = expiry
		c.memBytes += int64(len(bytes))
		c.lru.MoveToFront(e.elem)
		c.evictMemLocked()
		return
	}

	e := &memEntry{fp: fp, bytes: bytes, writtenAt: writtenAt, expiry: expiry}
	e.elem = c.lru.PushFront(e)
	c.mem[fp] = e
	c.memBytes += int64(len(bytes))
	c.evictMemLocked()
}

func (c *Cache) evictMemLocked() {
	for (c.countLimit > 0 && len(c.mem) > c.countLimit) || (c.byteLimit > 0 && c.memBytes > c.byteLimit) {
		back := c.lru.Back()
		if back == nil {
			return
		}
		e := back.Value.(*memEntry)
		c.lru.Remove(back)
		delete(c.mem, e.fp)
		c.memBytes -= int64(len(e.bytes))
	}
}

// IsExpired reports whether fp's stored entry has passed its expiry. An
// absent entry counts as expired (spec.md §4.12's "absent entries count as
// expired" preflight rule, hoisted here for reuse).
func (c *Cache) IsExpired(fp fingerprint.FP) bool {
	exp, ok := c.Expiry(fp)
	if !ok {
		return true
	}
	return cachepolicy.IsExpired(exp, time.Now())
}

// Expiry returns the stored expiry deadline for fp, if any entry exists.
func (c *Cache) Expiry(fp fingerprint.FP) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.mem[fp]; ok {
		return e.expiry, true
	}
	if c.disk != nil {
		if meta, ok := c.disk.index[fp]; ok {
			return meta.expiry, true
		}
	}
	return time.Time{}, false
}

// ShortensExisting reports whether a newly-requested policy would produce
// a deadline earlier than fp's currently stored expiry (spec.md §4.2,
// "shorter-policy wins"). If fp has no stored entry, this is trivially
// false — there is nothing to shorten.
func (c *Cache) ShortensExisting(fp fingerprint.FP, newPolicy cachepolicy.Policy) bool {
	stored, ok := c.Expiry(fp)
	if !ok {
		return false
	}
	now := time.Now()
	return cachepolicy.Shortens(newPolicy.Deadline(now), stored, now)
}

// Expire forces fp's entry to be treated as already expired, by rewriting
// its expiry to now, without removing the bytes (they remain readable
// until overwritten or removed, matching ExpireImmediately semantics).
func (c *Cache) Expire(fp fingerprint.FP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if e, ok := c.mem[fp]; ok {
		e.expiry = now
	}
	if c.disk != nil {
		if meta, ok := c.disk.index[fp]; ok {
			meta.expiry = now
		}
	}
}

// Remove deletes fp from both tiers and emits a Remove event.
func (c *Cache) Remove(fp fingerprint.FP) {
	c.mu.Lock()
	if e, ok := c.mem[fp]; ok {
		c.lru.Remove(e.elem)
		delete(c.mem, fp)
		c.memBytes -= int64(len(e.bytes))
	}
	if c.disk != nil {
		c.disk.Delete(fp)
	}
	c.mu.Unlock()

	c.emit(Change{Kind: Remove, FP: fp})
}

// RemoveExpired sweeps both tiers for expired entries and emits a single
// RemoveExpired event.
func (c *Cache) RemoveExpired() {
	now := time.Now()

	c.mu.Lock()
	var victims []fingerprint.FP
	for fp, e := range c.mem {
		if !e.expiry.IsZero() && !e.expiry.After(now) {
			victims = append(victims, fp)
		}
	}
	for _, fp := range victims {
		e := c.mem[fp]
		c.lru.Remove(e.elem)
		delete(c.mem, fp)
		c.memBytes -= int64(len(e.bytes))
	}
	if c.disk != nil {
		c.disk.RemoveExpired(now)
	}
	c.mu.Unlock()

	c.emit(Change{Kind: RemoveExpired})
}

// RemoveAll clears both tiers and emits a single RemoveAll event. This is
// the trigger for the Observer Registry's "cache is globally cleared"
// observer-removal rule (spec.md §3).
func (c *Cache) RemoveAll() {
	c.mu.Lock()
	c.mem = make(map[fingerprint.FP]*memEntry)
	c.lru = list.New()
	c.memBytes = 0
	if c.disk != nil {
		c.disk.DeleteAll()
	}
	c.mu.Unlock()

	c.emit(Change{Kind: RemoveAll})
}

// DecodeOrRemove is the consumer-side recovery path from spec.md §4.3's
// failure mode: if decode fails on bytes read from the cache, the consumer
// removes the entry and forces a refresh rather than ever surfacing a
// cache-decode error to the caller as a cache hit.
func DecodeOrRemove[T any](c *Cache, fp fingerprint.FP, bytes []byte, decode func([]byte) (T, error)) (T, error) {
	val, err := decode(bytes)
	if err != nil {
		c.Remove(fp)
		var zero T
		return zero, neterrors.Wrap(neterrors.ErrCacheDecodeFailure, err)
	}
	return val, nil
}
