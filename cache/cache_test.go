package cache

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/networkcore/networkcore/cachepolicy"
	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/internal/metrics"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir, err := os.MkdirTemp("", "networkcore-cache-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	disk, err := NewDiskTier(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDiskTier: %v", err)
	}
	return New(Config{MemoryCountLimit: 100, MemoryByteLimit: 1 << 20}, disk, &metrics.Counters{})
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	fp := fingerprint.Compute("GET", "https://x/y", nil)

	c.Put(fp, []byte("hello"), cachepolicy.NewForever())

	got, ok := c.Get(fp)
	if !ok || string(got) != "hello" {
		t.Fatalf("expected round-trip hit, got ok=%v bytes=%q", ok, got)
	}
}

func TestDiskPromotesIntoMemoryOnMiss(t *testing.T) {
	c := newTestCache(t)
	fp := fingerprint.Compute("GET", "https://x/y", nil)
	c.Put(fp, []byte("payload"), cachepolicy.NewForever())

	// Evict from memory directly, leaving only the disk copy.
	c.mu.Lock()
	if e, ok := c.mem[fp]; ok {
		c.lru.Remove(e.elem)
		delete(c.mem, fp)
		c.memBytes -= int64(len(e.bytes))
	}
	c.mu.Unlock()

	got, ok := c.Get(fp)
	if !ok || string(got) != "payload" {
		t.Fatalf("expected disk fallback hit, got ok=%v", ok)
	}

	c.mu.RLock()
	_, inMem := c.mem[fp]
	c.mu.RUnlock()
	if !inMem {
		t.Fatalf("expected disk hit to promote entry into memory")
	}
}

func TestPutEmitsExactlyOneAddEvent(t *testing.T) {
	c := newTestCache(t)
	fp := fingerprint.Compute("GET", "https://x/y", nil)

	var mu sync.Mutex
	var events []Change
	done := make(chan struct{}, 1)
	c.OnChange(func(ch Change) {
		mu.Lock()
		events = append(events, ch)
		mu.Unlock()
		done <- struct{}{}
	})

	c.Put(fp, []byte("v1"), cachepolicy.NewForever())
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Kind != Add || events[0].FP != fp {
		t.Fatalf("expected exactly one Add event for fp, got %+v", events)
	}
}

func TestIsExpiredForAbsentEntry(t *testing.T) {
	c := newTestCache(t)
	fp := fingerprint.Compute("GET", "https://nowhere", nil)
	if !c.IsExpired(fp) {
		t.Fatalf("absent entry must count as expired")
	}
}

func TestExpireImmediatelyIsExpiredAtOnce(t *testing.T) {
	c := newTestCache(t)
	fp := fingerprint.Compute("GET", "https://x/y", nil)
	c.Put(fp, []byte("v"), cachepolicy.NewExpireImmediately())

	if !c.IsExpired(fp) {
		t.Fatalf("ExpireImmediately entry must be expired right after write")
	}
}

func TestRemoveExpiredSweepsBothTiers(t *testing.T) {
	c := newTestCache(t)
	fpExpired := fingerprint.Compute("GET", "https://x/expired", nil)
	fpLive := fingerprint.Compute("GET", "https://x/live", nil)

	c.Put(fpExpired, []byte("old"), cachepolicy.NewTimed(1))
	c.Put(fpLive, []byte("fresh"), cachepolicy.NewForever())

	// Force the timed entry into the past without sleeping.
	c.mu.Lock()
	c.mem[fpExpired].expiry = time.Now().Add(-time.Hour)
	c.disk.index[fpExpired].expiry = time.Now().Add(-time.Hour)
	c.mu.Unlock()

	c.RemoveExpired()

	if _, ok := c.Get(fpExpired); ok {
		t.Fatalf("expired entry must be swept")
	}
	if _, ok := c.Get(fpLive); !ok {
		t.Fatalf("live entry must survive sweep")
	}
}

func TestRemoveAllClearsEverything(t *testing.T) {
	c := newTestCache(t)
	fp := fingerprint.Compute("GET", "https://x/y", nil)
	c.Put(fp, []byte("v"), cachepolicy.NewForever())

	c.RemoveAll()

	if _, ok := c.Get(fp); ok {
		t.Fatalf("expected cache empty after RemoveAll")
	}
}

func TestMemoryEvictionRespectsCountLimit(t *testing.T) {
	dir, err := os.MkdirTemp("", "networkcore-cache-evict-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	disk, err := NewDiskTier(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDiskTier: %v", err)
	}
	c := New(Config{MemoryCountLimit: 2, MemoryByteLimit: 1 << 20}, disk, &metrics.Counters{})

	fp1 := fingerprint.Compute("GET", "https://x/1", nil)
	fp2 := fingerprint.Compute("GET", "https://x/2", nil)
	fp3 := fingerprint.Compute("GET", "https://x/3", nil)

	c.Put(fp1, []byte("1"), cachepolicy.NewForever())
	c.Put(fp2, []byte("2"), cachepolicy.NewForever())
	c.Put(fp3, []byte("3"), cachepolicy.NewForever())

	c.mu.RLock()
	count := len(c.mem)
	c.mu.RUnlock()
	if count > 2 {
		t.Fatalf("expected memory tier bounded to 2 entries, got %d", count)
	}

	// fp1 should have been evicted from memory but is still readable via disk.
	if _, ok := c.Get(fp1); !ok {
		t.Fatalf("expected evicted entry still retrievable from disk tier")
	}
}

func TestShortensExistingDetectsPolicyWin(t *testing.T) {
	c := newTestCache(t)
	fp := fingerprint.Compute("GET", "https://x/y", nil)
	c.Put(fp, []byte("v"), cachepolicy.NewForever())

	if !c.ShortensExisting(fp, cachepolicy.NewTimed(1)) {
		t.Fatalf("a timed policy must shorten an existing Forever entry")
	}
}
