// Package netconfig holds the typed configuration accepted by the
// process-wide orchestrator initializer, and the serial dispatcher
// abstraction used for the library's "main (UI) dispatcher" and other
// serial domains (spec.md §5).
package netconfig

import "sync"

// Dispatcher posts a closure for later, serialized execution. The
// orchestrator's "main dispatcher" is one Dispatcher; each Named Queue and
// the Observer Registry also run atop their own private Dispatcher so that
// state owned by one serial domain is never mutated from another goroutine.
type Dispatcher interface {
	Post(fn func())
}

// Config is the typed configuration passed to the process-wide
// orchestrator initializer. Recognized options, per spec.md §6:
// memory_count_limit, memory_byte_limit, disk_byte_limit,
// default_queue_concurrency, request_timeout_seconds, main_dispatcher.
//
// RequestsPerSecond is an additive tunable (zero disables it) layered on
// top of the spec-mandated six: it throttles admission into a Named Queue
// via golang.org/x/time/rate, mirroring the teacher's
// warming.Config.MaxOriginRPS / warming.Service.rateLimiter.
type Config struct {
	MemoryCountLimit        int
	MemoryByteLimit         int64
	DiskByteLimit           int64
	DefaultQueueConcurrency int
	RequestTimeoutSeconds   int
	MainDispatcher          Dispatcher
	RequestsPerSecond       float64

	// DiskDir is the base directory of the on-disk cache tier (spec.md §6's
	// "Cache persistence layout"); the tier keeps its files in
	// DiskDir/com.network.cache. Additive like RequestsPerSecond: the
	// recognized six options don't name a directory, but a local filesystem
	// tier needs one, so it defaults to the process's working directory
	// (giving ./com.network.cache). Empty disables the disk tier.
	DiskDir string
}

// DefaultConfig mirrors the teacher's DefaultConfig() constructors
// (cachemanager.Config{...}, warming.DefaultConfig()): a single function
// returning sane defaults rather than requiring every field to be set.
func DefaultConfig() Config {
	return Config{
		MemoryCountLimit:        100,
		MemoryByteLimit:         100 * 1024 * 1024,
		DiskByteLimit:           100 * 1024 * 1024,
		DefaultQueueConcurrency: 4,
		RequestTimeoutSeconds:   100,
		MainDispatcher:          NewSerialDispatcher(256),
		RequestsPerSecond:       0,
		DiskDir:                 ".",
	}
}

// SerialDispatcher is a single-goroutine executor backed by a buffered
// channel of closures: the concrete Dispatcher used by DefaultConfig and
// internally by Named Queues and the Observer Registry for their private
// serial domains.
type SerialDispatcher struct {
	tasks chan func()
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewSerialDispatcher starts a dispatcher goroutine with the given post
// buffer size.
func NewSerialDispatcher(buffer int) *SerialDispatcher {
	d := &SerialDispatcher{
		tasks: make(chan func(), buffer),
		stop:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *SerialDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case fn := <-d.tasks:
			fn()
		case <-d.stop:
			// Drain whatever is already buffered before exiting, so a
			// Close() racing with in-flight Posts does not silently drop
			// work that was already accepted.
			for {
				select {
				case fn := <-d.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post enqueues fn for serialized execution on the dispatcher goroutine.
func (d *SerialDispatcher) Post(fn func()) {
	d.tasks <- fn
}

// Close stops accepting new work after draining the current buffer.
func (d *SerialDispatcher) Close() {
	close(d.stop)
	d.wg.Wait()
}

// Inline is a Dispatcher that runs fn synchronously on the calling
// goroutine. Useful in tests that want deterministic ordering without a
// background goroutine.
type Inline struct{}

// Post implements Dispatcher by calling fn immediately.
func (Inline) Post(fn func()) { fn() }
