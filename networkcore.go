// Package networkcore is the public facade (C12): the single entry point a
// consumer constructs once via Init/Shared and then drives through the
// three operations described in spec.md §4.12 — request (fire-and-forget),
// RequestAsync, and Observe. It wires together the fingerprint, cache,
// observer registry, queue manager, coalescer and network task packages.
//
// Construction follows the teacher's singleton-via-sync.Once shape
// (cachemanager.initService/svc/once), renamed to fit a library entry point
// rather than an Encore service.
package networkcore

import (
	"context"
	"sync"
	"time"

	"github.com/networkcore/networkcore/cache"
	"github.com/networkcore/networkcore/coalesce"
	"github.com/networkcore/networkcore/descriptor"
	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/internal/metrics"
	"github.com/networkcore/networkcore/netconfig"
	"github.com/networkcore/networkcore/neterrors"
	"github.com/networkcore/networkcore/netlog"
	"github.com/networkcore/networkcore/nettask"
	"github.com/networkcore/networkcore/observer"
	"github.com/networkcore/networkcore/queue"
	"github.com/networkcore/networkcore/task"
)

// Orchestrator is the process-wide object wiring C1-C11 together. Its
// fields are themselves the serial domains named in spec.md §5; Orchestrator
// itself holds no mutable state of its own beyond the wiring.
type Orchestrator struct {
	cache     *cache.Cache
	observers *observer.Registry
	queues    *queue.Manager
	dedupe    *coalesce.SingleFlight
	transport nettask.Transport
	main      netconfig.Dispatcher
	counters  *metrics.Counters
	timeout   time.Duration
}

var (
	shared *Orchestrator
	once   sync.Once
)

// Init constructs the process-wide Orchestrator from cfg, exactly once; a
// second call (even with a different cfg) returns the instance built on the
// first call, matching the teacher's initService idempotency.
func Init(cfg netconfig.Config) *Orchestrator {
	once.Do(func() {
		shared = newOrchestrator(cfg)
	})
	return shared
}

// Shared returns the process-wide Orchestrator, lazily constructing it with
// netconfig.DefaultConfig() if Init was never called.
func Shared() *Orchestrator {
	if shared == nil {
		return Init(netconfig.DefaultConfig())
	}
	return shared
}

func newOrchestrator(cfg netconfig.Config) *Orchestrator {
	counters := &metrics.Counters{}

	main := cfg.MainDispatcher
	if main == nil {
		main = netconfig.NewSerialDispatcher(256)
	}

	var disk *cache.DiskTier
	if cfg.DiskDir != "" {
		d, err := cache.NewDiskTier(cfg.DiskDir, cfg.DiskByteLimit)
		if err != nil {
			netlog.Errorf(context.Background(), "networkcore: disk tier init failed, running memory-only",
				map[string]interface{}{"dir": cfg.DiskDir, "err": err.Error()})
		} else {
			disk = d
		}
	}

	store := cache.New(cache.Config{
		MemoryCountLimit: cfg.MemoryCountLimit,
		MemoryByteLimit:  cfg.MemoryByteLimit,
	}, disk, counters)

	merger := coalesce.NewMerger(func(op *task.Op) coalesce.Mergeable {
		m, ok := op.Runnable().(coalesce.Mergeable)
		if !ok {
			return nil
		}
		return m
	}, counters)
	queues := queue.NewManager(cfg.DefaultQueueConcurrency, merger, cfg.RequestsPerSecond)

	registry := observer.New(main, counters, func(fp fingerprint.FP) {
		counters.TasksDemoted.Add(1)
		queues.SetPriority(fp, task.VeryLow)
	})

	store.OnChange(func(change cache.Change) {
		if change.Kind == cache.RemoveAll {
			registry.Clear()
			return
		}
		if change.Kind != cache.Add {
			return
		}
		if bytes, ok := store.Get(change.FP); ok {
			registry.Deliver(change.FP, bytes)
		}
	})

	dedupe := coalesce.NewSingleFlight()
	transport := nettask.Transport(nettask.NewSingleFlightTransport(nettask.NewHTTPTransport(), dedupe))

	return &Orchestrator{
		cache:     store,
		observers: registry,
		queues:    queues,
		dedupe:    dedupe,
		transport: transport,
		main:      main,
		counters:  counters,
		timeout:   time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}
}

// SetTransport overrides the default HTTP-backed Transport, mirroring the
// teacher's SetL2Cache/SetOriginFetcher injection pattern for tests and
// alternate wire protocols.
func (o *Orchestrator) SetTransport(t nettask.Transport) { o.transport = t }

// Metrics returns a point-in-time counters snapshot.
func (o *Orchestrator) Metrics() metrics.Snapshot { return o.counters.Snapshot() }

func concurrencyFor(p descriptor.QueuePolicy) queue.ConcurrencyPolicy {
	switch p.Concurrency {
	case descriptor.QueueSerial:
		return queue.SerialConcurrency()
	case descriptor.QueueUnlimited:
		return queue.UnlimitedConcurrency()
	case descriptor.QueueLimited:
		return queue.LimitConcurrency(p.LimitN)
	default:
		return queue.DefaultConcurrency()
	}
}

func enqueue[P descriptor.Params, R any](
	o *Orchestrator,
	desc descriptor.Descriptor[P, R],
	params P,
	id fingerprint.FP,
	onResult nettask.ResultCallback[R],
) {
	tk := nettask.New[P, R](id, desc, params, o.transport, o.cache, o.main, o.timeout)
	if onResult != nil {
		tk.AddResultCallback(onResult)
	}

	qp := desc.Queue()
	op := task.NewOp(id, task.QueueDef(qp.Name), task.Normal, task.NextSeq(), tk)

	o.counters.TasksEnqueued.Add(1)
	o.queues.Enqueue(op, concurrencyFor(qp))
}

// Request is the fire-and-forget/callback entry point (spec.md §4.12,
// request(params, delegate?, force)). onResult may be nil for a pure
// fire-and-forget call that only benefits from cache population.
func Request[P descriptor.Params, R any](
	o *Orchestrator,
	desc descriptor.Descriptor[P, R],
	params P,
	onResult nettask.ResultCallback[R],
	force bool,
) error {
	id, err := nettask.Fingerprint[P, R](desc, params)
	if err != nil {
		return neterrors.Wrap(neterrors.ErrInvalidURL, err)
	}

	expired := force || o.cache.IsExpired(id)
	if !expired {
		if bytes, ok := o.cache.Get(id); ok {
			value, decErr := cache.DecodeOrRemove(o.cache, id, bytes, desc.Decode)
			if decErr == nil {
				o.counters.CacheHits.Add(1)
				if onResult != nil {
					o.main.Post(func() { onResult(nettask.Result[R]{Value: value}) })
				}
				return nil
			}
			// decode failed: DecodeOrRemove already removed the bad entry;
			// fall through and treat this as a miss.
		}
	}

	o.counters.CacheMisses.Add(1)
	enqueue[P, R](o, desc, params, id, onResult)
	return nil
}

// RequestAsync is the async entry point (spec.md §4.12, "request(params) ->
// Response"). Cancelling ctx only stops this call from waiting; it does not
// cancel the underlying Network Task, which may already be shared with
// other callers via the Coalescer (callers are observers, not owners).
func RequestAsync[P descriptor.Params, R any](ctx context.Context, o *Orchestrator, desc descriptor.Descriptor[P, R], params P) (R, error) {
	resultCh := make(chan nettask.Result[R], 1)

	err := Request[P, R](o, desc, params, func(r nettask.Result[R]) {
		resultCh <- r
	}, false)

	var zero R
	if err != nil {
		return zero, err
	}

	select {
	case r := <-resultCh:
		return r.Value, r.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Observe is the subscription entry point (spec.md §4.12, observe(target,
// params, token)). target is a weak subscription anchor: once it is
// unreachable, the observer is pruned lazily on next delivery. prevToken
// (may be nil) is the caller's previously-held token; if it is still live
// and already observes the same fingerprint, it is reused verbatim
// (duplicate-observer suppression) instead of registering a second
// observer.
func Observe[P descriptor.Params, R any, T any](
	o *Orchestrator,
	desc descriptor.Descriptor[P, R],
	params P,
	target *T,
	prevToken *observer.Token,
	callback func(R),
) (*observer.Token, error) {
	id, err := nettask.Fingerprint[P, R](desc, params)
	if err != nil {
		return prevToken, neterrors.Wrap(neterrors.ErrInvalidURL, err)
	}

	tok := prevToken
	if tok == nil || !tok.IsLive() || tok.Fingerprint() != id {
		if tok != nil {
			tok.Cancel()
		}
		tok = o.observers.AddObserver(id, observer.WeakAlive(target), func(bytes []byte) {
			value, decErr := cache.DecodeOrRemove(o.cache, id, bytes, desc.Decode)
			if decErr == nil {
				callback(value)
			}
		})
	}

	expired := o.cache.IsExpired(id)
	returnIfExpired := true
	if cacheable, ok := any(desc).(descriptor.Cacheable); ok {
		policy := nettask.PolicyFromSeconds(cacheable.CachePolicySeconds())
		if o.cache.ShortensExisting(id, policy) {
			expired = true
		}
		returnIfExpired = cacheable.ReturnCachedDataIfExpired()
	}

	if !expired || returnIfExpired {
		if bytes, ok := o.cache.Get(id); ok {
			value, decErr := cache.DecodeOrRemove(o.cache, id, bytes, desc.Decode)
			if decErr != nil {
				expired = true
			} else {
				o.counters.CacheHits.Add(1)
				o.main.Post(func() { callback(value) })
			}
		}
	}

	if expired {
		o.counters.CacheMisses.Add(1)
		// No data callback: the observer above is notified through the
		// cache-change path once the write lands (spec.md §4.12 step 6).
		enqueue[P, R](o, desc, params, id, nil)
	}

	return tok, nil
}
