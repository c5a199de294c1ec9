// Pool: a bounded isolation pool dedicated to backend-directed work, kept
// independent of request ingress so backend latency never consumes ingress
// capacity (spec.md §4.7.1, Design Note §9's "single bounded worker pool
// with a queue-and-caller-runs saturation policy").
//
// Grounded on the teacher's warming.WorkerPool: a fixed set of worker
// goroutines draining a buffered channel. That shape is extended here with
// an elastic overflow tier (up to max_size, matching spec.md's core_size /
// max_size split) and a caller-runs fallback once the queue and the
// overflow tier are both saturated.
package resilience

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// PoolConfig configures the bounded isolation pool (spec.md §4.7.1).
type PoolConfig struct {
	CoreSize  int
	MaxSize   int
	QueueSize int
	// Limiter, if non-nil, is one pool-wide limiter consulted before a task
	// is handed to a worker, mirroring the teacher's warming service guarding
	// origin RPS with a rate.Limiter. A task it denies is not dropped: it runs
	// on the calling goroutine, and a backend call still goes through the
	// circuit breaker.
	Limiter *rate.Limiter
}

// DefaultPoolConfig returns the values spec.md §4.7.1 names.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{CoreSize: 10, MaxSize: 50, QueueSize: 200}
}

// Pool is a dedicated worker set for backend calls.
type Pool struct {
	cfg   PoolConfig
	queue chan func()

	overflow atomic.Int32
	wg       sync.WaitGroup
	stop     chan struct{}
}

// NewPool starts cfg.CoreSize permanent workers draining a queue of
// capacity cfg.QueueSize.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.CoreSize <= 0 {
		cfg.CoreSize = 1
	}
	p := &Pool{
		cfg:   cfg,
		queue: make(chan func(), cfg.QueueSize),
		stop:  make(chan struct{}),
	}
	for i := 0; i < cfg.CoreSize; i++ {
		p.wg.Add(1)
		go p.coreWorker()
	}
	return p
}

func (p *Pool) coreWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case task := <-p.queue:
			task()
		}
	}
}

// Submit runs fn on the pool, asynchronously, with no result to wait on.
// Used as a cache.Dispatcher for background refreshes. Saturation policy:
// queue, then overflow goroutine, then caller-runs.
func (p *Pool) Submit(fn func()) {
	if p.cfg.Limiter != nil && !p.cfg.Limiter.Allow() {
		fn() // shed onto the caller rather than drop the work entirely
		return
	}
	select {
	case p.queue <- fn:
		return
	default:
	}

	overflowCap := p.cfg.MaxSize - p.cfg.CoreSize
	if overflowCap > 0 && int(p.overflow.Load()) < overflowCap {
		p.overflow.Add(1)
		go func() {
			defer p.overflow.Add(-1)
			fn()
		}()
		return
	}

	fn() // caller-runs: pool and overflow both saturated
}

// Execute runs fn on the pool and blocks the caller until it completes,
// ctx is cancelled, or the pool cannot accept it (in which case it runs on
// the calling goroutine, same caller-runs policy as Submit). Used by
// Caller so a single backend call's cancellation can interrupt the wait.
func (p *Pool) Execute(ctx context.Context, fn func() error) error {
	if p.cfg.Limiter != nil && !p.cfg.Limiter.Allow() {
		return fn()
	}

	done := make(chan error, 1)
	task := func() { done <- fn() }

	select {
	case p.queue <- task:
	default:
		overflowCap := p.cfg.MaxSize - p.cfg.CoreSize
		if overflowCap > 0 && int(p.overflow.Load()) < overflowCap {
			p.overflow.Add(1)
			go func() {
				defer p.overflow.Add(-1)
				task()
			}()
		} else {
			return fn() // caller-runs
		}
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the core workers. In-flight overflow/caller-runs tasks
// are unaffected.
func (p *Pool) Shutdown() {
	close(p.stop)
	p.wg.Wait()
}
