package resilience

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_ExecuteRunsOnWorker(t *testing.T) {
	p := NewPool(PoolConfig{CoreSize: 2, MaxSize: 2, QueueSize: 4})
	defer p.Shutdown()

	err := p.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPool_ExecuteRespectsContextCancellation(t *testing.T) {
	p := NewPool(PoolConfig{CoreSize: 1, MaxSize: 1, QueueSize: 1})
	defer p.Shutdown()

	// Saturate the single worker with a long task.
	block := make(chan struct{})
	go p.Submit(func() { <-block })
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Execute(ctx, func() error {
		<-block
		return nil
	})
	if err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestPool_CallerRunsWhenSaturated(t *testing.T) {
	p := NewPool(PoolConfig{CoreSize: 1, MaxSize: 1, QueueSize: 0})
	defer p.Shutdown()

	block := make(chan struct{})
	go p.Submit(func() { <-block })
	time.Sleep(10 * time.Millisecond) // let the worker pick up the blocker

	var ranOnCaller int32
	done := make(chan struct{})
	go func() {
		p.Submit(func() { atomic.StoreInt32(&ranOnCaller, 1) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Submit did not return under saturation (caller-runs expected)")
	}
	close(block)

	if atomic.LoadInt32(&ranOnCaller) != 1 {
		t.Fatalf("expected saturated Submit to run inline (caller-runs)")
	}
}
