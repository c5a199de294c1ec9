package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeduper_SingleFlight(t *testing.T) {
	d := NewDeduper()
	var calls int32
	var wg sync.WaitGroup

	const n = 50
	leaders := int32(0)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isLeader, err := d.Do(context.Background(), "fp1", func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				time.Sleep(20 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if isLeader {
				atomic.AddInt32(&leaders, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 backend call for %d concurrent callers, got %d", n, got)
	}
	if got := atomic.LoadInt32(&leaders); got != 1 {
		t.Fatalf("expected exactly 1 leader, got %d", got)
	}
}

func TestDeduper_FollowerGetsLeaderErrorKind(t *testing.T) {
	d := NewDeduper()
	leaderErr := NewError(KindUpstreamServer, "boom")

	var wg sync.WaitGroup
	start := make(chan struct{})
	var followerErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, _ = d.Do(context.Background(), "fp1", func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return leaderErr
		})
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond) // ensure leader installs slot first
		<-start
		_, followerErr = d.Do(context.Background(), "fp1", func(ctx context.Context) error {
			t.Error("follower must not execute the producer")
			return nil
		})
	}()
	close(start)
	wg.Wait()

	if followerErr == nil {
		t.Fatalf("expected follower to receive an error")
	}
	if AsKind(followerErr) != KindUpstreamServer {
		t.Fatalf("expected follower error kind %v, got %v", KindUpstreamServer, AsKind(followerErr))
	}
	if errors.Is(followerErr, leaderErr) {
		t.Fatalf("follower error must not be the same instance as the leader's")
	}
}

func TestDeduper_FollowerTimesOut(t *testing.T) {
	orig := FollowerWait
	FollowerWait = 20 * time.Millisecond
	defer func() { FollowerWait = orig }()

	d := NewDeduper()
	leaderStarted := make(chan struct{})
	releaseLeader := make(chan struct{})

	go func() {
		_, _ = d.Do(context.Background(), "fp1", func(ctx context.Context) error {
			close(leaderStarted)
			<-releaseLeader
			return nil
		})
	}()
	<-leaderStarted

	isLeader, err := d.Do(context.Background(), "fp1", func(ctx context.Context) error {
		t.Error("follower must not execute the producer")
		return nil
	})
	close(releaseLeader)

	if isLeader {
		t.Fatalf("second caller should be a follower")
	}
	if AsKind(err) != KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestDeduper_LeaderCeilingUnblocksFollowers(t *testing.T) {
	origLeader, origFollower := LeaderCeiling, FollowerWait
	LeaderCeiling = 15 * time.Millisecond
	FollowerWait = 500 * time.Millisecond
	defer func() { LeaderCeiling, FollowerWait = origLeader, origFollower }()

	d := NewDeduper()
	var wg sync.WaitGroup
	wg.Add(1)
	var followerErr error
	go func() {
		defer wg.Done()
		time.Sleep(2 * time.Millisecond)
		_, followerErr = d.Do(context.Background(), "fp1", func(ctx context.Context) error {
			return nil
		})
	}()

	_, leaderErr := d.Do(context.Background(), "fp1", func(ctx context.Context) error {
		<-ctx.Done() // producer returns only once its context ends, simulating a hung call
		return ctx.Err()
	})
	wg.Wait()

	if AsKind(leaderErr) != KindTimeout {
		t.Fatalf("expected leader ceiling breach to surface as timeout, got %v", leaderErr)
	}
	if followerErr == nil {
		t.Fatalf("expected follower to be unblocked once leader ceiling breached")
	}
}
