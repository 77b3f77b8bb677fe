package keylock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/internal/keylock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_SerializesSameKey(t *testing.T) {
	locks := keylock.New()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.WithLock(ctx, "project-1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					old := atomic.LoadInt32(&maxInside)
					if n <= old || atomic.CompareAndSwapInt32(&maxInside, old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, locks.Len(), "entries are released once unused")
}

func TestMap_DifferentKeysRunConcurrently(t *testing.T) {
	locks := keylock.New()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locks.WithLock(ctx, "a", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_ = locks.WithLock(ctx, "b", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	close(release)
}

func TestMap_ContextCancelWhileWaiting(t *testing.T) {
	locks := keylock.New()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locks.WithLock(context.Background(), "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locks.WithLock(ctx, "k", func(context.Context) error {
		t.Error("fn must not run without the lock")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
