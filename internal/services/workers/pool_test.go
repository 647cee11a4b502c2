package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestPoolRunsEverySubmittedJob(t *testing.T) {
	pool := NewPool(context.Background(), 3, arbor.NewLogger())
	pool.Start()

	var ran int64
	for i := 0; i < 10; i++ {
		err := pool.Submit(func(ctx context.Context) {
			atomic.AddInt64(&ran, 1)
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.Equal(t, int64(10), atomic.LoadInt64(&ran))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(context.Background(), 2, arbor.NewLogger())
	pool.Start()

	var mu sync.Mutex
	var active, peak int
	for i := 0; i < 6; i++ {
		err := pool.Submit(func(ctx context.Context) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 0)
}

func TestPoolRejectsSubmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(ctx, 2, arbor.NewLogger())
	pool.Start()

	err := pool.Submit(func(ctx context.Context) {})
	assert.Error(t, err)
	pool.Wait()
}

func TestPoolCancelStopsBlockedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1, arbor.NewLogger())
	pool.Start()

	started := make(chan struct{})
	err := pool.Submit(func(jobCtx context.Context) {
		close(started)
		<-jobCtx.Done()
	})
	require.NoError(t, err)

	<-started
	cancel()

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestNewPoolDefaultsWorkerCount(t *testing.T) {
	pool := NewPool(context.Background(), 0, arbor.NewLogger())
	assert.Equal(t, 4, pool.maxWorkers)
}
