package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "test", time.Second)

	var mu sync.Mutex
	seen := make(map[int]bool)

	for i := 0; i < 10; i++ {
		i := i
		err := pool.Submit(func(ctx context.Context) error {
			mu.Lock()
			seen[i] = true
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, pool.Shutdown(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 10)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test", time.Second)
	require.NoError(t, pool.Shutdown(time.Second))

	err := pool.Submit(func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestWorkerPool_CollectsErrors(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test", time.Second)

	wantErr := errors.New("write failed")
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		return wantErr
	}))
	require.NoError(t, pool.Shutdown(time.Second))

	select {
	case err := <-pool.Errors():
		assert.Equal(t, wantErr, err)
	default:
		t.Fatal("expected an error on the channel")
	}
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test", time.Second)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		panic("boom")
	}))
	done := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
	require.NoError(t, pool.Shutdown(time.Second))

	select {
	case err := <-pool.Errors():
		assert.Contains(t, err.Error(), "panic")
	default:
		t.Fatal("expected a panic error on the channel")
	}
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test", 50*time.Millisecond)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return fmt.Errorf("task cut short: %w", ctx.Err())
	}))
	require.NoError(t, pool.Shutdown(2*time.Second))

	select {
	case err := <-pool.Errors():
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	default:
		t.Fatal("expected a timeout error on the channel")
	}
}

func TestWorkerPool_ShutdownIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test", time.Second)
	require.NoError(t, pool.Shutdown(time.Second))
	require.NoError(t, pool.Shutdown(time.Second))
}
