package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/log"
	"github.com/dukex/bpmnvm/pkg/tenant"
)

func TestWorkerPool_SetsAndClearsTenantSlot(t *testing.T) {
	pool := NewWorkerPool(log.Discard(), 1, 4)
	pool.Start(context.Background())

	var (
		mu    sync.Mutex
		seen  []string
		slots []*tenant.Slot
	)

	for _, tenantID := range []string{"tenant-a", "tenant-b"} {
		submitted, err := pool.Submit(Task{
			TenantID: tenantID,
			Run: func(ctx context.Context) {
				slot := tenant.SlotFromContext(ctx)
				fromCtx, _ := tenant.FromContext(ctx)

				mu.Lock()
				defer mu.Unlock()

				seen = append(seen, slot.Get()+"/"+fromCtx)
				slots = append(slots, slot)
			},
		})
		require.NoError(t, err)
		require.True(t, submitted)
	}

	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, []string{"tenant-a/tenant-a", "tenant-b/tenant-b"}, seen)

	for _, slot := range slots {
		assert.Empty(t, slot.Get())
	}
}

func TestWorkerPool_ClearsSlotAfterPanic(t *testing.T) {
	pool := NewWorkerPool(log.Discard(), 1, 4)
	pool.Start(context.Background())

	var slot *tenant.Slot

	_, err := pool.Submit(Task{
		TenantID: "tenant-a",
		Run: func(ctx context.Context) {
			slot = tenant.SlotFromContext(ctx)

			panic("boom")
		},
	})
	require.NoError(t, err)

	ran := make(chan string, 1)

	_, err = pool.Submit(Task{
		TenantID: "tenant-b",
		Run: func(ctx context.Context) {
			ran <- tenant.SlotFromContext(ctx).Get()
		},
	})
	require.NoError(t, err)

	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, "tenant-b", <-ran)
	require.NotNil(t, slot)
	assert.Empty(t, slot.Get())
}

func TestWorkerPool_SubmitReportsFullQueue(t *testing.T) {
	pool := NewWorkerPool(log.Discard(), 1, 1)

	noop := Task{Run: func(context.Context) {}}

	submitted, err := pool.Submit(noop)
	require.NoError(t, err)
	assert.True(t, submitted)

	submitted, err = pool.Submit(noop)
	require.NoError(t, err)
	assert.False(t, submitted)
}

func TestWorkerPool_ShutdownDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(log.Discard(), 2, 10)

	var (
		mu    sync.Mutex
		count int
	)

	for range 10 {
		_, err := pool.Submit(Task{Run: func(context.Context) {
			mu.Lock()
			count++
			mu.Unlock()
		}})
		require.NoError(t, err)
	}

	pool.Start(context.Background())
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, 10, count)

	_, err := pool.Submit(Task{Run: func(context.Context) {}})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_ShutdownHonoursContext(t *testing.T) {
	pool := NewWorkerPool(log.Discard(), 1, 1)
	pool.Start(context.Background())

	release := make(chan struct{})
	defer close(release)

	_, err := pool.Submit(Task{Run: func(context.Context) { <-release }})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
