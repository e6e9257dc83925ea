package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRegisterAndCancel(t *testing.T) {
	pool := &WorkerPool{
		active: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Register("exec-1", cancel)

	// Cancel should succeed for a registered execution
	assert.True(t, pool.Cancel("exec-1"))
	assert.Error(t, ctx.Err()) // Context should be cancelled

	// Cancel should return false for an unknown execution
	assert.False(t, pool.Cancel("unknown"))
}

func TestPoolUnregister(t *testing.T) {
	pool := &WorkerPool{
		active: make(map[string]context.CancelFunc),
	}

	_, cancel := context.WithCancel(context.Background())
	pool.Register("exec-1", cancel)

	assert.True(t, pool.Cancel("exec-1"))

	pool.Unregister("exec-1")

	assert.False(t, pool.Cancel("exec-1"))
}

func TestPoolActiveExecutionIDs(t *testing.T) {
	pool := &WorkerPool{
		active: make(map[string]context.CancelFunc),
	}

	ids := pool.activeExecutionIDs()
	assert.Empty(t, ids)

	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.Register("exec-a", cancel1)
	pool.Register("exec-b", cancel2)

	ids = pool.activeExecutionIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "exec-a")
	assert.Contains(t, ids, "exec-b")
}

func TestPoolStopTwiceDoesNotPanic(t *testing.T) {
	pool := &WorkerPool{
		config: testQueueConfig(),
		stopCh: make(chan struct{}),
		active: make(map[string]context.CancelFunc),
	}

	// First call should close the channel without panic.
	pool.Stop()

	// Second call must not panic (sync.Once guards the close).
	assert.NotPanics(t, func() { pool.Stop() })
}
