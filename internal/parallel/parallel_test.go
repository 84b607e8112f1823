package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEach_VisitsEveryItem(t *testing.T) {
	for _, workers := range []int{1, 4} {
		var visited [100]int32
		err := ForEach(context.Background(), len(visited), func(_ context.Context, i int) error {
			atomic.AddInt32(&visited[i], 1)
			return nil
		}, WithWorkers(workers))
		require.NoError(t, err)

		for i, v := range visited {
			assert.Equal(t, int32(1), v, "workers=%d item %d", workers, i)
		}
	}
}

func TestForEach_ReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")

	for _, workers := range []int{1, 4} {
		err := ForEach(context.Background(), 10, func(_ context.Context, i int) error {
			if i == 3 {
				return boom
			}
			return nil
		}, WithWorkers(workers))
		assert.ErrorIs(t, err, boom, "workers=%d", workers)
	}
}

func TestForEach_SequentialStopsAfterError(t *testing.T) {
	var calls int
	_ = ForEach(context.Background(), 10, func(_ context.Context, i int) error {
		calls++
		if i == 2 {
			return errors.New("stop")
		}
		return nil
	}, WithWorkers(1))
	assert.Equal(t, 3, calls)
}

func TestForEach_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ForEach(ctx, 5, func(context.Context, int) error { return nil }, WithWorkers(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithWorkers(t *testing.T) {
	assert.False(t, WithWorkers(1).Enabled)
	assert.Equal(t, 3, WithWorkers(3).NumWorkers)
	assert.Equal(t, DefaultConfig(), WithWorkers(0))
}
