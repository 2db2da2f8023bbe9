package mainloop

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func queued(q *Queue) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func TestQueue_RunsInOrderOnLoopGoroutine(t *testing.T) {
	q := NewQueue(quietLogger())
	var got []int
	for i := range 5 {
		q.Defer(func() { got = append(got, i) })
	}
	assert.Equal(t, 5, queued(q))

	q.Close()
	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Zero(t, queued(q))
}

func TestQueue_DeferFromManyGoroutines(t *testing.T) {
	q := NewQueue(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	count := 0
	runErr := make(chan error, 1)
	go func() { runErr <- q.Run(ctx) }()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Defer(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 20
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}

func TestQueue_NestedDeferRunsAfterCurrent(t *testing.T) {
	q := NewQueue(quietLogger())
	var got []string
	q.Defer(func() {
		got = append(got, "outer")
		q.Defer(func() { got = append(got, "inner") })
		got = append(got, "outer-end")
	})
	q.Defer(func() { got = append(got, "second") })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = q.Run(ctx)
	assert.Equal(t, []string{"outer", "outer-end", "second", "inner"}, got)
}

func TestQueue_DeferAfterCloseIsDropped(t *testing.T) {
	q := NewQueue(quietLogger())
	q.Close()
	q.Close()

	called := false
	q.Defer(func() { called = true })
	require.NoError(t, q.Run(context.Background()))
	assert.False(t, called)
}

func TestQueue_PanicDoesNotStopLoop(t *testing.T) {
	q := NewQueue(quietLogger())
	ran := false
	q.Defer(func() { panic("boom") })
	q.Defer(func() { ran = true })
	q.Close()

	require.NoError(t, q.Run(context.Background()))
	assert.True(t, ran)
}
