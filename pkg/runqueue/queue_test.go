package runqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/strataquant/strata/internal/tracing"
	"github.com/stretchr/testify/assert"
)

func TestQueue_BasicEnqueue(t *testing.T) {
	q := New()
	defer q.Close()

	executed := false
	task := func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	}

	result, err := q.Enqueue("test", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestQueue_TaskError(t *testing.T) {
	q := New()
	defer q.Close()

	expectedErr := errors.New("task failed")
	task := func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}

	result, err := q.Enqueue("test", task, nil)

	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestQueue_SerialExecution(t *testing.T) {
	q := New()
	defer q.Close()

	var order []int
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		i := i
		go func() {
			task := func(ctx context.Context) (interface{}, error) {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}
			_, _ = q.Enqueue("serial", task, nil)
		}()
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, len(order))
}

func TestQueue_ConversationLanesRunIndependently(t *testing.T) {
	q := New()
	defer q.Close()

	var count1, count2 int
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		go func() {
			task := func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				count1++
				mu.Unlock()
				time.Sleep(50 * time.Millisecond)
				return nil, nil
			}
			_, _ = q.Enqueue(ConversationLane("alpha"), task, nil)
		}()
	}

	for i := 0; i < 3; i++ {
		go func() {
			task := func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				count2++
				mu.Unlock()
				time.Sleep(50 * time.Millisecond)
				return nil, nil
			}
			_, _ = q.Enqueue(ConversationLane("beta"), task, nil)
		}()
	}

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count1)
	assert.Equal(t, 3, count2)
}

func TestConversationLane(t *testing.T) {
	assert.Equal(t, "conv:abc", ConversationLane("abc"))
}

func TestQueue_IdempotentReplay(t *testing.T) {
	q := New()
	defer q.Close()

	calls := 0
	task := func(ctx context.Context) (interface{}, error) {
		calls++
		return "first", nil
	}

	ctx := tracing.WithRequestID(context.Background(), "req-1")

	result, err := q.EnqueueWithContext(ctx, "test", task, nil)
	assert.NoError(t, err)
	assert.Equal(t, "first", result)
	assert.Equal(t, 1, calls)

	// Replaying the same request ID returns the cached outcome
	result, err = q.EnqueueWithContext(ctx, "test", task, nil)
	assert.NoError(t, err)
	assert.Equal(t, "first", result)
	assert.Equal(t, 1, calls)
}

func TestQueue_IdempotentDistinctRequests(t *testing.T) {
	q := New()
	defer q.Close()

	calls := 0
	task := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	ctx1 := tracing.WithRequestID(context.Background(), "req-1")
	ctx2 := tracing.WithRequestID(context.Background(), "req-2")

	_, err := q.EnqueueWithContext(ctx1, "test", task, nil)
	assert.NoError(t, err)
	_, err = q.EnqueueWithContext(ctx2, "test", task, nil)
	assert.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestQueue_IdempotentReplayKeepsError(t *testing.T) {
	q := New()
	defer q.Close()

	calls := 0
	expectedErr := errors.New("boom")
	task := func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, expectedErr
	}

	ctx := tracing.WithRequestID(context.Background(), "req-err")

	_, err := q.EnqueueWithContext(ctx, "test", task, nil)
	assert.Equal(t, expectedErr, err)

	_, err = q.EnqueueWithContext(ctx, "test", task, nil)
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 1, calls)
}

func TestQueue_GetStats(t *testing.T) {
	q := New()
	defer q.Close()

	stats := q.GetStats()

	assert.Contains(t, stats, "main")
	assert.Contains(t, stats, "maintenance")
	assert.Equal(t, 1, stats["main"]["concurrency"])
	assert.Equal(t, 2, stats["maintenance"]["concurrency"])
}

func TestQueue_ClearLane(t *testing.T) {
	q := New()
	defer q.Close()

	// Enqueue tasks that will block
	for i := 0; i < 5; i++ {
		go func() {
			task := func(ctx context.Context) (interface{}, error) {
				time.Sleep(1 * time.Second)
				return nil, nil
			}
			_, _ = q.Enqueue("test", task, nil)
		}()
	}

	time.Sleep(50 * time.Millisecond)

	cleared := q.ClearLane("test")
	assert.Greater(t, cleared, 0)
}

func TestQueue_SetConcurrency(t *testing.T) {
	q := New()
	defer q.Close()

	q.SetConcurrency("test", 3)

	stats := q.GetStats()
	assert.Equal(t, 3, stats["test"]["concurrency"])
}

func TestQueue_WaitForActive(t *testing.T) {
	q := New()
	defer q.Close()

	// Start a quick task
	go func() {
		task := func(ctx context.Context) (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		}
		_, _ = q.Enqueue("test", task, nil)
	}()

	time.Sleep(10 * time.Millisecond)

	drained := q.WaitForActive(200 * time.Millisecond)
	assert.True(t, drained)
}

func TestQueue_EventEmission(t *testing.T) {
	q := New()
	defer q.Close()

	var events []Event
	var mu sync.Mutex

	// Register event handlers
	q.On("enqueued", func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	q.On("completed", func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	// Enqueue a task
	_, err := q.Enqueue("test", Task(func(ctx context.Context) (interface{}, error) {
		return "result", nil
	}), nil)
	assert.NoError(t, err)

	// Wait a bit for events
	time.Sleep(100 * time.Millisecond)

	// Check events
	mu.Lock()
	defer mu.Unlock()

	assert.GreaterOrEqual(t, len(events), 2, "Should have at least enqueued and completed events")

	enqueuedFound := false
	completedFound := false

	for _, event := range events {
		if event.Type == "enqueued" {
			enqueuedFound = true
			assert.Equal(t, "test", event.Lane)
			assert.NotEmpty(t, event.TaskID)
			assert.Contains(t, event.Data, "queueSize")
		}
		if event.Type == "completed" {
			completedFound = true
			assert.Equal(t, "test", event.Lane)
			assert.NotEmpty(t, event.TaskID)
			assert.Contains(t, event.Data, "duration")
			assert.Contains(t, event.Data, "success")
		}
	}

	assert.True(t, enqueuedFound, "Should have enqueued event")
	assert.True(t, completedFound, "Should have completed event")
}

func TestQueue_EventOff(t *testing.T) {
	q := New()
	defer q.Close()

	eventCount := 0

	// Register handler
	q.On("enqueued", func(event Event) {
		eventCount++
	})

	// Enqueue task
	_, _ = q.Enqueue("test", Task(func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}), nil)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, eventCount)

	// Remove handler
	q.Off("enqueued")

	// Enqueue another task
	_, _ = q.Enqueue("test", Task(func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}), nil)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, eventCount, "Should not receive events after Off")
}
