package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestRetryQueueRetriesTransientFailureThenSucceeds(t *testing.T) {
	rq := NewRetryQueue(5, time.Millisecond, nil)
	defer rq.Close()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	rq.Enqueue("BTC-USD", func(ctx context.Context) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return &pq.Error{Code: "40001"}
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write never succeeded after retries")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestRetryQueueGivesUpOnNonRetryableError(t *testing.T) {
	var dropped error
	var mu sync.Mutex
	done := make(chan struct{})

	rq := NewRetryQueue(5, time.Millisecond, func(symbol string, attempts int, err error) {
		mu.Lock()
		dropped = err
		mu.Unlock()
		close(done)
	})
	defer rq.Close()

	permErr := errors.New("permanent failure")
	rq.Enqueue("ETH-USD", func(ctx context.Context) error {
		return permErr
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onDrop never called")
	}

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(dropped, permErr) {
		t.Errorf("expected dropped error to be %v, got %v", permErr, dropped)
	}
}

func TestRetryQueuePreservesPerSymbolOrder(t *testing.T) {
	rq := NewRetryQueue(3, time.Millisecond, nil)
	defer rq.Close()

	var mu sync.Mutex
	var order []int
	const n = 20
	last := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		rq.Enqueue("BTC-USD", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			l := len(order)
			mu.Unlock()
			if l == n {
				close(last)
			}
			return nil
		})
	}

	select {
	case <-last:
	case <-time.After(time.Second):
		t.Fatal("not all writes completed")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("writes for the same symbol executed out of order: %v", order)
		}
	}
}
