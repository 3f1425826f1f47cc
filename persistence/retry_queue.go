package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coinmesh/matching-engine/logging"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// IsRetryableError classifies a write failure as transient (worth retrying)
// versus permanent (fail fast). Shared by PostgresStore's in-request retry
// loop and RetryQueue's background retries so both agree on what "transient"
// means.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "08000", "08003", "08006", "57P03":
			return true
		}
	}
	return errors.Is(err, ErrDeadlock) || errors.Is(err, ErrSerializationFailure) || errors.Is(err, ErrConnectionFailure)
}

// retryTask is a single write pending retry, along with the symbol it
// belongs to and how many attempts have already been made.
type retryTask struct {
	symbol  string
	attempt int
	write   func(ctx context.Context) error
}

// RetryQueue runs writes off the caller's hot path and retries, with
// backoff, those that fail with a retryable error class. Every symbol gets
// its own FIFO worker goroutine, so retries for a given symbol are drained
// in the order they were enqueued and never race each other, even though
// Enqueue itself is safe to call from many goroutines at once (the engine's
// per-symbol locks don't extend to this queue).
//
// RetryQueue does not sit in front of the order/trade persistence calls
// that MatchingEngine.Submit makes synchronously — those still roll back
// the in-memory match on failure per the coupled design. It exists for
// writes the hot path chooses not to wait on, such as the event-sourcing
// audit log, where losing an entry to a transient outage is recoverable by
// retrying later instead of failing the request that triggered it.
type RetryQueue struct {
	maxAttempts int
	baseDelay   time.Duration
	onDrop      func(symbol string, attempts int, err error)

	mu      sync.Mutex
	queues  map[string]chan retryTask
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewRetryQueue creates a queue that makes up to maxAttempts attempts at a
// write (the first try included), with exponential backoff starting at
// baseDelay between them, before giving up and
// invoking onDrop. onDrop may be nil, in which case a dropped write is only
// logged.
func NewRetryQueue(maxAttempts int, baseDelay time.Duration, onDrop func(symbol string, attempts int, err error)) *RetryQueue {
	return &RetryQueue{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		onDrop:      onDrop,
		queues:      make(map[string]chan retryTask),
		closeCh:     make(chan struct{}),
	}
}

// Enqueue schedules write for background retry under symbol's FIFO worker.
// It returns immediately; the caller never blocks on the outcome. Enqueue
// is a no-op after Close.
func (rq *RetryQueue) Enqueue(symbol string, write func(ctx context.Context) error) {
	rq.mu.Lock()
	if rq.closed {
		rq.mu.Unlock()
		return
	}
	ch, ok := rq.queues[symbol]
	if !ok {
		ch = make(chan retryTask, 256)
		rq.queues[symbol] = ch
		rq.wg.Add(1)
		go rq.worker(symbol, ch)
	}
	rq.mu.Unlock()

	select {
	case ch <- retryTask{symbol: symbol, write: write}:
	default:
		logging.LogWithFields(logrus.ErrorLevel, "retry queue full, dropping write", logrus.Fields{
			"symbol": symbol,
		})
	}
}

func (rq *RetryQueue) worker(symbol string, tasks chan retryTask) {
	defer rq.wg.Done()
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			rq.drive(task)
		case <-rq.closeCh:
			rq.drain(tasks)
			return
		}
	}
}

// drain flushes whatever is left in a worker's channel without further
// retries, so Close doesn't hang waiting on backoff timers.
func (rq *RetryQueue) drain(tasks chan retryTask) {
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			if err := task.write(context.Background()); err != nil {
				rq.giveUp(task, err)
			}
		default:
			return
		}
	}
}

func (rq *RetryQueue) drive(task retryTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := task.write(ctx)
	if err == nil {
		return
	}
	if !IsRetryableError(err) {
		rq.giveUp(task, err)
		return
	}
	task.attempt++
	if task.attempt >= rq.maxAttempts {
		rq.giveUp(task, err)
		return
	}

	delay := rq.baseDelay * time.Duration(1<<uint(task.attempt-1))
	select {
	case <-time.After(delay):
	case <-rq.closeCh:
		rq.giveUp(task, err)
		return
	}
	rq.drive(task)
}

func (rq *RetryQueue) giveUp(task retryTask, err error) {
	if rq.onDrop != nil {
		rq.onDrop(task.symbol, task.attempt, err)
		return
	}
	logging.LogDBError("retry_queue_exhausted", task.symbol, err, map[string]interface{}{
		"attempts": task.attempt,
	})
}

// Close stops accepting new writes and waits for every worker to either
// finish its current attempt or abandon it. Queued-but-unstarted writes are
// attempted once more, without further retry, before Close returns.
func (rq *RetryQueue) Close() {
	rq.mu.Lock()
	if rq.closed {
		rq.mu.Unlock()
		return
	}
	rq.closed = true
	close(rq.closeCh)
	rq.mu.Unlock()

	rq.wg.Wait()
}
