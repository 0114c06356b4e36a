package generators

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	"Story-Loom/server/internal/interfaces"
)

// ErrQueueFull is returned when no request slot is free
var ErrQueueFull = errors.New("media queue is full")

// ErrQueueStopped is returned for requests made after Stop
var ErrQueueStopped = errors.New("media queue stopped")

// MediaQueue bounds how many media jobs are in flight across all sessions
type MediaQueue struct {
	poller     *Poller
	requests   chan *QueueRequest
	maxWorkers int
	active     *atomic.Int32
	stopped    *atomic.Bool
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// QueueRequest is one queued media generation
type QueueRequest struct {
	Ctx       context.Context
	Request   *interfaces.GenerationRequest
	ResultCh  chan *QueueResult
	CreatedAt time.Time
}

// QueueResult is the outcome of a queued request
type QueueResult struct {
	Asset    Asset
	Error    error
	Waited   time.Duration
	Duration time.Duration
}

// NewMediaQueue creates a queue with room for queueSize waiting requests
func NewMediaQueue(poller *Poller, maxWorkers, queueSize int) *MediaQueue {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &MediaQueue{
		poller:     poller,
		requests:   make(chan *QueueRequest, queueSize),
		maxWorkers: maxWorkers,
		active:     atomic.NewInt32(0),
		stopped:    atomic.NewBool(false),
	}
}

// Start starts the workers
func (q *MediaQueue) Start(ctx context.Context) {
	for i := 0; i < q.maxWorkers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop stops accepting requests and waits for the workers to drain
func (q *MediaQueue) Stop() {
	q.stopOnce.Do(func() {
		q.stopped.Store(true)
		close(q.requests)
	})
	q.wg.Wait()
}

// worker processes queued requests
func (q *MediaQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-q.requests:
			if !ok {
				return
			}
			q.process(req)
		}
	}
}

func (q *MediaQueue) process(req *QueueRequest) {
	q.active.Inc()
	defer q.active.Dec()

	result := &QueueResult{Waited: time.Since(req.CreatedAt)}
	if err := req.Ctx.Err(); err != nil {
		result.Error = err
	} else {
		startTime := time.Now()
		result.Asset, result.Error = q.poller.Generate(req.Ctx, req.Request)
		result.Duration = time.Since(startTime)
	}
	if result.Error != nil {
		log.Printf("[MediaQueue] %s generation failed after %v: %v", req.Request.Kind, result.Duration, result.Error)
	}

	// ResultCh is buffered by Generate
	req.ResultCh <- result
}

// Enqueue adds a request without waiting for a slot
func (q *MediaQueue) Enqueue(req *QueueRequest) (err error) {
	if q.stopped.Load() {
		return ErrQueueStopped
	}
	defer func() {
		// Stop may close the channel between the check and the send
		if recover() != nil {
			err = ErrQueueStopped
		}
	}()
	select {
	case q.requests <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Generate queues req and waits for its result. It has the same contract as
// Poller.Generate.
func (q *MediaQueue) Generate(ctx context.Context, req *interfaces.GenerationRequest) (Asset, error) {
	queued := &QueueRequest{
		Ctx:       ctx,
		Request:   req,
		ResultCh:  make(chan *QueueResult, 1),
		CreatedAt: time.Now(),
	}
	if err := q.Enqueue(queued); err != nil {
		return Asset{}, err
	}

	select {
	case result := <-queued.ResultCh:
		return result.Asset, result.Error
	case <-ctx.Done():
		return Asset{}, ctx.Err()
	}
}

// QueueSize returns the number of waiting requests
func (q *MediaQueue) QueueSize() int {
	return len(q.requests)
}

// ActiveCount returns the number of requests being generated
func (q *MediaQueue) ActiveCount() int {
	return int(q.active.Load())
}
