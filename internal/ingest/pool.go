package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/docintel/internal/observability"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("ingestion queue is full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("ingestion pool is closed")
)

// Scheduler accepts ingestion requests for asynchronous execution and
// returns the job id.
type Scheduler interface {
	Submit(ctx context.Context, req Request) (string, error)
}

// Processor runs one request to completion.
type Processor interface {
	Process(ctx context.Context, req Request) Result
}

// Pool is a bounded in-process Scheduler. With one worker at most one
// ingestion is in flight at a time.
type Pool struct {
	proc    Processor
	queue   chan Request
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	metrics *observability.PipelineMetrics
	logger  *slog.Logger
}

// NewPool starts workers goroutines reading from a queue of queueSize
// pending requests.
func NewPool(proc Processor, workers, queueSize int, metrics *observability.PipelineMetrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if metrics == nil {
		metrics = observability.Metrics()
	}
	p := &Pool{
		proc:    proc,
		queue:   make(chan Request, queueSize),
		metrics: metrics,
		logger:  slog.Default(),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for req := range p.queue {
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		p.logger.Debug("Worker picked up job", "worker", id, "job_id", req.JobID, "document_id", req.DocumentID)
		// Runs detached from the submitting request.
		p.proc.Process(context.Background(), req)
	}
}

// Submit enqueues req without blocking.
func (p *Pool) Submit(_ context.Context, req Request) (string, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrClosed
	}
	select {
	case p.queue <- req:
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		return req.JobID, nil
	default:
		return "", ErrQueueFull
	}
}

// Close stops accepting requests and waits for queued ones to finish or
// ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Scheduler = (*Pool)(nil)
