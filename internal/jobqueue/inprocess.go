package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InProcessQueue is the best-effort backend: jobs run immediately on their
// own goroutine with no persistence. A crash or handler error loses the job
// with only a log line. Every enqueue gets a fresh id, so duplicate webhook
// deliveries of the same logical event run twice; the in-flight set is
// membership bookkeeping only, no dedup happens here.
type InProcessQueue struct {
	handlers Handlers
	timeout  time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
	stopped  bool
}

func NewInProcessQueue(handlers Handlers, config *QueueConfig) *InProcessQueue {
	if config == nil {
		config = DefaultQueueConfig()
	}
	return &InProcessQueue{
		handlers: handlers,
		timeout:  config.JobTimeout,
		inFlight: make(map[string]struct{}),
	}
}

func (q *InProcessQueue) Enqueue(_ context.Context, args JobArgs) (string, error) {
	jobID := uuid.NewString()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", fmt.Errorf("queue stopped, dropping %s job", args.Kind())
	}
	q.inFlight[jobID] = struct{}{}
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(jobID, args)
	return jobID, nil
}

func (q *InProcessQueue) run(jobID string, args JobArgs) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		delete(q.inFlight, jobID)
		q.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("kind", args.Kind()).Str("job_id", jobID).
				Any("panic", r).Msg("job panicked, dropped")
		}
	}()

	// Jobs enqueued from request handlers must not inherit the request's
	// cancellation; only the handler timeout bounds them.
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	var err error
	switch a := args.(type) {
	case IngestArgs:
		err = q.handlers.HandleIngest(ctx, a)
	case RespondArgs:
		err = q.handlers.HandleRespond(ctx, a)
	case NotifyArgs:
		err = q.handlers.HandleNotify(ctx, a)
	default:
		err = fmt.Errorf("unknown job kind %s", args.Kind())
	}

	if err != nil {
		// Best-effort semantics: no retry, the job is gone.
		log.Error().Err(err).Str("kind", args.Kind()).Str("job_id", jobID).
			Msg("job failed, dropped")
		return
	}

	log.Debug().Str("kind", args.Kind()).Str("job_id", jobID).Msg("job completed")
}

// InFlight reports how many jobs are currently executing.
func (q *InProcessQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Start is a no-op: in-process jobs run as they arrive.
func (q *InProcessQueue) Start(_ context.Context) error { return nil }

// Stop waits for in-flight jobs to finish or the context to expire. New
// enqueues are rejected once stopping begins.
func (q *InProcessQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
