package jobqueue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"
)

// RiverQueue is the durable backend: jobs live in Postgres, survive process
// restarts, and are retried with backoff on handler failure. The broker's
// lease semantics guarantee no two workers run the same job concurrently.
type RiverQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewRiverQueue builds the durable queue on an existing pgx pool (shared
// with the Postgres store).
func NewRiverQueue(pool *pgxpool.Pool, handlers Handlers, config *QueueConfig) (*RiverQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &ingestWorker{handlers: handlers, timeout: config.JobTimeout})
	river.AddWorker(workers, &respondWorker{handlers: handlers, timeout: config.JobTimeout})
	river.AddWorker(workers, &notifyWorker{handlers: handlers, timeout: config.JobTimeout})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		RetryPolicy: &backoffRetryPolicy{policy: config.RetryPolicy},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &RiverQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

func (q *RiverQueue) Enqueue(ctx context.Context, args JobArgs) (string, error) {
	result, err := q.client.Insert(ctx, args, q.insertOpts())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", args.Kind(), err)
	}
	return strconv.FormatInt(result.Job.ID, 10), nil
}

// insertOpts caps broker redelivery at the configured attempt budget.
func (q *RiverQueue) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		MaxAttempts: q.config.MaxRetries,
	}
}

func (q *RiverQueue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

func (q *RiverQueue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// backoffRetryPolicy maps our RetryPolicy onto River's retry scheduling.
type backoffRetryPolicy struct {
	policy RetryPolicy
}

func (p *backoffRetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().Add(p.retryDelay(job.Attempt))
}

func (p *backoffRetryPolicy) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.policy.InitialInterval) * math.Pow(p.policy.Multiplier, float64(attempt-1))
	if delay > float64(p.policy.MaxInterval) {
		delay = float64(p.policy.MaxInterval)
	}
	return time.Duration(delay)
}

// Worker wrappers. Each one applies the job timeout and logs failures with
// job kind and id before handing the error back to River for retry.

type ingestWorker struct {
	river.WorkerDefaults[IngestArgs]
	handlers Handlers
	timeout  time.Duration
}

func (w *ingestWorker) Work(ctx context.Context, job *river.Job[IngestArgs]) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.handlers.HandleIngest(ctx, job.Args); err != nil {
		log.Error().Err(err).Str("kind", KindIngest).Int64("job_id", job.ID).
			Int("attempt", job.Attempt).Msg("job failed")
		return err
	}
	return nil
}

type respondWorker struct {
	river.WorkerDefaults[RespondArgs]
	handlers Handlers
	timeout  time.Duration
}

func (w *respondWorker) Work(ctx context.Context, job *river.Job[RespondArgs]) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.handlers.HandleRespond(ctx, job.Args); err != nil {
		log.Error().Err(err).Str("kind", KindRespond).Int64("job_id", job.ID).
			Int("attempt", job.Attempt).Msg("job failed")
		return err
	}
	return nil
}

type notifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	handlers Handlers
	timeout  time.Duration
}

func (w *notifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.handlers.HandleNotify(ctx, job.Args); err != nil {
		log.Error().Err(err).Str("kind", KindNotify).Int64("job_id", job.ID).
			Int("attempt", job.Attempt).Msg("job failed")
		return err
	}
	return nil
}
