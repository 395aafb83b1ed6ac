/*
Package jobqueue schedules the pipeline's deferred work.

Producers see one interface; two backends implement it. The River backend
persists jobs in Postgres, retries failed handlers with backoff and survives
process restarts (at-least-once). The in-process backend executes jobs
immediately on a goroutine and loses them on failure or crash with only a
log line (at-most-once). That asymmetry is deliberate; pick a backend with
queue.driver in the config.

For retry policy and worker-count tuning see queue_config.go.
*/
package jobqueue

import (
	"context"
	"time"

	"github.com/mitrdesk/mitr/internal/store"
)

// Job kinds. Each kind has exactly one typed payload struct below, so
// handler dispatch is exhaustive and payload shape mismatches fail at
// construction, not at field access.
const (
	KindIngest  = "ingest_message"
	KindRespond = "generate_response"
	KindNotify  = "send_notification"
)

// JobArgs is the tagged union of job payloads.
type JobArgs interface {
	Kind() string
}

// IngestArgs carries one normalized inbound customer message.
type IngestArgs struct {
	Channel            store.Channel `json:"channel"`
	CustomerExternalID string        `json:"customer_external_id"`
	CustomerName       string        `json:"customer_name"`
	Text               string        `json:"text"`
	PlatformTimestamp  time.Time     `json:"platform_timestamp"` // zero when the platform reported none
	PlatformMessageID  string        `json:"platform_message_id"`
}

func (IngestArgs) Kind() string { return KindIngest }

// RespondArgs asks for an AI-or-escalation turn on a conversation.
type RespondArgs struct {
	ConversationID string        `json:"conversation_id"`
	Text           string        `json:"text"`
	Channel        store.Channel `json:"channel"`
}

func (RespondArgs) Kind() string { return KindRespond }

// NotifyArgs fans a notification out to connected agents.
type NotifyArgs struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

func (NotifyArgs) Kind() string { return KindNotify }

// Handlers is the single implementation of job processing, shared by both
// backends. Handler errors surface to the backend's failure policy (River
// retries, in-process drops); they never crash the process.
type Handlers interface {
	HandleIngest(ctx context.Context, args IngestArgs) error
	HandleRespond(ctx context.Context, args RespondArgs) error
	HandleNotify(ctx context.Context, args NotifyArgs) error
}

// Queue accepts jobs and runs workers. Enqueue is synchronous and never
// blocks on job completion.
type Queue interface {
	Enqueue(ctx context.Context, args JobArgs) (jobID string, err error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
