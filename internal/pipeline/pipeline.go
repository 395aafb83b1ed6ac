/*
Package pipeline wires the incoming-message flow: webhook ingestion ->
conversation resolution -> escalation decision -> AI or human path ->
outbound delivery -> realtime fan-out.

The Pipeline struct is the explicit dependency context: store, classifier,
generator, channel adapters and broadcaster are constructed once at startup
and passed in, so workers are testable with fakes and there is no
init-order coupling. Handlers are implemented once here and shared by both
queue backends.
*/
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mitrdesk/mitr/internal/ai"
	"github.com/mitrdesk/mitr/internal/channels"
	"github.com/mitrdesk/mitr/internal/escalation"
	"github.com/mitrdesk/mitr/internal/jobqueue"
	"github.com/mitrdesk/mitr/internal/realtime"
	"github.com/mitrdesk/mitr/internal/retry"
	"github.com/mitrdesk/mitr/internal/store"
)

// Pipeline implements jobqueue.Handlers.
type Pipeline struct {
	store       store.ConversationStore
	classifier  *escalation.Classifier
	generator   *ai.Generator
	channels    *channels.Registry
	broadcaster realtime.Broadcaster

	queue jobqueue.Queue // bound after construction; queues need handlers first
	now   func() time.Time
}

var _ jobqueue.Handlers = (*Pipeline)(nil)

func New(
	cs store.ConversationStore,
	classifier *escalation.Classifier,
	generator *ai.Generator,
	registry *channels.Registry,
	broadcaster realtime.Broadcaster,
) *Pipeline {
	if broadcaster == nil {
		broadcaster = realtime.NoopBroadcaster{}
	}
	return &Pipeline{
		store:       cs,
		classifier:  classifier,
		generator:   generator,
		channels:    registry,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// BindQueue attaches the queue used for job chaining. Must be called once
// before any job runs.
func (p *Pipeline) BindQueue(q jobqueue.Queue) {
	p.queue = q
}

// SetClock overrides the time source. Test hook.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// EnqueueInbound is the producer entry point used by webhook routes: it
// turns a normalized inbound message into an ingest job and returns as soon
// as the job is accepted.
func (p *Pipeline) EnqueueInbound(ctx context.Context, in channels.Inbound) (string, error) {
	return p.queue.Enqueue(ctx, jobqueue.IngestArgs{
		Channel:            in.Channel,
		CustomerExternalID: in.CustomerExternalID,
		CustomerName:       in.CustomerName,
		Text:               in.Text,
		PlatformTimestamp:  in.PlatformTimestamp,
		PlatformMessageID:  in.PlatformMessageID,
	})
}

// HandleIngest resolves the conversation for an inbound message, appends the
// customer message and chains a respond job. Store failures surface to the
// queue's policy; nothing is half-committed because the message append only
// happens after the conversation exists and is itself transactional.
func (p *Pipeline) HandleIngest(ctx context.Context, args jobqueue.IngestArgs) error {
	name := args.CustomerName
	if name == "" {
		name = args.CustomerExternalID
	}

	conv, created, err := p.store.FindOrCreateConversation(ctx, args.Channel, args.CustomerExternalID, name)
	if err != nil {
		return fmt.Errorf("conversation lookup failed: %w", err)
	}

	createdAt := args.PlatformTimestamp
	if createdAt.IsZero() {
		createdAt = p.now()
	}

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         store.SenderCustomer,
		Content:        args.Text,
		CreatedAt:      createdAt,
	}
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("message append failed: %w", err)
	}

	if created {
		p.broadcaster.ToAll("new_conversation", conv)
	}
	p.broadcaster.ToConversation(conv.ID, "new_message", msg)

	if _, err := p.queue.Enqueue(ctx, jobqueue.RespondArgs{
		ConversationID: conv.ID,
		Text:           args.Text,
		Channel:        args.Channel,
	}); err != nil {
		return fmt.Errorf("failed to chain respond job: %w", err)
	}

	log.Info().Str("conversation_id", conv.ID).Str("channel", string(args.Channel)).
		Bool("new_conversation", created).Msg("inbound message ingested")
	return nil
}

// HandleRespond runs the escalation check and, when the conversation stays
// AI-handled, generates and delivers a reply. The realtime event fires after
// the reply is persisted and regardless of delivery outcome; delivery is
// surfaced separately through the message's delivered flag.
func (p *Pipeline) HandleRespond(ctx context.Context, args jobqueue.RespondArgs) error {
	conv, err := p.store.GetConversation(ctx, args.ConversationID)
	if err != nil {
		return fmt.Errorf("conversation load failed: %w", err)
	}

	// Escalated conversations belong to humans; the AI stays silent.
	if conv.Status == store.StatusHuman {
		log.Debug().Str("conversation_id", conv.ID).Msg("conversation is human-handled, skipping AI turn")
		return nil
	}

	if p.classifier.ShouldEscalate(ctx, conv.ID, args.Text) {
		return p.escalate(ctx, conv)
	}

	reply := p.generator.GenerateReply(ctx, conv, args.Text)

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         store.SenderAI,
		Content:        reply.Text,
		CreatedAt:      p.now(),
	}
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist AI reply: %w", err)
	}

	delivered := p.deliver(ctx, conv, reply.Text)
	msg.Delivered = delivered
	if err := p.store.SetMessageDelivered(ctx, msg.ID, delivered); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to record delivery status")
	}

	// The dashboard must show what was generated even when the outbound
	// send failed.
	p.broadcaster.ToConversation(conv.ID, "new_message", msg)

	log.Info().Str("conversation_id", conv.ID).Bool("fallback", reply.Fallback).
		Bool("delivered", delivered).Msg("AI reply generated")
	return nil
}

func (p *Pipeline) escalate(ctx context.Context, conv *store.Conversation) error {
	if err := p.store.UpdateConversationStatus(ctx, conv.ID, store.StatusHuman); err != nil {
		return fmt.Errorf("failed to escalate conversation: %w", err)
	}

	p.broadcaster.ToConversation(conv.ID, "escalated", map[string]any{
		"conversationId": conv.ID,
		"status":         store.StatusHuman,
	})

	if _, err := p.queue.Enqueue(ctx, jobqueue.NotifyArgs{
		Event:          "escalation",
		ConversationID: conv.ID,
		Title:          "Conversation escalated",
		Body:           fmt.Sprintf("Customer %s on %s needs a human agent", conv.CustomerName, conv.Channel),
	}); err != nil {
		// The status change is already durable; a lost notification is
		// logged, not fatal.
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to enqueue escalation notification")
	}

	log.Info().Str("conversation_id", conv.ID).Msg("conversation escalated to human")
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, conv *store.Conversation, text string) bool {
	adapter, err := p.channels.Get(conv.Channel)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("no adapter for outbound delivery")
		return false
	}

	// Platform send APIs flake; retry briefly before recording a failure.
	result := retry.Do(ctx, retry.DeliveryConfig(), func() error {
		if !adapter.Deliver(ctx, conv, text) {
			return fmt.Errorf("delivery to %s failed", conv.Channel)
		}
		return nil
	})
	return result.Success
}

// HandleNotify broadcasts a notification to all connected agents.
func (p *Pipeline) HandleNotify(ctx context.Context, args jobqueue.NotifyArgs) error {
	p.broadcaster.ToAll("notification", map[string]any{
		"event":          args.Event,
		"conversationId": args.ConversationID,
		"title":          args.Title,
		"body":           args.Body,
	})
	return nil
}
