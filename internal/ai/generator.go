package ai

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mitrdesk/mitr/internal/retry"
	"github.com/mitrdesk/mitr/internal/store"
)

// TextGenerator is a single-prompt text generation collaborator. *Connector
// satisfies it; tests substitute fakes.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// DefaultContextWindow is how many prior messages feed the prompt.
const DefaultContextWindow = 5

// DefaultGenerateTimeout bounds a single LLM call. On expiry the fallback
// path runs instead.
const DefaultGenerateTimeout = 8 * time.Second

// Reply is the outcome of one response generation.
type Reply struct {
	Text     string
	Fallback bool // true when the deterministic fallback produced the text
}

// Generator produces AI replies for conversations. A nil model means the
// collaborator is unconfigured and every reply takes the fallback path.
type Generator struct {
	store         store.ConversationStore
	model         TextGenerator
	rules         []FallbackRule
	timeout       time.Duration
	contextWindow int
	retryConfig   retry.Config
	rng           *rand.Rand
}

func NewGenerator(cs store.ConversationStore, model TextGenerator) *Generator {
	return &Generator{
		store:         cs,
		model:         model,
		rules:         DefaultFallbackRules,
		timeout:       DefaultGenerateTimeout,
		contextWindow: DefaultContextWindow,
		retryConfig:   retry.LLMConfig(),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithTimeout overrides the LLM call timeout.
func (g *Generator) WithTimeout(d time.Duration) *Generator {
	g.timeout = d
	return g
}

// WithContextWindow overrides the prior-message window size.
func (g *Generator) WithContextWindow(n int) *Generator {
	g.contextWindow = n
	return g
}

// WithRetryConfig overrides how transient model failures are retried.
func (g *Generator) WithRetryConfig(c retry.Config) *Generator {
	g.retryConfig = c
	return g
}

// GenerateReply builds the prompt for a conversation's latest customer
// message and asks the model for a reply. Any failure (unconfigured model,
// timeout, transport error, empty completion) degrades to the deterministic
// fallback; the customer always gets a non-empty reply.
func (g *Generator) GenerateReply(ctx context.Context, conv *store.Conversation, message string) Reply {
	if g.model == nil {
		log.Warn().Str("conversation_id", conv.ID).
			Msg("AI collaborator not configured, using fallback response")
		return Reply{Text: FallbackReply(message, g.rules, g.rng), Fallback: true}
	}

	prompt, err := g.buildPrompt(ctx, conv, message)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).
			Msg("failed to build prompt, using fallback response")
		return Reply{Text: FallbackReply(message, g.rules, g.rng), Fallback: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var text string
	result := retry.Do(callCtx, g.retryConfig, func() error {
		var genErr error
		text, genErr = g.model.Generate(callCtx, prompt)
		return genErr
	})
	if !result.Success || strings.TrimSpace(text) == "" {
		log.Error().Err(result.LastError).Str("conversation_id", conv.ID).
			Int("attempts", result.Attempts).
			Msg("AI generation failed, using fallback response")
		return Reply{Text: FallbackReply(message, g.rules, g.rng), Fallback: true}
	}

	return Reply{Text: strings.TrimSpace(text)}
}

// buildPrompt serializes the recent message window into the deterministic
// system prompt. The word budget is advisory to the model; replies are never
// truncated after the fact.
func (g *Generator) buildPrompt(ctx context.Context, conv *store.Conversation, message string) (string, error) {
	recent, err := g.store.RecentMessages(ctx, conv.ID, g.contextWindow)
	if err != nil {
		return "", fmt.Errorf("failed to load conversation context: %w", err)
	}

	var history strings.Builder
	for _, m := range recent {
		role := "Assistant"
		if m.Sender == store.SenderCustomer {
			role = "Customer"
		}
		fmt.Fprintf(&history, "%s: %s\n", role, m.Content)
	}

	name := conv.CustomerName
	if name == "" {
		name = "Customer"
	}

	return fmt.Sprintf(`You are a helpful customer support assistant. Be professional, concise, and helpful.

Channel: %s
Customer: %s

Previous conversation:
%s
Current customer message: %s

Respond as the assistant (keep response under 200 words):`,
		conv.Channel, name, history.String(), message), nil
}

// Summarize produces a short summary of a whole conversation for the
// dashboard. Falls back to a deterministic synopsis when the model is
// unavailable.
func (g *Generator) Summarize(ctx context.Context, conversationID string) (string, error) {
	conv, err := g.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}

	messages, err := g.store.ListMessages(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "No conversation data available for summary.", nil
	}

	if g.model == nil {
		return fmt.Sprintf("Conversation summary: Customer %s contacted via %s. %d messages exchanged. Status: %s",
			conv.CustomerName, conv.Channel, len(messages), conv.Status), nil
	}

	var history strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&history, "%s: %s\n", m.Sender, m.Content)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.model.Generate(callCtx, fmt.Sprintf(`Summarize this customer support conversation in 2-3 sentences:

%s
Summary:`, history.String()))
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("summary generation failed")
		return fmt.Sprintf("Conversation summary: Customer %s contacted via %s. %d messages exchanged. Status: %s",
			conv.CustomerName, conv.Channel, len(messages), conv.Status), nil
	}

	return strings.TrimSpace(text), nil
}
