// Package escalation decides when a customer message must be handed to a
// human agent.
package escalation

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultKeywords is the stock escalation trigger list. It is configuration,
// not logic: deployments extend or replace it via the [escalation] config
// section without a code change.
var DefaultKeywords = []string{
	"speak to human", "human agent", "manager", "supervisor",
	"complaint", "refund", "cancel", "billing issue",
	"not satisfied", "unhappy", "frustrated", "angry",
	"lawsuit",
}

// TextGenerator is the minimal slice of the AI collaborator the optional
// classifier needs.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Classifier applies the keyword rule, optionally refined by an AI yes/no
// check. The keyword rule is authoritative: the AI path can only run when
// configured, and any failure there falls back silently to the keyword
// verdict so escalation detection itself can never fail.
type Classifier struct {
	keywords  []string
	generator TextGenerator // nil unless use_ai is configured
}

func NewClassifier(keywords []string) *Classifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	return &Classifier{keywords: keywords}
}

// WithGenerator enables the AI-assisted check.
func (c *Classifier) WithGenerator(g TextGenerator) *Classifier {
	c.generator = g
	return c
}

// ShouldEscalate reports whether the message needs a human.
func (c *Classifier) ShouldEscalate(ctx context.Context, conversationID, message string) bool {
	byKeyword := c.matchesKeyword(message)

	if c.generator == nil {
		if byKeyword {
			log.Info().Str("conversation_id", conversationID).
				Msg("escalation triggered by keyword rule")
		}
		return byKeyword
	}

	verdict, err := c.classifyWithAI(ctx, message)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).
			Msg("AI escalation check failed, falling back to keyword rule")
		return byKeyword
	}

	if verdict != byKeyword {
		log.Debug().Str("conversation_id", conversationID).
			Bool("ai", verdict).Bool("keyword", byKeyword).
			Msg("AI and keyword escalation verdicts disagree, using AI verdict")
	}
	return verdict
}

func (c *Classifier) matchesKeyword(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

const classifyPrompt = `You are a customer support triage system. Answer with exactly one word: YES or NO.

Does the following customer message require escalation to a human agent (explicit request for a human, a complaint, a refund or cancellation demand, or strong frustration)?

Customer message: %s

Answer:`

func (c *Classifier) classifyWithAI(ctx context.Context, message string) (bool, error) {
	reply, err := c.generator.Generate(ctx, strings.Replace(classifyPrompt, "%s", message, 1))
	if err != nil {
		return false, err
	}

	answer := strings.ToUpper(strings.TrimSpace(reply))
	return strings.HasPrefix(answer, "YES"), nil
}
