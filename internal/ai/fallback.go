package ai

import (
	"math/rand"
	"strings"
)

// FallbackRule maps customer-message keywords to a canned reply. Rules are
// evaluated in order; the first match wins.
type FallbackRule struct {
	Keywords []string
	Reply    string
}

// DefaultFallbackRules is the stock rule table used when the AI collaborator
// is unconfigured or fails.
var DefaultFallbackRules = []FallbackRule{
	{
		Keywords: []string{"order", "purchase"},
		Reply:    "I can help you with your order inquiry. Could you please provide your order number?",
	},
	{
		Keywords: []string{"refund", "return"},
		Reply:    "I understand you'd like information about a refund. I'm connecting you with our billing team.",
	},
	{
		Keywords: []string{"technical", "bug", "error"},
		Reply:    "I see you're experiencing a technical issue. Let me connect you with our technical support team.",
	},
}

// fallbackPool is the last-resort response set when no rule matches.
var fallbackPool = []string{
	"Thank you for your message. I'm here to help you with your inquiry.",
	"I understand your concern. Let me assist you with that.",
	"Thanks for reaching out. I'll do my best to help resolve your issue.",
	"I appreciate you contacting us. How can I help you today?",
	"Thank you for your patience. I'm working on your request.",
}

// FallbackReply picks a deterministic reply for the given customer message:
// the first rule whose keyword appears in the message, else a pick from the
// fixed pool. rng may be nil, in which case the first pool entry is used
// (tests rely on that determinism).
func FallbackReply(message string, rules []FallbackRule, rng *rand.Rand) string {
	if rules == nil {
		rules = DefaultFallbackRules
	}

	lower := strings.ToLower(message)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Reply
			}
		}
	}

	if rng == nil {
		return fallbackPool[0]
	}
	return fallbackPool[rng.Intn(len(fallbackPool))]
}
