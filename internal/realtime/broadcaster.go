// Package realtime pushes conversation events to connected dashboard
// clients over websockets.
package realtime

// Broadcaster is a fire-and-forget notification sink. The pipeline calls it
// only after state is durably committed; a broadcast with no connected
// clients (or a failed one) never affects pipeline correctness.
type Broadcaster interface {
	// ToConversation delivers an event to clients watching one conversation.
	ToConversation(conversationID, event string, payload any)
	// ToAll delivers an event to every connected client.
	ToAll(event string, payload any)
}

// NoopBroadcaster discards all events. Used when no realtime layer is wired
// and as a test default.
type NoopBroadcaster struct{}

func (NoopBroadcaster) ToConversation(string, string, any) {}
func (NoopBroadcaster) ToAll(string, any)                  {}
