package store

import "time"

// Channel identifies the messaging surface a conversation lives on.
type Channel string

const (
	ChannelWhatsApp  Channel = "WHATSAPP"
	ChannelInstagram Channel = "INSTAGRAM"
	ChannelWebsite   Channel = "WEBSITE"
	ChannelVoiceCall Channel = "VOICE_CALL"
)

// Status is the lifecycle state of a conversation. OPEN conversations are
// AI-handled, HUMAN conversations have been escalated, RESOLVED ones are
// closed and no longer addressable by inbound messages.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusHuman    Status = "HUMAN"
	StatusResolved Status = "RESOLVED"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderCustomer Sender = "CUSTOMER"
	SenderAI       Sender = "AI"
	SenderHuman    Sender = "HUMAN"
)

// Conversation is the ongoing thread with one customer on one channel.
// At most one OPEN or HUMAN conversation exists per (channel, customer)
// pair; that row is the target for new inbound messages.
type Conversation struct {
	ID                 string    `json:"id"`
	Channel            Channel   `json:"channel"`
	CustomerExternalID string    `json:"customerExternalId"`
	CustomerName       string    `json:"customerName"`
	Status             Status    `json:"status"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Message belongs to exactly one conversation. CreatedAt carries the
// platform-reported send time when available, otherwise ingestion time;
// reading messages back ordered by CreatedAt is the only context the
// response generator may use.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	Delivered      bool      `json:"delivered"`
	CreatedAt      time.Time `json:"createdAt"`
}

// User is a dashboard agent account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}
