package channels

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mitrdesk/mitr/internal/store"
)

// WebsiteAdapter handles the embedded website chat widget. The widget posts
// to a same-origin endpoint, so there is no signature to verify, and its
// replies travel over the realtime hub rather than a platform send API.
type WebsiteAdapter struct{}

func NewWebsiteAdapter() *WebsiteAdapter { return &WebsiteAdapter{} }

func (a *WebsiteAdapter) Channel() store.Channel { return store.ChannelWebsite }

// VerifyToken returns "" because the website channel has no subscription
// handshake.
func (a *WebsiteAdapter) VerifyToken() string { return "" }

// VerifyInbound always passes: the widget endpoint is same-origin and sits
// behind the server's own CORS policy.
func (a *WebsiteAdapter) VerifyInbound(_ []byte, _ string) bool { return true }

type websiteMessage struct {
	CustomerID string `json:"customerId"`
	Name       string `json:"name"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"` // RFC 3339, optional
	MessageID  string `json:"messageId"`
}

func (a *WebsiteAdapter) Normalize(rawPayload []byte) (Inbound, bool) {
	var payload websiteMessage
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		log.Warn().Err(err).Msg("website: ignoring unparseable chat payload")
		return Inbound{}, false
	}

	if payload.CustomerID == "" {
		return Inbound{}, false
	}

	name := payload.Name
	if name == "" {
		name = payload.CustomerID
	}

	var ts time.Time
	if payload.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	return Inbound{
		Channel:            store.ChannelWebsite,
		CustomerExternalID: payload.CustomerID,
		CustomerName:       name,
		Text:               payload.Text,
		PlatformTimestamp:  ts,
		PlatformMessageID:  payload.MessageID,
	}, true
}

// Deliver is a no-op success: website replies reach the widget through the
// realtime "new_message" fan-out the response worker emits after persisting.
func (a *WebsiteAdapter) Deliver(_ context.Context, _ *store.Conversation, _ string) bool {
	return true
}
