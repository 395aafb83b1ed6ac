package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mitrdesk/mitr/internal/store"
)

// InstagramConfig configures the Instagram Messaging API adapter.
type InstagramConfig struct {
	AccessToken   string `koanf:"access_token"`
	VerifyToken   string `koanf:"verify_token"`
	WebhookSecret string `koanf:"webhook_secret"`
	GraphBaseURL  string `koanf:"graph_base_url"`
}

// InstagramAdapter speaks the Instagram Messaging API (Meta Graph).
type InstagramAdapter struct {
	config InstagramConfig
	client *http.Client
}

func NewInstagramAdapter(config InstagramConfig) *InstagramAdapter {
	if config.GraphBaseURL == "" {
		config.GraphBaseURL = "https://graph.facebook.com/v18.0"
	}
	return &InstagramAdapter{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *InstagramAdapter) Channel() store.Channel { return store.ChannelInstagram }

func (a *InstagramAdapter) VerifyToken() string { return a.config.VerifyToken }

func (a *InstagramAdapter) VerifyInbound(rawBody []byte, signatureHeader string) bool {
	return verifySHA256Signature(rawBody, signatureHeader, a.config.WebhookSecret)
}

type instagramWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Timestamp int64 `json:"timestamp"` // epoch milliseconds
			Message   struct {
				MID  string `json:"mid"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

func (a *InstagramAdapter) Normalize(rawPayload []byte) (Inbound, bool) {
	var payload instagramWebhook
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		log.Warn().Err(err).Msg("instagram: ignoring unparseable webhook payload")
		return Inbound{}, false
	}

	if payload.Object != "instagram" {
		return Inbound{}, false
	}

	for _, entry := range payload.Entry {
		for _, messaging := range entry.Messaging {
			if messaging.Sender.ID == "" {
				continue
			}

			var ts time.Time
			if messaging.Timestamp > 0 {
				ts = time.UnixMilli(messaging.Timestamp).UTC()
			}

			return Inbound{
				Channel:            store.ChannelInstagram,
				CustomerExternalID: messaging.Sender.ID,
				CustomerName:       messaging.Sender.ID,
				Text:               messaging.Message.Text,
				PlatformTimestamp:  ts,
				PlatformMessageID:  messaging.Message.MID,
			}, true
		}
	}

	return Inbound{}, false
}

func (a *InstagramAdapter) Deliver(ctx context.Context, conv *store.Conversation, text string) bool {
	if conv.Channel != store.ChannelInstagram {
		return false
	}

	body := map[string]any{
		"recipient": map[string]string{"id": conv.CustomerExternalID},
		"message":   map[string]string{"text": text},
	}

	ok, status := postJSON(ctx, a.client, a.config.GraphBaseURL+"/me/messages", a.config.AccessToken, body)
	if !ok {
		log.Error().Int("status", status).Str("conversation_id", conv.ID).
			Msg("instagram: message delivery failed")
	}
	return ok
}
