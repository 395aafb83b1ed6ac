package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mitrdesk/mitr/internal/store"
)

// WhatsAppConfig configures the WhatsApp Business Cloud API adapter.
type WhatsAppConfig struct {
	PhoneNumberID string `koanf:"phone_number_id"`
	AccessToken   string `koanf:"access_token"`
	VerifyToken   string `koanf:"verify_token"`
	WebhookSecret string `koanf:"webhook_secret"`
	// GraphBaseURL defaults to the production Graph API host. Overridable
	// for tests.
	GraphBaseURL string `koanf:"graph_base_url"`
}

// WhatsAppAdapter speaks the WhatsApp Business Cloud API (Meta Graph).
type WhatsAppAdapter struct {
	config WhatsAppConfig
	client *http.Client
}

func NewWhatsAppAdapter(config WhatsAppConfig) *WhatsAppAdapter {
	if config.GraphBaseURL == "" {
		config.GraphBaseURL = "https://graph.facebook.com/v18.0"
	}
	return &WhatsAppAdapter{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *WhatsAppAdapter) Channel() store.Channel { return store.ChannelWhatsApp }

func (a *WhatsAppAdapter) VerifyToken() string { return a.config.VerifyToken }

func (a *WhatsAppAdapter) VerifyInbound(rawBody []byte, signatureHeader string) bool {
	return verifySHA256Signature(rawBody, signatureHeader, a.config.WebhookSecret)
}

// Webhook payload structures, trimmed to the fields the pipeline reads.
type whatsAppWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"` // epoch seconds as string
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (a *WhatsAppAdapter) Normalize(rawPayload []byte) (Inbound, bool) {
	var payload whatsAppWebhook
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		log.Warn().Err(err).Msg("whatsapp: ignoring unparseable webhook payload")
		return Inbound{}, false
	}

	if payload.Object != "whatsapp_business_account" {
		return Inbound{}, false
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue // status/receipt notifications carry no messages
			}
			msg := change.Value.Messages[0]

			name := msg.From
			if len(change.Value.Contacts) > 0 && change.Value.Contacts[0].Profile.Name != "" {
				name = change.Value.Contacts[0].Profile.Name
			}

			return Inbound{
				Channel:            store.ChannelWhatsApp,
				CustomerExternalID: msg.From,
				CustomerName:       name,
				Text:               msg.Text.Body,
				PlatformTimestamp:  parseEpochSeconds(msg.Timestamp),
				PlatformMessageID:  msg.ID,
			}, true
		}
	}

	return Inbound{}, false
}

func (a *WhatsAppAdapter) Deliver(ctx context.Context, conv *store.Conversation, text string) bool {
	if conv.Channel != store.ChannelWhatsApp {
		return false
	}

	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                conv.CustomerExternalID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}

	url := fmt.Sprintf("%s/%s/messages", a.config.GraphBaseURL, a.config.PhoneNumberID)
	ok, status := postJSON(ctx, a.client, url, a.config.AccessToken, body)
	if !ok {
		log.Error().Int("status", status).Str("conversation_id", conv.ID).
			Msg("whatsapp: message delivery failed")
	}
	return ok
}

// parseEpochSeconds converts WhatsApp's string epoch timestamp, returning
// the zero time on garbage so ingestion falls back to the arrival clock.
func parseEpochSeconds(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// postJSON performs a bearer-authenticated JSON POST and reduces the outcome
// to (2xx, status). Shared by the Meta-backed adapters.
func postJSON(ctx context.Context, client *http.Client, url, token string, body any) (bool, int) {
	payload, err := json.Marshal(body)
	if err != nil {
		return false, 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, 0
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("outbound platform request failed")
		return false, 0
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode
}
