/*
Package channels translates between external messaging platforms and the
pipeline's canonical message shape.

Each adapter owns three boundaries: webhook authenticity (HMAC signature
verification where the platform signs payloads), inbound normalization
(platform JSON -> Inbound, never erroring on malformed payloads), and
outbound delivery (send-message API call, reduced to a success boolean).
*/
package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mitrdesk/mitr/internal/store"
)

// Inbound is the canonical shape of a customer message after normalization.
type Inbound struct {
	Channel            store.Channel
	CustomerExternalID string
	CustomerName       string
	Text               string
	PlatformTimestamp  time.Time // zero when the platform reported none
	PlatformMessageID  string
}

// Adapter binds one external platform to the pipeline.
type Adapter interface {
	Channel() store.Channel

	// VerifyInbound recomputes the payload signature and compares it to the
	// header. Returns false on any mismatch or malformed header; never errors.
	VerifyInbound(rawBody []byte, signatureHeader string) bool

	// VerifyToken is the shared secret echoed back during the platform's
	// GET subscription handshake.
	VerifyToken() string

	// Normalize maps a raw webhook payload to Inbound. ok is false when the
	// payload carries no customer message (delivery receipts, status pings).
	// Missing optional fields become empty strings, never an error.
	Normalize(rawPayload []byte) (in Inbound, ok bool)

	// Deliver sends text to the customer behind the conversation. Any
	// non-2xx response or transport error is reduced to false.
	Deliver(ctx context.Context, conv *store.Conversation, text string) bool
}

// Registry holds the configured adapters keyed by channel.
type Registry struct {
	adapters map[store.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[store.Channel]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

func (r *Registry) Get(ch store.Channel) (Adapter, error) {
	a, ok := r.adapters[ch]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %s", ch)
	}
	return a, nil
}

// verifySHA256Signature checks a Meta-style "sha256=<hex>" signature header
// against an HMAC-SHA256 of the raw body.
func verifySHA256Signature(body []byte, signatureHeader, secret string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}
