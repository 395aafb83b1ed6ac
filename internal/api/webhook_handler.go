package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/mitrdesk/mitr/internal/store"
)

// channelFromParam maps the webhook path segment to a channel.
func channelFromParam(p string) (store.Channel, bool) {
	switch p {
	case "whatsapp":
		return store.ChannelWhatsApp, true
	case "instagram":
		return store.ChannelInstagram, true
	case "website":
		return store.ChannelWebsite, true
	}
	return "", false
}

// webhookChallengeHandler answers the Meta subscription handshake:
// echo hub.challenge with 200 when the verify token matches, 403 otherwise.
func (s *Server) webhookChallengeHandler(c echo.Context) error {
	ch, ok := channelFromParam(c.Param("channel"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown channel"})
	}

	adapter, err := s.channels.Get(ch)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "channel not configured"})
	}

	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "" || token == "" {
		return c.String(http.StatusBadRequest, "missing hub.mode or hub.verify_token")
	}

	expected := adapter.VerifyToken()
	if mode == "subscribe" && expected != "" && token == expected {
		log.Info().Str("channel", string(ch)).Msg("Webhook subscription verified")
		return c.String(http.StatusOK, challenge)
	}

	log.Warn().Str("channel", string(ch)).Msg("Webhook verification failed")
	return c.String(http.StatusForbidden, "verification failed")
}

// webhookEventHandler receives platform message events, verifies their
// signature, and enqueues an ingest job. It acknowledges fast; all real
// work happens in the job queue.
func (s *Server) webhookEventHandler(c echo.Context) error {
	ch, ok := channelFromParam(c.Param("channel"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown channel"})
	}

	adapter, err := s.channels.Get(ch)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "channel not configured"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}

	signature := c.Request().Header.Get("X-Hub-Signature-256")
	if !adapter.VerifyInbound(body, signature) {
		log.Warn().Str("channel", string(ch)).Msg("Webhook signature verification failed")
		return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid signature"})
	}

	inbound, ok := adapter.Normalize(body)
	if !ok {
		// Status pings and delivery receipts are acknowledged, not processed.
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	jobID, err := s.pipeline.EnqueueInbound(c.Request().Context(), inbound)
	if err != nil {
		log.Error().Err(err).Str("channel", string(ch)).Msg("Failed to enqueue inbound message")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to enqueue"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "queued", "job_id": jobID})
}

// voiceEventHandler acknowledges voice platform callbacks. Transcription
// and call handling are not implemented yet; events are logged and dropped.
func (s *Server) voiceEventHandler(c echo.Context) error {
	body, _ := io.ReadAll(c.Request().Body)
	log.Info().Int("bytes", len(body)).Msg("Voice event received")
	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) webhookHealthHandler(c echo.Context) error {
	configured := []string{}
	for _, ch := range []store.Channel{store.ChannelWhatsApp, store.ChannelInstagram, store.ChannelWebsite} {
		if _, err := s.channels.Get(ch); err == nil {
			configured = append(configured, string(ch))
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"channels": configured,
	})
}
