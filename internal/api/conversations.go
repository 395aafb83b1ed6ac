package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/mitrdesk/mitr/internal/store"
)

type conversationDetail struct {
	Conversation *store.Conversation `json:"conversation"`
	Messages     []*store.Message    `json:"messages"`
}

func (s *Server) listConversationsHandler(c echo.Context) error {
	convs, err := s.store.ListConversations(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list conversations"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (s *Server) getConversationHandler(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
	}

	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load messages"})
	}

	return c.JSON(http.StatusOK, conversationDetail{Conversation: conv, Messages: messages})
}

func (s *Server) listMessagesHandler(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.store.GetConversation(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
	}

	messages, err := s.store.ListMessages(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load messages"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) conversationSummaryHandler(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.store.GetConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
	}

	summary, err := s.generator.Summarize(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to summarize conversation"})
	}

	return c.JSON(http.StatusOK, map[string]string{"summary": summary})
}

type agentMessageRequest struct {
	Content string `json:"content"`
}

// postAgentMessageHandler appends an agent reply to a conversation and
// delivers it to the customer. Replying to an OPEN conversation is a
// takeover: the conversation moves to HUMAN so the AI stops answering.
func (s *Server) postAgentMessageHandler(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req agentMessageRequest
	if err := c.Bind(&req); err != nil || req.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
	}

	if conv.Status == store.StatusResolved {
		return c.JSON(http.StatusConflict, map[string]string{"error": "conversation is resolved"})
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         store.SenderHuman,
		Content:        req.Content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store message"})
	}

	if conv.Status == store.StatusOpen {
		if err := s.store.UpdateConversationStatus(ctx, conv.ID, store.StatusHuman); err != nil {
			log.Error().Err(err).Str("conversation_id", conv.ID).Msg("Failed to mark agent takeover")
		} else if s.hub != nil {
			s.hub.ToConversation(conv.ID, "escalated", map[string]string{
				"conversationId": conv.ID,
				"status":         string(store.StatusHuman),
			})
		}
	}

	delivered := false
	if adapter, err := s.channels.Get(conv.Channel); err == nil {
		delivered = adapter.Deliver(ctx, conv, req.Content)
	}
	if err := s.store.SetMessageDelivered(ctx, msg.ID, delivered); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to record delivery outcome")
	}
	msg.Delivered = delivered

	if s.hub != nil {
		s.hub.ToConversation(conv.ID, "new_message", msg)
	}

	return c.JSON(http.StatusCreated, msg)
}

type statusUpdateRequest struct {
	Status store.Status `json:"status"`
}

func (s *Server) updateStatusHandler(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req statusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	switch req.Status {
	case store.StatusOpen, store.StatusHuman, store.StatusResolved:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be OPEN, HUMAN or RESOLVED"})
	}

	if err := s.store.UpdateConversationStatus(ctx, id, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update status"})
	}

	if s.hub != nil {
		s.hub.ToConversation(id, "status_changed", map[string]string{
			"conversationId": id,
			"status":         string(req.Status),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}

// testAIConnectionHandler probes the configured model with a trivial prompt.
func (s *Server) testAIConnectionHandler(c echo.Context) error {
	if s.connector == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"configured": false,
			"ok":         false,
			"mode":       "fallback",
		})
	}

	ok := s.connector.TestConnection(c.Request().Context())
	mode := "ai"
	if !ok {
		mode = "fallback"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"configured": true,
		"ok":         ok,
		"provider":   string(s.connector.Provider()),
		"mode":       mode,
	})
}
