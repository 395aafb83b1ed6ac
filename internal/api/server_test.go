package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mitrdesk/mitr/internal/ai"
	"github.com/mitrdesk/mitr/internal/channels"
	"github.com/mitrdesk/mitr/internal/escalation"
	"github.com/mitrdesk/mitr/internal/jobqueue"
	"github.com/mitrdesk/mitr/internal/pipeline"
	"github.com/mitrdesk/mitr/internal/realtime"
	"github.com/mitrdesk/mitr/internal/store"
)

type testEnv struct {
	server *Server
	store  *store.MemoryStore
	queue  *jobqueue.InProcessQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s := store.NewMemoryStore()
	registry := channels.NewRegistry(
		channels.NewWebsiteAdapter(),
		channels.NewWhatsAppAdapter(channels.WhatsAppConfig{
			PhoneNumberID: "123",
			AccessToken:   "tok",
			VerifyToken:   "verify-me",
			WebhookSecret: "hooksecret",
		}),
	)
	hub := realtime.NewHub()
	generator := ai.NewGenerator(s, nil)

	pipe := pipeline.New(s, escalation.NewClassifier(nil), generator, registry, hub)
	queue := jobqueue.NewInProcessQueue(pipe, nil)
	pipe.BindQueue(queue)

	srv := NewServer(ServerOptions{
		Port:      0,
		Store:     s,
		Users:     s,
		Pipeline:  pipe,
		Channels:  registry,
		Hub:       hub,
		Generator: generator,
		JWTSecret: "test-secret",
	})
	return &testEnv{server: srv, store: s, queue: queue}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, e.store.CreateUser(context.Background(), &store.User{
		Email:        "agent@example.com",
		PasswordHash: string(hash),
		Name:         "Agent",
		Role:         "agent",
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email": "agent@example.com", "password": "hunter2"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func signBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestWebhookChallenge(t *testing.T) {
	e := newTestEnv(t)

	// Correct token: echo the challenge verbatim.
	rec := e.do(httptest.NewRequest(http.MethodGet,
		"/api/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=challenge-42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "challenge-42", rec.Body.String())

	// Wrong token: 403.
	rec = e.do(httptest.NewRequest(http.MethodGet,
		"/api/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=x", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Wrong mode: 403.
	rec = e.do(httptest.NewRequest(http.MethodGet,
		"/api/webhooks/whatsapp?hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=x", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Missing params: 400.
	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/webhooks/whatsapp", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown channel: 404.
	rec = e.do(httptest.NewRequest(http.MethodGet,
		"/api/webhooks/telegram?hub.mode=subscribe&hub.verify_token=x&hub.challenge=x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookEvent_SignatureRequired(t *testing.T) {
	e := newTestEnv(t)
	body := `{"object": "whatsapp_business_account", "entry": []}`

	// No signature: rejected.
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/webhooks/whatsapp", strings.NewReader(body)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Bad signature: rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(body, "wrong-secret"))
	assert.Equal(t, http.StatusForbidden, e.do(req).Code)

	// Good signature on an event with no message: acknowledged, ignored.
	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(body, "hooksecret"))
	rec = e.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookEvent_MessageWithoutTextBodyQueued(t *testing.T) {
	e := newTestEnv(t)
	defer e.queue.Stop(context.Background())

	// A media message has no text object; it still queues with an empty
	// message body rather than being dropped.
	body := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"messages": [{"from": "1555", "id": "wamid.img", "timestamp": "1717243200", "type": "image"}]
		}}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(body, "hooksecret"))
	rec := e.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queued")

	require.Eventually(t, func() bool {
		convs, err := e.store.ListConversations(context.Background())
		if err != nil || len(convs) != 1 {
			return false
		}
		msgs, err := e.store.ListMessages(context.Background(), convs[0].ID)
		return err == nil && len(msgs) >= 1 && msgs[0].Content == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookEvent_WebsiteMessageQueued(t *testing.T) {
	e := newTestEnv(t)
	defer e.queue.Stop(context.Background())

	body := `{"customerId": "visitor-1", "name": "Ravi", "text": "hello"}`
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/webhooks/website", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queued")

	// The in-process queue runs the chain on goroutines; wait for it.
	require.Eventually(t, func() bool {
		convs, err := e.store.ListConversations(context.Background())
		if err != nil || len(convs) != 1 {
			return false
		}
		msgs, err := e.store.ListMessages(context.Background(), convs[0].ID)
		return err == nil && len(msgs) == 2 // customer message + fallback AI reply
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookEvent_MalformedPayloadIgnored(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/webhooks/website", strings.NewReader(`{{not json`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestVoiceWebhookStub(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/webhooks/voice/events", strings.NewReader(`{"call": "x"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "received")
}

func TestWebhookHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/webhooks/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "whatsapp")
	assert.Contains(t, rec.Body.String(), "website")
	assert.NotContains(t, rec.Body.String(), "instagram")
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	assert.NotEmpty(t, token)

	// Wrong password.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email": "agent@example.com", "password": "wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, e.do(req).Code)

	// Unknown user.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email": "ghost@example.com", "password": "x"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, e.do(req).Code)

	// Missing fields.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, e.do(req).Code)
}

func TestDashboardRequiresAuth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, e.do(req).Code)
}

func (e *testEnv) authedReq(t *testing.T, token, method, target, body string) *http.Request {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestConversationEndpoints(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	ctx := context.Background()

	conv, _, err := e.store.FindOrCreateConversation(ctx, store.ChannelWebsite, "visitor-1", "Ravi")
	require.NoError(t, err)
	require.NoError(t, e.store.AppendMessage(ctx, &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         store.SenderCustomer,
		Content:        "hello",
		CreatedAt:      time.Now(),
	}))

	// List.
	rec := e.do(e.authedReq(t, token, http.MethodGet, "/api/conversations", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), conv.ID)

	// Detail includes messages.
	rec = e.do(e.authedReq(t, token, http.MethodGet, "/api/conversations/"+conv.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail conversationDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, conv.ID, detail.Conversation.ID)
	require.Len(t, detail.Messages, 1)

	// Unknown id.
	rec = e.do(e.authedReq(t, token, http.MethodGet, "/api/conversations/nope", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Summary (fallback synopsis, no AI configured).
	rec = e.do(e.authedReq(t, token, http.MethodGet, "/api/conversations/"+conv.ID+"/summary", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ravi")
}

func TestAgentMessageTakeover(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	ctx := context.Background()

	conv, _, err := e.store.FindOrCreateConversation(ctx, store.ChannelWebsite, "visitor-1", "Ravi")
	require.NoError(t, err)

	rec := e.do(e.authedReq(t, token, http.MethodPost,
		"/api/conversations/"+conv.ID+"/messages", `{"content": "An agent here, how can I help?"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, store.SenderHuman, msg.Sender)
	assert.True(t, msg.Delivered, "website delivery is a no-op success")

	// Replying to an OPEN conversation takes it over.
	got, err := e.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusHuman, got.Status)

	// Empty content rejected.
	rec = e.do(e.authedReq(t, token, http.MethodPost,
		"/api/conversations/"+conv.ID+"/messages", `{"content": ""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Resolved conversations refuse new agent messages.
	require.NoError(t, e.store.UpdateConversationStatus(ctx, conv.ID, store.StatusResolved))
	rec = e.do(e.authedReq(t, token, http.MethodPost,
		"/api/conversations/"+conv.ID+"/messages", `{"content": "too late"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	ctx := context.Background()

	conv, _, err := e.store.FindOrCreateConversation(ctx, store.ChannelWebsite, "visitor-1", "")
	require.NoError(t, err)

	rec := e.do(e.authedReq(t, token, http.MethodPatch,
		"/api/conversations/"+conv.ID+"/status", `{"status": "RESOLVED"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := e.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusResolved, got.Status)

	// Invalid status value.
	rec = e.do(e.authedReq(t, token, http.MethodPatch,
		"/api/conversations/"+conv.ID+"/status", `{"status": "CLOSED"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown conversation.
	rec = e.do(e.authedReq(t, token, http.MethodPatch,
		"/api/conversations/nope/status", `{"status": "OPEN"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAIConnectionTest_Unconfigured(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	rec := e.do(e.authedReq(t, token, http.MethodPost, "/api/ai/test", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"configured":false`)
	assert.Contains(t, rec.Body.String(), `"mode":"fallback"`)
}

func TestWebsocketRequiresToken(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
