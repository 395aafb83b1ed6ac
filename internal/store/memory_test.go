package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreateConversation_CreatesThenReuses(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, created, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "wa-1", "Asha")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusOpen, conv.Status)
	assert.Equal(t, "Asha", conv.CustomerName)

	again, created, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "wa-1", "Asha")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
}

func TestFindOrCreateConversation_ResolvedIsNotReused(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "wa-1", "Asha")
	require.NoError(t, err)
	require.NoError(t, s.UpdateConversationStatus(ctx, conv.ID, StatusResolved))

	fresh, created, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "wa-1", "Asha")
	require.NoError(t, err)
	assert.True(t, created, "a resolved conversation must not be addressable")
	assert.NotEqual(t, conv.ID, fresh.ID)
}

func TestFindOrCreateConversation_HumanIsReused(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, ChannelWebsite, "web-9", "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateConversationStatus(ctx, conv.ID, StatusHuman))

	same, created, err := s.FindOrCreateConversation(ctx, ChannelWebsite, "web-9", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, same.ID)
}

func TestFindOrCreateConversation_ChannelsAreIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, _, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "same-id", "")
	require.NoError(t, err)
	b, _, err := s.FindOrCreateConversation(ctx, ChannelInstagram, "same-id", "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestFindOrCreateConversation_ConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const racers = 32
	ids := make(chan string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, _, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "racer", "")
			if err != nil {
				t.Error(err)
				return
			}
			ids <- conv.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "concurrent inbound messages must land on one conversation")
}

func TestListMessages_OrderedByCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, ChannelWebsite, "web-1", "")
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Insert out of order; platform timestamps decide the order.
	for _, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		err := s.AppendMessage(ctx, &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Sender:         SenderCustomer,
			Content:        offset.String(),
			CreatedAt:      base.Add(offset),
		})
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestRecentMessages_WindowKeepsTail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, ChannelWebsite, "web-1", "")
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		err := s.AppendMessage(ctx, &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Sender:         SenderCustomer,
			Content:        string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	recent, err := s.RecentMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "f", recent[0].Content)
	assert.Equal(t, "h", recent[2].Content)
}

func TestAppendMessage_BumpsConversationUpdatedAt(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "wa-1", "")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	err = s.AppendMessage(ctx, &Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         SenderCustomer,
		Content:        "hello",
		CreatedAt:      now,
	})
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt)
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendMessage(context.Background(), &Message{
		ID:             uuid.New().String(),
		ConversationID: "nope",
		Sender:         SenderCustomer,
		Content:        "hello",
		CreatedAt:      time.Now(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetMessageDelivered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "wa-1", "")
	require.NoError(t, err)

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         SenderAI,
		Content:        "reply",
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.AppendMessage(ctx, msg))
	require.NoError(t, s.SetMessageDelivered(ctx, msg.ID, true))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, msgs[0].Delivered)

	assert.ErrorIs(t, s.SetMessageDelivered(ctx, "missing", true), ErrNotFound)
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	first, _, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "wa-1", "")
	require.NoError(t, err)
	now = now.Add(time.Minute)
	second, _, err := s.FindOrCreateConversation(ctx, ChannelWhatsApp, "wa-2", "")
	require.NoError(t, err)

	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, second.ID, convs[0].ID)
	assert.Equal(t, first.ID, convs[1].ID)
}

func TestUserStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u := &User{
		ID:           uuid.New().String(),
		Email:        "agent@example.com",
		PasswordHash: "hash",
		Name:         "Agent",
		Role:         "agent",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateUser(ctx, u))

	byEmail, err := s.GetUserByEmail(ctx, "agent@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byID, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, byID.Email)

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
