package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process ConversationStore and UserStore. It backs the
// localhost profile and tests; the mutex gives it the same find-or-create
// atomicity the Postgres partial index provides.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	messages      map[string][]*Message // conversationID -> append order
	users         map[string]*User
	now           Clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		users:         make(map[string]*User),
		now:           time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(c Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = c
}

func (s *MemoryStore) FindOrCreateConversation(_ context.Context, ch Channel, externalID, name string) (*Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.conversations {
		if conv.Channel == ch && conv.CustomerExternalID == externalID && conv.Status != StatusResolved {
			c := *conv
			return &c, false, nil
		}
	}

	now := s.now()
	conv := &Conversation{
		ID:                 uuid.NewString(),
		Channel:            ch,
		CustomerExternalID: externalID,
		CustomerName:       name,
		Status:             StatusOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.conversations[conv.ID] = conv
	c := *conv
	return &c, true, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[m.ConversationID]
	if !ok {
		return ErrNotFound
	}

	cp := *m
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &cp)
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateConversationStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Status = status
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetMessageDelivered(_ context.Context, messageID string, delivered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				m.Delivered = delivered
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (s *MemoryStore) ListConversations(_ context.Context) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		c := *conv
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedMessagesLocked(conversationID), nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, conversationID string, n int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.sortedMessagesLocked(conversationID)
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// sortedMessagesLocked returns copies ascending by CreatedAt; ties keep
// append order (stable sort), matching the Postgres (created_at, id) order.
func (s *MemoryStore) sortedMessagesLocked(conversationID string) []*Message {
	src := s.messages[conversationID]
	out := make([]*Message, 0, len(src))
	for _, m := range src {
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}
