package chatstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/docchat/pkg/chat"
)

// InMemoryConversationStore mirrors the ordering semantics of the SQLite store.
// It backs tests and the "memory" store driver.
type InMemoryConversationStore struct {
	mu            sync.Mutex
	now           func() time.Time
	seq           int64
	conversations map[string]*inMemConversation
}

type inMemConversation struct {
	conv     chat.Conversation
	seq      int64
	messages []chat.Message
}

var _ ConversationStore = &InMemoryConversationStore{}

func NewInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{
		now:           time.Now,
		conversations: map[string]*inMemConversation{},
	}
}

func (s *InMemoryConversationStore) Close() error { return nil }

func (s *InMemoryConversationStore) CreateConversation(_ context.Context, title string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.seq++
	c := chat.Conversation{
		ID:        uuid.NewString(),
		Title:     normalizeTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[c.ID] = &inMemConversation{conv: c, seq: s.seq}
	return c, nil
}

func (s *InMemoryConversationStore) ListConversations(_ context.Context) ([]chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*inMemConversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].conv.UpdatedAt.Equal(items[j].conv.UpdatedAt) {
			return items[i].conv.UpdatedAt.After(items[j].conv.UpdatedAt)
		}
		return items[i].seq > items[j].seq
	})
	out := make([]chat.Conversation, 0, len(items))
	for _, c := range items {
		out = append(out, c.conv)
	}
	return out, nil
}

func (s *InMemoryConversationStore) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, errors.Wrapf(chat.ErrNotFound, "conversation %s", id)
	}
	return c.conv, nil
}

func (s *InMemoryConversationStore) UpdateTitle(_ context.Context, id, title string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, errors.Wrapf(chat.ErrNotFound, "conversation %s", id)
	}
	c.conv.Title = title
	c.conv.UpdatedAt = s.now().UTC()
	s.seq++
	c.seq = s.seq
	return c.conv, nil
}

func (s *InMemoryConversationStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return errors.Wrapf(chat.ErrNotFound, "conversation %s", id)
	}
	delete(s.conversations, id)
	return nil
}

func (s *InMemoryConversationStore) AddMessage(_ context.Context, conversationID string, role chat.Role, content string, attachments []chat.Attachment) (chat.Message, error) {
	if !role.Valid() {
		return chat.Message{}, chat.NewValidationError("role", "unknown role "+string(role))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return chat.Message{}, errors.Wrapf(chat.ErrNotFound, "conversation %s", conversationID)
	}
	now := s.now().UTC()
	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Attachments:    make([]chat.Attachment, 0, len(attachments)),
		CreatedAt:      now,
	}
	for _, a := range attachments {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		msg.Attachments = append(msg.Attachments, a)
	}
	c.messages = append(c.messages, msg)
	c.conv.UpdatedAt = now
	s.seq++
	c.seq = s.seq
	return cloneMessage(msg), nil
}

func (s *InMemoryConversationStore) ListMessages(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return []chat.Message{}, nil
	}
	out := make([]chat.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func cloneMessage(m chat.Message) chat.Message {
	m.Attachments = append([]chat.Attachment{}, m.Attachments...)
	return m
}
