package chatstore

import (
	"context"

	"github.com/go-go-golems/docchat/pkg/chat"
)

// ConversationStore is the relational store behind conversations, messages
// and their attachments. Lookups of absent conversations return chat.ErrNotFound.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string) (chat.Conversation, error)
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) (chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// ListMessages returns messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	// AddMessage stores the message with its attachments and bumps the
	// conversation's updated_at in one step.
	AddMessage(ctx context.Context, conversationID string, role chat.Role, content string, attachments []chat.Attachment) (chat.Message, error)

	Close() error
}

func normalizeTitle(title string) string {
	if title == "" {
		return chat.DefaultConversationTitle
	}
	return title
}
