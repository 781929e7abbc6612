package chat

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentPDF   AttachmentType = "pdf"
)

// ParseAttachmentType maps a client-supplied type onto the enum. The match is exact.
// Unknown values are a validation failure, never a silent drop.
func ParseAttachmentType(s string) (AttachmentType, error) {
	switch AttachmentType(s) {
	case AttachmentImage:
		return AttachmentImage, nil
	case AttachmentPDF:
		return AttachmentPDF, nil
	default:
		return "", NewValidationError("attachments.type", "unsupported attachment type "+quote(s))
	}
}

// Label is the human readable name used in placeholder text.
func (t AttachmentType) Label() string {
	if t == AttachmentPDF {
		return "PDF"
	}
	return string(t)
}

const DefaultConversationTitle = "New Conversation"

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Attachment struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	MimeType string         `json:"mime_type"`
}

// AttachmentRef is the client-supplied description of an uploaded file.
// It becomes an Attachment once validated.
type AttachmentRef struct {
	ID       string `json:"id"`
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=image pdf"`
	URL      string `json:"url" validate:"required"`
	MimeType string `json:"mime_type" validate:"required_if=Type image"`
}

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	CreatedAt      time.Time    `json:"created_at"`
}

func quote(s string) string {
	return `"` + s + `"`
}
