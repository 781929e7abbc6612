package webchat

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/go-go-golems/docchat/pkg/chat"
)

// Inbound frame types.
const (
	TypeChat = "chat"
	TypePing = "ping"
)

// Outbound frame types.
const (
	TypePong         = "pong"
	TypeMessageSaved = "message_saved"
	TypeTitleUpdated = "title_updated"
	TypeStreamStart  = "stream_start"
	TypeStreamChunk  = "stream_chunk"
	TypeStreamEnd    = "stream_end"
	TypeError        = "error"
)

// Envelope is one outbound frame: {"type": ..., "data": {...}}.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type MessageSavedData struct {
	ID      string    `json:"id"`
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
}

type TitleUpdatedData struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

type StreamChunkData struct {
	Content string `json:"content"`
}

type StreamEndData struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type ErrorData struct {
	Message string `json:"message"`
}

type emptyData struct{}

func pongEnvelope() Envelope        { return Envelope{Type: TypePong, Data: emptyData{}} }
func streamStartEnvelope() Envelope { return Envelope{Type: TypeStreamStart, Data: emptyData{}} }

func errorEnvelope(err error) Envelope {
	return Envelope{Type: TypeError, Data: ErrorData{Message: err.Error()}}
}

// ChatRequest is the inbound chat frame. Fields sit next to "type" at the top level.
type ChatRequest struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id" validate:"required"`
	Content        string               `json:"content"`
	Attachments    []chat.AttachmentRef `json:"attachments" validate:"dive"`
}

var envelopeValidate *validator.Validate

func init() {
	envelopeValidate = validator.New(validator.WithRequiredStructEnabled())
	envelopeValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// frameType peeks at the "type" field. A frame that is not a JSON object is
// a validation error; a missing or non-string type yields "".
func frameType(data []byte) (string, error) {
	var head struct {
		Type any `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", chat.NewValidationError("", "frame is not a JSON object")
	}
	t, _ := head.Type.(string)
	return t, nil
}

// DecodeChatRequest parses and validates a chat frame and converts its
// attachment references. Any failure is a *chat.ValidationError.
func DecodeChatRequest(data []byte) (ChatRequest, []chat.Attachment, error) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) {
			return ChatRequest{}, nil, chat.NewValidationError(typeErr.Field, "must be a "+typeErr.Type.String())
		}
		return ChatRequest{}, nil, chat.NewValidationError("", "malformed chat frame")
	}
	if err := envelopeValidate.Struct(&req); err != nil {
		return ChatRequest{}, nil, translateValidation(err)
	}

	attachments := make([]chat.Attachment, 0, len(req.Attachments))
	for i, ref := range req.Attachments {
		typ, err := chat.ParseAttachmentType(ref.Type)
		if err != nil {
			return ChatRequest{}, nil, chat.NewValidationError(fmt.Sprintf("attachments[%d].type", i), "unsupported attachment type "+fmt.Sprintf("%q", ref.Type))
		}
		attachments = append(attachments, chat.Attachment{
			ID:       ref.ID,
			Name:     ref.Name,
			Type:     typ,
			URL:      ref.URL,
			MimeType: ref.MimeType,
		})
	}
	return req, attachments, nil
}

func translateValidation(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return chat.NewValidationError("", err.Error())
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return chat.NewValidationError(field, "is required")
	case "oneof":
		if strings.HasSuffix(field, ".type") {
			return chat.NewValidationError(field, fmt.Sprintf("unsupported attachment type %q", fe.Value()))
		}
		return chat.NewValidationError(field, fmt.Sprintf("must be one of %s", fe.Param()))
	case "required_if":
		return chat.NewValidationError(field, "is required for image attachments")
	default:
		return chat.NewValidationError(field, "failed "+fe.Tag())
	}
}
