package webchat

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	EventTurnCompleted = "turn.completed"
	EventTurnFailed    = "turn.failed"
)

// TurnEvent is published once per finished turn.
type TurnEvent struct {
	Kind               string    `json:"kind"`
	SessionID          string    `json:"session_id"`
	ConversationID     string    `json:"conversation_id"`
	UserMessageID      string    `json:"user_message_id,omitempty"`
	AssistantMessageID string    `json:"assistant_message_id,omitempty"`
	Title              string    `json:"title,omitempty"`
	Chunks             int       `json:"chunks"`
	DurationMs         int64     `json:"duration_ms"`
	Error              string    `json:"error,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// TurnEventPublisher writes turn events to a watermill topic. A nil publisher drops them.
type TurnEventPublisher struct {
	pub   message.Publisher
	topic string
	now   func() time.Time
}

func NewTurnEventPublisher(pub message.Publisher, topic string) *TurnEventPublisher {
	return &TurnEventPublisher{pub: pub, topic: topic, now: time.Now}
}

func (p *TurnEventPublisher) PublishTurn(req TurnRequest, res TurnResult) {
	if p == nil || p.pub == nil {
		return
	}
	ev := TurnEvent{
		Kind:               EventTurnCompleted,
		SessionID:          req.SessionID,
		ConversationID:     req.ConversationID,
		UserMessageID:      res.UserMessageID,
		AssistantMessageID: res.AssistantMessageID,
		Title:              res.Title,
		Chunks:             res.Chunks,
		DurationMs:         res.Duration.Milliseconds(),
		Timestamp:          p.now().UTC(),
	}
	if res.Err != nil {
		ev.Kind = EventTurnFailed
		ev.Error = res.Err.Error()
	}
	if err := p.Publish(ev); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("conversation_id", req.ConversationID).Msg("turn event publish failed")
	}
}

func (p *TurnEventPublisher) Publish(ev TurnEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal turn event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", ev.Kind)
	msg.Metadata.Set("conversation_id", ev.ConversationID)
	return errors.Wrapf(p.pub.Publish(p.topic, msg), "publish to %s", p.topic)
}

// DecodeTurnEvent parses a payload produced by Publish.
func DecodeTurnEvent(msg *message.Message) (TurnEvent, error) {
	var ev TurnEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return TurnEvent{}, errors.Wrap(err, "decode turn event")
	}
	return ev, nil
}
