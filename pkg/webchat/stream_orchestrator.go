package webchat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/chat"
	"github.com/go-go-golems/docchat/pkg/inference"
	"github.com/go-go-golems/docchat/pkg/persistence/chatstore"
)

const maxTitleRunes = 50

// Sender delivers an envelope to whatever connection currently holds sessionID.
type Sender interface {
	Send(sessionID string, env Envelope) error
}

// TurnRequest is one validated chat frame.
type TurnRequest struct {
	SessionID      string
	ConversationID string
	Content        string
	Attachments    []chat.Attachment
}

// TurnResult summarizes a finished turn for metrics and events.
type TurnResult struct {
	UserMessageID      string
	AssistantMessageID string
	Title              string
	Chunks             int
	Duration           time.Duration
	Err                error
}

// TurnRunner executes one chat turn end to end.
type TurnRunner interface {
	RunTurn(ctx context.Context, req TurnRequest) TurnResult
}

// StreamOrchestrator drives one chat turn: history read, user message,
// optional title, streamed reply, assistant message.
type StreamOrchestrator struct {
	store        chatstore.ConversationStore
	generator    inference.Generator
	resolver     Resolver
	sender       Sender
	systemPrompt string
	metrics      *Metrics
	events       *TurnEventPublisher
	now          func() time.Time
}

var _ TurnRunner = &StreamOrchestrator{}

type OrchestratorOption func(*StreamOrchestrator)

func WithSystemPrompt(p string) OrchestratorOption {
	return func(o *StreamOrchestrator) { o.systemPrompt = p }
}

func WithOrchestratorMetrics(m *Metrics) OrchestratorOption {
	return func(o *StreamOrchestrator) { o.metrics = m }
}

func WithTurnEvents(p *TurnEventPublisher) OrchestratorOption {
	return func(o *StreamOrchestrator) { o.events = p }
}

func NewStreamOrchestrator(store chatstore.ConversationStore, generator inference.Generator, resolver Resolver, sender Sender, opts ...OrchestratorOption) *StreamOrchestrator {
	o := &StreamOrchestrator{
		store:        store,
		generator:    generator,
		resolver:     resolver,
		sender:       sender,
		systemPrompt: inference.SystemPrompt,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTurn sends message_saved, title_updated (first turn only), stream_start,
// stream_chunk*, then stream_end or error. It never returns early without a
// final frame once the user message is stored.
func (o *StreamOrchestrator) RunTurn(ctx context.Context, req TurnRequest) (res TurnResult) {
	started := o.now()
	logger := log.With().
		Str("component", "webchat").
		Str("session_id", req.SessionID).
		Str("conversation_id", req.ConversationID).
		Logger()

	defer func() {
		res.Duration = o.now().Sub(started)
		result := "completed"
		if res.Err != nil {
			result = "failed"
		}
		o.metrics.turnFinished(result, res.Duration)
		o.events.PublishTurn(req, res)
	}()

	history, err := o.store.ListMessages(ctx, req.ConversationID)
	if err != nil {
		return o.fail(logger, req, res, err)
	}

	userMsg, err := o.store.AddMessage(ctx, req.ConversationID, chat.RoleUser, req.Content, req.Attachments)
	if err != nil {
		return o.fail(logger, req, res, err)
	}
	res.UserMessageID = userMsg.ID
	o.send(logger, req.SessionID, Envelope{Type: TypeMessageSaved, Data: MessageSavedData{
		ID:      userMsg.ID,
		Role:    chat.RoleUser,
		Content: userMsg.Content,
	}})

	if len(history) == 0 {
		res.Title = o.updateTitle(ctx, logger, req)
	}

	current := o.currentTurn(ctx, req)

	o.send(logger, req.SessionID, streamStartEnvelope())

	var sb strings.Builder
	var genErr error
	for fragment, err := range o.generator.StreamCompletion(ctx, o.systemPrompt, chat.HistoryTurns(history), current) {
		if err != nil {
			genErr = err
			break
		}
		sb.WriteString(fragment)
		res.Chunks++
		o.metrics.chunkForwarded()
		o.send(logger, req.SessionID, Envelope{Type: TypeStreamChunk, Data: StreamChunkData{Content: fragment}})
	}
	if genErr != nil {
		return o.fail(logger, req, res, genErr)
	}

	full := sb.String()
	assistantMsg, err := o.store.AddMessage(ctx, req.ConversationID, chat.RoleAssistant, full, nil)
	if err != nil {
		return o.fail(logger, req, res, err)
	}
	res.AssistantMessageID = assistantMsg.ID
	o.send(logger, req.SessionID, Envelope{Type: TypeStreamEnd, Data: StreamEndData{
		ID:      assistantMsg.ID,
		Content: full,
	}})
	logger.Debug().Int("chunks", res.Chunks).Int("chars", len(full)).Msg("turn completed")
	return res
}

func (o *StreamOrchestrator) fail(logger zerolog.Logger, req TurnRequest, res TurnResult, err error) TurnResult {
	res.Err = err
	logger.Error().Err(err).Int("chunks", res.Chunks).Msg("turn failed")
	o.send(logger, req.SessionID, errorEnvelope(err))
	return res
}

// updateTitle is best effort: failures are logged and the turn goes on.
func (o *StreamOrchestrator) updateTitle(ctx context.Context, logger zerolog.Logger, req TurnRequest) string {
	raw, err := o.generator.GenerateTitle(ctx, req.Content)
	if err != nil {
		o.metrics.titleGenerated("failed")
		logger.Warn().Err(err).Msg("title generation failed")
		return ""
	}
	title := TruncateTitle(raw)
	if title == "" {
		o.metrics.titleGenerated("empty")
		logger.Warn().Msg("title generation returned empty text")
		return ""
	}
	if _, err := o.store.UpdateTitle(ctx, req.ConversationID, title); err != nil {
		o.metrics.titleGenerated("failed")
		logger.Warn().Err(err).Msg("title update failed")
		return ""
	}
	o.metrics.titleGenerated("ok")
	o.send(logger, req.SessionID, Envelope{Type: TypeTitleUpdated, Data: TitleUpdatedData{
		ConversationID: req.ConversationID,
		Title:          title,
	}})
	return title
}

// currentTurn puts the text first, then one part per attachment in order.
func (o *StreamOrchestrator) currentTurn(ctx context.Context, req TurnRequest) chat.Turn {
	turn := chat.Turn{Role: chat.RoleUser}
	if req.Content != "" {
		turn.Parts = append(turn.Parts, chat.TextPart(req.Content))
	}
	for _, a := range req.Attachments {
		res := o.resolver.Resolve(ctx, a)
		turn.Parts = append(turn.Parts, res.Part)
	}
	return turn
}

func (o *StreamOrchestrator) send(logger zerolog.Logger, sessionID string, env Envelope) {
	if err := o.sender.Send(sessionID, env); err != nil {
		logger.Warn().Err(err).Str("type", env.Type).Msg("send failed")
	}
}

// TruncateTitle trims whitespace and keeps at most 50 characters.
func TruncateTitle(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes])
	}
	return s
}
